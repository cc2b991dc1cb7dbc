package gps

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	rmcMunich = "$GPRMC,123519.50,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W*41"
	ggaMunich = "$GPGGA,123519.50,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*6C"
	rmcVoid   = "$GPRMC,123520.00,V,,,,,,,230394,,*17"
	rmcSydney = "$GNRMC,000001.00,A,3345.000,S,15112.000,W,0.0,0.0,010125,,*23"
)

func TestVerifyChecksum(t *testing.T) {
	assert.True(t, verifyChecksum(rmcMunich))
	assert.True(t, verifyChecksum(ggaMunich))
	assert.False(t, verifyChecksum(strings.Replace(rmcMunich, "*41", "*42", 1)))
	assert.False(t, verifyChecksum("$GPRMC,no,checksum"))
	assert.False(t, verifyChecksum("$GPRMC*4"))
}

func TestNMEADegrees(t *testing.T) {
	assert.InDelta(t, 48.1173, nmeaDegrees("4807.038", "N"), 1e-4)
	assert.InDelta(t, -11.5166667, nmeaDegrees("01131.000", "W"), 1e-6)
	assert.Zero(t, nmeaDegrees("", "N"))
	assert.Zero(t, nmeaDegrees("abc", "N"))
}

func TestParseNMEATime(t *testing.T) {
	ts, ok := parseNMEATime("230394", "123519.50")
	require.True(t, ok)
	assert.Equal(t, time.Date(1994, 3, 23, 12, 35, 19, 500_000_000, time.UTC), ts)

	ts, ok = parseNMEATime("010125", "000001.00")
	require.True(t, ok)
	assert.Equal(t, 2025, ts.Year())

	_, ok = parseNMEATime("", "123519")
	assert.False(t, ok)
}

func TestNMEARead(t *testing.T) {
	input := strings.Join([]string{"garbage", rmcMunich, ggaMunich, ""}, "\r\n")
	n := newNMEAReader(strings.NewReader(input))

	d, err := n.Read()
	require.NoError(t, err)
	assert.True(t, d.Valid)
	assert.InDelta(t, 48.1173, d.Latitude, 1e-4)
	assert.InDelta(t, 11.5166667, d.Longitude, 1e-6)
	assert.InDelta(t, 22.4*1.852, d.Speed, 1e-9)
	assert.Equal(t, 8, d.Satellites)
	assert.Equal(t, 1, d.FixQuality)
	assert.InDelta(t, 0.9, d.HDOP, 1e-9)

	s, err := d.Sample()
	require.NoError(t, err)
	assert.Equal(t, time.Date(1994, 3, 23, 12, 35, 19, 500_000_000, time.UTC).UnixMilli(), s.Timestamp)
	assert.InDelta(t, 4.5, s.Accuracy, 1e-9)
}

func TestNMEARead_SouthWest(t *testing.T) {
	n := newNMEAReader(strings.NewReader(rmcSydney + "\n"))
	d, err := n.Read()
	require.NoError(t, err)
	assert.InDelta(t, -33.75, d.Latitude, 1e-9)
	assert.InDelta(t, -151.2, d.Longitude, 1e-9)
}

func TestNMEARead_VoidFixIsUnavailable(t *testing.T) {
	n := newNMEAReader(strings.NewReader(rmcVoid + "\n"))
	d, err := n.Read()
	require.NoError(t, err)
	assert.False(t, d.Valid)

	_, err = d.Sample()
	assert.ErrorIs(t, err, ErrPositionUnavailable)
	assert.Equal(t, CodePositionUnavailable, CodeOf(err))
}

func TestNMEARead_NotConnected(t *testing.T) {
	n := NewNMEA(NMEAConfig{PortPath: "/dev/null-gps"})
	_, err := n.Read()
	assert.ErrorIs(t, err, ErrPositionUnavailable)
}

func TestNMEARequestPermission_MissingDevice(t *testing.T) {
	n := NewNMEA(NMEAConfig{PortPath: t.TempDir() + "/ttyNONE"})
	p, err := n.RequestPermission(t.Context())
	require.NoError(t, err)
	assert.Equal(t, PermissionPrompt, p)
	assert.True(t, p.Allowed())
}

func TestParseSentence(t *testing.T) {
	s, ok := parseSentence("  " + ggaMunich + "\r")
	require.True(t, ok)
	assert.Equal(t, "GP", s.talker)
	assert.Equal(t, "GGA", s.kind)
	assert.Equal(t, "545.4", s.fields[8])

	_, ok = parseSentence("GPGGA,1,2*00")
	assert.False(t, ok)
}
