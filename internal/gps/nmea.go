package gps

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
)

// NMEAProvider reads standard NMEA 0183 sentences from a UART GPS.
// Compatible with u-blox NEO-M8N and any standard NMEA GPS.
type NMEAProvider struct {
	portPath string
	baudRate int
	port     serial.Port
	scanner  *bufio.Scanner
	mu       sync.Mutex
	last     Data
	date     string // ddmmyy from the latest RMC
}

// NMEAConfig holds configuration for the NMEA GPS provider.
type NMEAConfig struct {
	PortPath string `yaml:"port_path" json:"portPath"`
	BaudRate int    `yaml:"baud_rate" json:"baudRate"`
}

// NewNMEA creates a new NMEA GPS provider.
func NewNMEA(cfg NMEAConfig) *NMEAProvider {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 9600 // Standard NMEA default
	}
	return &NMEAProvider{
		portPath: cfg.PortPath,
		baudRate: cfg.BaudRate,
	}
}

// newNMEAReader reads sentences from r instead of a serial port.
func newNMEAReader(r io.Reader) *NMEAProvider {
	return &NMEAProvider{portPath: "reader", scanner: bufio.NewScanner(r)}
}

func (n *NMEAProvider) Name() string { return "NMEA GPS" }

func (n *NMEAProvider) Connect() error {
	mode := &serial.Mode{
		BaudRate: n.baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(n.portPath, mode)
	if err != nil {
		return fmt.Errorf("gps: failed to open %s: %w", n.portPath, err)
	}
	if err := port.SetReadTimeout(200 * time.Millisecond); err != nil {
		log.Printf("[gps] set read timeout on %s: %v", n.portPath, err)
	}

	n.mu.Lock()
	n.port = port
	n.scanner = bufio.NewScanner(port)
	n.mu.Unlock()
	log.Printf("[gps] connected to %s at %d baud", n.portPath, n.baudRate)
	return nil
}

func (n *NMEAProvider) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.port != nil {
		err := n.port.Close()
		n.port = nil
		n.scanner = nil
		return err
	}
	return nil
}

// RequestPermission checks that the serial device can be opened by this
// process. A missing device is not a permission problem: it may be plugged
// in later, so it reports a pending prompt.
func (n *NMEAProvider) RequestPermission(ctx context.Context) (Permission, error) {
	f, err := os.OpenFile(n.portPath, os.O_RDWR, 0)
	switch {
	case err == nil:
		f.Close()
		return PermissionGranted, nil
	case errors.Is(err, fs.ErrPermission):
		return PermissionDenied, nil
	case errors.Is(err, fs.ErrNotExist):
		return PermissionPrompt, nil
	default:
		return "", fmt.Errorf("gps: check %s: %w", n.portPath, err)
	}
}

// Read consumes sentences until both an RMC and a GGA have been seen, or the
// line budget for one poll runs out, and returns the merged fix.
func (n *NMEAProvider) Read() (*Data, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.scanner == nil {
		last := n.last
		return &last, &LocationError{Code: CodePositionUnavailable, Err: errors.New("not connected")}
	}

	var seen uint8
	const rmc, gga = 1, 2
	for budget := maxLinesPerRead; budget > 0 && seen != rmc|gga && n.scanner.Scan(); budget-- {
		s, ok := parseSentence(n.scanner.Text())
		if !ok {
			continue
		}
		switch s.kind {
		case "RMC":
			n.applyRMC(s.fields)
			seen |= rmc
		case "GGA":
			n.applyGGA(s.fields)
			seen |= gga
		}
	}

	last := n.last
	return &last, nil
}

// maxLinesPerRead bounds one Read; a 1 Hz receiver emits roughly 6-10 lines a cycle.
const maxLinesPerRead = 20

// sentence is one checksummed NMEA 0183 line, e.g. $GNRMC,...*hh.
type sentence struct {
	talker string   // GP, GN, GL, GA ...
	kind   string   // RMC, GGA ...
	fields []string // data fields after the address
}

// parseSentence verifies the checksum and splits the line. Any talker is
// accepted so multi-constellation receivers work.
func parseSentence(line string) (sentence, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") || !verifyChecksum(line) {
		return sentence{}, false
	}
	body, _, _ := strings.Cut(line[1:], "*")
	addr, data, _ := strings.Cut(body, ",")
	if len(addr) != 5 {
		return sentence{}, false
	}
	return sentence{talker: addr[:2], kind: addr[2:], fields: strings.Split(data, ",")}, true
}

// applyRMC merges a recommended minimum sentence:
// time, status, lat, N/S, lng, E/W, knots, course, ddmmyy, ...
func (n *NMEAProvider) applyRMC(f []string) {
	if len(f) < 9 {
		return
	}
	n.last.Valid = f[1] == "A"
	if f[8] != "" {
		n.date = f[8]
	}
	if ts, ok := parseNMEATime(n.date, f[0]); ok {
		n.last.Time = ts
	}
	if !n.last.Valid {
		return
	}

	n.last.Latitude = nmeaDegrees(f[2], f[3])
	n.last.Longitude = nmeaDegrees(f[4], f[5])
	if knots, err := strconv.ParseFloat(f[6], 64); err == nil {
		n.last.Speed = knots * 1.852
	}
	if course, err := strconv.ParseFloat(f[7], 64); err == nil {
		n.last.Heading = course
	}
}

// applyGGA merges fix quality, satellites, HDOP and altitude:
// time, lat, N/S, lng, E/W, quality, sats, hdop, alt, M, ...
func (n *NMEAProvider) applyGGA(f []string) {
	if len(f) < 10 {
		return
	}
	setInt(&n.last.FixQuality, f[5])
	setInt(&n.last.Satellites, f[6])
	setFloat(&n.last.HDOP, f[7])
	setFloat(&n.last.Altitude, f[8])
}

func setInt(dst *int, field string) {
	if v, err := strconv.Atoi(field); err == nil {
		*dst = v
	}
}

func setFloat(dst *float64, field string) {
	if v, err := strconv.ParseFloat(field, 64); err == nil {
		*dst = v
	}
}

// parseNMEATime combines an RMC ddmmyy date and hhmmss.ss time into UTC.
// Two-digit years pivot at 80.
func parseNMEATime(date, clock string) (time.Time, bool) {
	if len(date) != 6 || len(clock) < 6 {
		return time.Time{}, false
	}
	d, err := time.Parse("020106", date)
	if err != nil {
		return time.Time{}, false
	}
	hh, err1 := strconv.Atoi(clock[0:2])
	mm, err2 := strconv.Atoi(clock[2:4])
	secs, err3 := strconv.ParseFloat(clock[4:], 64)
	if err := errors.Join(err1, err2, err3); err != nil {
		return time.Time{}, false
	}
	year := d.Year()%100 + 2000
	if year >= 2080 {
		year -= 100
	}
	whole, frac := math.Modf(secs)
	return time.Date(year, d.Month(), d.Day(), hh, mm, int(whole), int(math.Round(frac*1e9)), time.UTC), true
}

// nmeaDegrees converts a [d]ddmm.mmmm field and hemisphere to signed decimal degrees.
func nmeaDegrees(raw, hemi string) float64 {
	if raw == "" || hemi == "" {
		return 0
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0
	}
	deg := math.Trunc(v / 100)
	deg += (v - deg*100) / 60
	if hemi == "S" || hemi == "W" {
		return -deg
	}
	return deg
}

// verifyChecksum compares the two hex digits after '*' with the XOR of the
// characters between '$' and '*'.
func verifyChecksum(line string) bool {
	star := strings.LastIndexByte(line, '*')
	if star < 1 || len(line) < star+3 {
		return false
	}
	want, err := strconv.ParseUint(line[star+1:star+3], 16, 8)
	if err != nil {
		return false
	}
	return byte(want) == nmeaChecksum(line[1:star])
}

func nmeaChecksum(body string) (sum byte) {
	for i := 0; i < len(body); i++ {
		sum ^= body[i]
	}
	return sum
}
