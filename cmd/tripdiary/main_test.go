package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaunagostinho/tripdiary/internal/logger"
	"github.com/shaunagostinho/tripdiary/internal/server"
	"github.com/shaunagostinho/tripdiary/internal/store"
	"github.com/shaunagostinho/tripdiary/internal/trip"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRetry_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	ok := retry(context.Background(), "test", func() error {
		calls++
		if calls < 3 {
			return errors.New("not yet")
		}
		return nil
	}, 10, time.Millisecond, 4*time.Millisecond)
	assert.True(t, ok)
	assert.Equal(t, 3, calls)
}

func TestRetry_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	ok := retry(ctx, "test", func() error {
		calls++
		cancel()
		return errors.New("down")
	}, 10, time.Hour, time.Hour)
	assert.False(t, ok)
	assert.Equal(t, 1, calls)
}

func TestOpenQueue_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := server.LoadConfig(writeConfig(t, "queue:\n  type: redis\n  redis_addr: "+mr.Addr()+"\n  redis_key: test:pending\n"))

	q, closeQueue, err := openQueue(context.Background(), cfg)
	require.NoError(t, err)
	defer closeQueue()

	require.IsType(t, &store.RedisQueue{}, q)
	require.NoError(t, q.Append(context.Background(), trip.DetectedTrip{Mode: trip.ModeWalk}))
	assert.True(t, mr.Exists("test:pending"))
}

func TestOpenQueue_RedisUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	cfg := server.LoadConfig(writeConfig(t, "queue:\n  type: redis\n  redis_addr: "+addr+"\n"))

	_, _, err := openQueue(context.Background(), cfg)
	assert.Error(t, err)
}

func TestOpenRemote_NoDatabase(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	cfg := server.LoadConfig(writeConfig(t, "gps:\n  type: demo\n"))
	remote, closeRemote, err := openRemote(context.Background(), cfg)
	require.NoError(t, err)
	defer closeRemote()
	assert.Nil(t, remote)
}

func TestOpenPublisher_Disabled(t *testing.T) {
	cfg := server.LoadConfig(writeConfig(t, "events:\n  type: none\n"))
	pub, err := openPublisher(cfg)
	require.NoError(t, err)
	assert.Nil(t, pub)
}

func TestTokenCommand(t *testing.T) {
	dir := t.TempDir()
	tokenFile := filepath.Join(dir, "token")
	path := writeConfig(t, "remote:\n  jwt_secret: s3cret\n  access_token_file: "+tokenFile+"\n")

	out, err := execute(t, "--config", path, "token", "user-7", "--email", "a@example.com")
	require.NoError(t, err)
	assert.Contains(t, out, "signed in as user-7")

	auth := store.NewTokenAuth("s3cret", tokenFile, "")
	user, err := auth.CurrentUser(context.Background())
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "user-7", user.ID)
	assert.Equal(t, "a@example.com", user.Email)
}

func TestTokenCommand_NoSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	path := writeConfig(t, "gps:\n  type: demo\n")
	_, err := execute(t, "--config", path, "token", "user-7")
	assert.ErrorContains(t, err, "jwt_secret")
}

func TestReplayCommand(t *testing.T) {
	dir := t.TempDir()
	rec := logger.New(logger.Config{Enabled: true, Path: dir})
	base := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC).UnixMilli()
	for _, s := range []trip.PositionSample{
		{Latitude: 43.6532, Longitude: -79.3832, Timestamp: base},
		{Latitude: 43.6559, Longitude: -79.3832, Timestamp: base + 60_000},
		{Latitude: 43.65592, Longitude: -79.3832, Timestamp: base + 7*60_000},
	} {
		rec.Record(s)
	}
	logFile := rec.CurrentFile()
	rec.Close()
	require.NotEmpty(t, logFile)

	path := writeConfig(t, "gps:\n  type: demo\n")
	out, err := execute(t, "--config", path, "replay", logFile)
	require.NoError(t, err)
	assert.Contains(t, out, "bus")
	assert.True(t, strings.HasSuffix(strings.TrimSpace(out), "3 samples, 1 trips"), out)
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, Version)
}
