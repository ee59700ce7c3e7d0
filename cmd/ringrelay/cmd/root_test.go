package cmd

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssargent/ringrelay/pkg/codec"
	"github.com/ssargent/ringrelay/pkg/config"
	"github.com/ssargent/ringrelay/pkg/di"
	errs "github.com/ssargent/ringrelay/pkg/errors"
	"github.com/ssargent/ringrelay/pkg/ringbuf"
	"github.com/ssargent/ringrelay/pkg/shm"
)

// testEnv gives each test its own configuration file and shared memory directory.
type testEnv struct {
	config string
	shmDir string
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	env := testEnv{
		config: filepath.Join(dir, "config.yaml"),
		shmDir: filepath.Join(dir, "shm"),
	}
	cfg := config.DefaultConfig()
	cfg.Logging.Level = "error"
	require.NoError(t, config.SaveConfig(cfg, env.config))
	return env
}

func (e testEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	SetContainer(di.NewContainer())

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(append([]string{"--config", e.config, "--shm-dir", e.shmDir}, args...))
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestConfigInit(t *testing.T) {
	env := newTestEnv(t)
	path := filepath.Join(t.TempDir(), "ringrelay.yaml")

	out, err := env.run(t, "config", "init", path, "--api-key")
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote configuration")

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Metrics.APIKey, 64)

	out, err = env.run(t, "config", "init", path)
	require.NoError(t, err)
	assert.Contains(t, out, "already exists")
}

func TestRingCommands(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.run(t, "ring", "create", "events", "1024")
	require.NoError(t, err)
	assert.Contains(t, out, "Created ring buffer events with 1024 words")

	out, err = env.run(t, "ring", "create", "events", "4096")
	require.NoError(t, err)
	assert.Contains(t, out, "already exists with 1024 words")

	out, err = env.run(t, "ring", "stat", "events")
	require.NoError(t, err)
	assert.Contains(t, out, `"capacity_words": 1024`)

	_, err = env.run(t, "ring", "rm", "events")
	require.NoError(t, err)
	assert.False(t, shm.Exists("events", shm.WithDir(env.shmDir)))

	_, err = env.run(t, "ring", "stat", "events")
	assert.ErrorIs(t, err, shm.ErrNotFound)
}

func TestRelayArgumentErrors(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.run(t, "ring", "create", "events", "1024")
	require.NoError(t, err)

	tests := []struct {
		name string
		args []string
	}{
		{"bad port", []string{"push", "events", "port", "flows", "0"}},
		{"bad id", []string{"pull", "events", "127.0.0.1", "9000", "flows", "x"}},
		{"missing ring", []string{"rb2file", "nope", filepath.Join(t.TempDir(), "run.dat")}},
		{"missing file", []string{"file2rb", "events", filepath.Join(t.TempDir(), "missing.dat")}},
		{"too few args", []string{"fanout", "events"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.run(t, tt.args...)
			assert.Error(t, err)
		})
	}
}

func TestFanOutCommand(t *testing.T) {
	env := newTestEnv(t)
	dir := shm.WithDir(env.shmDir)

	src, err := ringbuf.Create("src", 4096, dir)
	require.NoError(t, err)
	defer src.Close()

	c := codec.NewRecordCodec()
	for i := 0; i < 4; i++ {
		rec, err := c.Encode(codec.TypeEvent, []byte{byte(i)})
		require.NoError(t, err)
		ok, err := src.TryEnqueueBytes(rec.Padded())
		require.NoError(t, err)
		require.True(t, ok)
	}
	ok, err := src.TryEnqueueBytes(c.Terminate().Padded())
	require.NoError(t, err)
	require.True(t, ok)

	_, err = env.run(t, "fanout", "src", "a", "b", "--capacity", "4096")
	require.NoError(t, err)

	for _, name := range []string{"a", "b"} {
		rb, err := ringbuf.Attach(name, dir)
		require.NoError(t, err)
		st, err := rb.Stats()
		require.NoError(t, err)
		assert.Equal(t, uint32(3), st.Records, "ring %s holds two events and a terminate", name)
		rb.Close()
	}
}

func TestStatsCommand(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.run(t, "stats", "flows")
	assert.ErrorIs(t, err, shm.ErrNotFound)
}

func TestServiceInstallDryRun(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.run(t, "service", "install", "reader", "--dry-run", "--user", "daq",
		"--", "push", "events", "9000", "flows", "0")
	require.NoError(t, err)
	assert.Contains(t, out, "Description=ringrelay reader")
	assert.Contains(t, out, "User=daq")
	assert.Contains(t, out, "--config "+env.config+" push events 9000 flows 0")
	assert.Contains(t, out, "ReadWritePaths="+env.shmDir)
	assert.Contains(t, out, "Restart=on-failure")

	_, err = env.run(t, "service", "install", "reader", "--dry-run", "--", "catalog", "list", "x")
	assert.ErrorIs(t, err, errs.ErrInvalidConfig)
}
