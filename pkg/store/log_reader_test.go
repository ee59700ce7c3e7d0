package store

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssargent/ringrelay/pkg/codec"
)

func writeRecords(t *testing.T, config LogWriterConfig, n int) []string {
	t.Helper()
	writer, err := NewLogWriter(config)
	require.NoError(t, err)

	var payloads []string
	for i := 0; i < n; i++ {
		p := fmt.Sprintf("record-%04d-%s", i, string(make([]byte, i%37)))
		payloads = append(payloads, p)
		_, err := writer.Put(event(t, p))
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())
	return payloads
}

func TestNewLogReader_NonExistentFile(t *testing.T) {
	reader, err := NewLogReader(LogReaderConfig{FilePath: "/non/existent/file.dat"})
	assert.Error(t, err)
	assert.Nil(t, reader)
}

func TestLogReader_ReadNext_EOF(t *testing.T) {
	filePath := filepath.Join(t.TempDir(), "empty.dat")
	require.NoError(t, os.WriteFile(filePath, []byte{}, 0600))

	reader, err := NewLogReader(LogReaderConfig{FilePath: filePath})
	require.NoError(t, err)
	defer reader.Close()

	_, err = reader.ReadNext()
	assert.Equal(t, io.EOF, err)
}

func TestLogReader_AcrossSegments(t *testing.T) {
	for _, name := range []string{"run.dat", "run.gz"} {
		t.Run(name, func(t *testing.T) {
			base := filepath.Join(t.TempDir(), name)
			payloads := writeRecords(t, LogWriterConfig{FilePath: base, MaxSegmentSize: 2048}, 100)
			segments := ListSegments(base)
			require.Greater(t, len(segments), 3)

			reader, err := NewLogReader(LogReaderConfig{FilePath: base})
			require.NoError(t, err)
			defer reader.Close()

			for i, want := range payloads {
				rec, err := reader.ReadNext()
				require.NoError(t, err, "record %d", i)
				assert.Equal(t, want, string(rec.Payload()))
				assert.Equal(t, codec.TypeEvent, rec.Type())
			}
			_, err = reader.ReadNext()
			assert.Equal(t, io.EOF, err)
			assert.Equal(t, len(segments)-1, reader.Segment())
			assert.Equal(t, int64(100), reader.Records())
		})
	}
}

func TestLogReader_CompressedIsSmaller(t *testing.T) {
	dir := t.TempDir()
	plain := filepath.Join(dir, "plain.dat")
	packed := filepath.Join(dir, "packed.gz")

	writeRecords(t, LogWriterConfig{FilePath: plain}, 200)
	writeRecords(t, LogWriterConfig{FilePath: packed}, 200)

	pi, err := os.Stat(plain)
	require.NoError(t, err)
	gi, err := os.Stat(packed)
	require.NoError(t, err)
	assert.Less(t, gi.Size(), pi.Size())
}

func TestLogReader_TruncatedRecord(t *testing.T) {
	base := filepath.Join(t.TempDir(), "run.dat")
	writeRecords(t, LogWriterConfig{FilePath: base}, 3)

	info, err := os.Stat(base)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(base, info.Size()-5))

	reader, err := NewLogReader(LogReaderConfig{FilePath: base})
	require.NoError(t, err)
	defer reader.Close()

	for i := 0; i < 2; i++ {
		_, err := reader.ReadNext()
		require.NoError(t, err)
	}
	_, err = reader.ReadNext()
	assert.ErrorIs(t, err, ErrCorruption)
}

func TestLogReader_CorruptSize(t *testing.T) {
	base := filepath.Join(t.TempDir(), "run.dat")
	hdr := make([]byte, codec.HeaderSize)
	binary.LittleEndian.PutUint32(hdr, 12)
	require.NoError(t, os.WriteFile(base, hdr, 0600))

	reader, err := NewLogReader(LogReaderConfig{FilePath: base})
	require.NoError(t, err)
	defer reader.Close()

	_, err = reader.ReadNext()
	assert.ErrorIs(t, err, ErrCorruption)
	assert.ErrorIs(t, err, codec.ErrInvalidSize)
}

func TestLogReader_Iterator(t *testing.T) {
	base := filepath.Join(t.TempDir(), "run.dat")
	payloads := writeRecords(t, LogWriterConfig{FilePath: base, MaxSegmentSize: 512}, 20)

	reader, err := NewLogReader(LogReaderConfig{FilePath: base})
	require.NoError(t, err)
	defer reader.Close()

	it := reader.Iterator()
	defer it.Close()

	var got []string
	for it.Next() {
		got = append(got, string(it.Record().Payload()))
	}
	require.NoError(t, it.Err())
	assert.Equal(t, payloads, got)
}

func TestLogReader_ReadAfterClose(t *testing.T) {
	base := filepath.Join(t.TempDir(), "run.dat")
	writeRecords(t, LogWriterConfig{FilePath: base}, 1)

	reader, err := NewLogReader(LogReaderConfig{FilePath: base})
	require.NoError(t, err)
	require.NoError(t, reader.Close())
	require.NoError(t, reader.Close())

	_, err = reader.ReadNext()
	assert.ErrorIs(t, err, ErrClosed)
}
