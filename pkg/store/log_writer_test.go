package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssargent/ringrelay/pkg/codec"
)

func event(t *testing.T, payload string) *codec.Record {
	t.Helper()
	rec, err := codec.NewRecordCodec().Encode(codec.TypeEvent, []byte(payload))
	require.NoError(t, err)
	return rec
}

func TestNewLogWriter(t *testing.T) {
	tmpDir := t.TempDir()
	filePath := filepath.Join(tmpDir, "run.dat")

	writer, err := NewLogWriter(LogWriterConfig{FilePath: filePath})
	require.NoError(t, err)
	assert.NotNil(t, writer)

	assert.FileExists(t, filePath)
	assert.Equal(t, int64(0), writer.Size())
	assert.Equal(t, filePath, writer.Path())

	assert.NoError(t, writer.Close())
	assert.NoError(t, writer.Close())
}

func TestNewLogWriter_DirectoryCreation(t *testing.T) {
	nestedDir := filepath.Join(t.TempDir(), "nested", "deep", "path")

	writer, err := NewLogWriter(LogWriterConfig{FilePath: filepath.Join(nestedDir, "run.dat")})
	require.NoError(t, err)
	assert.DirExists(t, nestedDir)
	assert.NoError(t, writer.Close())
}

func TestNewLogWriter_InvalidPath(t *testing.T) {
	writer, err := NewLogWriter(LogWriterConfig{FilePath: "/proc/invalid/path/run.dat"})
	assert.Error(t, err)
	assert.Nil(t, writer)
}

func TestNewLogWriter_RemovesStaleSegments(t *testing.T) {
	base := filepath.Join(t.TempDir(), "run.dat")
	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(SegmentPath(base, i), []byte("old"), 0600))
	}

	writer, err := NewLogWriter(LogWriterConfig{FilePath: base})
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	assert.Equal(t, []string{base}, ListSegments(base))
}

func TestLogWriter_Put(t *testing.T) {
	base := filepath.Join(t.TempDir(), "run.dat")
	writer, err := NewLogWriter(LogWriterConfig{FilePath: base})
	require.NoError(t, err)
	defer writer.Close()

	first := event(t, "hello")
	offset, err := writer.Put(first)
	require.NoError(t, err)
	assert.Equal(t, int64(0), offset)

	offset, err = writer.Put(event(t, "world!"))
	require.NoError(t, err)
	assert.Equal(t, int64(first.Size()), offset)
	assert.Equal(t, int64(first.Size()+codec.HeaderSize+6), writer.Size())

	// records are stored unpadded
	info, err := os.Stat(base)
	require.NoError(t, err)
	assert.Equal(t, writer.Size(), info.Size())
}

func TestLogWriter_Rollover(t *testing.T) {
	base := filepath.Join(t.TempDir(), "run.dat")

	var closed []SegmentInfo
	writer, err := NewLogWriter(LogWriterConfig{
		FilePath:        base,
		MaxSegmentSize:  1000,
		OnSegmentClosed: func(info SegmentInfo) { closed = append(closed, info) },
	})
	require.NoError(t, err)

	// 72 + 128 = 200 bytes each: five per segment
	payload := string(make([]byte, 128))
	for i := 0; i < 12; i++ {
		_, err := writer.Put(event(t, payload))
		require.NoError(t, err)
	}
	assert.Equal(t, 2, writer.Segment())
	assert.Equal(t, SegmentPath(base, 2), writer.Path())
	assert.Equal(t, int64(12*200), writer.TotalSize())
	require.NoError(t, writer.Close())

	assert.Equal(t, []string{base, base + "-1", base + "-2"}, ListSegments(base))
	require.Len(t, closed, 3)
	for i, info := range closed {
		assert.Equal(t, i, info.Index)
		assert.Equal(t, SegmentPath(base, i), info.Path)
		assert.False(t, info.Compressed)
	}
	assert.Equal(t, int64(5), closed[0].Records)
	assert.Equal(t, int64(1000), closed[0].Bytes)
	assert.Equal(t, int64(2), closed[2].Records)
}

func TestLogWriter_OversizeRecordGetsOwnSegment(t *testing.T) {
	base := filepath.Join(t.TempDir(), "run.dat")
	writer, err := NewLogWriter(LogWriterConfig{FilePath: base, MaxSegmentSize: 100})
	require.NoError(t, err)

	_, err = writer.Put(event(t, "a"))
	require.NoError(t, err)
	_, err = writer.Put(event(t, string(make([]byte, 500))))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	assert.Len(t, ListSegments(base), 2)
}

func TestLogWriter_PutAfterClose(t *testing.T) {
	writer, err := NewLogWriter(LogWriterConfig{FilePath: filepath.Join(t.TempDir(), "run.dat")})
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	_, err = writer.Put(event(t, "late"))
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, writer.Sync(), ErrClosed)
}

func TestLogWriter_FsyncInterval(t *testing.T) {
	base := filepath.Join(t.TempDir(), "run.dat")
	writer, err := NewLogWriter(LogWriterConfig{
		FilePath:      base,
		FsyncInterval: 10 * time.Millisecond,
		BufferSize:    1 << 16,
	})
	require.NoError(t, err)
	defer writer.Close()

	_, err = writer.Put(event(t, "buffered"))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		info, err := os.Stat(base)
		return err == nil && info.Size() == writer.Size()
	}, time.Second, 5*time.Millisecond)
}

func TestLogWriter_ConcurrentAccess(t *testing.T) {
	base := filepath.Join(t.TempDir(), "run.dat")
	writer, err := NewLogWriter(LogWriterConfig{FilePath: base, MaxSegmentSize: 4096})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				if _, err := writer.Put(event(t, fmt.Sprintf("g%d-%d", g, i))); err != nil {
					t.Error(err)
					return
				}
			}
		}(g)
	}
	wg.Wait()
	require.NoError(t, writer.Close())

	reader, err := NewLogReader(LogReaderConfig{FilePath: base})
	require.NoError(t, err)
	defer reader.Close()

	count := 0
	it := reader.Iterator()
	for it.Next() {
		count++
	}
	require.NoError(t, it.Err())
	assert.Equal(t, 200, count)
}

func TestSegmentPath(t *testing.T) {
	tests := []struct {
		base  string
		index int
		want  string
	}{
		{"/d/run.dat", 0, "/d/run.dat"},
		{"/d/run.dat", 1, "/d/run.dat-1"},
		{"/d/run.dat", 12, "/d/run.dat-12"},
		{"/d/run", 3, "/d/run-3"},
		{"/d/run.gz", 0, "/d/run.gz"},
		{"/d/run.gz", 2, "/d/run-2.gz"},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s_%d", tt.base, tt.index), func(t *testing.T) {
			assert.Equal(t, tt.want, SegmentPath(tt.base, tt.index))
		})
	}
}
