//go:build unix

package ringbuf

import (
	"encoding/binary"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssargent/ringrelay/pkg/codec"
	"github.com/ssargent/ringrelay/pkg/shm"
)

func newTestRing(t *testing.T, capWords int) (*RingBuffer, shm.Option) {
	t.Helper()
	dir := shm.WithDir(t.TempDir())
	rb, err := Create("test", capWords, dir)
	require.NoError(t, err)
	t.Cleanup(func() { rb.Close() })
	return rb, dir
}

func wordsOf(n int, seed uint32) []uint32 {
	w := make([]uint32, n)
	for i := range w {
		w[i] = seed + uint32(i)
	}
	return w
}

func TestRingBuffer_FIFO(t *testing.T) {
	rb, _ := newTestRing(t, 1024)

	for i := 0; i < 10; i++ {
		ok, err := rb.TryEnqueue(wordsOf(i+1, uint32(i*100)))
		require.NoError(t, err)
		require.True(t, ok)
	}

	for i := 0; i < 10; i++ {
		got, ok, err := rb.TryDequeue()
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, wordsOf(i+1, uint32(i*100)), got)
	}

	_, ok, err := rb.TryDequeue()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRingBuffer_CapacityBound(t *testing.T) {
	rb, _ := newTestRing(t, 100)

	// each entry takes 10 words (length word + 9)
	for i := 0; i < 10; i++ {
		ok, err := rb.TryEnqueue(wordsOf(9, 0))
		require.NoError(t, err)
		require.True(t, ok, "enqueue %d", i)
	}

	ok, err := rb.TryEnqueue(wordsOf(1, 0))
	require.NoError(t, err)
	assert.False(t, ok)

	stats, err := rb.Stats()
	require.NoError(t, err)
	assert.Equal(t, uint32(100), stats.UsedWords)
	assert.Equal(t, uint32(0), stats.FreeWords)
	assert.Equal(t, uint32(10), stats.Records)

	_, ok, err = rb.TryDequeue()
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = rb.TryEnqueue(wordsOf(9, 0))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRingBuffer_WrapAround(t *testing.T) {
	rb, _ := newTestRing(t, 37)

	for i := 0; i < 500; i++ {
		n := i%11 + 1
		ok, err := rb.TryEnqueue(wordsOf(n, uint32(i)))
		require.NoError(t, err)
		require.True(t, ok)

		got, ok, err := rb.TryDequeue()
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, wordsOf(n, uint32(i)), got)
	}

	stats, err := rb.Stats()
	require.NoError(t, err)
	assert.Equal(t, uint64(500), stats.Enqueued)
	assert.Equal(t, uint64(500), stats.Dequeued)
	assert.Equal(t, uint32(0), stats.UsedWords)
}

func TestRingBuffer_TooLarge(t *testing.T) {
	rb, _ := newTestRing(t, 24)

	ok, err := rb.TryEnqueue(wordsOf(23, 0))
	require.NoError(t, err)
	require.True(t, ok)

	_, err = rb.TryEnqueue(wordsOf(24, 0))
	assert.True(t, errors.Is(err, ErrRecordTooLarge))

	_, err = rb.TryEnqueueBytes([]byte{1, 2, 3})
	assert.True(t, errors.Is(err, ErrNotWordAligned))
}

func TestRingBuffer_AttachKeepsCapacity(t *testing.T) {
	rb, dir := newTestRing(t, 256)
	assert.True(t, rb.Created())

	again, err := Create("test", 4096, dir)
	require.NoError(t, err)
	defer again.Close()
	assert.False(t, again.Created())
	assert.Equal(t, 256, again.Capacity())

	attached, err := Attach("test", dir)
	require.NoError(t, err)
	defer attached.Close()

	ok, err := rb.TryEnqueue([]uint32{1, 2, 3})
	require.NoError(t, err)
	require.True(t, ok)

	got, ok, err := attached.TryDequeue()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []uint32{1, 2, 3}, got)
}

func TestRingBuffer_AttachMissing(t *testing.T) {
	_, err := Attach("nope", shm.WithDir(t.TempDir()))
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestRingBuffer_Remove(t *testing.T) {
	rb, dir := newTestRing(t, 64)
	require.NoError(t, Remove(rb.Name(), dir))
	_, err := Attach(rb.Name(), dir)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestRingBuffer_DequeueIntoReuses(t *testing.T) {
	rb, _ := newTestRing(t, 64)
	ok, err := rb.TryEnqueueBytes([]byte{1, 0, 0, 0, 2, 0, 0, 0})
	require.NoError(t, err)
	require.True(t, ok)

	dst := make([]byte, 0, 64)
	got, ok, err := rb.TryDequeueInto(dst)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, got, 8)
	assert.Equal(t, &dst[:1][0], &got[0])
}

func TestRingBuffer_Reset(t *testing.T) {
	rb, _ := newTestRing(t, 64)
	_, err := rb.TryEnqueue([]uint32{1})
	require.NoError(t, err)
	require.NoError(t, rb.Reset())

	_, ok, err := rb.TryDequeue()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRingBuffer_ConcurrentProducerConsumer(t *testing.T) {
	producer, dir := newTestRing(t, 512)
	consumer, err := Attach("test", dir)
	require.NoError(t, err)
	defer consumer.Close()

	const total = 5000
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < total; {
			ok, err := producer.TryEnqueue(wordsOf(i%20+1, uint32(i)))
			if err != nil {
				t.Error(err)
				return
			}
			if ok {
				i++
			}
		}
	}()

	for i := 0; i < total; {
		got, ok, err := consumer.TryDequeue()
		require.NoError(t, err)
		if !ok {
			continue
		}
		require.Equal(t, wordsOf(i%20+1, uint32(i)), got)
		i++
	}
	wg.Wait()
}

func TestRingBuffer_Records(t *testing.T) {
	rb, _ := newTestRing(t, 10_000)
	c := codec.NewRecordCodec().WithRoute(1, 2)

	payload := make([]byte, 1000)
	for i := range payload {
		payload[i] = byte(i)
	}
	ev, err := c.Encode(codec.TypeEvent, payload)
	require.NoError(t, err)

	ok, err := rb.TryEnqueueBytes(ev.Padded())
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = rb.TryEnqueueBytes(c.Terminate().Padded())
	require.NoError(t, err)
	require.True(t, ok)

	buf, ok, err := rb.TryDequeueInto(nil)
	require.NoError(t, err)
	require.True(t, ok)
	rec, err := codec.Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, codec.TypeEvent, rec.Type())
	assert.Equal(t, payload, rec.Payload())
	assert.Equal(t, uint32(len(payload)+codec.HeaderSize), binary.LittleEndian.Uint32(buf))

	buf, ok, err = rb.TryDequeueInto(nil)
	require.NoError(t, err)
	require.True(t, ok)
	rec, err = codec.Decode(buf)
	require.NoError(t, err)
	assert.True(t, rec.IsTerminate())
}

func TestCreate_InvalidCapacity(t *testing.T) {
	dir := shm.WithDir(t.TempDir())

	for _, capacity := range []int{0, 1, MinCapacity - 1} {
		_, err := Create("tiny", capacity, dir)
		assert.Error(t, err, "capacity %d", capacity)
		assert.False(t, shm.Exists("tiny", dir))
	}
}

func TestCreate_MinCapacityHoldsTerminate(t *testing.T) {
	rb, _ := newTestRing(t, MinCapacity)

	ok, err := rb.TryEnqueueBytes(codec.NewRecordCodec().Terminate().Padded())
	require.NoError(t, err)
	require.True(t, ok)

	buf, ok, err := rb.TryDequeueInto(nil)
	require.NoError(t, err)
	require.True(t, ok)
	rec, err := codec.Decode(buf)
	require.NoError(t, err)
	assert.True(t, rec.IsTerminate())
}
