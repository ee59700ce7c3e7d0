//go:build unix

// Package ringbuf implements a named, fixed-capacity circular record queue in
// shared memory. Producers and consumers in different processes attach to the
// same buffer by name; operations never block.
package ringbuf

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ssargent/ringrelay/pkg/codec"
	"github.com/ssargent/ringrelay/pkg/shm"
)

const (
	magic   = 0x31425252 // "RRB1"
	version = 1

	// HeaderSize is the size in bytes of the control block preceding the data.
	HeaderSize = 64

	// MinCapacity is the smallest capacity in words that holds a bare record
	// header, such as a TERMINATE, with its length word.
	MinCapacity = codec.HeaderWords + 1
)

// control block word indexes
const (
	hMagic = iota
	hVersion
	hCapacity
	hHead
	hTail
	hUsed
	hRecords
	hReserved
	hEnqueuedLo
	hEnqueuedHi
	hDequeuedLo
	hDequeuedHi
	hBytesInLo
	hBytesInHi
)

var (
	// ErrRecordTooLarge is returned for a record that can never fit, even in
	// an empty buffer.
	ErrRecordTooLarge = errors.New("record larger than ring buffer capacity")
	// ErrNotWordAligned is returned for byte records whose length is not a
	// multiple of four.
	ErrNotWordAligned = errors.New("record length is not a multiple of 4 bytes")
	// ErrCorrupt is returned when attaching to a segment that is not a ring buffer.
	ErrCorrupt = errors.New("segment is not a valid ring buffer")
	// ErrNotFound is returned when attaching to a ring buffer that does not exist.
	ErrNotFound = shm.ErrNotFound
)

// RingBuffer is a handle on a shared ring buffer. A handle is safe for use by
// multiple goroutines; separate handles in separate processes are serialized
// through the segment lock.
type RingBuffer struct {
	seg  *shm.Segment
	mem  []byte
	data []byte
	cap  uint32
}

// Stats is a snapshot of a ring buffer's state.
type Stats struct {
	Name          string `json:"name"`
	CapacityWords uint32 `json:"capacity_words"`
	UsedWords     uint32 `json:"used_words"`
	FreeWords     uint32 `json:"free_words"`
	Records       uint32 `json:"records"`
	Enqueued      uint64 `json:"enqueued"`
	Dequeued      uint64 `json:"dequeued"`
	EnqueuedBytes uint64 `json:"enqueued_bytes"`
}

// Create creates the named ring buffer with capacityWords 32-bit words of
// storage, or attaches to it if it already exists. An existing buffer keeps
// its original capacity.
func Create(name string, capacityWords int, opts ...shm.Option) (*RingBuffer, error) {
	if capacityWords < MinCapacity {
		return nil, fmt.Errorf("ringbuf: capacity of %d words is below the minimum of %d", capacityWords, MinCapacity)
	}

	seg, err := shm.OpenOrCreate(name, HeaderSize+capacityWords*4, func(mem []byte) error {
		put32(mem, hMagic, magic)
		put32(mem, hVersion, version)
		put32(mem, hCapacity, uint32(capacityWords))
		return nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	return wrap(seg)
}

// Attach opens an existing ring buffer.
func Attach(name string, opts ...shm.Option) (*RingBuffer, error) {
	seg, err := shm.Attach(name, opts...)
	if err != nil {
		return nil, err
	}
	return wrap(seg)
}

// Remove destroys the named ring buffer.
func Remove(name string, opts ...shm.Option) error {
	return shm.Remove(name, opts...)
}

func wrap(seg *shm.Segment) (*RingBuffer, error) {
	mem := seg.Bytes()
	if len(mem) < HeaderSize || get32(mem, hMagic) != magic || get32(mem, hVersion) != version {
		seg.Close()
		return nil, fmt.Errorf("%s: %w", seg.Name(), ErrCorrupt)
	}
	capWords := get32(mem, hCapacity)
	if HeaderSize+int(capWords)*4 > len(mem) {
		seg.Close()
		return nil, fmt.Errorf("%s: capacity %d exceeds segment: %w", seg.Name(), capWords, ErrCorrupt)
	}

	return &RingBuffer{
		seg:  seg,
		mem:  mem,
		data: mem[HeaderSize : HeaderSize+int(capWords)*4],
		cap:  capWords,
	}, nil
}

// Name returns the ring buffer name.
func (rb *RingBuffer) Name() string {
	return rb.seg.Name()
}

// Capacity returns the storage size in words.
func (rb *RingBuffer) Capacity() int {
	return int(rb.cap)
}

// Created reports whether this handle created the buffer.
func (rb *RingBuffer) Created() bool {
	return rb.seg.Created()
}

// TryEnqueue appends a record given as words. It returns false without
// blocking when there is not enough free space.
func (rb *RingBuffer) TryEnqueue(words []uint32) (bool, error) {
	buf := make([]byte, len(words)*4)
	for i, w := range words {
		binary.LittleEndian.PutUint32(buf[i*4:], w)
	}
	return rb.TryEnqueueBytes(buf)
}

// TryEnqueueBytes appends a word-padded record. It returns false without
// blocking when there is not enough free space, and ErrRecordTooLarge when the
// record could never fit.
func (rb *RingBuffer) TryEnqueueBytes(buf []byte) (bool, error) {
	if len(buf)%4 != 0 {
		return false, ErrNotWordAligned
	}
	nwords := uint64(len(buf) / 4)
	if nwords+1 > uint64(rb.cap) {
		return false, fmt.Errorf("%d words into %d: %w", nwords, rb.cap, ErrRecordTooLarge)
	}

	if err := rb.seg.Lock(); err != nil {
		return false, err
	}
	defer rb.seg.Unlock()

	used := get32(rb.mem, hUsed)
	if uint64(rb.cap-used) < nwords+1 {
		return false, nil
	}

	tail := get32(rb.mem, hTail)
	binary.LittleEndian.PutUint32(rb.data[tail*4:], uint32(nwords))
	tail = (tail + 1) % rb.cap
	rb.copyIn(tail, buf)
	tail = uint32((uint64(tail) + nwords) % uint64(rb.cap))

	put32(rb.mem, hTail, tail)
	put32(rb.mem, hUsed, used+uint32(nwords)+1)
	put32(rb.mem, hRecords, get32(rb.mem, hRecords)+1)
	put64(rb.mem, hEnqueuedLo, get64(rb.mem, hEnqueuedLo)+1)
	put64(rb.mem, hBytesInLo, get64(rb.mem, hBytesInLo)+uint64(len(buf)))
	return true, nil
}

// TryDequeue removes the oldest record and returns it as words. ok is false
// when the buffer is empty.
func (rb *RingBuffer) TryDequeue() (words []uint32, ok bool, err error) {
	buf, ok, err := rb.TryDequeueInto(nil)
	if !ok || err != nil {
		return nil, ok, err
	}
	words = make([]uint32, len(buf)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(buf[i*4:])
	}
	return words, true, nil
}

// TryDequeueInto removes the oldest record and returns it as bytes, reusing
// dst when it has room. ok is false when the buffer is empty.
func (rb *RingBuffer) TryDequeueInto(dst []byte) ([]byte, bool, error) {
	if err := rb.seg.Lock(); err != nil {
		return nil, false, err
	}
	defer rb.seg.Unlock()

	if get32(rb.mem, hRecords) == 0 {
		return nil, false, nil
	}

	head := get32(rb.mem, hHead)
	nwords := binary.LittleEndian.Uint32(rb.data[head*4:])
	used := get32(rb.mem, hUsed)
	if uint64(nwords)+1 > uint64(used) {
		return nil, false, fmt.Errorf("%s: entry of %d words with %d used: %w", rb.Name(), nwords, used, ErrCorrupt)
	}
	head = (head + 1) % rb.cap

	n := int(nwords) * 4
	if cap(dst) >= n {
		dst = dst[:n]
	} else {
		dst = make([]byte, n)
	}
	rb.copyOut(dst, head)
	head = uint32((uint64(head) + uint64(nwords)) % uint64(rb.cap))

	put32(rb.mem, hHead, head)
	put32(rb.mem, hUsed, used-nwords-1)
	put32(rb.mem, hRecords, get32(rb.mem, hRecords)-1)
	put64(rb.mem, hDequeuedLo, get64(rb.mem, hDequeuedLo)+1)
	return dst, true, nil
}

// copyIn writes buf at word index pos, wrapping at the end of the data area.
func (rb *RingBuffer) copyIn(pos uint32, buf []byte) {
	n := copy(rb.data[pos*4:], buf)
	copy(rb.data, buf[n:])
}

func (rb *RingBuffer) copyOut(dst []byte, pos uint32) {
	n := copy(dst, rb.data[pos*4:])
	copy(dst[n:], rb.data)
}

// Reset discards every queued record.
func (rb *RingBuffer) Reset() error {
	if err := rb.seg.Lock(); err != nil {
		return err
	}
	defer rb.seg.Unlock()

	put32(rb.mem, hHead, 0)
	put32(rb.mem, hTail, 0)
	put32(rb.mem, hUsed, 0)
	put32(rb.mem, hRecords, 0)
	return nil
}

// Stats returns a consistent snapshot of the buffer state.
func (rb *RingBuffer) Stats() (Stats, error) {
	if err := rb.seg.Lock(); err != nil {
		return Stats{}, err
	}
	defer rb.seg.Unlock()

	used := get32(rb.mem, hUsed)
	return Stats{
		Name:          rb.Name(),
		CapacityWords: rb.cap,
		UsedWords:     used,
		FreeWords:     rb.cap - used,
		Records:       get32(rb.mem, hRecords),
		Enqueued:      get64(rb.mem, hEnqueuedLo),
		Dequeued:      get64(rb.mem, hDequeuedLo),
		EnqueuedBytes: get64(rb.mem, hBytesInLo),
	}, nil
}

// Close detaches from the buffer. The buffer persists until Remove.
func (rb *RingBuffer) Close() error {
	return rb.seg.Close()
}

func get32(mem []byte, word int) uint32 {
	return binary.LittleEndian.Uint32(mem[word*4:])
}

func put32(mem []byte, word int, v uint32) {
	binary.LittleEndian.PutUint32(mem[word*4:], v)
}

func get64(mem []byte, word int) uint64 {
	return binary.LittleEndian.Uint64(mem[word*4:])
}

func put64(mem []byte, word int, v uint64) {
	binary.LittleEndian.PutUint64(mem[word*4:], v)
}
