package codec

import (
	"encoding/binary"
	"fmt"
	"time"
)

const (
	// HeaderSize is the fixed size of the record header in bytes (18 words).
	HeaderSize = 72
	// HeaderWords is HeaderSize expressed in 32-bit words.
	HeaderWords = HeaderSize / 4
	// MaxRecordSize caps the declared size of any record, header included.
	MaxRecordSize = 200_000_000
)

// Header field offsets
const (
	offSize        = 0
	offType        = 4
	offSec         = 8
	offUsec        = 16
	offSource      = 24
	offDestination = 28
	offReserved1   = 32
	offObjectCount = 36
	offArrayCount  = 40
	offReserved    = 44
)

// Record is a self-describing serialized message: a fixed header followed by
// an opaque payload. A Record either borrows the buffer it was decoded from or
// owns a buffer allocated by the codec; Clone turns the former into the latter.
type Record struct {
	buf   []byte
	owned bool
}

// RecordCodec builds records stamped with a fixed source and destination.
type RecordCodec struct {
	Source      uint32
	Destination uint32
	now         func() time.Time
}

// NewRecordCodec creates a new record codec instance
func NewRecordCodec() *RecordCodec {
	return &RecordCodec{now: time.Now}
}

// WithRoute returns a codec stamping the given source and destination node ids.
func (c *RecordCodec) WithRoute(source, destination uint32) *RecordCodec {
	cp := *c
	cp.Source = source
	cp.Destination = destination
	return &cp
}

// Encode builds an owned record of the given type around payload. The payload
// is copied; the returned buffer is zero-padded to a word boundary.
func (c *RecordCodec) Encode(t RecordType, payload []byte) (*Record, error) {
	size := HeaderSize + len(payload)
	if size > MaxRecordSize {
		return nil, fmt.Errorf("encode %d bytes: %w", size, ErrRecordTooLarge)
	}

	r := &Record{buf: make([]byte, padded(size)), owned: true}
	binary.LittleEndian.PutUint32(r.buf[offSize:], uint32(size))
	r.SetType(t)
	r.SetTime(c.now())
	r.SetSource(c.Source)
	r.SetDestination(c.Destination)
	copy(r.buf[HeaderSize:], payload)

	return r, nil
}

// EncodeObjects builds a record whose payload is the sequence of objs, each
// prefixed by its length as a 32-bit word. ObjectCount is set to len(objs).
func (c *RecordCodec) EncodeObjects(t RecordType, objs [][]byte) (*Record, error) {
	n := 0
	for _, o := range objs {
		n += 4 + len(o)
	}

	payload := make([]byte, n)
	pos := 0
	for _, o := range objs {
		binary.LittleEndian.PutUint32(payload[pos:], uint32(len(o)))
		pos += 4
		pos += copy(payload[pos:], o)
	}

	r, err := c.Encode(t, payload)
	if err != nil {
		return nil, err
	}
	r.SetObjectCount(uint32(len(objs)))
	return r, nil
}

// Terminate builds a header-only TERMINATE record.
func (c *RecordCodec) Terminate() *Record {
	r, _ := c.Encode(TypeTerminate, nil)
	return r
}

// Decode interprets data as a record without copying. The record borrows data
// and is only valid while the caller keeps data unchanged.
func Decode(data []byte) (*Record, error) {
	size, err := ParseSize(data)
	if err != nil {
		return nil, err
	}
	if len(data) < size {
		return nil, fmt.Errorf("have %d of %d bytes: %w", len(data), size, ErrTruncated)
	}

	return &Record{buf: data}, nil
}

// Decode is the method form of the package level Decode.
func (c *RecordCodec) Decode(data []byte) (*Record, error) {
	return Decode(data)
}

// ParseSize validates the size field of a header and returns it.
func ParseSize(header []byte) (int, error) {
	if len(header) < HeaderSize {
		return 0, fmt.Errorf("have %d header bytes: %w", len(header), ErrTruncated)
	}

	size := binary.LittleEndian.Uint32(header[offSize:])
	switch {
	case size < HeaderSize:
		return 0, fmt.Errorf("declared size %d: %w", size, ErrInvalidSize)
	case size > MaxRecordSize:
		return 0, fmt.Errorf("declared size %d: %w", size, ErrRecordTooLarge)
	}
	return int(size), nil
}

// Size returns the exact byte length of header plus payload.
func (r *Record) Size() int {
	return int(binary.LittleEndian.Uint32(r.buf[offSize:]))
}

// SizeInWords returns the number of 32-bit words the record occupies.
func (r *Record) SizeInWords() int {
	return (r.Size()-1)/4 + 1
}

// PaddedSize returns Size rounded up to a word boundary.
func (r *Record) PaddedSize() int {
	return r.SizeInWords() * 4
}

// Bytes returns exactly Size bytes: the on-wire form.
func (r *Record) Bytes() []byte {
	return r.buf[:r.Size()]
}

// Padded returns the record padded to a word boundary. The padding bytes are
// zero when the record owns its buffer; a short borrowed buffer is copied.
func (r *Record) Padded() []byte {
	n := r.PaddedSize()
	if len(r.buf) >= n {
		return r.buf[:n]
	}
	out := make([]byte, n)
	copy(out, r.Bytes())
	return out
}

// Words returns the record as little-endian 32-bit words.
func (r *Record) Words() []uint32 {
	b := r.Padded()
	words := make([]uint32, len(b)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(b[i*4:])
	}
	return words
}

// FromWords decodes a record from words as produced by Words or a ring buffer.
func FromWords(words []uint32) (*Record, error) {
	buf := make([]byte, len(words)*4)
	for i, w := range words {
		binary.LittleEndian.PutUint32(buf[i*4:], w)
	}
	r, err := Decode(buf)
	if err != nil {
		return nil, err
	}
	r.owned = true
	return r, nil
}

// Header returns the fixed header bytes.
func (r *Record) Header() []byte {
	return r.buf[:HeaderSize]
}

// Payload returns the bytes after the header.
func (r *Record) Payload() []byte {
	return r.buf[HeaderSize:r.Size()]
}

// Owned reports whether the record owns its buffer.
func (r *Record) Owned() bool {
	return r.owned
}

// Clone returns an owned copy of the record.
func (r *Record) Clone() *Record {
	buf := make([]byte, r.PaddedSize())
	copy(buf, r.Bytes())
	return &Record{buf: buf, owned: true}
}

// Type returns the record type.
func (r *Record) Type() RecordType {
	return RecordType(int32(binary.LittleEndian.Uint32(r.buf[offType:])))
}

// SetType overwrites the record type.
func (r *Record) SetType(t RecordType) {
	binary.LittleEndian.PutUint32(r.buf[offType:], uint32(t))
}

// IsControl reports whether the record is anything other than an event.
func (r *Record) IsControl() bool {
	return r.Type() != TypeEvent
}

// IsTerminate reports whether the record asks the pipeline to shut down.
func (r *Record) IsTerminate() bool {
	return r.Type() == TypeTerminate
}

func (r *Record) Sec() int64 {
	return int64(binary.LittleEndian.Uint64(r.buf[offSec:]))
}

func (r *Record) Usec() int64 {
	return int64(binary.LittleEndian.Uint64(r.buf[offUsec:]))
}

// Time returns the creation timestamp carried in the header.
func (r *Record) Time() time.Time {
	return time.Unix(r.Sec(), r.Usec()*int64(time.Microsecond))
}

// SetTime stores t with microsecond resolution.
func (r *Record) SetTime(t time.Time) {
	binary.LittleEndian.PutUint64(r.buf[offSec:], uint64(t.Unix()))
	binary.LittleEndian.PutUint64(r.buf[offUsec:], uint64(t.Nanosecond()/1000))
}

func (r *Record) Source() uint32 {
	return binary.LittleEndian.Uint32(r.buf[offSource:])
}

func (r *Record) SetSource(id uint32) {
	binary.LittleEndian.PutUint32(r.buf[offSource:], id)
}

func (r *Record) Destination() uint32 {
	return binary.LittleEndian.Uint32(r.buf[offDestination:])
}

func (r *Record) SetDestination(id uint32) {
	binary.LittleEndian.PutUint32(r.buf[offDestination:], id)
}

func (r *Record) ObjectCount() uint32 {
	return binary.LittleEndian.Uint32(r.buf[offObjectCount:])
}

func (r *Record) SetObjectCount(n uint32) {
	binary.LittleEndian.PutUint32(r.buf[offObjectCount:], n)
}

func (r *Record) ArrayCount() uint32 {
	return binary.LittleEndian.Uint32(r.buf[offArrayCount:])
}

func (r *Record) SetArrayCount(n uint32) {
	binary.LittleEndian.PutUint32(r.buf[offArrayCount:], n)
}

// NumReserved is the number of reserved header words.
const NumReserved = 8

// Reserved returns reserved word i (0..7); word 0 is the one after destination.
// Any other i reads as 0.
func (r *Record) Reserved(i int) uint32 {
	if i < 0 || i >= NumReserved {
		return 0
	}
	if i == 0 {
		return binary.LittleEndian.Uint32(r.buf[offReserved1:])
	}
	return binary.LittleEndian.Uint32(r.buf[offReserved+(i-1)*4:])
}

// Objects splits a payload built by EncodeObjects back into its parts. The
// returned slices alias the record buffer.
func (r *Record) Objects() ([][]byte, error) {
	p := r.Payload()
	objs := make([][]byte, 0, r.ObjectCount())
	for len(p) > 0 {
		if len(p) < 4 {
			return nil, fmt.Errorf("%d trailing bytes: %w", len(p), ErrMalformedPayload)
		}
		n := binary.LittleEndian.Uint32(p)
		p = p[4:]
		if uint64(n) > uint64(len(p)) {
			return nil, fmt.Errorf("object of %d bytes with %d left: %w", n, len(p), ErrMalformedPayload)
		}
		objs = append(objs, p[:n])
		p = p[n:]
	}
	return objs, nil
}

func (r *Record) String() string {
	return fmt.Sprintf("%s size=%d src=%d dst=%d objects=%d", r.Type(), r.Size(), r.Source(), r.Destination(), r.ObjectCount())
}

func padded(n int) int {
	return (n + 3) &^ 3
}
