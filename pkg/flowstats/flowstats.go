//go:build unix

// Package flowstats publishes per-relay flow counters in a shared memory table
// so that operators can inspect every relay on a host from one place.
package flowstats

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ssargent/ringrelay/pkg/shm"
)

const (
	// MaxSlots is the number of relays a table can describe.
	MaxSlots = 64

	magic      = 0x31545346 // "FST1"
	headerSize = 16
	slotSize   = 128
	nameLen    = 48
	stateLen   = 16
)

// slot layout
const (
	sActive     = 0
	sRecords    = 8
	sBytes      = 16
	sReconnects = 24
	sDropped    = 32
	sTerminates = 40
	sUpdated    = 48
	sState      = 56
	sName       = sState + stateLen
)

// ErrSlotRange is returned for a slot id outside the table.
var ErrSlotRange = errors.New("flow stats slot out of range")

// Snapshot is the published state of one relay.
type Snapshot struct {
	ID         int       `json:"id"`
	Name       string    `json:"name"`
	State      string    `json:"state"`
	Records    uint64    `json:"records"`
	Bytes      uint64    `json:"bytes"`
	Reconnects uint64    `json:"reconnects"`
	Dropped    uint64    `json:"dropped"`
	Terminates uint64    `json:"terminates"`
	Updated    time.Time `json:"updated"`
}

// Table is an attached flow statistics segment.
type Table struct {
	seg *shm.Segment
	mem []byte
}

// Open creates or attaches to the named table.
func Open(name string, opts ...shm.Option) (*Table, error) {
	seg, err := shm.OpenOrCreate(name, headerSize+MaxSlots*slotSize, func(mem []byte) error {
		binary.LittleEndian.PutUint32(mem[0:], magic)
		binary.LittleEndian.PutUint32(mem[4:], MaxSlots)
		return nil
	}, opts...)
	if err != nil {
		return nil, err
	}

	mem := seg.Bytes()
	if len(mem) < headerSize+MaxSlots*slotSize || binary.LittleEndian.Uint32(mem) != magic {
		seg.Close()
		return nil, fmt.Errorf("%s is not a flow stats table", name)
	}
	return &Table{seg: seg, mem: mem}, nil
}

func (t *Table) slot(id int) ([]byte, error) {
	if id < 0 || id >= MaxSlots {
		return nil, fmt.Errorf("slot %d: %w", id, ErrSlotRange)
	}
	off := headerSize + id*slotSize
	return t.mem[off : off+slotSize], nil
}

// Publish stores s in slot s.ID and marks it active.
func (t *Table) Publish(s Snapshot) error {
	b, err := t.slot(s.ID)
	if err != nil {
		return err
	}
	if err := t.seg.Lock(); err != nil {
		return err
	}
	defer t.seg.Unlock()

	if s.Updated.IsZero() {
		s.Updated = time.Now()
	}
	binary.LittleEndian.PutUint64(b[sActive:], 1)
	binary.LittleEndian.PutUint64(b[sRecords:], s.Records)
	binary.LittleEndian.PutUint64(b[sBytes:], s.Bytes)
	binary.LittleEndian.PutUint64(b[sReconnects:], s.Reconnects)
	binary.LittleEndian.PutUint64(b[sDropped:], s.Dropped)
	binary.LittleEndian.PutUint64(b[sTerminates:], s.Terminates)
	binary.LittleEndian.PutUint64(b[sUpdated:], uint64(s.Updated.UnixNano()))
	putString(b[sState:sState+stateLen], s.State)
	putString(b[sName:sName+nameLen], s.Name)
	return nil
}

// Read returns slot id; ok is false for a slot nobody has published to.
func (t *Table) Read(id int) (Snapshot, bool, error) {
	b, err := t.slot(id)
	if err != nil {
		return Snapshot{}, false, err
	}
	if err := t.seg.Lock(); err != nil {
		return Snapshot{}, false, err
	}
	defer t.seg.Unlock()

	if binary.LittleEndian.Uint64(b[sActive:]) == 0 {
		return Snapshot{}, false, nil
	}
	return Snapshot{
		ID:         id,
		Name:       getString(b[sName : sName+nameLen]),
		State:      getString(b[sState : sState+stateLen]),
		Records:    binary.LittleEndian.Uint64(b[sRecords:]),
		Bytes:      binary.LittleEndian.Uint64(b[sBytes:]),
		Reconnects: binary.LittleEndian.Uint64(b[sReconnects:]),
		Dropped:    binary.LittleEndian.Uint64(b[sDropped:]),
		Terminates: binary.LittleEndian.Uint64(b[sTerminates:]),
		Updated:    time.Unix(0, int64(binary.LittleEndian.Uint64(b[sUpdated:]))),
	}, true, nil
}

// All returns every active slot in id order.
func (t *Table) All() ([]Snapshot, error) {
	var out []Snapshot
	for id := 0; id < MaxSlots; id++ {
		s, ok, err := t.Read(id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, s)
		}
	}
	return out, nil
}

// Clear marks slot id unused.
func (t *Table) Clear(id int) error {
	b, err := t.slot(id)
	if err != nil {
		return err
	}
	if err := t.seg.Lock(); err != nil {
		return err
	}
	defer t.seg.Unlock()

	clear(b)
	return nil
}

// Close detaches from the table.
func (t *Table) Close() error {
	return t.seg.Close()
}

func putString(dst []byte, s string) {
	clear(dst)
	copy(dst, s)
}

func getString(b []byte) string {
	return strings.TrimRight(string(b), "\x00")
}
