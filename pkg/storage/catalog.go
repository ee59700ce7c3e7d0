// Package storage keeps a persistent catalog of finished record file segments.
package storage

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/segmentio/ksuid"

	"github.com/ssargent/ringrelay/pkg/store"
)

// Entry is one cataloged segment.
type Entry struct {
	ID   string `json:"id"`
	File string `json:"file"` // base name of the record file the segment belongs to
	store.SegmentInfo
}

// Catalog records every segment written by rb2file relays.
type Catalog struct {
	storage *DefaultStorage
}

// OpenCatalog opens or creates the catalog database in dir.
func OpenCatalog(dir string) (*Catalog, error) {
	s, err := NewDefaultStorage(dir)
	if err != nil {
		return nil, fmt.Errorf("open catalog %s: %w", dir, err)
	}
	return &Catalog{storage: s}, nil
}

// Add stores a finished segment of the record file file.
func (c *Catalog) Add(file string, info store.SegmentInfo) (Entry, error) {
	if info.ClosedAt.IsZero() {
		info.ClosedAt = time.Now()
	}
	entry := Entry{File: file, SegmentInfo: info}
	data, err := json.Marshal(entry)
	if err != nil {
		return Entry{}, err
	}

	id, err := c.storage.Create(data)
	if err != nil {
		return Entry{}, err
	}
	entry.ID = id.String()
	return entry, nil
}

// Get returns the entry stored under id.
func (c *Catalog) Get(id string) (Entry, error) {
	kid, err := ksuid.Parse(id)
	if err != nil {
		return Entry{}, fmt.Errorf("invalid catalog id %q: %w", id, err)
	}
	data, err := c.storage.Read(&kid)
	if err != nil {
		return Entry{}, err
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return Entry{}, err
	}
	entry.ID = id
	return entry, nil
}

// List returns all entries, oldest first. A non-empty file restricts the
// result to segments of that record file.
func (c *Catalog) List(file string) ([]Entry, error) {
	var entries []Entry
	err := c.storage.Scan(func(id ksuid.KSUID, data []byte) error {
		var entry Entry
		if err := json.Unmarshal(data, &entry); err != nil {
			return fmt.Errorf("catalog entry %s: %w", id, err)
		}
		if file != "" && entry.File != file {
			return nil
		}
		entry.ID = id.String()
		entries = append(entries, entry)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].ClosedAt.Equal(entries[j].ClosedAt) {
			return entries[i].ClosedAt.Before(entries[j].ClosedAt)
		}
		return entries[i].Index < entries[j].Index
	})
	return entries, nil
}

// Delete removes the entry stored under id.
func (c *Catalog) Delete(id string) error {
	kid, err := ksuid.Parse(id)
	if err != nil {
		return fmt.Errorf("invalid catalog id %q: %w", id, err)
	}
	return c.storage.Delete(&kid)
}

// Close closes the catalog database.
func (c *Catalog) Close() error {
	return c.storage.Close()
}
