//go:build unix

// Package shm manages named shared memory segments backed by memory mapped
// files. Any process on the host that knows a segment's name can attach to it.
package shm

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"
)

// Prefix is prepended to every segment name to form its file name.
const Prefix = "ringrelay_"

// ErrNotFound is returned when attaching to a segment that does not exist.
var ErrNotFound = errors.New("shared memory segment not found")

// Segment is a mapped shared memory segment.
type Segment struct {
	name    string
	path    string
	file    *os.File
	mem     []byte
	created bool

	// flock does not exclude goroutines sharing the same descriptor
	mu sync.Mutex
}

type options struct {
	dir string
}

// Option configures where segments live.
type Option func(*options)

// WithDir places segments in dir instead of the default directory.
func WithDir(dir string) Option {
	return func(o *options) {
		if dir != "" {
			o.dir = dir
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{dir: DefaultDir()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// DefaultDir returns /dev/shm when available, otherwise the temp directory.
func DefaultDir() string {
	if info, err := os.Stat("/dev/shm"); err == nil && info.IsDir() {
		return "/dev/shm"
	}
	return os.TempDir()
}

// Path returns the file backing the named segment.
func Path(name string, opts ...Option) string {
	o := buildOptions(opts)
	return filepath.Join(o.dir, Prefix+name)
}

// OpenOrCreate attaches to the named segment, creating it with size bytes if
// it does not exist yet. init runs on a freshly created segment before any
// other process can see it. Created reports which case happened.
func OpenOrCreate(name string, size int, init func(mem []byte) error, opts ...Option) (*Segment, error) {
	if name == "" {
		return nil, fmt.Errorf("shm: empty segment name")
	}
	if size <= 0 {
		return nil, fmt.Errorf("shm: invalid segment size %d", size)
	}

	path := Path(name, opts...)
	for {
		seg, err := open(name, path)
		if err == nil {
			return seg, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}

		seg, err = create(name, path, size, init)
		if err == nil {
			return seg, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, err
		}
		// lost the race to another creator; attach to theirs
	}
}

// Attach opens an existing segment.
func Attach(name string, opts ...Option) (*Segment, error) {
	return open(name, Path(name, opts...))
}

// Remove unlinks the named segment. Processes already attached keep their
// mapping until they close it.
func Remove(name string, opts ...Option) error {
	err := os.Remove(Path(name, opts...))
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	return err
}

// Exists reports whether the named segment exists.
func Exists(name string, opts ...Option) bool {
	_, err := os.Stat(Path(name, opts...))
	return err == nil
}

// create builds the segment under a temporary name and links it into place,
// so attachers never observe a partially initialized segment.
func create(name, path string, size int, init func([]byte) error) (*Segment, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("failed to create segment directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return nil, fmt.Errorf("failed to create segment file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	cleanup := func() {
		tmp.Close()
	}

	if err := tmp.Chmod(0600); err != nil {
		cleanup()
		return nil, err
	}
	if err := tmp.Truncate(int64(size)); err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to resize segment file: %w", err)
	}

	mem, err := mmapFile(tmp, size)
	if err != nil {
		cleanup()
		return nil, err
	}

	if init != nil {
		if err := init(mem); err != nil {
			unix.Munmap(mem)
			cleanup()
			return nil, fmt.Errorf("failed to initialize segment: %w", err)
		}
	}

	if err := os.Link(tmpPath, path); err != nil {
		unix.Munmap(mem)
		cleanup()
		return nil, err
	}

	return &Segment{
		name:    name,
		path:    path,
		file:    tmp,
		mem:     mem,
		created: true,
	}, nil
}

func open(name, path string) (*Segment, error) {
	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to open segment file %s: %w", path, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat segment file: %w", err)
	}
	if info.Size() == 0 {
		file.Close()
		return nil, fmt.Errorf("segment file %s is empty", path)
	}

	mem, err := mmapFile(file, int(info.Size()))
	if err != nil {
		file.Close()
		return nil, err
	}

	return &Segment{
		name: name,
		path: path,
		file: file,
		mem:  mem,
	}, nil
}

func mmapFile(file *os.File, size int) ([]byte, error) {
	data, err := unix.Mmap(int(file.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap failed: %w", err)
	}
	return data, nil
}

// Lock takes the segment lock, excluding both other processes and other
// goroutines using this Segment. The kernel drops the lock if the process dies.
func (s *Segment) Lock() error {
	s.mu.Lock()
	for {
		err := unix.Flock(int(s.file.Fd()), unix.LOCK_EX)
		if err == nil {
			return nil
		}
		if !errors.Is(err, unix.EINTR) {
			s.mu.Unlock()
			return fmt.Errorf("flock %s: %w", s.path, err)
		}
	}
}

// Unlock releases the segment lock.
func (s *Segment) Unlock() {
	unix.Flock(int(s.file.Fd()), unix.LOCK_UN)
	s.mu.Unlock()
}

// Bytes returns the mapped memory.
func (s *Segment) Bytes() []byte {
	return s.mem
}

// Name returns the segment name.
func (s *Segment) Name() string {
	return s.name
}

// Path returns the backing file path.
func (s *Segment) Path() string {
	return s.path
}

// Created reports whether this call created the segment.
func (s *Segment) Created() bool {
	return s.created
}

// Close unmaps the segment. The segment itself persists until Remove.
func (s *Segment) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mem == nil {
		return nil
	}
	err := unix.Munmap(s.mem)
	s.mem = nil
	if closeErr := s.file.Close(); err == nil {
		err = closeErr
	}
	return err
}
