package cache

import (
	"strings"
	"sync"

	"github.com/peterbourgon/diskv/v3"
)

// KeyValueStore is the local persistence behind the optimistic cache. Keys
// are namespaced per trip id by the cache itself.
type KeyValueStore interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte) error
	Remove(key string) error
}

// MemoryKV is a process-local store for tests and single-shot runs.
type MemoryKV struct {
	mu sync.Mutex
	m  map[string][]byte
}

func NewMemoryKV() *MemoryKV { return &MemoryKV{m: map[string][]byte{}} }

func (s *MemoryKV) Get(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.m[key]
	return v, ok
}

func (s *MemoryKV) Set(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = append([]byte(nil), value...)
	return nil
}

func (s *MemoryKV) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, key)
	return nil
}

// DiskKV persists cache payloads to disk so staged edits survive a restart,
// the way browser localStorage survives a reload.
type DiskKV struct {
	d *diskv.Diskv
}

func NewDiskKV(dir string) *DiskKV {
	return &DiskKV{d: diskv.New(diskv.Options{
		BasePath:     dir,
		Transform:    func(s string) []string { return []string{} },
		CacheSizeMax: 8 << 20,
	})}
}

func (s *DiskKV) Get(key string) ([]byte, bool) {
	v, err := s.d.Read(sanitize(key))
	if err != nil {
		return nil, false
	}
	return v, true
}

func (s *DiskKV) Set(key string, value []byte) error {
	return s.d.Write(sanitize(key), value)
}

func (s *DiskKV) Remove(key string) error {
	err := s.d.Erase(sanitize(key))
	if err != nil && !s.d.Has(sanitize(key)) {
		return nil
	}
	return err
}

// diskv keys become file names; keep them path-safe.
func sanitize(key string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':':
			return '_'
		}
		return r
	}, key)
}
