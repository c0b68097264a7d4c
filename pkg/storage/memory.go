package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
)

var ErrObjectNotFound = errors.New("object not found")

// MemoryStore keeps objects in process memory. It backs storage.driver=memory
// for local runs and the tests.
type MemoryStore struct {
	mu      sync.RWMutex
	buckets map[string]map[string]memoryObject
}

type memoryObject struct {
	data        []byte
	contentType string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{buckets: make(map[string]map[string]memoryObject)}
}

func (s *MemoryStore) Bucket(name string) Bucket {
	return &memoryBucket{store: s, name: name}
}

func (s *MemoryStore) EnsureBuckets(ctx context.Context, names ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, name := range names {
		if _, ok := s.buckets[name]; !ok {
			s.buckets[name] = make(map[string]memoryObject)
		}
	}
	return nil
}

// Put stores data directly, for seeding source objects.
func (s *MemoryStore) Put(bucket, key string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.buckets[bucket]; !ok {
		s.buckets[bucket] = make(map[string]memoryObject)
	}
	s.buckets[bucket][key] = memoryObject{data: append([]byte(nil), data...)}
}

// Object returns a copy of a stored object.
func (s *MemoryStore) Object(bucket, key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.buckets[bucket][key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), obj.data...), true
}

// Keys lists a bucket's keys in sorted order.
func (s *MemoryStore) Keys(bucket string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.buckets[bucket]))
	for key := range s.buckets[bucket] {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

type memoryBucket struct {
	store *MemoryStore
	name  string
}

func (b *memoryBucket) Name() string {
	return b.name
}

func (b *memoryBucket) Save(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return storageErr("put", b.name, key, err)
	}
	if size >= 0 && int64(len(data)) != size {
		return storageErr("put", b.name, key, fmt.Errorf("read %d bytes, expected %d", len(data), size))
	}
	b.store.mu.Lock()
	defer b.store.mu.Unlock()
	if _, ok := b.store.buckets[b.name]; !ok {
		b.store.buckets[b.name] = make(map[string]memoryObject)
	}
	b.store.buckets[b.name][key] = memoryObject{data: data, contentType: contentType}
	return nil
}

func (b *memoryBucket) Delete(ctx context.Context, key string) error {
	b.store.mu.Lock()
	defer b.store.mu.Unlock()
	delete(b.store.buckets[b.name], key)
	return nil
}

func (b *memoryBucket) GetInputStream(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error) {
	data, ok := b.store.Object(b.name, key)
	if !ok {
		return nil, storageErr("get", b.name, key, ErrObjectNotFound)
	}
	if offset > int64(len(data)) {
		offset = int64(len(data))
	}
	end := int64(len(data))
	if length > 0 && offset+length < end {
		end = offset + length
	}
	return io.NopCloser(bytes.NewReader(data[offset:end])), nil
}
