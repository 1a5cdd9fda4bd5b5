// Package objectstoretest provides an in-memory objectstore.Store for tests.
package objectstoretest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/ecomdwh/ecomdwh-go/internal/platform/objectstore"
)

type Memory struct {
	mu      sync.Mutex
	buckets map[string]map[string]object

	// GetErr, when set, is returned by every Get call.
	GetErr error
}

type object struct {
	data        []byte
	contentType string
	modified    time.Time
}

var _ objectstore.Store = (*Memory)(nil)

func NewMemory(buckets ...string) *Memory {
	m := &Memory{buckets: map[string]map[string]object{}}
	for _, b := range buckets {
		m.buckets[b] = map[string]object{}
	}
	return m
}

// Seed stores data under bucket/key, creating the bucket if needed.
func (m *Memory) Seed(bucket, key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.buckets[bucket] == nil {
		m.buckets[bucket] = map[string]object{}
	}
	m.buckets[bucket][key] = object{data: append([]byte(nil), data...), contentType: "text/csv", modified: time.Now().UTC()}
}

// Object returns a copy of the stored bytes.
func (m *Memory) Object(bucket, key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.buckets[bucket][key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), obj.data...), true
}

// Keys lists the keys of a bucket in lexical order.
func (m *Memory) Keys(bucket string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.buckets[bucket]))
	for k := range m.buckets[bucket] {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (m *Memory) Get(ctx context.Context, bucket, key string) (io.ReadCloser, objectstore.ObjectInfo, error) {
	if m.GetErr != nil {
		return nil, objectstore.ObjectInfo{}, m.GetErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.buckets[bucket][key]
	if !ok {
		return nil, objectstore.ObjectInfo{}, fmt.Errorf("%w: %s/%s", objectstore.ErrNotFound, bucket, key)
	}
	return io.NopCloser(bytes.NewReader(obj.data)), objectstore.ObjectInfo{
		Bucket:       bucket,
		Key:          key,
		Size:         int64(len(obj.data)),
		ContentType:  obj.contentType,
		LastModified: obj.modified,
	}, nil
}

func (m *Memory) Put(ctx context.Context, bucket, key string, body io.Reader, size int64, contentType string) (objectstore.ObjectInfo, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return objectstore.ObjectInfo{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.buckets[bucket] == nil {
		return objectstore.ObjectInfo{}, fmt.Errorf("%w: bucket %s", objectstore.ErrNotFound, bucket)
	}
	now := time.Now().UTC()
	m.buckets[bucket][key] = object{data: data, contentType: contentType, modified: now}
	return objectstore.ObjectInfo{Bucket: bucket, Key: key, Size: int64(len(data)), ContentType: contentType, LastModified: now}, nil
}

func (m *Memory) EnsureBuckets(ctx context.Context, buckets ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range buckets {
		if m.buckets[b] == nil {
			m.buckets[b] = map[string]object{}
		}
	}
	return nil
}

func (m *Memory) CheckBuckets(ctx context.Context, buckets ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range buckets {
		if m.buckets[b] == nil {
			return fmt.Errorf("bucket missing: %s", b)
		}
	}
	return nil
}
