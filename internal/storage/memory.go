// memory.go - in-memory Store for tests and local runs.

package storage

import (
	"bytes"
	"context"
	"io"
	"sort"
	"sync"
	"time"
)

// Memory is an in-process Store. Listing is in key order and the cursor is
// the last key of the previous page.
type Memory struct {
	mu      sync.RWMutex
	objects map[string]memObject
	now     func() time.Time
}

type memObject struct {
	info ObjectInfo
	data []byte
}

// NewMemory returns an empty store. now stamps LastModified on Put; nil
// means time.Now.
func NewMemory(now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{objects: make(map[string]memObject), now: now}
}

func (m *Memory) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return ObjectInfo{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.objects[key]
	if !ok {
		return ObjectInfo{}, ErrNotFound
	}
	return o.info, nil
}

func (m *Memory) Get(ctx context.Context, key string) (*Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.objects[key]
	if !ok {
		return nil, ErrNotFound
	}
	return &Object{ObjectInfo: o.info, Body: io.NopCloser(bytes.NewReader(o.data))}, nil
}

func (m *Memory) Put(ctx context.Context, in PutInput) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if in.Meta.WireSize() > ProviderMetaLimit {
		return ErrMetadataTooLarge
	}
	data := append([]byte(nil), in.Data...)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[in.Key] = memObject{
		info: ObjectInfo{
			Key:          in.Key,
			Size:         int64(len(data)),
			ContentType:  in.ContentType,
			LastModified: m.now(),
			Meta:         in.Meta.Clone(),
		},
		data: data,
	}
	return nil
}

func (m *Memory) List(ctx context.Context, in ListInput) (ListPage, error) {
	if err := ctx.Err(); err != nil {
		return ListPage{}, err
	}
	m.mu.RLock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		if k > in.Cursor {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	limit := in.limit()
	var page ListPage
	for i, k := range keys {
		if i == limit {
			page.NextCursor = keys[i-1]
			break
		}
		page.Objects = append(page.Objects, m.objects[k].info)
	}
	m.mu.RUnlock()
	return page, nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.objects, key)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Exists(ctx context.Context, key string) (bool, error) {
	_, err := m.Stat(ctx, key)
	if err == ErrNotFound {
		return false, nil
	}
	return err == nil, err
}

func (m *Memory) Ping(ctx context.Context) error { return ctx.Err() }

// Len returns the number of stored objects.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
