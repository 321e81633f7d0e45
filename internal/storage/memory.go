package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	evalhub_errors "evalhub/pkg/errors"
)

// MemoryBackend keeps objects in a map. It backs tests and ephemeral dev
// runs; nothing survives a restart.
type MemoryBackend struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{objects: make(map[string][]byte)}
}

func (b *MemoryBackend) Store(ctx context.Context, key string, data []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	// Copy so later caller mutations cannot reach the stored object.
	b.objects[key] = append([]byte(nil), data...)
	return nil
}

func (b *MemoryBackend) Retrieve(ctx context.Context, key string) ([]byte, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	data, ok := b.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: object %s", evalhub_errors.ErrNotFound, key)
	}
	return append([]byte(nil), data...), nil
}

func (b *MemoryBackend) Stream(ctx context.Context, key string, chunkSize int) (io.ReadCloser, error) {
	data, err := b.Retrieve(ctx, key)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (b *MemoryBackend) Delete(ctx context.Context, key string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, key)
	return nil
}

func (b *MemoryBackend) Exists(ctx context.Context, key string) (bool, error) {
	if err := checkKey(key); err != nil {
		return false, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.objects[key]
	return ok, nil
}

func (b *MemoryBackend) AppendChunk(ctx context.Context, key string, data []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = append(b.objects[key], data...)
	return nil
}

// Len reports the number of stored objects. Tests use it to prove chunk
// cleanup left nothing behind.
func (b *MemoryBackend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.objects)
}

// Keys returns a snapshot of stored keys.
func (b *MemoryBackend) Keys() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	keys := make([]string, 0, len(b.objects))
	for k := range b.objects {
		keys = append(keys, k)
	}
	return keys
}
