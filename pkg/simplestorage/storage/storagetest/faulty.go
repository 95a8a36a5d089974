package storagetest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/tendant/simple-storage/pkg/simplestorage"
)

// ErrInjected is returned by FaultyStore for the faulted call.
var ErrInjected = errors.New("injected fault")

// Operation names accepted by FaultyStore.
const (
	OpPut    = "put"
	OpGet    = "get"
	OpHead   = "head"
	OpDelete = "delete"
	OpList   = "list"
	OpCopy   = "copy"
	OpExists = "exists"
)

// FaultyStore wraps a BlobStore and fails the nth call of one operation.
// Calls after the faulted one succeed again.
type FaultyStore struct {
	simplestorage.BlobStore

	mu     sync.Mutex
	op     string
	failOn int
	calls  map[string]int
}

// NewFaultyStore fails call number n (1-based) of op on inner.
func NewFaultyStore(inner simplestorage.BlobStore, op string, n int) *FaultyStore {
	return &FaultyStore{BlobStore: inner, op: op, failOn: n, calls: make(map[string]int)}
}

// Calls returns how many times op was invoked.
func (f *FaultyStore) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *FaultyStore) check(op, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	if op == f.op && f.calls[op] == f.failOn {
		return fmt.Errorf("%s %s: %w", op, key, ErrInjected)
	}
	return nil
}

func (f *FaultyStore) Put(ctx context.Context, key string, reader io.Reader, params simplestorage.PutParams) (*simplestorage.BlobInfo, error) {
	if err := f.check(OpPut, key); err != nil {
		return nil, err
	}
	return f.BlobStore.Put(ctx, key, reader, params)
}

func (f *FaultyStore) Get(ctx context.Context, key string) (io.ReadCloser, *simplestorage.BlobInfo, error) {
	if err := f.check(OpGet, key); err != nil {
		return nil, nil, err
	}
	return f.BlobStore.Get(ctx, key)
}

func (f *FaultyStore) Head(ctx context.Context, key string) (*simplestorage.BlobInfo, error) {
	if err := f.check(OpHead, key); err != nil {
		return nil, err
	}
	return f.BlobStore.Head(ctx, key)
}

func (f *FaultyStore) Delete(ctx context.Context, key string) (bool, error) {
	if err := f.check(OpDelete, key); err != nil {
		return false, err
	}
	return f.BlobStore.Delete(ctx, key)
}

func (f *FaultyStore) List(ctx context.Context, prefix string) ([]simplestorage.ListEntry, error) {
	if err := f.check(OpList, prefix); err != nil {
		return nil, err
	}
	return f.BlobStore.List(ctx, prefix)
}

func (f *FaultyStore) Copy(ctx context.Context, src, dst string) error {
	if err := f.check(OpCopy, src); err != nil {
		return err
	}
	return f.BlobStore.Copy(ctx, src, dst)
}

func (f *FaultyStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := f.check(OpExists, key); err != nil {
		return false, err
	}
	return f.BlobStore.Exists(ctx, key)
}
