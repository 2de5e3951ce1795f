// Package jobsfake provides a hand-rolled jobs.Lister fake for tests.
package jobsfake

import (
	"context"
	"sync/atomic"
)

// FakeLister is a configurable jobs.Lister.
type FakeLister struct {
	// HasAnyStub, when set, handles every call.
	HasAnyStub func(ctx context.Context) (bool, error)
	// HasAnyReturns is used when HasAnyStub is nil.
	HasAnyReturns struct {
		Has bool
		Err error
	}

	callCount atomic.Int64
}

// NewFakeLister creates an empty fake that reports no jobs.
func NewFakeLister() *FakeLister {
	return &FakeLister{}
}

func (f *FakeLister) HasAny(ctx context.Context) (bool, error) {
	f.callCount.Add(1)
	if f.HasAnyStub != nil {
		return f.HasAnyStub(ctx)
	}
	return f.HasAnyReturns.Has, f.HasAnyReturns.Err
}

// HasAnyCallCount returns how many times HasAny was invoked.
func (f *FakeLister) HasAnyCallCount() int {
	return int(f.callCount.Load())
}
