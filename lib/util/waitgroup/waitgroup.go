// Copyright 2024 The mysqlconn Authors.
// SPDX-License-Identifier: Apache-2.0

package waitgroup

import (
	"sync"
	"time"

	"github.com/tiancaiamao/gp"
	"go.uber.org/zap"
)

// WaitGroup is a wrapper for sync.WaitGroup.
type WaitGroup struct {
	sync.WaitGroup
}

// Run runs a function in a goroutine, adds 1 to the WaitGroup and calls Done
// when the function returns. Do not panic in the function.
func (w *WaitGroup) Run(exec func()) {
	w.Add(1)
	go func() {
		defer w.Done()
		exec()
	}()
}

// RunWithRecover runs a function in a goroutine with forced recovery. A caught
// panic is logged with the goroutine stack and then passed to recoverFn, which
// may be nil.
func (w *WaitGroup) RunWithRecover(exec func(), recoverFn func(r interface{}), logger *zap.Logger) {
	w.Add(1)
	go func() {
		defer recoverFromErr(&w.WaitGroup, recoverFn, logger)
		exec()
	}()
}

func recoverFromErr(wg *sync.WaitGroup, recoverFn func(r interface{}), logger *zap.Logger) {
	r := recover()
	defer func() {
		// If it panics again in recovery, quit ASAP.
		_ = recover()
	}()
	if r != nil && logger != nil {
		logger.Error("panic in the recoverable goroutine",
			zap.Reflect("r", r),
			zap.Stack("stack trace"))
	}
	// Call Done() before recoverFn because recoverFn normally calls Close(),
	// which may call wg.Wait().
	wg.Done()
	if r != nil && recoverFn != nil {
		recoverFn(r)
	}
}

// WaitGroupPool runs recoverable goroutines on a shared goroutine pool.
type WaitGroupPool struct {
	sync.WaitGroup
	pool *gp.Pool
}

// NewWaitGroupPool returns a WaitGroupPool with at most n idle goroutines.
func NewWaitGroupPool(n int, idleDuration time.Duration) *WaitGroupPool {
	return &WaitGroupPool{
		pool: gp.New(n, idleDuration),
	}
}

// RunWithRecover schedules a function on the pool, adds 1 to the WaitGroup
// and calls Done when the function returns.
func (w *WaitGroupPool) RunWithRecover(exec func(), recoverFn func(r interface{}), logger *zap.Logger) {
	w.Add(1)
	w.pool.Go(func() {
		defer recoverFromErr(&w.WaitGroup, recoverFn, logger)
		exec()
	})
}

func (w *WaitGroupPool) Close() {
	w.pool.Close()
	w.Wait()
}
