package handler

import (
	"context"
	"sync"
)

// Background runs work that outlives the request that started it but not the
// server. Every job shares one context; cancelling it and then calling Wait
// drains the jobs before shared clients are closed.
type Background struct {
	ctx context.Context
	wg  sync.WaitGroup
}

func NewBackground(ctx context.Context) *Background {
	return &Background{ctx: ctx}
}

// Go starts fn on its own goroutine with the server-lifetime context.
func (b *Background) Go(fn func(ctx context.Context)) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		fn(b.ctx)
	}()
}

// Wait blocks until every job started with Go has returned.
func (b *Background) Wait() {
	b.wg.Wait()
}
