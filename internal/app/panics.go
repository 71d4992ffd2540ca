package app

import (
	"fmt"
	"runtime/debug"
	"sync"

	"golang.org/x/sync/errgroup"
)

// goroutinePanic carries a panic from a worker goroutine back to the caller
// together with the stack where it happened.
type goroutinePanic struct {
	value any
	stack []byte
}

func (p *goroutinePanic) String() string {
	return fmt.Sprintf("%v\n\n%s", p.value, p.stack)
}

// fanOut runs functions on an errgroup and re-raises the first panic on the
// calling goroutine once all of them have returned.
type fanOut struct {
	g     errgroup.Group
	once  sync.Once
	fault *goroutinePanic
}

func (f *fanOut) Go(fn func()) {
	f.g.Go(func() error {
		defer func() {
			if rec := recover(); rec != nil {
				f.once.Do(func() {
					f.fault = &goroutinePanic{value: rec, stack: debug.Stack()}
				})
			}
		}()
		fn()
		return nil
	})
}

func (f *fanOut) Wait() {
	_ = f.g.Wait()
	if f.fault != nil {
		panic(f.fault)
	}
}

func panicValue(rec any) any {
	if p, ok := rec.(*goroutinePanic); ok {
		return p.value
	}
	return rec
}
