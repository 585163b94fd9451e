//go:build !integration

package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func nopLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

func TestPool_RunsSubmittedTasks(t *testing.T) {
	p := NewPool(2, nopLogger())
	p.Start(context.Background())

	var ran int32
	done := make(chan struct{}, 10)
	for i := 0; i < 10; i++ {
		if err := p.Submit(func(ctx context.Context) error {
			atomic.AddInt32(&ran, 1)
			done <- struct{}{}
			return nil
		}); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	for i := 0; i < 10; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out after %d tasks", i)
		}
	}
	p.Stop()
	if got := atomic.LoadInt32(&ran); got != 10 {
		t.Fatalf("expected 10 tasks, got %d", got)
	}
}

func TestPool_SurvivesPanicsAndErrors(t *testing.T) {
	p := NewPool(1, nopLogger())
	p.Start(context.Background())

	_ = p.Submit(func(ctx context.Context) error { panic("boom") })
	_ = p.Submit(func(ctx context.Context) error { return errors.New("bad") })

	done := make(chan struct{})
	_ = p.Submit(func(ctx context.Context) error { close(done); return nil })
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker died after a failing task")
	}
	p.Stop()
}

func TestPool_StopDrainsQueue(t *testing.T) {
	p := NewPool(1, nopLogger())

	var ran int32
	for i := 0; i < 5; i++ {
		_ = p.Submit(func(ctx context.Context) error {
			atomic.AddInt32(&ran, 1)
			return nil
		})
	}
	p.Start(context.Background())
	p.Stop()

	if got := atomic.LoadInt32(&ran); got != 5 {
		t.Fatalf("expected queued tasks to run before stop returns, got %d", got)
	}
	if err := p.Submit(func(ctx context.Context) error { return nil }); err == nil {
		t.Fatal("expected submit after stop to fail")
	}
}

func TestPool_QueueFull(t *testing.T) {
	p := NewPool(1, nopLogger())
	// not started, so nothing drains the buffer
	var err error
	for i := 0; i < cap(p.jobs)+1; i++ {
		err = p.Submit(func(ctx context.Context) error { return nil })
	}
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}
