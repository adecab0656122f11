package state

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	"go.uber.org/multierr"
)

// Context is cancelled by SIGINT/SIGTERM and owns the closers of everything
// opened while it was live.
type Context interface {
	context.Context
	// Defer registers fn to run on Exit. Closers run in reverse order.
	Defer(fn func() error)
	// Exit cancels the context, runs the registered closers and returns
	// their combined error. Only the first call does any work.
	Exit() error
	// Interrupted reports whether a signal cancelled the context.
	Interrupted() bool
}

type ctx struct {
	context.Context
	cancel      context.CancelFunc
	log         *slog.Logger
	interrupted atomic.Bool

	mu      sync.Mutex
	closers []func() error
	once    sync.Once
	err     error
}

func NewContext(parent context.Context, log *slog.Logger) Context {
	if log == nil {
		log = slog.Default()
	}
	inner, cancel := context.WithCancel(parent)
	c := &ctx{Context: inner, cancel: cancel, log: log}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		// after the first signal the default handlers are back, so a second
		// Ctrl-C force quits
		defer signal.Stop(sigs)
		select {
		case sig := <-sigs:
			c.interrupted.Store(true)
			c.log.Info("received signal, shutting down", "signal", sig.String())
			cancel()
		case <-inner.Done():
		}
	}()
	return c
}

func (c *ctx) Defer(fn func() error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closers = append(c.closers, fn)
}

func (c *ctx) Exit() error {
	c.once.Do(func() {
		c.cancel()
		c.mu.Lock()
		closers := c.closers
		c.closers = nil
		c.mu.Unlock()
		for i := len(closers) - 1; i >= 0; i-- {
			c.err = multierr.Append(c.err, closers[i]())
		}
		if c.err != nil {
			c.log.Error("failed to close cleanly", "err", c.err)
		}
	})
	return c.err
}

func (c *ctx) Interrupted() bool {
	return c.interrupted.Load()
}
