package state

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestExitRunsClosersInReverse(t *testing.T) {
	ctx := NewContext(context.Background(), quiet())
	var order []string
	ctx.Defer(func() error { order = append(order, "store"); return nil })
	ctx.Defer(func() error { order = append(order, "session"); return nil })

	require.NoError(t, ctx.Exit())
	require.Equal(t, []string{"session", "store"}, order)
	require.ErrorIs(t, ctx.Err(), context.Canceled)
	require.False(t, ctx.Interrupted())
}

func TestExitCombinesErrors(t *testing.T) {
	ctx := NewContext(context.Background(), quiet())
	first, second := errors.New("first"), errors.New("second")
	ctx.Defer(func() error { return first })
	ctx.Defer(func() error { return nil })
	ctx.Defer(func() error { return second })

	err := ctx.Exit()
	require.ErrorIs(t, err, first)
	require.ErrorIs(t, err, second)
	require.Len(t, multierr.Errors(err), 2)

	// later calls only report
	ctx.Defer(func() error { t.Fatal("closer registered after exit must not run"); return nil })
	require.Equal(t, err, ctx.Exit())
}

func TestParentCancellationPropagates(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	ctx := NewContext(parent, nil)
	cancel()
	<-ctx.Done()
	require.NoError(t, ctx.Exit())
}
