package devices

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShutdownHook_RunsInReverseOrder(t *testing.T) {
	hook := NewShutdownHook()

	var order []string
	hook.Register("registry", func() error {
		order = append(order, "registry")
		return nil
	})
	hook.Register("server", func() error {
		order = append(order, "server")
		return nil
	})
	assert.Equal(t, 2, hook.Count())

	require.NoError(t, hook.Shutdown(context.Background()))
	assert.Equal(t, []string{"server", "registry"}, order)
	assert.Equal(t, 0, hook.Count())
}

func TestShutdownHook_ContinuesPastErrors(t *testing.T) {
	hook := NewShutdownHook()

	ran := false
	hook.Register("last", func() error {
		ran = true
		return nil
	})
	hook.Register("broken", func() error {
		return errors.New("boom")
	})

	err := hook.Shutdown(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken: boom")
	assert.True(t, ran)
}

func TestShutdownHook_RunsOnce(t *testing.T) {
	hook := NewShutdownHook()

	calls := 0
	hook.Register("once", func() error {
		calls++
		return nil
	})

	require.NoError(t, hook.Shutdown(context.Background()))
	require.NoError(t, hook.Shutdown(context.Background()))
	assert.Equal(t, 1, calls)
}

func TestShutdownHook_LateRegistrationRunsImmediately(t *testing.T) {
	hook := NewShutdownHook()
	require.NoError(t, hook.Shutdown(context.Background()))

	called := false
	hook.Register("late", func() error {
		called = true
		return nil
	})
	assert.True(t, called)
	assert.Equal(t, 0, hook.Count())
}

func TestShutdownHook_Timeout(t *testing.T) {
	hook := NewShutdownHook()
	release := make(chan struct{})
	defer close(release)

	hook.Register("stuck", func() error {
		<-release
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := hook.Shutdown(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
