package devices

import (
	"context"
	"fmt"
	"sync"

	"github.com/mobile-next/droidcap/utils"
)

// ShutdownHook collects cleanup functions run on SIGINT/SIGTERM or when a
// command finishes. Hooks run in reverse registration order so resources
// are released before whatever they depend on.
type ShutdownHook struct {
	mu    sync.Mutex
	hooks []namedHook
	done  bool
}

type namedHook struct {
	name string
	fn   func() error
}

func NewShutdownHook() *ShutdownHook {
	return &ShutdownHook{}
}

// Register adds a cleanup function. Registering after Shutdown has run
// executes fn immediately.
func (s *ShutdownHook) Register(name string, cleanupFn func() error) {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		if err := cleanupFn(); err != nil {
			utils.Verbose("Late shutdown hook %s failed: %v", name, err)
		}
		return
	}
	s.hooks = append(s.hooks, namedHook{name: name, fn: cleanupFn})
	s.mu.Unlock()

	utils.Verbose("Registered shutdown hook: %s", name)
}

// Shutdown runs every hook once. It keeps going past failing hooks and
// stops waiting when ctx expires, leaving the remaining hooks to finish in
// the background.
func (s *ShutdownHook) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	hooks := s.hooks
	s.hooks = nil
	s.done = true
	s.mu.Unlock()

	if len(hooks) == 0 {
		return nil
	}

	utils.Verbose("Executing %d shutdown hook(s)", len(hooks))

	result := make(chan []error, 1)
	go func() {
		var errs []error
		for i := len(hooks) - 1; i >= 0; i-- {
			hook := hooks[i]
			utils.Verbose("Running shutdown hook: %s", hook.name)
			if err := hook.fn(); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", hook.name, err))
				utils.Verbose("Shutdown hook %s failed: %v", hook.name, err)
			}
		}
		result <- errs
	}()

	select {
	case errs := <-result:
		if len(errs) > 0 {
			return fmt.Errorf("shutdown failed with %d error(s): %v", len(errs), errs)
		}
		utils.Verbose("All shutdown hooks completed successfully")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown interrupted: %w", ctx.Err())
	}
}

func (s *ShutdownHook) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.hooks)
}
