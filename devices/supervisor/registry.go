package supervisor

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/mobile-next/droidcap/utils"
)

// Registry maps daemon names to running processes and guarantees that at
// most one process per name is alive. One registry is owned per device.
type Registry struct {
	mu      sync.Mutex
	daemons map[string]*Daemon
}

func NewRegistry() *Registry {
	return &Registry{
		daemons: make(map[string]*Daemon),
	}
}

// Start launches a daemon under name. A daemon already registered under the
// same name is killed, and reaped, before the new process is spawned. If it
// can not be reaped it stays registered and Start fails. When listener is
// non-nil every output line is delivered to it in order.
func (r *Registry) Start(ctx context.Context, name string, spec Spec, listener LineListener) (*Daemon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.daemons[name]; ok {
		utils.Verbose("Stopping previous daemon %s (PID %d)", name, old.Pid())
		if err := old.Kill(); err != nil {
			return nil, fmt.Errorf("previous daemon %s is still running: %w", name, err)
		}
		delete(r.daemons, name)
	}

	d, err := spawn(ctx, name, spec, listener)
	if err != nil {
		return nil, err
	}

	r.daemons[name] = d
	go r.forgetOnExit(d)

	return d, nil
}

func (r *Registry) forgetOnExit(d *Daemon) {
	<-d.Done()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.daemons[d.name] == d {
		delete(r.daemons, d.name)
	}
}

// Get returns the live daemon registered under name.
func (r *Registry) Get(name string) (*Daemon, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.daemons[name]
	return d, ok
}

// Stop kills the daemon registered under name, if any.
func (r *Registry) Stop(name string) error {
	r.mu.Lock()
	d, ok := r.daemons[name]
	if ok {
		delete(r.daemons, name)
	}
	r.mu.Unlock()

	if !ok {
		return nil
	}
	return d.Kill()
}

// StopDaemon kills d and unregisters it only if it is still the registered
// daemon for its name, so a stale session can not take down its successor.
func (r *Registry) StopDaemon(d *Daemon) error {
	if d == nil {
		return nil
	}

	r.mu.Lock()
	if r.daemons[d.name] == d {
		delete(r.daemons, d.name)
	}
	r.mu.Unlock()

	return d.Kill()
}

// StopAll kills every registered daemon.
func (r *Registry) StopAll() error {
	r.mu.Lock()
	daemons := r.daemons
	r.daemons = make(map[string]*Daemon)
	r.mu.Unlock()

	var errs []error
	for name, d := range daemons {
		if err := d.Kill(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("failed to stop %d daemon(s): %v", len(errs), errs)
	}
	return nil
}

// Names returns the registered daemon names in sorted order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.daemons))
	for name := range r.daemons {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.daemons)
}
