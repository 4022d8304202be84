//go:build unix

package supervisor

import (
	"context"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sleepSpec() Spec {
	return Spec{Path: "sleep", Args: []string{"30"}}
}

func shellSpec(script string) Spec {
	return Spec{Path: "sh", Args: []string{"-c", script}}
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()
	t.Cleanup(func() { _ = r.StopAll() })
	return r
}

func TestRegistry_StartRegistersDaemon(t *testing.T) {
	r := newTestRegistry(t)

	d, err := r.Start(context.Background(), "minicap", sleepSpec(), nil)
	require.NoError(t, err)

	got, ok := r.Get("minicap")
	require.True(t, ok)
	assert.Same(t, d, got)
	assert.Greater(t, d.Pid(), 0)
	assert.False(t, d.Exited())
	assert.Equal(t, []string{"minicap"}, r.Names())
}

func TestRegistry_AtMostOneDaemonPerName(t *testing.T) {
	r := newTestRegistry(t)

	first, err := r.Start(context.Background(), "minicap", sleepSpec(), nil)
	require.NoError(t, err)

	second, err := r.Start(context.Background(), "minicap", sleepSpec(), nil)
	require.NoError(t, err)

	// the first process must already be reaped when Start returns
	assert.True(t, first.Exited(), "first daemon should have been killed")
	assert.False(t, first.ExitedAt().After(second.StartedAt()), "first daemon must exit before the second starts")
	assert.False(t, second.Exited())
	assert.NotEqual(t, first.Pid(), second.Pid())

	assert.Equal(t, 1, r.Len())
	got, _ := r.Get("minicap")
	assert.Same(t, second, got)
}

func TestRegistry_StartFailsWhilePreviousDaemonLingers(t *testing.T) {
	killTimeout = 200 * time.Millisecond
	t.Cleanup(func() { killTimeout = 5 * time.Second })

	r := newTestRegistry(t)

	ctx, cancel := context.WithCancel(context.Background())
	stuck := &Daemon{name: "minicap", cmd: &exec.Cmd{}, ctx: ctx, cancel: cancel, done: make(chan struct{})}
	r.mu.Lock()
	r.daemons["minicap"] = stuck
	r.mu.Unlock()

	_, err := r.Start(context.Background(), "minicap", sleepSpec(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "still running")

	got, ok := r.Get("minicap")
	require.True(t, ok, "a daemon that did not exit stays registered")
	assert.Same(t, stuck, got)
	assert.Equal(t, []string{"minicap"}, r.Names())

	close(stuck.done)

	d, err := r.Start(context.Background(), "minicap", sleepSpec(), nil)
	require.NoError(t, err)
	assert.NotSame(t, stuck, d)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_DifferentNamesCoexist(t *testing.T) {
	r := newTestRegistry(t)

	_, err := r.Start(context.Background(), "minicap", sleepSpec(), nil)
	require.NoError(t, err)
	_, err = r.Start(context.Background(), "orientation", sleepSpec(), nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"minicap", "orientation"}, r.Names())
}

func TestRegistry_SpawnFailure(t *testing.T) {
	r := newTestRegistry(t)

	_, err := r.Start(context.Background(), "minicap", Spec{Path: "/nonexistent/minicap"}, nil)
	assert.Error(t, err)
	assert.Equal(t, 0, r.Len())

	_, err = r.Start(context.Background(), "empty", Spec{}, nil)
	assert.Error(t, err)
}

func TestRegistry_ExitedDaemonIsForgotten(t *testing.T) {
	r := newTestRegistry(t)

	d, err := r.Start(context.Background(), "short", shellSpec("exit 0"), nil)
	require.NoError(t, err)

	select {
	case <-d.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not exit")
	}

	assert.Eventually(t, func() bool { return r.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.NoError(t, d.Err())
}

func TestRegistry_ListenerReceivesLinesInOrder(t *testing.T) {
	r := newTestRegistry(t)

	var mu sync.Mutex
	var lines []string
	listener := func(line string) {
		mu.Lock()
		lines = append(lines, line)
		mu.Unlock()
	}

	_, err := r.Start(context.Background(), "orientation", shellSpec("echo 0; echo; echo '  90  '; echo 180 1>&2; echo 270"), listener)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(lines) == 4
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"0", "90", "180", "270"}, lines)
}

func TestRegistry_ListenerPanicDoesNotStopPump(t *testing.T) {
	r := newTestRegistry(t)

	received := make(chan string, 4)
	listener := func(line string) {
		if line == "boom" {
			panic("bad line")
		}
		received <- line
	}

	_, err := r.Start(context.Background(), "orientation", shellSpec("echo 90; echo boom; echo 180"), listener)
	require.NoError(t, err)

	for _, want := range []string{"90", "180"} {
		select {
		case got := <-received:
			assert.Equal(t, want, got)
		case <-time.After(5 * time.Second):
			t.Fatalf("did not receive %q", want)
		}
	}
}

func TestRegistry_OverlongLineDoesNotBlockDaemon(t *testing.T) {
	r := newTestRegistry(t)

	received := make(chan string, 4)
	d, err := r.Start(context.Background(), "orientation",
		shellSpec("echo 90; head -c 3000000 /dev/zero; echo; echo 180"),
		func(line string) { received <- line })
	require.NoError(t, err)

	select {
	case got := <-received:
		assert.Equal(t, "90", got)
	case <-time.After(5 * time.Second):
		t.Fatal("did not receive the first line")
	}

	select {
	case <-d.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("daemon blocked writing output after an overlong line")
	}
}

func TestRegistry_StopDaemonIgnoresSuperseded(t *testing.T) {
	r := newTestRegistry(t)

	first, err := r.Start(context.Background(), "minicap", sleepSpec(), nil)
	require.NoError(t, err)
	second, err := r.Start(context.Background(), "minicap", sleepSpec(), nil)
	require.NoError(t, err)

	require.NoError(t, r.StopDaemon(first))

	got, ok := r.Get("minicap")
	require.True(t, ok, "stopping a stale daemon must keep its successor registered")
	assert.Same(t, second, got)
	assert.False(t, second.Exited())
}

func TestRegistry_StopAndContextCancel(t *testing.T) {
	r := newTestRegistry(t)

	d, err := r.Start(context.Background(), "minicap", sleepSpec(), nil)
	require.NoError(t, err)
	require.NoError(t, r.Stop("minicap"))
	assert.True(t, d.Exited())
	assert.Equal(t, 0, r.Len())
	assert.NoError(t, r.Stop("minicap"), "stopping an unknown daemon is a no-op")

	ctx, cancel := context.WithCancel(context.Background())
	d, err = r.Start(ctx, "orientation", sleepSpec(), nil)
	require.NoError(t, err)
	cancel()

	select {
	case <-d.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("cancelling the parent context must kill the daemon")
	}
}

func TestSpec_String(t *testing.T) {
	spec := Spec{Path: "adb", Args: []string{"-s", "emulator-5554", "shell", "ls"}}
	assert.Equal(t, "adb -s emulator-5554 shell ls", spec.String())
}
