// Package minicap speaks the minicap screen capture protocol: it launches
// the capture daemon, forwards its abstract socket, and reads the banner and
// length prefixed JPEG frames off the connection.
package minicap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mobile-next/droidcap/devices/queue"
	"github.com/mobile-next/droidcap/devices/supervisor"
	"github.com/mobile-next/droidcap/utils"
	"github.com/sirupsen/logrus"
)

const (
	DefaultDaemonName   = "minicap"
	DefaultSocket       = "minicap"
	DefaultHost         = "127.0.0.1"
	DefaultReadyTimeout = 10 * time.Second

	initialRetryDelay = 100 * time.Millisecond
	maxRetryDelay     = time.Second
)

// Forwarder maps a local TCP port to a socket on the device.
type Forwarder interface {
	// Forward creates the mapping and returns the local port. A localPort of
	// 0 lets the forwarder pick one.
	Forward(localPort int, remote string) (int, error)
	RemoveForward(localPort int) error
}

// CommandFunc builds the daemon launch for a geometry.
type CommandFunc func(geom Geometry) supervisor.Spec

type Config struct {
	// Name is the daemon registry key.
	Name string
	// Socket is the abstract unix socket minicap listens on.
	Socket       string
	Host         string
	LocalPort    int
	ReadyTimeout time.Duration
	MaxFrameSize int
	Command      CommandFunc
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = DefaultDaemonName
	}
	if c.Socket == "" {
		c.Socket = DefaultSocket
	}
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = DefaultReadyTimeout
	}
	if c.MaxFrameSize <= 0 {
		c.MaxFrameSize = DefaultMaxFrameSize
	}
	return c
}

// Transport owns at most one capture session at a time.
type Transport struct {
	cfg       Config
	registry  *supervisor.Registry
	forwarder Forwarder

	mu      sync.Mutex
	session *session
}

func NewTransport(registry *supervisor.Registry, forwarder Forwarder, cfg Config) *Transport {
	return &Transport{
		cfg:       cfg.withDefaults(),
		registry:  registry,
		forwarder: forwarder,
	}
}

// Start tears down the current session and starts a new one for geom. Every
// frame read is handed to listener, in order, from a dedicated goroutine.
// Start returns once the daemon is spawned and the port is forwarded; the
// handshake and the frame loop run in the background.
func (t *Transport) Start(ctx context.Context, geom Geometry, listener func([]byte)) error {
	if err := geom.Validate(); err != nil {
		return err
	}
	if t.cfg.Command == nil {
		return errors.New("minicap: no launch command configured")
	}
	if listener == nil {
		return errors.New("minicap: frame listener is required")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.session != nil {
		t.session.stop()
		t.session = nil
	}

	spec := t.cfg.Command(geom)
	daemon, err := t.registry.Start(ctx, t.cfg.Name, spec, nil)
	if err != nil {
		metrics.SessionFailures.WithLabelValues("spawn").Inc()
		return fmt.Errorf("failed to start minicap: %w", err)
	}

	port, err := t.forwarder.Forward(t.localPort(), "localabstract:"+t.cfg.Socket)
	if err != nil {
		metrics.SessionFailures.WithLabelValues("forward").Inc()
		_ = t.registry.StopDaemon(daemon)
		return fmt.Errorf("failed to forward minicap socket: %w", err)
	}

	s := newSession(ctx, t, geom, daemon, port)
	t.session = s
	s.log.Infof("Starting capture session %s on port %d", geom, port)
	s.run(listener)

	return nil
}

// localPort picks the port to forward. A configured port already taken by
// another device moves to the next free one; 0 lets adb choose.
func (t *Transport) localPort() int {
	port := t.cfg.LocalPort
	if port <= 0 {
		return 0
	}

	// ports on a remote adb server cannot be probed from here
	ip := net.ParseIP(t.cfg.Host)
	if t.cfg.Host != "localhost" && (ip == nil || !ip.IsLoopback()) {
		return port
	}
	if utils.IsPortAvailable(t.cfg.Host, port) {
		return port
	}

	free, err := utils.FindAvailablePort(t.cfg.Host, port+1, min(port+100, 65535))
	if err != nil {
		utils.Verbose("No free port near %d, letting adb choose: %v", port, err)
		return 0
	}
	utils.Verbose("Port %d is busy, forwarding minicap to %d", port, free)
	return free
}

// Stop tears down the current session and waits for its goroutines.
func (t *Transport) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.session != nil {
		t.session.stop()
		t.session = nil
	}
}

func (t *Transport) current() *session {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.session
}

// SessionID returns the id of the current session, or "" when idle.
func (t *Transport) SessionID() string {
	if s := t.current(); s != nil {
		return s.id
	}
	return ""
}

// Active reports whether a session exists and has not ended.
func (t *Transport) Active() bool {
	s := t.current()
	return s != nil && !s.ended()
}

// Ended reports whether the current session stopped on its own, either on
// a socket error or because minicap closed the stream.
func (t *Transport) Ended() bool {
	s := t.current()
	return s != nil && s.ended()
}

func (t *Transport) Geometry() (Geometry, bool) {
	if s := t.current(); s != nil {
		return s.geom, true
	}
	return Geometry{}, false
}

// Banner returns the banner of the current session once the handshake is done.
func (t *Transport) Banner() (Banner, bool) {
	if s := t.current(); s != nil {
		return s.getBanner()
	}
	return Banner{}, false
}

// Port returns the forwarded local port of the current session.
func (t *Transport) Port() int {
	if s := t.current(); s != nil {
		return s.port
	}
	return 0
}

// Done returns a channel closed when the current session ends. It is nil
// when there is no session.
func (t *Transport) Done() <-chan struct{} {
	if s := t.current(); s != nil {
		return s.done
	}
	return nil
}

// Err returns the error that ended the current session, if any.
func (t *Transport) Err() error {
	if s := t.current(); s != nil {
		return s.getErr()
	}
	return nil
}

type session struct {
	id     string
	geom   Geometry
	port   int
	daemon *supervisor.Daemon
	t      *Transport
	log    *logrus.Entry

	ctx    context.Context
	cancel context.CancelFunc
	// dispatch outlives the socket so frames read before a clean end of
	// stream are still delivered; only stop and the parent context cut it short
	dispatchCtx    context.Context
	cancelDispatch context.CancelFunc
	frames         *queue.Queue[[]byte]
	wg             sync.WaitGroup
	done           chan struct{}
	once           sync.Once

	connMu sync.Mutex
	conn   net.Conn

	mu     sync.Mutex
	banner *Banner
	err    error
}

func newSession(parent context.Context, t *Transport, geom Geometry, daemon *supervisor.Daemon, port int) *session {
	ctx, cancel := context.WithCancel(parent)
	dispatchCtx, cancelDispatch := context.WithCancel(parent)
	id := uuid.New().String()
	s := &session{
		id:             id,
		geom:           geom,
		port:           port,
		daemon:         daemon,
		t:              t,
		log:            utils.WithFields(logrus.Fields{"session": id[:8], "daemon": daemon.Name()}),
		ctx:            ctx,
		cancel:         cancel,
		dispatchCtx:    dispatchCtx,
		cancelDispatch: cancelDispatch,
		frames:         queue.New[[]byte](),
		done:           make(chan struct{}),
	}
	context.AfterFunc(ctx, s.close)
	return s
}

func (s *session) run(listener func([]byte)) {
	s.wg.Add(2)
	go s.readLoop()
	go s.dispatch(listener)
}

func (s *session) dispatch(listener func([]byte)) {
	defer s.wg.Done()
	defer s.cancelDispatch()

	_ = queue.Dispatch(s.dispatchCtx, s.frames, func(frame []byte) {
		metrics.QueueDepth.Dec()
		listener(frame)
	})

	// frames left behind by a teardown are never delivered
	<-s.done
	metrics.QueueDepth.Sub(float64(s.frames.Len()))
}

func (s *session) readLoop() {
	defer s.wg.Done()
	defer s.close()

	conn, err := s.connect()
	if err != nil {
		if s.ctx.Err() != nil {
			return
		}
		metrics.SessionFailures.WithLabelValues("handshake").Inc()
		s.setErr(err)
		s.log.Warnf("Capture session aborted: %v", err)
		return
	}

	metrics.SessionsStarted.Inc()

	for {
		frame, err := ReadFrame(conn, s.t.cfg.MaxFrameSize)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			if errors.Is(err, io.EOF) {
				s.log.Info("Capture stream closed by device")
				return
			}
			reason := "read"
			if errors.Is(err, ErrFrameTooLarge) {
				reason = "frame_too_large"
			}
			metrics.SessionFailures.WithLabelValues(reason).Inc()
			s.setErr(err)
			s.log.Warnf("Capture stream failed: %v", err)
			return
		}

		metrics.FramesReceived.Inc()
		metrics.BytesReceived.Add(float64(len(frame)))
		metrics.QueueDepth.Inc()
		if !s.frames.Push(frame) {
			metrics.QueueDepth.Dec()
		}
	}
}

// connect dials the forwarded port and reads the banner, retrying until the
// daemon accepts connections or the ready timeout expires. adb accepts the
// local connection even when nothing listens on the device yet, so an early
// attempt shows up as a connection closed before the banner.
func (s *session) connect() (net.Conn, error) {
	ctx, cancel := context.WithTimeout(s.ctx, s.t.cfg.ReadyTimeout)
	defer cancel()

	backoff := utils.NewBackoff(initialRetryDelay, maxRetryDelay)
	for attempt := 1; ; attempt++ {
		conn, err := s.handshake(ctx)
		if err == nil {
			s.log.Debugf("Handshake completed after %d attempt(s)", attempt)
			return conn, nil
		}

		if s.daemon.Exited() {
			return nil, fmt.Errorf("minicap exited before accepting connections: %w", err)
		}

		s.log.Debugf("Handshake attempt %d failed: %v", attempt, err)
		if !backoff.Sleep(ctx) {
			if s.ctx.Err() != nil {
				return nil, s.ctx.Err()
			}
			return nil, fmt.Errorf("minicap not ready after %s: %w", s.t.cfg.ReadyTimeout, err)
		}
	}
}

func (s *session) handshake(ctx context.Context) (net.Conn, error) {
	dialer := net.Dialer{Control: utils.SetReuseAddr}
	addr := net.JoinHostPort(s.t.cfg.Host, strconv.Itoa(s.port))

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	if !s.setConn(conn) {
		return nil, s.ctx.Err()
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}

	banner, err := ReadBanner(conn)
	if err != nil {
		s.clearConn(conn)
		return nil, err
	}
	_ = conn.SetReadDeadline(time.Time{})

	s.mu.Lock()
	s.banner = &banner
	s.mu.Unlock()

	s.log.Infof("minicap banner: version %d, pid %d, real %dx%d, virtual %dx%d, orientation %d, quirks %d",
		banner.Version, banner.Pid, banner.RealWidth, banner.RealHeight,
		banner.VirtualWidth, banner.VirtualHeight, banner.Orientation, banner.Quirks)

	return conn, nil
}

// setConn records conn so a teardown can unblock reads. It refuses, and
// closes conn, when the session is already torn down.
func (s *session) setConn(conn net.Conn) bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.ctx.Err() != nil {
		_ = conn.Close()
		return false
	}
	s.conn = conn
	return true
}

func (s *session) clearConn(conn net.Conn) {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	_ = conn.Close()
	if s.conn == conn {
		s.conn = nil
	}
}

// close releases everything the session holds: socket, queue, daemon and
// forward. It runs once, from whichever side ends the session first.
func (s *session) close() {
	s.once.Do(func() {
		s.cancel()

		s.connMu.Lock()
		if s.conn != nil {
			_ = s.conn.Close()
			s.conn = nil
		}
		s.connMu.Unlock()

		s.frames.Close()

		if err := s.t.registry.StopDaemon(s.daemon); err != nil {
			s.log.Warnf("Failed to stop minicap: %v", err)
		}
		if err := s.t.forwarder.RemoveForward(s.port); err != nil {
			s.log.Debugf("Failed to remove forward tcp:%d: %v", s.port, err)
		}

		close(s.done)
		s.log.Debug("Capture session closed")
	})
}

func (s *session) stop() {
	s.close()
	s.cancelDispatch()
	s.wg.Wait()
}

func (s *session) ended() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *session) getBanner() (Banner, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.banner == nil {
		return Banner{}, false
	}
	return *s.banner, true
}

func (s *session) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *session) getErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
