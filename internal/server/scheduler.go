package server

import (
	"container/list"
	"context"
	"crypto/tls"
	"errors"
	"net"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"
)

// Scheduler bounds the number of live client connections. Every accepted
// connection holds one slot until it is closed; keep-alive connections that
// sit idle while all slots are taken are reclaimed oldest first.
type Scheduler struct {
	logger   *logrus.Logger
	nthreads int
	slots    chan struct{}
	done     chan struct{}
	stop     sync.Once

	mu        sync.Mutex
	listeners []net.Listener
	conns     map[net.Conn]*trackedConn
	idle      *list.List

	wg        sync.WaitGroup
	reclaimed atomic.Uint64
}

// NewScheduler creates a scheduler admitting at most nthreads connections.
func NewScheduler(nthreads int, logger *logrus.Logger) (*Scheduler, error) {
	if nthreads <= 0 {
		return nil, errors.New("nthreads must be positive")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	return &Scheduler{
		logger:   logger,
		nthreads: nthreads,
		slots:    make(chan struct{}, nthreads),
		done:     make(chan struct{}),
		conns:    make(map[net.Conn]*trackedConn),
		idle:     list.New(),
	}, nil
}

// Listen wraps ln so that accepted connections are admitted through the
// scheduler. ln may be a TLS listener.
func (s *Scheduler) Listen(ln net.Listener) net.Listener {
	l := &listener{Listener: ln, s: s}
	s.mu.Lock()
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()
	return l
}

// Attach installs the idle tracking hook on srv.
func (s *Scheduler) Attach(srv *fasthttp.Server) {
	srv.ConnState = s.ConnState
}

// ConnState tracks which connections wait for their next request.
func (s *Scheduler) ConnState(c net.Conn, state fasthttp.ConnState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tc, ok := s.conns[c]
	if !ok {
		return
	}
	switch state {
	case fasthttp.StateIdle:
		if tc.idleElem == nil {
			tc.idleElem = s.idle.PushBack(tc)
		}
	case fasthttp.StateActive:
		s.leaveIdleLocked(tc)
	case fasthttp.StateClosed, fasthttp.StateHijacked:
		s.leaveIdleLocked(tc)
		delete(s.conns, c)
	}
}

// Active is the number of connections holding a slot.
func (s *Scheduler) Active() int {
	return len(s.slots)
}

// IdleCount is the number of connections waiting in keep-alive.
func (s *Scheduler) IdleCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idle.Len()
}

// Reclaimed counts idle connections closed to admit new ones.
func (s *Scheduler) Reclaimed() uint64 {
	return s.reclaimed.Load()
}

// Shutdown stops accepting, closes every live connection and waits until
// all of them have been released or ctx expires.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.stop.Do(func() { close(s.done) })

	s.mu.Lock()
	lns := s.listeners
	s.listeners = nil
	s.mu.Unlock()
	for _, ln := range lns {
		ln.Close()
	}

	s.mu.Lock()
	for _, tc := range s.conns {
		tc.Conn.Close()
	}
	s.mu.Unlock()

	released := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(released)
	}()
	select {
	case <-released:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) stopped() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// reclaimIdle closes the oldest idle connection once idle connections hold
// every slot.
func (s *Scheduler) reclaimIdle() {
	s.mu.Lock()
	if s.idle.Len() < s.nthreads {
		s.mu.Unlock()
		return
	}
	front := s.idle.Front()
	tc := front.Value.(*trackedConn)
	s.idle.Remove(front)
	tc.idleElem = nil
	s.mu.Unlock()

	s.reclaimed.Add(1)
	s.logger.WithFields(logrus.Fields{
		"action": "scheduler",
		"remote": tc.RemoteAddr().String(),
	}).Debug("idle_connection_reclaimed")
	tc.Close()
}

func (s *Scheduler) register(key net.Conn, tc *trackedConn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped() {
		return false
	}
	s.conns[key] = tc
	s.wg.Add(1)
	return true
}

func (s *Scheduler) release(tc *trackedConn) {
	s.mu.Lock()
	s.leaveIdleLocked(tc)
	delete(s.conns, tc.key)
	s.mu.Unlock()
	<-s.slots
	s.wg.Done()
}

func (s *Scheduler) leaveIdleLocked(tc *trackedConn) {
	if tc.idleElem != nil {
		s.idle.Remove(tc.idleElem)
		tc.idleElem = nil
	}
}

type listener struct {
	net.Listener
	s    *Scheduler
	once sync.Once
	err  error
}

// Accept returns net.ErrClosed after Shutdown so the serve loop ends
// cleanly. Any other accept failure is passed through.
func (l *listener) Accept() (net.Conn, error) {
	raw, err := l.Listener.Accept()
	if err != nil {
		if l.s.stopped() {
			return nil, net.ErrClosed
		}
		return nil, err
	}

	l.s.reclaimIdle()
	select {
	case l.s.slots <- struct{}{}:
	case <-l.s.done:
		raw.Close()
		return nil, net.ErrClosed
	}

	tc := &trackedConn{Conn: raw, s: l.s}
	var out net.Conn = tc
	if _, ok := raw.(*tls.Conn); ok {
		out = &tlsTrackedConn{trackedConn: tc}
	}
	tc.key = out
	if !l.s.register(out, tc) {
		raw.Close()
		<-l.s.slots
		return nil, net.ErrClosed
	}
	return out, nil
}

func (l *listener) Close() error {
	l.once.Do(func() { l.err = l.Listener.Close() })
	return l.err
}

type trackedConn struct {
	net.Conn
	s        *Scheduler
	key      net.Conn
	idleElem *list.Element
	once     sync.Once
}

// Close closes the socket and gives the slot back exactly once.
func (c *trackedConn) Close() error {
	err := c.Conn.Close()
	c.once.Do(func() { c.s.release(c) })
	return err
}

// tlsTrackedConn lets fasthttp see the TLS state behind the wrapper.
type tlsTrackedConn struct {
	*trackedConn
}

func (c *tlsTrackedConn) Handshake() error {
	return c.Conn.(*tls.Conn).Handshake()
}

func (c *tlsTrackedConn) ConnectionState() tls.ConnectionState {
	return c.Conn.(*tls.Conn).ConnectionState()
}
