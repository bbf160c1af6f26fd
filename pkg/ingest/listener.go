// Package ingest runs the UDP listeners and the pipeline that turns raw
// datagrams into normalized events in the document store.
package ingest

import (
	"errors"
	"net"
	"sync"

	"github.com/edgewatch/edgewatch/pkg/metrics"
	"github.com/edgewatch/edgewatch/pkg/util"
)

const (
	// maxDatagramSize fits the largest UDP payload a sender can produce.
	maxDatagramSize = 65535
	queueDepth      = 1024
)

// Handler processes one datagram. Handlers run on pool workers, never on the
// receive loop.
type Handler func(raw []byte, addr *net.UDPAddr)

type datagram struct {
	raw  []byte
	addr *net.UDPAddr
}

// UDPListener reads datagrams from one socket and fans them out to a bounded
// worker pool. The receive loop never blocks on handlers: when the queue is
// full the datagram is dropped and counted.
type UDPListener struct {
	name    string
	addr    string
	workers int
	handler Handler

	mu      sync.Mutex
	running bool
	conn    *net.UDPConn
	queue   chan datagram
	recvWG  sync.WaitGroup
	workWG  sync.WaitGroup
}

// NewUDPListener prepares a listener; no socket is opened until Start.
func NewUDPListener(name, addr string, workers int, handler Handler) *UDPListener {
	if workers < 1 {
		workers = 1
	}
	return &UDPListener{name: name, addr: addr, workers: workers, handler: handler}
}

// Start binds the socket and launches the receive loop and workers.
// Starting a running listener is a no-op.
func (l *UDPListener) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return nil
	}

	udpAddr, err := net.ResolveUDPAddr("udp", l.addr)
	if err != nil {
		return err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return err
	}
	// Large socket buffer so bursts survive scheduling hiccups. Best effort:
	// the OS may clamp it.
	_ = conn.SetReadBuffer(1 << 20)

	l.conn = conn
	l.queue = make(chan datagram, queueDepth)
	for i := 0; i < l.workers; i++ {
		l.workWG.Add(1)
		go l.worker()
	}
	l.recvWG.Add(1)
	go l.receive()
	l.running = true

	util.WithComponent("ingest").
		WithField("listener", l.name).
		WithField("addr", conn.LocalAddr().String()).
		Info("UDP listener started")
	return nil
}

// Stop closes the socket and waits for in-flight datagrams to finish.
// Stopping a stopped listener is a no-op.
func (l *UDPListener) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.running {
		return
	}
	_ = l.conn.Close()
	l.recvWG.Wait()
	close(l.queue)
	l.workWG.Wait()
	l.running = false

	util.WithComponent("ingest").WithField("listener", l.name).Info("UDP listener stopped")
}

// Addr reports the bound address, or "" before Start.
func (l *UDPListener) Addr() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return ""
	}
	return l.conn.LocalAddr().String()
}

func (l *UDPListener) receive() {
	defer l.recvWG.Done()
	buf := make([]byte, maxDatagramSize)
	for {
		n, addr, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			util.WithComponent("ingest").WithField("listener", l.name).
				WithError(err).Warn("UDP read failed")
			continue
		}
		metrics.DatagramsReceived.WithLabelValues(l.name).Inc()

		raw := make([]byte, n)
		copy(raw, buf[:n])
		select {
		case l.queue <- datagram{raw: raw, addr: addr}:
		default:
			metrics.DatagramsDropped.WithLabelValues(l.name).Inc()
		}
	}
}

func (l *UDPListener) worker() {
	defer l.workWG.Done()
	for d := range l.queue {
		l.dispatch(d)
	}
}

// dispatch isolates handler panics so one bad datagram cannot take the
// listener down.
func (l *UDPListener) dispatch(d datagram) {
	defer func() {
		if r := recover(); r != nil {
			util.WithComponent("ingest").WithField("listener", l.name).
				Errorf("handler panic: %v", r)
		}
	}()
	l.handler(d.raw, d.addr)
}
