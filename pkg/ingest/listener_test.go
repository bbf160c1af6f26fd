package ingest

import (
	"net"
	"sync/atomic"
	"testing"
	"time"
)

func sendUDP(t *testing.T, addr string, payload []byte) {
	t.Helper()
	conn, err := net.Dial("udp", addr)
	if err != nil {
		t.Fatalf("dial %s: %v", addr, err)
	}
	defer conn.Close()
	if _, err := conn.Write(payload); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestListenerDeliversDatagram(t *testing.T) {
	got := make(chan []byte, 1)
	l := NewUDPListener("test", "127.0.0.1:0", 2, func(raw []byte, addr *net.UDPAddr) {
		got <- raw
	})
	if err := l.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer l.Stop()

	sendUDP(t, l.Addr(), []byte("hello"))

	select {
	case raw := <-got:
		if string(raw) != "hello" {
			t.Errorf("payload = %q, want hello", raw)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("handler never received the datagram")
	}
}

func TestListenerStartStopIdempotent(t *testing.T) {
	l := NewUDPListener("test", "127.0.0.1:0", 1, func([]byte, *net.UDPAddr) {})
	if err := l.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := l.Start(); err != nil {
		t.Errorf("second Start: %v, want nil", err)
	}
	l.Stop()
	l.Stop() // must not panic or block

	// A stopped listener can be started again.
	if err := l.Start(); err != nil {
		t.Fatalf("restart: %v", err)
	}
	l.Stop()
}

func TestListenerSurvivesHandlerPanic(t *testing.T) {
	var calls atomic.Int64
	got := make(chan struct{}, 2)
	l := NewUDPListener("test", "127.0.0.1:0", 1, func(raw []byte, addr *net.UDPAddr) {
		if calls.Add(1) == 1 {
			panic("first datagram is poison")
		}
		got <- struct{}{}
	})
	if err := l.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer l.Stop()

	sendUDP(t, l.Addr(), []byte("poison"))
	// The panic must not kill the worker; wait for it to be consumed before
	// sending the follow-up so ordering is deterministic with one worker.
	deadline := time.After(3 * time.Second)
	for calls.Load() < 1 {
		select {
		case <-deadline:
			t.Fatal("first datagram never reached the handler")
		case <-time.After(10 * time.Millisecond):
		}
	}

	sendUDP(t, l.Addr(), []byte("fine"))
	select {
	case <-got:
	case <-time.After(3 * time.Second):
		t.Fatal("listener did not survive the handler panic")
	}
}
