package daemon

import (
	"net"
	"sync"
	"testing"
	"time"
)

type fakeInserter struct {
	mu   sync.Mutex
	got  []string
	vals []uint64
}

func (f *fakeInserter) Insert(metric string, value uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, metric)
	f.vals = append(f.vals, value)
}

func (f *fakeInserter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.got)
}

func TestListenerParsesAndInsertsSamples(t *testing.T) {
	ins := &fakeInserter{}
	l, err := Listen("127.0.0.1:0", ins)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer l.Close()

	go l.Serve()

	conn, err := net.Dial("udp", l.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("app.latency:42|ms\napp.errors:1|ms")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for ins.count() < 2 {
		select {
		case <-time.After(10 * time.Millisecond):
		case <-deadline:
			t.Fatalf("timed out waiting for 2 inserts, got %d", ins.count())
		}
	}

	if l.Stats().PacketsReceived != 1 {
		t.Errorf("expected 1 packet received, got %d", l.Stats().PacketsReceived)
	}
	if l.Stats().LinesParsed != 2 {
		t.Errorf("expected 2 lines parsed, got %d", l.Stats().LinesParsed)
	}
}

func TestListenerTracksDroppedLines(t *testing.T) {
	ins := &fakeInserter{}
	l, err := Listen("127.0.0.1:0", ins)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer l.Close()

	go l.Serve()

	conn, err := net.Dial("udp", l.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("garbage\napp.latency:1|ms")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for ins.count() < 1 {
		select {
		case <-time.After(10 * time.Millisecond):
		case <-deadline:
			t.Fatalf("timed out waiting for 1 insert, got %d", ins.count())
		}
	}
	if l.Stats().LinesDropped != 1 {
		t.Errorf("expected 1 dropped line, got %d", l.Stats().LinesDropped)
	}
}

func TestCloseUnblocksServe(t *testing.T) {
	l, err := Listen("127.0.0.1:0", &fakeInserter{})
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- l.Serve() }()

	l.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected Serve to return nil on Close, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after Close")
	}
}
