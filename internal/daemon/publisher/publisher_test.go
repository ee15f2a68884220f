package publisher

import (
	"net"
	"testing"
	"time"

	"github.com/wedaly/caesium/internal/daemon/pipeline"
	"github.com/wedaly/caesium/internal/quantile"
	"github.com/wedaly/caesium/internal/wire"
)

// fakeServer accepts a single connection at a time and lets the test
// script the status it replies with for each insert it receives.
type fakeServer struct {
	ln     net.Listener
	status wire.InsertStatus
	got    chan string
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	return &fakeServer{ln: ln, status: wire.InsertOK, got: make(chan string, 16)}
}

func (f *fakeServer) addr() string { return f.ln.Addr().String() }

func (f *fakeServer) close() { f.ln.Close() }

func (f *fakeServer) serveOnce(t *testing.T) {
	t.Helper()
	conn, err := f.ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()
	wc := wire.NewConn(conn)
	for {
		op, body, err := wc.ReadFrame()
		if err != nil {
			return
		}
		if op != wire.OpInsert {
			return
		}
		metric, _, _, _, err := wire.DecodeInsertRequest(body)
		if err != nil {
			return
		}
		f.got <- metric
		if err := wc.WriteInsertResponse(f.status); err != nil {
			return
		}
	}
}

func sealedWindow(metric string, values ...uint64) pipeline.SealedWindow {
	sk := quantile.New()
	for _, v := range values {
		sk.Insert(v)
	}
	return pipeline.SealedWindow{Metric: metric, Start: 0, End: 30, Sketch: sk}
}

func TestPublisherDeliversToServer(t *testing.T) {
	srv := newFakeServer(t)
	defer srv.close()
	go srv.serveOnce(t)

	pub := New(Config{ServerAddr: srv.addr(), RetryBackoff: 5 * time.Millisecond})
	if err := pub.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer pub.Stop()

	pub.Publish(sealedWindow("app.latency", 1, 2, 3))

	select {
	case metric := <-srv.got:
		if metric != "app.latency" {
			t.Errorf("expected app.latency, got %q", metric)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the server to receive an insert")
	}

	deadline := time.After(2 * time.Second)
	for {
		if pub.Stats().Published == 1 {
			break
		}
		select {
		case <-time.After(10 * time.Millisecond):
		case <-deadline:
			t.Fatal("timed out waiting for Published stat to reach 1")
		}
	}
}

func TestPublisherDropsOldestWhenQueueFull(t *testing.T) {
	pub := New(Config{ServerAddr: "127.0.0.1:1", QueueSize: 2})
	// Don't Start: nothing drains the queue, so Publish alone exercises
	// the drop-oldest path deterministically.
	pub.Publish(sealedWindow("a"))
	pub.Publish(sealedWindow("b"))
	pub.Publish(sealedWindow("c"))

	if got := pub.Stats().Dropped; got != 1 {
		t.Fatalf("expected 1 dropped window, got %d", got)
	}
	if len(pub.queue) != 2 {
		t.Fatalf("expected queue length 2, got %d", len(pub.queue))
	}
}

func TestPublisherRetriesAfterConnectionFailure(t *testing.T) {
	// Start pointed at a closed port so the first send fails, then bring
	// up the real server and confirm the publisher reconnects and
	// eventually delivers.
	probe, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := probe.Addr().String()
	probe.Close() // now nothing is listening on addr

	pub := New(Config{ServerAddr: addr, RetryBackoff: 10 * time.Millisecond, MaxBackoff: 20 * time.Millisecond})
	if err := pub.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer pub.Stop()

	pub.Publish(sealedWindow("app.latency", 1))

	// Give it a couple of failed attempts before the server comes up.
	time.Sleep(50 * time.Millisecond)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		t.Skipf("could not rebind %s: %v", addr, err)
	}
	srv := &fakeServer{ln: ln, status: wire.InsertOK, got: make(chan string, 16)}
	defer srv.close()
	go srv.serveOnce(t)

	select {
	case metric := <-srv.got:
		if metric != "app.latency" {
			t.Errorf("expected app.latency, got %q", metric)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for the publisher to recover and deliver")
	}

	if pub.Stats().Retries == 0 {
		t.Error("expected at least one retry to have been recorded")
	}
}
