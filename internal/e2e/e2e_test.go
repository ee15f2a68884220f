// Package e2e wires a full caesium-daemon and caesium-server together
// in-process and drives them over real UDP/TCP sockets, covering the
// scenarios a deployed system is actually exercised by: a statsd
// packet arriving at the daemon ends up queryable on the server.
package e2e

import (
	"net"
	"os"
	"testing"
	"time"

	"github.com/wedaly/caesium/internal/daemon"
	"github.com/wedaly/caesium/internal/daemon/pipeline"
	"github.com/wedaly/caesium/internal/daemon/publisher"
	"github.com/wedaly/caesium/internal/server"
	"github.com/wedaly/caesium/internal/storage/store"
	"github.com/wedaly/caesium/internal/storage/windowlog"
	"github.com/wedaly/caesium/internal/wire"
)

type testSystem struct {
	store      *store.Store
	srv        *server.Server
	listener   *daemon.Listener
	pipe       *pipeline.Service
	pub        *publisher.Publisher
	insertAddr string
	queryAddr  string
	udpAddr    string
}

func startSystem(t *testing.T, windowSize time.Duration) *testSystem {
	t.Helper()

	dir, err := os.MkdirTemp("", "caesium-e2e")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	s, err := store.Open(dir, windowlog.DefaultOptions())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}

	srv := server.New(server.Config{
		InsertAddr:    "127.0.0.1:0",
		QueryAddr:     "127.0.0.1:0",
		QueryDeadline: 5 * time.Second,
	}, s, nil)

	go srv.Run()

	var insertAddr, queryAddr string
	deadline := time.After(2 * time.Second)
	for insertAddr == "" || queryAddr == "" {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for server listeners to bind")
		case <-time.After(5 * time.Millisecond):
		}
		if a := srv.InsertAddr(); a != nil {
			insertAddr = a.String()
		}
		if a := srv.QueryAddr(); a != nil {
			queryAddr = a.String()
		}
	}

	pub := publisher.New(publisher.Config{
		ServerAddr:   insertAddr,
		RetryBackoff: 10 * time.Millisecond,
		MaxBackoff:   50 * time.Millisecond,
	})
	if err := pub.Start(); err != nil {
		t.Fatalf("publisher.Start: %v", err)
	}

	pipe := pipeline.New(windowSize, pub)
	if err := pipe.Start(); err != nil {
		t.Fatalf("pipeline.Start: %v", err)
	}

	listener, err := daemon.Listen("127.0.0.1:0", pipe)
	if err != nil {
		t.Fatalf("daemon.Listen: %v", err)
	}
	go listener.Serve()

	sys := &testSystem{
		store: s, srv: srv, listener: listener, pipe: pipe, pub: pub,
		insertAddr: insertAddr, queryAddr: queryAddr, udpAddr: listener.Addr().String(),
	}
	t.Cleanup(sys.stop)
	return sys
}

func (sys *testSystem) stop() {
	sys.listener.Close()
	sys.pipe.Stop()
	sys.pub.Stop()
	sys.srv.Shutdown()
	sys.store.Close()
}

func (sys *testSystem) sendStatsdPacket(t *testing.T, packet string) {
	t.Helper()
	conn, err := net.Dial("udp", sys.udpAddr)
	if err != nil {
		t.Fatalf("Dial udp: %v", err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte(packet)); err != nil {
		t.Fatalf("Write: %v", err)
	}
}

func (sys *testSystem) query(t *testing.T, text string) (wire.QueryStatus, []byte) {
	t.Helper()
	conn, err := net.Dial("tcp", sys.queryAddr)
	if err != nil {
		t.Fatalf("Dial query: %v", err)
	}
	defer conn.Close()
	wc := wire.NewConn(conn)
	if err := wc.WriteFrame(wire.OpQuery, wire.EncodeQueryRequest(text)); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	status, payload, err := wc.ReadQueryResponse()
	if err != nil {
		t.Fatalf("ReadQueryResponse: %v", err)
	}
	return status, payload
}

// TestStatsdPacketIsQueryableAfterWindowSeals drives a sample from a raw
// UDP statsd packet through the daemon's aggregation pipeline, across
// the publisher's TCP connection, into the server's window store, and
// back out through a quantile query — the full system's one job.
func TestStatsdPacketIsQueryableAfterWindowSeals(t *testing.T) {
	sys := startSystem(t, 200*time.Millisecond)

	sys.sendStatsdPacket(t, "app.latency:10|ms\napp.latency:20|ms\napp.latency:30|ms")

	deadline := time.After(3 * time.Second)
	var status wire.QueryStatus
	var payload []byte
	for {
		status, payload = sys.query(t, `quantile(fetch("app.latency"), 0.5)`)
		if status == wire.QueryOK && len(payload) > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for a sealed window to become queryable, last status=%v payload=%q", status, payload)
		case <-time.After(20 * time.Millisecond):
		}
	}
}

// TestUnparseableLinesDoNotBlockGoodSamplesEndToEnd confirms a malformed
// line in a statsd packet is dropped without losing the well-formed
// samples sharing that packet.
func TestUnparseableLinesDoNotBlockGoodSamplesEndToEnd(t *testing.T) {
	sys := startSystem(t, 200*time.Millisecond)

	sys.sendStatsdPacket(t, "garbage-line\napp.errors:1|ms")

	deadline := time.After(3 * time.Second)
	for {
		status, payload := sys.query(t, `search("app.*")`)
		if status == wire.QueryOK && string(payload) == "app.errors" {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for app.errors to become searchable")
		case <-time.After(20 * time.Millisecond):
		}
	}
}
