package cliclient

import (
	"net"
	"testing"

	"github.com/wedaly/caesium/internal/wire"
)

func TestInsertRoundTrip(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		wc := wire.NewConn(conn)
		op, body, err := wc.ReadFrame()
		if err != nil || op != wire.OpInsert {
			return
		}
		metric, _, _, _, err := wire.DecodeInsertRequest(body)
		if err != nil || metric != "app.latency" {
			wc.WriteInsertResponse(wire.InsertBadRequest)
			return
		}
		wc.WriteInsertResponse(wire.InsertOK)
	}()

	c := New(ln.Addr().String())
	status, err := c.Insert("app.latency", 0, 30, []byte("sketch-bytes"))
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if status != wire.InsertOK {
		t.Errorf("expected InsertOK, got %v", status)
	}
}

func TestQueryRoundTrip(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		wc := wire.NewConn(conn)
		op, body, err := wc.ReadFrame()
		if err != nil || op != wire.OpQuery {
			return
		}
		text := wire.DecodeQueryRequest(body)
		if text != `search("app.*")` {
			wc.WriteQueryResponse(wire.QueryBadRequest, nil)
			return
		}
		wc.WriteQueryResponse(wire.QueryOK, []byte("app.latency\napp.errors"))
	}()

	c := New(ln.Addr().String())
	status, payload, err := c.Query(`search("app.*")`)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if status != wire.QueryOK {
		t.Fatalf("expected QueryOK, got %v", status)
	}
	if string(payload) != "app.latency\napp.errors" {
		t.Errorf("unexpected payload: %q", payload)
	}
}

func TestStatusErrorMapsNonOKStatuses(t *testing.T) {
	if err := StatusError(wire.QueryOK, nil); err != nil {
		t.Errorf("expected nil for QueryOK, got %v", err)
	}
	if err := StatusError(wire.QueryTimeout, nil); err == nil {
		t.Error("expected an error for QueryTimeout")
	}
	if err := StatusError(wire.QueryBadRequest, []byte("bad syntax")); err == nil {
		t.Error("expected an error for QueryBadRequest")
	}
}
