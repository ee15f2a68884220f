// Package cliclient is the thin wire client caesium-cli's subcommands
// share: one TCP round trip per insert, one per query, each on its own
// short-lived connection.
package cliclient

import (
	"fmt"
	"net"
	"time"

	cserrors "github.com/wedaly/caesium/internal/errors"
	"github.com/wedaly/caesium/internal/wire"
)

// Client dials a fresh connection per call. Caesium's query socket is
// one-request-per-connection and its insert socket answers each frame
// before reading the next (see internal/server), so there is no
// persistent session to manage here.
type Client struct {
	Addr    string
	Timeout time.Duration
}

// New returns a Client with a sane default timeout.
func New(addr string) *Client {
	return &Client{Addr: addr, Timeout: 10 * time.Second}
}

// Insert sends one sealed window and returns the server's status.
func (c *Client) Insert(metric string, start, end uint64, sketchBytes []byte) (wire.InsertStatus, error) {
	conn, err := net.DialTimeout("tcp", c.Addr, c.Timeout)
	if err != nil {
		return 0, fmt.Errorf("dial %s: %w", c.Addr, err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(c.Timeout))

	body, err := wire.EncodeInsertRequest(metric, start, end, sketchBytes)
	if err != nil {
		return 0, err
	}
	wc := wire.NewConn(conn)
	if err := wc.WriteFrame(wire.OpInsert, body); err != nil {
		return 0, fmt.Errorf("write insert: %w", err)
	}
	return wc.ReadInsertResponse()
}

// Query sends queryText and returns the server's status and payload.
func (c *Client) Query(queryText string) (wire.QueryStatus, []byte, error) {
	conn, err := net.DialTimeout("tcp", c.Addr, c.Timeout)
	if err != nil {
		return 0, nil, fmt.Errorf("dial %s: %w", c.Addr, err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(c.Timeout))

	wc := wire.NewConn(conn)
	if err := wc.WriteFrame(wire.OpQuery, wire.EncodeQueryRequest(queryText)); err != nil {
		return 0, nil, fmt.Errorf("write query: %w", err)
	}
	return wc.ReadQueryResponse()
}

// StatusError turns a non-OK query status into an error, or nil if status is ok.
func StatusError(status wire.QueryStatus, payload []byte) error {
	switch status {
	case wire.QueryOK:
		return nil
	case wire.QueryTimeout:
		return cserrors.ErrTimeout
	case wire.QueryBadRequest:
		return fmt.Errorf("%w: %s", cserrors.ErrQuerySyntax, payload)
	default:
		return fmt.Errorf("%w: %s", cserrors.ErrInternal, payload)
	}
}
