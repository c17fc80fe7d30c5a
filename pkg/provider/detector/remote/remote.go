// Package remote provides a detector provider that talks to an inference
// server over a persistent WebSocket connection.
//
// Wire protocol, one exchange per frame:
//
//	client → server  text   {"type":"frame","seq":N,"width":W,"height":H,"rotation":R}
//	client → server  binary <image bytes>
//	server → client  text   {"type":"result","seq":N,"detections":[...]}
//	                     or {"type":"error","seq":N,"message":"..."}
//
// Responses carrying a sequence number other than the one just sent are
// discarded, so a reply that arrives after its request timed out never leaks
// into the next exchange. The connection is dialled lazily and re-dialled after
// any transport error.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/makeabledk/firebasevision/pkg/provider/detector"
	"github.com/makeabledk/firebasevision/pkg/types"
)

// Compile-time interface assertion.
var _ detector.Provider = (*Provider)(nil)

const (
	defaultDialTimeout = 10 * time.Second
	defaultReadLimit   = 1 << 20
)

// ErrClosed is returned by Detect after Close has been called.
var ErrClosed = errors.New("remote: provider is closed")

// Option is a functional option for configuring the remote Provider.
type Option func(*Provider)

// WithToken sets a bearer token sent in the Authorization header on dial.
func WithToken(token string) Option {
	return func(p *Provider) {
		p.token = token
	}
}

// WithDialTimeout bounds how long establishing the connection may take.
func WithDialTimeout(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.dialTimeout = d
		}
	}
}

// Provider implements detector.Provider over a WebSocket connection.
type Provider struct {
	url         string
	token       string
	dialTimeout time.Duration

	mu     sync.Mutex
	conn   *websocket.Conn
	seq    uint64
	closed bool
}

// New creates a remote Provider for the given ws:// or wss:// URL.
func New(url string, opts ...Option) (*Provider, error) {
	if url == "" {
		return nil, errors.New("remote: url must not be empty")
	}
	p := &Provider{
		url:         url,
		dialTimeout: defaultDialTimeout,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

type frameHeader struct {
	Type     string `json:"type"`
	Seq      uint64 `json:"seq"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Rotation int    `json:"rotation"`
}

type reply struct {
	Type       string            `json:"type"`
	Seq        uint64            `json:"seq"`
	Detections []types.Detection `json:"detections"`
	Message    string            `json:"message"`
}

// Detect sends frame to the inference server and waits for the matching reply.
// Exchanges are serialised on the single connection.
func (p *Provider) Detect(ctx context.Context, frame types.Frame) (*types.DetectionResult, error) {
	if len(frame.Data) == 0 {
		return nil, detector.ErrEmptyFrame
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrClosed
	}
	conn, err := p.connLocked(ctx)
	if err != nil {
		return nil, err
	}

	p.seq++
	seq := p.seq
	res, err := exchange(ctx, conn, seq, frame)
	if err != nil {
		var remoteErr *ServerError
		if !errors.As(err, &remoteErr) {
			// Transport failure: drop the connection and re-dial next time.
			conn.Close(websocket.StatusInternalError, "exchange failed")
			p.conn = nil
		}
		return nil, err
	}
	return res, nil
}

// ServerError is returned when the inference server answers with an error
// reply. The connection stays usable.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string { return "remote: server error: " + e.Message }

// exchange performs one request/reply round trip on conn.
func exchange(ctx context.Context, conn *websocket.Conn, seq uint64, frame types.Frame) (*types.DetectionResult, error) {
	hdr, err := json.Marshal(frameHeader{
		Type:     "frame",
		Seq:      seq,
		Width:    frame.Metadata.Width,
		Height:   frame.Metadata.Height,
		Rotation: int(frame.Metadata.Rotation),
	})
	if err != nil {
		return nil, fmt.Errorf("remote: encode header: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, hdr); err != nil {
		return nil, fmt.Errorf("remote: write header: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageBinary, frame.Data); err != nil {
		return nil, fmt.Errorf("remote: write frame: %w", err)
	}

	for {
		typ, msg, err := conn.Read(ctx)
		if err != nil {
			return nil, fmt.Errorf("remote: read reply: %w", err)
		}
		if typ != websocket.MessageText {
			continue
		}
		var r reply
		if err := json.Unmarshal(msg, &r); err != nil {
			return nil, fmt.Errorf("remote: decode reply: %w", err)
		}
		if r.Seq != seq {
			continue
		}
		switch r.Type {
		case "result":
			return &types.DetectionResult{
				Detections: r.Detections,
				Frame:      frame.Metadata,
				Provider:   "remote",
			}, nil
		case "error":
			return nil, &ServerError{Message: r.Message}
		default:
			return nil, fmt.Errorf("remote: unexpected reply type %q", r.Type)
		}
	}
}

// connLocked returns the live connection, dialling if necessary. p.mu must be held.
func (p *Provider) connLocked(ctx context.Context) (*websocket.Conn, error) {
	if p.conn != nil {
		return p.conn, nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, p.dialTimeout)
	defer cancel()

	var opts websocket.DialOptions
	if p.token != "" {
		opts.HTTPHeader = http.Header{}
		opts.HTTPHeader.Set("Authorization", "Bearer "+p.token)
	}
	conn, _, err := websocket.Dial(dialCtx, p.url, &opts)
	if err != nil {
		return nil, fmt.Errorf("remote: dial: %w", err)
	}
	conn.SetReadLimit(defaultReadLimit)
	p.conn = conn
	return conn, nil
}

// Close closes the connection. Calling Close more than once is safe and
// returns nil.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if p.conn != nil {
		err := p.conn.Close(websocket.StatusNormalClosure, "provider closed")
		p.conn = nil
		return err
	}
	return nil
}
