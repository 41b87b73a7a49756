package stream

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
)

// Session is one open transport-level session.
type Session interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, payload []byte) error
	Close() error
}

// Dialer opens transport sessions.
type Dialer interface {
	Dial(ctx context.Context, url string) (Session, error)
}

// WebsocketDialer dials sessions over github.com/coder/websocket.
type WebsocketDialer struct {
	HTTPClient *http.Client
	Header     http.Header
	// ReadLimit caps a single inbound frame. Zero keeps the library default.
	ReadLimit int64
}

// Dial opens a websocket session.
func (d WebsocketDialer) Dial(ctx context.Context, url string) (Session, error) {
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPClient: d.HTTPClient,
		HTTPHeader: d.Header,
	})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	if d.ReadLimit > 0 {
		conn.SetReadLimit(d.ReadLimit)
	}
	return &websocketSession{conn: conn}, nil
}

type websocketSession struct {
	conn *websocket.Conn
}

func (s *websocketSession) Read(ctx context.Context) ([]byte, error) {
	_, data, err := s.conn.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	return data, nil
}

func (s *websocketSession) Write(ctx context.Context, payload []byte) error {
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.conn.Write(writeCtx, websocket.MessageText, payload); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

func (s *websocketSession) Close() error {
	return s.conn.Close(websocket.StatusNormalClosure, "")
}
