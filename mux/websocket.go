package mux

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// WebSocketListener accepts WebSocket clients on an HTTP path and hands
// each one out as a net.Conn carrying text messages, so browser editors
// can join the multiplexer like TCP clients. Messages use the same
// newline-terminated framing as every other source.
type WebSocketListener struct {
	path   string
	srv    *http.Server
	ln     net.Listener
	conns  chan net.Conn
	closed chan struct{}
	once   sync.Once
	logger *slog.Logger
}

// ListenWebSocket listens on addr and serves WebSocket upgrades on path.
// originPatterns is passed to websocket.AcceptOptions; empty only allows
// same-origin clients.
func ListenWebSocket(addr, path string, originPatterns []string, logger *slog.Logger) (*WebSocketListener, error) {
	if path == "" {
		path = "/"
	}
	if logger == nil {
		logger = slog.Default()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("websocket listen %s: %w", addr, err)
	}
	l := &WebSocketListener{
		path:   path,
		ln:     ln,
		conns:  make(chan net.Conn),
		closed: make(chan struct{}),
		logger: logger,
	}
	routes := http.NewServeMux()
	routes.Handle(path, l.handler(originPatterns))
	l.srv = &http.Server{Handler: routes, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := l.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("mux: websocket server stopped", "addr", addr, "err", err)
		}
	}()
	return l, nil
}

func (l *WebSocketListener) handler(originPatterns []string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: originPatterns})
		if err != nil {
			l.logger.Warn("mux: websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
			return
		}
		nc := websocket.NetConn(context.Background(), c, websocket.MessageText)
		select {
		case l.conns <- nc:
		case <-l.closed:
			c.Close(websocket.StatusGoingAway, "server shutting down")
		}
	})
}

// Accept waits for the next WebSocket client.
func (l *WebSocketListener) Accept() (net.Conn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case <-l.closed:
		return nil, net.ErrClosed
	}
}

// Close stops the HTTP server. Connections already handed out are owned by
// their acceptor.
func (l *WebSocketListener) Close() error {
	var err error
	l.once.Do(func() {
		close(l.closed)
		err = l.srv.Close()
	})
	return err
}

// Addr returns the listening address.
func (l *WebSocketListener) Addr() net.Addr { return l.ln.Addr() }

// URL returns the ws:// URL clients connect to.
func (l *WebSocketListener) URL() string {
	return "ws://" + l.ln.Addr().String() + l.path
}
