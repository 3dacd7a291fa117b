// Package stream serves document feeds to websocket clients. Each connection
// opens one watch, either on a single document (/watch?key=) or on a query
// (/query?pattern=&order=&desc=&limit=), and receives every state of that watch
// as a JSON text message until the feed finishes or either side hangs up.
//
// Connections are admitted by a token bucket before the upgrade. Each client
// has a bounded outbox; a client that falls behind loses its oldest pending
// states, never the newest.
package stream

import (
	"context"
	"crypto/tls"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/c360/docfeed/errors"
	"github.com/c360/docfeed/feed"
	"github.com/c360/docfeed/health"
	"github.com/c360/docfeed/metric"
	"github.com/c360/docfeed/natsclient"
	"github.com/c360/docfeed/pkg/buffer"
	"github.com/c360/docfeed/pkg/tlsutil"
	"github.com/c360/docfeed/source"
	"github.com/c360/docfeed/state"
	"github.com/c360/docfeed/watch"
)

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics registers the server metrics and passes the core metrics to
// every watch the server opens.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(s *Server) { s.registry = registry }
}

// WithHealth reports every served feed to m.
func WithHealth(m *health.Monitor) Option {
	return func(s *Server) { s.health = m }
}

// WithListenOptions sets the listen options of every watch.
func WithListenOptions(opts source.ListenOptions) Option {
	return func(s *Server) { s.listen = opts }
}

// WithDecoder sets how document bodies become JSON messages.
func WithDecoder(decode state.Decoder[json.RawMessage]) Option {
	return func(s *Server) {
		if decode != nil {
			s.decode = decode
		}
	}
}

// Server streams feed states over websockets.
type Server struct {
	src      source.Source
	bucket   string
	cfg      Config
	decode   state.Decoder[json.RawMessage]
	listen   source.ListenOptions
	logger   *slog.Logger
	registry *metric.MetricsRegistry
	metrics  *streamMetrics
	health   *health.Monitor

	limiter  *rate.Limiter
	upgrader websocket.Upgrader
	tls      *tls.Config

	mu       sync.Mutex
	server   *http.Server
	clients  map[*client]struct{}
	closed   bool
	shutdown chan struct{}
	wg       sync.WaitGroup
}

type client struct {
	id   string
	conn *websocket.Conn
	out  *buffer.Buffer[any]
	gone chan struct{}
}

// NewServer creates a server reading documents of bucket from src.
func NewServer(src source.Source, bucket string, cfg Config, opts ...Option) (*Server, error) {
	if src == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "stream", "NewServer", "source is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	tlsConfig, err := tlsutil.LoadServerConfig(cfg.TLS)
	if err != nil {
		return nil, err
	}

	s := &Server{
		src:     src,
		bucket:  bucket,
		cfg:     cfg,
		decode:  state.JSON[json.RawMessage](),
		logger:  slog.Default(),
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(_ *http.Request) bool {
				return true // Allow all origins
			},
		},
		tls:      tlsConfig,
		clients:  make(map[*client]struct{}),
		shutdown: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "stream")

	m, err := newStreamMetrics(s.registry)
	if err != nil {
		return nil, errors.WrapTransient(err, "stream", "NewServer", "register metrics")
	}
	s.metrics = m
	return s, nil
}

// Handler returns the websocket endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/watch", s.handleWatch)
	mux.HandleFunc("/query", s.handleQuery)
	return mux
}

// Clients returns the number of connected clients.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Run serves on the configured port until ctx is cancelled, then closes every
// client.
func (s *Server) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.closed || s.server != nil {
		s.mu.Unlock()
		return errors.WrapInvalid(fmt.Errorf("server already running or closed"),
			"stream", "Run", "cannot start server twice")
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
		TLSConfig:         s.tls,
	}
	s.server = srv
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		if s.tls != nil {
			// Certificates come from TLSConfig.
			errCh <- srv.ListenAndServeTLS("", "")
			return
		}
		errCh <- srv.ListenAndServe()
	}()
	s.logger.Info("Stream server listening", "port", s.cfg.Port, "tls", s.tls != nil)

	select {
	case <-ctx.Done():
		return s.Close()
	case err := <-errCh:
		_ = s.Close()
		if err != nil && err != http.ErrServerClosed {
			return errors.WrapFatal(err, "stream", "Run",
				fmt.Sprintf("failed to start server on port %d", s.cfg.Port))
		}
		return nil
	}
}

// Close stops accepting connections, tells every client the server is going
// away and waits for their watches to close.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.shutdown)
	srv := s.server
	s.mu.Unlock()

	var err error
	if srv != nil {
		if cerr := srv.Close(); cerr != nil {
			err = errors.WrapTransient(cerr, "stream", "Close", "stop HTTP server")
		}
	}
	s.wg.Wait()
	s.metrics.unregister(s.registry)
	return err
}

func (s *Server) watchOptions() []watch.Option {
	opts := []watch.Option{
		watch.WithListenOptions(s.listen),
		watch.WithLogger(s.logger),
	}
	if s.registry != nil {
		opts = append(opts, watch.WithMetrics(s.registry.CoreMetrics()))
	}
	return opts
}

func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" || strings.ContainsAny(key, "*> ") {
		http.Error(w, "a plain document key is required", http.StatusBadRequest)
		return
	}
	c := s.accept(w, r)
	if c == nil {
		return
	}
	defer s.release(c)

	ref := natsclient.DocRef{Bucket: s.bucket, Key: key}
	wt := watch.WatchItem(s.src, ref, s.decode, state.Listener[state.ItemState[json.RawMessage]]{}, s.watchOptions()...)
	defer wt.Close()

	serveFeed(s, c, "watch "+ref.Path(), wt.Feed(), health.ItemStatus[json.RawMessage],
		func(st state.ItemState[json.RawMessage]) any { return NewItemMessage(key, st) })
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	q, err := ParseQuery(s.bucket, r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	c := s.accept(w, r)
	if c == nil {
		return
	}
	defer s.release(c)

	wt := watch.WatchCollection(s.src, q, s.decode, state.Listener[state.CollectionState[json.RawMessage]]{}, s.watchOptions()...)
	defer wt.Close()

	serveFeed(s, c, "query "+q.String(), wt.Feed(), health.CollectionStatus[json.RawMessage],
		func(st state.CollectionState[json.RawMessage]) any { return NewCollectionMessage(st) })
}

// ParseQuery builds a query on bucket from pattern, order, desc and limit
// parameters.
func ParseQuery(bucket string, v url.Values) (natsclient.DocQuery, error) {
	q := natsclient.DocQuery{Bucket: bucket, Pattern: v.Get("pattern")}

	switch v.Get("order") {
	case "", "key":
	case "revision":
		q.OrderBy = natsclient.OrderByRevision
	default:
		return q, errors.WrapInvalid(errors.ErrInvalidData, "stream", "ParseQuery",
			fmt.Sprintf("order %q is not one of key, revision", v.Get("order")))
	}
	if d := v.Get("desc"); d != "" {
		desc, err := strconv.ParseBool(d)
		if err != nil {
			return q, errors.WrapInvalid(err, "stream", "ParseQuery", "desc")
		}
		q.Descending = desc
	}
	if l := v.Get("limit"); l != "" {
		limit, err := strconv.Atoi(l)
		if err != nil || limit < 0 {
			return q, errors.WrapInvalid(errors.ErrInvalidData, "stream", "ParseQuery",
				fmt.Sprintf("limit %q is not a non-negative integer", l))
		}
		q.Limit = limit
	}
	return q, nil
}

// accept admits and upgrades one connection. It writes the refusal and
// returns nil when the request is not admitted.
func (s *Server) accept(w http.ResponseWriter, r *http.Request) *client {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		s.metrics.reject("shutting_down")
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return nil
	}
	if !s.limiter.Allow() {
		s.metrics.reject("rate_limited")
		http.Error(w, "too many subscriptions", http.StatusTooManyRequests)
		return nil
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		s.metrics.reject("upgrade_failed")
		s.logger.Debug("Websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return nil
	}

	out, err := buffer.New(s.cfg.QueueSize,
		buffer.WithOverflowPolicy[any](buffer.DropOldest),
		buffer.WithDropCallback(func(any) { s.metrics.dropped() }))
	if err != nil {
		_ = conn.Close()
		return nil
	}
	c := &client{id: uuid.NewString(), conn: conn, out: out, gone: make(chan struct{})}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	s.clients[c] = struct{}{}
	count := len(s.clients)
	s.wg.Add(1)
	s.mu.Unlock()

	s.metrics.setClients(count)
	s.logger.Debug("Client connected", "client", c.id, "remote", r.RemoteAddr, "path", r.URL.RequestURI())
	return c
}

// release runs after the client's watch is closed, so Close returns only once
// every upstream subscription is gone.
func (s *Server) release(c *client) {
	_ = c.conn.Close()
	_ = c.out.Close()

	s.mu.Lock()
	delete(s.clients, c)
	count := len(s.clients)
	s.mu.Unlock()

	s.metrics.setClients(count)
	s.logger.Debug("Client disconnected", "client", c.id)
	s.wg.Done()
}

// serveFeed sends every state of f to c until the feed finishes, the client
// leaves or the server shuts down.
func serveFeed[S any](s *Server, c *client, name string, f *feed.Feed[S], status func(S) state.Status,
	render func(S) any,
) {
	if s.health != nil {
		defer health.Track(s.health, "stream "+c.id[:8]+" "+name, f, status)()
	}

	finished := make(chan error, 1)
	stop := f.Subscribe(feed.Observer[S]{
		Next: func(st S) {
			_ = c.out.Write(render(st))
		},
		Done: func(reason error) {
			select {
			case finished <- reason:
			default:
			}
		},
	})
	defer stop()

	s.pump(c, finished)
}

// pump is the only goroutine writing data frames to c. Control frames may be
// written concurrently.
func (s *Server) pump(c *client, finished <-chan error) {
	go s.readLoop(c)

	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.out.Ready():
			if err := s.flush(c); err != nil {
				s.logger.Debug("Client write failed", "client", c.id, "error", err)
				return
			}
		case reason := <-finished:
			if err := s.flush(c); err != nil {
				return
			}
			text := "feed closed"
			if stderrors.Is(reason, errors.ErrFeedCompleted) {
				text = "feed completed"
			}
			s.closeWith(c, websocket.CloseNormalClosure, text)
			return
		case <-c.gone:
			return
		case <-s.shutdown:
			s.closeWith(c, websocket.CloseGoingAway, "server shutting down")
			return
		case <-ticker.C:
			deadline := time.Now().Add(s.cfg.WriteTimeout)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

func (s *Server) flush(c *client) error {
	for {
		batch := c.out.ReadBatch(32)
		if len(batch) == 0 {
			return nil
		}
		for _, msg := range batch {
			_ = c.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := c.conn.WriteJSON(msg); err != nil {
				return err
			}
			s.metrics.sent()
		}
	}
}

func (s *Server) closeWith(c *client, code int, text string) {
	deadline := time.Now().Add(s.cfg.WriteTimeout)
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), deadline)
}

// readLoop discards client messages and closes c.gone once the connection
// fails or the peer stops answering pings.
func (s *Server) readLoop(c *client) {
	defer close(c.gone)

	wait := 2 * s.cfg.PingInterval
	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(wait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
