// Package collab runs the real-time collaboration sessions: it owns one live
// replica per document name, seeds it from the entity's stored description and
// relays edits between the connected clients.
package collab

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"docsync/api/internal/content"
	"docsync/api/internal/crdt"
	"docsync/api/internal/metrics"
	"docsync/api/internal/richtext"
)

const (
	DefaultTimeout     = 30 * time.Second
	DefaultDebounce    = 2 * time.Second
	DefaultMaxDebounce = 10 * time.Second
	DefaultUnloadDelay = 2 * time.Second
)

var (
	ErrUnknownDocument = errors.New("collab: document not loaded")
	ErrServerClosed    = errors.New("collab: server closed")
)

// LoadPolicy decides what a load event does to a replica that already has content.
type LoadPolicy string

const (
	// PolicyOverwrite re-seeds from the datastore on every load event, discarding
	// in-memory state. Restarts never resurrect edits that were not saved.
	PolicyOverwrite LoadPolicy = "overwrite"
	// PolicySeedIfEmpty seeds only an empty replica and keeps existing state.
	PolicySeedIfEmpty LoadPolicy = "seed-if-empty"
)

// ParseLoadPolicy accepts the configuration spelling of a policy.
func ParseLoadPolicy(s string) (LoadPolicy, error) {
	switch p := LoadPolicy(s); p {
	case PolicyOverwrite, PolicySeedIfEmpty:
		return p, nil
	case "":
		return PolicyOverwrite, nil
	default:
		return "", fmt.Errorf("unknown load policy %q", s)
	}
}

type Config struct {
	// Timeout bounds idle connections and each load event.
	Timeout time.Duration
	// Debounce and MaxDebounce govern when edits count as settled: Debounce
	// after the last change, but no later than MaxDebounce after the first.
	Debounce    time.Duration
	MaxDebounce time.Duration
	// UnloadDelay is how long a document without clients stays in memory.
	UnloadDelay time.Duration
	LoadPolicy  LoadPolicy
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Debounce <= 0 {
		c.Debounce = DefaultDebounce
	}
	if c.MaxDebounce < c.Debounce {
		c.MaxDebounce = max(DefaultMaxDebounce, c.Debounce)
	}
	if c.UnloadDelay <= 0 {
		c.UnloadDelay = DefaultUnloadDelay
	}
	if c.LoadPolicy == "" {
		c.LoadPolicy = PolicyOverwrite
	}
	return c
}

// Loader supplies document content.
type Loader interface {
	Load(ctx context.Context, name string) content.Result
	LoadFresh(ctx context.Context, name string) content.Result
}

// StoreFunc runs once a document's changes have settled. Descriptions are saved
// by an explicit user action elsewhere, so the default only logs.
type StoreFunc func(ctx context.Context, name string, doc *crdt.Doc) error

type Option func(*Server)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

func WithStore(fn StoreFunc) Option {
	return func(s *Server) {
		if fn != nil {
			s.store = fn
		}
	}
}

// Server owns the live documents and the connections editing them.
type Server struct {
	cfg     Config
	loader  Loader
	store   StoreFunc
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu     sync.Mutex
	docs   map[string]*document
	conns  map[*Connection]struct{}
	closed bool
}

func NewServer(cfg Config, loader Loader, opts ...Option) *Server {
	s := &Server{
		cfg:    cfg.withDefaults(),
		loader: loader,
		logger: slog.New(slog.DiscardHandler),
		docs:   make(map[string]*document),
		conns:  make(map[*Connection]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.store == nil {
		s.store = s.logSettled
	}
	return s
}

func (s *Server) Config() Config {
	return s.cfg
}

func (s *Server) logSettled(_ context.Context, name string, doc *crdt.Doc) error {
	s.logger.Debug("changes settled", "document", name, "clients", len(doc.StateVector()))
	return nil
}

// Reload re-derives a loaded document from the datastore, replacing its content
// for every connected client regardless of the load policy.
func (s *Server) Reload(ctx context.Context, name string) (richtext.SeedResult, error) {
	s.mu.Lock()
	d, ok := s.docs[name]
	s.mu.Unlock()
	if !ok {
		return richtext.SeedResult{}, ErrUnknownDocument
	}

	d.mu.Lock()
	ready := d.ready
	d.mu.Unlock()
	select {
	case <-ready:
	case <-ctx.Done():
		return richtext.SeedResult{}, ctx.Err()
	}

	d.mu.Lock()
	if d.state == StateUnloaded {
		d.mu.Unlock()
		return richtext.SeedResult{}, ErrUnknownDocument
	}
	d.mu.Unlock()

	started := time.Now()
	res := s.loader.LoadFresh(ctx, name)
	res.Log(s.logger)
	s.metrics.ObserveLoad(string(res.Outcome), time.Since(started))

	seed := s.seed(d, res.Content)
	s.logger.Info("document reloaded",
		"document", name,
		"outcome", string(res.Outcome),
		"mode", string(seed.Mode),
		"cleared", seed.Cleared,
	)
	if !seed.Update.Empty() {
		d.broadcast(encodeMessage(Message{Type: MsgUpdate, Document: name, Update: &seed.Update}), nil)
	}
	return seed, nil
}

// DocumentInfo is a diagnostic snapshot of one document.
type DocumentInfo struct {
	Name        string            `json:"name"`
	State       State             `json:"state"`
	Session     string            `json:"session"`
	Connections int               `json:"connections"`
	LoadedAt    time.Time         `json:"loadedAt"`
	Seed        richtext.SeedMode `json:"seed,omitempty"`
	Pending     int               `json:"pending"`
	StateVector crdt.StateVector  `json:"stateVector"`
	HTML        string            `json:"html"`
}

// Inspect describes a document held in memory.
func (s *Server) Inspect(name string) (DocumentInfo, error) {
	s.mu.Lock()
	d, ok := s.docs[name]
	s.mu.Unlock()
	if !ok {
		return DocumentInfo{}, ErrUnknownDocument
	}
	d.mu.Lock()
	info := DocumentInfo{
		Name:        name,
		State:       d.state,
		Session:     d.session,
		Connections: len(d.conns),
		LoadedAt:    d.loadedAt,
		Seed:        d.seedMode,
	}
	d.mu.Unlock()
	info.Pending = d.doc.Pending()
	info.StateVector = d.doc.StateVector()
	info.HTML = richtext.DocHTML(d.doc)
	return info, nil
}

// Stats summarises the server.
type Stats struct {
	Connections int           `json:"connections"`
	Documents   int           `json:"documents"`
	States      map[State]int `json:"states"`
	Names       []string      `json:"names"`
}

func (s *Server) Stats() Stats {
	s.mu.Lock()
	docs := make([]*document, 0, len(s.docs))
	for _, d := range s.docs {
		docs = append(docs, d)
	}
	stats := Stats{Connections: len(s.conns), Documents: len(s.docs), States: map[State]int{}}
	s.mu.Unlock()

	for _, d := range docs {
		d.mu.Lock()
		stats.States[d.state]++
		d.mu.Unlock()
		stats.Names = append(stats.Names, d.name)
	}
	sort.Strings(stats.Names)
	return stats
}

// Shutdown disconnects every client and runs the store hook for documents with
// unsettled changes. New connections are refused afterwards.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	conns := make([]*Connection, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}

	s.mu.Lock()
	docs := make([]*document, 0, len(s.docs))
	for name, d := range s.docs {
		docs = append(docs, d)
		delete(s.docs, name)
	}
	s.mu.Unlock()

	for _, d := range docs {
		d.mu.Lock()
		d.stopTimers()
		d.state = StateUnloaded
		d.mu.Unlock()
		s.flush(ctx, d)
		s.metrics.DocumentUnloaded()
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("shutdown collaboration server: %w", err)
		}
	}
	s.logger.Info("collaboration server stopped", "connections", len(conns), "documents", len(docs))
	return nil
}
