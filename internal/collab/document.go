package collab

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"docsync/api/internal/crdt"
	"docsync/api/internal/richtext"
	"docsync/api/internal/util"
)

// State is the lifecycle stage of a document:
//
//	unloaded -> loading -> active -> idle -> unloaded
//
// An idle document that gets a client before UnloadDelay passes goes back
// through loading.
type State string

const (
	StateUnloaded State = "unloaded"
	StateLoading  State = "loading"
	StateActive   State = "active"
	StateIdle     State = "idle"
)

var nullState = json.RawMessage("null")

type document struct {
	name string
	doc  *crdt.Doc
	// session changes whenever the replica is created anew, so clients holding
	// state from an earlier replica can be told to reset.
	session string

	mu          sync.Mutex
	state       State
	ready       chan struct{}
	conns       map[*Connection]struct{}
	awareness   map[uint64]json.RawMessage
	loadedAt    time.Time
	seedMode    richtext.SeedMode
	dirtySince  time.Time
	storeTimer  *time.Timer
	unloadTimer *time.Timer
}

func newDocument(name string) *document {
	return &document{
		name:      name,
		doc:       crdt.NewDoc(util.NewClientID()),
		session:   util.NewID("sess"),
		state:     StateUnloaded,
		ready:     make(chan struct{}),
		conns:     make(map[*Connection]struct{}),
		awareness: make(map[uint64]json.RawMessage),
	}
}

// stopTimers cancels pending store and unload callbacks. Callers hold d.mu.
func (d *document) stopTimers() {
	if d.storeTimer != nil {
		d.storeTimer.Stop()
		d.storeTimer = nil
	}
	if d.unloadTimer != nil {
		d.unloadTimer.Stop()
		d.unloadTimer = nil
	}
}

// broadcast sends msg to every client of the document except one.
func (d *document) broadcast(msg []byte, except *Connection) {
	d.mu.Lock()
	targets := make([]*Connection, 0, len(d.conns))
	for c := range d.conns {
		if c != except {
			targets = append(targets, c)
		}
	}
	d.mu.Unlock()
	for _, c := range targets {
		c.send(msg)
	}
}

func (d *document) setAwareness(clientID uint64, state json.RawMessage) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if string(state) == string(nullState) {
		delete(d.awareness, clientID)
		return
	}
	d.awareness[clientID] = state
}

func (d *document) awarenessExcept(clientID uint64) map[uint64]json.RawMessage {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[uint64]json.RawMessage, len(d.awareness))
	for id, state := range d.awareness {
		if id != clientID {
			out[id] = state
		}
	}
	return out
}

// acquire registers c with the named document, running the load event when the
// document is unloaded or idle, and returns once the document is active.
func (s *Server) acquire(ctx context.Context, name string, c *Connection) (*document, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrServerClosed
	}
	d, ok := s.docs[name]
	if !ok {
		d = newDocument(name)
		s.docs[name] = d
		s.metrics.DocumentLoaded()
	}
	d.mu.Lock()
	s.mu.Unlock()

	d.conns[c] = struct{}{}
	load := false
	switch d.state {
	case StateUnloaded:
		d.state = StateLoading
		load = true
	case StateIdle:
		if d.unloadTimer != nil {
			d.unloadTimer.Stop()
			d.unloadTimer = nil
		}
		d.state = StateLoading
		d.ready = make(chan struct{})
		load = true
	}
	ready := d.ready
	d.mu.Unlock()

	if load {
		s.load(ctx, d)
		return d, nil
	}
	select {
	case <-ready:
		return d, nil
	case <-ctx.Done():
		s.release(d, c)
		return nil, ctx.Err()
	}
}

// load runs a load event. It is detached from the caller's cancellation because
// other clients may be waiting on the same load.
func (s *Server) load(ctx context.Context, d *document) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.Timeout)
	defer cancel()

	started := time.Now()
	res := s.loader.Load(ctx, d.name)
	res.Log(s.logger)
	s.metrics.ObserveLoad(string(res.Outcome), time.Since(started))

	if s.cfg.LoadPolicy == PolicySeedIfEmpty && !d.doc.IsEmpty() {
		s.logger.Debug("kept existing document state", "document", d.name, "policy", string(s.cfg.LoadPolicy))
	} else {
		s.seed(d, res.Content)
	}

	d.mu.Lock()
	d.state = StateActive
	d.loadedAt = time.Now()
	close(d.ready)
	if len(d.conns) == 0 {
		s.idleLocked(d)
	}
	d.mu.Unlock()
}

func (s *Server) seed(d *document, src string) richtext.SeedResult {
	res := richtext.Seed(d.doc, src)
	s.metrics.ObserveSeed(string(res.Mode))
	switch {
	case res.Err != nil && res.Mode == richtext.SeedPlainText:
		s.logger.Warn("seeded document from plain text", "document", d.name, "error", res.Err)
	case res.Err != nil:
		s.logger.Error("seed document", "document", d.name, "mode", string(res.Mode), "error", res.Err)
	default:
		s.logger.Debug("seeded document", "document", d.name, "mode", string(res.Mode), "cleared", res.Cleared)
	}
	d.mu.Lock()
	d.seedMode = res.Mode
	d.mu.Unlock()
	return res
}

// idleLocked moves an active document without clients to idle and schedules its
// unload. Callers hold d.mu.
func (s *Server) idleLocked(d *document) {
	d.state = StateIdle
	d.unloadTimer = time.AfterFunc(s.cfg.UnloadDelay, func() { s.unload(d) })
}

// release removes c from the document. The last client out flushes unsettled
// changes and starts the unload countdown.
func (s *Server) release(d *document, c *Connection) {
	d.mu.Lock()
	if _, ok := d.conns[c]; !ok {
		d.mu.Unlock()
		return
	}
	delete(d.conns, c)
	_, hadAwareness := d.awareness[c.clientID]
	delete(d.awareness, c.clientID)
	remaining := len(d.conns)
	idle := remaining == 0 && d.state == StateActive
	if idle {
		s.idleLocked(d)
	}
	d.mu.Unlock()

	if hadAwareness {
		d.broadcast(encodeMessage(Message{
			Type:     MsgAwareness,
			Document: d.name,
			ClientID: c.clientID,
			State:    nullState,
		}), c)
	}
	s.logger.Info("client left document",
		"document", d.name,
		"connection", c.id,
		"origin", c.meta.Origin(),
		"connections", remaining,
	)
	if idle {
		s.flush(context.Background(), d)
	}
}

func (s *Server) unload(d *document) {
	s.mu.Lock()
	d.mu.Lock()
	unloaded := d.state == StateIdle && len(d.conns) == 0
	if unloaded {
		d.state = StateUnloaded
		d.stopTimers()
		if s.docs[d.name] == d {
			delete(s.docs, d.name)
		}
	}
	d.mu.Unlock()
	s.mu.Unlock()

	if unloaded {
		s.metrics.DocumentUnloaded()
		s.logger.Debug("document unloaded", "document", d.name)
	}
}

// markDirty (re)arms the store hook after a change.
func (s *Server) markDirty(d *document) {
	now := time.Now()
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dirtySince.IsZero() {
		d.dirtySince = now
	}
	delay := debounceDelay(d.dirtySince, now, s.cfg.Debounce, s.cfg.MaxDebounce)
	if d.storeTimer != nil {
		d.storeTimer.Stop()
	}
	d.storeTimer = time.AfterFunc(delay, func() { s.flush(context.Background(), d) })
}

// debounceDelay is how long to wait before the store hook runs: debounce after
// the latest change, but never past maxDebounce after the first unsettled one.
func debounceDelay(since, now time.Time, debounce, maxDebounce time.Duration) time.Duration {
	remaining := maxDebounce - now.Sub(since)
	if remaining <= 0 {
		return 0
	}
	return min(debounce, remaining)
}

// flush runs the store hook if the document has unsettled changes.
func (s *Server) flush(ctx context.Context, d *document) {
	d.mu.Lock()
	since := d.dirtySince
	if since.IsZero() {
		d.mu.Unlock()
		return
	}
	d.dirtySince = time.Time{}
	if d.storeTimer != nil {
		d.storeTimer.Stop()
		d.storeTimer = nil
	}
	d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	err := s.store(ctx, d.name, d.doc)
	s.metrics.StoreFlushed(err)
	if err != nil {
		s.logger.Error("store hook failed", "document", d.name, "error", err)
		return
	}
	s.logger.Debug("store hook ran", "document", d.name, "unsettled_for", time.Since(since))
}
