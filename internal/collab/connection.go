package collab

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"docsync/api/internal/crdt"
	"docsync/api/internal/util"
)

var ErrConnectionClosed = errors.New("collab: connection closed")

// Peer is the transport end of a connection. Send must be safe for concurrent
// use and Close must be idempotent.
type Peer interface {
	Send(msg []byte) error
	Close() error
}

// ClientMeta is what the transport knows about the client. Every field is
// optional.
type ClientMeta struct {
	RemoteAddr   string
	ForwardedFor string
	UserAgent    string
}

// Origin returns the first forwarded-for hop, else the socket address.
func (m ClientMeta) Origin() string {
	first, _, _ := strings.Cut(m.ForwardedFor, ",")
	if first = strings.TrimSpace(first); first != "" {
		return first
	}
	if m.RemoteAddr != "" {
		return m.RemoteAddr
	}
	return "unknown"
}

// Connection is one client session. A connection may join several documents.
type Connection struct {
	id       string
	clientID uint64
	server   *Server
	peer     Peer
	meta     ClientMeta
	opened   time.Time

	mu     sync.Mutex
	docs   map[string]*document
	closed bool
}

// Connect registers a client and greets it with its replica client id.
func (s *Server) Connect(peer Peer, meta ClientMeta) (*Connection, error) {
	c := &Connection{
		id:       util.NewID("conn"),
		clientID: util.NewClientID(),
		server:   s,
		peer:     peer,
		meta:     meta,
		opened:   time.Now(),
		docs:     make(map[string]*document),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrServerClosed
	}
	s.conns[c] = struct{}{}
	total := len(s.conns)
	s.mu.Unlock()

	s.metrics.ConnectionOpened()
	s.logger.Info("client connected",
		"connection", c.id,
		"origin", meta.Origin(),
		"user_agent", meta.UserAgent,
		"connections", total,
	)
	c.send(encodeMessage(Message{Type: MsgWelcome, ClientID: c.clientID}))
	return c, nil
}

func (c *Connection) ID() string {
	return c.id
}

// ClientID is the replica client id the peer must use for its own edits.
func (c *Connection) ClientID() uint64 {
	return c.clientID
}

func (c *Connection) Meta() ClientMeta {
	return c.meta
}

// Receive handles one message from the peer. Protocol errors are reported to
// the peer and returned; the connection stays usable.
func (c *Connection) Receive(ctx context.Context, data []byte) error {
	msg, err := decodeMessage(data)
	if err == nil {
		switch msg.Type {
		case MsgPing:
			c.send(encodeMessage(Message{Type: MsgPong}))
		case MsgJoin:
			err = c.join(ctx, msg)
		case MsgUpdate:
			err = c.update(msg)
		case MsgAwareness:
			err = c.awareness(msg)
		case MsgLeave:
			c.leave(msg.Document)
		}
	}
	if err != nil {
		c.send(encodeMessage(Message{Type: MsgError, Document: msg.Document, Message: err.Error()}))
		return err
	}
	return nil
}

func (c *Connection) joined(name string) (*document, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.docs[name]
	if !ok {
		return nil, fmt.Errorf("%w: not joined to %q", ErrProtocol, name)
	}
	return d, nil
}

func (c *Connection) join(ctx context.Context, msg Message) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrConnectionClosed
	}
	d, ok := c.docs[msg.Document]
	c.mu.Unlock()

	if !ok {
		var err error
		if d, err = c.server.acquire(ctx, msg.Document, c); err != nil {
			return fmt.Errorf("join %s: %w", msg.Document, err)
		}
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			c.server.release(d, c)
			return ErrConnectionClosed
		}
		c.docs[msg.Document] = d
		c.mu.Unlock()

		d.mu.Lock()
		count := len(d.conns)
		d.mu.Unlock()
		c.server.logger.Info("client joined document",
			"document", d.name,
			"connection", c.id,
			"origin", c.meta.Origin(),
			"connections", count,
		)
	}

	reply := Message{Type: MsgSync, Document: d.name, Session: d.session}
	var update crdt.Update
	if msg.Session != "" && msg.Session != d.session {
		reply.Reset = true
		update = d.doc.Diff(nil)
	} else {
		update = d.doc.Diff(msg.StateVector)
	}
	reply.Update = &update
	reply.StateVector = d.doc.StateVector()
	c.send(encodeMessage(reply))

	for clientID, state := range d.awarenessExcept(c.clientID) {
		c.send(encodeMessage(Message{Type: MsgAwareness, Document: d.name, ClientID: clientID, State: state}))
	}
	return nil
}

func (c *Connection) update(msg Message) error {
	d, err := c.joined(msg.Document)
	if err != nil {
		return err
	}
	if writers := c.foreignWriters(d, *msg.Update); len(writers) > 0 {
		c.server.logger.Warn("update carries operations of another replica",
			"document", d.name,
			"connection", c.id,
			"client_id", c.clientID,
			"writers", writers,
		)
	}
	if err := d.doc.Apply(*msg.Update); err != nil {
		return fmt.Errorf("%w: apply update: %w", ErrProtocol, err)
	}
	if msg.Update.Empty() {
		return nil
	}
	d.broadcast(encodeMessage(Message{Type: MsgUpdate, Document: d.name, Update: msg.Update}), c)
	c.server.metrics.UpdateRelayed()
	c.server.markDirty(d)
	return nil
}

// foreignWriters lists the client ids in u that are neither this connection's
// own nor already known to the document. The server replica's id is always
// foreign.
func (c *Connection) foreignWriters(d *document, u crdt.Update) []uint64 {
	known := d.doc.StateVector()
	seen := make(map[uint64]bool)
	var writers []uint64
	for _, op := range u.Ops {
		w := op.ID.Client
		if w == c.clientID || seen[w] {
			continue
		}
		seen[w] = true
		if _, ok := known[w]; ok && w != d.doc.Client() {
			continue
		}
		writers = append(writers, w)
	}
	slices.Sort(writers)
	return writers
}

func (c *Connection) awareness(msg Message) error {
	d, err := c.joined(msg.Document)
	if err != nil {
		return err
	}
	state := msg.State
	if len(state) == 0 {
		state = nullState
	}
	d.setAwareness(c.clientID, state)
	d.broadcast(encodeMessage(Message{Type: MsgAwareness, Document: d.name, ClientID: c.clientID, State: state}), c)
	return nil
}

func (c *Connection) leave(name string) {
	c.mu.Lock()
	d, ok := c.docs[name]
	delete(c.docs, name)
	c.mu.Unlock()
	if ok {
		c.server.release(d, c)
	}
}

// Close leaves every joined document and closes the peer. It is safe to call
// more than once.
func (c *Connection) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	docs := c.docs
	c.docs = make(map[string]*document)
	c.mu.Unlock()

	names := make([]string, 0, len(docs))
	for name, d := range docs {
		names = append(names, name)
		c.server.release(d, c)
	}
	sort.Strings(names)

	s := c.server
	s.mu.Lock()
	delete(s.conns, c)
	total := len(s.conns)
	s.mu.Unlock()

	_ = c.peer.Close()
	s.metrics.ConnectionClosed()
	s.logger.Info("client disconnected",
		"connection", c.id,
		"origin", c.meta.Origin(),
		"documents", names,
		"connections", total,
		"duration", time.Since(c.opened).Round(time.Millisecond),
	)
}

func (c *Connection) send(msg []byte) {
	if err := c.peer.Send(msg); err != nil {
		c.server.logger.Debug("send to client failed", "connection", c.id, "error", err)
		_ = c.peer.Close()
	}
}
