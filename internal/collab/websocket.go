package collab

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

const maxMessageSize = 8 << 20

// wsPeer writes to a websocket. Writes are serialised because data frames, pings
// and control replies share the connection.
type wsPeer struct {
	conn    net.Conn
	timeout time.Duration

	mu   sync.Mutex
	once sync.Once
}

func (p *wsPeer) Send(msg []byte) error {
	return p.write(ws.OpText, msg)
}

func (p *wsPeer) ping() error {
	return p.write(ws.OpPing, nil)
}

func (p *wsPeer) write(op ws.OpCode, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.conn.SetWriteDeadline(time.Now().Add(p.timeout)); err != nil {
		return err
	}
	return wsutil.WriteServerMessage(p.conn, op, payload)
}

func (p *wsPeer) Close() error {
	err := net.ErrClosed
	p.once.Do(func() { err = p.conn.Close() })
	return err
}

// MetaFromRequest collects the client details carried by an upgrade request.
func MetaFromRequest(r *http.Request) ClientMeta {
	return ClientMeta{
		RemoteAddr:   r.RemoteAddr,
		ForwardedFor: r.Header.Get("X-Forwarded-For"),
		UserAgent:    r.UserAgent(),
	}
}

// ServeHTTP upgrades the request to a websocket and serves it until the client
// leaves or stays silent for longer than the configured timeout.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}
	peer := &wsPeer{conn: conn, timeout: s.cfg.Timeout}

	c, err := s.Connect(peer, MetaFromRequest(r))
	if err != nil {
		body := ws.NewCloseFrameBody(ws.StatusGoingAway, err.Error())
		_ = ws.WriteFrame(conn, ws.NewCloseFrame(body))
		_ = peer.Close()
		return
	}
	defer c.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go s.keepAlive(ctx, peer)
	s.readLoop(ctx, c, peer)
}

func (s *Server) readLoop(ctx context.Context, c *Connection, p *wsPeer) {
	control := wsutil.ControlFrameHandler(p.conn, ws.StateServerSide)
	handleControl := func(h ws.Header, r io.Reader) error {
		p.mu.Lock()
		defer p.mu.Unlock()
		return control(h, r)
	}
	rd := &wsutil.Reader{
		Source:         p.conn,
		State:          ws.StateServerSide,
		CheckUTF8:      true,
		OnIntermediate: handleControl,
	}

	for {
		if err := p.conn.SetReadDeadline(time.Now().Add(s.cfg.Timeout)); err != nil {
			return
		}
		hdr, err := rd.NextFrame()
		if err != nil {
			s.logReadEnd(c, err)
			return
		}
		if hdr.OpCode.IsControl() {
			if err := handleControl(hdr, rd); err != nil {
				s.logReadEnd(c, err)
				return
			}
			continue
		}
		if hdr.OpCode&(ws.OpText|ws.OpBinary) == 0 {
			if err := rd.Discard(); err != nil {
				return
			}
			continue
		}

		data, err := io.ReadAll(io.LimitReader(rd, maxMessageSize+1))
		if err != nil {
			s.logReadEnd(c, err)
			return
		}
		if len(data) > maxMessageSize {
			s.logger.Warn("client message too large", "connection", c.id, "limit", maxMessageSize)
			return
		}
		if err := c.Receive(ctx, data); err != nil {
			s.logger.Debug("rejected client message", "connection", c.id, "error", err)
		}
	}
}

func (s *Server) logReadEnd(c *Connection, err error) {
	var closed wsutil.ClosedError
	var netErr net.Error
	switch {
	case errors.As(err, &closed), errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		return
	case errors.As(err, &netErr) && netErr.Timeout():
		s.logger.Info("client timed out", "connection", c.id, "timeout", s.cfg.Timeout)
	default:
		s.logger.Debug("websocket read ended", "connection", c.id, "error", err)
	}
}

// keepAlive pings at half the timeout so responsive clients never hit the read
// deadline.
func (s *Server) keepAlive(ctx context.Context, p *wsPeer) {
	ticker := time.NewTicker(s.cfg.Timeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.ping(); err != nil {
				_ = p.Close()
				return
			}
		}
	}
}
