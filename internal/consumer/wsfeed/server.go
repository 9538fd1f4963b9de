// Package wsfeed pushes every heart-rate update to connected WebSocket clients.
package wsfeed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/hrmon/internal/hr"
	"github.com/srg/hrmon/internal/httpserve"
	"github.com/srg/hrmon/internal/ringchan"
	"nhooyr.io/websocket"
)

const (
	// FeatureName identifies the push feed in the feature registry.
	FeatureName = "websocket"

	// SendBuffer is the per-client queue; a slow client loses its oldest pending messages.
	SendBuffer = 16

	writeTimeout = 5 * time.Second
)

// Message is the JSON payload sent on connect and on every update.
type Message struct {
	HeartRate int    `json:"heart_rate"`
	Connected bool   `json:"connected"`
	Status    string `json:"status"`
}

// NewMessage builds the payload for a snapshot.
func NewMessage(s hr.Snapshot) Message {
	return Message{HeartRate: s.BPM, Connected: s.Connected, Status: s.Status()}
}

type client struct {
	id     uint64
	remote string
	conn   *websocket.Conn
	send   *ringchan.RingChannel[[]byte]
}

// Server accepts WebSocket clients on any path and broadcasts updates to all of them.
type Server struct {
	store   *hr.Store
	srv     *httpserve.Server
	clients *hashmap.Map[uint64, *client]
	nextID  atomic.Uint64
	logger  *logrus.Logger
}

// New creates a stopped feed bound to host:port on Start.
func New(store *hr.Store, host string, port int, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	s := &Server{
		store:   store,
		clients: hashmap.New[uint64, *client](),
		logger:  logger,
	}
	s.srv = httpserve.New(FeatureName, host, port, http.HandlerFunc(s.handle), logger)
	return s
}

func (s *Server) Name() string { return FeatureName }

// Start binds the port.
func (s *Server) Start(ctx context.Context) error { return s.srv.Start(ctx) }

// Stop closes every client with "going away" and releases the port.
func (s *Server) Stop(ctx context.Context) error {
	var wg sync.WaitGroup
	s.clients.Range(func(_ uint64, c *client) bool {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.drop(c, websocket.StatusGoingAway, "server shutting down")
		}()
		return true
	})
	wg.Wait()
	return s.srv.Stop(ctx)
}

// Addr returns the bound address while running.
func (s *Server) Addr() string { return s.srv.Addr() }

// Port returns the bound port, or the configured one when stopped.
func (s *Server) Port() int { return s.srv.Port() }

// Running reports whether the port is bound.
func (s *Server) Running() bool { return s.srv.Running() }

// Clients returns the number of connected clients.
func (s *Server) Clients() int { return s.clients.Len() }

// Deliver queues the update for every client without waiting on any of them.
func (s *Server) Deliver(_ context.Context, u hr.Update) error {
	payload, err := json.Marshal(NewMessage(u.Snapshot))
	if err != nil {
		return err
	}
	s.clients.Range(func(_ uint64, c *client) bool {
		if dropped := c.send.Send(payload); dropped {
			s.logger.WithField("client", c.remote).Debug("Client is slow, dropped oldest message")
		}
		return true
	})
	return nil
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"remote": r.RemoteAddr,
			"error":  err,
		}).Warn("WebSocket handshake failed")
		return
	}

	c := &client{
		id:     s.nextID.Add(1),
		remote: r.RemoteAddr,
		conn:   conn,
		send:   ringchan.New[[]byte](SendBuffer),
	}

	if err := s.register(c); err != nil {
		s.drop(c, websocket.StatusInternalError, "encode failed")
		return
	}

	s.logger.WithFields(logrus.Fields{
		"client":  c.remote,
		"clients": s.clients.Len(),
	}).Info("WebSocket client connected")

	// Clients only listen; CloseRead handles pings and peer close frames.
	ctx := conn.CloseRead(r.Context())
	s.writeLoop(ctx, c)
}

// register adds c to the broadcast set, then queues the current value so new
// clients never wait for the next reading. An update racing the handshake may
// reach the client twice but is never missed.
func (s *Server) register(c *client) error {
	s.clients.Set(c.id, c)
	payload, err := json.Marshal(NewMessage(s.store.Get()))
	if err != nil {
		return err
	}
	c.send.Send(payload)
	return nil
}

func (s *Server) writeLoop(ctx context.Context, c *client) {
	for {
		select {
		case <-ctx.Done():
			s.drop(c, websocket.StatusNormalClosure, "")
			return
		case msg, ok := <-c.send.C():
			if !ok {
				return
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Write(wctx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					s.logger.WithFields(logrus.Fields{
						"client": c.remote,
						"error":  err,
					}).Warn("WebSocket send failed, dropping client")
				}
				s.drop(c, websocket.StatusInternalError, "send failed")
				return
			}
		}
	}
}

// drop removes the client once; later calls are no-ops.
func (s *Server) drop(c *client, code websocket.StatusCode, reason string) {
	if !s.clients.Del(c.id) {
		return
	}
	c.send.Close()
	_ = c.conn.Close(code, reason)
	s.logger.WithFields(logrus.Fields{
		"client":  c.remote,
		"clients": s.clients.Len(),
	}).Info("WebSocket client disconnected")
}
