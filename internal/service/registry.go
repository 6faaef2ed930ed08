package service

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/nabilgpt/samia-tarot-refactor-sub016/internal/model"
)

// Peer represents one live WebSocket connection for an authenticated identity.
// An identity may own several concurrent peers.
type Peer struct {
	ConnID      string
	Identity    model.Identity
	Conn        *websocket.Conn
	Send        chan []byte
	ConnectedAt time.Time
}

// ConnectionRegistry maps an identity to its live connections. Transport-level
// close is the only "went offline" signal; there is no heartbeat expiry on top.
type ConnectionRegistry struct {
	mu    sync.RWMutex
	peers map[string]map[string]*Peer // userID -> connID -> peer
	log   *zap.Logger
}

// NewConnectionRegistry creates an empty registry.
func NewConnectionRegistry(log *zap.Logger) *ConnectionRegistry {
	return &ConnectionRegistry{
		peers: make(map[string]map[string]*Peer),
		log:   log,
	}
}

// Register adds a peer. Idempotent per (identity, connID): re-registering an
// existing pair returns the already-registered peer.
func (r *ConnectionRegistry) Register(p *Peer) *Peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	byConn := r.peers[p.Identity.UserID]
	if byConn == nil {
		byConn = make(map[string]*Peer)
		r.peers[p.Identity.UserID] = byConn
	}
	if existing, ok := byConn[p.ConnID]; ok {
		return existing
	}
	byConn[p.ConnID] = p
	r.log.Info("connection registered",
		zap.String("user_id", p.Identity.UserID),
		zap.String("conn_id", p.ConnID),
		zap.String("role", string(p.Identity.Role)))
	return p
}

// Deregister removes a connection and reports whether it was the identity's
// last one. Duplicate close events are tolerated: deregistering an unknown
// pair logs and reports (false, false) with no other effect.
func (r *ConnectionRegistry) Deregister(userID, connID string) (last, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	byConn, found := r.peers[userID]
	if !found {
		r.log.Debug("deregister of unknown identity ignored", zap.String("user_id", userID))
		return false, false
	}
	p, found := byConn[connID]
	if !found {
		r.log.Debug("deregister of unknown connection ignored",
			zap.String("user_id", userID), zap.String("conn_id", connID))
		return false, false
	}
	delete(byConn, connID)
	close(p.Send)
	if len(byConn) == 0 {
		delete(r.peers, userID)
		last = true
	}
	r.log.Info("connection deregistered",
		zap.String("user_id", userID),
		zap.String("conn_id", connID),
		zap.Bool("last", last))
	return last, true
}

// ConnectionsOf returns the live peers of an identity.
func (r *ConnectionRegistry) ConnectionsOf(userID string) []*Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	byConn := r.peers[userID]
	out := make([]*Peer, 0, len(byConn))
	for _, p := range byConn {
		out = append(out, p)
	}
	return out
}

// IsOnline reports whether the identity has at least one live connection.
func (r *ConnectionRegistry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers[userID]) > 0
}

// SendToUser enqueues a payload on every live connection of the identity.
// Slow consumers are dropped rather than blocking the pipeline. The lock is
// held across the non-blocking sends so Deregister cannot close a Send
// channel mid-enqueue.
func (r *ConnectionRegistry) SendToUser(userID string, payload []byte) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.peers[userID] {
		select {
		case p.Send <- payload:
		default:
			r.log.Warn("send buffer full, dropping frame",
				zap.String("user_id", userID),
				zap.String("conn_id", p.ConnID))
		}
	}
}
