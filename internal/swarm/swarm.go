// Package swarm is the I/O executor of §4.8: it owns every live
// transport connection, performs the handshake/keep-alive/peer-share
// protocol chatter, dispatches inbound requests to the replication
// engine, and implements replication.PeerClient so the engine never
// touches a transport or codec type directly. There is no teacher
// equivalent (internal/cluster.Node inlines dialing, quorum fan-out and
// HTTP replication into one type); this package factors that
// responsibility out the way the teacher's own cluster/store split
// factors storage out of node orchestration.
package swarm

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"cordelia/internal/codec"
	"cordelia/internal/config"
	"cordelia/internal/corderr"
	"cordelia/internal/governor"
	"cordelia/internal/peerpool"
	"cordelia/internal/storage"
	"cordelia/internal/transport"
)

// Engine is the subset of replication.Engine the swarm task calls into
// for inbound dispatch, kept as an interface so swarm tests don't need
// a full replication engine.
type Engine interface {
	AcceptPush(ctx context.Context, items []storage.Item, fromPeerID string) (stored, duplicate, rejected []string)
}

const (
	HandshakeTimeout = 10 * time.Second
	RPCTimeout       = 30 * time.Second
	KeepAliveMiss    = 45 * time.Second
	PeerShareLimit   = 100
	GroupExchangeMax = 100
)

// Swarm owns the live connections and streams for every known peer.
type Swarm struct {
	transport *transport.Transport
	pool      *peerpool.Pool
	gov       *governor.Governor
	engine    Engine
	store     storage.Driver

	selfPeerID string
	role       config.Role
	versions   codec.VersionRange

	mu    sync.Mutex
	conns map[string]transport.Connection

	// limMu guards syncLimiters, the per-peer rate limit on inbound
	// SyncRequest traffic §5 requires ("rapid repeated sync requests
	// from one peer are throttled").
	limMu        sync.Mutex
	syncLimiters map[string]*rate.Limiter

	extAddr *externalAddrLearner

	log *logrus.Entry
}

// SyncRequestRate and SyncRequestBurst bound how often one peer's
// SyncRequest is serviced; requests over the limit are dropped silently
// rather than answered with an error, since a throttled peer should
// just back off and retry on its own schedule.
const (
	SyncRequestRate  = rate.Limit(2)
	SyncRequestBurst = 5
)

// New constructs a Swarm. versions is the [min,max] protocol version
// range this node advertises during handshake.
func New(tr *transport.Transport, pool *peerpool.Pool, gov *governor.Governor, engine Engine, store storage.Driver, selfPeerID string, role config.Role, versions codec.VersionRange) *Swarm {
	return &Swarm{
		transport:  tr,
		pool:       pool,
		gov:        gov,
		engine:     engine,
		store:      store,
		selfPeerID: selfPeerID,
		role:       role,
		versions:   versions,
		conns:        make(map[string]transport.Connection),
		syncLimiters: make(map[string]*rate.Limiter),
		extAddr:      newExternalAddrLearner(),
		log:          logrus.WithField("component", "swarm"),
	}
}

// allowSyncRequest reports whether peerID is still within its
// SyncRequest rate budget, creating a fresh limiter for a peer seen for
// the first time.
func (s *Swarm) allowSyncRequest(peerID string) bool {
	s.limMu.Lock()
	lim, ok := s.syncLimiters[peerID]
	if !ok {
		lim = rate.NewLimiter(SyncRequestRate, SyncRequestBurst)
		s.syncLimiters[peerID] = lim
	}
	s.limMu.Unlock()
	return lim.Allow()
}

// Serve accepts inbound connections on addr until ctx is cancelled.
func (s *Swarm) Serve(ctx context.Context, addr string) error {
	accepted, err := s.transport.Listen(ctx, addr)
	if err != nil {
		return err
	}
	for conn := range accepted {
		go s.handleInbound(ctx, conn)
	}
	return nil
}

func (s *Swarm) handleInbound(ctx context.Context, conn transport.Connection) {
	hctx, cancel := context.WithTimeout(ctx, HandshakeTimeout)
	peerID, err := s.acceptHandshake(hctx, conn)
	cancel()
	if err != nil {
		s.log.WithError(err).Debug("inbound handshake failed")
		conn.Close()
		return
	}

	s.registerConn(peerID, conn)
	if s.gov != nil {
		s.gov.OnHandshakeSuccess(peerID)
	}

	for {
		stream, err := conn.AcceptStream(ctx)
		if err != nil {
			s.unregisterConn(peerID)
			return
		}
		go s.dispatchStream(ctx, peerID, stream)
	}
}

// Connect dials addr, performs the handshake as the initiating side,
// and registers the resulting connection under the peer's advertised id.
func (s *Swarm) Connect(ctx context.Context, addr string) (string, error) {
	conn, err := s.transport.Dial(ctx, addr)
	if err != nil {
		return "", err
	}

	hctx, cancel := context.WithTimeout(ctx, HandshakeTimeout)
	peerID, err := s.proposeHandshake(hctx, conn)
	cancel()
	if err != nil {
		conn.Close()
		return "", err
	}

	s.registerConn(peerID, conn)
	if s.gov != nil {
		s.gov.OnHandshakeSuccess(peerID)
	}

	go func() {
		for {
			stream, err := conn.AcceptStream(ctx)
			if err != nil {
				s.unregisterConn(peerID)
				return
			}
			go s.dispatchStream(ctx, peerID, stream)
		}
	}()

	return peerID, nil
}

func (s *Swarm) registerConn(peerID string, conn transport.Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[peerID] = conn
}

func (s *Swarm) unregisterConn(peerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, peerID)
}

// Disconnect closes and forgets any live connection to peerID, for the
// governor's disconnect/ban actions. A peer with no open connection is
// a no-op.
func (s *Swarm) Disconnect(peerID string) {
	s.mu.Lock()
	conn, ok := s.conns[peerID]
	delete(s.conns, peerID)
	s.mu.Unlock()
	if ok {
		conn.Close()
	}
}

func (s *Swarm) connFor(peerID string) (transport.Connection, error) {
	s.mu.Lock()
	conn, ok := s.conns[peerID]
	s.mu.Unlock()
	if !ok {
		return nil, corderr.Transport("conn_for", errPeerNotConnected)
	}
	return conn, nil
}

// request opens a new stream to peerID, encodes req under kind, and
// decodes a response of the matching kind into resp.
func (s *Swarm) request(ctx context.Context, peerID string, kind codec.Kind, req any, respKind codec.Kind, resp any) error {
	conn, err := s.connFor(peerID)
	if err != nil {
		return err
	}

	rctx, cancel := context.WithTimeout(ctx, RPCTimeout)
	defer cancel()

	stream, err := conn.OpenStream(rctx)
	if err != nil {
		return corderr.Transport("request", err)
	}
	defer stream.Close()

	if err := codec.Encode(stream, kind, req); err != nil {
		return err
	}

	gotKind, body, err := codec.Decode(stream)
	if err != nil {
		return err
	}
	if gotKind != respKind {
		return corderr.Protocol("request", errUnexpectedKind)
	}
	return codec.DecodeBody(body, resp)
}

type sentinelError string

func (e sentinelError) Error() string { return string(e) }

const (
	errPeerNotConnected = sentinelError("peer not connected")
	errUnexpectedKind   = sentinelError("unexpected response kind")
	errHandshakeRejected = sentinelError("handshake rejected")
	errVersionMismatch   = sentinelError("no overlapping protocol version")
)
