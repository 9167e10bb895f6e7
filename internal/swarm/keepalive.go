package swarm

import (
	"context"
	"time"

	"cordelia/internal/codec"
	"cordelia/internal/governor"
)

// KeepAlivePeriod matches §4.2's 15s Ping/Pong cadence.
const KeepAlivePeriod = 15 * time.Second

// RunKeepAlive pings every connected peer every KeepAlivePeriod,
// recording RTT on success and banning a peer whose last three pings
// have all gone unanswered (§4.2: "three consecutive missed pongs
// signal dead peer").
func (s *Swarm) RunKeepAlive(ctx context.Context) {
	ticker := time.NewTicker(KeepAlivePeriod)
	defer ticker.Stop()

	missed := make(map[string]int)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			peerIDs := make([]string, 0, len(s.conns))
			for id := range s.conns {
				peerIDs = append(peerIDs, id)
			}
			s.mu.Unlock()

			for _, peerID := range peerIDs {
				if err := s.pingPeer(ctx, peerID); err != nil {
					missed[peerID]++
					if missed[peerID] >= 3 {
						if s.gov != nil {
							s.gov.Ban(peerID, governor.ViolationProtocol, time.Now().UTC())
						}
						s.Disconnect(peerID)
					}
					continue
				}
				missed[peerID] = 0
			}
		}
	}
}

func (s *Swarm) pingPeer(ctx context.Context, peerID string) error {
	start := time.Now()
	var pong codec.Pong
	req := codec.Ping{Nonce: uint64(start.UnixNano())}
	if err := s.request(ctx, peerID, codec.KindPing, req, codec.KindPong, &pong); err != nil {
		return err
	}
	if s.gov != nil {
		s.gov.UpdateLiveness(peerID, time.Since(start), time.Now().UTC())
	}
	return nil
}
