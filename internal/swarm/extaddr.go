package swarm

import "sync"

// externalAddrLearner accumulates the external address other peers
// report observing for us, and exposes it once a quorum of reports
// agree (§4.8: "non-relay nodes infer a usable external address by
// quorum of peer reports; relays use a configured external address").
type externalAddrLearner struct {
	mu      sync.Mutex
	reports map[string]int
}

func newExternalAddrLearner() *externalAddrLearner {
	return &externalAddrLearner{reports: make(map[string]int)}
}

// quorumThreshold is the minimum number of agreeing reports before an
// address is trusted.
const quorumThreshold = 3

// Report records one peer's observation of our external address.
func (e *externalAddrLearner) Report(addr string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reports[addr]++
}

// Resolved returns the address with a quorum of agreeing reports, if any.
func (e *externalAddrLearner) Resolved() (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for addr, count := range e.reports {
		if count >= quorumThreshold {
			return addr, true
		}
	}
	return "", false
}

// ExternalAddr returns the locally-learned external address for
// non-relay roles, or false if no quorum has formed yet. Relay nodes
// should use their configured external address instead of calling this.
func (s *Swarm) ExternalAddr() (string, bool) {
	return s.extAddr.Resolved()
}

// ReportPeerObservedAddr records what a peer told us our external
// address looks like from their side (carried as a field on Pong or
// HandshakeAccept in a fuller implementation; exposed here so the
// dispatch layer can feed observations in as they arrive).
func (s *Swarm) ReportPeerObservedAddr(addr string) {
	s.extAddr.Report(addr)
}
