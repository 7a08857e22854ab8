// Package quorum implements the quorum commit computation and the
// leader-election vote round of spec.md §4.3 and §4.5.
package quorum

import (
	"slices"

	"github.com/pgquorum/walbroadcast/internal/wire"
)

// AcknowledgedWALPosition computes the commit point: the highest LSN that
// is acknowledged by at least quorum of the given peer ack_lsns
// (spec.md §4.5). ackLSNs is copied and sorted, never mutated in place.
func AcknowledgedWALPosition(ackLSNs []uint64, quorumN int) uint64 {
	if len(ackLSNs) == 0 || quorumN <= 0 || quorumN > len(ackLSNs) {
		return 0
	}
	scratch := slices.Clone(ackLSNs)
	slices.Sort(scratch)
	return scratch[len(scratch)-quorumN]
}

// DefaultQuorum returns floor(n/2)+1, spec.md §6's default.
func DefaultQuorum(n int) int { return n/2 + 1 }

// ValidateQuorum checks q is in [floor(n/2)+1, n], per spec.md §6.
func ValidateQuorum(q, n int) bool {
	return q >= DefaultQuorum(n) && q <= n
}

// VoteRound tracks the leader-election handshake of spec.md §4.3: the
// running maximum NodeId observed across peers reaching the Vote state,
// and the connect/vote tallies.
type VoteRound struct {
	quorum       int
	nConnected   int
	nVotes       int
	maxNodeID    wire.NodeId
	haveMax      bool
	dispatched   bool // true once max_node_id.term has been bumped and the initial round dispatched
}

// NewVoteRound creates a VoteRound requiring the given quorum size.
func NewVoteRound(quorum int) *VoteRound {
	return &VoteRound{quorum: quorum}
}

// Observe folds in a peer's NodeId as it reaches the Vote state. It
// returns the updated running maximum.
func (v *VoteRound) Observe(id wire.NodeId) wire.NodeId {
	v.nConnected++
	if !v.haveMax || v.maxNodeID.Less(id) {
		v.maxNodeID = id
		v.haveMax = true
	}
	return v.maxNodeID
}

// ReadyToDispatch reports whether nConnected has just reached quorum and
// the bumped proposal has not yet been computed.
func (v *VoteRound) ReadyToDispatch() bool {
	return !v.dispatched && v.nConnected >= v.quorum
}

// Propose bumps the observed maximum's term by one — "so a new run always
// produces a strictly higher term than any observed" (spec.md §4.3) — and
// fixes it as this round's proposal. It must be called exactly once, when
// ReadyToDispatch first becomes true.
func (v *VoteRound) Propose() wire.NodeId {
	v.maxNodeID.Term++
	v.dispatched = true
	return v.maxNodeID
}

// Proposal returns the fixed proposal once Propose has been called; the
// zero value and false before that.
func (v *VoteRound) Proposal() (wire.NodeId, bool) {
	if !v.dispatched {
		return wire.NodeId{}, false
	}
	return v.maxNodeID, true
}

// RecordVote tallies an accepted verdict.
func (v *VoteRound) RecordVote() {
	v.nVotes++
}

// VotesReachedQuorum reports whether enough peers have returned an
// accepting verdict to start replication.
func (v *VoteRound) VotesReachedQuorum() bool {
	return v.nVotes >= v.quorum
}
