// Package broadcaster implements the event loop of spec.md §4.6: a
// single-threaded readiness multiplexer composing the async socket layer,
// message codec, per-safekeeper state machine, broadcast pipeline, and
// quorum commit into one owned value — "a single owned Broadcaster value
// holding all state; the event loop is a method on it. No process-wide
// mutable state" (spec.md §9).
package broadcaster

import (
	"context"
	"errors"
	"fmt"

	"github.com/pgquorum/walbroadcast/internal/config"
	"github.com/pgquorum/walbroadcast/internal/logging"
	"github.com/pgquorum/walbroadcast/internal/netio/poller"
	"github.com/pgquorum/walbroadcast/internal/peer"
	"github.com/pgquorum/walbroadcast/internal/pipeline"
	"github.com/pgquorum/walbroadcast/internal/primary"
	"github.com/pgquorum/walbroadcast/internal/quorum"
	"github.com/pgquorum/walbroadcast/internal/wire"
)

// ErrFatal wraps the protocol-fatal error class of spec.md §7: a vote
// rejection, a protocol version mismatch, or an unexpected transition.
// The binary layer maps this to exit code 1.
var ErrFatal = errors.New("broadcaster: fatal protocol error")

// reconnectIntervalMs bounds how long an iteration of the loop can block
// in the poller before re-attempting connects to Offline peers.
const reconnectIntervalMs = 200

// Broadcaster owns every piece of mutable state for one run: the
// configured peers, the broadcast queue, the vote round, and the
// connection to the primary.
type Broadcaster struct {
	peers      []*peer.Peer
	queue      *pipeline.Queue
	vote       *quorum.VoteRound
	quorumN    int
	lastAckLSN uint64
	streaming  bool
	started    bool // true once votes have reached quorum and replication has (logically) started
	fatal      error

	self    wire.ServerInfo // our identity, sent to every peer at handshake
	primary *primary.Stream
	pl      *poller.Poller
	log     *logging.Logger
}

// New constructs a Broadcaster for the given configuration. primaryStream
// must already be connected; establishing that connection and performing
// IDENTIFY_SYSTEM is out of scope (spec.md §1).
func New(cfg *config.Config, self wire.ServerInfo, primaryStream *primary.Stream, log *logging.Logger) (*Broadcaster, error) {
	if len(cfg.Safekeepers) == 0 {
		return nil, fmt.Errorf("broadcaster: no safekeepers configured")
	}
	pl, err := poller.New()
	if err != nil {
		return nil, fmt.Errorf("broadcaster: %w", err)
	}
	peers := make([]*peer.Peer, len(cfg.Safekeepers))
	for i, sk := range cfg.Safekeepers {
		peers[i] = peer.New(i, sk.Host, sk.Port)
	}
	return &Broadcaster{
		peers:     peers,
		queue:     pipeline.New(len(peers)),
		vote:      quorum.NewVoteRound(cfg.Quorum),
		quorumN:   cfg.Quorum,
		streaming: true,
		self:      self,
		primary:   primaryStream,
		pl:        pl,
		log:       log,
	}, nil
}

// Run drives the event loop until the primary stream ends and the queue
// fully drains, or a protocol-fatal error occurs. It never calls
// os.Exit; spec.md §9's "single fallible entry point".
func (b *Broadcaster) Run(ctx context.Context) error {
	defer b.pl.Close()

	if err := b.pl.Register(b.primary.FD(), poller.Read, b.onPrimaryEvent); err != nil {
		return fmt.Errorf("broadcaster: register primary: %w", err)
	}

	for _, p := range b.peers {
		b.attemptConnect(p)
	}

	for b.streaming || !b.queue.Empty() {
		select {
		case <-ctx.Done():
			b.stopSafekeepers()
			return ctx.Err()
		default:
		}

		if err := b.pl.Wait(reconnectIntervalMs); err != nil {
			return fmt.Errorf("broadcaster: poller wait: %w", err)
		}
		if b.fatal != nil {
			b.stopSafekeepers()
			return b.fatal
		}

		for _, p := range b.peers {
			if p.State == peer.Offline {
				b.attemptConnect(p)
			}
		}
	}

	b.stopSafekeepers()
	return nil
}
