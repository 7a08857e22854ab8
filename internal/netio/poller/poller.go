// Package poller is a minimal epoll-based readiness multiplexer. It exists
// to keep the per-safekeeper state machine unaware of the underlying
// multiplexer, per spec.md §9's re-architecture guidance: "a readiness
// abstraction (Readiness{read, write}) layered over whatever multiplexer
// the platform offers; keep the state machine unaware of the multiplexer."
//
// It is deliberately much smaller than the teacher's eventloop.FastPoller:
// this loop drives at most MAX_SAFEKEEPERS+1 file descriptors with no
// timers or microtasks, so a map-indexed registry is the right scale,
// not a pre-sized direct-indexed array with cache-line padding.
package poller

// Events is a bitmask of readiness conditions for a registered descriptor.
type Events uint32

const (
	Read Events = 1 << iota
	Write
	Error
	Hangup
)

func (e Events) Readable() bool { return e&Read != 0 }
func (e Events) Writable() bool { return e&Write != 0 }
func (e Events) Errored() bool  { return e&(Error|Hangup) != 0 }

// Callback is invoked with the readiness events observed for a descriptor.
type Callback func(Events)
