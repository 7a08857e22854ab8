// Package logging wires up the structured logger used throughout the
// broadcaster: a logiface.Logger backed by stumpy, the teacher's built-in
// JSON/text backend.
package logging

import (
	"fmt"
	"io"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// Logger is the concrete logger type passed around the broadcaster.
type Logger = logiface.Logger[*stumpy.Event]

// Format selects the stumpy rendering mode.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// New constructs a Logger writing to w at the given verbosity.
//
// verbose mirrors spec.md §6's -v/--verbose flag: false maps to Info and
// above, true enables Debug.
func New(w io.Writer, format Format, verbose bool) (*Logger, error) {
	level := logiface.LevelInformational
	if verbose {
		level = logiface.LevelDebug
	}

	var opts []stumpy.Option
	switch format {
	case FormatJSON, "":
		opts = append(opts, stumpy.WithWriter(w))
	case FormatText:
		opts = append(opts, stumpy.WithWriter(w), stumpy.WithTimeField(``))
	default:
		return nil, fmt.Errorf("logging: unknown format %q", format)
	}

	logger := stumpy.L.New(
		stumpy.L.WithStumpy(opts...),
		logiface.WithLevel[*stumpy.Event](level),
	)
	return logger, nil
}

// PeerFields is a helper for the common "peer host:port" log prefix called
// for in spec.md §7: "structured messages include peer host:port and,
// where relevant, the offending LSN or term."
func PeerFields(b *logiface.Builder[*stumpy.Event], host string, port int) *logiface.Builder[*stumpy.Event] {
	return b.Str(`peer_host`, host).Int(`peer_port`, port)
}
