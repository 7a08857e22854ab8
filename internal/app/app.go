// Package app wires the configured components together and exposes the
// single fallible entry point cmd/broadcaster calls, per spec.md §9's
// re-architecture guidance: "a single fallible entry point returning a
// result; the binary layer translates the error kind to an exit code".
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid"

	"github.com/pgquorum/walbroadcast/internal/broadcaster"
	"github.com/pgquorum/walbroadcast/internal/config"
	"github.com/pgquorum/walbroadcast/internal/logging"
	"github.com/pgquorum/walbroadcast/internal/netio"
	"github.com/pgquorum/walbroadcast/internal/netio/poller"
	"github.com/pgquorum/walbroadcast/internal/primary"
	"github.com/pgquorum/walbroadcast/internal/wire"
)

// Run connects to the configured primary and safekeepers and drives the
// broadcast loop until the primary stream ends and the queue drains, or a
// protocol-fatal error occurs. It never calls os.Exit.
func Run(ctx context.Context, cfg *config.Config, log *logging.Logger) error {
	selfID, err := uuid.NewV4()
	if err != nil {
		return fmt.Errorf("app: generate node id: %w", err)
	}
	self := wire.ServerInfo{
		ProtocolVersion: wire.ProtocolVersion,
		NodeId:          wire.NodeId{Term: 0, UUID: selfID},
	}

	log.Info().Str(`host`, cfg.Host).Int(`port`, cfg.Port).
		Int(`safekeeper_count`, len(cfg.Safekeepers)).Int(`quorum`, cfg.Quorum).
		Log(`connecting to primary`)

	sock, established, err := netio.ConnectAsync(cfg.Host, cfg.Port)
	if err != nil {
		return fmt.Errorf("app: connect primary: %w", err)
	}
	if !established {
		if err := waitConnected(sock); err != nil {
			return fmt.Errorf("app: connect primary: %w", err)
		}
	}
	primaryStream := primary.New(sock)
	defer func() { _ = primaryStream.Close() }()

	b, err := broadcaster.New(cfg, self, primaryStream, log)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}

	err = b.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return err
}

// waitConnected blocks until a pending non-blocking connect to the primary
// settles, using a short-lived poller scoped to this one wait. Establishing
// the primary connection happens once at startup, outside the steady-state
// event loop, so this one blocking wait does not violate spec.md §5's
// single-suspension-point rule for the running broadcaster.
func waitConnected(sock netio.Socket) error {
	pl, err := poller.New()
	if err != nil {
		return fmt.Errorf("wait for primary connect: %w", err)
	}
	defer func() { _ = pl.Close() }()

	var settled bool
	if err := pl.Register(sock.FD, poller.Write, func(poller.Events) { settled = true }); err != nil {
		return fmt.Errorf("wait for primary connect: %w", err)
	}
	for !settled {
		if err := pl.Wait(-1); err != nil {
			return fmt.Errorf("wait for primary connect: %w", err)
		}
	}
	return sock.CheckConnectError()
}
