package gateway

import (
	"context"
	"net"
	"time"

	xerrors "agentgate/internal/errors"
)

const probeInterval = 500 * time.Millisecond

// waitForService polls the address until a TCP connection succeeds or the
// bounded wait elapses. Polling suspends between attempts; there is no
// busy-waiting.
func waitForService(ctx context.Context, addr string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dialer := &net.Dialer{Timeout: 2 * time.Second}
	ticker := time.NewTicker(probeInterval)
	defer ticker.Stop()

	for {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			conn.Close()
			return nil
		}
		select {
		case <-ctx.Done():
			return xerrors.Wrap(xerrors.CodeTimeout, ctx.Err(), "service port never became reachable",
				xerrors.WithMetadata("addr", addr))
		case <-ticker.C:
		}
	}
}
