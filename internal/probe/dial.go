package probe

import (
	"context"
	"net"
	"runtime"
	"time"

	probing "github.com/prometheus-community/pro-bing"
	"go.uber.org/zap"

	"github.com/tradervane/brokerpulse/internal/vault"
)

// Compile-time interface guard.
var _ Prober = (*DialProber)(nil)

// DialProber is the reachability-level prober: it verifies that the broker
// terminal address accepts TCP connections. Protocol-level login checks are
// performed by the terminal client, which satisfies the same Prober
// interface; this prober is the default when no terminal client is wired.
type DialProber struct {
	pingPreflight bool
	logger        *zap.Logger
}

// NewDialProber creates a dial-based prober. With pingPreflight enabled,
// a dial failure is followed by an ICMP echo so a dead host is reported as
// server_unreachable instead of a generic network error.
func NewDialProber(pingPreflight bool, logger *zap.Logger) *DialProber {
	return &DialProber{pingPreflight: pingPreflight, logger: logger}
}

// Probe dials the credential's terminal address and measures connection time.
func (p *DialProber) Probe(ctx context.Context, cred vault.Credential, timeout time.Duration) Result {
	host, _, err := net.SplitHostPort(cred.Server)
	if err != nil {
		return Result{
			OK:      false,
			Kind:    KindUnknown,
			Message: "invalid terminal address: " + err.Error(),
		}
	}

	start := time.Now()
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", cred.Server)
	elapsed := time.Since(start)

	if err != nil {
		kind := Classify(err)
		if kind == KindNetworkError && p.pingPreflight && !p.hostAlive(ctx, host, timeout) {
			kind = KindServerUnreachable
		}
		return Result{
			OK:      false,
			Kind:    kind,
			Message: err.Error(),
			Latency: elapsed,
		}
	}
	conn.Close()

	return Result{
		OK:      true,
		Latency: elapsed,
	}
}

// hostAlive sends a single ICMP echo to decide whether the host is up at all.
func (p *DialProber) hostAlive(ctx context.Context, host string, timeout time.Duration) bool {
	pinger, err := probing.NewPinger(host)
	if err != nil {
		p.logger.Debug("failed to create pinger", zap.String("host", host), zap.Error(err))
		return true // inconclusive: do not reclassify
	}

	pinger.Count = 1
	pinger.Timeout = timeout
	pinger.SetPrivileged(runtime.GOOS == "windows")

	done := make(chan struct{})
	go func() {
		defer close(done)
		if runErr := pinger.Run(); runErr != nil {
			p.logger.Debug("ping failed", zap.String("host", host), zap.Error(runErr))
		}
	}()

	select {
	case <-done:
	case <-ctx.Done():
		pinger.Stop()
		<-done
	}

	return pinger.Statistics().PacketsRecv > 0
}
