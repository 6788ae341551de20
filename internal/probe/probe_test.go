package probe

import (
	"context"
	"errors"
	"net"
	"syscall"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/tradervane/brokerpulse/internal/vault"
)

type fakeTimeoutErr struct{}

func (fakeTimeoutErr) Error() string   { return "i/o timeout" }
func (fakeTimeoutErr) Timeout() bool   { return true }
func (fakeTimeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"deadline exceeded", context.DeadlineExceeded, KindTimeout},
		{"net timeout", fakeTimeoutErr{}, KindTimeout},
		{"connection refused", &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}, KindServerUnreachable},
		{"host unreachable", &net.OpError{Op: "dial", Err: syscall.EHOSTUNREACH}, KindServerUnreachable},
		{"dns failure", &net.DNSError{Err: "no such host", Name: "broker.invalid"}, KindServerUnreachable},
		{"generic net error", &net.OpError{Op: "read", Err: errors.New("connection reset")}, KindNetworkError},
		{"unrecognized", errors.New("weird"), KindUnknown},
		{"nil", nil, KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}

func TestDialProber_Success(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	p := NewDialProber(false, zap.NewNop())
	res := p.Probe(context.Background(), vault.Credential{Server: ln.Addr().String()}, 2*time.Second)

	if !res.OK {
		t.Fatalf("Probe failed: kind=%s message=%q", res.Kind, res.Message)
	}
	if res.Latency <= 0 {
		t.Error("Latency not measured")
	}
}

func TestDialProber_Refused(t *testing.T) {
	// Grab a free port, then close the listener so the dial is refused.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	p := NewDialProber(false, zap.NewNop())
	res := p.Probe(context.Background(), vault.Credential{Server: addr}, 2*time.Second)

	if res.OK {
		t.Fatal("Probe succeeded against a closed port")
	}
	if res.Kind != KindServerUnreachable {
		t.Errorf("Kind = %s, want %s", res.Kind, KindServerUnreachable)
	}
	if res.Message == "" {
		t.Error("failure result has no message")
	}
}

func TestDialProber_BadAddress(t *testing.T) {
	p := NewDialProber(false, zap.NewNop())
	res := p.Probe(context.Background(), vault.Credential{Server: "no-port"}, time.Second)

	if res.OK {
		t.Fatal("Probe succeeded with invalid address")
	}
	if res.Kind != KindUnknown {
		t.Errorf("Kind = %s, want %s", res.Kind, KindUnknown)
	}
}
