// Package squictest contains helpers for testing [squic] over real QUIC connections.
package squictest

import (
	"context"
	"testing"
	"time"

	"github.com/gordian-engine/sardine/squic"
	"github.com/quic-go/quic-go"
	"github.com/stretchr/testify/require"
)

// Config returns the QUIC configuration used by [NewPair].
func Config() *quic.Config {
	return &quic.Config{
		EnableDatagrams:      true,
		HandshakeIdleTimeout: 2 * time.Second,
	}
}

// NewPair returns two ends of a QUIC connection over loopback UDP,
// both with datagrams enabled.
// Connections are closed through t.Cleanup.
func NewPair(t *testing.T, ctx context.Context) (dialed, accepted squic.Conn) {
	t.Helper()

	serverTLS, clientTLS, err := TLSConfigs()
	require.NoError(t, err)

	ln, err := quic.ListenAddr("127.0.0.1:0", serverTLS, Config())
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := ln.Close(); err != nil {
			t.Logf("Error closing QUIC listener: %v", err)
		}
	})

	type acceptResult struct {
		Conn squic.Conn
		Err  error
	}
	acceptCh := make(chan acceptResult, 1)
	go func() {
		qc, err := ln.Accept(ctx)
		if err != nil {
			acceptCh <- acceptResult{Err: err}
			return
		}
		t.Cleanup(func() {
			_ = qc.CloseWithError(0, "")
		})
		acceptCh <- acceptResult{Conn: qc}
	}()

	qc, err := quic.DialAddr(ctx, ln.Addr().String(), clientTLS, Config())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = qc.CloseWithError(0, "")
	})

	select {
	case res := <-acceptCh:
		require.NoError(t, res.Err)
		return qc, res.Conn
	case <-time.After(5 * time.Second):
		t.Fatal("timed out accepting QUIC connection")
	}

	panic("unreachable")
}
