package observability

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"asr-call-monitor/internal/observability/metrics"
)

// Health probes arrive every few seconds from orchestrators.
const healthPrefix = "/grpc.health.v1.Health/"

func callLevel(method string, err error) zerolog.Level {
	switch {
	case err != nil:
		return zerolog.WarnLevel
	case strings.HasPrefix(method, healthPrefix):
		return zerolog.TraceLevel
	default:
		return zerolog.DebugLevel
	}
}

func peerAddr(ctx context.Context) string {
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return p.Addr.String()
	}
	return ""
}

// UnaryServerInterceptor records every unary call and logs it. Health
// checks log at trace level.
func UnaryServerInterceptor(m *metrics.Metrics, logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		start := time.Now()

		resp, err := handler(ctx, req)

		code := status.Code(err).String()
		m.RecordGRPCCall(info.FullMethod, code)

		logger.WithLevel(callLevel(info.FullMethod, err)).
			Str("method", info.FullMethod).
			Str("peer", peerAddr(ctx)).
			Str("code", code).
			Dur("duration", time.Since(start)).
			Msg("gRPC call")

		return resp, err
	}
}

// StreamServerInterceptor tracks open streams, in practice health Watch
// subscriptions held for the life of the client.
func StreamServerInterceptor(m *metrics.Metrics, logger zerolog.Logger) grpc.StreamServerInterceptor {
	return func(
		srv any,
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		start := time.Now()
		m.RecordStreamStart()
		addr := peerAddr(ss.Context())
		logger.Debug().Str("method", info.FullMethod).Str("peer", addr).Msg("gRPC stream opened")

		err := handler(srv, ss)

		code := status.Code(err).String()
		m.RecordStreamEnd(info.FullMethod, code)

		logger.WithLevel(callLevel(info.FullMethod, err)).
			Str("method", info.FullMethod).
			Str("peer", addr).
			Str("code", code).
			Dur("duration", time.Since(start)).
			Msg("gRPC stream closed")

		return err
	}
}
