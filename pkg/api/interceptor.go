package api

import (
	"context"
	"runtime/debug"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/cuemby/relay/pkg/log"
	"github.com/cuemby/relay/pkg/metrics"
)

// LoggingInterceptor logs every unary call at debug level, failures at warn
func LoggingInterceptor() grpc.UnaryServerInterceptor {
	logger := log.WithComponent("api")
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		ev := logger.Debug()
		if err != nil {
			ev = logger.Warn().Err(err)
		}
		ev.Str("method", info.FullMethod).
			Str("code", status.Code(err).String()).
			Dur("duration", time.Since(start)).
			Msg("Handled request")
		return resp, err
	}
}

// MetricsInterceptor records relay_api_requests_total and request duration
func MetricsInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		timer := metrics.NewTimer()
		resp, err := handler(ctx, req)
		timer.ObserveDurationVec(metrics.APIRequestDuration, info.FullMethod)
		metrics.APIRequestsTotal.WithLabelValues(info.FullMethod, status.Code(err).String()).Inc()
		return resp, err
	}
}

// RecoveryInterceptor turns a handler panic into codes.Internal
func RecoveryInterceptor() grpc.UnaryServerInterceptor {
	logger := log.WithComponent("api")
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error().
					Str("method", info.FullMethod).
					Interface("panic", r).
					Bytes("stack", debug.Stack()).
					Msg("Recovered from panic")
				err = status.Errorf(codes.Internal, "internal error")
			}
		}()
		return handler(ctx, req)
	}
}

// StreamLoggingInterceptor logs when a stream ends
func StreamLoggingInterceptor() grpc.StreamServerInterceptor {
	logger := log.WithComponent("api")
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		err := handler(srv, ss)
		metrics.APIRequestsTotal.WithLabelValues(info.FullMethod, status.Code(err).String()).Inc()
		logger.Debug().
			Err(err).
			Str("method", info.FullMethod).
			Dur("duration", time.Since(start)).
			Msg("Stream closed")
		return err
	}
}

// StreamRecoveryInterceptor turns a stream handler panic into codes.Internal
func StreamRecoveryInterceptor() grpc.StreamServerInterceptor {
	logger := log.WithComponent("api")
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error().
					Str("method", info.FullMethod).
					Interface("panic", r).
					Msg("Recovered from panic in stream")
				err = status.Errorf(codes.Internal, "internal error")
			}
		}()
		return handler(srv, ss)
	}
}
