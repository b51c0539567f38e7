package observability

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/signalsfoundry/sidelink-mac/internal/logging"
)

// RequestIDMetadataKey carries a caller-chosen request id.
const RequestIDMetadataKey = "x-request-id"

// RequestLoggingUnaryInterceptor tags each unary RPC with a request_id,
// taken from inbound metadata when present, stores a logger annotated with
// it and the method on the context, and logs failed calls.
func RequestLoggingUnaryInterceptor(base logging.Logger) grpc.UnaryServerInterceptor {
	if base == nil {
		base = logging.Noop()
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		method := ""
		if info != nil {
			method = info.FullMethod
		}
		ctx, log := requestContext(ctx, base, method)
		resp, err := handler(ctx, req)
		if err != nil {
			log.Warn(ctx, "rpc failed", logging.Err(err))
		}
		return resp, err
	}
}

// RequestLoggingStreamInterceptor is the streaming counterpart, used by
// health Watch.
func RequestLoggingStreamInterceptor(base logging.Logger) grpc.StreamServerInterceptor {
	if base == nil {
		base = logging.Noop()
	}
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		method := ""
		if info != nil {
			method = info.FullMethod
		}
		ctx, log := requestContext(ss.Context(), base, method)
		log.Debug(ctx, "stream opened")
		err := handler(srv, &contextStream{ServerStream: ss, ctx: ctx})
		if err != nil {
			log.Warn(ctx, "stream closed with error", logging.Err(err))
		}
		return err
	}
}

func requestContext(ctx context.Context, base logging.Logger, method string) (context.Context, logging.Logger) {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get(RequestIDMetadataKey); len(vals) > 0 && vals[0] != "" {
			ctx = logging.ContextWithRequestID(ctx, vals[0])
		}
	}
	ctx, log := logging.WithRequestLogger(ctx, base.With(logging.String("method", method)))
	return logging.ContextWithLogger(ctx, log), log
}

type contextStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *contextStream) Context() context.Context { return s.ctx }
