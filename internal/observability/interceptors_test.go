package observability

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/signalsfoundry/sidelink-mac/internal/logging"
)

func TestRequestLoggingUnaryInterceptorUsesIncomingID(t *testing.T) {
	interceptor := RequestLoggingUnaryInterceptor(logging.Noop())
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(RequestIDMetadataKey, "req-42"))
	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}

	var gotID string
	var gotLogger logging.Logger
	_, err := interceptor(ctx, nil, info, func(ctx context.Context, req any) (any, error) {
		gotID = logging.RequestIDFromContext(ctx)
		gotLogger = logging.LoggerFromContext(ctx)
		return nil, nil
	})
	if err != nil {
		t.Fatalf("interceptor returned %v", err)
	}
	if gotID != "req-42" {
		t.Fatalf("request id = %q, want req-42", gotID)
	}
	if gotLogger == nil {
		t.Fatalf("no logger on handler context")
	}
}

func TestRequestLoggingUnaryInterceptorGeneratesID(t *testing.T) {
	interceptor := RequestLoggingUnaryInterceptor(nil)
	wantErr := errors.New("boom")

	var gotID string
	_, err := interceptor(context.Background(), nil, nil, func(ctx context.Context, req any) (any, error) {
		gotID = logging.RequestIDFromContext(ctx)
		return nil, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("interceptor error = %v, want %v", err, wantErr)
	}
	if gotID == "" {
		t.Fatalf("no request id generated")
	}
}

type fakeServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *fakeServerStream) Context() context.Context { return s.ctx }

func TestRequestLoggingStreamInterceptor(t *testing.T) {
	interceptor := RequestLoggingStreamInterceptor(logging.Noop())
	ss := &fakeServerStream{ctx: metadata.NewIncomingContext(context.Background(), metadata.Pairs(RequestIDMetadataKey, "watch-1"))}
	info := &grpc.StreamServerInfo{FullMethod: "/grpc.health.v1.Health/Watch", IsServerStream: true}

	var gotID string
	err := interceptor(nil, ss, info, func(srv any, stream grpc.ServerStream) error {
		gotID = logging.RequestIDFromContext(stream.Context())
		return nil
	})
	if err != nil {
		t.Fatalf("interceptor returned %v", err)
	}
	if gotID != "watch-1" {
		t.Fatalf("request id = %q, want watch-1", gotID)
	}
}
