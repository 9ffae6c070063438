package interceptor

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

var info = &grpc.UnaryServerInfo{FullMethod: "/sep.v1.EnclaveService/Sign"}

func okHandler(context.Context, any) (any, error) { return "ok", nil }

func withToken(token string) context.Context {
	return metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer "+token))
}

func TestAuthUnary(t *testing.T) {
	auth := AuthUnary("secret")

	cases := []struct {
		name string
		ctx  context.Context
		want codes.Code
	}{
		{"valid", withToken("secret"), codes.OK},
		{"wrong token", withToken("nope"), codes.Unauthenticated},
		{"no header", metadata.NewIncomingContext(context.Background(), metadata.MD{}), codes.Unauthenticated},
		{"no metadata", context.Background(), codes.Unauthenticated},
	}
	for _, c := range cases {
		_, err := auth(c.ctx, nil, info, okHandler)
		if status.Code(err) != c.want {
			t.Fatalf("%s: got %v, want %v", c.name, status.Code(err), c.want)
		}
	}
}

func TestAuthDisabled(t *testing.T) {
	if _, err := AuthUnary("")(context.Background(), nil, info, okHandler); err != nil {
		t.Fatalf("empty token should disable auth: %v", err)
	}
}

func TestRateLimitUnary(t *testing.T) {
	limit := RateLimitUnary(3)
	var rejected int
	for range 10 {
		if _, err := limit(context.Background(), nil, info, okHandler); status.Code(err) == codes.ResourceExhausted {
			rejected++
		}
	}
	if rejected < 6 {
		t.Fatalf("expected at least 6 rejections past the burst, got %d", rejected)
	}
}

func TestRateLimitDisabled(t *testing.T) {
	limit := RateLimitUnary(0)
	for range 100 {
		if _, err := limit(context.Background(), nil, info, okHandler); err != nil {
			t.Fatalf("disabled limiter rejected: %v", err)
		}
	}
}

func TestRecoveryUnary(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	rec := RecoveryUnary(zap.New(core))

	_, err := rec(context.Background(), nil, info, func(context.Context, any) (any, error) {
		panic("boom")
	})
	if status.Code(err) != codes.Internal {
		t.Fatalf("expected Internal, got %v", err)
	}
	if logs.FilterMessage("panic recovered").Len() != 1 {
		t.Fatal("panic not logged")
	}
}

func TestLoggingUnary(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	log := LoggingUnary(zap.New(core))

	_, _ = log(context.Background(), nil, info, func(context.Context, any) (any, error) {
		return nil, status.Error(codes.InvalidArgument, "bad")
	})
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["method"] != info.FullMethod || fields["code"] != codes.InvalidArgument.String() {
		t.Fatalf("unexpected fields %v", fields)
	}
}
