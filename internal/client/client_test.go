package client

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	pb "github.com/glinharesb/sep-go/api/sepv1"
	"github.com/glinharesb/sep-go/internal/audit"
	"github.com/glinharesb/sep-go/internal/crypto"
	"github.com/glinharesb/sep-go/internal/enclave"
	"github.com/glinharesb/sep-go/internal/hsm"
	"github.com/glinharesb/sep-go/internal/interceptor"
	"github.com/glinharesb/sep-go/internal/policy"
	"github.com/glinharesb/sep-go/internal/server"
)

const testToken = "test-token"

func dial(t *testing.T, p hsm.Provider, token string) *Client {
	t.Helper()
	logger := audit.NewLogger(100, nil, nil)
	e := enclave.New(p, enclave.WithAuditor(logger))

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			interceptor.RecoveryUnary(zap.NewNop()),
			interceptor.AuthUnary(testToken),
		),
		grpc.ChainStreamInterceptor(
			interceptor.RecoveryStream(zap.NewNop()),
			interceptor.AuthStream(testToken),
		),
	)
	pb.RegisterEnclaveServiceServer(srv, server.NewEnclaveServer(e, server.NewAuditServer(logger)))
	go func() { _ = srv.Serve(lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
		srv.Stop()
		logger.Close()
	})
	return New(conn, token)
}

func softwareHSM(t *testing.T) hsm.Provider {
	t.Helper()
	p, err := hsm.NewEphemeralSoftwareHSM()
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestRoundTrip(t *testing.T) {
	c := dial(t, softwareHSM(t), testToken)
	ctx := context.Background()

	signing, err := c.CreateSealedSigningKey(ctx, policy.NeedsBiometry)
	if err != nil {
		t.Fatalf("CreateSealedSigningKey: %v", err)
	}
	raw, err := c.SigningPublicKey(ctx, signing)
	if err != nil {
		t.Fatalf("SigningPublicKey: %v", err)
	}
	pub, _ := crypto.ParseUncompressed(raw)
	for _, n := range []int{20, 28, 32, 48, 64} {
		d := make([]byte, n)
		d[0] = byte(n)
		sig, err := c.Sign(ctx, signing, d)
		if err != nil {
			t.Fatalf("Sign(%d): %v", n, err)
		}
		if !crypto.VerifyRaw(pub, d, sig) {
			t.Fatalf("Sign(%d): signature did not verify", n)
		}
	}

	a, _ := c.CreateSealedAgreementKey(ctx, policy.NeedsUnlockOnce)
	b, _ := c.CreateSealedAgreementKey(ctx, policy.NeedsUnlock)
	pubA, _ := c.AgreementPublicKey(ctx, a)
	pubB, _ := c.AgreementPublicKey(ctx, b)
	ab, err := c.SharedSecret(ctx, a, pubB)
	if err != nil {
		t.Fatalf("SharedSecret: %v", err)
	}
	ba, _ := c.SharedSecret(ctx, b, pubA)
	if string(ab) != string(ba) || len(ab) != enclave.SharedSecretSize {
		t.Fatal("shared secrets differ")
	}
}

func TestCanonicalErrorRebuilt(t *testing.T) {
	c := dial(t, softwareHSM(t), testToken)
	ctx := context.Background()
	agreement, _ := c.CreateSealedAgreementKey(ctx, policy.NeedsUnlockOnce)

	out, err := c.Sign(ctx, agreement, make([]byte, 32))
	if out != nil {
		t.Fatal("failure returned a result")
	}
	var ce *enclave.Error
	if !errors.As(err, &ce) {
		t.Fatalf("expected *enclave.Error, got %T: %v", err, err)
	}
	if ce.Kind != enclave.UnderlyingCryptoFailure || ce.Code != enclave.CodeOther {
		t.Fatalf("unexpected error %+v", ce)
	}
	if !strings.HasPrefix(ce.Location, enclave.OpSign+" (") {
		t.Fatalf("location %q", ce.Location)
	}
	if status.Code(ce.Err) != codes.InvalidArgument {
		t.Fatalf("status lost: %v", ce.Err)
	}
}

func TestUnavailableRebuilt(t *testing.T) {
	c := dial(t, hsm.Unavailable{}, testToken)
	_, err := c.CreateSealedSigningKey(context.Background(), policy.NeedsUnlockOnce)
	var ce *enclave.Error
	if !errors.As(err, &ce) || ce.Code != enclave.CodeUnavailable || ce.Kind != enclave.HardwareUnavailable {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

func TestBadTokenIsNotCanonical(t *testing.T) {
	c := dial(t, softwareHSM(t), "wrong")
	_, err := c.CreateSealedSigningKey(context.Background(), policy.NeedsUnlockOnce)
	var ce *enclave.Error
	if errors.As(err, &ce) {
		t.Fatal("authentication failure must not look like an enclave error")
	}
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected Unauthenticated, got %v", err)
	}
}

func TestQueryAudit(t *testing.T) {
	c := dial(t, softwareHSM(t), testToken)
	ctx := context.Background()
	sealed, _ := c.CreateSealedSigningKey(ctx, policy.NeedsUnlockOnce)
	_, _ = c.Sign(ctx, sealed, []byte{1})

	var entries []audit.Entry
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		var err error
		entries, err = c.QueryAudit(ctx, audit.Filter{Status: audit.StatusError})
		if err != nil {
			t.Fatal(err)
		}
		if len(entries) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 failed entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Operation != enclave.OpSign || e.Code != enclave.CodeOther || e.KeyID != audit.Fingerprint(sealed) {
		t.Fatalf("unexpected entry %+v", e)
	}
	if e.Metadata["kind"] != enclave.InvalidParameterSize.String() || e.Timestamp.IsZero() {
		t.Fatalf("entry lost fields: %+v", e)
	}
}

func TestWatchAuditStopsOnCancel(t *testing.T) {
	c := dial(t, softwareHSM(t), testToken)
	ctx, cancel := context.WithCancel(context.Background())

	got := make(chan audit.Entry, 1)
	done := make(chan error, 1)
	go func() {
		done <- c.WatchAudit(ctx, func(e audit.Entry) error {
			select {
			case got <- e:
			default:
			}
			return nil
		})
	}()

	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
wait:
	for {
		select {
		case e := <-got:
			if e.Operation != enclave.OpCreateSealedAgreementKey {
				t.Fatalf("unexpected entry %+v", e)
			}
			break wait
		case <-tick.C:
			_, _ = c.CreateSealedAgreementKey(context.Background(), policy.NeedsUnlockOnce)
		case <-deadline:
			t.Fatal("no audit entry streamed")
		}
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("WatchAudit after cancel: %v", err)
	}
}

func TestFromStatusPassThrough(t *testing.T) {
	plain := errors.New("dial failed")
	if FromStatus(plain) != plain {
		t.Fatal("non-status errors must pass through")
	}
	st := status.Error(codes.PermissionDenied, "no")
	if FromStatus(st) != st {
		t.Fatal("status without ErrorInfo must pass through")
	}
}
