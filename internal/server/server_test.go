package server

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	pb "github.com/glinharesb/sep-go/api/sepv1"
	"github.com/glinharesb/sep-go/internal/audit"
	"github.com/glinharesb/sep-go/internal/crypto"
	"github.com/glinharesb/sep-go/internal/enclave"
	"github.com/glinharesb/sep-go/internal/hsm"
	"github.com/glinharesb/sep-go/internal/policy"
)

func startServer(t *testing.T, p hsm.Provider) (pb.EnclaveServiceClient, *audit.Logger) {
	t.Helper()
	logger := audit.NewLogger(100, nil, nil)
	e := enclave.New(p, enclave.WithAuditor(logger))

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	pb.RegisterEnclaveServiceServer(srv, NewEnclaveServer(e, NewAuditServer(logger)))
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
	return pb.NewEnclaveServiceClient(conn), logger
}

func withSealed(sealed []byte) context.Context {
	return metadata.AppendToOutgoingContext(context.Background(), pb.SealedKeyHeader, string(sealed))
}

func errorInfo(t *testing.T, err error) *errdetails.ErrorInfo {
	t.Helper()
	st, ok := status.FromError(err)
	if !ok {
		t.Fatalf("not a status error: %v", err)
	}
	for _, d := range st.Details() {
		if info, ok := d.(*errdetails.ErrorInfo); ok {
			return info
		}
	}
	t.Fatalf("status %v carries no ErrorInfo", st)
	return nil
}

func TestSignOverGRPC(t *testing.T) {
	p, _ := hsm.NewEphemeralSoftwareHSM()
	c, _ := startServer(t, p)
	ctx := context.Background()

	sealed, err := c.CreateSealedSigningKey(ctx, wrapperspb.UInt32(uint32(policy.NeedsUnlock)))
	if err != nil {
		t.Fatalf("CreateSealedSigningKey: %v", err)
	}
	pub, err := c.SigningPublicKey(withSealed(sealed.GetValue()), &emptypb.Empty{})
	if err != nil {
		t.Fatalf("SigningPublicKey: %v", err)
	}
	key, err := crypto.ParseUncompressed(pub.GetValue())
	if err != nil {
		t.Fatal(err)
	}

	d := make([]byte, 48)
	sig, err := c.Sign(withSealed(sealed.GetValue()), wrapperspb.Bytes(d))
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if !crypto.VerifyRaw(key, d, sig.GetValue()) {
		t.Fatal("signature did not verify")
	}
}

func TestSharedSecretOverGRPC(t *testing.T) {
	p, _ := hsm.NewEphemeralSoftwareHSM()
	c, _ := startServer(t, p)
	ctx := context.Background()

	a, _ := c.CreateSealedAgreementKey(ctx, wrapperspb.UInt32(1))
	b, _ := c.CreateSealedAgreementKey(ctx, wrapperspb.UInt32(5))
	pubB, err := c.AgreementPublicKey(withSealed(b.GetValue()), &emptypb.Empty{})
	if err != nil {
		t.Fatal(err)
	}
	pubA, _ := c.AgreementPublicKey(withSealed(a.GetValue()), &emptypb.Empty{})

	ab, err := c.SharedSecret(withSealed(a.GetValue()), wrapperspb.Bytes(pubB.GetValue()))
	if err != nil {
		t.Fatal(err)
	}
	ba, _ := c.SharedSecret(withSealed(b.GetValue()), wrapperspb.Bytes(pubA.GetValue()))
	if string(ab.GetValue()) != string(ba.GetValue()) {
		t.Fatal("shared secrets differ")
	}
}

func TestCanonicalErrorOverGRPC(t *testing.T) {
	p, _ := hsm.NewEphemeralSoftwareHSM()
	c, _ := startServer(t, p)
	sealed, _ := c.CreateSealedSigningKey(context.Background(), wrapperspb.UInt32(1))

	_, err := c.Sign(withSealed(sealed.GetValue()), wrapperspb.Bytes(make([]byte, 33)))
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
	info := errorInfo(t, err)
	if info.GetReason() != "2" || info.GetDomain() != enclave.Domain {
		t.Fatalf("unexpected ErrorInfo %v", info)
	}
	if info.GetMetadata()[pb.MetaKind] != enclave.InvalidParameterSize.String() {
		t.Fatalf("kind = %q", info.GetMetadata()[pb.MetaKind])
	}
	if info.GetMetadata()[pb.MetaLocation] == "" || info.GetMetadata()[pb.MetaDescription] == "" {
		t.Fatalf("incomplete ErrorInfo %v", info)
	}
}

func TestMissingSealedKey(t *testing.T) {
	p, _ := hsm.NewEphemeralSoftwareHSM()
	c, _ := startServer(t, p)

	_, err := c.Sign(context.Background(), wrapperspb.Bytes(make([]byte, 32)))
	if info := errorInfo(t, err); info.GetMetadata()[pb.MetaKind] != enclave.UnderlyingCryptoFailure.String() {
		t.Fatalf("kind = %q", info.GetMetadata()[pb.MetaKind])
	}
}

func TestUnavailableOverGRPC(t *testing.T) {
	c, _ := startServer(t, hsm.Unavailable{})

	_, err := c.CreateSealedAgreementKey(context.Background(), wrapperspb.UInt32(1))
	if status.Code(err) != codes.Unavailable {
		t.Fatalf("expected Unavailable, got %v", err)
	}
	if info := errorInfo(t, err); info.GetReason() != "1" {
		t.Fatalf("reason = %q", info.GetReason())
	}
}

func TestQueryAudit(t *testing.T) {
	p, _ := hsm.NewEphemeralSoftwareHSM()
	c, logger := startServer(t, p)
	ctx := context.Background()

	sealed, _ := c.CreateSealedSigningKey(ctx, wrapperspb.UInt32(2))
	_, _ = c.Sign(withSealed(sealed.GetValue()), wrapperspb.Bytes(make([]byte, 20)))

	filter, _ := structpb.NewStruct(map[string]any{"operation": enclave.OpSign})
	var list *structpb.ListValue
	// The audit pipeline is asynchronous.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		var err error
		list, err = c.QueryAudit(ctx, filter)
		if err != nil {
			t.Fatal(err)
		}
		if len(list.GetValues()) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(list.GetValues()) != 1 {
		t.Fatalf("expected 1 sign entry, got %d", len(list.GetValues()))
	}
	got := list.GetValues()[0].GetStructValue().GetFields()
	if got["key_id"].GetStringValue() != audit.Fingerprint(sealed.GetValue()) {
		t.Fatal("audit entry has the wrong key fingerprint")
	}
	if got["peer_address"].GetStringValue() == "" {
		t.Fatalf("audit entry for a gRPC call has no peer address: %v", got)
	}
	if n := len(logger.Query(audit.Filter{Operation: enclave.OpSign})); n != 1 {
		t.Fatalf("sign recorded %d times", n)
	}

	bad, _ := structpb.NewStruct(map[string]any{"start": "yesterday"})
	if _, err := c.QueryAudit(ctx, bad); status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
}

func TestWatchAudit(t *testing.T) {
	p, _ := hsm.NewEphemeralSoftwareHSM()
	c, logger := startServer(t, p)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := c.WatchAudit(ctx, &emptypb.Empty{})
	if err != nil {
		t.Fatal(err)
	}
	// Keep emitting until the subscription is registered server side.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ctx.Err() == nil {
			logger.Record("watched", nil, nil)
			time.Sleep(20 * time.Millisecond)
		}
	}()

	msg, err := stream.Recv()
	cancel()
	<-done
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if msg.GetFields()["operation"].GetStringValue() != "watched" {
		t.Fatalf("unexpected entry %v", msg)
	}
}

func TestAuditDisabled(t *testing.T) {
	s := NewEnclaveServer(enclave.New(hsm.Unavailable{}), nil)
	if _, err := s.QueryAudit(context.Background(), &structpb.Struct{}); status.Code(err) != codes.FailedPrecondition {
		t.Fatalf("expected FailedPrecondition, got %v", err)
	}
}

func TestStatusFromPlainError(t *testing.T) {
	if status.Code(StatusFromError(errors.New("x"))) != codes.Internal {
		t.Fatal("plain errors should map to Internal")
	}
}

func TestGRPCCode(t *testing.T) {
	want := map[enclave.Kind]codes.Code{
		enclave.HardwareUnavailable:      codes.Unavailable,
		enclave.PolicyConstructionFailed: codes.FailedPrecondition,
		enclave.InvalidParameterSize:     codes.InvalidArgument,
		enclave.UnderlyingCryptoFailure:  codes.InvalidArgument,
		enclave.Unclassified:             codes.Internal,
	}
	for k, c := range want {
		if got := grpcCode(k); got != c {
			t.Fatalf("%v: got %v, want %v", k, got, c)
		}
	}
}
