package server

import (
	"context"
	"strconv"

	"github.com/pkg/errors"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	pb "github.com/glinharesb/sep-go/api/sepv1"
	"github.com/glinharesb/sep-go/internal/enclave"
	"github.com/glinharesb/sep-go/internal/policy"
)

// EnclaveServer exposes an enclave.Enclave over gRPC.
type EnclaveServer struct {
	pb.UnimplementedEnclaveServiceServer
	enclave *enclave.Enclave
	audit   *AuditServer
}

// NewEnclaveServer serves e. When audit is set, every call is recorded in its
// log with the caller's address, replacing any auditor e was built with.
// audit may be nil, in which case the audit methods report FailedPrecondition.
func NewEnclaveServer(e *enclave.Enclave, audit *AuditServer) *EnclaveServer {
	return &EnclaveServer{enclave: e, audit: audit}
}

func (s *EnclaveServer) CreateSealedAgreementKey(ctx context.Context, req *wrapperspb.UInt32Value) (*wrapperspb.BytesValue, error) {
	return reply(s.scoped(ctx).KeyAgreement().CreateSealedKey(policy.Level(req.GetValue())))
}

func (s *EnclaveServer) AgreementPublicKey(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.BytesValue, error) {
	return reply(s.scoped(ctx).KeyAgreement().PublicKey(sealedKey(ctx)))
}

func (s *EnclaveServer) SharedSecret(ctx context.Context, req *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	return reply(s.scoped(ctx).KeyAgreement().SharedSecret(sealedKey(ctx), req.GetValue()))
}

func (s *EnclaveServer) CreateSealedSigningKey(ctx context.Context, req *wrapperspb.UInt32Value) (*wrapperspb.BytesValue, error) {
	return reply(s.scoped(ctx).Signing().CreateSealedKey(policy.Level(req.GetValue())))
}

func (s *EnclaveServer) SigningPublicKey(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.BytesValue, error) {
	return reply(s.scoped(ctx).Signing().PublicKey(sealedKey(ctx)))
}

func (s *EnclaveServer) Sign(ctx context.Context, req *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	return reply(s.scoped(ctx).Signing().Sign(sealedKey(ctx), req.GetValue()))
}

// scoped returns the enclave to serve one call with.
func (s *EnclaveServer) scoped(ctx context.Context) *enclave.Enclave {
	if s.audit == nil {
		return s.enclave
	}
	var addr string
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		addr = p.Addr.String()
	}
	return s.enclave.With(enclave.WithAuditor(s.audit.logger.ForPeer(addr)))
}

// sealedKey reads the sealed key from the request metadata. A missing key is
// passed on as nil and rejected by the module like any other malformed key.
func sealedKey(ctx context.Context) []byte {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return nil
	}
	if v := md.Get(pb.SealedKeyHeader); len(v) > 0 {
		return []byte(v[0])
	}
	return nil
}

func reply(out []byte, err error) (*wrapperspb.BytesValue, error) {
	if err != nil {
		return nil, StatusFromError(err)
	}
	return wrapperspb.Bytes(out), nil
}

// StatusFromError converts a canonical enclave error into a gRPC status error
// carrying the full canonical error as an ErrorInfo detail.
func StatusFromError(err error) error {
	var ce *enclave.Error
	if !errors.As(err, &ce) {
		return status.Error(codes.Internal, err.Error())
	}

	st := status.New(grpcCode(ce.Kind), ce.Description)
	detailed, derr := st.WithDetails(&errdetails.ErrorInfo{
		Reason: strconv.Itoa(ce.Code),
		Domain: ce.Domain,
		Metadata: map[string]string{
			pb.MetaDescription: ce.Description,
			pb.MetaLocation:    ce.Location,
			pb.MetaKind:        ce.Kind.String(),
		},
	})
	if derr != nil {
		return st.Err()
	}
	return detailed.Err()
}

func grpcCode(k enclave.Kind) codes.Code {
	switch k {
	case enclave.HardwareUnavailable:
		return codes.Unavailable
	case enclave.PolicyConstructionFailed:
		return codes.FailedPrecondition
	case enclave.InvalidParameterSize, enclave.UnderlyingCryptoFailure:
		return codes.InvalidArgument
	default:
		return codes.Internal
	}
}
