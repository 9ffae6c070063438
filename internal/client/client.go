// Package client calls a remote sep.v1.EnclaveService and turns its failures
// back into *enclave.Error values.
package client

import (
	"context"
	"io"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	pb "github.com/glinharesb/sep-go/api/sepv1"
	"github.com/glinharesb/sep-go/internal/audit"
	"github.com/glinharesb/sep-go/internal/enclave"
	"github.com/glinharesb/sep-go/internal/policy"
)

type Client struct {
	rpc   pb.EnclaveServiceClient
	token string
}

// New wraps cc. A non-empty token is sent as a bearer token on every call.
func New(cc grpc.ClientConnInterface, token string) *Client {
	return &Client{rpc: pb.NewEnclaveServiceClient(cc), token: token}
}

func (c *Client) CreateSealedAgreementKey(ctx context.Context, level policy.Level) ([]byte, error) {
	return bytesReply(c.rpc.CreateSealedAgreementKey(c.outgoing(ctx, nil), wrapperspb.UInt32(uint32(level))))
}

func (c *Client) AgreementPublicKey(ctx context.Context, sealed []byte) ([]byte, error) {
	return bytesReply(c.rpc.AgreementPublicKey(c.outgoing(ctx, sealed), &emptypb.Empty{}))
}

func (c *Client) SharedSecret(ctx context.Context, sealed, peer []byte) ([]byte, error) {
	return bytesReply(c.rpc.SharedSecret(c.outgoing(ctx, sealed), wrapperspb.Bytes(peer)))
}

func (c *Client) CreateSealedSigningKey(ctx context.Context, level policy.Level) ([]byte, error) {
	return bytesReply(c.rpc.CreateSealedSigningKey(c.outgoing(ctx, nil), wrapperspb.UInt32(uint32(level))))
}

func (c *Client) SigningPublicKey(ctx context.Context, sealed []byte) ([]byte, error) {
	return bytesReply(c.rpc.SigningPublicKey(c.outgoing(ctx, sealed), &emptypb.Empty{}))
}

func (c *Client) Sign(ctx context.Context, sealed, digest []byte) ([]byte, error) {
	return bytesReply(c.rpc.Sign(c.outgoing(ctx, sealed), wrapperspb.Bytes(digest)))
}

// QueryAudit returns the daemon's audit entries matching f, newest first.
func (c *Client) QueryAudit(ctx context.Context, f audit.Filter) ([]audit.Entry, error) {
	req := map[string]any{
		"key_id":    f.KeyID,
		"operation": f.Operation,
		"status":    f.Status,
		"limit":     f.Limit,
	}
	if !f.Start.IsZero() {
		req["start"] = f.Start.Format(time.RFC3339Nano)
	}
	if !f.End.IsZero() {
		req["end"] = f.End.Format(time.RFC3339Nano)
	}
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, errors.Wrap(err, "encode audit filter")
	}

	list, err := c.rpc.QueryAudit(c.outgoing(ctx, nil), in)
	if err != nil {
		return nil, FromStatus(err)
	}
	out := make([]audit.Entry, 0, len(list.GetValues()))
	for _, v := range list.GetValues() {
		out = append(out, entryFromStruct(v.GetStructValue()))
	}
	return out, nil
}

// WatchAudit calls fn for every new audit entry until ctx is done, the
// stream ends, or fn returns an error.
func (c *Client) WatchAudit(ctx context.Context, fn func(audit.Entry) error) error {
	stream, err := c.rpc.WatchAudit(c.outgoing(ctx, nil), &emptypb.Empty{})
	if err != nil {
		return FromStatus(err)
	}
	for {
		msg, err := stream.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return FromStatus(err)
		}
		if err := fn(entryFromStruct(msg)); err != nil {
			return err
		}
	}
}

func (c *Client) outgoing(ctx context.Context, sealed []byte) context.Context {
	var kv []string
	if c.token != "" {
		kv = append(kv, "authorization", "Bearer "+c.token)
	}
	if sealed != nil {
		kv = append(kv, pb.SealedKeyHeader, string(sealed))
	}
	if len(kv) == 0 {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, kv...)
}

func bytesReply(resp *wrapperspb.BytesValue, err error) ([]byte, error) {
	if err != nil {
		return nil, FromStatus(err)
	}
	return resp.GetValue(), nil
}

// FromStatus rebuilds the *enclave.Error carried in a status's ErrorInfo
// detail. Errors without one, such as authentication or transport failures,
// are returned unchanged.
func FromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	for _, d := range st.Details() {
		info, ok := d.(*errdetails.ErrorInfo)
		if !ok || info.GetDomain() != enclave.Domain {
			continue
		}
		code, cerr := strconv.Atoi(info.GetReason())
		if cerr != nil {
			continue
		}
		md := info.GetMetadata()
		return &enclave.Error{
			Kind:        enclave.ParseKind(md[pb.MetaKind]),
			Code:        code,
			Domain:      info.GetDomain(),
			Description: md[pb.MetaDescription],
			Location:    md[pb.MetaLocation],
			Err:         err,
		}
	}
	return err
}

func entryFromStruct(s *structpb.Struct) audit.Entry {
	f := s.GetFields()
	e := audit.Entry{
		ID:          f["id"].GetStringValue(),
		Operation:   f["operation"].GetStringValue(),
		KeyID:       f["key_id"].GetStringValue(),
		Status:      f["status"].GetStringValue(),
		PeerAddress: f["peer_address"].GetStringValue(),
	}
	e.Timestamp, _ = time.Parse(time.RFC3339Nano, f["timestamp"].GetStringValue())
	e.Code, _ = strconv.Atoi(f["code"].GetStringValue())
	if meta := f["metadata"].GetStructValue().GetFields(); len(meta) > 0 {
		e.Metadata = make(map[string]string, len(meta))
		for k, v := range meta {
			e.Metadata[k] = v.GetStringValue()
		}
	}
	return e
}
