package server

import (
	"context"
	"strconv"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/glinharesb/sep-go/internal/audit"
)

// AuditServer answers audit queries and streams new entries.
type AuditServer struct {
	logger *audit.Logger
}

func NewAuditServer(logger *audit.Logger) *AuditServer {
	return &AuditServer{logger: logger}
}

func (s *EnclaveServer) QueryAudit(ctx context.Context, req *structpb.Struct) (*structpb.ListValue, error) {
	if s.audit == nil {
		return nil, status.Error(codes.FailedPrecondition, "audit disabled")
	}
	return s.audit.QueryAudit(ctx, req)
}

func (s *EnclaveServer) WatchAudit(req *emptypb.Empty, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	if s.audit == nil {
		return status.Error(codes.FailedPrecondition, "audit disabled")
	}
	return s.audit.WatchAudit(req, stream)
}

// QueryAudit accepts the filter fields key_id, operation, status, start, end
// (RFC 3339) and limit.
func (s *AuditServer) QueryAudit(_ context.Context, req *structpb.Struct) (*structpb.ListValue, error) {
	fields := req.GetFields()
	f := audit.Filter{
		KeyID:     fields["key_id"].GetStringValue(),
		Operation: fields["operation"].GetStringValue(),
		Status:    fields["status"].GetStringValue(),
		Limit:     int(fields["limit"].GetNumberValue()),
	}
	var err error
	if f.Start, err = parseTime(fields["start"].GetStringValue()); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "start: %v", err)
	}
	if f.End, err = parseTime(fields["end"].GetStringValue()); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "end: %v", err)
	}

	out := &structpb.ListValue{}
	for _, e := range s.logger.Query(f) {
		out.Values = append(out.Values, structpb.NewStructValue(entryToStruct(e)))
	}
	return out, nil
}

func (s *AuditServer) WatchAudit(_ *emptypb.Empty, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	sub := s.logger.Subscribe()
	defer s.logger.Unsubscribe(sub)

	for {
		select {
		case <-stream.Context().Done():
			return nil
		case entry, ok := <-sub.C:
			if !ok {
				return nil
			}
			if err := stream.Send(entryToStruct(entry)); err != nil {
				return err
			}
		}
	}
}

func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, v)
}

func entryToStruct(e audit.Entry) *structpb.Struct {
	meta := make(map[string]*structpb.Value, len(e.Metadata))
	for k, v := range e.Metadata {
		meta[k] = structpb.NewStringValue(v)
	}
	fields := map[string]*structpb.Value{
		"id":        structpb.NewStringValue(e.ID),
		"timestamp": structpb.NewStringValue(e.Timestamp.UTC().Format(time.RFC3339Nano)),
		"operation": structpb.NewStringValue(e.Operation),
		"key_id":    structpb.NewStringValue(e.KeyID),
		"status":    structpb.NewStringValue(e.Status),
		"metadata":  structpb.NewStructValue(&structpb.Struct{Fields: meta}),
	}
	if e.Code != 0 {
		fields["code"] = structpb.NewStringValue(strconv.Itoa(e.Code))
	}
	if e.PeerAddress != "" {
		fields["peer_address"] = structpb.NewStringValue(e.PeerAddress)
	}
	return &structpb.Struct{Fields: fields}
}
