// Package sepv1 defines the sep.v1.EnclaveService gRPC contract.
//
// Bodies are protobuf well-known types. A sealed key is never part of a body:
// it travels in the SealedKeyHeader binary metadata entry of the request.
// Failures carry an errdetails.ErrorInfo in the status details whose Reason
// is the canonical code and whose Metadata holds the description, location
// and kind.
package sepv1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	ServiceName = "sep.v1.EnclaveService"

	// SealedKeyHeader carries the sealed key. The -bin suffix makes gRPC
	// transmit it as raw bytes.
	SealedKeyHeader = "sep-sealed-key-bin"

	// ErrorInfo metadata keys.
	MetaDescription = "description"
	MetaLocation    = "location"
	MetaKind        = "kind"
)

const (
	EnclaveService_CreateSealedAgreementKey_FullMethodName = "/sep.v1.EnclaveService/CreateSealedAgreementKey"
	EnclaveService_AgreementPublicKey_FullMethodName       = "/sep.v1.EnclaveService/AgreementPublicKey"
	EnclaveService_SharedSecret_FullMethodName             = "/sep.v1.EnclaveService/SharedSecret"
	EnclaveService_CreateSealedSigningKey_FullMethodName   = "/sep.v1.EnclaveService/CreateSealedSigningKey"
	EnclaveService_SigningPublicKey_FullMethodName         = "/sep.v1.EnclaveService/SigningPublicKey"
	EnclaveService_Sign_FullMethodName                     = "/sep.v1.EnclaveService/Sign"
	EnclaveService_QueryAudit_FullMethodName               = "/sep.v1.EnclaveService/QueryAudit"
	EnclaveService_WatchAudit_FullMethodName               = "/sep.v1.EnclaveService/WatchAudit"
)

// EnclaveServiceServer is the server API for sep.v1.EnclaveService.
//
// CreateSealed*Key take the access-policy level and return the sealed key.
// The remaining key operations read the sealed key from SealedKeyHeader.
type EnclaveServiceServer interface {
	CreateSealedAgreementKey(context.Context, *wrapperspb.UInt32Value) (*wrapperspb.BytesValue, error)
	AgreementPublicKey(context.Context, *emptypb.Empty) (*wrapperspb.BytesValue, error)
	SharedSecret(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
	CreateSealedSigningKey(context.Context, *wrapperspb.UInt32Value) (*wrapperspb.BytesValue, error)
	SigningPublicKey(context.Context, *emptypb.Empty) (*wrapperspb.BytesValue, error)
	Sign(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
	QueryAudit(context.Context, *structpb.Struct) (*structpb.ListValue, error)
	WatchAudit(*emptypb.Empty, grpc.ServerStreamingServer[structpb.Struct]) error
}

// UnimplementedEnclaveServiceServer must be embedded to have forward compatible implementations.
type UnimplementedEnclaveServiceServer struct{}

func (UnimplementedEnclaveServiceServer) CreateSealedAgreementKey(context.Context, *wrapperspb.UInt32Value) (*wrapperspb.BytesValue, error) {
	return nil, status.Error(codes.Unimplemented, "method CreateSealedAgreementKey not implemented")
}
func (UnimplementedEnclaveServiceServer) AgreementPublicKey(context.Context, *emptypb.Empty) (*wrapperspb.BytesValue, error) {
	return nil, status.Error(codes.Unimplemented, "method AgreementPublicKey not implemented")
}
func (UnimplementedEnclaveServiceServer) SharedSecret(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	return nil, status.Error(codes.Unimplemented, "method SharedSecret not implemented")
}
func (UnimplementedEnclaveServiceServer) CreateSealedSigningKey(context.Context, *wrapperspb.UInt32Value) (*wrapperspb.BytesValue, error) {
	return nil, status.Error(codes.Unimplemented, "method CreateSealedSigningKey not implemented")
}
func (UnimplementedEnclaveServiceServer) SigningPublicKey(context.Context, *emptypb.Empty) (*wrapperspb.BytesValue, error) {
	return nil, status.Error(codes.Unimplemented, "method SigningPublicKey not implemented")
}
func (UnimplementedEnclaveServiceServer) Sign(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	return nil, status.Error(codes.Unimplemented, "method Sign not implemented")
}
func (UnimplementedEnclaveServiceServer) QueryAudit(context.Context, *structpb.Struct) (*structpb.ListValue, error) {
	return nil, status.Error(codes.Unimplemented, "method QueryAudit not implemented")
}
func (UnimplementedEnclaveServiceServer) WatchAudit(*emptypb.Empty, grpc.ServerStreamingServer[structpb.Struct]) error {
	return status.Error(codes.Unimplemented, "method WatchAudit not implemented")
}

func RegisterEnclaveServiceServer(s grpc.ServiceRegistrar, srv EnclaveServiceServer) {
	s.RegisterService(&EnclaveService_ServiceDesc, srv)
}

// unaryHandler adapts one typed method to the grpc.MethodDesc handler shape.
func unaryHandler[Req any, Resp any](fullMethod string, call func(EnclaveServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(EnclaveServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: fullMethod,
		}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(EnclaveServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func _EnclaveService_WatchAudit_Handler(srv any, stream grpc.ServerStream) error {
	m := new(emptypb.Empty)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(EnclaveServiceServer).WatchAudit(m, &grpc.GenericServerStream[emptypb.Empty, structpb.Struct]{ServerStream: stream})
}

// EnclaveService_ServiceDesc is the grpc.ServiceDesc for sep.v1.EnclaveService.
var EnclaveService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*EnclaveServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "CreateSealedAgreementKey",
			Handler: unaryHandler(EnclaveService_CreateSealedAgreementKey_FullMethodName,
				EnclaveServiceServer.CreateSealedAgreementKey),
		},
		{
			MethodName: "AgreementPublicKey",
			Handler: unaryHandler(EnclaveService_AgreementPublicKey_FullMethodName,
				EnclaveServiceServer.AgreementPublicKey),
		},
		{
			MethodName: "SharedSecret",
			Handler: unaryHandler(EnclaveService_SharedSecret_FullMethodName,
				EnclaveServiceServer.SharedSecret),
		},
		{
			MethodName: "CreateSealedSigningKey",
			Handler: unaryHandler(EnclaveService_CreateSealedSigningKey_FullMethodName,
				EnclaveServiceServer.CreateSealedSigningKey),
		},
		{
			MethodName: "SigningPublicKey",
			Handler: unaryHandler(EnclaveService_SigningPublicKey_FullMethodName,
				EnclaveServiceServer.SigningPublicKey),
		},
		{
			MethodName: "Sign",
			Handler: unaryHandler(EnclaveService_Sign_FullMethodName,
				EnclaveServiceServer.Sign),
		},
		{
			MethodName: "QueryAudit",
			Handler: unaryHandler(EnclaveService_QueryAudit_FullMethodName,
				EnclaveServiceServer.QueryAudit),
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "WatchAudit",
			Handler:       _EnclaveService_WatchAudit_Handler,
			ServerStreams: true,
		},
	},
	Metadata: "sep/v1/enclave.proto",
}

// EnclaveServiceClient is the client API for sep.v1.EnclaveService.
type EnclaveServiceClient interface {
	CreateSealedAgreementKey(ctx context.Context, in *wrapperspb.UInt32Value, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error)
	AgreementPublicKey(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error)
	SharedSecret(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error)
	CreateSealedSigningKey(ctx context.Context, in *wrapperspb.UInt32Value, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error)
	SigningPublicKey(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error)
	Sign(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error)
	QueryAudit(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.ListValue, error)
	WatchAudit(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (grpc.ServerStreamingClient[structpb.Struct], error)
}

type enclaveServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewEnclaveServiceClient(cc grpc.ClientConnInterface) EnclaveServiceClient {
	return &enclaveServiceClient{cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	if err := cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *enclaveServiceClient) CreateSealedAgreementKey(ctx context.Context, in *wrapperspb.UInt32Value, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error) {
	return invoke[wrapperspb.BytesValue](ctx, c.cc, EnclaveService_CreateSealedAgreementKey_FullMethodName, in, opts)
}

func (c *enclaveServiceClient) AgreementPublicKey(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error) {
	return invoke[wrapperspb.BytesValue](ctx, c.cc, EnclaveService_AgreementPublicKey_FullMethodName, in, opts)
}

func (c *enclaveServiceClient) SharedSecret(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error) {
	return invoke[wrapperspb.BytesValue](ctx, c.cc, EnclaveService_SharedSecret_FullMethodName, in, opts)
}

func (c *enclaveServiceClient) CreateSealedSigningKey(ctx context.Context, in *wrapperspb.UInt32Value, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error) {
	return invoke[wrapperspb.BytesValue](ctx, c.cc, EnclaveService_CreateSealedSigningKey_FullMethodName, in, opts)
}

func (c *enclaveServiceClient) SigningPublicKey(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error) {
	return invoke[wrapperspb.BytesValue](ctx, c.cc, EnclaveService_SigningPublicKey_FullMethodName, in, opts)
}

func (c *enclaveServiceClient) Sign(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error) {
	return invoke[wrapperspb.BytesValue](ctx, c.cc, EnclaveService_Sign_FullMethodName, in, opts)
}

func (c *enclaveServiceClient) QueryAudit(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.ListValue, error) {
	return invoke[structpb.ListValue](ctx, c.cc, EnclaveService_QueryAudit_FullMethodName, in, opts)
}

func (c *enclaveServiceClient) WatchAudit(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (grpc.ServerStreamingClient[structpb.Struct], error) {
	stream, err := c.cc.NewStream(ctx, &EnclaveService_ServiceDesc.Streams[0], EnclaveService_WatchAudit_FullMethodName, opts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[emptypb.Empty, structpb.Struct]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}
