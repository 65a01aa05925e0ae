package oracle

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	serviceName              = "vetkd.custody.v1.VetKDSystem"
	publicKeyMethod          = "/" + serviceName + "/PublicKey"
	deriveEncryptedKeyMethod = "/" + serviceName + "/DeriveEncryptedKey"
)

// VetKDSystemServer is the server API of the oracle gRPC service.
//
// Messages are CBOR-encoded request and reply structs carried in protobuf
// wrapper types so no protoc toolchain is needed.
type VetKDSystemServer interface {
	PublicKey(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
	DeriveEncryptedKey(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
}

// UnimplementedVetKDSystemServer can be embedded to have forward compatible implementations.
type UnimplementedVetKDSystemServer struct{}

func (UnimplementedVetKDSystemServer) PublicKey(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	return nil, status.Error(codes.Unimplemented, "method PublicKey not implemented")
}
func (UnimplementedVetKDSystemServer) DeriveEncryptedKey(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	return nil, status.Error(codes.Unimplemented, "method DeriveEncryptedKey not implemented")
}

// RegisterVetKDSystemServer registers the oracle service on a gRPC server.
func RegisterVetKDSystemServer(s grpc.ServiceRegistrar, srv VetKDSystemServer) {
	s.RegisterService(&VetKDSystem_ServiceDesc, srv)
}

// VetKDSystemClient is the client API of the oracle gRPC service.
type VetKDSystemClient interface {
	PublicKey(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error)
	DeriveEncryptedKey(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error)
}

type vetKDSystemClient struct{ cc grpc.ClientConnInterface }

func NewVetKDSystemClient(cc grpc.ClientConnInterface) VetKDSystemClient {
	return &vetKDSystemClient{cc: cc}
}

func (c *vetKDSystemClient) PublicKey(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error) {
	out := new(wrapperspb.BytesValue)
	if err := c.cc.Invoke(ctx, publicKeyMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *vetKDSystemClient) DeriveEncryptedKey(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error) {
	out := new(wrapperspb.BytesValue)
	if err := c.cc.Invoke(ctx, deriveEncryptedKeyMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func _VetKDSystem_PublicKey_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(VetKDSystemServer).PublicKey(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: publicKeyMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(VetKDSystemServer).PublicKey(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

func _VetKDSystem_DeriveEncryptedKey_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(VetKDSystemServer).DeriveEncryptedKey(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: deriveEncryptedKeyMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(VetKDSystemServer).DeriveEncryptedKey(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

// VetKDSystem_ServiceDesc is the grpc.ServiceDesc for the oracle service.
var VetKDSystem_ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*VetKDSystemServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "PublicKey", Handler: _VetKDSystem_PublicKey_Handler},
		{MethodName: "DeriveEncryptedKey", Handler: _VetKDSystem_DeriveEncryptedKey_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "vetkd.proto",
}
