package oracle

import (
	"context"
	"log/slog"

	"github.com/fxamacker/cbor/v2"
	"github.com/ruteri/vetkd-custody-backend/interfaces"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Server exposes an interfaces.VetKDSystem over the oracle gRPC service.
type Server struct {
	UnimplementedVetKDSystemServer
	System interfaces.VetKDSystem
	Log    *slog.Logger
}

func (s *Server) PublicKey(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	if s == nil || s.System == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing vetKD system")
	}

	var req interfaces.VetKDPublicKeyRequest
	if err := cbor.Unmarshal(in.GetValue(), &req); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "could not decode request: %v", err)
	}

	reply, err := s.System.PublicKey(ctx, req)
	if err != nil {
		s.logFailure("PublicKey", req.KeyID, err)
		return nil, mapErr(err)
	}
	return encodeReply(reply)
}

func (s *Server) DeriveEncryptedKey(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	if s == nil || s.System == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing vetKD system")
	}

	var req interfaces.VetKDEncryptedKeyRequest
	if err := cbor.Unmarshal(in.GetValue(), &req); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "could not decode request: %v", err)
	}

	reply, err := s.System.DeriveEncryptedKey(ctx, req)
	if err != nil {
		s.logFailure("DeriveEncryptedKey", req.KeyID, err)
		return nil, mapErr(err)
	}
	return encodeReply(reply)
}

func (s *Server) logFailure(method string, keyID interfaces.VetKDKeyID, err error) {
	if s.Log == nil {
		return
	}
	s.Log.Info("vetKD request failed",
		slog.String("method", method),
		slog.String("key_id", keyID.String()),
		slog.String("err", err.Error()))
}

func encodeReply(reply any) (*wrapperspb.BytesValue, error) {
	b, err := cbor.Marshal(reply)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "could not encode reply: %v", err)
	}
	return wrapperspb.Bytes(b), nil
}
