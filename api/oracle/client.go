package oracle

import (
	"context"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/ruteri/vetkd-custody-backend/interfaces"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Client implements interfaces.VetKDSystem over the oracle gRPC service.
type Client struct {
	cc     *grpc.ClientConn
	client VetKDSystemClient
}

var _ interfaces.VetKDSystem = (*Client)(nil)

type DialOptions struct {
	// Timeout bounds waiting for the first connection when non-zero.
	// With a zero Timeout Dial returns at once and connects lazily.
	Timeout time.Duration

	// MaxMsgBytes sets both send/recv max sizes when non-zero.
	MaxMsgBytes int
}

// Dial connects to an oracle at target (host:port).
func Dial(target string, opts DialOptions) (*Client, error) {
	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}
	if opts.MaxMsgBytes > 0 {
		dialOpts = append(dialOpts,
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(opts.MaxMsgBytes),
				grpc.MaxCallSendMsgSize(opts.MaxMsgBytes),
			),
		)
	}

	cc, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("dialing oracle %s: %w", target, err)
	}

	if opts.Timeout > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), opts.Timeout)
		defer cancel()
		if err := waitReady(ctx, cc); err != nil {
			_ = cc.Close()
			return nil, fmt.Errorf("dialing oracle %s: %w", target, err)
		}
	}
	return NewClient(cc), nil
}

func waitReady(ctx context.Context, cc *grpc.ClientConn) error {
	cc.Connect()
	for {
		state := cc.GetState()
		if state == connectivity.Ready {
			return nil
		}
		if !cc.WaitForStateChange(ctx, state) {
			return fmt.Errorf("connection not ready (%s): %w", state, ctx.Err())
		}
	}
}

// NewClient wraps an established connection.
func NewClient(cc *grpc.ClientConn) *Client {
	return &Client{cc: cc, client: NewVetKDSystemClient(cc)}
}

func (c *Client) Close() error {
	if c == nil || c.cc == nil {
		return nil
	}
	return c.cc.Close()
}

func (c *Client) PublicKey(ctx context.Context, req interfaces.VetKDPublicKeyRequest) (*interfaces.VetKDPublicKeyReply, error) {
	in, err := encodeRequest(req)
	if err != nil {
		return nil, err
	}

	out, err := c.client.PublicKey(ctx, in)
	if err != nil {
		return nil, mapRPC(err)
	}

	reply := new(interfaces.VetKDPublicKeyReply)
	if err := cbor.Unmarshal(out.GetValue(), reply); err != nil {
		return nil, fmt.Errorf("%w: could not decode reply: %w", interfaces.ErrOracleUnavailable, err)
	}
	return reply, nil
}

func (c *Client) DeriveEncryptedKey(ctx context.Context, req interfaces.VetKDEncryptedKeyRequest) (*interfaces.VetKDEncryptedKeyReply, error) {
	in, err := encodeRequest(req)
	if err != nil {
		return nil, err
	}

	out, err := c.client.DeriveEncryptedKey(ctx, in)
	if err != nil {
		return nil, mapRPC(err)
	}

	reply := new(interfaces.VetKDEncryptedKeyReply)
	if err := cbor.Unmarshal(out.GetValue(), reply); err != nil {
		return nil, fmt.Errorf("%w: could not decode reply: %w", interfaces.ErrOracleUnavailable, err)
	}
	return reply, nil
}

func encodeRequest(req any) (*wrapperspb.BytesValue, error) {
	b, err := cbor.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%w: could not encode request: %w", interfaces.ErrOracleRejected, err)
	}
	return wrapperspb.Bytes(b), nil
}
