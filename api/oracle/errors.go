package oracle

import (
	"context"
	"errors"
	"fmt"

	"github.com/ruteri/vetkd-custody-backend/interfaces"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// mapRPC turns a gRPC error into an oracle error class. Codes describing a
// request the oracle refused are rejections, everything else means the
// oracle could not be reached or failed.
func mapRPC(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("%w: %w", interfaces.ErrOracleUnavailable, err)
	}

	switch st.Code() {
	case codes.InvalidArgument, codes.NotFound, codes.FailedPrecondition, codes.PermissionDenied:
		return fmt.Errorf("%w: %s", interfaces.ErrOracleRejected, st.Message())
	default:
		return fmt.Errorf("%w: %s: %s", interfaces.ErrOracleUnavailable, st.Code(), st.Message())
	}
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	case errors.Is(err, interfaces.ErrOracleRejected):
		return status.Error(codes.InvalidArgument, err.Error())
	default:
		return status.Error(codes.Unavailable, err.Error())
	}
}
