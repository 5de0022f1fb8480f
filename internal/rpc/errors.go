package rpc

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/dmitrijs2005/prwatch/internal/background"
	"github.com/dmitrijs2005/prwatch/internal/common"
	"github.com/dmitrijs2005/prwatch/internal/securestore"
)

// ErrUnavailable means the daemon could not be reached.
var ErrUnavailable = errors.New("prwatch daemon is unavailable")

// sentinels travel as their message under a fixed code, so the client can
// restore them for errors.Is.
var sentinels = []struct {
	err  error
	code codes.Code
}{
	{background.ErrUnknownCommand, codes.InvalidArgument},
	{background.ErrBadPayload, codes.InvalidArgument},
	{common.ErrInvalidTransition, codes.FailedPrecondition},
	{common.ErrWrongPassword, codes.Unauthenticated},
	{common.ErrSessionUnavailable, codes.Unauthenticated},
	{common.ErrPasswordTooShort, codes.InvalidArgument},
	{common.ErrPasswordMismatch, codes.InvalidArgument},
	{common.ErrInvalidToken, codes.InvalidArgument},
	{common.ErrMissingScope, codes.InvalidArgument},
	{securestore.ErrUndecryptable, codes.DataLoss},
}

func toStatus(err error) *status.Status {
	if st, ok := status.FromError(err); ok {
		return st
	}
	for _, s := range sentinels {
		if errors.Is(err, s.err) {
			return status.New(s.code, s.err.Error())
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return status.FromContextError(err)
	}
	return status.New(codes.Internal, err.Error())
}

func fromStatus(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	for _, s := range sentinels {
		if st.Code() == s.code && st.Message() == s.err.Error() {
			return s.err
		}
	}
	switch st.Code() {
	case codes.Unavailable:
		return fmt.Errorf("%w: %s", ErrUnavailable, st.Message())
	case codes.Canceled:
		return context.Canceled
	case codes.DeadlineExceeded:
		return context.DeadlineExceeded
	default:
		return fmt.Errorf("rpc error: %w", err)
	}
}
