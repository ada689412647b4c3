package client

import (
	"fmt"

	"github.com/matheus3301/convo/internal/chat"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// classify maps a gRPC status onto the chat sentinels so callers never see
// transport errors. The server's message is kept for display.
func classify(op string, err error) error {
	st, ok := grpcstatus.FromError(err)
	if !ok {
		return fmt.Errorf("%s: %w: %v", op, chat.ErrUnavailable, err)
	}
	var sentinel error
	switch st.Code() {
	case codes.Unauthenticated:
		sentinel = chat.ErrUnauthenticated
	case codes.PermissionDenied:
		sentinel = chat.ErrBlocked
	case codes.NotFound:
		sentinel = chat.ErrNotFound
	case codes.InvalidArgument, codes.AlreadyExists, codes.FailedPrecondition:
		sentinel = chat.ErrInvalidRequest
	default:
		// Unavailable, DeadlineExceeded, Canceled, Internal and the rest are
		// worth retrying.
		sentinel = chat.ErrUnavailable
	}
	return fmt.Errorf("%s: %w: %s", op, sentinel, st.Message())
}
