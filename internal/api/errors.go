package api

import (
	"errors"

	"github.com/matheus3301/convo/internal/store"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

var errBlocked = errors.New("blocked")

// toStatus maps store errors onto gRPC codes. Unknown errors become Internal.
func toStatus(err error, what string) error {
	code := codes.Internal
	switch {
	case errors.Is(err, store.ErrNotFound):
		code = codes.NotFound
	case errors.Is(err, store.ErrConflict):
		code = codes.AlreadyExists
	case errors.Is(err, store.ErrInvalidToken):
		code = codes.InvalidArgument
	case errors.Is(err, errBlocked):
		code = codes.PermissionDenied
	}
	return grpcstatus.Errorf(code, "%s: %v", what, err)
}
