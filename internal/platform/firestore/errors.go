package firestore

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/homefit-remodel/api/internal/repositories"
)

// storeCode maps a gRPC status onto the repository error taxonomy.
func storeCode(code codes.Code) repositories.StoreErrorCode {
	switch code {
	case codes.NotFound:
		return repositories.StoreErrorNotFound
	case codes.AlreadyExists, codes.FailedPrecondition, codes.Aborted:
		return repositories.StoreErrorConflict
	case codes.Unavailable, codes.ResourceExhausted, codes.Internal:
		return repositories.StoreErrorUnavailable
	}
	return repositories.StoreErrorUnknown
}

// WrapError converts Firestore failures into *repositories.StoreError. Cancellation and
// deadlines surface as the plain context errors so callers can tell timeouts apart.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	code := status.Code(err)
	switch code {
	case codes.Canceled:
		return context.Canceled
	case codes.DeadlineExceeded:
		return context.DeadlineExceeded
	}

	var storeErr *repositories.StoreError
	if errors.As(err, &storeErr) {
		if storeErr.Op == "" {
			storeErr.Op = op
		}
		return storeErr
	}

	return repositories.NewStoreError(op, storeCode(code), "", err)
}
