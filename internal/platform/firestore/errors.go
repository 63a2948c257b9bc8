package firestore

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/mercado-field/api/internal/repositories"
)

// kindByCode maps gRPC status codes returned by Firestore onto repository error kinds.
// Aborted shows up when a transaction loses a contention race after its retries.
var kindByCode = map[codes.Code]repositories.ErrorKind{
	codes.NotFound:           repositories.KindNotFound,
	codes.AlreadyExists:      repositories.KindConflict,
	codes.FailedPrecondition: repositories.KindConflict,
	codes.Aborted:            repositories.KindConflict,
	codes.Unavailable:        repositories.KindUnavailable,
	codes.ResourceExhausted:  repositories.KindUnavailable,
	codes.Internal:           repositories.KindUnavailable,
}

func newNotFound(op, id string) *repositories.Error {
	return repositories.NotFound(op, "document %s not found", id)
}

// IsNotFound reports whether err carries a not-found classification.
func IsNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

// WrapError classifies a Firestore failure as a *repositories.Error. Context errors, including their
// gRPC spellings, come back as the plain context sentinels so callers can tell timeouts apart.
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

	if repoErr, ok := err.(*repositories.Error); ok {
		if repoErr.Op == "" {
			repoErr.Op = op
		}
		return repoErr
	}
	kind, ok := kindByCode[code]
	if !ok {
		kind = repositories.KindUnknown
	}
	return repositories.NewError(op, kind, fmt.Errorf("firestore: %w", err))
}
