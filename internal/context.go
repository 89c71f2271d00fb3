package internal

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// TranslateContextError converts context errors into the corresponding
// gRPC status errors: context.DeadlineExceeded becomes DeadlineExceeded
// and context.Canceled becomes Canceled. Any other error is returned
// unchanged.
func TranslateContextError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	if errors.Is(err, context.Canceled) {
		return status.Error(codes.Canceled, err.Error())
	}
	return err
}
