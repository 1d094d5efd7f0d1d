package services

import (
	"context"
	"errors"

	"go.uber.org/zap"

	apperrors "github.com/charlesng35/passgate/pkg/errors"
)

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

// appError passes application errors through and hides anything else behind
// ErrInternalServer after logging it.
func appError(log *zap.Logger, op string, err error) error {
	if err == nil {
		return nil
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	log.Error("account operation failed", zap.String("op", op), zap.Error(err))
	return apperrors.ErrInternalServer.WithInternal(err)
}

func stringPtr(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
