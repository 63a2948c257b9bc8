package services

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/mercado-field/api/internal/repositories"
)

// EventLogger is the structured logging hook every service accepts.
type EventLogger func(ctx context.Context, event string, fields map[string]any)

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func defaultUnitOfWork(unit repositories.UnitOfWork) repositories.UnitOfWork {
	if unit == nil {
		return noopUnitOfWork{}
	}
	return unit
}

func defaultClock(clock func() time.Time) func() time.Time {
	if clock == nil {
		clock = time.Now
	}
	return func() time.Time {
		return clock().UTC()
	}
}

func defaultIDGenerator(gen func() string) func() string {
	if gen != nil {
		return gen
	}
	return func() string {
		return ulid.Make().String()
	}
}

func defaultLogger(logger EventLogger) EventLogger {
	if logger == nil {
		return func(context.Context, string, map[string]any) {}
	}
	return logger
}

// runInTx runs fn in a unit of work and maps repository failures that escape it.
func runInTx(ctx context.Context, unit repositories.UnitOfWork, fn func(context.Context) error) error {
	err := unit.RunInTx(ctx, fn)
	if err == nil || isServiceError(err) {
		return err
	}
	return mapRepositoryError(err)
}
