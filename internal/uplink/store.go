package uplink

import (
	"context"
	"fmt"

	"buzzhive/internal/models"
)

// TelemetryStore is implemented by the database package's ClickHouse and
// SQLite stores.
type TelemetryStore interface {
	SaveTelemetry(ctx context.Context, t *models.Telemetry) error
	Ping(ctx context.Context) error
	Close() error
}

// StoreSink writes records straight into a database.
type StoreSink struct {
	store TelemetryStore
}

func NewStoreSink(store TelemetryStore) *StoreSink {
	return &StoreSink{store: store}
}

func (s *StoreSink) Send(ctx context.Context, t models.Telemetry) error {
	if err := s.store.SaveTelemetry(ctx, &t); err != nil {
		return fmt.Errorf("%w: %w", ErrUploadFailed, err)
	}
	return nil
}

func (s *StoreSink) Ping(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrConnectivityUnavailable, err)
	}
	return nil
}

func (s *StoreSink) Close() error {
	return s.store.Close()
}
