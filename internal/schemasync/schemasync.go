// Package schemasync triggers the synchronisation of a database schema in Metabase and waits for it to complete.
package schemasync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/flovouin/metabase-provisioner/metabase"
)

// The way completion of a synchronisation is detected.
type Strategy string

const (
	// Polls the Metabase logs until the synchronisation completion message appears.
	Poll Strategy = "poll"
	// Waits for a fixed delay, without checking the synchronisation actually completed.
	Delay Strategy = "delay"
)

// Returned when the synchronisation did not complete before the configured timeout.
var ErrSyncTimeout = errors.New("timed out waiting for the database synchronisation")

// The configuration of a `Waiter`.
type Config struct {
	Strategy Strategy      `koanf:"strategy" validate:"oneof=poll delay"`
	Interval time.Duration `koanf:"interval" validate:"gt=0"` // The time between two polls of the logs.
	Delay    time.Duration `koanf:"delay" validate:"gte=0"`   // The time to wait when using the `delay` strategy.
	Timeout  time.Duration `koanf:"timeout" validate:"gte=0"` // The maximum time to wait. Zero means no limit.
}

// The default configuration, polling the logs every second without time limit.
func DefaultConfig() Config {
	return Config{
		Strategy: Poll,
		Interval: time.Second,
		Delay:    2 * time.Second,
	}
}

// Triggers database synchronisations and waits for them to complete.
type Waiter struct {
	api    metabase.API
	config Config
	logger *slog.Logger
}

// Creates a new waiter.
func NewWaiter(api metabase.API, config Config, logger *slog.Logger) *Waiter {
	if logger == nil {
		logger = slog.Default()
	}
	if config.Interval <= 0 {
		config.Interval = DefaultConfig().Interval
	}

	return &Waiter{
		api:    api,
		config: config,
		logger: logger,
	}
}

// Returns the log message written by Metabase when the synchronisation of a database is done.
func CompletionMarker(databaseId int, databaseName string) string {
	return fmt.Sprintf("FINISHED: Sync postgres Database %d '%s'", databaseId, databaseName)
}

// Returns whether any of the log entries contains the marker.
func containsMarker(entries []metabase.LogEntry, marker string) bool {
	for _, e := range entries {
		if strings.Contains(e.Msg, marker) {
			return true
		}
	}
	return false
}

// Sleeps for the given duration, or until the context is done.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Polls the logs until the completion marker appears.
func (w *Waiter) poll(ctx context.Context, databaseId int, databaseName string) error {
	marker := CompletionMarker(databaseId, databaseName)

	for {
		entries, err := metabase.ListLogs(ctx, w.api)
		if err != nil {
			return err
		}

		if containsMarker(entries, marker) {
			return nil
		}

		w.logger.InfoContext(ctx, "Waiting for database sync to finish...", slog.Int("database", databaseId))

		if err := sleep(ctx, w.config.Interval); err != nil {
			return err
		}
	}
}

// Triggers the synchronisation of the schema of a database, and waits for it to complete.
func (w *Waiter) Sync(ctx context.Context, databaseId int, databaseName string) error {
	if err := metabase.SyncDatabaseSchema(ctx, w.api, databaseId); err != nil {
		return err
	}

	waitCtx := ctx
	if w.config.Timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, w.config.Timeout)
		defer cancel()
	}

	var err error
	switch w.config.Strategy {
	case Delay:
		err = sleep(waitCtx, w.config.Delay)
	default:
		err = w.poll(waitCtx, databaseId, databaseName)
	}

	// Only the configured timeout is reported as such, not the deadline of the caller.
	if err != nil && ctx.Err() == nil && errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: database %d '%s' after %s", ErrSyncTimeout, databaseId, databaseName, w.config.Timeout)
	}

	return err
}
