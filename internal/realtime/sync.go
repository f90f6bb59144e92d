package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"client-portal/internal/model"
	"client-portal/internal/resource"
	"github.com/cenkalti/backoff/v4"
)

// Syncer keeps a Collection in step with one table: it loads the current
// rows, subscribes, then applies events until ctx ends.
//
// Reconnect is nil by default and a dropped subscription ends Run with its
// error. When set, each failure is retried after the policy's delay and
// every retry reloads the collection before resubscribing.
type Syncer struct {
	Client    *Client
	Loader    Loader
	Spec      Spec
	Reconnect func() backoff.BackOff
	Logger    *slog.Logger
}

func (s *Syncer) Run(ctx context.Context, coll *Collection) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	filter, err := s.rowFilter()
	if err != nil {
		return err
	}

	var policy backoff.BackOff
	if s.Reconnect != nil {
		policy = backoff.WithContext(s.Reconnect(), ctx)
	}

	for {
		err := s.once(ctx, coll, filter, policy)
		if ctx.Err() != nil {
			return nil
		}
		var refused *SubscriptionError
		if policy == nil || errors.As(err, &refused) {
			return err
		}

		wait := policy.NextBackOff()
		if wait == backoff.Stop {
			return err
		}
		logger.Warn("realtime sync interrupted, retrying", "table", s.Spec.Table, "in", wait, "error", err)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func (s *Syncer) once(ctx context.Context, coll *Collection, filter *resource.RowFilter, policy backoff.BackOff) error {
	rows, err := s.Loader.Load(ctx, s.Spec.Table)
	if err != nil {
		return err
	}
	coll.Replace(matching(rows, filter))

	sub, err := s.Client.Subscribe(ctx, s.Spec)
	if err != nil {
		return err
	}
	defer func() { _ = sub.Close() }()
	if policy != nil {
		policy.Reset()
	}

	for ev := range sub.Events() {
		coll.Apply(ev)
	}
	if err := sub.Err(); err != nil {
		return err
	}
	if ctx.Err() != nil {
		return nil
	}
	return errors.New("realtime: subscription closed")
}

func (s *Syncer) rowFilter() (*resource.RowFilter, error) {
	if s.Spec.Filter == "" {
		return nil, nil
	}
	schema, ok := resource.Lookup(s.Spec.Table)
	if !ok {
		return nil, fmt.Errorf("realtime: unknown table %q", s.Spec.Table)
	}
	return schema.ParseRowFilter(s.Spec.Filter)
}

func matching(rows []model.Row, filter *resource.RowFilter) []model.Row {
	if filter == nil {
		return rows
	}
	out := make([]model.Row, 0, len(rows))
	for _, r := range rows {
		if filter.Matches(r) {
			out = append(out, r)
		}
	}
	return out
}
