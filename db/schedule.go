package db

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

// Schedule store: the persisted projection of which subscription is
// waiting for which episode, at what instant. Both projection columns are
// always written together so a reader can never observe a mixed pair.

func (d *DB) SetPending(id int64, at time.Time, episode int) error {
	sub := Subscription{
		Id:             id,
		NextNotifyTime: &at,
		NextNotifyEp:   &episode,
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	_, err := d.db.NewUpdate().
		Model(&sub).
		Set("next_notify_time = ?next_notify_time").
		Set("next_notify_ep = ?next_notify_ep").
		WherePK().
		Exec(ctx)
	if err != nil {
		return errors.Wrap(err, "error during saving pending schedule")
	}
	return nil
}

func (d *DB) ClearPending(id int64) error {
	sub := Subscription{Id: id}
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	_, err := d.db.NewUpdate().
		Model(&sub).
		Set("next_notify_time = NULL").
		Set("next_notify_ep = NULL").
		WherePK().
		Exec(ctx)
	if err != nil {
		return errors.Wrap(err, "error during clearing pending schedule")
	}
	return nil
}

// CommitDelivery advances the notified episode and clears the projection
// in one transaction. The caller must not arm the next timer if this
// returns an error.
func (d *DB) CommitDelivery(id int64, episode int) error {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	err := d.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		sub := Subscription{Id: id}
		_, err := tx.NewUpdate().
			Model(&sub).
			Set("last_notified_ep = ?", episode).
			Set("latest_aired_ep = ?", episode).
			Set("next_notify_time = NULL").
			Set("next_notify_ep = NULL").
			WherePK().
			Exec(ctx)
		return err
	})
	if err != nil {
		return errors.Wrap(err, "error during committing delivery")
	}
	return nil
}

// FindAllPending returns every subscription with a live projection.
// Recovery only; expected small relative to the full table.
func (d *DB) FindAllPending() ([]Subscription, error) {
	var subs []Subscription
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	err := d.db.NewSelect().
		Model(&subs).
		Where("next_notify_time IS NOT NULL").
		Scan(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "error during querying pending subscriptions")
	}
	return subs, nil
}
