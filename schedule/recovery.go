package schedule

import (
	"time"

	"episode-notifier-bot/db"

	"github.com/pkg/errors"
)

// Recover re-arms timers for every persisted pending projection. Run once
// at startup, after the database is reachable and before user commands
// are accepted. Past-due instants are armed as well and fire immediately,
// which is how a delivery missed during downtime catches up.
func (s *Scheduler) Recover() error {
	pending, err := s.store.FindAllPending()
	if err != nil {
		return errors.Wrap(err, "unable to load pending subscriptions")
	}
	if len(pending) == 0 {
		s.log.Info().Msg("no pending notifications to recover")
		return nil
	}

	now := time.Now()
	var future, pastDue int
	for _, sub := range pending {
		if sub.NextNotifyTime == nil || sub.NextNotifyEp == nil {
			continue
		}
		series, err := s.store.GetSeries(sub.SeriesId)
		if err != nil && !errors.Is(err, db.ErrNotFound) {
			// Transient read failure: the row must survive so the next
			// restart can retry it.
			s.log.Error().Err(err).Int64("subscription_id", sub.Id).Int64("series_id", sub.SeriesId).
				Msg("unable to load series, leaving pending row for next recovery")
			continue
		}
		if err != nil || !series.HasPreciseCadence() {
			// Schedule data changed since this row was written; the
			// projection is stale and must not be re-armed.
			if clearErr := s.store.ClearPending(sub.Id); clearErr != nil {
				s.log.Warn().Err(clearErr).Int64("subscription_id", sub.Id).
					Msg("unable to clear stale pending schedule")
			}
			continue
		}
		if sub.NextNotifyTime.After(now) {
			future++
		} else {
			pastDue++
		}
		id := sub.Id
		episode := *sub.NextNotifyEp
		s.registry.ArmOrReplace(id, *sub.NextNotifyTime, func() {
			s.enqueue(id, episode)
		})
	}
	s.log.Info().Int("future", future).Int("past_due", pastDue).Int("armed", s.registry.Count()).
		Msg("notification schedule recovered")
	return nil
}