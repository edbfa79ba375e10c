package schedule

import (
	"sync"
	"time"

	"episode-notifier-bot/db"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Store is the durable side of the scheduler: subscription rows own the
// truth, the in-memory registry is a derived cache of what should be
// armed right now.
type Store interface {
	GetSubscription(id int64) (db.Subscription, error)
	GetSeries(id int64) (db.Series, error)
	SetPending(id int64, at time.Time, episode int) error
	ClearPending(id int64) error
	CommitDelivery(id int64, episode int) error
	FindAllPending() ([]db.Subscription, error)
}

// Notifier delivers one episode notification. It must tolerate being
// called more than once for the same episode; a duplicate message is
// acceptable, a lost one is not.
type Notifier interface {
	Deliver(chatId int64, series db.Series, episode int) error
}

const defaultWorkers = 4

type Scheduler struct {
	log      zerolog.Logger
	store    Store
	notifier Notifier
	registry *Registry

	jobs chan job
	quit chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// job identifies one due firing: the subscription and the episode the
// timer was armed for.
type job struct {
	id      int64
	episode int
}

func New(log zerolog.Logger, store Store, notifier Notifier, workers int) *Scheduler {
	if workers <= 0 {
		workers = defaultWorkers
	}
	s := &Scheduler{
		log:      log,
		store:    store,
		notifier: notifier,
		registry: NewRegistry(),
		jobs:     make(chan job, 128),
		quit:     make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	return s
}

// Stop cancels all live timers and waits for in-flight deliveries.
func (s *Scheduler) Stop() {
	s.once.Do(func() {
		close(s.quit)
	})
	s.registry.CancelAll()
	s.wg.Wait()
}

// ScheduleNext persists and arms the timer for the subscription's next
// episode. Idempotent: an already armed timer for the id is replaced.
// Called after subscribe and after each successful delivery commit.
func (s *Scheduler) ScheduleNext(sub db.Subscription) error {
	series, err := s.store.GetSeries(sub.SeriesId)
	if err != nil && errors.Is(err, db.ErrNotFound) {
		s.log.Warn().Int64("subscription_id", sub.Id).Int64("series_id", sub.SeriesId).
			Msg("subscription references missing series, not scheduling")
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "unable to load series for scheduling")
	}
	if !series.HasPreciseCadence() {
		s.log.Debug().Int64("series_id", series.Id).Str("series", series.DisplayName()).
			Msg("series has no precise cadence, skipping")
		return nil
	}

	episode := sub.LastNotifiedEp + 1
	airTime, ok := ComputeAirTime(series, episode)
	if !ok {
		s.log.Debug().Int64("series_id", series.Id).Int("episode", episode).
			Msg("unable to compute air time")
		return nil
	}
	if ShouldTerminate(series, episode, airTime) {
		s.log.Info().Int64("series_id", series.Id).Str("series", series.DisplayName()).
			Int("episode", episode).Msg("series finished, chain ends")
		return nil
	}

	// Durable first: the projection must be on disk before the timer
	// exists, so a crash can never leave an armed timer without a row.
	if err := s.store.SetPending(sub.Id, airTime, episode); err != nil {
		return err
	}
	id := sub.Id
	s.registry.ArmOrReplace(id, airTime, func() {
		s.enqueue(id, episode)
	})
	s.log.Info().Int64("subscription_id", id).Str("series", series.DisplayName()).
		Int("episode", episode).Time("air_time", airTime).Msg("notification scheduled")
	return nil
}

// Cancel drops the live timer only. The persisted projection stays, so a
// restart would re-arm it.
func (s *Scheduler) Cancel(id int64) {
	s.registry.Cancel(id)
}

// CancelAndClear drops the live timer and the persisted projection.
// Unsubscribe path: after this, neither restart nor monitoring sees the
// subscription as pending.
func (s *Scheduler) CancelAndClear(id int64) error {
	s.registry.Cancel(id)
	if err := s.store.ClearPending(id); err != nil {
		return err
	}
	s.log.Info().Int64("subscription_id", id).Msg("schedule cancelled and cleared")
	return nil
}

func (s *Scheduler) PendingCount() int {
	return s.registry.Count()
}

func (s *Scheduler) PendingIDs() []int64 {
	return s.registry.LiveIDs()
}

// enqueue hands a fired timer off to the worker pool so delivery I/O
// never runs on the timer goroutine.
func (s *Scheduler) enqueue(id int64, episode int) {
	select {
	case s.jobs <- job{id: id, episode: episode}:
	case <-s.quit:
	}
}

func (s *Scheduler) worker() {
	defer s.wg.Done()
	for {
		select {
		case <-s.quit:
			return
		case j := <-s.jobs:
			s.run(j)
		}
	}
}

// run isolates one delivery so a panic cannot take down the pool.
func (s *Scheduler) run(j job) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Int64("subscription_id", j.id).Interface("panic", r).
				Msg("panic during notification delivery")
		}
	}()
	s.execute(j.id, j.episode)
}

// execute is the due-timer callback body. It re-reads the subscription
// row instead of trusting anything captured at arm time: an unsubscribe
// or replace may have happened in between. The armed episode must still
// match the row's projection, or this firing belongs to a superseded
// timer.
func (s *Scheduler) execute(id int64, episode int) {
	sub, err := s.store.GetSubscription(id)
	if err != nil && errors.Is(err, db.ErrNotFound) {
		s.log.Warn().Int64("subscription_id", id).Msg("subscription gone, abandoning notification")
		s.registry.Cancel(id)
		return
	}
	if err != nil {
		// Leave the registry entry; a restart recovers the row.
		s.log.Error().Err(err).Int64("subscription_id", id).Msg("unable to load subscription")
		return
	}
	if sub.NextNotifyEp == nil {
		s.log.Warn().Int64("subscription_id", id).Msg("no pending episode, abandoning notification")
		s.registry.Cancel(id)
		return
	}
	if *sub.NextNotifyEp != episode {
		// A replacement timer owns the registry entry now; leave it be.
		s.log.Warn().Int64("subscription_id", id).Int("armed_episode", episode).
			Int("pending_episode", *sub.NextNotifyEp).Msg("projection moved on, abandoning notification")
		return
	}

	series, err := s.store.GetSeries(sub.SeriesId)
	if err != nil {
		s.log.Error().Err(err).Int64("subscription_id", id).Int64("series_id", sub.SeriesId).
			Msg("unable to load series, abandoning notification")
		s.registry.Cancel(id)
		return
	}

	// Failure must not advance state: the subscription stays due for the
	// same episode until an external retrigger (typically restart
	// recovery) attempts it again.
	if err := s.notifier.Deliver(sub.ChatId, series, episode); err != nil {
		s.log.Error().Err(err).Int64("subscription_id", id).Str("series", series.DisplayName()).
			Int("episode", episode).Msg("delivery failed, keeping pending state for retry")
		return
	}

	if err := s.store.CommitDelivery(sub.Id, episode); err != nil {
		s.log.Error().Err(err).Int64("subscription_id", id).Int("episode", episode).
			Msg("unable to commit delivery, not arming next episode")
		return
	}
	s.registry.Cancel(id)
	s.log.Info().Int64("subscription_id", id).Str("series", series.DisplayName()).
		Int("episode", episode).Int64("chat_id", sub.ChatId).Msg("notification delivered")

	sub.LastNotifiedEp = episode
	sub.LatestAiredEp = episode
	sub.NextNotifyTime = nil
	sub.NextNotifyEp = nil
	if err := s.ScheduleNext(sub); err != nil {
		s.log.Error().Err(err).Int64("subscription_id", id).Msg("unable to schedule next episode")
	}
}
