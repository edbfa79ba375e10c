package schedule

import (
	"sync"
	"testing"
	"time"

	"episode-notifier-bot/db"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu           sync.Mutex
	subs         map[int64]db.Subscription
	series       map[int64]db.Series
	commitErr    error
	getSeriesErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		subs:   make(map[int64]db.Subscription),
		series: make(map[int64]db.Series),
	}
}

func (f *fakeStore) putSub(sub db.Subscription) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs[sub.Id] = sub
}

func (f *fakeStore) putSeries(s db.Series) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.series[s.Id] = s
}

func (f *fakeStore) sub(id int64) db.Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subs[id]
}

func (f *fakeStore) GetSubscription(id int64) (db.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.subs[id]
	if !ok {
		return db.Subscription{}, db.ErrNotFound
	}
	return sub, nil
}

func (f *fakeStore) GetSeries(id int64) (db.Series, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getSeriesErr != nil {
		return db.Series{}, f.getSeriesErr
	}
	s, ok := f.series[id]
	if !ok {
		return db.Series{}, db.ErrNotFound
	}
	return s, nil
}

func (f *fakeStore) SetPending(id int64, at time.Time, episode int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.subs[id]
	if !ok {
		return nil
	}
	sub.NextNotifyTime = &at
	sub.NextNotifyEp = &episode
	f.subs[id] = sub
	return nil
}

func (f *fakeStore) ClearPending(id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.subs[id]
	if !ok {
		return nil
	}
	sub.NextNotifyTime = nil
	sub.NextNotifyEp = nil
	f.subs[id] = sub
	return nil
}

func (f *fakeStore) CommitDelivery(id int64, episode int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.commitErr != nil {
		return f.commitErr
	}
	sub, ok := f.subs[id]
	if !ok {
		return nil
	}
	sub.LastNotifiedEp = episode
	sub.LatestAiredEp = episode
	sub.NextNotifyTime = nil
	sub.NextNotifyEp = nil
	f.subs[id] = sub
	return nil
}

func (f *fakeStore) FindAllPending() ([]db.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var pending []db.Subscription
	for _, sub := range f.subs {
		if sub.NextNotifyTime != nil {
			pending = append(pending, sub)
		}
	}
	return pending, nil
}

type fakeNotifier struct {
	mu        sync.Mutex
	delivered []int
	attempts  int
	err       error
}

func (f *fakeNotifier) Deliver(chatId int64, series db.Series, episode int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.err != nil {
		return f.err
	}
	f.delivered = append(f.delivered, episode)
	return nil
}

func (f *fakeNotifier) episodes() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.delivered...)
}

func (f *fakeNotifier) attemptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

func intPtr(i int) *int { return &i }

func strPtr(s string) *string { return &s }

func timePtr(t time.Time) *time.Time { return &t }

func testSeries(id int64, begin time.Time, period string, total int) db.Series {
	return db.Series{
		Id:              id,
		Name:            "test series",
		TotalEpisodes:   intPtr(total),
		BeginTime:       timePtr(begin),
		BroadcastPeriod: strPtr(period),
	}
}

func newTestScheduler(t *testing.T, store Store, notifier Notifier) *Scheduler {
	s := New(zerolog.Nop(), store, notifier, 2)
	t.Cleanup(s.Stop)
	return s
}

func TestScheduleNextPersistsProjectionBeforeArming(t *testing.T) {
	store := newFakeStore()
	notifier := &fakeNotifier{}
	s := newTestScheduler(t, store, notifier)

	begin := time.Now().Add(time.Hour)
	store.putSeries(testSeries(10, begin, "168h", 12))
	store.putSub(db.Subscription{Id: 1, ChatId: 100, SeriesId: 10})

	require.NoError(t, s.ScheduleNext(db.Subscription{Id: 1, ChatId: 100, SeriesId: 10}))

	sub := store.sub(1)
	require.NotNil(t, sub.NextNotifyEp)
	require.NotNil(t, sub.NextNotifyTime)
	assert.Equal(t, sub.LastNotifiedEp+1, *sub.NextNotifyEp)
	assert.True(t, sub.NextNotifyTime.Equal(begin))
	assert.Equal(t, 1, s.PendingCount())
}

func TestScheduleNextIsIdempotent(t *testing.T) {
	store := newFakeStore()
	notifier := &fakeNotifier{}
	s := newTestScheduler(t, store, notifier)

	store.putSeries(testSeries(10, time.Now().Add(time.Hour), "168h", 12))
	store.putSub(db.Subscription{Id: 1, SeriesId: 10})

	sub := db.Subscription{Id: 1, SeriesId: 10}
	require.NoError(t, s.ScheduleNext(sub))
	require.NoError(t, s.ScheduleNext(sub))

	assert.Equal(t, 1, s.PendingCount())
	assert.Equal(t, []int64{1}, s.PendingIDs())
}

func TestScheduleNextSkipsSeriesWithoutCadence(t *testing.T) {
	store := newFakeStore()
	notifier := &fakeNotifier{}
	s := newTestScheduler(t, store, notifier)

	store.putSeries(db.Series{Id: 10, Name: "no schedule"})
	store.putSub(db.Subscription{Id: 1, SeriesId: 10})

	require.NoError(t, s.ScheduleNext(db.Subscription{Id: 1, SeriesId: 10}))

	sub := store.sub(1)
	assert.Nil(t, sub.NextNotifyEp)
	assert.Nil(t, sub.NextNotifyTime)
	assert.Equal(t, 0, s.PendingCount())
}

func TestChainDeliversEachEpisodeOnceAndTerminates(t *testing.T) {
	store := newFakeStore()
	notifier := &fakeNotifier{}
	s := newTestScheduler(t, store, notifier)

	store.putSeries(testSeries(10, time.Now(), "30ms", 2))
	store.putSub(db.Subscription{Id: 1, ChatId: 100, SeriesId: 10})

	require.NoError(t, s.ScheduleNext(db.Subscription{Id: 1, ChatId: 100, SeriesId: 10}))

	require.Eventually(t, func() bool {
		return store.sub(1).LastNotifiedEp == 2
	}, 3*time.Second, 10*time.Millisecond)

	// Give a potential bogus third episode time to fire.
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, []int{1, 2}, notifier.episodes())
	sub := store.sub(1)
	assert.Nil(t, sub.NextNotifyEp)
	assert.Nil(t, sub.NextNotifyTime)
	assert.Equal(t, 0, s.PendingCount())
}

func TestDeliveryFailureLeavesStateUntouched(t *testing.T) {
	store := newFakeStore()
	notifier := &fakeNotifier{err: errors.New("telegram is down")}
	s := newTestScheduler(t, store, notifier)

	store.putSeries(testSeries(10, time.Now(), "168h", 12))
	store.putSub(db.Subscription{Id: 1, ChatId: 100, SeriesId: 10})

	require.NoError(t, s.ScheduleNext(db.Subscription{Id: 1, ChatId: 100, SeriesId: 10}))

	require.Eventually(t, func() bool {
		return notifier.attemptCount() >= 1
	}, 3*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	sub := store.sub(1)
	assert.Equal(t, 0, sub.LastNotifiedEp)
	require.NotNil(t, sub.NextNotifyEp)
	assert.Equal(t, 1, *sub.NextNotifyEp)
	require.NotNil(t, sub.NextNotifyTime)
	// Stuck subscriptions stay visible to monitoring.
	assert.Equal(t, 1, s.PendingCount())
}

func TestFireAfterUnsubscribeAbandonsCleanly(t *testing.T) {
	store := newFakeStore()
	notifier := &fakeNotifier{}
	s := newTestScheduler(t, store, notifier)

	// Subscription row is already gone when the timer fires.
	store.putSeries(testSeries(10, time.Now(), "168h", 12))

	require.NoError(t, s.ScheduleNext(db.Subscription{Id: 7, ChatId: 100, SeriesId: 10}))

	require.Eventually(t, func() bool {
		return s.PendingCount() == 0
	}, 3*time.Second, 10*time.Millisecond)
	assert.Empty(t, notifier.episodes())
}

func TestClearedProjectionAbandonsCleanly(t *testing.T) {
	store := newFakeStore()
	notifier := &fakeNotifier{}
	s := newTestScheduler(t, store, notifier)

	store.putSeries(testSeries(10, time.Now().Add(100*time.Millisecond), "168h", 1))
	store.putSub(db.Subscription{Id: 1, ChatId: 100, SeriesId: 10})

	require.NoError(t, s.ScheduleNext(db.Subscription{Id: 1, ChatId: 100, SeriesId: 10}))
	// A concurrent cancel wins the race before the timer fires.
	require.NoError(t, store.ClearPending(1))

	require.Eventually(t, func() bool {
		return s.PendingCount() == 0
	}, 3*time.Second, 10*time.Millisecond)
	assert.Empty(t, notifier.episodes())
	assert.Equal(t, 0, store.sub(1).LastNotifiedEp)
}

func TestCommitFailureDoesNotArmNextEpisode(t *testing.T) {
	store := newFakeStore()
	store.commitErr = errors.New("connection lost")
	notifier := &fakeNotifier{}
	s := newTestScheduler(t, store, notifier)

	store.putSeries(testSeries(10, time.Now(), "30ms", 12))
	store.putSub(db.Subscription{Id: 1, ChatId: 100, SeriesId: 10})

	require.NoError(t, s.ScheduleNext(db.Subscription{Id: 1, ChatId: 100, SeriesId: 10}))

	require.Eventually(t, func() bool {
		return notifier.attemptCount() >= 1
	}, 3*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, 1, notifier.attemptCount())
	sub := store.sub(1)
	assert.Equal(t, 0, sub.LastNotifiedEp)
	require.NotNil(t, sub.NextNotifyEp)
	assert.Equal(t, 1, *sub.NextNotifyEp)
}

func TestSupersededFireDoesNotDeliverNewEpisode(t *testing.T) {
	store := newFakeStore()
	notifier := &fakeNotifier{}
	s := newTestScheduler(t, store, notifier)

	// The row's projection already points at episode 2; a firing armed
	// for episode 1 belongs to a superseded timer and must not deliver
	// episode 2 ahead of its air time.
	store.putSeries(testSeries(10, time.Now().Add(-time.Hour), "168h", 12))
	store.putSub(db.Subscription{
		Id: 1, ChatId: 100, SeriesId: 10,
		LastNotifiedEp: 1,
		NextNotifyTime: timePtr(time.Now().Add(167 * time.Hour)),
		NextNotifyEp:   intPtr(2),
	})

	s.execute(1, 1)

	assert.Empty(t, notifier.episodes())
	sub := store.sub(1)
	assert.Equal(t, 1, sub.LastNotifiedEp)
	require.NotNil(t, sub.NextNotifyEp)
	assert.Equal(t, 2, *sub.NextNotifyEp)
}

func TestCancelAndClearRemovesTimerAndProjection(t *testing.T) {
	store := newFakeStore()
	notifier := &fakeNotifier{}
	s := newTestScheduler(t, store, notifier)

	store.putSeries(testSeries(10, time.Now().Add(time.Hour), "168h", 12))
	store.putSub(db.Subscription{Id: 1, ChatId: 100, SeriesId: 10})

	require.NoError(t, s.ScheduleNext(db.Subscription{Id: 1, ChatId: 100, SeriesId: 10}))
	require.Equal(t, 1, s.PendingCount())

	require.NoError(t, s.CancelAndClear(1))

	assert.Equal(t, 0, s.PendingCount())
	sub := store.sub(1)
	assert.Nil(t, sub.NextNotifyEp)
	assert.Nil(t, sub.NextNotifyTime)
}
