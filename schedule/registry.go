package schedule

import (
	"sync"
	"time"
)

const shardCount = 16

// Registry holds at most one live timer per subscription id. Keys are
// spread over independently locked shards so distinct subscriptions do
// not contend; arm-or-replace for one id is atomic within its shard lock.
type Registry struct {
	shards [shardCount]registryShard
}

type registryShard struct {
	mu     sync.Mutex
	timers map[int64]*time.Timer
}

func NewRegistry() *Registry {
	r := &Registry{}
	for i := range r.shards {
		r.shards[i].timers = make(map[int64]*time.Timer)
	}
	return r
}

func (r *Registry) shard(id int64) *registryShard {
	return &r.shards[uint64(id)%shardCount]
}

// ArmOrReplace cancels any existing timer for the id and arms a new one in
// a single critical section. A due instant already in the past still
// fires, immediately; after a restart or a long delivery that is the
// normal case, not an error.
func (r *Registry) ArmOrReplace(id int64, due time.Time, fn func()) {
	s := r.shard(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.timers[id]; ok {
		old.Stop()
	}
	s.timers[id] = time.AfterFunc(time.Until(due), fn)
}

// Cancel stops and removes the timer for the id. No-op when absent.
func (r *Registry) Cancel(id int64) {
	s := r.shard(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[id]; ok {
		t.Stop()
		delete(s.timers, id)
	}
}

// CancelAll stops every live timer. Shutdown only.
func (r *Registry) CancelAll() {
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.Lock()
		for id, t := range s.timers {
			t.Stop()
			delete(s.timers, id)
		}
		s.mu.Unlock()
	}
}

func (r *Registry) Count() int {
	count := 0
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.Lock()
		count += len(s.timers)
		s.mu.Unlock()
	}
	return count
}

func (r *Registry) LiveIDs() []int64 {
	var ids []int64
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.Lock()
		for id := range s.timers {
			ids = append(ids, id)
		}
		s.mu.Unlock()
	}
	return ids
}
