package mutex

import (
	"fmt"
	"time"

	"github.com/go-redis/redis"
	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis"
)

const (
	episodeChatLockExpiration = time.Minute * 5
	episodeChatKeyPattern     = "series:%v:ep:%v:chat:%v"
)

type Builder struct {
	rs *redsync.Redsync
}

func NewBuilder(address string) *Builder {
	client := redis.NewClient(&redis.Options{Addr: address})
	pool := goredis.NewPool(client)
	rs := redsync.New(pool)
	return &Builder{rs: rs}
}

// EpisodeChat marks one chat as notified for one episode. Held past the
// delivery on purpose: within the expiry a crashed process cannot
// double-send the same message.
func (c *Builder) EpisodeChat(seriesId int64, episode int, chatId int64) *redsync.Mutex {
	key := fmt.Sprintf(episodeChatKeyPattern, seriesId, episode, chatId)
	return c.rs.NewMutex(key, redsync.WithExpiry(episodeChatLockExpiration))
}
