package bot

import (
	"fmt"
	"math/rand"
	"time"

	"episode-notifier-bot/db"
	"episode-notifier-bot/mutex"
	"episode-notifier-bot/schedule"
	"episode-notifier-bot/templates"

	"github.com/go-redsync/redsync/v4"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	tele "gopkg.in/telebot.v3"
)

// Notifier sends new-episode messages over Telegram. It is the delivery
// channel behind the scheduler: a returned error means the scheduler
// keeps the episode pending, so nothing here may swallow a send failure.
type Notifier struct {
	db  *db.DB
	mb  *mutex.Builder
	bot *tele.Bot
	lc  locationCache
	log zerolog.Logger
}

func NewNotifier(db *db.DB, mb *mutex.Builder, bot *tele.Bot, log zerolog.Logger) *Notifier {
	return &Notifier{
		db:  db,
		mb:  mb,
		bot: bot,
		lc:  make(locationCache),
		log: log,
	}
}

func (n *Notifier) Deliver(chatId int64, series db.Series, episode int) error {
	lock := n.mb.EpisodeChat(series.Id, episode, chatId)
	// The lock is deliberately never unlocked: within its expiry a
	// restarted process re-attempting the same episode will find it held
	// and skip the duplicate send.
	err := lock.Lock()
	if err != nil && errors.Is(err, redsync.ErrFailed) {
		n.log.Info().Int64("chat_id", chatId).Int64("series_id", series.Id).Int("episode", episode).
			Msg("episode already delivered to chat, skipping")
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "unable to take delivery lock")
	}

	chat, err := n.db.GetChat(chatId)
	if err != nil {
		n.log.Warn().Err(err).Int64("chat_id", chatId).Msg("unable to load chat, sending without time zone")
		chat = db.Chat{Id: chatId}
	}

	message := n.buildMessage(chat, series, episode)
	_, err = n.bot.Send(tele.ChatID(chatId), message)
	if err != nil {
		return errors.Wrapf(err, "unable to send notification to chat %v", chatId)
	}
	return nil
}

func (n *Notifier) buildMessage(chat db.Chat, series db.Series, episode int) string {
	airTime, ok := schedule.ComputeAirTime(series, episode)
	if !ok {
		return fmt.Sprintf(templates.NewEpisodeNoTime, series.DisplayName(), episode)
	}
	var airTimeDisplay string
	if chat.TimeZone != nil {
		location, err := n.lc.get(*chat.TimeZone)
		if err != nil {
			n.log.Warn().Str("time_zone", *chat.TimeZone).Msg("unable to load location for time zone")
			location = time.UTC
		}
		airTimeDisplay = airTime.In(location).Format(time.RFC850)
	} else {
		airTimeDisplay = airTime.String()
	}
	message := fmt.Sprintf(templates.NewEpisode, series.DisplayName(), episode, airTimeDisplay)
	// 10% chance to display time zone help
	if chat.TimeZone == nil && rand.Intn(10) == 0 {
		message = fmt.Sprintf("%v\r\n%v", message, templates.SetTimeZoneHelp)
	}
	return message
}
