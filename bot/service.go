package bot

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"episode-notifier-bot/catalog"
	"episode-notifier-bot/db"
	"episode-notifier-bot/schedule"
	"episode-notifier-bot/templates"
	"episode-notifier-bot/timezone"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	tele "gopkg.in/telebot.v3"
)

type Service struct {
	catalog   *catalog.Service
	db        *db.DB
	tz        *timezone.Service
	scheduler *schedule.Scheduler
	bot       *tele.Bot
	lc        locationCache
	log       zerolog.Logger
}

type locationCache map[string]*time.Location

func (lc locationCache) get(timeZone string) (*time.Location, error) {
	if l, ok := lc[timeZone]; ok {
		return l, nil
	}
	location, err := time.LoadLocation(timeZone)
	if err != nil {
		return nil, err
	}
	lc[timeZone] = location
	return location, nil
}

var (
	removeCallbackPattern   = regexp.MustCompile("\f/remove id:(\\d+);t:(.+)")
	removePatternIdIndex    = 1
	removePatternTitleIndex = 2
)

func NewService(
	catalog *catalog.Service,
	db *db.DB,
	tz *timezone.Service,
	scheduler *schedule.Scheduler,
	bot *tele.Bot,
	log zerolog.Logger,
) *Service {
	return &Service{
		catalog:   catalog,
		db:        db,
		tz:        tz,
		scheduler: scheduler,
		bot:       bot,
		lc:        make(locationCache),
		log:       log,
	}
}

func (s *Service) Start(context tele.Context) error {
	id := context.Chat().ID
	_, err := s.db.GetChat(id)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return err
	}
	if err != nil {
		err := s.addChat(context, id)
		if err != nil {
			return err
		}
	}
	return context.Send(templates.Hello)
}

func (s *Service) addChat(context tele.Context, id int64) error {
	err := s.db.AddChat(
		db.Chat{
			Id:      id,
			Enabled: true,
		},
	)
	if err != nil {
		sendErr := context.Send(templates.InitializationError)
		if sendErr != nil {
			s.log.Warn().Err(sendErr).Msg("error during sending initialization error message")
		}
		return err
	}
	return nil
}

// AddSubscription resolves the series in the catalog, stores it, creates
// the subscription seeded with the episodes already aired, and arms the
// first timer.
func (s *Service) AddSubscription(context tele.Context) error {
	id := context.Chat().ID
	_, err := s.db.GetChat(id)
	if err != nil && errors.Is(err, db.ErrNotFound) {
		return context.Send(templates.UserNotStarted)
	}
	if err != nil {
		return err
	}
	data := context.Data()
	if len(data) == 0 {
		return context.Send(templates.EmptyAdd)
	}
	subjectId, err := catalog.ParseSubjectRef(data)
	if err != nil {
		return context.Send(templates.BadSeriesRef)
	}
	subject, err := s.catalog.GetSubject(subjectId)
	if err != nil && errors.Is(err, catalog.ErrNotFound) {
		return context.Send(templates.SeriesNotFound)
	}
	if err != nil {
		return err
	}
	series := subject.ToSeries()
	if err := s.db.UpsertSeries(series); err != nil {
		return errors.Wrap(err, "cannot add series to db")
	}

	// Seed with what already aired so history is never replayed.
	aired := schedule.AiredCount(series, time.Now())
	sub, err := s.db.AddSubscription(id, series.Id, aired)
	if err != nil {
		return errors.Wrap(err, "cannot add chat-series link")
	}
	if err := s.scheduler.ScheduleNext(sub); err != nil {
		return errors.Wrap(err, "cannot schedule first notification")
	}
	if !series.HasPreciseCadence() {
		return context.Send(templates.AddSuccessNoSchedule)
	}
	return context.Send(templates.AddSuccess)
}

func (s *Service) ListSubscriptions(context tele.Context) error {
	id := context.Chat().ID
	subscriptions, err := s.db.GetChatSubscriptions(id)
	if err != nil {
		return errors.Wrap(err, "cannot get subscriptions")
	}
	if len(subscriptions) == 0 {
		return context.Send(templates.NoSubscriptions)
	}
	location := s.chatLocation(id)
	var subInfos []string
	for _, subscription := range subscriptions {
		series, err := s.db.GetSeries(subscription.SeriesId)
		if err != nil {
			s.log.Warn().Err(err).Int64("series_id", subscription.SeriesId).Msg("cannot load series for listing")
			continue
		}
		next := "not scheduled"
		if subscription.NextNotifyTime != nil && subscription.NextNotifyEp != nil {
			next = fmt.Sprintf("%v at %v",
				*subscription.NextNotifyEp,
				subscription.NextNotifyTime.In(location).Format(time.RFC850))
		}
		subInfos = append(subInfos, fmt.Sprintf(templates.SubscriptionList, series.DisplayName(), next))
	}
	subText := strings.Join(subInfos, "\r\n")
	return context.Send(subText)
}

func (s *Service) chatLocation(chatId int64) *time.Location {
	chat, err := s.db.GetChat(chatId)
	if err != nil || chat.TimeZone == nil {
		return time.UTC
	}
	location, err := s.lc.get(*chat.TimeZone)
	if err != nil {
		return time.UTC
	}
	return location
}

func (s *Service) ShowRemoveSubscription(context tele.Context) error {
	id := context.Chat().ID
	subscriptions, err := s.db.GetChatSubscriptions(id)
	if err != nil {
		return errors.Wrap(err, "cannot get subscriptions")
	}
	if len(subscriptions) == 0 {
		return context.Send(templates.NoSubscriptions)
	}
	selector := &tele.ReplyMarkup{}
	var rows []tele.Row
	for _, subscription := range subscriptions {
		series, err := s.db.GetSeries(subscription.SeriesId)
		if err != nil {
			s.log.Warn().Err(err).Int64("series_id", subscription.SeriesId).Msg("cannot load series for removal list")
			continue
		}
		dataId := fmt.Sprintf("/remove id:%v;t:%v", subscription.Id, series.DisplayName())
		data := selector.Data(series.DisplayName(), dataId)
		row := selector.Row(data)
		rows = append(rows, row)
	}
	selector.Inline(rows...)
	return context.Send("Select series to unsubscribe from:", selector)
}

func (s *Service) OnLocation(context tele.Context) error {
	location := context.Message().Location
	if location == nil {
		return errors.New("location is empty")
	}
	zone, err := s.tz.GetTimeZone(fmt.Sprintf("%f", location.Lat), fmt.Sprintf("%f", location.Lng))
	if err != nil {
		return errors.Wrapf(err, "error on getting timezone by location lat: %v, lng: %v", location.Lat, location.Lng)
	}
	err = s.db.SetChatTimeZone(context.Chat().ID, zone)
	if err != nil {
		return err
	}
	return context.Send(fmt.Sprintf(templates.TimeZoneSuccess, zone))
}

func (s *Service) ProcessCallback(context tele.Context) error {
	data := context.Callback().Data
	submatch := removeCallbackPattern.FindStringSubmatch(data)
	if submatch != nil {
		subscriptionId, err := strconv.ParseInt(submatch[removePatternIdIndex], 10, 64)
		if err != nil {
			return errors.Wrap(err, "couldn't parse subscription id from remove callback")
		}
		err = s.RemoveSubscription(subscriptionId)
		if err != nil {
			return err
		}
		return context.Send(fmt.Sprintf(templates.RemoveSuccess, submatch[removePatternTitleIndex]))
	}
	return errors.New("couldn't get subscription data from remove callback")
}

// RemoveSubscription tears down both sides of the schedule: the live
// timer and persisted projection first, then the row. An orphaned timer
// pointing at a deleted subscription would be a correctness bug.
func (s *Service) RemoveSubscription(subscriptionId int64) error {
	if err := s.scheduler.CancelAndClear(subscriptionId); err != nil {
		return err
	}
	return s.db.RemoveSubscription(subscriptionId)
}
