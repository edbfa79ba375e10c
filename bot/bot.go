package bot

import (
	"context"
	"net/http"
	"time"

	"episode-notifier-bot/catalog"
	"episode-notifier-bot/db"
	"episode-notifier-bot/mutex"
	"episode-notifier-bot/schedule"
	"episode-notifier-bot/templates"
	"episode-notifier-bot/timezone"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	tele "gopkg.in/telebot.v3"
)

const (
	defaultDB           = "bot"
	defaultDBAddress    = ":5432"
	defaultDBUser       = "bot"
	defaultRedisAddress = ":6379"
	defaultAdminAddress = ":42069"
)

type Config struct {
	TelegramBotToken string
	TimezoneDBToken  string
	CatalogURL       string
	DBAddress        string
	DBUser           string
	DBPassword       string
	DBName           string
	RedisAddress     string
	AdminAddress     string
	Workers          int
	Debug            bool
}

func (c *Config) applyDefaults() {
	if c.DBAddress == "" {
		c.DBAddress = defaultDBAddress
	}
	if c.DBUser == "" {
		c.DBUser = defaultDBUser
	}
	if c.DBName == "" {
		c.DBName = defaultDB
	}
	if c.RedisAddress == "" {
		c.RedisAddress = defaultRedisAddress
	}
	if c.AdminAddress == "" {
		c.AdminAddress = defaultAdminAddress
	}
}

func Start(ctx context.Context, log zerolog.Logger, config Config, confirm chan<- struct{}) error {
	config.applyDefaults()

	dbService := db.New(config.DBAddress, config.DBUser, config.DBPassword, config.DBName)
	if config.Debug {
		dbService.EnableDebug()
	}
	if err := dbService.Init(); err != nil {
		return err
	}
	mutexBuilder := mutex.NewBuilder(config.RedisAddress)
	tzService := timezone.NewService(config.TimezoneDBToken, log)
	catalogService := catalog.NewService(config.CatalogURL, log)

	s := tele.Settings{
		Token: config.TelegramBotToken,
		Poller: &tele.LongPoller{
			Timeout: time.Second * 10,
		},
	}
	bot, err := tele.NewBot(s)
	if err != nil {
		return errors.Wrap(err, "error during creation of a new bot")
	}

	notifier := NewNotifier(dbService, mutexBuilder, bot, log)
	scheduler := schedule.New(log, dbService, notifier, config.Workers)
	botService := NewService(catalogService, dbService, tzService, scheduler, bot, log)

	bot.Handle("/start", botService.Start)
	bot.Handle("/add", botService.AddSubscription)
	bot.Handle("/list", botService.ListSubscriptions)
	bot.Handle("/remove", botService.ShowRemoveSubscription)
	bot.Handle("/help", func(context tele.Context) error {
		return context.Send(templates.Hello)
	})
	bot.Handle(tele.OnLocation, botService.OnLocation)
	bot.Handle(tele.OnCallback, func(context tele.Context) error {
		defer func() {
			err := context.Respond()
			if err != nil {
				log.Warn().Err(err).Msg("error during responding to callback")
			}
		}()
		return botService.ProcessCallback(context)
	})

	bot.OnError = func(err error, context tele.Context) {
		log.Error().Err(err).Msg("bot handler error")
		err = context.Send(templates.UnexpectedError)
		if err != nil {
			log.Warn().Err(err).Msg("error during sending error message")
		}
	}

	go func() {
		<-ctx.Done()
		bot.Stop()
		scheduler.Stop()
		confirm <- struct{}{}
	}()

	// Re-arm persisted schedules before the bot takes user commands.
	if err := scheduler.Recover(); err != nil {
		return err
	}

	router := mux.NewRouter()
	registerAdmin(router, scheduler)
	go func() {
		err := http.ListenAndServe(config.AdminAddress, router)
		if err != nil {
			log.Fatal().Err(err).Msg("admin server stopped")
		}
	}()

	// Blocks until stop
	bot.Start()
	return nil
}
