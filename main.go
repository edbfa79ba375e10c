package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"episode-notifier-bot/bot"

	"github.com/rs/zerolog"
)

func main() {
	log := zerolog.New(os.Stderr).With().Timestamp().Logger()

	file, err := os.ReadFile("./config.json")
	if err != nil {
		log.Fatal().Err(err).Msg("unable to read config file")
		return
	}

	var c bot.Config
	err = json.Unmarshal(file, &c)
	if err != nil {
		log.Fatal().Err(err).Msg("unable to unmarshall config file")
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	confirm := make(chan struct{})
	go func() {
		err := bot.Start(ctx, log, c, confirm)
		if err != nil {
			log.Fatal().Err(err).Msg("bot stopped")
		}
	}()
	s := make(chan os.Signal, 1)
	signal.Notify(s, os.Interrupt, syscall.SIGTERM)
	<-s
	cancel()
	<-confirm
}
