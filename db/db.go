package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/go-pg/pg/v10"
	"github.com/pkg/errors"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"
)

var (
	ErrNotFound = errors.New("entity not found")
)

type DB struct {
	db      *bun.DB
	timeout time.Duration
}

const defaultTimeout = time.Minute

func New(address, user, password, database string) *DB {
	connector := pgdriver.NewConnector(
		pgdriver.WithInsecure(true),
		pgdriver.WithAddr(address),
		pgdriver.WithUser(user),
		pgdriver.WithPassword(password),
		pgdriver.WithDatabase(database),
	)
	sqldb := sql.OpenDB(connector)
	db := bun.NewDB(sqldb, pgdialect.New())
	return &DB{db: db, timeout: defaultTimeout}
}

func (d *DB) SetTimeout(duration time.Duration) {
	d.timeout = duration
}

func (d *DB) EnableDebug() {
	d.db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
}

// Init creates missing tables. Safe to call on every start.
func (d *DB) Init() error {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	for _, model := range []interface{}{(*Chat)(nil), (*Series)(nil), (*Subscription)(nil)} {
		_, err := d.db.NewCreateTable().Model(model).IfNotExists().Exec(ctx)
		if err != nil {
			return errors.Wrap(err, "error during table creation")
		}
	}
	return nil
}

func (d *DB) GetChat(id int64) (Chat, error) {
	c := Chat{Id: id}
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	err := d.db.NewSelect().Model(&c).WherePK().Scan(ctx)
	if err != nil && errors.Is(err, sql.ErrNoRows) {
		return Chat{}, ErrNotFound
	}
	if err != nil {
		return Chat{}, errors.Wrap(err, "error during querying chat")
	}
	return c, nil
}

func (d *DB) AddChat(c Chat) error {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	_, err := d.db.NewInsert().Model(&c).Exec(ctx)
	if err != nil {
		return errors.Wrap(err, "error during adding chat")
	}
	return nil
}

func (d *DB) SetChatTimeZone(id int64, timeZone string) error {
	c := Chat{
		Id:       id,
		TimeZone: &timeZone,
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	_, err := d.db.NewUpdate().Model(&c).Set("time_zone = ?time_zone").WherePK().Exec(ctx)
	return err
}

func (d *DB) GetSeries(id int64) (Series, error) {
	s := Series{Id: id}
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	err := d.db.NewSelect().Model(&s).WherePK().Scan(ctx)
	if err != nil && errors.Is(err, pg.ErrNoRows) {
		return Series{}, ErrNotFound
	}
	if err != nil && errors.Is(err, sql.ErrNoRows) {
		return Series{}, ErrNotFound
	}
	if err != nil {
		return Series{}, errors.Wrap(err, "error during querying series")
	}
	return s, nil
}

// UpsertSeries inserts the series or refreshes its catalog fields,
// including the schedule data the calculator depends on.
func (d *DB) UpsertSeries(s Series) error {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	_, err := d.db.NewInsert().
		Model(&s).
		On("CONFLICT (id) DO UPDATE").
		Set("name = EXCLUDED.name").
		Set("name_cn = EXCLUDED.name_cn").
		Set("cover_url = EXCLUDED.cover_url").
		Set("total_episodes = EXCLUDED.total_episodes").
		Set("begin_time = EXCLUDED.begin_time").
		Set("end_time = EXCLUDED.end_time").
		Set("broadcast_period = EXCLUDED.broadcast_period").
		Set("last_update = EXCLUDED.last_update").
		Exec(ctx)
	if err != nil {
		return errors.Wrap(err, "error during upserting series")
	}
	return nil
}

func (d *DB) GetSubscription(id int64) (Subscription, error) {
	sub := Subscription{Id: id}
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	err := d.db.NewSelect().Model(&sub).WherePK().Scan(ctx)
	if err != nil && errors.Is(err, sql.ErrNoRows) {
		return Subscription{}, ErrNotFound
	}
	if err != nil {
		return Subscription{}, errors.Wrap(err, "error during querying subscription")
	}
	return sub, nil
}

func (d *DB) FindSubscription(chatId, seriesId int64) (Subscription, error) {
	var sub Subscription
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	err := d.db.NewSelect().
		Model(&sub).
		Where("chat_id = ?", chatId).
		Where("series_id = ?", seriesId).
		Scan(ctx)
	if err != nil && errors.Is(err, sql.ErrNoRows) {
		return Subscription{}, ErrNotFound
	}
	if err != nil {
		return Subscription{}, errors.Wrap(err, "error during querying subscription")
	}
	return sub, nil
}

// AddSubscription creates the link between a chat and a series. The
// returned subscription carries the generated id; an existing link is
// returned as is.
func (d *DB) AddSubscription(chatId, seriesId int64, lastNotifiedEp int) (Subscription, error) {
	existing, err := d.FindSubscription(chatId, seriesId)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Subscription{}, err
	}
	sub := Subscription{
		ChatId:         chatId,
		SeriesId:       seriesId,
		LastNotifiedEp: lastNotifiedEp,
		LatestAiredEp:  lastNotifiedEp,
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	_, err = d.db.NewInsert().Model(&sub).Exec(ctx)
	if err != nil {
		return Subscription{}, errors.Wrap(err, "error during adding subscription")
	}
	return sub, nil
}

func (d *DB) GetChatSubscriptions(chatId int64) ([]Subscription, error) {
	var subs []Subscription
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	err := d.db.NewSelect().
		Model(&subs).
		Where("chat_id = ?", chatId).
		Order("id ASC").
		Scan(ctx)
	return subs, err
}

func (d *DB) RemoveSubscription(id int64) error {
	sub := Subscription{Id: id}
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	_, err := d.db.NewDelete().Model(&sub).WherePK().Exec(ctx)
	return err
}
