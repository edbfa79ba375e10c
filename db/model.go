package db

import "time"

type Chat struct {
	Id       int64 `bun:",pk"`
	TimeZone *string
	Enabled  bool
}

type Series struct {
	Id            int64 `bun:",pk"`
	Name          string
	NameCN        *string
	CoverURL      *string
	TotalEpisodes *int
	// Precise schedule data, absent when the catalog has no timing info.
	BeginTime       *time.Time
	EndTime         *time.Time
	BroadcastPeriod *string
	LastUpdate      time.Time
}

// HasPreciseCadence reports whether exact per-episode air times can be
// computed for the series.
func (s Series) HasPreciseCadence() bool {
	return s.BeginTime != nil && s.BroadcastPeriod != nil
}

// DisplayName prefers the translated title when the catalog provides one.
func (s Series) DisplayName() string {
	if s.NameCN != nil && *s.NameCN != "" {
		return *s.NameCN
	}
	return s.Name
}

type Subscription struct {
	Id             int64 `bun:",pk,autoincrement"`
	ChatId         int64
	SeriesId       int64
	LastNotifiedEp int
	LatestAiredEp  int
	// Pending projection: both set or both null, never mixed.
	NextNotifyTime *time.Time
	NextNotifyEp   *int
}
