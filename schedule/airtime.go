package schedule

import (
	"strconv"
	"strings"
	"time"

	"episode-notifier-bot/db"

	"github.com/pkg/errors"
)

// ComputeAirTime returns the exact broadcast instant of the given episode:
// begin time plus the broadcast period repeated episode-1 times. Episode
// numbers are 1-based. Returns false when the series has no precise
// cadence or its period text cannot be parsed.
func ComputeAirTime(series db.Series, episode int) (time.Time, bool) {
	if episode < 1 {
		return time.Time{}, false
	}
	if !series.HasPreciseCadence() {
		return time.Time{}, false
	}
	period, err := ParsePeriod(*series.BroadcastPeriod)
	if err != nil {
		return time.Time{}, false
	}
	return series.BeginTime.Add(period * time.Duration(episode-1)), true
}

// ShouldTerminate reports whether the chain ends instead of scheduling the
// given episode: past the total episode count, or past the series end time.
func ShouldTerminate(series db.Series, episode int, airTime time.Time) bool {
	if series.TotalEpisodes != nil && episode > *series.TotalEpisodes {
		return true
	}
	if series.EndTime != nil && airTime.After(*series.EndTime) {
		return true
	}
	return false
}

// AiredCount returns how many episodes have aired by now. Used to seed
// last_notified_ep on subscribe so history is never replayed.
func AiredCount(series db.Series, now time.Time) int {
	if !series.HasPreciseCadence() {
		return 0
	}
	period, err := ParsePeriod(*series.BroadcastPeriod)
	if err != nil || period <= 0 {
		return 0
	}
	begin := *series.BeginTime
	if now.Before(begin) {
		return 0
	}
	count := int(now.Sub(begin)/period) + 1
	if series.TotalEpisodes != nil && count > *series.TotalEpisodes {
		count = *series.TotalEpisodes
	}
	return count
}

// ParsePeriod parses a broadcast period. The catalog emits ISO-8601
// durations ("P7D", "P1W", "PT30M"); Go duration syntax ("168h") is
// accepted as well.
func ParsePeriod(text string) (time.Duration, error) {
	if text == "" {
		return 0, errors.New("empty period")
	}
	if !strings.HasPrefix(text, "P") {
		return time.ParseDuration(text)
	}
	rest := text[1:]
	datePart := rest
	timePart := ""
	if i := strings.IndexByte(rest, 'T'); i >= 0 {
		datePart = rest[:i]
		timePart = rest[i+1:]
	}
	var total time.Duration
	add := func(part string, units map[byte]time.Duration) error {
		for len(part) > 0 {
			i := 0
			for i < len(part) && part[i] >= '0' && part[i] <= '9' {
				i++
			}
			if i == 0 || i == len(part) {
				return errors.Errorf("unable to parse period %q", text)
			}
			value, err := strconv.Atoi(part[:i])
			if err != nil {
				return errors.Wrapf(err, "unable to parse period %q", text)
			}
			unit, ok := units[part[i]]
			if !ok {
				return errors.Errorf("unsupported unit %q in period %q", string(part[i]), text)
			}
			total += time.Duration(value) * unit
			part = part[i+1:]
		}
		return nil
	}
	if err := add(datePart, map[byte]time.Duration{
		'W': 7 * 24 * time.Hour,
		'D': 24 * time.Hour,
	}); err != nil {
		return 0, err
	}
	if err := add(timePart, map[byte]time.Duration{
		'H': time.Hour,
		'M': time.Minute,
		'S': time.Second,
	}); err != nil {
		return 0, err
	}
	if total == 0 {
		return 0, errors.Errorf("zero period %q", text)
	}
	return total, nil
}
