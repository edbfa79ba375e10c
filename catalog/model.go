package catalog

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"episode-notifier-bot/db"

	"github.com/pkg/errors"
)

var (
	ErrBadRef   = errors.New("unable to parse series reference")
	ErrNotFound = errors.New("series not found in catalog")
)

var subjectURLPattern = regexp.MustCompile(`(https?://)?(www\.)?(bgm\.tv|bangumi\.tv|chii\.in)/subject/(\d+)`)

const subjectURLIdIndex = 4

// SubjectInfo is the catalog's view of one series. The scheduler treats
// all of it as read-only.
type SubjectInfo struct {
	Id            int64   `json:"id"`
	Name          string  `json:"name"`
	NameCN        *string `json:"name_cn"`
	TotalEpisodes *int    `json:"total_episodes"`
	Images        *struct {
		Common string `json:"common"`
	} `json:"images"`
	Begin *string `json:"begin"`
	End   *string `json:"end"`
	// Recurrence in the "R/<start>/<period>" form, e.g. "R/2024-01-01T13:00:00Z/P7D".
	Broadcast *string `json:"broadcast"`
}

// ParseSubjectRef accepts a bare numeric id or a catalog subject URL.
func ParseSubjectRef(text string) (int64, error) {
	text = strings.TrimSpace(text)
	if id, err := strconv.ParseInt(text, 10, 64); err == nil && id > 0 {
		return id, nil
	}
	submatch := subjectURLPattern.FindStringSubmatch(text)
	if submatch == nil {
		return 0, ErrBadRef
	}
	id, err := strconv.ParseInt(submatch[subjectURLIdIndex], 10, 64)
	if err != nil {
		return 0, ErrBadRef
	}
	return id, nil
}

// ToSeries converts the catalog payload to the persisted series row,
// splitting the broadcast recurrence into begin instant and period text.
func (s SubjectInfo) ToSeries() db.Series {
	series := db.Series{
		Id:            s.Id,
		Name:          s.Name,
		NameCN:        s.NameCN,
		TotalEpisodes: s.TotalEpisodes,
		LastUpdate:    time.Now(),
	}
	if s.Images != nil && s.Images.Common != "" {
		cover := s.Images.Common
		series.CoverURL = &cover
	}
	if s.End != nil {
		if end, err := time.Parse(time.RFC3339, *s.End); err == nil {
			series.EndTime = &end
		}
	}
	if s.Broadcast == nil {
		if s.Begin != nil {
			if begin, err := time.Parse(time.RFC3339, *s.Begin); err == nil {
				series.BeginTime = &begin
			}
		}
		return series
	}
	parts := strings.Split(*s.Broadcast, "/")
	if len(parts) != 3 || parts[0] != "R" {
		return series
	}
	begin, err := time.Parse(time.RFC3339, parts[1])
	if err != nil {
		return series
	}
	period := parts[2]
	series.BeginTime = &begin
	series.BroadcastPeriod = &period
	return series
}
