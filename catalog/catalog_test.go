package catalog

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSubjectRef(t *testing.T) {
	id, err := ParseSubjectRef("123")
	require.NoError(t, err)
	assert.Equal(t, int64(123), id)

	id, err = ParseSubjectRef(" https://bgm.tv/subject/456 ")
	require.NoError(t, err)
	assert.Equal(t, int64(456), id)

	id, err = ParseSubjectRef("bangumi.tv/subject/789")
	require.NoError(t, err)
	assert.Equal(t, int64(789), id)

	for _, text := range []string{"", "abc", "-5", "https://example.com/subject/1"} {
		_, err := ParseSubjectRef(text)
		assert.True(t, errors.Is(err, ErrBadRef), text)
	}
}

func TestToSeriesSplitsBroadcast(t *testing.T) {
	broadcast := "R/2024-01-01T13:00:00Z/P7D"
	total := 12
	subject := SubjectInfo{
		Id:            42,
		Name:          "test",
		TotalEpisodes: &total,
		Broadcast:     &broadcast,
	}

	series := subject.ToSeries()
	require.True(t, series.HasPreciseCadence())
	assert.True(t, series.BeginTime.Equal(time.Date(2024, 1, 1, 13, 0, 0, 0, time.UTC)))
	assert.Equal(t, "P7D", *series.BroadcastPeriod)
	assert.Equal(t, 12, *series.TotalEpisodes)
}

func TestToSeriesWithoutBroadcast(t *testing.T) {
	begin := "2024-01-01T13:00:00Z"
	subject := SubjectInfo{Id: 42, Name: "test", Begin: &begin}

	series := subject.ToSeries()
	assert.False(t, series.HasPreciseCadence())
	require.NotNil(t, series.BeginTime)
	assert.Nil(t, series.BroadcastPeriod)

	mangled := "2024-01-01T13:00:00Z/P7D"
	subject.Broadcast = &mangled
	series = subject.ToSeries()
	assert.False(t, series.HasPreciseCadence())
}

func TestGetSubject(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v0/subjects/42":
			fmt.Fprint(w, `{
				"id": 42,
				"name": "test",
				"name_cn": "测试",
				"total_episodes": 12,
				"broadcast": "R/2024-01-01T13:00:00Z/P7D"
			}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	service := NewService(server.URL, zerolog.Nop())

	subject, err := service.GetSubject(42)
	require.NoError(t, err)
	assert.Equal(t, "test", subject.Name)
	require.NotNil(t, subject.NameCN)
	assert.Equal(t, "测试", *subject.NameCN)
	require.NotNil(t, subject.Broadcast)
	assert.True(t, subject.ToSeries().HasPreciseCadence())

	_, err = service.GetSubject(7)
	assert.True(t, errors.Is(err, ErrNotFound))
}
