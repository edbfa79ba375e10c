package bot

import (
	"testing"
	"time"

	"episode-notifier-bot/db"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func testNotifier() *Notifier {
	return &Notifier{lc: make(locationCache), log: zerolog.Nop()}
}

func TestBuildMessageUsesChatTimeZone(t *testing.T) {
	n := testNotifier()
	begin := time.Date(2024, 1, 1, 13, 0, 0, 0, time.UTC)
	period := "P7D"
	series := db.Series{Id: 1, Name: "test series", BeginTime: &begin, BroadcastPeriod: &period}

	zone := "Asia/Shanghai"
	message := n.buildMessage(db.Chat{Id: 1, TimeZone: &zone}, series, 1)

	location, err := time.LoadLocation(zone)
	assert.NoError(t, err)
	assert.Contains(t, message, "test series")
	assert.Contains(t, message, begin.In(location).Format(time.RFC850))
}

func TestBuildMessageWithoutSchedule(t *testing.T) {
	n := testNotifier()
	series := db.Series{Id: 1, Name: "test series"}
	zone := "UTC"

	message := n.buildMessage(db.Chat{Id: 1, TimeZone: &zone}, series, 3)

	assert.Contains(t, message, "test series")
	assert.Contains(t, message, "3")
}
