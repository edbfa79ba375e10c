package templates

import _ "embed"

var (
	//go:embed resource/hello.txt
	Hello string
	//go:embed resource/initializationError.txt
	InitializationError string
	//go:embed resource/userNotStarted.txt
	UserNotStarted string
	//go:embed resource/unexpectedError.txt
	UnexpectedError string
	//go:embed resource/subscriptionList.txt
	SubscriptionList string
	//go:embed resource/noSubscriptions.txt
	NoSubscriptions string
	//go:embed resource/emptyAdd.txt
	EmptyAdd string
	//go:embed resource/badSeriesRef.txt
	BadSeriesRef string
	//go:embed resource/seriesNotFound.txt
	SeriesNotFound string
	//go:embed resource/addSuccess.txt
	AddSuccess string
	//go:embed resource/addSuccessNoSchedule.txt
	AddSuccessNoSchedule string
	//go:embed resource/removeSuccess.txt
	RemoveSuccess string
	//go:embed resource/newEpisode.txt
	NewEpisode string
	//go:embed resource/newEpisodeNoTime.txt
	NewEpisodeNoTime string
	//go:embed resource/timeZoneSuccess.txt
	TimeZoneSuccess string
	//go:embed resource/setTimeZoneHelp.txt
	SetTimeZoneHelp string
)
