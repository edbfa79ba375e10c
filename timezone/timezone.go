package timezone

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	getTZURL  = "http://api.timezonedb.com/v2.1/get-time-zone"
	tzTimeout = time.Second * 10
)

type Service struct {
	token  string
	client *http.Client
	log    zerolog.Logger
}

func NewService(token string, log zerolog.Logger) *Service {
	return &Service{
		token:  token,
		client: &http.Client{Timeout: tzTimeout},
		log:    log,
	}
}

// GetTimeZone resolves an IANA zone name from coordinates. Used to render
// air times in the subscriber's local time.
func (s *Service) GetTimeZone(lat, lng string) (string, error) {
	values := url.Values{}
	values.Set("key", s.token)
	values.Set("format", "json")
	values.Set("by", "position")
	values.Set("fields", "zoneName")
	values.Set("lat", lat)
	values.Set("lng", lng)
	response, err := s.client.Get(fmt.Sprintf("%v?%v", getTZURL, values.Encode()))
	if err != nil {
		return "", errors.Wrap(err, "unable to get timezone from timezonedb")
	}
	defer func() {
		err := response.Body.Close()
		if err != nil {
			s.log.Warn().Err(err).Msg("error during closing timezone response body")
		}
	}()
	tzPayload := struct {
		ZoneName string `json:"zoneName"`
	}{}
	err = json.NewDecoder(response.Body).Decode(&tzPayload)
	if err != nil {
		return "", errors.Wrap(err, "unable to decode timezone from timezonedb")
	}
	if tzPayload.ZoneName == "" {
		return "", errors.New("timezonedb returned an empty zone name")
	}
	return tzPayload.ZoneName, nil
}
