package catalog

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const subjectTimeout = time.Second * 10

// Service is a read-only client for the series metadata API. Schedule
// fields it returns feed the notification scheduler; nothing here ever
// writes back.
type Service struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

func NewService(baseURL string, log zerolog.Logger) *Service {
	return &Service{
		baseURL: baseURL,
		client:  &http.Client{Timeout: subjectTimeout},
		log:     log,
	}
}

func (s *Service) GetSubject(id int64) (SubjectInfo, error) {
	response, err := s.client.Get(fmt.Sprintf("%v/v0/subjects/%v", s.baseURL, id))
	if err != nil {
		return SubjectInfo{}, errors.Wrap(err, "unable to get subject from catalog")
	}
	defer func() {
		err := response.Body.Close()
		if err != nil {
			s.log.Warn().Err(err).Msg("error during closing catalog response body")
		}
	}()
	if response.StatusCode == http.StatusNotFound {
		return SubjectInfo{}, ErrNotFound
	}
	if response.StatusCode < 200 || response.StatusCode > 299 {
		return SubjectInfo{}, errors.Errorf("unexpected status %v from catalog", response.StatusCode)
	}
	var subject SubjectInfo
	err = json.NewDecoder(response.Body).Decode(&subject)
	if err != nil {
		return SubjectInfo{}, errors.Wrap(err, "unable to decode subject from catalog")
	}
	if subject.Id == 0 {
		subject.Id = id
	}
	return subject, nil
}
