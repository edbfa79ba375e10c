package bot

import (
	"encoding/json"
	"net/http"

	"episode-notifier-bot/schedule"

	"github.com/gorilla/mux"
)

// Observability surface for the timer registry. A pending DB row with no
// matching live timer (outside the recovery window) is the condition to
// alert on.
func registerAdmin(router *mux.Router, scheduler *schedule.Scheduler) {
	router.Methods(http.MethodGet).Path("/healthz").HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	router.Methods(http.MethodGet).Path("/scheduler/pending").HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			payload := struct {
				Count int     `json:"count"`
				Ids   []int64 `json:"ids"`
			}{
				Count: scheduler.PendingCount(),
				Ids:   scheduler.PendingIDs(),
			}
			w.Header().Set("Content-Type", "application/json")
			err := json.NewEncoder(w).Encode(payload)
			if err != nil {
				w.WriteHeader(http.StatusInternalServerError)
			}
		})
}
