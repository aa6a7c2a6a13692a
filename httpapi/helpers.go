package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/dmattosr/electioncore/log"
)

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	body, err := json.Marshal(data)
	if err != nil {
		ErrInternal.Withf("marshal response: %v", err).Write(w)
		return
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		log.Warnw("failed to write http response", "error", err)
	}
}
