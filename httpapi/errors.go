package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/dmattosr/electioncore/log"
)

// Error is the typed response handlers write on failure: a stable
// numeric code plus the HTTP status it maps to.
type Error struct {
	Err        error
	Code       int
	HTTPstatus int
}

func (e Error) Error() string { return e.Err.Error() }

// MarshalJSON emits {"error": "...", "code": N}.
func (e Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Err  string `json:"error"`
		Code int    `json:"code"`
	}{Err: e.Err.Error(), Code: e.Code})
}

// Write serializes e as the HTTP response body.
func (e Error) Write(w http.ResponseWriter) {
	msg, err := json.Marshal(e)
	if err != nil {
		log.Warn(err)
		http.Error(w, "marshal failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	http.Error(w, string(msg), e.HTTPstatus)
}

// Withf returns a copy of e with the formatted string appended to Err.
func (e Error) Withf(format string, args ...any) Error {
	return Error{Err: fmt.Errorf("%w: %s", e.Err, fmt.Sprintf(format, args...)), Code: e.Code, HTTPstatus: e.HTTPstatus}
}

// Error codes in the 4xxx range are the caller's fault; 5xxx are ours.
var (
	ErrMalformedBody     = Error{Code: 4001, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("malformed JSON body")}
	ErrElectionNotFound  = Error{Code: 4002, HTTPstatus: http.StatusNotFound, Err: fmt.Errorf("election not found")}
	ErrElectionNotClosed = Error{Code: 4003, HTTPstatus: http.StatusConflict, Err: fmt.Errorf("election has not finished")}
	ErrVoteRejected      = Error{Code: 4004, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("vote rejected")}

	ErrInternal = Error{Code: 5001, HTTPstatus: http.StatusInternalServerError, Err: fmt.Errorf("internal server error")}
)
