package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/temps-sh/temps-core/internal/apperr"
)

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// problem is a minimal RFC 7807 problem+json body.
type problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

var codeStatus = map[apperr.Code]int{
	apperr.NotFound:     http.StatusNotFound,
	apperr.Conflict:      http.StatusConflict,
	apperr.Validation:    http.StatusBadRequest,
	apperr.Unauthorised:  http.StatusUnauthorized,
	apperr.External:      http.StatusBadGateway,
	apperr.Crypto:        http.StatusInternalServerError,
	apperr.Timeout:       http.StatusGatewayTimeout,
	apperr.Cancelled:     http.StatusRequestTimeout,
	apperr.Internal:      http.StatusInternalServerError,
}

// writeProviderError maps an apperr.Error (or any other error) to a
// problem+json response.
func (s *Server) writeProviderError(w http.ResponseWriter, err error) {
	var ae apperr.Error
	if !errors.As(err, &ae) {
		ae = apperr.Wrap(apperr.Internal, err, "unexpected error")
	}

	status, ok := codeStatus[ae.Code]
	if !ok {
		status = http.StatusInternalServerError
	}
	s.log.Warn("api: request failed", zap.String("code", string(ae.Code)), zap.Error(ae))
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(problem{
		Type:   "https://temps.sh/errors/" + string(ae.Code),
		Title:  string(ae.Code),
		Status: status,
		Detail: ae.Message,
	})
}
