package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"mediadrop/internal/admission"
)

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error           string `json:"error"`
	UpgradeRequired *bool  `json:"upgradeRequired,omitempty"`
}

func writeErrorMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// writeRejection maps an admission rejection onto its HTTP status and body.
// Quota and size rejections carry the upgradeRequired marker so clients can
// drive their upsell flow.
func writeRejection(w http.ResponseWriter, err error) {
	var rej *admission.Rejection
	if !errors.As(err, &rej) {
		writeErrorMessage(w, http.StatusInternalServerError, "internal server error")
		return
	}
	status := http.StatusBadRequest
	switch rej.Reason {
	case admission.ReasonAuthentication, admission.ReasonSession:
		status = http.StatusUnauthorized
	case admission.ReasonInternal:
		status = http.StatusInternalServerError
	}
	body := errorResponse{Error: rej.Message}
	if rej.Reason == admission.ReasonQuota || rej.Reason == admission.ReasonSizeExceeded {
		upgrade := rej.UpgradeRequired
		body.UpgradeRequired = &upgrade
	}
	writeJSON(w, status, body)
}

func decodeJSON(r *http.Request, dest interface{}) error {
	if r.Body == nil {
		return errors.New("request body is required")
	}
	defer r.Body.Close()

	decoder := json.NewDecoder(r.Body)
	decoder.UseNumber()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}
