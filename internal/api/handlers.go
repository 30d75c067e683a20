// Package api exposes the mobile uploader HTTP surface under
// /api/mobile-uploader. Handlers stay thin: request decoding, credential
// extraction, and response shaping; all admission decisions live in the
// admission gate.
package api

import (
	"log/slog"
	"net/http"
	"strings"

	"mediadrop/internal/admission"
	"mediadrop/internal/auth"
	"mediadrop/internal/library"
)

// Handler carries the collaborators the HTTP surface dispatches into.
type Handler struct {
	Gate     *admission.Gate
	Catalog  library.Catalog
	Sessions *auth.Manager
	Logger   *slog.Logger

	// MaxMultipartMemory bounds the in-memory portion of a multipart parse;
	// larger bodies spool to disk. Zero selects a 32 MiB default.
	MaxMultipartMemory int64
}

// NewHandler constructs the HTTP handler set.
func NewHandler(gate *admission.Gate, catalog library.Catalog, sessions *auth.Manager, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{Gate: gate, Catalog: catalog, Sessions: sessions, Logger: logger}
}

func (h *Handler) multipartMemory() int64 {
	if h.MaxMultipartMemory > 0 {
		return h.MaxMultipartMemory
	}
	return 32 << 20
}

// appCredentials collects the app-identity values from their headers.
func appCredentials(r *http.Request) admission.AppCredentials {
	return admission.AppCredentials{
		APIKey:        r.Header.Get("X-API-Key"),
		SecurityToken: r.Header.Get("X-Security-Token"),
		AppPackage:    r.Header.Get("X-App-Package"),
		UserAgent:     r.Header.Get("User-Agent"),
	}
}

// bearerToken extracts the session token from the Authorization header.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

// authenticate runs the app-auth and session steps shared by every endpoint
// except upload, which delegates both to the gate. It writes the error
// response itself and reports whether the request may proceed.
func (h *Handler) authenticate(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	if !h.Gate.AuthenticateApp(appCredentials(r)) {
		writeErrorMessage(w, http.StatusUnauthorized, "invalid app authentication")
		return auth.Principal{}, false
	}
	principal, err := h.Gate.ResolveSession(r.Context(), bearerToken(r))
	if err != nil {
		writeRejection(w, err)
		return auth.Principal{}, false
	}
	return principal, true
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed string) {
	w.Header().Set("Allow", allowed)
	writeErrorMessage(w, http.StatusMethodNotAllowed, "method "+r.Method+" not allowed")
}
