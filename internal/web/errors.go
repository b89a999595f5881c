package web

// errors.go turns errors into responses.
//
// The technical error is logged with the request ID. The client gets the
// mapped core.UserMessage as JSON for API callers or as an HTML page for
// browsers.

import (
	"encoding/csv"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/JonMunkholm/csvmailer/internal/core"
	"github.com/JonMunkholm/csvmailer/internal/logging"
	"github.com/JonMunkholm/csvmailer/internal/web/templates"
)

var (
	errRateLimited  = errors.New("rate limit exceeded")
	errNoFile       = errors.New("no file provided")
	errFileTooLarge = errors.New("file too large")
)

// ErrorResponse is the JSON body of an API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
	Detail  string `json:"detail,omitempty"`
}

// respondError logs err and writes the user-facing version of it.
func respondError(w http.ResponseWriter, r *http.Request, err error, status int) {
	msg := core.MapError(err)

	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	logFor(r).Log(r.Context(), level, "request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"code", msg.Code,
		"error", err,
	)

	if wantsJSON(r) {
		writeJSON(w, r, status, ErrorResponse{
			Error:   msg.Message,
			Message: msg.Message,
			Action:  msg.Action,
			Code:    msg.Code,
			Detail:  errorDetail(err),
		})
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := templates.ErrorPage(msg.Message, msg.Action, msg.Code).Render(r.Context(), w); err != nil {
		logFor(r).Error("render error page", "error", err)
	}
}

// statusFor picks the HTTP status for an error returned by core.Service.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, core.ErrTooManyBatches):
		return http.StatusServiceUnavailable
	case errors.Is(err, core.ErrConnection), errors.Is(err, core.ErrAuthentication):
		return http.StatusBadGateway
	case isInputError(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// isInputError reports whether err was caused by the submitted form or file.
func isInputError(err error) bool {
	var parseErr *csv.ParseError
	return errors.Is(err, errNoFile) ||
		errors.Is(err, errInvalidForm) ||
		errors.Is(err, core.ErrEmptyInput) ||
		errors.Is(err, core.ErrNoValidRows) ||
		errors.Is(err, core.ErrNoMessages) ||
		errors.Is(err, core.ErrUnknownAccount) ||
		errors.Is(err, core.ErrMissingCredentials) ||
		errors.As(err, &parseErr)
}

// errorDetail returns the raw error text when it helps the user fix the
// request: which variable is missing, what the server answered. Unmapped
// errors stay server-side.
func errorDetail(err error) string {
	if !core.IsUserFacing(err) && !isInputError(err) {
		return ""
	}
	return err.Error()
}

func wantsJSON(r *http.Request) bool {
	if strings.HasPrefix(r.URL.Path, "/api/") {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

func logFor(r *http.Request) *slog.Logger {
	return logging.FromContext(r.Context())
}
