package web

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/a-h/templ"

	"github.com/JonMunkholm/csvmailer/internal/core"
	"github.com/JonMunkholm/csvmailer/internal/web/templates"
)

var errInvalidForm = errors.New("invalid form")

// sendForm holds the text fields of a send submission.
type sendForm struct {
	Account  string `schema:"account"`
	User     string `schema:"smtp_user"`
	Password string `schema:"smtp_password"`
	Subject  string `schema:"subject"`
	Body     string `schema:"body_template"`
}

// parseSendRequest reads a multipart send submission. Text fields are
// trimmed. The upload is capped at cfg.Mail.MaxFileSize.
func (s *Server) parseSendRequest(w http.ResponseWriter, r *http.Request) (core.SendRequest, error) {
	maxSize := s.cfg.Mail.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize)

	if err := r.ParseMultipartForm(maxSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			return core.SendRequest{}, fmt.Errorf("%w: limit is %d bytes", errFileTooLarge, maxSize)
		}
		return core.SendRequest{}, fmt.Errorf("%w: %w", errNoFile, err)
	}

	var form sendForm
	if err := s.forms.Decode(&form, r.MultipartForm.Value); err != nil {
		return core.SendRequest{}, fmt.Errorf("%w: %w", errInvalidForm, err)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return core.SendRequest{}, errNoFile
	}
	defer file.Close()
	if header.Filename == "" {
		return core.SendRequest{}, errNoFile
	}

	data, err := io.ReadAll(file)
	if err != nil {
		return core.SendRequest{}, fmt.Errorf("read upload: %w", err)
	}

	return core.SendRequest{
		Account:         strings.TrimSpace(form.Account),
		User:            strings.TrimSpace(form.User),
		Password:        strings.TrimSpace(form.Password),
		SubjectTemplate: strings.TrimSpace(form.Subject),
		BodyTemplate:    strings.TrimSpace(form.Body),
		FileName:        header.Filename,
		File:            data,
	}, nil
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	data := templates.IndexData{
		Providers: s.service.Providers(),
		Flashes:   s.flashes.Pop(w, r),
		MaxSizeMB: s.cfg.Mail.MaxFileSize >> 20,
	}
	s.render(w, r, http.StatusOK, templates.Index(data))
}

// handleSendForm runs a batch from the HTML form. Errors go back to the
// form as a flash message; a finished batch renders its report.
func (s *Server) handleSendForm(w http.ResponseWriter, r *http.Request) {
	req, err := s.parseSendRequest(w, r)
	if err == nil {
		var report *core.Report
		report, err = s.service.Send(WithRequestMetadata(r.Context(), r), req)
		if err == nil {
			s.render(w, r, http.StatusOK, templates.Result(report))
			return
		}
	}

	logFor(r).Warn("send rejected", "error", err)
	s.flashes.Add(w, templates.Flash{
		Category: "error",
		Message:  core.FormatUserError(err),
		Detail:   errorDetail(err),
	})
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleHistoryPage(w http.ResponseWriter, r *http.Request) {
	batches, err := s.service.RecentBatches(r.Context(), parseIntParam(r, "limit", 50))
	if err != nil {
		respondError(w, r, err, http.StatusInternalServerError)
		return
	}
	s.render(w, r, http.StatusOK, templates.History(batches, s.service.HistoryEnabled()))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]any{
		"status":  "ok",
		"history": s.service.HistoryEnabled(),
		"batches": s.service.Limiter().Status(),
	})
}

// handleSendAPI runs a batch and returns the report as JSON. A batch with
// failed recipients is still 200; callers inspect "failed".
func (s *Server) handleSendAPI(w http.ResponseWriter, r *http.Request) {
	req, err := s.parseSendRequest(w, r)
	if err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}

	report, err := s.service.Send(WithRequestMetadata(r.Context(), r), req)
	if err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}
	writeJSON(w, r, http.StatusOK, report)
}

// CheckResponse previews a batch without sending it.
type CheckResponse struct {
	Account  string         `json:"account"`
	From     string         `json:"from"`
	Total    int            `json:"total"`
	Messages []core.Message `json:"messages"`
}

// handleCheckAPI validates a submission and returns the messages that
// would be sent. No SMTP connection is made.
func (s *Server) handleCheckAPI(w http.ResponseWriter, r *http.Request) {
	req, err := s.parseSendRequest(w, r)
	if err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}

	account, msgs, err := s.service.Prepare(req)
	if err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}
	writeJSON(w, r, http.StatusOK, CheckResponse{
		Account:  account.Name,
		From:     core.FormatFrom(account),
		Total:    len(msgs),
		Messages: msgs,
	})
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, s.service.Providers())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	batches, err := s.service.RecentBatches(r.Context(), parseIntParam(r, "limit", 50))
	if err != nil {
		respondError(w, r, err, http.StatusInternalServerError)
		return
	}
	if batches == nil {
		batches = []core.BatchSummary{}
	}
	writeJSON(w, r, http.StatusOK, batches)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, s.service.Limiter().Status())
}

// render writes an HTML component with status.
func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, c templ.Component) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := c.Render(r.Context(), w); err != nil {
		logFor(r).Error("render failed", "error", err)
	}
}

// parseIntParam parses a positive integer query parameter.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil || i < 1 {
		return defaultVal
	}
	return i
}
