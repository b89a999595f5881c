package core

import (
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"
)

// Record is one recipient row from an uploaded CSV.
// Keys are trimmed, lower-cased header names; values are trimmed.
type Record map[string]string

// Email returns the row's recipient address.
func (r Record) Email() string {
	return r["email"]
}

// RenderContext is the placeholder lookup table for one recipient.
// It is the record plus guaranteed "name" and "email" keys.
type RenderContext map[string]string

// NewRenderContext copies rec and fills in "name" and "email" when absent.
func NewRenderContext(rec Record) RenderContext {
	ctx := make(RenderContext, len(rec)+2)
	for k, v := range rec {
		ctx[k] = v
	}
	if _, ok := ctx["name"]; !ok {
		ctx["name"] = ""
	}
	if _, ok := ctx["email"]; !ok {
		ctx["email"] = rec.Email()
	}
	return ctx
}

// Message is one personalized email ready for delivery.
type Message struct {
	ToEmail string `json:"to_email"`
	ToName  string `json:"to_name"`
	Subject string `json:"subject"`
	Body    string `json:"body"`

	// Position is the message's index in its batch, set when it is sent.
	Position int `json:"position"`
}

// FailedMessage is a message that could not be delivered, with the reason.
type FailedMessage struct {
	Message
	Error string `json:"error"`
}

// Account holds the resolved SMTP settings and credentials for one batch.
// It must never be logged with its password; LogValue omits it.
type Account struct {
	Name       string
	User       string
	Password   string
	Host       string
	Port       int
	UseTLS     bool
	UseSSL     bool
	SenderName string
}

// Addr returns host:port for dialing.
func (a Account) Addr() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// String implements fmt.Stringer without exposing the password.
func (a Account) String() string {
	return fmt.Sprintf("%s(%s via %s tls=%v ssl=%v)", a.Name, a.User, a.Addr(), a.UseTLS, a.UseSSL)
}

// LogValue implements slog.LogValuer.
func (a Account) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("name", a.Name),
		slog.String("user", a.User),
		slog.String("addr", a.Addr()),
		slog.Bool("tls", a.UseTLS),
		slog.Bool("ssl", a.UseSSL),
	)
}

// Outcome partitions a batch into delivered and failed messages.
// len(Success)+len(Failed) always equals the number of messages submitted.
type Outcome struct {
	Success []Message       `json:"success"`
	Failed  []FailedMessage `json:"failed"`
}

// Total returns the number of messages attempted.
func (o Outcome) Total() int {
	return len(o.Success) + len(o.Failed)
}

// Report summarizes a finished batch for display and history.
type Report struct {
	BatchID   string          `json:"batch_id"`
	Account   string          `json:"account"`
	FileName  string          `json:"file_name,omitempty"`
	Total     int             `json:"total"`
	Success   []Message       `json:"success"`
	Failed    []FailedMessage `json:"failed"`
	StartedAt time.Time       `json:"started_at"`
	Duration  time.Duration   `json:"duration_ns"`
}

// HasFailures reports whether any recipient failed.
func (r *Report) HasFailures() bool {
	return len(r.Failed) > 0
}

// ProviderInfo describes a configured provider without its secrets.
type ProviderInfo struct {
	Key            string `json:"key"`
	Host           string `json:"host"`
	Port           int    `json:"port"`
	UseTLS         bool   `json:"use_tls"`
	UseSSL         bool   `json:"use_ssl"`
	HasCredentials bool   `json:"has_credentials"`
}

// BatchSummary is one row of the batch history.
type BatchSummary struct {
	BatchID   string    `json:"batch_id"`
	Account   string    `json:"account"`
	FileName  string    `json:"file_name"`
	Total     int       `json:"total"`
	Sent      int       `json:"sent"`
	Failed    int       `json:"failed"`
	IPAddress string    `json:"ip_address,omitempty"`
	StartedAt time.Time `json:"started_at"`
	Duration  string    `json:"duration"`
}
