package core

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/csvmailer/internal/config"
	"github.com/JonMunkholm/csvmailer/internal/logging"
)

// HistoryTimeout bounds writing one batch to history.
var HistoryTimeout = 10 * time.Second

// SendRequest is one batch submission from the web form, the JSON API or
// the CLI. Templates are used as given; callers trim form input.
type SendRequest struct {
	Account         string
	User            string
	Password        string
	SubjectTemplate string
	BodyTemplate    string
	FileName        string
	File            []byte
}

// Service runs the full pipeline: resolve the account, parse the CSV, build
// messages, then deliver them under the batch limiter.
type Service struct {
	resolver  *AccountResolver
	ingestor  *Ingestor
	assembler Assembler
	engine    *Engine
	limiter   *BatchLimiter
	history   History
}

// Option customizes a Service.
type Option func(*Service)

// WithHistory records finished batches in h.
func WithHistory(h History) Option {
	return func(s *Service) {
		if h != nil {
			s.history = h
		}
	}
}

// WithEngineOptions overrides how the engine paces messages. Used by tests
// to avoid real sleeps.
func WithEngineOptions(opts EngineOptions) Option {
	return func(s *Service) {
		s.engine = NewEngine(s.engine.dialer, opts)
	}
}

// NewService builds a Service from cfg. dialer opens SMTP sessions; pass
// SMTPDialer{Timeout: cfg.Mail.Timeout} in production.
func NewService(cfg *config.Config, dialer Dialer, opts ...Option) (*Service, error) {
	decoder, err := NewDecoder(cfg.Mail.FallbackEncoding)
	if err != nil {
		return nil, err
	}

	s := &Service{
		resolver:  NewAccountResolver(cfg.Providers),
		ingestor:  NewIngestor(decoder),
		assembler: Assembler{FallbackSubject: cfg.Mail.FallbackSubject},
		engine: NewEngine(dialer, EngineOptions{
			Delay:         cfg.Mail.SendDelay(),
			TrailingPause: cfg.Mail.TrailingPause,
		}),
		limiter: NewBatchLimiter(cfg.Mail.MaxConcurrent, cfg.Mail.MaxWaitTime),
		history: NopHistory{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Accounts returns the selectable account keys.
func (s *Service) Accounts() []string {
	return s.resolver.Names()
}

// Providers describes the configured accounts without secrets.
func (s *Service) Providers() []ProviderInfo {
	return s.resolver.Providers()
}

// Limiter exposes the batch limiter for status and shutdown draining.
func (s *Service) Limiter() *BatchLimiter {
	return s.limiter
}

// History returns the batch history store.
func (s *Service) History() History {
	return s.history
}

// HistoryEnabled reports whether batches are recorded anywhere.
func (s *Service) HistoryEnabled() bool {
	_, nop := s.history.(NopHistory)
	return !nop
}

// Prepare validates a request without sending: it resolves the account,
// parses the file and builds every message. No network I/O happens.
func (s *Service) Prepare(req SendRequest) (Account, []Message, error) {
	account, err := s.resolver.Resolve(req.Account, req.User, req.Password)
	if err != nil {
		return Account{}, nil, err
	}

	records, err := s.ingestor.Parse(req.File)
	if err != nil {
		return Account{}, nil, err
	}

	msgs, err := s.assembler.Build(records, req.SubjectTemplate, req.BodyTemplate)
	if err != nil {
		return Account{}, nil, err
	}
	return account, msgs, nil
}

// Send runs a batch and returns its report.
//
// Account, CSV and assembly errors are returned before any connection is
// opened. Connection and login errors abort the batch. Once logged in, every
// message is attempted and per-recipient failures land in Report.Failed.
func (s *Service) Send(ctx context.Context, req SendRequest) (*Report, error) {
	account, msgs, err := s.Prepare(req)
	if err != nil {
		return nil, err
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	defer s.limiter.Release()

	batchID := uuid.NewString()
	logger := logging.WithFields(ctx, "batch_id", batchID, "account", account.Name)
	logger.Info("batch started", "recipients", len(msgs), "file", req.FileName, "smtp", account)

	start := time.Now()
	outcome, err := s.engine.Deliver(ctx, account, msgs)
	if err != nil {
		logger.Error("batch aborted", "error", err)
		return nil, err
	}

	report := &Report{
		BatchID:   batchID,
		Account:   account.Name,
		FileName:  req.FileName,
		Total:     outcome.Total(),
		Success:   outcome.Success,
		Failed:    outcome.Failed,
		StartedAt: start.UTC(),
		Duration:  time.Since(start),
	}
	logger.Info("batch finished",
		"sent", len(report.Success),
		"failed", len(report.Failed),
		"duration", report.Duration.Round(time.Millisecond),
	)

	s.recordHistory(ctx, report)
	return report, nil
}

// recordHistory writes the report on a context detached from the request
// so a client disconnect does not drop the record.
func (s *Service) recordHistory(ctx context.Context, report *Report) {
	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), HistoryTimeout)
	defer cancel()

	if err := s.history.RecordBatch(hctx, report); err != nil {
		logging.FromContext(ctx).Error("failed to record batch history",
			"batch_id", report.BatchID, "error", err)
	}
}

// RecentBatches returns the newest batches from history.
func (s *Service) RecentBatches(ctx context.Context, limit int) ([]BatchSummary, error) {
	batches, err := s.history.RecentBatches(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("recent batches: %w", err)
	}
	return batches, nil
}
