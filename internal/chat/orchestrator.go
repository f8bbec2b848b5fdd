package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rickgao/trader-chat/internal/broker"
	"github.com/rickgao/trader-chat/internal/inference"
	"github.com/rickgao/trader-chat/internal/intent"
	"github.com/rickgao/trader-chat/internal/metrics"
	"github.com/rickgao/trader-chat/internal/model"
	"github.com/rickgao/trader-chat/internal/prices"
)

// PriceSource fetches live ticker prices.
type PriceSource interface {
	GetPrices(ctx context.Context, symbol string) ([]model.Ticker, error)
	GetPopularPrices(ctx context.Context) ([]model.Ticker, error)
}

// Completer sends a chat completion request to a provider endpoint.
type Completer interface {
	Complete(ctx context.Context, endpoint string, headers map[string]string, req inference.ChatRequest) (*inference.ChatResponse, error)
}

// Recorder archives conversation messages.
type Recorder interface {
	RecordMessage(ctx context.Context, sessionID, provider string, msg model.Message) error
	RecordVerification(ctx context.Context, sessionID, messageID string, verified bool) error
}

// Status texts
const (
	StatusUnacknowledged = "Acknowledge this service on the Services tab first"
	StatusPricesFailed   = "Failed to fetch price data, continuing without it"
	StatusVerifying      = "Verifying response..."
	StatusVerified       = "Response verified"
	StatusVerifyFailed   = "Response verification failed"
)

// PriceContextHeader separates the question from the appended price block.
const PriceContextHeader = "\n\n[Live price data]\n"

// Orchestrator runs send cycles.
type Orchestrator struct {
	broker    broker.Broker
	prices    PriceSource
	completer Completer
	recorder  Recorder
	funding   broker.FundingPolicy
	logger    *slog.Logger

	verifyStatusTTL time.Duration
	errorStatusTTL  time.Duration
	now             func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// New creates an orchestrator. prices may be nil to disable price context.
func New(b broker.Broker, p PriceSource, c Completer, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		broker:          b,
		prices:          p,
		completer:       c,
		funding:         broker.DefaultFundingPolicy(),
		logger:          slog.Default(),
		verifyStatusTTL: 3 * time.Second,
		errorStatusTTL:  5 * time.Second,
		now:             time.Now,
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithFunding sets the sub-account funding policy.
func WithFunding(p broker.FundingPolicy) Option {
	return func(o *Orchestrator) {
		o.funding = p
	}
}

// WithRecorder archives every message through r.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) {
		o.recorder = r
	}
}

// WithStatusTTL sets how long verification and error statuses stay visible.
func WithStatusTTL(verify, errStatus time.Duration) Option {
	return func(o *Orchestrator) {
		o.verifyStatusTTL = verify
		o.errorStatusTTL = errStatus
	}
}

// WithClock sets the time source used for price timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// Send runs one send cycle for text on s. Blank text or a session without
// a provider is a no-op. Failures are reported on the session as an
// assistant message and a status; only ErrSendInProgress is returned.
func (o *Orchestrator) Send(ctx context.Context, s *Session, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	provider, userMsg, err := s.begin(text)
	if errors.Is(err, errNoProvider) {
		return nil
	}
	if err != nil {
		return err
	}
	defer s.finish()

	o.record(ctx, s, provider, userMsg)

	logger := o.logger.With("session", s.ID(), "provider", provider.Address)
	start := time.Now()

	err = o.cycle(ctx, s, provider, text, logger)
	if err == nil {
		metrics.SendCycles.WithLabelValues("ok").Inc()
		logger.Debug("send cycle complete", "duration", time.Since(start))
		return nil
	}

	ce := classify("", err)
	metrics.SendCycles.WithLabelValues(ce.Kind.String()).Inc()

	friendly := FriendlyMessage(ce)
	errMsg := model.Message{Role: model.RoleAssistant, Content: "Error: " + friendly}
	s.appendMessage(errMsg)
	o.record(ctx, s, provider, errMsg)

	if ce.Kind == KindUnacknowledged {
		logger.Info("provider not acknowledged")
		s.SetStatus(StatusUnacknowledged, 0)
		return nil
	}

	logger.Error("send cycle failed",
		"kind", ce.Kind.String(),
		"error", err,
		"duration", time.Since(start),
	)
	s.SetStatus("Error: "+friendly, o.errorStatusTTL)
	return nil
}

func (o *Orchestrator) cycle(ctx context.Context, s *Session, p model.Provider, text string, logger *slog.Logger) error {
	acknowledged, err := o.broker.AcknowledgementStatus(ctx, p.Address)
	if err != nil {
		// Unknown acknowledgement is not treated as a refusal.
		logger.Warn("acknowledgement check failed, continuing", "error", err)
	} else if !acknowledged {
		return &Error{Kind: KindUnacknowledged, Op: "check acknowledgement", Err: ErrNotAcknowledged}
	}

	content := text
	if o.prices != nil && intent.IsTradingRelated(text) {
		priceText, err := o.priceContext(ctx, s, text)
		if err != nil {
			logger.Warn("price fetch failed, continuing without price data", "error", err)
			s.SetStatus(StatusPricesFailed, o.errorStatusTTL)
		} else {
			content = text + PriceContextHeader + priceText
		}
	}

	meta, err := o.broker.ServiceMetadata(ctx, p.Address)
	if err != nil {
		return classify("get service metadata", err)
	}

	payload, err := headersPayload(text)
	if err != nil {
		return classify("encode header payload", err)
	}
	headers, err := o.broker.RequestHeaders(ctx, p.Address, payload)
	if err != nil {
		return classify("get request headers", err)
	}

	// EnsureFunded tags its own lines with the provider.
	fundingLogger := o.logger.With("session", s.ID())
	if _, err := broker.EnsureFunded(ctx, o.broker, p.Address, o.funding, fundingLogger); err != nil {
		return classify("ensure funded", err)
	}

	resp, err := o.completer.Complete(ctx, meta.Endpoint, headers, inference.ChatRequest{
		Messages: []inference.Message{{Role: string(model.RoleUser), Content: content}},
		Model:    meta.Model,
	})
	if err != nil {
		return classify("chat completion", err)
	}
	answer, err := resp.Content()
	if err != nil {
		return classify("chat completion", err)
	}

	reply := model.Message{Role: model.RoleAssistant, Content: answer, ID: resp.ID}
	s.appendMessage(reply)
	o.record(ctx, s, p, reply)

	if resp.ID != "" {
		o.verify(ctx, s, p, reply, logger)
	}
	return nil
}

// priceContext fetches and formats the prices relevant to text.
func (o *Orchestrator) priceContext(ctx context.Context, s *Session, text string) (string, error) {
	s.setFetchingPrices(true)
	defer s.setFetchingPrices(false)

	var (
		tickers []model.Ticker
		err     error
	)
	if symbol, ok := intent.ExtractSymbol(text); ok {
		tickers, err = o.prices.GetPrices(ctx, symbol)
	} else {
		tickers, err = o.prices.GetPopularPrices(ctx)
	}
	if err != nil {
		return "", fmt.Errorf("fetch prices: %w", err)
	}

	return prices.FormatForDisplay(tickers, o.now()), nil
}

// verify settles reply with the broker. A rejection flags the message and
// does not fail the cycle.
func (o *Orchestrator) verify(ctx context.Context, s *Session, p model.Provider, reply model.Message, logger *slog.Logger) {
	s.setVerifying(reply.ID)
	s.SetStatus(StatusVerifying, 0)

	verified := true
	status := StatusVerified
	if err := o.broker.ProcessResponse(ctx, p.Address, reply.Content, reply.ID); err != nil {
		verified = false
		status = StatusVerifyFailed
		logger.Warn("response verification failed", "id", reply.ID, "error", err)
		metrics.Verifications.WithLabelValues("rejected").Inc()
	} else {
		metrics.Verifications.WithLabelValues("verified").Inc()
	}

	s.updateMessage(reply.ID, func(m *model.Message) {
		m.Verified = verified
		m.VerifyError = !verified
	})
	s.setVerifying("")
	s.SetStatus(status, o.verifyStatusTTL)

	if o.recorder != nil {
		if err := o.recorder.RecordVerification(ctx, s.ID(), reply.ID, verified); err != nil {
			logger.Warn("archive verification failed", "id", reply.ID, "error", err)
		}
	}
}

func (o *Orchestrator) record(ctx context.Context, s *Session, p model.Provider, msg model.Message) {
	if o.recorder == nil {
		return
	}
	if err := o.recorder.RecordMessage(ctx, s.ID(), p.Address, msg); err != nil {
		o.logger.Warn("archive message failed",
			"session", s.ID(),
			"role", msg.Role,
			"error", err,
		)
	}
}

// headersPayload encodes the single-message conversation the broker signs.
// HTML characters are left unescaped.
func headersPayload(text string) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode([]inference.Message{{Role: string(model.RoleUser), Content: text}}); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}
