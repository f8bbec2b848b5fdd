package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rickgao/trader-chat/internal/auth"
	"github.com/rickgao/trader-chat/internal/model"
	"github.com/rickgao/trader-chat/internal/version"
)

// Gateway is a Broker backed by a broker gateway HTTP service.
type Gateway struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger

	apiKey string
	creds  *auth.Credentials

	maxRetries   int
	retryBackoff time.Duration
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// NewGateway creates a gateway client for baseURL.
func NewGateway(baseURL string, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger:       slog.Default(),
		maxRetries:   2,
		retryBackoff: 500 * time.Millisecond,
	}

	for _, opt := range opts {
		opt(g)
	}

	return g
}

// WithAPIKey sends key as a bearer token on every request.
func WithAPIKey(key string) GatewayOption {
	return func(g *Gateway) {
		g.apiKey = key
	}
}

// WithCredentials signs every request with creds.
func WithCredentials(creds *auth.Credentials) GatewayOption {
	return func(g *Gateway) {
		g.creds = creds
	}
}

// WithGatewayTimeout sets the HTTP client timeout.
func WithGatewayTimeout(d time.Duration) GatewayOption {
	return func(g *Gateway) {
		g.httpClient.Timeout = d
	}
}

// WithGatewayRetries sets the retry configuration for read requests.
func WithGatewayRetries(max int, backoff time.Duration) GatewayOption {
	return func(g *Gateway) {
		g.maxRetries = max
		g.retryBackoff = backoff
	}
}

// WithGatewayLogger sets the logger.
func WithGatewayLogger(logger *slog.Logger) GatewayOption {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// WithGatewayHTTPClient sets a custom HTTP client.
func WithGatewayHTTPClient(hc *http.Client) GatewayOption {
	return func(g *Gateway) {
		g.httpClient = hc
	}
}

type ackResponse struct {
	Acknowledged bool `json:"acknowledged"`
}

type headersRequest struct {
	Content string `json:"content"`
}

type headersResponse struct {
	Headers map[string]string `json:"headers"`
}

type accountResponse struct {
	Balance json.Number `json:"balance"`
}

type transferRequest struct {
	Provider string `json:"provider"`
	Service  string `json:"service"`
	Amount   string `json:"amount"`
}

type processRequest struct {
	Content string `json:"content"`
	ChatID  string `json:"chat_id"`
}

type processResponse struct {
	Valid bool `json:"valid"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// AcknowledgementStatus implements Broker.
func (g *Gateway) AcknowledgementStatus(ctx context.Context, provider string) (bool, error) {
	var resp ackResponse
	if err := g.get(ctx, providerPath(provider, "acknowledgement"), &resp); err != nil {
		return false, fmt.Errorf("get acknowledgement: %w", err)
	}
	return resp.Acknowledged, nil
}

// ServiceMetadata implements Broker.
func (g *Gateway) ServiceMetadata(ctx context.Context, provider string) (model.ServiceMetadata, error) {
	var resp model.ServiceMetadata
	if err := g.get(ctx, providerPath(provider, "metadata"), &resp); err != nil {
		return model.ServiceMetadata{}, fmt.Errorf("get service metadata: %w", err)
	}
	if resp.Endpoint == "" {
		return model.ServiceMetadata{}, errors.New("get service metadata: empty endpoint")
	}
	return resp, nil
}

// RequestHeaders implements Broker.
func (g *Gateway) RequestHeaders(ctx context.Context, provider, payload string) (map[string]string, error) {
	var resp headersResponse
	if err := g.post(ctx, providerPath(provider, "request-headers"), headersRequest{Content: payload}, &resp); err != nil {
		return nil, fmt.Errorf("get request headers: %w", err)
	}
	if resp.Headers == nil {
		resp.Headers = map[string]string{}
	}
	return resp.Headers, nil
}

// Account implements Broker.
func (g *Gateway) Account(ctx context.Context, provider string) (*model.Account, error) {
	var resp accountResponse
	err := g.get(ctx, providerPath(provider, "account"), &resp)
	if err != nil {
		var be *Error
		if errors.As(err, &be) && be.StatusCode == http.StatusNotFound {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("get account: %w", err)
	}

	balance, ok := new(big.Int).SetString(resp.Balance.String(), 10)
	if !ok {
		return nil, fmt.Errorf("get account: invalid balance %q", resp.Balance.String())
	}

	return &model.Account{Provider: provider, Balance: balance}, nil
}

// TransferFunds implements Broker.
func (g *Gateway) TransferFunds(ctx context.Context, provider, service string, amount *big.Int) error {
	req := transferRequest{
		Provider: provider,
		Service:  service,
		Amount:   amount.String(),
	}
	if err := g.post(ctx, "/v1/ledger/transfers", req, nil); err != nil {
		return fmt.Errorf("transfer funds: %w", err)
	}
	return nil
}

// ProcessResponse implements Broker.
func (g *Gateway) ProcessResponse(ctx context.Context, provider, content, chatID string) error {
	var resp processResponse
	req := processRequest{Content: content, ChatID: chatID}
	if err := g.post(ctx, providerPath(provider, "responses"), req, &resp); err != nil {
		return fmt.Errorf("process response: %w", err)
	}
	if !resp.Valid {
		return ErrResponseRejected
	}
	return nil
}

func providerPath(provider, resource string) string {
	return "/v1/providers/" + url.PathEscape(provider) + "/" + resource
}

// doRequest performs one HTTP request. body, if non-nil, is sent as JSON.
func (g *Gateway) doRequest(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}
	if g.creds != nil {
		headers, err := g.creds.SignRequest(method, path)
		if err != nil {
			return nil, fmt.Errorf("sign request: %w", err)
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, parseError(resp.StatusCode, respBody)
	}

	return respBody, nil
}

func parseError(status int, body []byte) *Error {
	e := &Error{StatusCode: status, Message: http.StatusText(status)}

	var er errorResponse
	if json.Unmarshal(body, &er) == nil {
		if er.Error != "" {
			e.Message = er.Error
		}
		e.Code = er.Code
	} else if len(body) > 0 {
		e.Message = strings.TrimSpace(string(body))
	}

	return e
}

// doWithRetry retries idempotent reads with exponential backoff.
func (g *Gateway) doWithRetry(ctx context.Context, path string) ([]byte, error) {
	var lastErr error
	backoff := g.retryBackoff

	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if attempt > 0 {
			jitter := backoff/2 + time.Duration(rand.Int64N(int64(backoff)+1))
			g.logger.Debug("retrying gateway request",
				"attempt", attempt,
				"backoff", jitter,
				"path", path,
			)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(jitter):
			}

			backoff *= 2
		}

		body, err := g.doRequest(ctx, http.MethodGet, path, nil)
		if err == nil {
			return body, nil
		}

		lastErr = err

		var be *Error
		if !errors.As(err, &be) || !be.IsRetryable() {
			return nil, err
		}
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (g *Gateway) get(ctx context.Context, path string, result any) error {
	body, err := g.doWithRetry(ctx, path)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}

	return nil
}

// post sends a single POST. Ledger writes are not retried.
func (g *Gateway) post(ctx context.Context, path string, payload, result any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	body, err := g.doRequest(ctx, http.MethodPost, path, data)
	if err != nil {
		return err
	}

	if result == nil || len(body) == 0 {
		return nil
	}

	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}

	return nil
}

var _ Broker = (*Gateway)(nil)
