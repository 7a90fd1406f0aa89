package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/prospect-engine/internal/config"
	"github.com/sells-group/prospect-engine/internal/model"
	"github.com/sells-group/prospect-engine/internal/resilience"
)

// GatewaySender posts messages to an HTTP messaging gateway. WhatsApp, SMS
// and social direct messages all go through one of these.
type GatewaySender struct {
	channel model.Channel
	baseURL string
	token   string
	http    *http.Client
	limiter *rate.Limiter
	retry   resilience.RetryConfig
}

type gatewayMessage struct {
	Channel string `json:"channel"`
	To      string `json:"to"`
	Text    string `json:"text"`
}

// NewGatewaySender creates a sender for ch backed by the gateway in cfg.
func NewGatewaySender(ch model.Channel, cfg config.GatewayConfig, retry resilience.RetryConfig) *GatewaySender {
	retry.OnRetry = resilience.RetryLogger("gateway", string(ch))
	return &GatewaySender{
		channel: ch,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		http:    &http.Client{Timeout: 15 * time.Second},
		limiter: newLimiter(cfg.RatePerSec),
		retry:   retry,
	}
}

// Send implements Sender. 429 and 5xx responses are retried.
func (s *GatewaySender) Send(ctx context.Context, recipient, text string) error {
	if recipient == "" {
		return ErrMissingRecipient
	}
	body, err := json.Marshal(gatewayMessage{Channel: string(s.channel), To: recipient, Text: text})
	if err != nil {
		return eris.Wrap(err, "gateway: marshal message")
	}

	return resilience.Do(ctx, s.retry, func(ctx context.Context) error {
		if err := s.limiter.Wait(ctx); err != nil {
			return eris.Wrap(err, "gateway: rate limit wait")
		}
		return s.post(ctx, body)
	})
}

func (s *GatewaySender) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "gateway: create request")
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return resilience.NewTransientError(err, 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return resilience.CheckStatus("gateway "+string(s.channel), resp.StatusCode, respBody)
}
