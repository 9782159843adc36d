package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nimburion/mailqueue/pkg/observability/logger"
)

// Provider names accepted by NewProvider.
const (
	ProviderLog      = "log"
	ProviderSMTP     = "smtp"
	ProviderSES      = "ses"
	ProviderSendGrid = "sendgrid"
)

const defaultOperationTimeout = 10 * time.Second

// Provider delivers one message.
type Provider interface {
	Send(ctx context.Context, message Message) error
	Close() error
}

// Config selects and configures a provider.
type Config struct {
	Provider string
	From     string

	SMTP     SMTPConfig
	SES      SESConfig
	SendGrid SendGridConfig

	// BreakerMaxFailures and BreakerOpenTimeout guard network providers; zero
	// values select the breaker defaults.
	BreakerMaxFailures int
	BreakerOpenTimeout time.Duration
}

// NewProvider builds the configured provider. Network providers are wrapped
// in a circuit breaker.
func NewProvider(cfg Config, log logger.Logger) (Provider, error) {
	if log == nil {
		log = logger.NewNop()
	}
	var (
		provider Provider
		err      error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", ProviderLog:
		return NewLogProvider(cfg.From, log), nil
	case ProviderSMTP:
		smtpCfg := cfg.SMTP
		if smtpCfg.From == "" {
			smtpCfg.From = cfg.From
		}
		provider, err = NewSMTPProvider(smtpCfg, log)
	case ProviderSES:
		sesCfg := cfg.SES
		if sesCfg.From == "" {
			sesCfg.From = cfg.From
		}
		provider, err = NewSESProvider(sesCfg, log)
	case ProviderSendGrid:
		sgCfg := cfg.SendGrid
		if sgCfg.From == "" {
			sgCfg.From = cfg.From
		}
		provider, err = NewSendGridProvider(sgCfg, log)
	default:
		return nil, fmt.Errorf("unsupported email provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return NewBreakerProvider(provider, cfg.BreakerMaxFailures, cfg.BreakerOpenTimeout, log), nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func defaultHTTPClient(client *http.Client, timeout time.Duration) *http.Client {
	if client != nil {
		return client
	}
	if timeout <= 0 {
		timeout = defaultOperationTimeout
	}
	return &http.Client{Timeout: timeout}
}

// StatusError reports a non-2xx answer from an HTTP provider.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s send failed with status %d", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("%s send failed with status %d: %s", e.Provider, e.StatusCode, e.Body)
}

// postJSON sends a prepared request and maps non-2xx answers to StatusError.
func postJSON(client *http.Client, req *http.Request, provider string) error {
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Provider: provider, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func newJSONRequest(ctx context.Context, endpoint string, payload any) (*http.Request, []byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(raw))
	if err != nil {
		return nil, nil, err
	}
	return req, raw, nil
}
