package email

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"

	awsv2 "github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsv2config "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/nimburion/mailqueue/pkg/observability/logger"
)

// SESConfig configures the AWS SES v2 provider.
type SESConfig struct {
	Region           string
	From             string
	Endpoint         string
	AccessKeyID      string
	SecretAccessKey  string
	SessionToken     string
	OperationTimeout time.Duration
	HTTPClient       *http.Client
}

// SESProvider sends mail through the SES v2 outbound-emails API with SigV4
// signed requests.
type SESProvider struct {
	cfg        SESConfig
	awsCfg     awsv2.Config
	signer     *v4.Signer
	httpClient *http.Client
	log        logger.Logger
	now        func() time.Time
}

// NewSESProvider creates an SES provider. Static credentials take precedence
// over the default AWS credential chain.
func NewSESProvider(cfg SESConfig, log logger.Logger) (*SESProvider, error) {
	cfg.Region = strings.TrimSpace(cfg.Region)
	if cfg.Region == "" {
		return nil, fmt.Errorf("ses region is required")
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = defaultOperationTimeout
	}
	if log == nil {
		log = logger.NewNop()
	}

	loadOpts := []func(*awsv2config.LoadOptions) error{
		awsv2config.WithRegion(cfg.Region),
	}
	if strings.TrimSpace(cfg.AccessKeyID) != "" || strings.TrimSpace(cfg.SecretAccessKey) != "" {
		loadOpts = append(loadOpts, awsv2config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}
	awsCfg, err := awsv2config.LoadDefaultConfig(context.Background(), loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &SESProvider{
		cfg:        cfg,
		awsCfg:     awsCfg,
		signer:     v4.NewSigner(),
		httpClient: defaultHTTPClient(cfg.HTTPClient, cfg.OperationTimeout),
		log:        log,
		now:        time.Now,
	}, nil
}

type sesContent struct {
	Data string `json:"Data"`
}

type sesRequest struct {
	FromEmailAddress string   `json:"FromEmailAddress"`
	ReplyToAddresses []string `json:"ReplyToAddresses,omitempty"`
	Destination      struct {
		ToAddresses  []string `json:"ToAddresses,omitempty"`
		CcAddresses  []string `json:"CcAddresses,omitempty"`
		BccAddresses []string `json:"BccAddresses,omitempty"`
	} `json:"Destination"`
	Content struct {
		Simple struct {
			Subject sesContent `json:"Subject"`
			Body    struct {
				Text *sesContent `json:"Text,omitempty"`
				HTML *sesContent `json:"Html,omitempty"`
			} `json:"Body"`
		} `json:"Simple"`
	} `json:"Content"`
}

// Send delivers message through SES.
func (p *SESProvider) Send(ctx context.Context, message Message) error {
	msg, err := withSender(message, p.cfg.From)
	if err != nil {
		return err
	}

	var payload sesRequest
	payload.FromEmailAddress = msg.From
	if msg.ReplyTo != "" {
		payload.ReplyToAddresses = []string{msg.ReplyTo}
	}
	payload.Destination.ToAddresses = msg.To
	payload.Destination.CcAddresses = msg.Cc
	payload.Destination.BccAddresses = msg.Bcc
	payload.Content.Simple.Subject = sesContent{Data: msg.Subject}
	if strings.TrimSpace(msg.TextBody) != "" {
		payload.Content.Simple.Body.Text = &sesContent{Data: msg.TextBody}
	}
	if strings.TrimSpace(msg.HTMLBody) != "" {
		payload.Content.Simple.Body.HTML = &sesContent{Data: msg.HTMLBody}
	}

	endpoint := strings.TrimSpace(p.cfg.Endpoint)
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://email.%s.amazonaws.com", p.cfg.Region)
	}

	cctx, cancel := withTimeout(ctx, p.cfg.OperationTimeout)
	defer cancel()

	req, raw, err := newJSONRequest(cctx, strings.TrimRight(endpoint, "/")+"/v2/email/outbound-emails", payload)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	hash := sha256.Sum256(raw)
	payloadHash := hex.EncodeToString(hash[:])
	req.Header.Set("X-Amz-Content-Sha256", payloadHash)

	creds, err := p.awsCfg.Credentials.Retrieve(cctx)
	if err != nil {
		return fmt.Errorf("retrieve aws credentials: %w", err)
	}
	if err := p.signer.SignHTTP(cctx, creds, req, payloadHash, "ses", p.cfg.Region, p.now().UTC()); err != nil {
		return fmt.Errorf("sign ses request: %w", err)
	}
	if err := postJSON(p.httpClient, req, ProviderSES); err != nil {
		return err
	}
	p.log.Debug("email sent", "provider", ProviderSES, "recipients", len(msg.Recipients()))
	return nil
}

// Close releases provider resources.
func (p *SESProvider) Close() error {
	return nil
}
