package email

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nimburion/mailqueue/pkg/observability/logger"
)

// smtpSendFunc delivers a raw MIME message. It is replaced in tests.
type smtpSendFunc func(ctx context.Context, addr string, auth smtp.Auth, from string, to []string, raw []byte) error

// SMTPConfig configures the SMTP provider.
type SMTPConfig struct {
	Host               string
	Port               int
	Username           string
	Password           string
	From               string
	EnableTLS          bool
	InsecureSkipVerify bool
	OperationTimeout   time.Duration
}

// SMTPProvider sends mail through an SMTP relay. Port 465 with EnableTLS uses
// implicit TLS; other ports upgrade with STARTTLS when the server offers it.
type SMTPProvider struct {
	cfg  SMTPConfig
	log  logger.Logger
	send smtpSendFunc
}

// NewSMTPProvider creates an SMTP provider.
func NewSMTPProvider(cfg SMTPConfig, log logger.Logger) (*SMTPProvider, error) {
	cfg.Host = strings.TrimSpace(cfg.Host)
	if cfg.Host == "" {
		return nil, fmt.Errorf("smtp host is required")
	}
	if cfg.Port <= 0 {
		cfg.Port = 587
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = defaultOperationTimeout
	}
	if log == nil {
		log = logger.NewNop()
	}
	p := &SMTPProvider{cfg: cfg, log: log}
	p.send = p.deliver
	return p, nil
}

// Send delivers message within the operation timeout.
func (p *SMTPProvider) Send(ctx context.Context, message Message) error {
	msg, err := withSender(message, p.cfg.From)
	if err != nil {
		return err
	}

	var auth smtp.Auth
	if strings.TrimSpace(p.cfg.Username) != "" {
		auth = smtp.PlainAuth("", p.cfg.Username, p.cfg.Password, p.cfg.Host)
	}

	cctx, cancel := withTimeout(ctx, p.cfg.OperationTimeout)
	defer cancel()

	addr := net.JoinHostPort(p.cfg.Host, strconv.Itoa(p.cfg.Port))
	if err := p.send(cctx, addr, auth, msg.From, msg.Recipients(), buildMIMEMessage(msg)); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	p.log.Debug("email sent", "provider", ProviderSMTP, "recipients", len(msg.Recipients()))
	return nil
}

func (p *SMTPProvider) deliver(ctx context.Context, addr string, auth smtp.Auth, from string, to []string, raw []byte) error {
	conn, err := p.dial(ctx, addr)
	if err != nil {
		return err
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	// net/smtp has no context support; closing the connection unblocks it.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	client, err := smtp.NewClient(conn, p.cfg.Host)
	if err != nil {
		return err
	}
	defer client.Close()

	if !p.implicitTLS() {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(p.tlsConfig()); err != nil {
				return err
			}
		} else if p.cfg.EnableTLS {
			return fmt.Errorf("smtp server %s does not support STARTTLS", addr)
		}
	}
	if auth != nil {
		if err := client.Auth(auth); err != nil {
			return err
		}
	}
	if err := client.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return err
		}
	}
	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(raw); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return client.Quit()
}

func (p *SMTPProvider) dial(ctx context.Context, addr string) (net.Conn, error) {
	if p.implicitTLS() {
		dialer := &tls.Dialer{Config: p.tlsConfig()}
		return dialer.DialContext(ctx, "tcp", addr)
	}
	var dialer net.Dialer
	return dialer.DialContext(ctx, "tcp", addr)
}

func (p *SMTPProvider) implicitTLS() bool {
	return p.cfg.EnableTLS && p.cfg.Port == 465
}

func (p *SMTPProvider) tlsConfig() *tls.Config {
	return &tls.Config{
		ServerName:         p.cfg.Host,
		InsecureSkipVerify: p.cfg.InsecureSkipVerify, //nolint:gosec // opt-in for test relays
		MinVersion:         tls.VersionTLS12,
	}
}

// Close releases provider resources.
func (p *SMTPProvider) Close() error {
	return nil
}

func buildMIMEMessage(msg Message) []byte {
	var b strings.Builder
	b.WriteString("From: " + msg.From + "\r\n")
	if len(msg.To) > 0 {
		b.WriteString("To: " + strings.Join(msg.To, ", ") + "\r\n")
	}
	if len(msg.Cc) > 0 {
		b.WriteString("Cc: " + strings.Join(msg.Cc, ", ") + "\r\n")
	}
	if msg.ReplyTo != "" {
		b.WriteString("Reply-To: " + msg.ReplyTo + "\r\n")
	}
	b.WriteString("Subject: " + msg.Subject + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")

	keys := make([]string, 0, len(msg.Headers))
	for k := range msg.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		key := strings.TrimSpace(k)
		value := strings.TrimSpace(msg.Headers[k])
		if key == "" || value == "" || strings.ContainsAny(key+value, "\r\n") {
			continue
		}
		b.WriteString(key + ": " + value + "\r\n")
	}

	text := strings.TrimSpace(msg.TextBody)
	html := strings.TrimSpace(msg.HTMLBody)
	switch {
	case text != "" && html != "":
		boundary := "mailqueue-" + uuid.NewString()
		b.WriteString("Content-Type: multipart/alternative; boundary=" + boundary + "\r\n\r\n")
		b.WriteString("--" + boundary + "\r\n")
		b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
		b.WriteString(text + "\r\n")
		b.WriteString("--" + boundary + "\r\n")
		b.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
		b.WriteString(html + "\r\n")
		b.WriteString("--" + boundary + "--\r\n")
	case html != "":
		b.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
		b.WriteString(html)
	default:
		b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
		b.WriteString(text)
	}
	return []byte(b.String())
}
