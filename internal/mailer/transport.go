// Package mailer renders application emails and submits them over SMTP.
package mailer

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/blockedby/prospect-os/internal/config"
	"github.com/blockedby/prospect-os/internal/logger"
)

// ErrNotConfigured is returned when no sender credentials are set.
var ErrNotConfigured = errors.New("smtp transport not configured")

// Message is one email to submit.
type Message struct {
	To         string
	Subject    string
	HTMLBody   string
	Attachment string // path on disk, optional
}

// Result is the outcome of one submission. Exactly one of MessageID and
// Error is set.
type Result struct {
	Success   bool   `json:"success"`
	MessageID string `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

func failed(err error) Result {
	return Result{Error: err.Error()}
}

// Transport submits messages. Failures are reported in the Result, never
// as a panic or a separate error.
type Transport interface {
	Send(ctx context.Context, msg Message) Result
}

// Provider presets.
const (
	ProviderGmail   = "gmail"
	ProviderOutlook = "outlook"
	ProviderCustom  = "custom"
)

// Settings configures an SMTPTransport.
type Settings struct {
	Provider    string
	Host        string
	Port        int
	Username    string
	Password    string
	From        string
	FromName    string
	ImplicitTLS bool
	Timeout     time.Duration
	// InsecureSkipVerify is only meant for local test servers.
	InsecureSkipVerify bool
}

// SettingsFromConfig reads SMTP settings from the application config.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		Provider:    cfg.SMTPType,
		Host:        cfg.SMTPHost,
		Port:        cfg.SMTPPort,
		Username:    cfg.SMTPUsername,
		Password:    cfg.SMTPPassword,
		From:        cfg.SMTPFrom,
		FromName:    cfg.SMTPFromName,
		ImplicitTLS: cfg.SMTPImplicitTLS,
		Timeout:     30 * time.Second,
	}
}

// resolve applies the provider preset. Custom keeps host and port as given.
func (s Settings) resolve() (Settings, error) {
	switch s.Provider {
	case ProviderGmail, "":
		s.Host, s.Port, s.ImplicitTLS = "smtp.gmail.com", 587, false
	case ProviderOutlook:
		s.Host, s.Port, s.ImplicitTLS = "smtp.office365.com", 587, false
	case ProviderCustom:
		if s.Host == "" {
			return s, fmt.Errorf("custom smtp provider requires a host")
		}
		if s.Port == 0 {
			s.Port = 587
		}
	default:
		return s, fmt.Errorf("unsupported smtp provider %q", s.Provider)
	}
	if s.From == "" {
		s.From = s.Username
	}
	if s.FromName == "" {
		s.FromName = "Candidature"
	}
	if s.Timeout <= 0 {
		s.Timeout = 30 * time.Second
	}
	return s, nil
}

// SMTPTransport submits messages through one SMTP relay, opening a fresh
// connection per message.
type SMTPTransport struct {
	settings Settings
	log      *logger.Logger
	now      func() time.Time
}

// NewSMTPTransport validates settings and applies the provider preset.
func NewSMTPTransport(settings Settings, log *logger.Logger) (*SMTPTransport, error) {
	if settings.Username == "" && settings.From == "" {
		return nil, ErrNotConfigured
	}
	resolved, err := settings.resolve()
	if err != nil {
		return nil, err
	}
	return &SMTPTransport{
		settings: resolved,
		log:      log.Component("mailer"),
		now:      time.Now,
	}, nil
}

// Settings returns the resolved settings with the password cleared.
func (t *SMTPTransport) Settings() Settings {
	s := t.settings
	s.Password = ""
	return s
}

// Addr is the relay host:port.
func (t *SMTPTransport) Addr() string {
	return net.JoinHostPort(t.settings.Host, strconv.Itoa(t.settings.Port))
}

// Send builds the MIME message and submits it.
func (t *SMTPTransport) Send(ctx context.Context, msg Message) Result {
	raw, id, err := Build(Envelope{
		FromName: t.settings.FromName,
		From:     t.settings.From,
		To:       msg.To,
		Subject:  msg.Subject,
		Date:     t.now(),
	}, msg.HTMLBody, msg.Attachment)
	if err != nil {
		t.log.Error().Err(err).Str("to", msg.To).Msg("failed to build message")
		return failed(err)
	}

	c, err := t.dial(ctx)
	if err != nil {
		t.log.Error().Err(err).Str("to", msg.To).Msg("smtp connection failed")
		return failed(err)
	}
	defer c.Close()

	if err := c.SendMail(t.settings.From, []string{msg.To}, bytes.NewReader(raw)); err != nil {
		t.log.Error().Err(err).Str("to", msg.To).Msg("smtp submission failed")
		return failed(fmt.Errorf("send to %s: %w", msg.To, err))
	}
	_ = c.Quit()

	t.log.Info().Str("to", msg.To).Str("message_id", id).Msg("email sent")
	return Result{Success: true, MessageID: id}
}

// Verify opens a connection, negotiates TLS and authenticates without
// sending anything.
func (t *SMTPTransport) Verify(ctx context.Context) error {
	c, err := t.dial(ctx)
	if err != nil {
		return err
	}
	defer c.Close()
	if err := c.Noop(); err != nil {
		return fmt.Errorf("smtp noop: %w", err)
	}
	return c.Quit()
}

func (t *SMTPTransport) dial(ctx context.Context) (*smtp.Client, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, t.settings.Timeout)
	defer cancel()

	tlsConfig := &tls.Config{
		ServerName:         t.settings.Host,
		InsecureSkipVerify: t.settings.InsecureSkipVerify, //nolint:gosec // test relays only
	}

	var (
		c   *smtp.Client
		err error
	)
	if t.settings.ImplicitTLS {
		c, err = smtp.DialTLS(t.Addr(), tlsConfig)
	} else {
		c, err = smtp.Dial(t.Addr())
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", t.Addr(), err)
	}

	// closing the client unblocks any pending read once ctx ends
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	if err := c.Hello("localhost"); err != nil {
		c.Close()
		return nil, fmt.Errorf("smtp hello: %w", err)
	}

	if !t.settings.ImplicitTLS {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(tlsConfig); err != nil {
				c.Close()
				return nil, fmt.Errorf("smtp starttls: %w", err)
			}
		}
	}

	if t.settings.Username != "" {
		auth := sasl.NewPlainClient("", t.settings.Username, t.settings.Password)
		if err := c.Auth(auth); err != nil {
			c.Close()
			return nil, fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := ctx.Err(); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}
