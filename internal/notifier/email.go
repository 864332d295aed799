package notifier

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/gomail.v2"

	"QDIIRadar/internal/config"
	"QDIIRadar/internal/model"
)

// ErrNotConfigured is returned when SMTP host, user or sender are missing.
var ErrNotConfigured = errors.New("smtp not configured")

// SettingsReader loads the current typed settings.
type SettingsReader interface {
	Settings(ctx context.Context) (config.Settings, error)
}

// EmailConfig holds the SMTP account used for alerts.
type EmailConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
	FromName string
}

// EmailNotifier sends HTML alert emails through SMTP with STARTTLS.
type EmailNotifier struct {
	cfg      EmailConfig
	settings SettingsReader

	MaxRetries int
	Backoff    time.Duration

	send func(m *gomail.Message) error
	now  func() time.Time
}

// NewEmailNotifier creates a notifier. Delivery is skipped while smtp_enabled is false.
func NewEmailNotifier(cfg EmailConfig, settings SettingsReader) *EmailNotifier {
	if cfg.FromName == "" {
		cfg.FromName = brand
	}
	if cfg.From == "" {
		cfg.From = cfg.User
	}
	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Password)
	d.TLSConfig = &tls.Config{ServerName: cfg.Host}
	return &EmailNotifier{
		cfg:        cfg,
		settings:   settings,
		MaxRetries: 2,
		Backoff:    time.Second,
		send:       func(m *gomail.Message) error { return d.DialAndSend(m) },
		now:        time.Now,
	}
}

func (n *EmailNotifier) configured() bool {
	return n.cfg.Host != "" && n.cfg.User != "" && n.cfg.From != ""
}

func (n *EmailNotifier) SendPremiumHighAlert(ctx context.Context, a *model.Alert, to []string) bool {
	return n.deliver(ctx, a, to)
}

func (n *EmailNotifier) SendPremiumLowAlert(ctx context.Context, a *model.Alert, to []string) bool {
	return n.deliver(ctx, a, to)
}

func (n *EmailNotifier) SendLimitChangeAlert(ctx context.Context, a *model.Alert, to []string) bool {
	return n.deliver(ctx, a, to)
}

func (n *EmailNotifier) SendLimitHighAlert(ctx context.Context, a *model.Alert, to []string) bool {
	return n.deliver(ctx, a, to)
}

func (n *EmailNotifier) deliver(ctx context.Context, a *model.Alert, to []string) bool {
	l := log.With().Str("fund", a.FundCode).Str("type", string(a.Type)).Logger()
	if len(to) == 0 {
		l.Warn().Msg("no recipients for alert")
		return false
	}
	if !n.configured() {
		l.Warn().Msg("smtp not configured, skip email")
		return false
	}
	s, err := n.settings.Settings(ctx)
	if err != nil {
		l.Error().Err(err).Msg("cannot read smtp_enabled, skip email")
		return false
	}
	if !s.EmailEnabled {
		l.Info().Msg("email notifications disabled")
		return false
	}

	at := n.now()
	m := n.message(to, Subject(a))
	m.SetBody("text/plain", EmailText(a, at))
	m.AddAlternative("text/html", EmailHTML(a, at))

	if err := n.sendWithRetry(ctx, m); err != nil {
		l.Error().Err(err).Strs("to", to).Msg("alert email failed")
		return false
	}
	l.Info().Strs("to", to).Msg("alert email sent")
	return true
}

// SendTest sends a connectivity check email regardless of smtp_enabled.
func (n *EmailNotifier) SendTest(ctx context.Context, to []string) error {
	if !n.configured() {
		return ErrNotConfigured
	}
	if len(to) == 0 {
		return fmt.Errorf("no recipients")
	}
	m := n.message(to, "[QDII Radar] 测试邮件")
	m.SetBody("text/html", TestEmailHTML(n.now()))
	if err := n.sendWithRetry(ctx, m); err != nil {
		return err
	}
	log.Info().Strs("to", to).Msg("test email sent")
	return nil
}

func (n *EmailNotifier) message(to []string, subject string) *gomail.Message {
	m := gomail.NewMessage()
	m.SetHeader("From", m.FormatAddress(n.cfg.From, n.cfg.FromName))
	m.SetHeader("To", to...)
	m.SetHeader("Subject", subject)
	return m
}

// sendWithRetry retries with exponential backoff starting at n.Backoff.
func (n *EmailNotifier) sendWithRetry(ctx context.Context, m *gomail.Message) error {
	var lastErr error
	for i := 0; i <= n.MaxRetries; i++ {
		err := n.send(m)
		if err == nil {
			return nil
		}
		lastErr = err
		if i == n.MaxRetries {
			break
		}
		backoff := n.Backoff * time.Duration(1<<uint(i))
		log.Warn().Err(err).Int("attempt", i+1).Dur("retry_in", backoff).Msg("smtp send failed")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return fmt.Errorf("all %d attempts failed: %w", n.MaxRetries+1, lastErr)
}
