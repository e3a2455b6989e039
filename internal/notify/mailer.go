package notify

import (
	"context"
	"errors"
	"fmt"
	"net/textproto"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/wneessen/go-mail"
	"go.uber.org/zap"
)

var (
	ErrUndeliverable = errors.New("notification undeliverable")
	// ErrRejected marks failures that cannot succeed on retry: bad addresses,
	// refused credentials, and other 5xx SMTP replies.
	ErrRejected = errors.New("mail rejected")
)

type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

type SMTPConfig struct {
	Host     string
	Port     int
	Account  string
	Password string
	Timeout  time.Duration
}

// SMTPMailer relays plain-text mail through an implicit-TLS SMTP server,
// authenticating as the scheduler's holder account.
type SMTPMailer struct {
	cfg SMTPConfig
}

func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	if strings.TrimSpace(cfg.Host) == "" {
		cfg.Host = "smtp.qq.com"
	}
	if cfg.Port <= 0 {
		cfg.Port = 465
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &SMTPMailer{cfg: cfg}
}

func (m *SMTPMailer) Send(ctx context.Context, to, subject, body string) error {
	msg := mail.NewMsg()
	if err := msg.From(m.cfg.Account); err != nil {
		return fmt.Errorf("%w: set sender %q: %w", ErrRejected, m.cfg.Account, err)
	}
	if err := msg.To(to); err != nil {
		return fmt.Errorf("%w: set recipient %q: %w", ErrRejected, to, err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)

	client, err := mail.NewClient(m.cfg.Host,
		mail.WithPort(m.cfg.Port),
		mail.WithSSL(),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(m.cfg.Account),
		mail.WithPassword(m.cfg.Password),
		mail.WithTimeout(m.cfg.Timeout),
	)
	if err != nil {
		return fmt.Errorf("%w: create smtp client: %w", ErrRejected, err)
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		if permanentSMTPFailure(err) {
			return fmt.Errorf("%w: send mail to %s: %w", ErrRejected, to, err)
		}
		return fmt.Errorf("send mail to %s: %w", to, err)
	}
	return nil
}

// permanentSMTPFailure reports 5xx replies, which covers refused
// authentication (535) and unknown recipients (550).
func permanentSMTPFailure(err error) bool {
	var reply *textproto.Error
	if errors.As(err, &reply) {
		return reply.Code >= 500 && reply.Code < 600
	}
	return false
}

type RetryConfig struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// RetryMailer retries a failing Mailer with exponential backoff and gives up
// with ErrUndeliverable after a fixed number of attempts.
type RetryMailer struct {
	next   Mailer
	cfg    RetryConfig
	logger *zap.Logger
}

func NewRetryMailer(next Mailer, cfg RetryConfig, logger *zap.Logger) *RetryMailer {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 5
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 500 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 10 * time.Second
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetryMailer{next: next, cfg: cfg, logger: logger}
}

func (m *RetryMailer) Send(ctx context.Context, to, subject, body string) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = m.cfg.BaseDelay
	policy.MaxInterval = m.cfg.MaxDelay
	policy.MaxElapsedTime = 0

	attempt := 0
	err := backoff.RetryNotify(
		func() error {
			attempt++
			err := m.next.Send(ctx, to, subject, body)
			if errors.Is(err, ErrRejected) {
				return backoff.Permanent(err)
			}
			return err
		},
		backoff.WithContext(backoff.WithMaxRetries(policy, uint64(m.cfg.Attempts-1)), ctx),
		func(err error, wait time.Duration) {
			m.logger.Warn("mail send failed, retrying",
				zap.String("to", to),
				zap.String("subject", subject),
				zap.Int("attempt", attempt),
				zap.Duration("wait", wait),
				zap.Error(err))
		},
	)
	if err != nil {
		return fmt.Errorf("%w after %d attempts: %w", ErrUndeliverable, attempt, err)
	}
	return nil
}
