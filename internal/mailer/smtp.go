package mailer

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/wneessen/go-mail"
)

// Envelope is a provider-neutral outgoing message.
type Envelope struct {
	FromName    string
	FromAddress string
	To          []string
	Cc          []string
	Bcc         []string
	Subject     string
	Text        string
	HTML        string
	Attachments []string
}

// Sender delivers an envelope.
type Sender interface {
	Send(ctx context.Context, env *Envelope) error
}

type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Timeout  time.Duration
}

// SMTPSender delivers mail over SMTP. Port 465 uses implicit TLS; other
// ports upgrade with STARTTLS when the server offers it.
type SMTPSender struct {
	cfg SMTPConfig
}

func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &SMTPSender{cfg: cfg}
}

func (s *SMTPSender) Send(ctx context.Context, env *Envelope) error {
	msg, err := buildMsg(env)
	if err != nil {
		return err
	}

	opts := []mail.Option{
		mail.WithPort(s.cfg.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(s.cfg.User),
		mail.WithPassword(s.cfg.Password),
		mail.WithTimeout(s.cfg.Timeout),
	}
	if s.cfg.Port == 465 {
		opts = append(opts, mail.WithSSL())
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
	}

	client, err := mail.NewClient(s.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("create smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send mail %q: %w", env.Subject, err)
	}
	return nil
}

func buildMsg(env *Envelope) (*mail.Msg, error) {
	if len(env.To) == 0 {
		return nil, fmt.Errorf("build mail: no recipients")
	}

	msg := mail.NewMsg()
	if err := msg.FromFormat(env.FromName, env.FromAddress); err != nil {
		return nil, fmt.Errorf("set from: %w", err)
	}
	if err := msg.To(env.To...); err != nil {
		return nil, fmt.Errorf("set to: %w", err)
	}
	if len(env.Cc) > 0 {
		if err := msg.Cc(env.Cc...); err != nil {
			return nil, fmt.Errorf("set cc: %w", err)
		}
	}
	if len(env.Bcc) > 0 {
		if err := msg.Bcc(env.Bcc...); err != nil {
			return nil, fmt.Errorf("set bcc: %w", err)
		}
	}
	msg.Subject(env.Subject)

	switch {
	case env.Text != "" && env.HTML != "":
		msg.SetBodyString(mail.TypeTextPlain, env.Text)
		msg.AddAlternativeString(mail.TypeTextHTML, env.HTML)
	case env.HTML != "":
		msg.SetBodyString(mail.TypeTextHTML, env.HTML)
	default:
		msg.SetBodyString(mail.TypeTextPlain, env.Text)
	}

	for _, path := range env.Attachments {
		msg.AttachFile(path, mail.WithFileName(filepath.Base(path)))
	}
	return msg, nil
}
