package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/otherjamesbrown/meetcap/pkg/logging"
)

// Email is an outgoing HTML message.
type Email struct {
	To      string
	Subject string
	HTML    string
}

// MailConfig holds SMTP settings.
type MailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	Sender   string
	// SSL uses implicit TLS (SMTPS) instead of STARTTLS.
	SSL     bool
	Timeout time.Duration
}

// Validate checks required fields.
func (c MailConfig) Validate() error {
	if c.Host == "" {
		return errors.New("mail host is required")
	}
	if c.Sender == "" {
		return errors.New("mail sender is required")
	}
	if c.Port <= 0 {
		return errors.New("mail port must be positive")
	}
	return nil
}

// Mailer sends email through an SMTP relay.
type Mailer struct {
	client *mail.Client
	sender string
	logger logging.Logger
}

// NewMailer creates an SMTP mailer. No connection is made until Send.
func NewMailer(cfg MailConfig, logger logging.Logger) (*Mailer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if cfg.SSL {
		opts = append(opts, mail.WithSSL())
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	if cfg.Timeout > 0 {
		opts = append(opts, mail.WithTimeout(cfg.Timeout))
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create mail client: %w", err)
	}

	return &Mailer{
		client: client,
		sender: cfg.Sender,
		logger: logger.With(logging.F("component", "mailer")),
	}, nil
}

// Send delivers one message.
func (m *Mailer) Send(ctx context.Context, e Email) error {
	msg := mail.NewMsg()
	if err := msg.From(m.sender); err != nil {
		return fmt.Errorf("invalid sender: %w", err)
	}
	if err := msg.To(e.To); err != nil {
		return fmt.Errorf("invalid recipient %q: %w", e.To, err)
	}
	msg.Subject(e.Subject)
	msg.SetBodyString(mail.TypeTextHTML, e.HTML)

	if err := m.client.DialAndSendWithContext(ctx, msg); err != nil {
		m.logger.Error("Failed to send email", logging.F("to", e.To), logging.Err(err))
		return fmt.Errorf("failed to send email to %s: %w", e.To, err)
	}

	m.logger.Info("Email sent", logging.F("to", e.To), logging.F("subject", e.Subject))
	return nil
}

// MeetingLink returns the frontend page of a meeting.
func MeetingLink(frontendURL string, meetingID int64) string {
	return fmt.Sprintf("%s/meetings/%d", strings.TrimRight(frontendURL, "/"), meetingID)
}

// ReportReadyEmail builds the message telling the owner their report is ready.
func (rd *Renderer) ReportReadyEmail(to, meetingName, link string) (Email, error) {
	body := fmt.Sprintf(`Bonjour,

Le relevé de décisions de votre réunion %s est prêt.

[Accéder à la page de la réunion](%s) pour le télécharger.

Merci d'utiliser notre service.

Cordialement,

L'équipe France Compte Rendu
`, mdEscape(meetingName), link)

	html, err := rd.Fragment(body)
	if err != nil {
		return Email{}, err
	}

	return Email{
		To:      to,
		Subject: fmt.Sprintf("Votre compte rendu de la réunion %s est prêt", meetingName),
		HTML:    string(html),
	}, nil
}
