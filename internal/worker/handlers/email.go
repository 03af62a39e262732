package handlers

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nadmax/neurosched/internal/task"
	"github.com/rs/zerolog"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

type Mailer interface {
	Send(to, subject, body string) error
}

type SendGridMailer struct {
	client      *sendgrid.Client
	fromName    string
	fromAddress string
}

func NewSendGridMailer(apiKey, fromName, fromAddress string) *SendGridMailer {
	return &SendGridMailer{
		client:      sendgrid.NewSendClient(apiKey),
		fromName:    fromName,
		fromAddress: fromAddress,
	}
}

func (m *SendGridMailer) message(to, subject, body string) *mail.SGMailV3 {
	from := mail.NewEmail(m.fromName, m.fromAddress)
	toEmail := mail.NewEmail("", to)
	return mail.NewSingleEmail(from, subject, toEmail, body, body)
}

func (m *SendGridMailer) Send(to, subject, body string) error {
	response, err := m.client.Send(m.message(to, subject, body))
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	if response.StatusCode >= 400 {
		return fmt.Errorf("sendgrid error: status %d", response.StatusCode)
	}

	return nil
}

type emailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

func EmailFactory(mailer Mailer, logger zerolog.Logger) Factory {
	return func(payload json.RawMessage) (task.WorkFunc, error) {
		var p emailPayload
		if err := decodePayload(payload, &p); err != nil {
			return nil, err
		}

		switch {
		case p.To == "":
			return nil, errors.New("missing 'to' field")
		case p.Subject == "":
			return nil, errors.New("missing 'subject' field")
		case p.Body == "":
			return nil, errors.New("missing 'body' field")
		}

		return func() error {
			if err := mailer.Send(p.To, p.Subject, p.Body); err != nil {
				return err
			}
			logger.Info().Str("to", p.To).Msg("email sent")
			return nil
		}, nil
	}
}
