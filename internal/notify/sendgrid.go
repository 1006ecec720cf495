package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

type mailClient interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// SendGridSender emails confirmations through the SendGrid v3 API.
type SendGridSender struct {
	client mailClient
	from   string
}

func NewSendGridSender(apiKey, fromAddress string) *SendGridSender {
	return &SendGridSender{client: sendgrid.NewSendClient(apiKey), from: fromAddress}
}

func (s *SendGridSender) SendReservationConfirmation(ctx context.Context, c Confirmation) error {
	if c.Email == "" {
		return errors.New("notify: recipient email required")
	}
	msg, err := renderConfirmation(c)
	if err != nil {
		return err
	}

	from := mail.NewEmail(restaurantOrDefault(c.RestaurantName), s.from)
	to := mail.NewEmail(c.Name, c.Email)
	email := mail.NewSingleEmail(from, msg.Subject, to, msg.Text, msg.HTML)

	resp, err := s.client.SendWithContext(ctx, email)
	if err != nil {
		return fmt.Errorf("sendgrid send: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("sendgrid send: status %d: %s", resp.StatusCode, resp.Body)
	}
	return nil
}
