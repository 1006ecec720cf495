// Package notify delivers reservation confirmations to guests.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"time"
)

// Confirmation holds the display fields of a booked reservation.
// Date is YYYY-MM-DD and Time is HH:MM or HH:MM:SS.
type Confirmation struct {
	Name           string
	Email          string
	Date           string
	Time           string
	Guests         int
	RestaurantName string
}

// Sender delivers a confirmation. Callers treat failures as non-fatal.
type Sender interface {
	SendReservationConfirmation(ctx context.Context, c Confirmation) error
}

// LogSender records confirmations in the log instead of sending them.
// Used when no email provider is configured.
type LogSender struct {
	Log *slog.Logger
}

func (s LogSender) SendReservationConfirmation(ctx context.Context, c Confirmation) error {
	log := s.Log
	if log == nil {
		log = slog.Default()
	}
	log.Info("reservation confirmation not emailed: no provider configured",
		"email", c.Email, "date", c.Date, "time", c.Time, "guests", c.Guests)
	return nil
}

type message struct {
	Subject string
	HTML    string
	Text    string
}

var confirmationTmpl = template.Must(template.New("confirmation").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #333;">
  <div style="max-width: 600px; margin: 0 auto; padding: 20px;">
    <h1 style="color: #2c3e50;">Reservation Confirmed</h1>
    <p>Dear {{.Name}},</p>
    <p>Thank you for your reservation at <strong>{{.Restaurant}}</strong>. Here are your booking details:</p>
    <div style="background: #f8f9fa; padding: 15px; border-radius: 5px; margin: 20px 0;">
      <p><strong>Date:</strong> {{.Date}}</p>
      <p><strong>Time:</strong> {{.Time}}</p>
      <p><strong>Party size:</strong> {{.Party}}</p>
    </div>
    <p>If you need to change or cancel your reservation, please give us a call.</p>
    <p>We look forward to seeing you!</p>
    <p>Best regards,<br>{{.Restaurant}}</p>
  </div>
</body>
</html>
`))

func restaurantOrDefault(name string) string {
	if name == "" {
		return "Restaurant"
	}
	return name
}

// DisplayDate renders YYYY-MM-DD as "Saturday, March 1, 2025". Unparseable input is returned unchanged.
func DisplayDate(date string) string {
	t, err := time.Parse("2006-01-02", date)
	if err != nil {
		return date
	}
	return t.Format("Monday, January 2, 2006")
}

// DisplayTime renders 24h HH:MM[:SS] as "7:30 PM". Unparseable input is returned unchanged.
func DisplayTime(clock string) string {
	for _, layout := range []string{"15:04:05", "15:04"} {
		if t, err := time.Parse(layout, clock); err == nil {
			return t.Format("3:04 PM")
		}
	}
	return clock
}

// PartySize renders "1 person" or "N people".
func PartySize(guests int) string {
	if guests == 1 {
		return "1 person"
	}
	return fmt.Sprintf("%d people", guests)
}

func renderConfirmation(c Confirmation) (message, error) {
	restaurant := restaurantOrDefault(c.RestaurantName)
	data := struct {
		Name, Restaurant, Date, Time, Party string
	}{
		Name:       c.Name,
		Restaurant: restaurant,
		Date:       DisplayDate(c.Date),
		Time:       DisplayTime(c.Time),
		Party:      PartySize(c.Guests),
	}

	var buf bytes.Buffer
	if err := confirmationTmpl.Execute(&buf, data); err != nil {
		return message{}, fmt.Errorf("render confirmation: %w", err)
	}
	return message{
		Subject: "Reservation Confirmation - " + restaurant,
		HTML:    buf.String(),
		Text: fmt.Sprintf("Dear %s, your reservation at %s on %s at %s for %s is confirmed.",
			data.Name, restaurant, data.Date, data.Time, data.Party),
	}, nil
}
