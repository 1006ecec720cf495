package notify

import (
	"context"
	"strings"
	"testing"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

type fakeMailClient struct {
	status int
	sent   []*mail.SGMailV3
}

func (f *fakeMailClient) SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error) {
	f.sent = append(f.sent, email)
	return &rest.Response{StatusCode: f.status, Body: "{}"}, nil
}

func TestRenderConfirmation(t *testing.T) {
	msg, err := renderConfirmation(Confirmation{
		Name:           "Alice",
		Email:          "alice@example.com",
		Date:           "2025-03-01",
		Time:           "19:30:00",
		Guests:         1,
		RestaurantName: "Luigi's",
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if msg.Subject != "Reservation Confirmation - Luigi's" {
		t.Fatalf("unexpected subject %q", msg.Subject)
	}
	for _, want := range []string{"Saturday, March 1, 2025", "7:30 PM", "1 person", "Luigi&#39;s"} {
		if !strings.Contains(msg.HTML, want) {
			t.Fatalf("expected %q in html", want)
		}
	}
}

func TestRenderConfirmationFallsBackToGenericName(t *testing.T) {
	msg, _ := renderConfirmation(Confirmation{Name: "Bob", Date: "2025-03-01", Time: "18:00", Guests: 4})
	if msg.Subject != "Reservation Confirmation - Restaurant" || !strings.Contains(msg.HTML, "4 people") {
		t.Fatalf("unexpected message %+v", msg)
	}
}

func TestSendGridSender(t *testing.T) {
	fake := &fakeMailClient{status: 202}
	s := &SendGridSender{client: fake, from: "bookings@example.com"}

	err := s.SendReservationConfirmation(context.Background(), Confirmation{
		Name: "Alice", Email: "alice@example.com", Date: "2025-03-01", Time: "19:30:00", Guests: 2, RestaurantName: "Luigi's",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(fake.sent) != 1 {
		t.Fatalf("expected one email")
	}
	if fake.sent[0].From.Name != "Luigi's" || fake.sent[0].From.Address != "bookings@example.com" {
		t.Fatalf("unexpected from %+v", fake.sent[0].From)
	}
}

func TestSendGridSenderNon2xxIsError(t *testing.T) {
	s := &SendGridSender{client: &fakeMailClient{status: 401}, from: "bookings@example.com"}
	if err := s.SendReservationConfirmation(context.Background(), Confirmation{Name: "A", Email: "a@example.com"}); err == nil {
		t.Fatalf("expected error")
	}
}
