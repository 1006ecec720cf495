package reporting

import "time"

// TimeRange bounds a report. A zero bound is open.
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

func (r TimeRange) contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && !t.Before(r.To) {
		return false
	}
	return true
}

type ConversationsSummary struct {
	Total     int `json:"total"`
	Active    int `json:"active"`
	Completed int `json:"completed"`

	TotalDurationSeconds   int `json:"total_duration_seconds"`
	AverageDurationSeconds int `json:"average_duration_seconds"`

	// IdentifiedCallers counts conversations where the caller gave a name.
	IdentifiedCallers int `json:"identified_callers"`
}

type ReservationsSummary struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Confirmed int `json:"confirmed"`
	Cancelled int `json:"cancelled"`

	// GuestsBooked sums party sizes of non-cancelled reservations.
	GuestsBooked int `json:"guests_booked"`
	// FromCalls counts reservations taken by the voice agent.
	FromCalls int `json:"from_calls"`
}

// Stats is the dashboard overview.
type Stats struct {
	Range         TimeRange            `json:"range"`
	Conversations ConversationsSummary `json:"conversations"`
	Reservations  ReservationsSummary  `json:"reservations"`

	// BookingRate is the share of conversations that produced a reservation.
	BookingRate float64 `json:"booking_rate"`
}
