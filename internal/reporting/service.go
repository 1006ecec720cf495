package reporting

import (
	"context"
	"errors"

	"voice-agent-platform/internal/records"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository is the read side of the record store.
//
// Reports cover the most recent rows the store returns for one listing
// (records caps listings at 1000).
type Repository interface {
	ListConversations(ctx context.Context, f records.ConversationFilter) ([]records.Conversation, error)
	ListReservations(ctx context.Context, f records.ReservationFilter) ([]records.Reservation, error)
}

const reportLimit = 1000

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

func validRange(r TimeRange) bool {
	return r.From.IsZero() || r.To.IsZero() || r.To.After(r.From)
}

func (s *Service) ConversationsSummary(ctx context.Context, r TimeRange) (ConversationsSummary, error) {
	if !validRange(r) {
		return ConversationsSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return ConversationsSummary{}, errors.New("reporting: repository not configured")
	}
	rows, err := s.repo.ListConversations(ctx, records.ConversationFilter{Limit: reportLimit})
	if err != nil {
		return ConversationsSummary{}, err
	}
	return summarizeConversations(rows, r), nil
}

func summarizeConversations(rows []records.Conversation, r TimeRange) ConversationsSummary {
	var out ConversationsSummary
	for _, c := range rows {
		if !r.contains(c.StartedAt) {
			continue
		}
		out.Total++
		switch c.Status {
		case records.ConversationActive:
			out.Active++
		case records.ConversationCompleted:
			out.Completed++
			if c.DurationSeconds != nil {
				out.TotalDurationSeconds += *c.DurationSeconds
			}
		}
		if c.CustomerName != nil && *c.CustomerName != "" {
			out.IdentifiedCallers++
		}
	}
	if out.Completed > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / out.Completed
	}
	return out
}

func (s *Service) ReservationsSummary(ctx context.Context, r TimeRange) (ReservationsSummary, error) {
	if !validRange(r) {
		return ReservationsSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return ReservationsSummary{}, errors.New("reporting: repository not configured")
	}
	rows, err := s.repo.ListReservations(ctx, records.ReservationFilter{Limit: reportLimit})
	if err != nil {
		return ReservationsSummary{}, err
	}
	return summarizeReservations(rows, r), nil
}

func summarizeReservations(rows []records.Reservation, r TimeRange) ReservationsSummary {
	var out ReservationsSummary
	for _, res := range rows {
		if !r.contains(res.CreatedAt) {
			continue
		}
		out.Total++
		switch res.Status {
		case records.ReservationPending:
			out.Pending++
		case records.ReservationConfirmed:
			out.Confirmed++
		case records.ReservationCancelled:
			out.Cancelled++
		}
		if res.Status != records.ReservationCancelled {
			out.GuestsBooked += res.Guests
		}
		if res.ConversationID != nil {
			out.FromCalls++
		}
	}
	return out
}

// Stats builds the dashboard overview for r.
func (s *Service) Stats(ctx context.Context, r TimeRange) (Stats, error) {
	conv, err := s.ConversationsSummary(ctx, r)
	if err != nil {
		return Stats{}, err
	}
	res, err := s.ReservationsSummary(ctx, r)
	if err != nil {
		return Stats{}, err
	}
	out := Stats{Range: r, Conversations: conv, Reservations: res}
	if conv.Total > 0 {
		out.BookingRate = float64(res.FromCalls) / float64(conv.Total)
	}
	return out, nil
}
