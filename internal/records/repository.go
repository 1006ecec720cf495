package records

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound        = errors.New("records: not found")
	ErrInvalidArgument = errors.New("records: invalid argument")
)

type ConversationStore interface {
	CreateConversation(ctx context.Context, startedAt time.Time) (Conversation, error)
	// CompleteConversation is idempotent: completing a completed conversation returns it unchanged.
	CompleteConversation(ctx context.Context, id string, endedAt time.Time) (Conversation, error)
	SetConversationCustomer(ctx context.Context, id, name string) error
	GetConversation(ctx context.Context, id string) (Conversation, error)
	ListConversations(ctx context.Context, f ConversationFilter) ([]Conversation, error)
}

type ReservationStore interface {
	CreateReservation(ctx context.Context, r NewReservation) (Reservation, error)
	GetReservation(ctx context.Context, id string) (Reservation, error)
	// ListReservations orders by date then time, earliest first.
	ListReservations(ctx context.Context, f ReservationFilter) ([]Reservation, error)
	UpdateReservationStatus(ctx context.Context, id string, status ReservationStatus) (Reservation, error)
}

type AgentConfigStore interface {
	// GetAgentConfig returns ErrNotFound when the restaurant has not been configured yet.
	GetAgentConfig(ctx context.Context) (AgentConfig, error)
	UpsertAgentConfig(ctx context.Context, c AgentConfig) (AgentConfig, error)
}

// Repository is the full record store used by the API process.
type Repository interface {
	ConversationStore
	ReservationStore
	AgentConfigStore
}

func validateNewReservation(r NewReservation) error {
	if r.Name == "" || r.Email == "" || r.Date == "" || r.Time == "" {
		return ErrInvalidArgument
	}
	if r.Guests <= 0 {
		return ErrInvalidArgument
	}
	if r.Status != "" && !r.Status.Valid() {
		return ErrInvalidArgument
	}
	return nil
}
