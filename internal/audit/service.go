package audit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only; no Update/Delete methods are provided.
type Repository interface {
	Append(ctx context.Context, e Event) error
	// List returns the newest events first.
	List(ctx context.Context, limit int) ([]Event, error)
}

// Service records dashboard mutations. Callers treat it as best-effort.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}
	if e.TargetID != "" && e.TargetTable == "" {
		return ErrInvalidEvent
	}
	if e.Metadata != "" && !json.Valid([]byte(e.Metadata)) {
		return ErrInvalidEvent
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

func (s *Service) List(ctx context.Context, limit int) ([]Event, error) {
	if s.repo == nil {
		return nil, errors.New("audit: repository not configured")
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return s.repo.List(ctx, limit)
}

// LogLogin records a successful dashboard sign-in.
func (s *Service) LogLogin(ctx context.Context, a Actor) error {
	return s.Append(ctx, Event{
		Type:        EventTypeLogin,
		ActorUserID: a.UserID,
		ActorRole:   a.Role,
		IPAddress:   a.IP,
		Message:     "signed in",
	})
}

// LogAgentConfigUpdate records a change to the restaurant profile.
func (s *Service) LogAgentConfigUpdate(ctx context.Context, a Actor, configID string, changed []string) error {
	return s.Append(ctx, Event{
		Type:        EventTypeAgentConfigUpdated,
		ActorUserID: a.UserID,
		ActorRole:   a.Role,
		IPAddress:   a.IP,
		TargetTable: "agent_config",
		TargetID:    configID,
		Message:     "agent configuration updated",
		Metadata:    encodeMetadata(map[string]any{"fields": changed}),
	})
}

// LogReservationStatus records a manual reservation status change.
func (s *Service) LogReservationStatus(ctx context.Context, a Actor, reservationID, from, to string) error {
	return s.Append(ctx, Event{
		Type:        EventTypeReservationStatusChanged,
		ActorUserID: a.UserID,
		ActorRole:   a.Role,
		IPAddress:   a.IP,
		TargetTable: "reservations",
		TargetID:    reservationID,
		Message:     "reservation " + from + " -> " + to,
		Metadata:    encodeMetadata(map[string]any{"from": from, "to": to}),
	})
}

// LogConversationClosed records a conversation closed from the browser demo.
func (s *Service) LogConversationClosed(ctx context.Context, a Actor, conversationID string) error {
	return s.Append(ctx, Event{
		Type:        EventTypeConversationClosed,
		ActorUserID: a.UserID,
		ActorRole:   a.Role,
		IPAddress:   a.IP,
		TargetTable: "conversations",
		TargetID:    conversationID,
		Message:     "conversation closed by client",
	})
}

func encodeMetadata(v map[string]any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
