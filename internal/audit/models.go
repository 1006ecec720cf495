package audit

import (
	"context"
	"time"

	"voice-agent-platform/internal/auth"
)

// Event is an immutable, append-only record of a dashboard mutation.
//
// Invariants:
// - Events are never updated or deleted (enforced by a trigger in Postgres).
// - Actor and IP capture are best-effort; audit failures never block the mutation.
type Event struct {
	ID   string    `json:"id" db:"id"`
	Type EventType `json:"type" db:"type"`

	// ActorUserID is the authenticated dashboard user, if any.
	ActorUserID string `json:"actor_user_id,omitempty" db:"actor_user_id"`
	ActorRole   string `json:"actor_role,omitempty" db:"actor_role"`

	// IPAddress is the resolved client IP.
	IPAddress string `json:"ip_address,omitempty" db:"ip_address"`

	// TargetTable and TargetID identify the record that changed.
	TargetTable string `json:"target_table,omitempty" db:"target_table"`
	TargetID    string `json:"target_id,omitempty" db:"target_id"`

	Message string `json:"message,omitempty" db:"message"`

	// Metadata is optional JSON with full details.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeLogin                    EventType = "login"
	EventTypeAgentConfigUpdated       EventType = "agent_config_updated"
	EventTypeReservationStatusChanged EventType = "reservation_status_changed"
	EventTypeConversationClosed       EventType = "conversation_closed"
)

// Actor is who performed a mutation.
type Actor struct {
	UserID string
	Role   string
	IP     string
}

// ActorFrom reads the authenticated identity placed on ctx by the auth middleware.
func ActorFrom(ctx context.Context, ip string) Actor {
	userID, _ := auth.UserID(ctx)
	role, _ := auth.Role(ctx)
	return Actor{UserID: userID, Role: role, IP: ip}
}
