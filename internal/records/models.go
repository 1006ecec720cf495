package records

import "time"

type ConversationStatus string

const (
	ConversationActive    ConversationStatus = "active"
	ConversationCompleted ConversationStatus = "completed"
)

// Conversation is the persisted trace of one phone or browser call.
// It is created when the call starts and completed exactly once when it ends.
type Conversation struct {
	ID              string             `json:"id" db:"id"`
	Status          ConversationStatus `json:"status" db:"status"`
	StartedAt       time.Time          `json:"started_at" db:"started_at"`
	EndedAt         *time.Time         `json:"ended_at,omitempty" db:"ended_at"`
	DurationSeconds *int               `json:"duration_seconds,omitempty" db:"duration_seconds"`
	CustomerName    *string            `json:"customer_name,omitempty" db:"customer_name"`
	CreatedAt       time.Time          `json:"created_at" db:"created_at"`
}

type ReservationStatus string

const (
	ReservationPending   ReservationStatus = "pending"
	ReservationConfirmed ReservationStatus = "confirmed"
	ReservationCancelled ReservationStatus = "cancelled"
)

func (s ReservationStatus) Valid() bool {
	switch s {
	case ReservationPending, ReservationConfirmed, ReservationCancelled:
		return true
	default:
		return false
	}
}

// Reservation is a table booking. Date is YYYY-MM-DD and Time is HH:MM:SS.
type Reservation struct {
	ID             string            `json:"id" db:"id"`
	ConversationID *string           `json:"conversation_id,omitempty" db:"conversation_id"`
	Name           string            `json:"name" db:"name"`
	Email          string            `json:"email" db:"email"`
	Date           string            `json:"date" db:"date"`
	Time           string            `json:"time" db:"time"`
	Guests         int               `json:"guests" db:"guests"`
	Status         ReservationStatus `json:"status" db:"status"`
	CreatedAt      time.Time         `json:"created_at" db:"created_at"`
}

// NewReservation is the insert shape; the store assigns ID and CreatedAt.
type NewReservation struct {
	ConversationID string
	Name           string
	Email          string
	Date           string
	Time           string
	Guests         int
	Status         ReservationStatus
}

// AgentConfig is the singleton restaurant profile used to brief the voice agent.
type AgentConfig struct {
	ID              string    `json:"id" db:"id"`
	RestaurantName  string    `json:"restaurant_name" db:"restaurant_name"`
	RestaurantHours string    `json:"restaurant_hours" db:"restaurant_hours"`
	Menu            string    `json:"menu" db:"menu"`
	Instructions    string    `json:"instructions" db:"instructions"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}

type ConversationFilter struct {
	Status ConversationStatus
	Limit  int
}

type ReservationFilter struct {
	Status ReservationStatus
	Date   string
	Limit  int
}

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

func clampLimit(n int) int {
	if n <= 0 {
		return defaultListLimit
	}
	if n > maxListLimit {
		return maxListLimit
	}
	return n
}

func durationSeconds(start, end time.Time) int {
	d := int(end.Sub(start).Round(time.Second) / time.Second)
	if d < 0 {
		return 0
	}
	return d
}
