package records

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepo is an in-memory Repository for tests and single-node development.
// It is not intended for production use.
type MemoryRepo struct {
	mu sync.Mutex

	conversations map[string]Conversation
	reservations  map[string]Reservation
	agentConfig   *AgentConfig

	clock func() time.Time
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		conversations: map[string]Conversation{},
		reservations:  map[string]Reservation{},
		clock:         time.Now,
	}
}

func (r *MemoryRepo) CreateConversation(ctx context.Context, startedAt time.Time) (Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock().UTC()
	if startedAt.IsZero() {
		startedAt = now
	}
	c := Conversation{
		ID:        uuid.NewString(),
		Status:    ConversationActive,
		StartedAt: startedAt.UTC(),
		CreatedAt: now,
	}
	r.conversations[c.ID] = c
	return c, nil
}

func (r *MemoryRepo) CompleteConversation(ctx context.Context, id string, endedAt time.Time) (Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conversations[id]
	if !ok {
		return Conversation{}, ErrNotFound
	}
	if c.Status == ConversationCompleted {
		return c, nil
	}
	end := endedAt.UTC()
	d := durationSeconds(c.StartedAt, end)
	c.Status = ConversationCompleted
	c.EndedAt = &end
	c.DurationSeconds = &d
	r.conversations[id] = c
	return c, nil
}

func (r *MemoryRepo) SetConversationCustomer(ctx context.Context, id, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conversations[id]
	if !ok {
		return ErrNotFound
	}
	n := name
	c.CustomerName = &n
	r.conversations[id] = c
	return nil
}

func (r *MemoryRepo) GetConversation(ctx context.Context, id string) (Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conversations[id]
	if !ok {
		return Conversation{}, ErrNotFound
	}
	return c, nil
}

func (r *MemoryRepo) ListConversations(ctx context.Context, f ConversationFilter) ([]Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Conversation, 0, len(r.conversations))
	for _, c := range r.conversations {
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit := clampLimit(f.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepo) CreateReservation(ctx context.Context, in NewReservation) (Reservation, error) {
	if err := validateNewReservation(in); err != nil {
		return Reservation{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	res := Reservation{
		ID:        uuid.NewString(),
		Name:      in.Name,
		Email:     in.Email,
		Date:      in.Date,
		Time:      in.Time,
		Guests:    in.Guests,
		Status:    in.Status,
		CreatedAt: r.clock().UTC(),
	}
	if res.Status == "" {
		res.Status = ReservationPending
	}
	// same as Postgres: an unknown conversation leaves the reservation unlinked
	if _, ok := r.conversations[in.ConversationID]; ok {
		cid := in.ConversationID
		res.ConversationID = &cid
	}
	r.reservations[res.ID] = res
	return res, nil
}

func (r *MemoryRepo) GetReservation(ctx context.Context, id string) (Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, ok := r.reservations[id]
	if !ok {
		return Reservation{}, ErrNotFound
	}
	return res, nil
}

func (r *MemoryRepo) ListReservations(ctx context.Context, f ReservationFilter) ([]Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Reservation, 0, len(r.reservations))
	for _, res := range r.reservations {
		if f.Status != "" && res.Status != f.Status {
			continue
		}
		if f.Date != "" && res.Date != f.Date {
			continue
		}
		out = append(out, res)
	}
	// Zero-padded date and time strings sort chronologically.
	sort.Slice(out, func(i, j int) bool {
		if c := strings.Compare(out[i].Date, out[j].Date); c != 0 {
			return c < 0
		}
		if c := strings.Compare(out[i].Time, out[j].Time); c != 0 {
			return c < 0
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit := clampLimit(f.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepo) UpdateReservationStatus(ctx context.Context, id string, status ReservationStatus) (Reservation, error) {
	if !status.Valid() {
		return Reservation{}, ErrInvalidArgument
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	res, ok := r.reservations[id]
	if !ok {
		return Reservation{}, ErrNotFound
	}
	res.Status = status
	r.reservations[id] = res
	return res, nil
}

func (r *MemoryRepo) GetAgentConfig(ctx context.Context) (AgentConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.agentConfig == nil {
		return AgentConfig{}, ErrNotFound
	}
	return *r.agentConfig, nil
}

func (r *MemoryRepo) UpsertAgentConfig(ctx context.Context, c AgentConfig) (AgentConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.agentConfig != nil {
		c.ID = r.agentConfig.ID
	} else if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.UpdatedAt = r.clock().UTC()
	r.agentConfig = &c
	return c, nil
}

// Reservations returns a snapshot of every stored reservation, unordered.
func (r *MemoryRepo) Reservations() []Reservation {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Reservation, 0, len(r.reservations))
	for _, res := range r.reservations {
		out = append(out, res)
	}
	return out
}
