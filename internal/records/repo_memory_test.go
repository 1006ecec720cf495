package records

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryRepo_ConversationLifecycle(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()
	start := time.Date(2025, 3, 1, 18, 0, 0, 0, time.UTC)

	c, err := repo.CreateConversation(ctx, start)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if c.Status != ConversationActive || c.EndedAt != nil {
		t.Fatalf("unexpected new conversation: %+v", c)
	}

	done, err := repo.CompleteConversation(ctx, c.ID, start.Add(95*time.Second))
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != ConversationCompleted || done.DurationSeconds == nil || *done.DurationSeconds != 95 {
		t.Fatalf("unexpected completed conversation: %+v", done)
	}

	again, err := repo.CompleteConversation(ctx, c.ID, start.Add(time.Hour))
	if err != nil {
		t.Fatalf("second complete: %v", err)
	}
	if !again.EndedAt.Equal(*done.EndedAt) {
		t.Fatalf("expected second completion to be a no-op")
	}

	if _, err := repo.CompleteConversation(ctx, "missing", start); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMemoryRepo_SetConversationCustomer(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()
	c, _ := repo.CreateConversation(ctx, time.Time{})

	if err := repo.SetConversationCustomer(ctx, c.ID, "Alice"); err != nil {
		t.Fatalf("set customer: %v", err)
	}
	got, _ := repo.GetConversation(ctx, c.ID)
	if got.CustomerName == nil || *got.CustomerName != "Alice" {
		t.Fatalf("expected customer name, got %+v", got)
	}
	if err := repo.SetConversationCustomer(ctx, "missing", "Bob"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMemoryRepo_ListReservationsOrdersByDateThenTime(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()

	for _, in := range []NewReservation{
		{Name: "C", Email: "c@example.com", Date: "2025-03-02", Time: "18:00:00", Guests: 2},
		{Name: "B", Email: "b@example.com", Date: "2025-03-01", Time: "20:30:00", Guests: 4},
		{Name: "A", Email: "a@example.com", Date: "2025-03-01", Time: "19:00:00", Guests: 1, Status: ReservationConfirmed},
	} {
		if _, err := repo.CreateReservation(ctx, in); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	list, err := repo.ListReservations(ctx, ReservationFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 3 || list[0].Name != "A" || list[1].Name != "B" || list[2].Name != "C" {
		t.Fatalf("unexpected order: %+v", list)
	}
	if list[1].Status != ReservationPending {
		t.Fatalf("expected pending default, got %q", list[1].Status)
	}

	confirmed, _ := repo.ListReservations(ctx, ReservationFilter{Status: ReservationConfirmed})
	if len(confirmed) != 1 || confirmed[0].Name != "A" {
		t.Fatalf("unexpected filter result: %+v", confirmed)
	}
}

func TestMemoryRepo_CreateReservationRejectsIncomplete(t *testing.T) {
	repo := NewMemoryRepo()
	_, err := repo.CreateReservation(context.Background(), NewReservation{Name: "A", Date: "2025-03-01", Time: "19:00:00", Guests: 2})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	if len(repo.Reservations()) != 0 {
		t.Fatalf("expected no record")
	}
}

func TestMemoryRepo_UpdateReservationStatus(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()
	res, _ := repo.CreateReservation(ctx, NewReservation{Name: "A", Email: "a@example.com", Date: "2025-03-01", Time: "19:00:00", Guests: 2})

	if _, err := repo.UpdateReservationStatus(ctx, res.ID, "seated"); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected invalid status error, got %v", err)
	}
	got, err := repo.UpdateReservationStatus(ctx, res.ID, ReservationCancelled)
	if err != nil || got.Status != ReservationCancelled {
		t.Fatalf("unexpected update: %+v %v", got, err)
	}
}

func TestMemoryRepo_AgentConfigSingleton(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()

	if _, err := repo.GetAgentConfig(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found before first save, got %v", err)
	}
	first, _ := repo.UpsertAgentConfig(ctx, AgentConfig{RestaurantName: "Luigi's"})
	second, _ := repo.UpsertAgentConfig(ctx, AgentConfig{RestaurantName: "Luigi's Trattoria"})
	if first.ID != second.ID {
		t.Fatalf("expected singleton id to be stable")
	}
	got, _ := repo.GetAgentConfig(ctx)
	if got.RestaurantName != "Luigi's Trattoria" {
		t.Fatalf("unexpected config: %+v", got)
	}
}

func TestMemoryRepo_CreateReservationWithUnknownConversationIsUnlinked(t *testing.T) {
	repo := NewMemoryRepo()
	res, err := repo.CreateReservation(context.Background(), NewReservation{
		ConversationID: "stale-browser-id",
		Name:           "Alice",
		Email:          "alice@example.com",
		Date:           "2025-03-01",
		Time:           "19:00:00",
		Guests:         2,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if res.ConversationID != nil {
		t.Fatalf("expected unlinked reservation, got %+v", res)
	}
}
