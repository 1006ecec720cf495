package reservations

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"voice-agent-platform/internal/config"
	"voice-agent-platform/internal/notify"
	"voice-agent-platform/internal/records"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []notify.Confirmation
	err  error
}

func (s *recordingSender) SendReservationConfirmation(ctx context.Context, c notify.Confirmation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, c)
	return s.err
}

type failingStore struct {
	*records.MemoryRepo
}

func (failingStore) CreateReservation(ctx context.Context, r records.NewReservation) (records.Reservation, error) {
	return records.Reservation{}, errors.New("connection refused")
}

func TestHandleCreatesConfirmedReservation(t *testing.T) {
	ctx := context.Background()
	repo := records.NewMemoryRepo()
	if _, err := repo.UpsertAgentConfig(ctx, records.AgentConfig{RestaurantName: "Luigi's"}); err != nil {
		t.Fatalf("seed config: %v", err)
	}
	conv, err := repo.CreateConversation(ctx, time.Now())
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	sender := &recordingSender{}
	svc := NewService(repo, sender, nil)

	res := svc.Handle(ctx, `{"name":"Bob","email":"b@x.com","date":"2025-03-01","time":"18:00","guests":2}`, conv.ID)
	svc.Wait()

	if !res.Success || res.ReservationID == "" {
		t.Fatalf("expected success, got %+v", res)
	}
	want := "Reservation confirmed for Bob on 2025-03-01 at 18:00 for 2 guests. A confirmation email has been sent to b@x.com."
	if res.Message != want {
		t.Fatalf("unexpected message %q", res.Message)
	}

	rows := repo.Reservations()
	if len(rows) != 1 {
		t.Fatalf("expected one reservation, got %d", len(rows))
	}
	r := rows[0]
	if r.Status != records.ReservationConfirmed || r.Time != "18:00:00" || r.ConversationID == nil || *r.ConversationID != conv.ID {
		t.Fatalf("unexpected reservation %+v", r)
	}

	got, _ := repo.GetConversation(ctx, conv.ID)
	if got.CustomerName == nil || *got.CustomerName != "Bob" {
		t.Fatalf("expected customer name on conversation, got %+v", got.CustomerName)
	}

	if len(sender.sent) != 1 || sender.sent[0].RestaurantName != "Luigi's" {
		t.Fatalf("unexpected confirmations %+v", sender.sent)
	}
}

func TestHandleMissingEmailCreatesNothing(t *testing.T) {
	repo := records.NewMemoryRepo()
	sender := &recordingSender{}
	svc := NewService(repo, sender, nil)

	res := svc.Handle(context.Background(), `{"name":"Bob","date":"2025-03-01","time":"18:00","guests":2}`, "")
	svc.Wait()

	if res.Success || res.Error == "" {
		t.Fatalf("expected failure, got %+v", res)
	}
	if len(repo.Reservations()) != 0 || len(sender.sent) != 0 {
		t.Fatalf("expected no side effects")
	}
}

func TestHandleNotificationFailureStillSucceeds(t *testing.T) {
	repo := records.NewMemoryRepo()
	sender := &recordingSender{err: errors.New("smtp down")}
	svc := NewService(repo, sender, nil)

	res := svc.Handle(context.Background(), `{"name":"Ann","email":"a@x.com","date":"2025-03-01","time":"19:00","guests":1}`, "")
	svc.Wait()

	if !res.Success {
		t.Fatalf("expected success despite email failure, got %+v", res)
	}
	if !strings.Contains(res.Message, "for 1 guest.") {
		t.Fatalf("unexpected message %q", res.Message)
	}
	if sender.sent[0].RestaurantName != "" {
		t.Fatalf("expected empty restaurant name without config, got %q", sender.sent[0].RestaurantName)
	}
}

func TestHandleStoreFailure(t *testing.T) {
	svc := NewService(failingStore{records.NewMemoryRepo()}, &recordingSender{}, nil)
	res := svc.Handle(context.Background(), `{"name":"Ann","email":"a@x.com","date":"2025-03-01","time":"19:00"}`, "")
	if res.Success || res.Error != saveFailedMessage {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestToolResultJSON(t *testing.T) {
	var out map[string]any
	if err := json.Unmarshal([]byte(Failure("nope").JSON()), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out["success"] != false || out["error"] != "nope" {
		t.Fatalf("unexpected json %v", out)
	}
	if _, ok := out["message"]; ok {
		t.Fatalf("message should be omitted on failure")
	}
}

func TestInstructions(t *testing.T) {
	if Instructions(nil) != genericInstructions {
		t.Fatalf("expected generic fallback")
	}
	got := Instructions(&records.AgentConfig{RestaurantName: "Luigi's", RestaurantHours: "5-11pm", Menu: "Pasta", Instructions: "Be warm."})
	for _, want := range []string{"You are a receptionist for Luigi's.", "Hours: 5-11pm", "Menu: Pasta", "Be warm.", "use the create_reservation function"} {
		if !strings.Contains(got, want) {
			t.Fatalf("expected %q in %q", want, got)
		}
	}
}

func TestSessionConfig(t *testing.T) {
	rt := config.RealtimeConfig{Voice: "alloy", TranscriptionModel: "whisper-1", Temperature: 0.8, VADThreshold: 0.5, VADPrefixPaddingMs: 300, VADSilenceDurationMs: 1000}
	sc := SessionConfig(rt, nil, "g711_ulaw")
	if sc.InputAudioFormat != "g711_ulaw" || sc.OutputAudioFormat != "g711_ulaw" {
		t.Fatalf("unexpected formats %+v", sc)
	}
	if len(sc.Tools) != 1 || sc.Tools[0].Name != ToolName || sc.ToolChoice != "auto" {
		t.Fatalf("unexpected tools %+v", sc.Tools)
	}
	if sc.TurnDetection == nil || sc.TurnDetection.SilenceDurationMs != 1000 {
		t.Fatalf("unexpected vad %+v", sc.TurnDetection)
	}
	if sc.InputAudioTranscription == nil || sc.InputAudioTranscription.Model != "whisper-1" {
		t.Fatalf("expected transcription model")
	}
}

func TestHandleStaleConversationStillBooks(t *testing.T) {
	repo := records.NewMemoryRepo()
	svc := NewService(repo, &recordingSender{}, nil)

	res := svc.Handle(context.Background(), `{"name":"Bob","email":"b@x.com","date":"2025-03-01","time":"18:00"}`, "gone-conversation")
	svc.Wait()

	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	rows := repo.Reservations()
	if len(rows) != 1 || rows[0].ConversationID != nil {
		t.Fatalf("expected one unlinked reservation, got %+v", rows)
	}
}
