package reservations

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"voice-agent-platform/internal/notify"
	"voice-agent-platform/internal/records"
)

// Store is the slice of the record store the handler needs.
type Store interface {
	CreateReservation(ctx context.Context, r records.NewReservation) (records.Reservation, error)
	SetConversationCustomer(ctx context.Context, id, name string) error
	GetAgentConfig(ctx context.Context) (records.AgentConfig, error)
}

// ToolResult is the function_call_output reported back to the model.
type ToolResult struct {
	Success       bool   `json:"success"`
	Message       string `json:"message,omitempty"`
	Error         string `json:"error,omitempty"`
	ReservationID string `json:"reservation_id,omitempty"`
}

func (r ToolResult) JSON() string {
	b, err := json.Marshal(r)
	if err != nil {
		return `{"success":false,"error":"internal error"}`
	}
	return string(b)
}

// Failure builds an unsuccessful result.
func Failure(msg string) ToolResult {
	return ToolResult{Success: false, Error: msg}
}

const saveFailedMessage = "The reservation could not be saved. Please try again."

const notifyTimeout = 15 * time.Second

type Service struct {
	store  Store
	sender notify.Sender
	log    *slog.Logger

	wg sync.WaitGroup
}

func NewService(store Store, sender notify.Sender, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	if sender == nil {
		sender = notify.LogSender{Log: log}
	}
	return &Service{store: store, sender: sender, log: log}
}

// AgentConfig returns the restaurant profile, or nil when it is absent or unreadable.
func (s *Service) AgentConfig(ctx context.Context) *records.AgentConfig {
	cfg, err := s.store.GetAgentConfig(ctx)
	if err != nil {
		if !errors.Is(err, records.ErrNotFound) {
			s.log.Warn("agent config unavailable, using generic instructions", "err", err)
		}
		return nil
	}
	return &cfg
}

// Handle runs one create_reservation call. It never returns an error: every
// outcome is a ToolResult the model can speak about. conversationID may be empty.
// The confirmation email is sent in the background.
func (s *Service) Handle(ctx context.Context, rawArgs, conversationID string) ToolResult {
	log := s.log.With("conversation_id", conversationID)

	args, err := ParseArguments(rawArgs)
	if err != nil {
		log.Warn("rejected reservation arguments", "err", err)
		return Failure(err.Error())
	}

	res, err := s.store.CreateReservation(ctx, records.NewReservation{
		ConversationID: conversationID,
		Name:           args.Name,
		Email:          args.Email,
		Date:           args.Date,
		Time:           args.Time,
		Guests:         args.Guests,
		Status:         records.ReservationConfirmed,
	})
	if err != nil {
		log.Error("create reservation failed", "err", err)
		return Failure(saveFailedMessage)
	}
	log.Info("reservation created", "reservation_id", res.ID, "date", res.Date, "time", res.Time, "guests", res.Guests)

	// the store leaves the booking unlinked when the conversation is unknown
	if res.ConversationID != nil {
		if err := s.store.SetConversationCustomer(ctx, *res.ConversationID, args.Name); err != nil {
			log.Warn("set conversation customer failed", "err", err)
		}
	}

	s.sendConfirmation(context.WithoutCancel(ctx), args, log)

	return ToolResult{
		Success:       true,
		Message:       ConfirmationMessage(args),
		ReservationID: res.ID,
	}
}

// ConfirmationMessage is the sentence the model reads back to the caller.
func ConfirmationMessage(a Arguments) string {
	unit := "guests"
	if a.Guests == 1 {
		unit = "guest"
	}
	clock := a.Time
	if len(clock) == len("15:04:05") {
		clock = clock[:5]
	}
	return fmt.Sprintf("Reservation confirmed for %s on %s at %s for %d %s. A confirmation email has been sent to %s.",
		a.Name, a.Date, clock, a.Guests, unit, a.Email)
}

func (s *Service) sendConfirmation(ctx context.Context, a Arguments, log *slog.Logger) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Error("confirmation email panic", "panic", r)
			}
		}()

		ctx, cancel := context.WithTimeout(ctx, notifyTimeout)
		defer cancel()

		restaurant := ""
		if cfg := s.AgentConfig(ctx); cfg != nil {
			restaurant = cfg.RestaurantName
		}
		err := s.sender.SendReservationConfirmation(ctx, notify.Confirmation{
			Name:           a.Name,
			Email:          a.Email,
			Date:           a.Date,
			Time:           a.Time,
			Guests:         a.Guests,
			RestaurantName: restaurant,
		})
		if err != nil {
			log.Warn("confirmation email failed", "email", a.Email, "err", err)
		}
	}()
}

// Wait blocks until background confirmation sends finish.
func (s *Service) Wait() {
	s.wg.Wait()
}
