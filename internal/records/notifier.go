package records

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ChangesChannel is the redis pub/sub channel carrying record changes.
const ChangesChannel = "records:changes"

type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
)

const (
	TableConversations = "conversations"
	TableReservations  = "reservations"
	TableAgentConfig   = "agent_config"
)

// Change announces that a row was written. Subscribers re-read the row if they need it.
type Change struct {
	Table string    `json:"table"`
	Op    Op        `json:"op"`
	ID    string    `json:"id"`
	At    time.Time `json:"at"`
}

// Notifier fans record changes out to subscribers.
// Delivery is best-effort: slow subscribers miss changes rather than stall writers.
type Notifier interface {
	Publish(ctx context.Context, ch Change) error
	// Subscribe returns a channel that is closed once ctx is done.
	Subscribe(ctx context.Context) (<-chan Change, error)
}

const subscriberBuffer = 32

// LocalNotifier delivers changes within one process.
type LocalNotifier struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Change
}

func NewLocalNotifier() *LocalNotifier {
	return &LocalNotifier{subs: map[int]chan Change{}}
}

func (n *LocalNotifier) Publish(ctx context.Context, ch Change) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, sub := range n.subs {
		select {
		case sub <- ch:
		default:
		}
	}
	return nil
}

func (n *LocalNotifier) Subscribe(ctx context.Context) (<-chan Change, error) {
	out := make(chan Change, subscriberBuffer)

	n.mu.Lock()
	id := n.nextID
	n.nextID++
	n.subs[id] = out
	n.mu.Unlock()

	go func() {
		<-ctx.Done()
		n.mu.Lock()
		delete(n.subs, id)
		close(out)
		n.mu.Unlock()
	}()
	return out, nil
}

// RedisNotifier delivers changes across API instances through redis pub/sub.
type RedisNotifier struct {
	rdb     *redis.Client
	channel string
	log     *slog.Logger
}

func NewRedisNotifier(rdb *redis.Client, log *slog.Logger) *RedisNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &RedisNotifier{rdb: rdb, channel: ChangesChannel, log: log}
}

func (n *RedisNotifier) Publish(ctx context.Context, ch Change) error {
	b, err := json.Marshal(ch)
	if err != nil {
		return err
	}
	if err := n.rdb.Publish(ctx, n.channel, string(b)).Err(); err != nil {
		return fmt.Errorf("publish change: %w", err)
	}
	return nil
}

func (n *RedisNotifier) Subscribe(ctx context.Context) (<-chan Change, error) {
	ps := n.rdb.Subscribe(ctx, n.channel)
	// Wait for the subscription confirmation so callers don't miss early publishes.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", n.channel, err)
	}

	out := make(chan Change, subscriberBuffer)
	go func() {
		defer close(out)
		defer ps.Close()

		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ch Change
				if err := json.Unmarshal([]byte(msg.Payload), &ch); err != nil {
					n.log.Warn("dropping malformed change", "err", err)
					continue
				}
				select {
				case out <- ch:
				default:
				}
			}
		}
	}()
	return out, nil
}

// notifyingRepo publishes a Change after every successful mutation.
type notifyingRepo struct {
	Repository
	n     Notifier
	log   *slog.Logger
	clock func() time.Time
}

// WithNotifier wraps repo so that writes are announced on n.
// Publish failures are logged and never fail the write.
func WithNotifier(repo Repository, n Notifier, log *slog.Logger) Repository {
	if n == nil {
		return repo
	}
	if log == nil {
		log = slog.Default()
	}
	return &notifyingRepo{Repository: repo, n: n, log: log, clock: time.Now}
}

func (r *notifyingRepo) publish(ctx context.Context, table string, op Op, id string) {
	ch := Change{Table: table, Op: op, ID: id, At: r.clock().UTC()}
	if err := r.n.Publish(context.WithoutCancel(ctx), ch); err != nil {
		r.log.Warn("change publish failed", "table", table, "id", id, "err", err)
	}
}

func (r *notifyingRepo) CreateConversation(ctx context.Context, startedAt time.Time) (Conversation, error) {
	c, err := r.Repository.CreateConversation(ctx, startedAt)
	if err == nil {
		r.publish(ctx, TableConversations, OpInsert, c.ID)
	}
	return c, err
}

func (r *notifyingRepo) CompleteConversation(ctx context.Context, id string, endedAt time.Time) (Conversation, error) {
	c, err := r.Repository.CompleteConversation(ctx, id, endedAt)
	if err == nil {
		r.publish(ctx, TableConversations, OpUpdate, c.ID)
	}
	return c, err
}

func (r *notifyingRepo) SetConversationCustomer(ctx context.Context, id, name string) error {
	err := r.Repository.SetConversationCustomer(ctx, id, name)
	if err == nil {
		r.publish(ctx, TableConversations, OpUpdate, id)
	}
	return err
}

func (r *notifyingRepo) CreateReservation(ctx context.Context, in NewReservation) (Reservation, error) {
	res, err := r.Repository.CreateReservation(ctx, in)
	if err == nil {
		r.publish(ctx, TableReservations, OpInsert, res.ID)
	}
	return res, err
}

func (r *notifyingRepo) UpdateReservationStatus(ctx context.Context, id string, status ReservationStatus) (Reservation, error) {
	res, err := r.Repository.UpdateReservationStatus(ctx, id, status)
	if err == nil {
		r.publish(ctx, TableReservations, OpUpdate, res.ID)
	}
	return res, err
}

func (r *notifyingRepo) UpsertAgentConfig(ctx context.Context, c AgentConfig) (AgentConfig, error) {
	out, err := r.Repository.UpsertAgentConfig(ctx, c)
	if err == nil {
		r.publish(ctx, TableAgentConfig, OpUpdate, out.ID)
	}
	return out, err
}
