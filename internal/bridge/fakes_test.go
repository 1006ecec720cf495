package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"voice-agent-platform/internal/config"
	"voice-agent-platform/internal/metrics"
	"voice-agent-platform/internal/notify"
	"voice-agent-platform/internal/realtime"
	"voice-agent-platform/internal/records"
	"voice-agent-platform/internal/reservations"
	"voice-agent-platform/internal/telephony"
)

type fakeCarrier struct {
	in chan []byte

	mu  sync.Mutex
	out [][]byte

	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeCarrier() *fakeCarrier {
	return &fakeCarrier{in: make(chan []byte, 64), closed: make(chan struct{})}
}

func (f *fakeCarrier) ReadMessage() (int, []byte, error) {
	select {
	case b, ok := <-f.in:
		if !ok {
			return 0, nil, io.ErrUnexpectedEOF
		}
		return websocket.TextMessage, b, nil
	case <-f.closed:
		return 0, nil, net.ErrClosed
	}
}

func (f *fakeCarrier) WriteMessage(mt int, data []byte) error {
	select {
	case <-f.closed:
		return net.ErrClosed
	default:
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.out = append(f.out, append([]byte(nil), data...))
	return nil
}

func (f *fakeCarrier) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeCarrier) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

func (f *fakeCarrier) send(frame string) { f.in <- []byte(frame) }

// hangUp drops the socket without a stop event.
func (f *fakeCarrier) hangUp() { close(f.in) }

type outFrame struct {
	Event     string `json:"event"`
	StreamSID string `json:"streamSid"`
	Media     struct {
		Payload string `json:"payload"`
	} `json:"media"`
}

func (f *fakeCarrier) frames() []outFrame {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]outFrame, 0, len(f.out))
	for _, b := range f.out {
		var fr outFrame
		_ = json.Unmarshal(b, &fr)
		out = append(out, fr)
	}
	return out
}

type fakeProvider struct {
	events chan realtime.ServerEvent

	mu   sync.Mutex
	sent []realtime.ClientEvent

	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{events: make(chan realtime.ServerEvent, 64), closed: make(chan struct{})}
}

func (p *fakeProvider) Send(ev realtime.ClientEvent) error {
	select {
	case <-p.closed:
		return net.ErrClosed
	default:
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, ev)
	return nil
}

func (p *fakeProvider) Read() (realtime.ServerEvent, error) {
	select {
	case ev := <-p.events:
		return ev, nil
	case <-p.closed:
		return nil, net.ErrClosed
	}
}

func (p *fakeProvider) Close() error {
	p.closeOnce.Do(func() { close(p.closed) })
	return nil
}

func (p *fakeProvider) isClosed() bool {
	select {
	case <-p.closed:
		return true
	default:
		return false
	}
}

func (p *fakeProvider) emit(ev realtime.ServerEvent) { p.events <- ev }

func (p *fakeProvider) history() []realtime.ClientEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]realtime.ClientEvent(nil), p.sent...)
}

func sentOf[T realtime.ClientEvent](p *fakeProvider) []T {
	var out []T
	for _, ev := range p.history() {
		if e, ok := ev.(T); ok {
			out = append(out, e)
		}
	}
	return out
}

type fakeDialer struct {
	mu        sync.Mutex
	providers []*fakeProvider
	dials     int
	err       error
}

func (d *fakeDialer) Dial(ctx context.Context) (ProviderConn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.err != nil {
		return nil, d.err
	}
	if len(d.providers) == 0 {
		return nil, errors.New("no provider left")
	}
	p := d.providers[0]
	d.providers = d.providers[1:]
	return p, nil
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

type fakeAdmission struct {
	mu       sync.Mutex
	released []string
}

func (a *fakeAdmission) Admit(ctx context.Context, req telephony.InboundCallRequest) (bool, error) {
	return true, nil
}

func (a *fakeAdmission) Release(ctx context.Context, callSID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.released = append(a.released, callSID)
	return nil
}

type nopSender struct{}

func (nopSender) SendReservationConfirmation(ctx context.Context, c notify.Confirmation) error {
	return nil
}

func newTestServer(d ProviderDialer, repo *records.MemoryRepo) *Server {
	return &Server{
		Dialer:        d,
		Conversations: repo,
		Tools:         reservations.NewService(repo, nopSender{}, nil),
		Admission:     telephony.Unlimited{},
		Realtime: config.RealtimeConfig{
			Voice:                "alloy",
			AudioFormat:          "g711_ulaw",
			TranscriptionModel:   "whisper-1",
			Temperature:          0.8,
			VADThreshold:         0.5,
			VADPrefixPaddingMs:   300,
			VADSilenceDurationMs: 1000,
		},
		Metrics:      metrics.New(prometheus.NewRegistry()),
		FinalizeWait: time.Second,
	}
}

func serve(s *Server, carrier CarrierConn) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Serve(context.Background(), carrier)
	}()
	return done
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("call did not finish")
	}
}

func startFrame(streamSID, callSID string) string {
	return fmt.Sprintf(`{"event":"start","sequenceNumber":"1","streamSid":%q,"start":{"streamSid":%q,"callSid":%q,"tracks":["inbound"],"mediaFormat":{"encoding":"audio/x-mulaw","sampleRate":8000,"channels":1}}}`,
		streamSID, streamSID, callSID)
}

func mediaFrame(streamSID, payload string) string {
	return fmt.Sprintf(`{"event":"media","streamSid":%q,"media":{"track":"inbound","chunk":"1","timestamp":"20","payload":%q}}`, streamSID, payload)
}

func stopFrame(streamSID string) string {
	return fmt.Sprintf(`{"event":"stop","streamSid":%q,"stop":{"callSid":"CA1"}}`, streamSID)
}
