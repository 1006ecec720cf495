package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"voice-agent-platform/internal/audit"
	"voice-agent-platform/internal/auth"
	"voice-agent-platform/internal/config"
	"voice-agent-platform/internal/rbac"
	"voice-agent-platform/internal/records"
	"voice-agent-platform/internal/reporting"
)

const (
	adminEmail    = "owner@bistro.test"
	adminPassword = "correct horse"
)

type fixture struct {
	h      Handlers
	repo   *records.MemoryRepo
	audits *audit.MemoryRepo
	router *gin.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	m, err := auth.NewManager(config.AuthConfig{
		JWTSecret:       "test-secret",
		JWTIssuer:       "voice-agent-platform",
		JWTAudience:     "dashboard",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: time.Hour,
	})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(adminPassword), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}

	repo := records.NewMemoryRepo()
	audits := audit.NewMemoryRepo()
	h := Handlers{
		Auth:              m,
		Records:           repo,
		Reporting:         reporting.NewService(repo),
		Audit:             audit.NewService(audits),
		AdminEmail:        adminEmail,
		AdminPasswordHash: string(hash),
	}

	r := gin.New()
	r.POST("/v1/auth/login", h.Login)
	r.POST("/v1/auth/refresh", h.Refresh)
	api := r.Group("/v1", auth.RequireAccessToken(m))
	api.GET("/me", h.Me)
	api.GET("/conversations", RequireStaff(), h.ListConversations)
	api.GET("/conversations/:id", RequireStaff(), h.GetConversation)
	api.GET("/reservations", RequireStaff(), h.ListReservations)
	api.PATCH("/reservations/:id", RequireStaff(), h.UpdateReservationStatus)
	api.GET("/agent-config", RequireStaff(), h.GetAgentConfig)
	api.PUT("/agent-config", RequireOwner(), h.PutAgentConfig)
	api.GET("/stats", RequireStaff(), h.Stats)
	api.GET("/audit", RequireOwner(), h.ListAudit)

	return &fixture{h: h, repo: repo, audits: audits, router: r}
}

func (f *fixture) do(method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *fixture) token(t *testing.T, role string) string {
	t.Helper()
	pair, err := f.h.Auth.IssuePair(time.Now(), adminEmail, role)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	return pair.AccessToken
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

func TestLogin_IssuesOwnerTokensAndAudits(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodPost, "/v1/auth/login", "", gin.H{"email": "Owner@Bistro.test", "password": adminPassword})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", w.Code, w.Body.String())
	}
	pair := decode[auth.TokenPair](t, w)
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatalf("expected token pair")
	}

	me := decode[map[string]string](t, f.do(http.MethodGet, "/v1/me", pair.AccessToken, nil))
	if me["role"] != rbac.RoleOwner || me["user_id"] != adminEmail {
		t.Fatalf("unexpected identity %+v", me)
	}

	evs := f.audits.Events()
	if len(evs) != 1 || evs[0].Type != audit.EventTypeLogin {
		t.Fatalf("expected login audit, got %+v", evs)
	}
}

func TestLogin_RejectsBadCredentials(t *testing.T) {
	f := newFixture(t)

	if w := f.do(http.MethodPost, "/v1/auth/login", "", gin.H{"email": adminEmail, "password": "nope"}); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	if w := f.do(http.MethodPost, "/v1/auth/login", "", gin.H{"email": "someone@else.test", "password": adminPassword}); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	if w := f.do(http.MethodPost, "/v1/auth/login", "", gin.H{"email": "not-an-email"}); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if len(f.audits.Events()) != 0 {
		t.Fatalf("failed logins must not be audited as logins")
	}
}

func TestRefresh_RequiresRefreshToken(t *testing.T) {
	f := newFixture(t)
	pair, err := f.h.Auth.IssuePair(time.Now(), adminEmail, rbac.RoleOwner)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if w := f.do(http.MethodPost, "/v1/auth/refresh", "", gin.H{"refresh_token": pair.AccessToken}); w.Code != http.StatusUnauthorized {
		t.Fatalf("access token must not refresh, got %d", w.Code)
	}
	w := f.do(http.MethodPost, "/v1/auth/refresh", "", gin.H{"refresh_token": pair.RefreshToken})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", w.Code, w.Body.String())
	}
	if decode[auth.TokenPair](t, w).AccessToken == "" {
		t.Fatalf("expected new access token")
	}
}

func TestProtectedRoutes_RequireToken(t *testing.T) {
	f := newFixture(t)
	if w := f.do(http.MethodGet, "/v1/reservations", "", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestReservations_ListAndUpdateStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.repo.CreateReservation(ctx, records.NewReservation{
		Name: "Ana", Email: "ana@example.com", Date: "2025-03-14", Time: "19:30:00", Guests: 2,
		Status: records.ReservationConfirmed,
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	staff := f.token(t, rbac.RoleStaff)

	list := decode[struct {
		Reservations []records.Reservation `json:"reservations"`
	}](t, f.do(http.MethodGet, "/v1/reservations?date=2025-03-14", staff, nil))
	if len(list.Reservations) != 1 || list.Reservations[0].ID != res.ID {
		t.Fatalf("unexpected list %+v", list)
	}
	if w := f.do(http.MethodGet, "/v1/reservations?date=14/03/2025", staff, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad date, got %d", w.Code)
	}

	w := f.do(http.MethodPatch, "/v1/reservations/"+res.ID, staff, gin.H{"status": "Cancelled"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", w.Code, w.Body.String())
	}
	if got := decode[records.Reservation](t, w); got.Status != records.ReservationCancelled {
		t.Fatalf("unexpected status %q", got.Status)
	}
	evs := f.audits.Events()
	if len(evs) != 1 || evs[0].Type != audit.EventTypeReservationStatusChanged || evs[0].TargetID != res.ID {
		t.Fatalf("expected status audit, got %+v", evs)
	}

	if w := f.do(http.MethodPatch, "/v1/reservations/"+res.ID, staff, gin.H{"status": "seated"}); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if w := f.do(http.MethodPatch, "/v1/reservations/missing", staff, gin.H{"status": "pending"}); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestConversations_GetAndFilter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv, _ := f.repo.CreateConversation(ctx, time.Now().Add(-time.Minute))
	done, _ := f.repo.CreateConversation(ctx, time.Now().Add(-2*time.Minute))
	if _, err := f.repo.CompleteConversation(ctx, done.ID, time.Now()); err != nil {
		t.Fatalf("complete: %v", err)
	}
	staff := f.token(t, rbac.RoleStaff)

	list := decode[struct {
		Conversations []records.Conversation `json:"conversations"`
	}](t, f.do(http.MethodGet, "/v1/conversations?status=active", staff, nil))
	if len(list.Conversations) != 1 || list.Conversations[0].ID != conv.ID {
		t.Fatalf("unexpected list %+v", list)
	}
	if w := f.do(http.MethodGet, "/v1/conversations?status=ringing", staff, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if w := f.do(http.MethodGet, "/v1/conversations?limit=-1", staff, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if w := f.do(http.MethodGet, "/v1/conversations/"+done.ID, staff, nil); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w := f.do(http.MethodGet, "/v1/conversations/nope", staff, nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestAgentConfig_OwnerOnlyWritesAndAudits(t *testing.T) {
	f := newFixture(t)
	staff := f.token(t, rbac.RoleStaff)
	owner := f.token(t, rbac.RoleOwner)

	if w := f.do(http.MethodGet, "/v1/agent-config", staff, nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before configuration, got %d", w.Code)
	}
	body := gin.H{"restaurant_name": "Bistro", "menu": "soup"}
	if w := f.do(http.MethodPut, "/v1/agent-config", staff, body); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for staff, got %d", w.Code)
	}
	if w := f.do(http.MethodPut, "/v1/agent-config", owner, gin.H{"menu": "soup"}); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without name, got %d", w.Code)
	}

	w := f.do(http.MethodPut, "/v1/agent-config", owner, body)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", w.Code, w.Body.String())
	}
	saved := decode[records.AgentConfig](t, w)
	if saved.ID == "" || saved.RestaurantName != "Bistro" {
		t.Fatalf("unexpected config %+v", saved)
	}

	// unchanged writes are not audited
	_ = f.do(http.MethodPut, "/v1/agent-config", owner, body)
	evs := f.audits.Events()
	if len(evs) != 1 || evs[0].Type != audit.EventTypeAgentConfigUpdated {
		t.Fatalf("expected one config audit, got %+v", evs)
	}

	got := decode[records.AgentConfig](t, f.do(http.MethodGet, "/v1/agent-config", staff, nil))
	if got.ID != saved.ID || got.Menu != "soup" {
		t.Fatalf("unexpected config %+v", got)
	}
}

func TestStats_ValidatesRange(t *testing.T) {
	f := newFixture(t)
	staff := f.token(t, rbac.RoleStaff)
	ctx := context.Background()
	conv, _ := f.repo.CreateConversation(ctx, time.Now())
	_, _ = f.repo.CreateReservation(ctx, records.NewReservation{
		ConversationID: conv.ID, Name: "Ana", Email: "ana@example.com",
		Date: "2025-03-14", Time: "19:30:00", Guests: 2,
	})

	w := f.do(http.MethodGet, "/v1/stats", staff, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", w.Code, w.Body.String())
	}
	stats := decode[reporting.Stats](t, w)
	if stats.Conversations.Total != 1 || stats.Reservations.Total != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	if w := f.do(http.MethodGet, "/v1/stats?from=2025-03-15&to=2025-03-14", staff, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for inverted range, got %d", w.Code)
	}
	if w := f.do(http.MethodGet, "/v1/stats?from=yesterday", staff, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad bound, got %d", w.Code)
	}
}

func TestAudit_OwnerOnly(t *testing.T) {
	f := newFixture(t)
	if w := f.do(http.MethodGet, "/v1/audit", f.token(t, rbac.RoleStaff), nil); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
	if w := f.do(http.MethodGet, "/v1/audit", f.token(t, rbac.RoleOwner), nil); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

// gin's Stream needs a CloseNotifier.
type streamRecorder struct {
	*httptest.ResponseRecorder
	closed chan bool
}

func (r *streamRecorder) CloseNotify() <-chan bool { return r.closed }

type signalingNotifier struct {
	*records.LocalNotifier
	subscribed chan struct{}
}

func (n signalingNotifier) Subscribe(ctx context.Context) (<-chan records.Change, error) {
	ch, err := n.LocalNotifier.Subscribe(ctx)
	close(n.subscribed)
	return ch, err
}

func TestEvents_StreamsChanges(t *testing.T) {
	gin.SetMode(gin.TestMode)
	n := signalingNotifier{LocalNotifier: records.NewLocalNotifier(), subscribed: make(chan struct{})}
	h := Handlers{Notifier: n}

	r := gin.New()
	r.GET("/v1/events", h.Events)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/v1/events", nil).WithContext(ctx)
	w := &streamRecorder{ResponseRecorder: httptest.NewRecorder(), closed: make(chan bool, 1)}

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.ServeHTTP(w, req)
	}()

	select {
	case <-n.subscribed:
	case <-time.After(2 * time.Second):
		t.Fatalf("handler never subscribed")
	}
	_ = n.Publish(context.Background(), records.Change{Table: records.TableReservations, Op: records.OpInsert, ID: "r1"})

	// the change must be written before the stream is torn down
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("stream did not stop on cancel")
	}

	body := w.Body.String()
	if !strings.Contains(body, "event:change") || !strings.Contains(body, `"id":"r1"`) {
		t.Fatalf("unexpected stream %q", body)
	}
}

func TestEvents_DisabledWithoutNotifier(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/v1/events", Handlers{}.Events)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/events", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestEvents_EndsWhenServerCloses(t *testing.T) {
	gin.SetMode(gin.TestMode)
	n := signalingNotifier{LocalNotifier: records.NewLocalNotifier(), subscribed: make(chan struct{})}
	closing := make(chan struct{})
	h := Handlers{Notifier: n, Closing: closing}

	r := gin.New()
	r.GET("/v1/events", h.Events)

	// the request context is never cancelled, as with an in-flight request during Shutdown
	req := httptest.NewRequest(http.MethodGet, "/v1/events", nil)
	w := &streamRecorder{ResponseRecorder: httptest.NewRecorder(), closed: make(chan bool, 1)}

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.ServeHTTP(w, req)
	}()

	select {
	case <-n.subscribed:
	case <-time.After(2 * time.Second):
		t.Fatalf("handler never subscribed")
	}
	close(closing)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("stream did not end on server close")
	}
}
