package http

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"flockvet/internal/alerts"
	"flockvet/internal/auth"
	"flockvet/internal/core"
	"flockvet/internal/db"
	"flockvet/internal/knowledge"
	"flockvet/pkg"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

// memStore is an in-memory Store.
type memStore struct {
	mu        sync.Mutex
	sessions  map[string]*pkg.Session
	messages  map[string][]pkg.Message
	summaries map[string]*pkg.Summary
	visits    map[string]*pkg.Visit
}

func newMemStore() *memStore {
	return &memStore{
		sessions:  make(map[string]*pkg.Session),
		messages:  make(map[string][]pkg.Message),
		summaries: make(map[string]*pkg.Summary),
		visits:    make(map[string]*pkg.Visit),
	}
}

func (m *memStore) CreateSession(_ context.Context, messageCap int, farmerName, farmName *string) (*pkg.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := &pkg.Session{ID: uuid.NewString(), CreatedAt: time.Now().UTC(), MessageCap: messageCap, FarmerName: farmerName, FarmName: farmName}
	m.sessions[s.ID] = s
	return s, nil
}

func (m *memStore) GetSession(_ context.Context, id string) (*pkg.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memStore) CreateMessage(_ context.Context, msg pkg.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[msg.SessionID]; !ok {
		return db.ErrNotFound
	}
	m.messages[msg.SessionID] = append(m.messages[msg.SessionID], msg)
	return nil
}

func (m *memStore) GetTranscript(_ context.Context, id string) ([]pkg.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]pkg.Message(nil), m.messages[id]...), nil
}

func (m *memStore) CountFarmerMessages(_ context.Context, id string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, msg := range m.messages[id] {
		if msg.IsUser() {
			n++
		}
	}
	return n, nil
}

func (m *memStore) UpsertSummary(_ context.Context, s *pkg.Summary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.summaries[s.SessionID] = &cp
	return nil
}

func (m *memStore) GetSummary(_ context.Context, id string) (*pkg.Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.summaries[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (m *memStore) ListActiveSessions(_ context.Context) ([]pkg.VetSessionPreview, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []pkg.VetSessionPreview
	for id, s := range m.sessions {
		if s.ClosedAt != nil {
			continue
		}
		p := pkg.VetSessionPreview{SessionID: id, FarmName: s.FarmName, KeyPoints: []string{}}
		if sum, ok := m.summaries[id]; ok {
			p.KeyPoints = sum.KeyPoints
			p.Emergency = sum.Emergency
			p.UpdatedAt = sum.UpdatedAt
		}
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Emergency && !out[j].Emergency })
	return out, nil
}

func (m *memStore) CreateVisit(_ context.Context, v pkg.Visit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[v.SessionID]; !ok {
		return db.ErrNotFound
	}
	m.visits[v.ID] = &v
	return nil
}

func (m *memStore) ListVisits(_ context.Context, f pkg.VisitFilter) ([]pkg.Visit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []pkg.Visit{}
	for _, v := range m.visits {
		if f.Matches(*v) {
			out = append(out, *v)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority.Rank() != out[j].Priority.Rank() {
			return out[i].Priority.Rank() < out[j].Priority.Rank()
		}
		return out[i].ScheduledFor.Before(out[j].ScheduledFor)
	})
	return out, nil
}

func (m *memStore) UpdateVisitStatus(_ context.Context, id string, u pkg.VisitUpdate) (*pkg.Visit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.visits[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	cp := *v
	if err := u.Apply(&cp, time.Now().UTC()); err != nil {
		return nil, err
	}
	m.visits[id] = &cp
	return &cp, nil
}

func (m *memStore) close(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	m.sessions[id].ClosedAt = &now
}

// hubNotifier stands in for the Postgres notifier by publishing directly.
type hubNotifier struct {
	hub *alerts.Hub

	mu  sync.Mutex
	ids []string
}

func (n *hubNotifier) Notify(_ context.Context, id string) error {
	n.mu.Lock()
	n.ids = append(n.ids, id)
	n.mu.Unlock()
	if n.hub != nil {
		n.hub.Publish(id)
	}
	return nil
}

func (n *hubNotifier) notified() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.ids...)
}

type fixture struct {
	srv      *Server
	store    *memStore
	notifier *hubNotifier
	hub      *alerts.Hub
	tokens   *auth.TokenService
}

func newFixture(t *testing.T, messageCap int) *fixture {
	t.Helper()
	kb := knowledge.Default()
	matcher := core.NewMatcher(kb, core.WithChooser(func(int) int { return 0 }))
	hub := alerts.NewHub(nil)
	f := &fixture{
		store:    newMemStore(),
		notifier: &hubNotifier{hub: hub},
		hub:      hub,
		tokens:   auth.NewTokenService("test-secret", time.Hour),
	}
	f.srv = NewServer(Deps{
		Store:      f.store,
		Chat:       core.NewChatService(matcher, core.NewPHService(nil, nil), core.ChatConfig{}, nil),
		Summarizer: core.NewSummarizer(matcher, nil, nil),
		Notifier:   f.notifier,
		Alerts:     hub,
		Tokens:     f.tokens,
		MessageCap: messageCap,
	})
	t.Cleanup(f.srv.Wait)
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) token(t *testing.T, role auth.Role) string {
	t.Helper()
	tok, err := f.tokens.Generate("tester", role)
	require.NoError(t, err)
	return tok
}

func (f *fixture) newSession(t *testing.T) string {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/sessions", pkg.CreateSessionRequest{FarmName: "Sunrise Farm"}, "")
	require.Equal(t, http.StatusCreated, rec.Code)
	var resp pkg.CreateSessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.SessionID
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	f := newFixture(t, 10)
	rec := f.do(t, http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateSessionStoresWelcome(t *testing.T) {
	f := newFixture(t, 10)
	rec := f.do(t, http.MethodPost, "/api/sessions", nil, "")
	require.Equal(t, http.StatusCreated, rec.Code)
	resp := decode[pkg.CreateSessionResponse](t, rec)
	assert.Equal(t, knowledge.Default().Welcome, resp.Welcome.Text)
	assert.Equal(t, pkg.RoleAssistant, resp.Welcome.Role)

	rec = f.do(t, http.MethodGet, "/api/sessions/"+resp.SessionID+"/messages", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	transcript := decode[[]pkg.Message](t, rec)
	require.Len(t, transcript, 1)
	assert.Equal(t, resp.Welcome.ID, transcript[0].ID)
}

func TestCreateSessionRejectsBadJSON(t *testing.T) {
	f := newFixture(t, 10)
	req := httptest.NewRequest(http.MethodPost, "/api/sessions", strings.NewReader("{"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPostMessageRepliesAndSummarizes(t *testing.T) {
	f := newFixture(t, 10)
	id := f.newSession(t)

	rec := f.do(t, http.MethodPost, "/api/sessions/"+id+"/messages", pkg.ChatRequest{Content: "five birds found dead this morning"}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[pkg.ChatResponse](t, rec)
	assert.False(t, resp.Capped)
	assert.Contains(t, resp.Reply.Text, "Sudden Death Alert")

	f.srv.Wait()
	assert.Equal(t, []string{id}, f.notifier.notified())
	sum, err := f.store.GetSummary(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, sum)
	assert.True(t, sum.Emergency)
	assert.Equal(t, []string{"Sudden death reported"}, sum.KeyPoints)

	transcript, err := f.store.GetTranscript(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, transcript, 3)
	assert.True(t, transcript[1].IsUser())
	assert.Equal(t, resp.Reply.ID, transcript[2].ID)
}

func TestNonEmergencySummaryAlsoNotifies(t *testing.T) {
	f := newFixture(t, 10)
	id := f.newSession(t)

	rec := f.do(t, http.MethodPost, "/api/sessions/"+id+"/messages", pkg.ChatRequest{Content: "my chickens are coughing"}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	f.srv.Wait()

	assert.Equal(t, []string{id}, f.notifier.notified())
	sum, err := f.store.GetSummary(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, sum)
	assert.False(t, sum.Emergency)
}

func TestPostMessagePHQuestion(t *testing.T) {
	f := newFixture(t, 10)
	id := f.newSession(t)

	rec := f.do(t, http.MethodPost, "/api/sessions/"+id+"/messages", pkg.ChatRequest{Content: "the water pH 5.2, is that ok?"}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[pkg.ChatResponse](t, rec)
	assert.Equal(t, core.InterpretPH("pH 5.2"), resp.Reply.Text)
}

func TestPostMessageValidation(t *testing.T) {
	f := newFixture(t, 10)
	id := f.newSession(t)

	rec := f.do(t, http.MethodPost, "/api/sessions/"+id+"/messages", pkg.ChatRequest{Content: "   "}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/sessions/"+id+"/messages", map[string]string{}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/sessions/"+uuid.NewString()+"/messages", pkg.ChatRequest{Content: "hello"}, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	f.store.close(id)
	rec = f.do(t, http.MethodPost, "/api/sessions/"+id+"/messages", pkg.ChatRequest{Content: "hello"}, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestPostMessageCap(t *testing.T) {
	f := newFixture(t, 1)
	id := f.newSession(t)

	rec := f.do(t, http.MethodPost, "/api/sessions/"+id+"/messages", pkg.ChatRequest{Content: "my chickens are coughing"}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[pkg.ChatResponse](t, rec).Capped)

	rec = f.do(t, http.MethodPost, "/api/sessions/"+id+"/messages", pkg.ChatRequest{Content: "and sneezing"}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[pkg.ChatResponse](t, rec)
	assert.True(t, resp.Capped)
	assert.Equal(t, core.CapMessage, resp.Reply.Text)

	n, err := f.store.CountFarmerMessages(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDiagnose(t *testing.T) {
	f := newFixture(t, 10)

	rec := f.do(t, http.MethodPost, "/api/diagnose", pkg.DiagnoseRequest{Question: "my chickens are coughing"}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[pkg.DiagnoseResponse](t, rec)
	assert.Equal(t, string(core.KindCategory), resp.Kind)
	assert.Equal(t, "respiratorySymptoms", resp.Category)

	rec = f.do(t, http.MethodPost, "/api/diagnose", pkg.DiagnoseRequest{Question: "what is newcastle disease"}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp = decode[pkg.DiagnoseResponse](t, rec)
	assert.Equal(t, string(core.KindDisease), resp.Kind)
	assert.Equal(t, "newcastle", resp.Disease)
	assert.Equal(t, 10, resp.Score)

	rec = f.do(t, http.MethodPost, "/api/diagnose", pkg.DiagnoseRequest{Question: "hello"}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp = decode[pkg.DiagnoseResponse](t, rec)
	assert.Equal(t, string(core.KindNone), resp.Kind)
	assert.Equal(t, knowledge.Default().Fallbacks[0], resp.Reply)
}

func TestDiagnoseWithoutBody(t *testing.T) {
	f := newFixture(t, 10)
	req := httptest.NewRequest(http.MethodPost, "/api/diagnose", nil)
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[pkg.DiagnoseResponse](t, rec)
	assert.Equal(t, string(core.KindNone), resp.Kind)
	assert.Equal(t, knowledge.Default().Fallbacks[0], resp.Reply)
}

func TestDiseaseCatalogue(t *testing.T) {
	f := newFixture(t, 10)
	kb := knowledge.Default()

	rec := f.do(t, http.MethodGet, "/api/diseases", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]knowledge.DiseaseRecord](t, rec), len(kb.Diseases))

	rec = f.do(t, http.MethodGet, "/api/diseases/coccidiosis", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	d, _ := kb.Disease("coccidiosis")
	assert.Equal(t, core.FormatDisease(d), decode[map[string]interface{}](t, rec)["profile"])

	rec = f.do(t, http.MethodGet, "/api/diseases/nope", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/suggestions", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]knowledge.Suggestion](t, rec), len(kb.Suggestions))
}

func TestVetRoutesRequireRole(t *testing.T) {
	f := newFixture(t, 10)

	rec := f.do(t, http.MethodGet, "/api/vet/sessions", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/vet/sessions", nil, "garbage")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/vet/sessions", nil, f.token(t, auth.RoleFarmer))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/vet/sessions", nil, f.token(t, auth.RoleAdmin))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestVetSessionDetails(t *testing.T) {
	f := newFixture(t, 10)
	calm := f.newSession(t)
	urgent := f.newSession(t)

	f.do(t, http.MethodPost, "/api/sessions/"+calm+"/messages", pkg.ChatRequest{Content: "my chickens are coughing"}, "")
	f.do(t, http.MethodPost, "/api/sessions/"+urgent+"/messages", pkg.ChatRequest{Content: "two hens died overnight"}, "")
	f.srv.Wait()

	vet := f.token(t, auth.RoleVeterinary)
	rec := f.do(t, http.MethodGet, "/api/vet/sessions", nil, vet)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]pkg.VetSessionPreview](t, rec)
	require.Len(t, list, 2)
	assert.Equal(t, urgent, list[0].SessionID)
	assert.True(t, list[0].Emergency)

	rec = f.do(t, http.MethodGet, "/api/vet/sessions/"+calm, nil, vet)
	require.Equal(t, http.StatusOK, rec.Code)
	var detail struct {
		Session    pkg.Session   `json:"session"`
		Summary    *pkg.Summary  `json:"summary"`
		Transcript []pkg.Message `json:"transcript"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	assert.Equal(t, calm, detail.Session.ID)
	require.NotNil(t, detail.Summary)
	assert.Equal(t, []string{"Respiratory symptoms reported"}, detail.Summary.KeyPoints)
	assert.Len(t, detail.Transcript, 3)

	rec = f.do(t, http.MethodGet, "/api/vet/sessions/"+uuid.NewString(), nil, vet)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestVetStream(t *testing.T) {
	f := newFixture(t, 10)
	id := f.newSession(t)
	other := f.newSession(t)
	require.NoError(t, f.store.UpsertSummary(context.Background(), &pkg.Summary{
		SessionID: id, KeyPoints: []string{"No specific findings yet"},
	}))

	ts := httptest.NewServer(f.srv)
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/vet/sessions/"+id+"/stream", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+f.token(t, auth.RoleVeterinary))

	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := make(chan string, 4)
	go func() {
		defer close(events)
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			if line := sc.Text(); strings.HasPrefix(line, "data:") {
				events <- strings.TrimPrefix(line, "data:")
			}
		}
	}()

	next := func() pkg.Summary {
		t.Helper()
		select {
		case data := <-events:
			var s pkg.Summary
			require.NoError(t, json.Unmarshal([]byte(data), &s))
			return s
		case <-time.After(5 * time.Second):
			t.Fatal("no event received")
			return pkg.Summary{}
		}
	}

	assert.Equal(t, []string{"No specific findings yet"}, next().KeyPoints)

	// Wait until the handler has subscribed before posting updates.
	require.Eventually(t, func() bool { return f.hub.Subscribers() == 1 }, 5*time.Second, 10*time.Millisecond)

	f.do(t, http.MethodPost, "/api/sessions/"+other+"/messages", pkg.ChatRequest{Content: "my chickens are coughing"}, "")
	f.do(t, http.MethodPost, "/api/sessions/"+id+"/messages", pkg.ChatRequest{Content: "one hen found dead"}, "")
	f.srv.Wait()

	got := next()
	assert.Equal(t, id, got.SessionID)
	assert.True(t, got.Emergency)

	cancel()
	for range events {
	}
	require.Eventually(t, func() bool { return f.hub.Subscribers() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestRequestVisit(t *testing.T) {
	f := newFixture(t, 10)
	id := f.newSession(t)
	when := time.Date(2026, 11, 3, 9, 0, 0, 0, time.UTC)

	rec := f.do(t, http.MethodPost, "/api/sessions/"+id+"/visits",
		pkg.CreateVisitRequest{Title: "Layers off feed", ScheduledFor: when}, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	v := decode[pkg.Visit](t, rec)
	assert.Equal(t, id, v.SessionID)
	assert.Equal(t, pkg.VisitScheduled, v.Status)
	assert.Equal(t, pkg.VisitConsultation, v.Type)
	assert.Equal(t, pkg.PriorityMedium, v.Priority)

	rec = f.do(t, http.MethodGet, "/api/sessions/"+id+"/visits", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	visits := decode[[]pkg.Visit](t, rec)
	require.Len(t, visits, 1)
	assert.Equal(t, v.ID, visits[0].ID)
}

func TestRequestVisitIsUrgentAfterEmergency(t *testing.T) {
	f := newFixture(t, 10)
	id := f.newSession(t)
	f.do(t, http.MethodPost, "/api/sessions/"+id+"/messages", pkg.ChatRequest{Content: "three birds found dead"}, "")
	f.srv.Wait()

	rec := f.do(t, http.MethodPost, "/api/sessions/"+id+"/visits",
		pkg.CreateVisitRequest{Title: "Sudden deaths", Type: pkg.VisitEmergency, ScheduledFor: time.Now()}, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	v := decode[pkg.Visit](t, rec)
	assert.Equal(t, pkg.PriorityUrgent, v.Priority)
	assert.Equal(t, pkg.VisitEmergency, v.Type)
}

func TestRequestVisitValidation(t *testing.T) {
	f := newFixture(t, 10)
	id := f.newSession(t)
	when := time.Now()

	rec := f.do(t, http.MethodPost, "/api/sessions/"+id+"/visits", pkg.CreateVisitRequest{Title: "no date"}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/sessions/"+id+"/visits",
		pkg.CreateVisitRequest{Title: "x", Type: "haircut", ScheduledFor: when}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/sessions/"+id+"/visits", map[string]string{}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/sessions/"+uuid.NewString()+"/visits",
		pkg.CreateVisitRequest{Title: "x", ScheduledFor: when}, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	f.store.close(id)
	rec = f.do(t, http.MethodPost, "/api/sessions/"+id+"/visits",
		pkg.CreateVisitRequest{Title: "x", ScheduledFor: when}, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestVetVisitLifecycle(t *testing.T) {
	f := newFixture(t, 10)
	id := f.newSession(t)
	when := time.Date(2026, 11, 3, 9, 0, 0, 0, time.UTC)

	create := func(title string, p pkg.VisitPriority) pkg.Visit {
		t.Helper()
		rec := f.do(t, http.MethodPost, "/api/sessions/"+id+"/visits",
			pkg.CreateVisitRequest{Title: title, Priority: p, ScheduledFor: when}, "")
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		return decode[pkg.Visit](t, rec)
	}
	routine := create("Routine check", pkg.PriorityLow)
	urgent := create("Vaccination failure", pkg.PriorityUrgent)

	rec := f.do(t, http.MethodGet, "/api/vet/visits", nil, f.token(t, auth.RoleFarmer))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = f.do(t, http.MethodPatch, "/api/vet/visits/"+routine.ID, pkg.VisitUpdate{Status: pkg.VisitCancelled}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	vet := f.token(t, auth.RoleVeterinary)
	rec = f.do(t, http.MethodGet, "/api/vet/visits", nil, vet)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]pkg.Visit](t, rec)
	require.Len(t, list, 2)
	assert.Equal(t, urgent.ID, list[0].ID)

	rec = f.do(t, http.MethodGet, "/api/vet/visits?status=bogus", nil, vet)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	patch := func(visitID string, u pkg.VisitUpdate) *httptest.ResponseRecorder {
		return f.do(t, http.MethodPatch, "/api/vet/visits/"+visitID, u, vet)
	}

	rec = patch(routine.ID, pkg.VisitUpdate{Status: pkg.VisitCompleted})
	assert.Equal(t, http.StatusConflict, rec.Code)

	later := when.Add(24 * time.Hour)
	rec = patch(routine.ID, pkg.VisitUpdate{Status: pkg.VisitRescheduled})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = patch(routine.ID, pkg.VisitUpdate{Status: pkg.VisitRescheduled, ScheduledFor: &later})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, later.Equal(decode[pkg.Visit](t, rec).ScheduledFor))

	rec = patch(urgent.ID, pkg.VisitUpdate{Status: pkg.VisitInProgress})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = patch(urgent.ID, pkg.VisitUpdate{
		Status: pkg.VisitCompleted,
		Results: &pkg.VisitResults{
			Findings:        "Marek's disease in pullets",
			Recommendations: []string{"vaccinate day-old chicks"},
			Medications:     []pkg.Medication{{Name: "vitamin mix", Dosage: "1 g/L", Duration: "5 days"}},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	done := decode[pkg.Visit](t, rec)
	assert.Equal(t, pkg.VisitCompleted, done.Status)
	require.NotNil(t, done.Results)
	assert.Equal(t, "vitamin mix", done.Results.Medications[0].Name)

	rec = patch(urgent.ID, pkg.VisitUpdate{Status: pkg.VisitCancelled})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = patch(uuid.NewString(), pkg.VisitUpdate{Status: pkg.VisitCancelled})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/vet/visits?status=completed&session_id="+id, nil, vet)
	require.Equal(t, http.StatusOK, rec.Code)
	completed := decode[[]pkg.Visit](t, rec)
	require.Len(t, completed, 1)
	assert.Equal(t, urgent.ID, completed[0].ID)
}
