package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"

	"pactline/internal/config"
	"pactline/internal/db"
	"pactline/internal/domain"
	"pactline/internal/engine"
	"pactline/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default())
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth: AuthConfig{
			JWTSecret:              "test-secret",
			AllowLegacyActorHeader: true,
			DevLogin:               true,
		},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(testSrv.Close)
	return testSrv
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func asActor(actor string) map[string]string {
	return map[string]string{"X-Actor-Id": actor}
}

func decodePromise(t *testing.T, data []byte) domain.Promise {
	t.Helper()
	var p domain.Promise
	if err := json.Unmarshal(data, &p); err != nil {
		t.Fatalf("decode promise: %v (%s)", err, data)
	}
	return p
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("decode error envelope: %v (%s)", err, data)
	}
	return envelope.Error.Code
}

func createBet(t *testing.T, s *testServer) domain.Promise {
	t.Helper()
	res, data := doJSON(t, s.Client(), http.MethodPost, s.URL+"/v0/promises", map[string]any{
		"type":  "bet",
		"title": "First to the summit",
		"participants": []map[string]any{
			{"user_id": "alice"},
			{"user_id": "bob", "role": "counterparty"},
		},
	}, asActor("alice"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d (%s)", res.StatusCode, data)
	}
	return decodePromise(t, data)
}

func TestHealthIsPublic(t *testing.T) {
	s := newTestServer(t)
	res, data := doJSON(t, s.Client(), http.MethodGet, s.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d (%s)", res.StatusCode, data)
	}
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(t)
	res, data := doJSON(t, s.Client(), http.MethodGet, s.URL+"/v0/promises", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d (%s)", res.StatusCode, data)
	}
	if code := errorCode(t, data); code != "unauthorized" {
		t.Fatalf("code = %s", code)
	}
}

func TestPromiseLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)
	p := createBet(t, s)
	base := s.URL + "/v0/promises/" + p.ID

	res, data := doJSON(t, s.Client(), http.MethodPost, base+"/send", nil, asActor("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("send status = %d (%s)", res.StatusCode, data)
	}
	if got := decodePromise(t, data); got.Status != "proposed" {
		t.Fatalf("after send status = %s", got.Status)
	}

	res, data = doJSON(t, s.Client(), http.MethodPost, base+"/accept", nil, asActor("bob"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("accept status = %d (%s)", res.StatusCode, data)
	}

	res, data = doJSON(t, s.Client(), http.MethodPost, base+"/settle", map[string]any{
		"winner_user_id": "bob",
		"note":           "photo finish",
	}, asActor("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("settle status = %d (%s)", res.StatusCode, data)
	}
	if got := decodePromise(t, data); got.Status != "fulfilled" {
		t.Fatalf("after settle status = %s", got.Status)
	}

	res, data = doJSON(t, s.Client(), http.MethodGet, base+"/receipts", nil, asActor("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("receipts status = %d (%s)", res.StatusCode, data)
	}
	var receipts []domain.Receipt
	if err := json.Unmarshal(data, &receipts); err != nil {
		t.Fatalf("decode receipts: %v", err)
	}
	if len(receipts) != 3 || receipts[0].Action != "sent" || receipts[1].Action != "accepted" || receipts[2].Action != "settled" {
		t.Fatalf("receipts = %+v", receipts)
	}
}

func TestErrorMapping(t *testing.T) {
	s := newTestServer(t)
	p := createBet(t, s)
	base := s.URL + "/v0/promises/" + p.ID

	// Unknown id -> 404
	res, data := doJSON(t, s.Client(), http.MethodGet, s.URL+"/v0/promises/ffffffff-0000-0000-0000-000000000000", nil, asActor("alice"))
	if res.StatusCode != http.StatusNotFound || errorCode(t, data) != "not_found" {
		t.Fatalf("unknown id: %d %s", res.StatusCode, data)
	}

	// Guarded transition from the wrong status -> 409
	res, data = doJSON(t, s.Client(), http.MethodPost, base+"/fulfill", nil, asActor("alice"))
	if res.StatusCode != http.StatusConflict || errorCode(t, data) != "invalid_transition" {
		t.Fatalf("fulfill draft: %d %s", res.StatusCode, data)
	}

	// Non-positive extend -> 400
	res, data = doJSON(t, s.Client(), http.MethodPost, base+"/extend", map[string]any{"minutes": 0}, asActor("alice"))
	if res.StatusCode != http.StatusBadRequest || errorCode(t, data) != "bad_request" {
		t.Fatalf("extend 0: %d %s", res.StatusCode, data)
	}

	// Settle with a stranger as winner -> 400
	doJSON(t, s.Client(), http.MethodPost, base+"/send", nil, asActor("alice"))
	doJSON(t, s.Client(), http.MethodPost, base+"/accept", nil, asActor("bob"))
	res, data = doJSON(t, s.Client(), http.MethodPost, base+"/settle", map[string]any{"winner_user_id": "mallory"}, asActor("alice"))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("settle stranger: %d %s", res.StatusCode, data)
	}
}

func TestShareEndpointIsPublic(t *testing.T) {
	s := newTestServer(t)
	p := createBet(t, s)

	res, data := doJSON(t, s.Client(), http.MethodGet, s.URL+"/v0/share/"+p.ShareCode, nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("share status = %d (%s)", res.StatusCode, data)
	}
	if got := decodePromise(t, data); got.ID != p.ID {
		t.Fatalf("share returned %s, want %s", got.ID, p.ID)
	}

	res, data = doJSON(t, s.Client(), http.MethodPost, s.URL+"/v0/promises", map[string]any{
		"type":       "oath",
		"title":      "Secret",
		"visibility": "private",
	}, asActor("alice"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create private: %d (%s)", res.StatusCode, data)
	}
	private := decodePromise(t, data)
	res, data = doJSON(t, s.Client(), http.MethodGet, s.URL+"/v0/share/"+private.ShareCode, nil, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("private share status = %d (%s)", res.StatusCode, data)
	}
}

func TestSoftDeleteOverHTTP(t *testing.T) {
	s := newTestServer(t)
	p := createBet(t, s)
	base := s.URL + "/v0/promises/" + p.ID

	res, data := doJSON(t, s.Client(), http.MethodDelete, base, nil, asActor("alice"))
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d (%s)", res.StatusCode, data)
	}
	res, data = doJSON(t, s.Client(), http.MethodGet, base, nil, asActor("alice"))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("get after delete = %d (%s)", res.StatusCode, data)
	}
	res, data = doJSON(t, s.Client(), http.MethodPost, base+"/send", nil, asActor("alice"))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("send after delete = %d (%s)", res.StatusCode, data)
	}
}

func TestConditionsAndEvidenceOverHTTP(t *testing.T) {
	s := newTestServer(t)
	res, data := doJSON(t, s.Client(), http.MethodPost, s.URL+"/v0/promises", map[string]any{
		"type":  "challenge",
		"title": "30 day streak",
		"participants": []map[string]any{
			{"user_id": "alice"}, {"user_id": "bob"},
		},
		"conditions": []map[string]any{
			{"label": "run every day", "type": "action"},
		},
	}, asActor("alice"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create: %d (%s)", res.StatusCode, data)
	}
	p := decodePromise(t, data)
	base := s.URL + "/v0/promises/" + p.ID

	res, data = doJSON(t, s.Client(), http.MethodPost, base+"/conditions/"+p.Conditions[0].ID+"/met", nil, asActor("bob"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("condition met: %d (%s)", res.StatusCode, data)
	}
	if got := decodePromise(t, data); !got.Conditions[0].IsMet {
		t.Fatalf("condition not met: %+v", got.Conditions)
	}

	res, data = doJSON(t, s.Client(), http.MethodPost, base+"/evidences", map[string]any{
		"kind": "photo",
		"url":  "https://example.com/day1.jpg",
	}, asActor("alice"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("add evidence: %d (%s)", res.StatusCode, data)
	}
	var ev domain.Evidence
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("decode evidence: %v", err)
	}
	if ev.ByUserID != "alice" || ev.Kind != "photo" {
		t.Fatalf("evidence = %+v", ev)
	}

	res, data = doJSON(t, s.Client(), http.MethodDelete, base+"/evidences/"+ev.ID, nil, asActor("alice"))
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("remove evidence: %d (%s)", res.StatusCode, data)
	}
}

func TestCoinFlipOverHTTP(t *testing.T) {
	s := newTestServer(t)
	p := createBet(t, s)
	res, data := doJSON(t, s.Client(), http.MethodPost, s.URL+"/v0/promises/"+p.ID+"/coin-flip", nil, asActor("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("coin flip: %d (%s)", res.StatusCode, data)
	}
	var out CoinFlipResponse
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Result != "heads" && out.Result != "tails" {
		t.Fatalf("result = %q", out.Result)
	}
}

func TestDevLoginAndBearerAuth(t *testing.T) {
	s := newTestServer(t)
	res, data := doJSON(t, s.Client(), http.MethodPost, s.URL+"/v0/auth/dev/login", map[string]any{
		"actor_id": "alice",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login: %d (%s)", res.StatusCode, data)
	}
	var out DevLoginResponse
	if err := json.Unmarshal(data, &out); err != nil || out.Token == "" {
		t.Fatalf("token: %v (%s)", err, data)
	}

	headers := map[string]string{"Authorization": "Bearer " + out.Token}
	res, data = doJSON(t, s.Client(), http.MethodGet, s.URL+"/v0/me", nil, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me: %d (%s)", res.StatusCode, data)
	}
	var me MeResponse
	if err := json.Unmarshal(data, &me); err != nil {
		t.Fatalf("decode me: %v", err)
	}
	if me.ActorID != "alice" || me.Source != "jwt" {
		t.Fatalf("me = %+v", me)
	}

	res, data = doJSON(t, s.Client(), http.MethodGet, s.URL+"/v0/me", nil, map[string]string{"Authorization": "Bearer bogus"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bogus token: %d (%s)", res.StatusCode, data)
	}
}

func TestListPromisesPerActor(t *testing.T) {
	s := newTestServer(t)
	createBet(t, s)
	createBet(t, s)

	res, data := doJSON(t, s.Client(), http.MethodGet, s.URL+"/v0/promises", nil, asActor("bob"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list: %d (%s)", res.StatusCode, data)
	}
	var items []domain.Promise
	if err := json.Unmarshal(data, &items); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("bob sees %d promises, want 2", len(items))
	}

	res, data = doJSON(t, s.Client(), http.MethodGet, s.URL+"/v0/promises", nil, asActor("stranger"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list stranger: %d (%s)", res.StatusCode, data)
	}
	items = nil
	if err := json.Unmarshal(data, &items); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("stranger sees %d promises", len(items))
	}
}
