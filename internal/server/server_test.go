package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"spycats/internal/breeds"
	"spycats/internal/db"
	"spycats/internal/engine"
	"spycats/internal/metrics"
	"spycats/internal/migrate"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T, catalog breeds.Catalog) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	dialect := db.DialectFor(db.DriverSQLite)
	if _, err := migrate.Migrate(context.Background(), conn, dialect); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if catalog == nil {
		catalog = breeds.NewStatic("siamese", "persian")
	}
	m := metrics.New()
	e := engine.New(conn, dialect, catalog)
	e.Metrics = m
	e.Logger = zaptest.NewLogger(t)
	handler, err := New(Config{Engine: e, BasePath: "/v1", Logger: zaptest.NewLogger(t), Metrics: m})
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
		client: &http.Client{Transport: &http.Transport{DisableKeepAlives: true}},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
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

type errorEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func expectError(t *testing.T, res *http.Response, data []byte, status int, code string) errorEnvelope {
	t.Helper()
	if res.StatusCode != status {
		t.Fatalf("expected status %d, got %d: %s", status, res.StatusCode, string(data))
	}
	var env errorEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, string(data))
	}
	if env.Error.Code != code {
		t.Fatalf("expected code %s, got %s: %s", code, env.Error.Code, string(data))
	}
	return env
}

func createCat(t *testing.T, srv *testServer, name string) CatResponse {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/cats", map[string]any{
		"name":             name,
		"experience_years": 4,
		"breed":            "Siamese",
		"salary":           "1500",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create cat status %d: %s", res.StatusCode, string(data))
	}
	var cat CatResponse
	if err := json.Unmarshal(data, &cat); err != nil {
		t.Fatalf("unmarshal cat: %v", err)
	}
	return cat
}

func createMission(t *testing.T, srv *testServer, n int) MissionResponse {
	t.Helper()
	targets := make([]map[string]any, 0, n)
	for i := 0; i < n; i++ {
		targets = append(targets, map[string]any{"name": "Target", "country": "UK", "notes": "initial"})
	}
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/missions", map[string]any{"targets": targets}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create mission status %d: %s", res.StatusCode, string(data))
	}
	var m MissionResponse
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal mission: %v", err)
	}
	return m
}

func TestHealthAndDocs(t *testing.T) {
	srv, cleanup := newTestServer(t, nil)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/health", nil, nil)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), "ok") {
		t.Fatalf("health: %d %s", res.StatusCode, string(data))
	}
	if res.Header.Get("X-Request-Id") == "" {
		t.Fatalf("expected request id header")
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/openapi.json", nil, nil)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), "/cats/{cat_id}") {
		t.Fatalf("openapi: %d", res.StatusCode)
	}
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/docs", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("docs: %d", res.StatusCode)
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/metrics", nil, nil)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), "spycats_http_requests_total") {
		t.Fatalf("metrics: %d %s", res.StatusCode, string(data))
	}
}

func TestCreateCatBreedValidation(t *testing.T) {
	srv, cleanup := newTestServer(t, nil)
	defer cleanup()

	cat := createCat(t, srv, "Tom")
	if cat.Salary != "1500.00" || cat.MissionID != nil {
		t.Fatalf("unexpected cat %+v", cat)
	}
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/cats", map[string]any{
		"name": "Puff", "experience_years": 1, "breed": "Dragon", "salary": "10",
	}, nil)
	env := expectError(t, res, data, http.StatusBadRequest, "invalid_breed")
	if env.Error.Details["kind"] != "validation" || env.Error.Details["field"] != "breed" {
		t.Fatalf("unexpected details %v", env.Error.Details)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/cats", map[string]any{
		"name": "Puff", "experience_years": 1, "breed": "Persian", "salary": "-1",
	}, nil)
	expectError(t, res, data, http.StatusBadRequest, "invalid_field")
}

func TestBreedCatalogFailures(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer failing.Close()
	srv, cleanup := newTestServer(t, &breeds.HTTPCatalog{URL: failing.URL, Client: failing.Client()})
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/cats", map[string]any{
		"name": "Tom", "experience_years": 1, "breed": "Siamese", "salary": "10",
	}, nil)
	env := expectError(t, res, data, http.StatusBadGateway, "breed_catalog_unavailable")
	if env.Error.Details["kind"] != "dependency" {
		t.Fatalf("unexpected details %v", env.Error.Details)
	}

	release := make(chan struct{})
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer slow.Close()
	defer close(release)
	slowSrv, slowCleanup := newTestServer(t, &breeds.HTTPCatalog{URL: slow.URL, Timeout: 50 * time.Millisecond})
	defer slowCleanup()
	res, data = doJSON(t, slowSrv.Client(), http.MethodPost, slowSrv.URL+"/v1/cats", map[string]any{
		"name": "Tom", "experience_years": 1, "breed": "Siamese", "salary": "10",
	}, nil)
	expectError(t, res, data, http.StatusGatewayTimeout, "breed_catalog_unavailable")
}

func TestUpdateCatOnlySalary(t *testing.T) {
	srv, cleanup := newTestServer(t, nil)
	defer cleanup()
	cat := createCat(t, srv, "Tom")
	url := srv.URL + "/v1/cats/" + cat.ID

	res, data := doJSON(t, srv.Client(), http.MethodPatch, url, map[string]any{"salary": "2000", "name": "Jerry"}, nil)
	expectError(t, res, data, http.StatusBadRequest, "field_not_editable")

	res, data = doJSON(t, srv.Client(), http.MethodGet, url, nil, nil)
	var fetched CatResponse
	_ = json.Unmarshal(data, &fetched)
	if res.StatusCode != http.StatusOK || fetched.Name != "Tom" || fetched.Salary != "1500.00" {
		t.Fatalf("cat modified by rejected update: %s", string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodPatch, url, map[string]any{"salary": "2000.5"}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("update salary: %d %s", res.StatusCode, string(data))
	}
	var updated CatResponse
	_ = json.Unmarshal(data, &updated)
	if updated.Salary != "2000.50" {
		t.Fatalf("expected salary 2000.50, got %s", updated.Salary)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPatch, srv.URL+"/v1/cats/missing", map[string]any{"salary": "1"}, nil)
	expectError(t, res, data, http.StatusNotFound, "cat_not_found")
}

func TestMissionTargetCount(t *testing.T) {
	srv, cleanup := newTestServer(t, nil)
	defer cleanup()
	for _, n := range []int{0, 4} {
		targets := make([]map[string]any, n)
		for i := range targets {
			targets[i] = map[string]any{"name": "x", "country": "y"}
		}
		res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/missions", map[string]any{"targets": targets}, nil)
		expectError(t, res, data, http.StatusBadRequest, "invalid_target_count")
	}
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/missions", nil, nil)
	if res.StatusCode != http.StatusOK || strings.TrimSpace(string(data)) != "[]" {
		t.Fatalf("expected no missions, got %d %s", res.StatusCode, string(data))
	}
}

func TestAssignConflictsAndDelete(t *testing.T) {
	srv, cleanup := newTestServer(t, nil)
	defer cleanup()
	client := srv.Client()
	cat := createCat(t, srv, "Tom")
	m1 := createMission(t, srv, 2)
	m2 := createMission(t, srv, 1)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/missions/"+m1.ID+"/assign/"+cat.ID, nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("assign: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/missions/"+m2.ID+"/assign/"+cat.ID, nil, nil)
	expectError(t, res, data, http.StatusConflict, "cat_already_assigned")

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/missions/"+m2.ID, nil, nil)
	var fetched MissionResponse
	_ = json.Unmarshal(data, &fetched)
	if res.StatusCode != http.StatusOK || fetched.CatID != nil {
		t.Fatalf("m2 should stay unassigned: %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/v1/missions/"+m1.ID, nil, nil)
	expectError(t, res, data, http.StatusConflict, "mission_assigned")

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/missions/"+m1.ID+"/unassign", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("unassign: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/v1/missions/"+m1.ID, nil, nil)
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("delete mission: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/targets/"+m1.Targets[0].ID, nil, nil)
	expectError(t, res, data, http.StatusNotFound, "target_not_found")
}

func TestTargetCompletionFlow(t *testing.T) {
	srv, cleanup := newTestServer(t, nil)
	defer cleanup()
	client := srv.Client()
	m := createMission(t, srv, 2)
	first := srv.URL + "/v1/targets/" + m.Targets[0].ID
	second := srv.URL + "/v1/targets/" + m.Targets[1].ID

	res, data := doJSON(t, client, http.MethodPatch, first, map[string]any{"notes": "spotted", "is_completed": true}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("complete first: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPatch, first, map[string]any{"notes": "changed"}, nil)
	env := expectError(t, res, data, http.StatusBadRequest, "notes_frozen")
	if env.Error.Details["kind"] != "frozen" {
		t.Fatalf("unexpected details %v", env.Error.Details)
	}
	res, data = doJSON(t, client, http.MethodPatch, first, map[string]any{"notes": "spotted"}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("unchanged resubmission: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPatch, second, map[string]any{"is_completed": true}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("complete second: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/missions/"+m.ID, nil, nil)
	var fetched MissionResponse
	_ = json.Unmarshal(data, &fetched)
	if !fetched.IsCompleted {
		t.Fatalf("mission should be completed: %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodPatch, second, map[string]any{"country": "FR"}, nil)
	expectError(t, res, data, http.StatusBadRequest, "mission_frozen")

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/events?entity_kind=mission&entity_id="+m.ID+"&limit=1", nil, nil)
	var evts []EventResponse
	_ = json.Unmarshal(data, &evts)
	if res.StatusCode != http.StatusOK || len(evts) != 1 || evts[0].Type != "mission.completed" {
		t.Fatalf("expected mission.completed event: %s", string(data))
	}
}

func TestListBreeds(t *testing.T) {
	srv, cleanup := newTestServer(t, nil)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/breeds", nil, nil)
	var body BreedsResponse
	_ = json.Unmarshal(data, &body)
	if res.StatusCode != http.StatusOK || len(body.Breeds) != 2 || body.Breeds[0] != "persian" {
		t.Fatalf("breeds: %d %s", res.StatusCode, string(data))
	}
}
