package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"

	"bayline/internal/config"
	"bayline/internal/db"
	"bayline/internal/engine"
	"bayline/internal/migrate"
)

const testCompany = "garage-1"

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	cfg := config.Default(testCompany)
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	if _, err := e.InitCompany(context.Background(), testCompany, "Test Garage", "tester"); err != nil {
		t.Fatalf("init company: %v", err)
	}
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth: AuthConfig{
			JWTSecret:              "test-secret",
			AllowLegacyActorHeader: true,
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
		Engine: e,
		client: &http.Client{},
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
	req.Header.Set("X-Actor-Id", "tester")
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

func createBay(t *testing.T, srv *testServer) string {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/companies/"+testCompany+"/bays", map[string]any{
		"name": "Bay 1",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create bay: %d %s", res.StatusCode, string(data))
	}
	var bay BayResponse
	if err := json.Unmarshal(data, &bay); err != nil {
		t.Fatalf("unmarshal bay: %v", err)
	}
	memberRes, memberBody := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/bays/"+bay.ID+"/members", map[string]any{
		"actor_id": "tester",
	}, nil)
	if memberRes.StatusCode != http.StatusNoContent && memberRes.StatusCode != http.StatusOK {
		t.Fatalf("add member: %d %s", memberRes.StatusCode, string(memberBody))
	}
	return bay.ID
}

func upsertBayOrder(t *testing.T, srv *testServer, bayID string, stock int64, field, start, end string) (WorkOrderResponse, *http.Response, []byte) {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/v0/companies/"+testCompany+"/work-orders", map[string]any{
		"vehicle_type":     "inspection",
		"vehicle_stock_id": stock,
		"field_id":         field,
		"mode":             "bay",
		"bay_id":           bayID,
		"booking_date":     "2026-03-02",
		"start_time":       start,
		"end_time":         end,
	}, nil)
	var w WorkOrderResponse
	if res.StatusCode == http.StatusOK || res.StatusCode == http.StatusCreated {
		if err := json.Unmarshal(data, &w); err != nil {
			t.Fatalf("unmarshal work order: %v", err)
		}
	}
	return w, res, data
}

func TestHealthNoAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, err := http.Get(srv.URL + "/v0/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d", res.StatusCode)
	}
}

func TestUnauthenticatedRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v0/companies", nil)
	res, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.StatusCode)
	}
}

func TestDevLoginAndMe(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{
		"actor_id":   "tester",
		"company_id": testCompany,
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login: %d %s", res.StatusCode, string(data))
	}
	var login DevLoginResponse
	if err := json.Unmarshal(data, &login); err != nil || login.Token == "" {
		t.Fatalf("expected token, err=%v body=%s", err, string(data))
	}
	meRes, meBody := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{
		"Authorization": "Bearer " + login.Token,
	})
	if meRes.StatusCode != http.StatusOK {
		t.Fatalf("me: %d %s", meRes.StatusCode, string(meBody))
	}
	var me WhoAmIResponse
	if err := json.Unmarshal(meBody, &me); err != nil {
		t.Fatalf("unmarshal me: %v", err)
	}
	if me.ActorID != "tester" || me.CompanyID != testCompany {
		t.Fatalf("unexpected principal: %+v", me)
	}
}

func TestWorkOrderUpsertAndConflict(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	bayID := createBay(t, srv)

	w, res, data := upsertBayOrder(t, srv, bayID, 100, "paint", "09:00", "10:00")
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create upsert: %d %s", res.StatusCode, string(data))
	}
	if w.Status != "request" {
		t.Fatalf("expected request status, got %s", w.Status)
	}

	// same identity edits instead of duplicating
	edited, res, data := upsertBayOrder(t, srv, bayID, 100, "paint", "11:00", "12:00")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("edit upsert: %d %s", res.StatusCode, string(data))
	}
	if edited.ID != w.ID {
		t.Fatalf("identity resolved to a new record")
	}

	// different identity into an overlapping slot conflicts
	_, res, data = upsertBayOrder(t, srv, bayID, 200, "paint", "11:30", "12:30")
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d %s", res.StatusCode, string(data))
	}
	var apiErr struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &apiErr); err != nil {
		t.Fatalf("unmarshal error: %v %s", err, string(data))
	}
	if apiErr.Error.Code != "slot_unavailable" {
		t.Fatalf("expected slot_unavailable, got %s: %s", apiErr.Error.Code, string(data))
	}

	// a back-to-back slot is fine
	_, res, data = upsertBayOrder(t, srv, bayID, 201, "paint", "12:00", "13:00")
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("back-to-back: %d %s", res.StatusCode, string(data))
	}
}

func TestTransitionFlow(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	bayID := createBay(t, srv)
	w, res, data := upsertBayOrder(t, srv, bayID, 100, "paint", "09:00", "10:00")
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("upsert: %d %s", res.StatusCode, string(data))
	}

	steps := []struct {
		path   string
		body   any
		status string
	}{
		{"/accept", nil, "accepted"},
		{"/start", nil, "in_progress"},
		{"/comment-sheet", map[string]any{"sheet": map[string]any{"note": "ok"}, "submit": true}, "review"},
		{"/rework", map[string]any{"note": "redo"}, "rework"},
		{"/resume", nil, "in_progress"},
		{"/comment-sheet", map[string]any{"sheet": map[string]any{"note": "fixed"}, "submit": true}, "review"},
		{"/complete", nil, "completed"},
	}
	for _, step := range steps {
		res, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/work-orders/"+w.ID+step.path, step.body, nil)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("%s: %d %s", step.path, res.StatusCode, string(body))
		}
		var out WorkOrderResponse
		if err := json.Unmarshal(body, &out); err != nil {
			t.Fatalf("%s unmarshal: %v", step.path, err)
		}
		if out.Status != step.status {
			t.Fatalf("%s: expected %s, got %s", step.path, step.status, out.Status)
		}
	}

	// completed is terminal
	res, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/work-orders/"+w.ID+"/start", nil, nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected invalid transition 409, got %d %s", res.StatusCode, string(body))
	}
}

func TestSupplierFanOutOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	for _, id := range []string{"sup-a", "sup-b"} {
		res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/companies/"+testCompany+"/suppliers", map[string]any{
			"id":   id,
			"name": id,
		}, nil)
		if res.StatusCode != http.StatusCreated {
			t.Fatalf("create supplier %s: %d %s", id, res.StatusCode, string(data))
		}
	}

	res, data := doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/v0/companies/"+testCompany+"/work-orders", map[string]any{
		"vehicle_type":       "tradein",
		"vehicle_stock_id":   300,
		"field_id":           "engine",
		"mode":               "supplier",
		"selected_suppliers": []string{"sup-a", "sup-b"},
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("supplier upsert: %d %s", res.StatusCode, string(data))
	}
	var w WorkOrderResponse
	if err := json.Unmarshal(data, &w); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	// suppliers respond as themselves; the supplier role carries
	// workorder.respond
	for _, id := range []string{"sup-a", "sup-b"} {
		res, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/work-orders/"+w.ID+"/responses", map[string]any{
			"supplier_id":    id,
			"estimated_cost": 45000,
			"estimated_time": "3 days",
		}, map[string]string{"X-Actor-Id": id})
		if res.StatusCode != http.StatusCreated {
			t.Fatalf("response %s: %d %s", id, res.StatusCode, string(body))
		}
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/work-orders/"+w.ID+"/approve", map[string]any{
		"supplier_id": "sup-a",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("approve: %d %s", res.StatusCode, string(data))
	}
	var approved WorkOrderResponse
	if err := json.Unmarshal(data, &approved); err != nil {
		t.Fatalf("unmarshal approved: %v", err)
	}
	if approved.Status != "accepted" {
		t.Fatalf("expected accepted, got %s", approved.Status)
	}

	// approving a different supplier afterwards conflicts
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/work-orders/"+w.ID+"/approve", map[string]any{
		"supplier_id": "sup-b",
	}, nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d %s", res.StatusCode, string(data))
	}
	var apiErr struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &apiErr); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if apiErr.Error.Code != "approval_conflict" {
		t.Fatalf("expected approval_conflict, got %s", apiErr.Error.Code)
	}
}

func TestAvailabilityEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	bayID := createBay(t, srv)
	if _, res, data := upsertBayOrder(t, srv, bayID, 100, "paint", "09:00", "10:00"); res.StatusCode != http.StatusCreated {
		t.Fatalf("upsert: %d %s", res.StatusCode, string(data))
	}

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/bays/"+bayID+"/availability?date=2026-03-02&start=09:30&end=10:30", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("availability: %d %s", res.StatusCode, string(data))
	}
	var avail AvailabilityResponse
	if err := json.Unmarshal(data, &avail); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if avail.Available {
		t.Fatalf("expected occupied slot")
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/bays/"+bayID+"/availability?date=2026-03-02&start=10:00&end=11:00", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("availability 2: %d %s", res.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, &avail); err != nil {
		t.Fatalf("unmarshal 2: %v", err)
	}
	if !avail.Available {
		t.Fatalf("expected free back-to-back slot")
	}

	// a bay holiday makes every slot of that day unavailable
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/bays/"+bayID+"/holidays", map[string]any{
		"date": "2026-03-02",
	}, nil)
	if res.StatusCode != http.StatusNoContent && res.StatusCode != http.StatusOK {
		t.Fatalf("add holiday: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/bays/"+bayID+"/availability?date=2026-03-02&start=10:00&end=11:00", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("availability 3: %d %s", res.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, &avail); err != nil {
		t.Fatalf("unmarshal 3: %v", err)
	}
	if avail.Available {
		t.Fatalf("expected holiday to read as unavailable")
	}
}

func TestEventsEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	bayID := createBay(t, srv)
	if _, res, data := upsertBayOrder(t, srv, bayID, 100, "paint", "09:00", "10:00"); res.StatusCode != http.StatusCreated {
		t.Fatalf("upsert: %d %s", res.StatusCode, string(data))
	}

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/companies/"+testCompany+"/events?limit=10", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events: %d %s", res.StatusCode, string(data))
	}
	var page paginatedEvents
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(page.Items) == 0 {
		t.Fatalf("expected event entries")
	}
	found := false
	for _, evt := range page.Items {
		if evt.Action == "workorder.created" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected workorder.created in event log")
	}
}
