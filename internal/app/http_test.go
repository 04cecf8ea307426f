package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"qasheet/api/internal/store"
)

func authHeader(t *testing.T, svc *Service, user store.User) string {
	t.Helper()
	session, err := svc.IssueSession(context.Background(), user)
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}
	return "Bearer " + session.Token
}

func doRequest(t *testing.T, handler http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return payload
}

func testUser(id string) store.User {
	return store.User{ID: id, DisplayName: id, Role: "user", VerificationStatus: "approved"}
}

func TestHealthEndpoint(t *testing.T) {
	svc := newTestService(&fakeStore{})
	handler := NewHTTPServer(svc, "*").Handler()

	rec := doRequest(t, handler, http.MethodGet, "/api/health", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if payload := decodeJSON(t, rec); payload["ok"] != true {
		t.Fatalf("unexpected body: %v", payload)
	}
}

func TestRequestsWithoutTokenAreUnauthorized(t *testing.T) {
	svc := newTestService(&fakeStore{})
	handler := NewHTTPServer(svc, "*").Handler()

	rec := doRequest(t, handler, http.MethodGet, "/api/sheets", "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if payload := decodeJSON(t, rec); payload["code"] != "UNAUTHORIZED" {
		t.Fatalf("unexpected error envelope: %v", payload)
	}
}

func TestCreateSheetEndpoint(t *testing.T) {
	var inserted store.Sheet
	st := &fakeStore{
		insertSheetFn: func(_ context.Context, sheet store.Sheet) error {
			inserted = sheet
			return nil
		},
	}
	svc := newTestService(st)
	handler := NewHTTPServer(svc, "*").Handler()
	token := authHeader(t, svc, testUser("usr_1"))

	rec := doRequest(t, handler, http.MethodPost, "/api/sheets", token, `{"title":"Release 4.2 regression","kind":"sheet"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if inserted.Title != "Release 4.2 regression" || inserted.OwnerID != "usr_1" {
		t.Fatalf("unexpected insert: %+v", inserted)
	}
	if inserted.Visibility != "restricted" {
		t.Fatalf("new sheets default to restricted, got %q", inserted.Visibility)
	}
	payload := decodeJSON(t, rec)
	if payload["id"] == "" || payload["ownerId"] != "usr_1" {
		t.Fatalf("unexpected payload: %v", payload)
	}
}

func TestSheetNotFoundForStranger(t *testing.T) {
	st := sheetStore(restrictedSheet("sheet_1", "usr_owner"))
	svc := newTestService(st)
	handler := NewHTTPServer(svc, "*").Handler()
	token := authHeader(t, svc, testUser("usr_stranger"))

	rec := doRequest(t, handler, http.MethodGet, "/api/sheets/sheet_1", token, "")
	// Restricted sheets are indistinguishable from missing ones.
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestTransitionEndpointRejectsUnknownAction(t *testing.T) {
	st := memberAs(caseStore(restrictedSheet("sheet_1", "usr_owner"), openCase()), "qa_lead")
	svc := newTestService(st)
	handler := NewHTTPServer(svc, "*").Handler()
	token := authHeader(t, svc, testUser("usr_lead"))

	rec := doRequest(t, handler, http.MethodPost, "/api/sheets/sheet_1/cases/tc_1/transition", token, `{"action":"solidify"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", rec.Code, rec.Body.String())
	}
	if payload := decodeJSON(t, rec); payload["code"] != "VALIDATION_ERROR" {
		t.Fatalf("unexpected error envelope: %v", payload)
	}
}

func TestTransitionEndpointHappyPath(t *testing.T) {
	st := memberAs(caseStore(restrictedSheet("sheet_1", "usr_owner"), openCase()), "qa_tester")
	svc := newTestService(st)
	handler := NewHTTPServer(svc, "*").Handler()
	token := authHeader(t, svc, testUser("usr_tester"))

	rec := doRequest(t, handler, http.MethodPost, "/api/sheets/sheet_1/cases/tc_1/transition", token, `{"action":"submit_for_review"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if payload := decodeJSON(t, rec); payload["workflowStatus"] != "Waiting for QA Lead Approval" {
		t.Fatalf("unexpected payload: %v", payload)
	}
}

func TestResolveEndpointAlreadyResolved(t *testing.T) {
	st := sheetStore(restrictedSheet("sheet_1", "usr_owner"))
	st.getAccessReqFn = func(_ context.Context, requestID string) (store.AccessRequest, error) {
		return store.AccessRequest{ID: requestID, SheetID: "sheet_1", RequesterID: "usr_2", RequestedRole: "viewer", Status: "pending"}, nil
	}
	st.resolveAccessReqFn = func(context.Context, string, string, string, string) (bool, error) {
		return false, nil
	}
	svc := newTestService(st)
	handler := NewHTTPServer(svc, "*").Handler()
	token := authHeader(t, svc, testUser("usr_owner"))

	rec := doRequest(t, handler, http.MethodPost, "/api/sheets/sheet_1/requests/areq_1/resolve", token, `{"decision":"approve"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
	if payload := decodeJSON(t, rec); payload["code"] != "ALREADY_RESOLVED" {
		t.Fatalf("unexpected error envelope: %v", payload)
	}
}

func TestSessionEndpointReportsAnonymous(t *testing.T) {
	svc := newTestService(&fakeStore{})
	handler := NewHTTPServer(svc, "*").Handler()

	rec := doRequest(t, handler, http.MethodGet, "/api/session", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if payload := decodeJSON(t, rec); payload["authenticated"] != false {
		t.Fatalf("unexpected payload: %v", payload)
	}
}

func TestRequestIDHeaderIsEchoed(t *testing.T) {
	svc := newTestService(&fakeStore{})
	handler := NewHTTPServer(svc, "*").Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-ID"); got != "req-42" {
		t.Fatalf("expected request id echoed, got %q", got)
	}
}

func TestAdminRouteForbiddenForRegularUser(t *testing.T) {
	svc := newTestService(&fakeStore{})
	handler := NewHTTPServer(svc, "*").Handler()
	token := authHeader(t, svc, testUser("usr_1"))

	rec := doRequest(t, handler, http.MethodGet, "/api/admin/users", token, "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", rec.Code, rec.Body.String())
	}
}
