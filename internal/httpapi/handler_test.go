package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"smartqueue/internal/models"
	"smartqueue/internal/queue"
	"smartqueue/internal/service"
	"smartqueue/internal/store"
)

type fakeService struct {
	registerFn     func(ctx context.Context, in service.RegisterPartyInput) (models.Party, error)
	generateFn     func(ctx context.Context, in service.GenerateTokenInput) (service.TokenView, error)
	callNextFn     func(ctx context.Context, pointID string) (service.TokenView, error)
	actionFn       func(ctx context.Context, tokenID string) (service.TokenView, error)
	reprioritizeFn func(ctx context.Context, tokenID, priority string) (service.TokenView, error)
	tokenFn        func(ctx context.Context, tokenID string) (service.TokenView, error)
	snapshotFn     func(ctx context.Context, pointID string) (queue.Snapshot, error)
	currentFn      func(ctx context.Context, pointID string) (models.Token, bool, error)
}

func (f fakeService) RegisterParty(ctx context.Context, in service.RegisterPartyInput) (models.Party, error) {
	if f.registerFn == nil {
		return models.Party{}, nil
	}
	return f.registerFn(ctx, in)
}

func (f fakeService) Party(ctx context.Context, partyID string) (models.Party, error) {
	return models.Party{PartyID: partyID}, nil
}

func (f fakeService) PartyTokens(ctx context.Context, partyID string, date time.Time) ([]service.TokenView, error) {
	return nil, nil
}

func (f fakeService) GenerateToken(ctx context.Context, in service.GenerateTokenInput) (service.TokenView, error) {
	if f.generateFn == nil {
		return service.TokenView{}, nil
	}
	return f.generateFn(ctx, in)
}

func (f fakeService) Token(ctx context.Context, tokenID string) (service.TokenView, error) {
	if f.tokenFn == nil {
		return service.TokenView{}, nil
	}
	return f.tokenFn(ctx, tokenID)
}

func (f fakeService) TokenByNumber(ctx context.Context, tokenNumber string, date time.Time) (service.TokenView, error) {
	return service.TokenView{}, nil
}

func (f fakeService) CallNext(ctx context.Context, pointID string) (service.TokenView, error) {
	if f.callNextFn == nil {
		return service.TokenView{}, nil
	}
	return f.callNextFn(ctx, pointID)
}

func (f fakeService) StartService(ctx context.Context, tokenID string) (service.TokenView, error) {
	return f.runAction(ctx, tokenID)
}

func (f fakeService) EndService(ctx context.Context, tokenID string) (service.TokenView, error) {
	return f.runAction(ctx, tokenID)
}

func (f fakeService) AbortActive(ctx context.Context, tokenID string) (service.TokenView, error) {
	return f.runAction(ctx, tokenID)
}

func (f fakeService) CancelToken(ctx context.Context, tokenID string) (service.TokenView, error) {
	return f.runAction(ctx, tokenID)
}

func (f fakeService) MarkNoShow(ctx context.Context, tokenID string) (service.TokenView, error) {
	return f.runAction(ctx, tokenID)
}

func (f fakeService) Skip(ctx context.Context, tokenID string) (service.TokenView, error) {
	return f.runAction(ctx, tokenID)
}

func (f fakeService) runAction(ctx context.Context, tokenID string) (service.TokenView, error) {
	if f.actionFn == nil {
		return service.TokenView{}, nil
	}
	return f.actionFn(ctx, tokenID)
}

func (f fakeService) Reprioritize(ctx context.Context, tokenID, priority string) (service.TokenView, error) {
	if f.reprioritizeFn == nil {
		return service.TokenView{}, nil
	}
	return f.reprioritizeFn(ctx, tokenID, priority)
}

func (f fakeService) Snapshot(ctx context.Context, pointID string) (queue.Snapshot, error) {
	if f.snapshotFn == nil {
		return queue.Snapshot{}, nil
	}
	return f.snapshotFn(ctx, pointID)
}

func (f fakeService) CurrentServing(ctx context.Context, pointID string) (models.Token, bool, error) {
	if f.currentFn == nil {
		return models.Token{}, false, nil
	}
	return f.currentFn(ctx, pointID)
}

const (
	testPartyID = "11111111-1111-1111-1111-111111111111"
	testGroupID = "22222222-2222-2222-2222-222222222222"
	testPointID = "33333333-3333-3333-3333-333333333333"
	testTokenID = "44444444-4444-4444-4444-444444444444"
)

func postJSON(t *testing.T, svc Service, path string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	resp := httptest.NewRecorder()
	NewHandler(svc).Routes().ServeHTTP(resp, req)
	return resp
}

func TestRegisterPartySuccess(t *testing.T) {
	svc := fakeService{
		registerFn: func(ctx context.Context, in service.RegisterPartyInput) (models.Party, error) {
			if in.Phone != "99001122" {
				t.Fatalf("phone=%q", in.Phone)
			}
			return models.Party{PartyID: testPartyID, Phone: in.Phone}, nil
		},
	}
	resp := postJSON(t, svc, "/api/parties", map[string]interface{}{
		"full_name":     "Asha Rao",
		"phone":         "99001122",
		"date_of_birth": "1950-01-01",
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}
}

func TestRegisterPartyValidation(t *testing.T) {
	cases := []map[string]interface{}{
		{"full_name": "Asha Rao"},                                     // missing phone
		{"full_name": "Asha Rao", "phone": "12ab"},                    // bad phone
		{"full_name": "A", "phone": "99001122", "date_of_birth": "x"}, // bad date
	}
	for i, payload := range cases {
		resp := postJSON(t, fakeService{}, "/api/parties", payload)
		if resp.Code != http.StatusBadRequest {
			t.Fatalf("case %d: expected status 400, got %d", i, resp.Code)
		}
	}
}

func TestGenerateTokenSuccess(t *testing.T) {
	svc := fakeService{
		generateFn: func(ctx context.Context, in service.GenerateTokenInput) (service.TokenView, error) {
			return service.TokenView{
				Token:    models.Token{TokenID: testTokenID, TokenNumber: "GEN-20260302-0001"},
				Position: 1,
			}, nil
		},
	}
	resp := postJSON(t, svc, "/api/tokens", map[string]string{
		"party_id": testPartyID,
		"group_id": testGroupID,
		"point_id": testPointID,
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var view service.TokenView
	if err := json.Unmarshal(resp.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.Token.TokenNumber != "GEN-20260302-0001" {
		t.Fatalf("token_number=%q", view.Token.TokenNumber)
	}
}

func TestGenerateTokenRejectsBadPriority(t *testing.T) {
	resp := postJSON(t, fakeService{}, "/api/tokens", map[string]string{
		"party_id": testPartyID,
		"group_id": testGroupID,
		"priority": "URGENT",
	})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
}

func TestGenerateTokenCapacityConflict(t *testing.T) {
	svc := fakeService{
		generateFn: func(ctx context.Context, in service.GenerateTokenInput) (service.TokenView, error) {
			return service.TokenView{}, store.ErrCapacityExceeded
		},
	}
	resp := postJSON(t, svc, "/api/tokens", map[string]string{
		"party_id": testPartyID,
		"group_id": testGroupID,
	})
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", resp.Code)
	}
}

func TestCallNextEmptyQueue(t *testing.T) {
	svc := fakeService{
		callNextFn: func(ctx context.Context, pointID string) (service.TokenView, error) {
			return service.TokenView{}, store.ErrEmptyQueue
		},
	}
	resp := postJSON(t, svc, "/api/tokens/actions/call-next", map[string]string{"point_id": testPointID})
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", resp.Code)
	}
}

func TestTokenActionRouting(t *testing.T) {
	var gotTokenID string
	svc := fakeService{
		actionFn: func(ctx context.Context, tokenID string) (service.TokenView, error) {
			gotTokenID = tokenID
			return service.TokenView{}, nil
		},
	}
	for _, action := range []string{"start", "complete", "abort", "cancel", "no-show", "skip"} {
		gotTokenID = ""
		resp := postJSON(t, svc, "/api/tokens/"+testTokenID+"/actions/"+action, map[string]string{})
		if resp.Code != http.StatusOK {
			t.Fatalf("action %s: expected status 200, got %d", action, resp.Code)
		}
		if gotTokenID != testTokenID {
			t.Fatalf("action %s: token_id=%q", action, gotTokenID)
		}
	}

	resp := postJSON(t, svc, "/api/tokens/"+testTokenID+"/actions/hold", map[string]string{})
	if resp.Code != http.StatusNotFound {
		t.Fatalf("unknown action: expected status 404, got %d", resp.Code)
	}
}

func TestReprioritizeAction(t *testing.T) {
	svc := fakeService{
		reprioritizeFn: func(ctx context.Context, tokenID, priority string) (service.TokenView, error) {
			if priority != "EMERGENCY" {
				t.Fatalf("priority=%q", priority)
			}
			return service.TokenView{}, nil
		},
	}
	resp := postJSON(t, svc, "/api/tokens/"+testTokenID+"/actions/reprioritize", map[string]string{"priority": "EMERGENCY"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}

	resp = postJSON(t, svc, "/api/tokens/"+testTokenID+"/actions/reprioritize", map[string]string{"priority": "URGENT"})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
}

func TestTokenActionInvalidState(t *testing.T) {
	svc := fakeService{
		actionFn: func(ctx context.Context, tokenID string) (service.TokenView, error) {
			return service.TokenView{}, store.ErrInvalidState
		},
	}
	resp := postJSON(t, svc, "/api/tokens/"+testTokenID+"/actions/cancel", map[string]string{})
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", resp.Code)
	}
}

func TestGetTokenNotFound(t *testing.T) {
	svc := fakeService{
		tokenFn: func(ctx context.Context, tokenID string) (service.TokenView, error) {
			return service.TokenView{}, store.ErrTokenNotFound
		},
	}
	req := httptest.NewRequest(http.MethodGet, "/api/tokens/"+testTokenID, nil)
	resp := httptest.NewRecorder()
	NewHandler(svc).Routes().ServeHTTP(resp, req)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", resp.Code)
	}
}

func TestGetTokenRejectsNonUUID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/tokens/not-a-uuid", nil)
	resp := httptest.NewRecorder()
	NewHandler(fakeService{}).Routes().ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
}

func TestPointSnapshot(t *testing.T) {
	svc := fakeService{
		snapshotFn: func(ctx context.Context, pointID string) (queue.Snapshot, error) {
			return queue.Snapshot{TotalWaiting: 3}, nil
		},
	}
	req := httptest.NewRequest(http.MethodGet, "/api/points/"+testPointID+"/snapshot", nil)
	resp := httptest.NewRecorder()
	NewHandler(svc).Routes().ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	var snapshot queue.Snapshot
	if err := json.Unmarshal(resp.Body.Bytes(), &snapshot); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snapshot.TotalWaiting != 3 {
		t.Fatalf("total_waiting=%d", snapshot.TotalWaiting)
	}
}

func TestCurrentServingNoContent(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/points/"+testPointID+"/current", nil)
	resp := httptest.NewRecorder()
	NewHandler(fakeService{}).Routes().ServeHTTP(resp, req)
	if resp.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", resp.Code)
	}
}

func TestHealthz(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	resp := httptest.NewRecorder()
	NewHandler(fakeService{}).Routes().ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
}
