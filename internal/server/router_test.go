package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/shipmate/backend/internal/aggregate"
	"github.com/MarcoPoloResearchLab/shipmate/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/shipmate/backend/internal/ratings"
	"github.com/MarcoPoloResearchLab/shipmate/backend/internal/ships"
	"github.com/MarcoPoloResearchLab/shipmate/backend/internal/users"
	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type staticIDGenerator struct {
	prefix string
	next   int
}

func (g *staticIDGenerator) NewID() (string, error) {
	g.next++
	return fmt.Sprintf("%s-%d", g.prefix, g.next), nil
}

type stubIdentityVerifier struct {
	claims auth.IdentityClaims
	err    error
}

func (s stubIdentityVerifier) Verify(context.Context, string) (auth.IdentityClaims, error) {
	return s.claims, s.err
}

type stubTokenManager struct {
	claims      auth.SessionClaims
	validateErr error
}

func (s stubTokenManager) IssueSessionToken(context.Context, auth.IdentityClaims) (string, int64, error) {
	return "", 0, errors.New("not implemented")
}

func (s stubTokenManager) ValidateToken(string) (auth.SessionClaims, error) {
	return s.claims, s.validateErr
}

type routerFixture struct {
	handler http.Handler
	issuer  *auth.TokenIssuer
	db      *gorm.DB
}

func newRouterFixture(t *testing.T, identity auth.IdentityClaims) routerFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:shipmate_server_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&ships.Ship{}, &ratings.Rating{}, &users.Identity{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	shipService, err := ships.NewService(ships.ServiceConfig{
		Database:   db,
		IDProvider: &staticIDGenerator{prefix: "ship"},
	})
	if err != nil {
		t.Fatalf("failed to construct ship service: %v", err)
	}

	store, err := ratings.NewStore(ratings.StoreConfig{
		Database:   db,
		IDProvider: &staticIDGenerator{prefix: "rating"},
	})
	if err != nil {
		t.Fatalf("failed to construct rating store: %v", err)
	}

	engine, err := aggregate.NewEngine(aggregate.EngineConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct engine: %v", err)
	}

	ratingService, err := ratings.NewService(ratings.ServiceConfig{
		Store:      store,
		Ships:      shipService,
		Aggregates: engine,
	})
	if err != nil {
		t.Fatalf("failed to construct rating service: %v", err)
	}

	profileService, err := users.NewService(users.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct profile service: %v", err)
	}

	issuer := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("test-secret"),
		Issuer:        "shipmate-auth",
		Audience:      "shipmate-api",
		TokenTTL:      time.Hour,
	})

	handler, err := NewHTTPHandler(Dependencies{
		IdentityVerifier: stubIdentityVerifier{claims: identity},
		TokenManager:     issuer,
		Profiles:         profileService,
		Ratings:          ratingService,
		RatingStore:      store,
		Ships:            shipService,
		Engine:           engine,
	})
	if err != nil {
		t.Fatalf("failed to construct handler: %v", err)
	}

	return routerFixture{handler: handler, issuer: issuer, db: db}
}

func (f routerFixture) exchangeToken(t *testing.T) string {
	t.Helper()

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, "/auth/token", strings.NewReader(`{"id_token":"provider-token"}`))
	request.Header.Set("Content-Type", "application/json")
	f.handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("token exchange failed with status %d: %s", recorder.Code, recorder.Body.String())
	}
	var payload struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode token response: %v", err)
	}
	if payload.TokenType != "Bearer" || payload.AccessToken == "" {
		t.Fatalf("unexpected token payload: %s", recorder.Body.String())
	}
	return payload.AccessToken
}

func (f routerFixture) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()

	request := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		request.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	f.handler.ServeHTTP(recorder, request)
	return recorder
}

const submitBody = `{
	"ship": {"name": "Aurora", "imo": "9074729"},
	"disembarkation_date": "2026-07-15",
	"cabin_type": "single",
	"general_observation": "  calm rotation  ",
	"items": {
		"embarkation/disembarkation device": {"score": 5, "note": "fast gangway"},
		"cabin temperature": {"score": "3,5"}
	},
	"ship_info": {"crewNationality": " Ukrainian ", "cabinCount": 8}
}`

func TestRouterRejectsRequestsWithoutBearerToken(t *testing.T) {
	fixture := newRouterFixture(t, auth.IdentityClaims{Subject: "user-1"})

	recorder := fixture.do(t, http.MethodGet, "/ships", "", "")
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}

	recorder = fixture.do(t, http.MethodGet, "/ships", "garbage-token", "")
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for invalid token, got %d", recorder.Code)
	}
}

func TestRouterTokenExchangeAndSubmitFlow(t *testing.T) {
	fixture := newRouterFixture(t, auth.IdentityClaims{
		Subject:     "user-1",
		Issuer:      "https://id.example.com",
		DisplayName: "Olena K.",
	})
	token := fixture.exchangeToken(t)

	recorder := fixture.do(t, http.MethodPost, "/ratings", token, submitBody)
	if recorder.Code != http.StatusCreated {
		t.Fatalf("submit failed with status %d: %s", recorder.Code, recorder.Body.String())
	}
	var submitted struct {
		RatingID string             `json:"rating_id"`
		ShipID   string             `json:"ship_id"`
		ShipName string             `json:"ship_name"`
		Means    map[string]float64 `json:"means"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &submitted); err != nil {
		t.Fatalf("failed to decode submit response: %v", err)
	}
	if submitted.ShipName != "Aurora" || submitted.RatingID == "" {
		t.Fatalf("unexpected submit payload: %s", recorder.Body.String())
	}
	if submitted.Means["device"] != 5.0 || submitted.Means["cabin_temp"] != 3.5 {
		t.Fatalf("unexpected means in submit response: %v", submitted.Means)
	}

	recorder = fixture.do(t, http.MethodGet, "/ships/"+submitted.ShipID, token, "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("ship fetch failed with status %d", recorder.Code)
	}
	var ship struct {
		Name  string             `json:"name"`
		IMO   string             `json:"imo"`
		Means map[string]float64 `json:"means"`
		Info  struct {
			CrewNationality *string `json:"crewNationality"`
			CabinCount      *int    `json:"cabinCount"`
		} `json:"info"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &ship); err != nil {
		t.Fatalf("failed to decode ship response: %v", err)
	}
	if ship.IMO != "9074729" {
		t.Fatalf("expected IMO persisted, got %q", ship.IMO)
	}
	if ship.Info.CrewNationality == nil || *ship.Info.CrewNationality != "Ukrainian" {
		t.Fatalf("expected merged nationality, got %v", ship.Info.CrewNationality)
	}
	if ship.Info.CabinCount == nil || *ship.Info.CabinCount != 8 {
		t.Fatalf("expected merged cabin count, got %v", ship.Info.CabinCount)
	}

	recorder = fixture.do(t, http.MethodGet, "/ships/"+submitted.ShipID+"/ratings", token, "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("rating list failed with status %d", recorder.Code)
	}
	var listed struct {
		Ratings []struct {
			ID                   string                            `json:"id"`
			SubmitterDisplayName string                            `json:"submitter_display_name"`
			GeneralObservation   string                            `json:"general_observation"`
			Items                map[string]ratings.CriterionEntry `json:"items"`
		} `json:"ratings"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &listed); err != nil {
		t.Fatalf("failed to decode rating list: %v", err)
	}
	if len(listed.Ratings) != 1 {
		t.Fatalf("expected one rating, got %d", len(listed.Ratings))
	}
	entry := listed.Ratings[0]
	if entry.SubmitterDisplayName != "Olena K." {
		t.Fatalf("expected captured display name, got %q", entry.SubmitterDisplayName)
	}
	if entry.GeneralObservation != "calm rotation" {
		t.Fatalf("expected trimmed observation, got %q", entry.GeneralObservation)
	}
	if entry.Items["cabin temperature"].Score != 3.5 {
		t.Fatalf("expected comma decimal normalized, got %v", entry.Items["cabin temperature"])
	}
	if len(entry.Items) != 7 {
		t.Fatalf("expected a total items map over the catalog, got %d entries", len(entry.Items))
	}
}

func TestRouterSubmitRejectsMissingShipName(t *testing.T) {
	fixture := newRouterFixture(t, auth.IdentityClaims{Subject: "user-1"})
	token := fixture.exchangeToken(t)

	recorder := fixture.do(t, http.MethodPost, "/ratings", token,
		`{"ship": {"name": "  "}, "disembarkation_date": "2026-07-15"}`)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", recorder.Code, recorder.Body.String())
	}
}

func TestRouterSubmitRejectsUnparseableDate(t *testing.T) {
	fixture := newRouterFixture(t, auth.IdentityClaims{Subject: "user-1"})
	token := fixture.exchangeToken(t)

	recorder := fixture.do(t, http.MethodPost, "/ratings", token,
		`{"ship": {"name": "Aurora"}, "disembarkation_date": "July 15th"}`)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", recorder.Code, recorder.Body.String())
	}
}

func TestRouterAdminRoutesRequireAdminRole(t *testing.T) {
	fixture := newRouterFixture(t, auth.IdentityClaims{Subject: "user-1"})
	token := fixture.exchangeToken(t)

	recorder := fixture.do(t, http.MethodDelete, "/ships/ship-1/ratings/rating-1", token, "")
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin delete, got %d", recorder.Code)
	}

	recorder = fixture.do(t, http.MethodPost, "/admin/recompute", token, "")
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin recompute, got %d", recorder.Code)
	}
}

func TestRouterAdminDeleteAndRecompute(t *testing.T) {
	fixture := newRouterFixture(t, auth.IdentityClaims{
		Subject: "admin-1",
		Roles:   []string{auth.RoleAdmin},
	})
	token := fixture.exchangeToken(t)

	recorder := fixture.do(t, http.MethodPost, "/ratings", token, submitBody)
	if recorder.Code != http.StatusCreated {
		t.Fatalf("submit failed with status %d: %s", recorder.Code, recorder.Body.String())
	}
	var submitted struct {
		RatingID string `json:"rating_id"`
		ShipID   string `json:"ship_id"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &submitted); err != nil {
		t.Fatalf("failed to decode submit response: %v", err)
	}

	recorder = fixture.do(t, http.MethodDelete, "/ships/"+submitted.ShipID+"/ratings/"+submitted.RatingID, token, "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("delete failed with status %d: %s", recorder.Code, recorder.Body.String())
	}

	recorder = fixture.do(t, http.MethodDelete, "/ships/"+submitted.ShipID+"/ratings/"+submitted.RatingID, token, "")
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for repeated delete, got %d", recorder.Code)
	}

	recorder = fixture.do(t, http.MethodPost, "/admin/recompute", token, "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("recompute failed with status %d: %s", recorder.Code, recorder.Body.String())
	}
	var recomputeResult struct {
		Recomputed int `json:"recomputed"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &recomputeResult); err != nil {
		t.Fatalf("failed to decode recompute response: %v", err)
	}
	if recomputeResult.Recomputed != 1 {
		t.Fatalf("expected one ship recomputed, got %d", recomputeResult.Recomputed)
	}

	recorder = fixture.do(t, http.MethodGet, "/ships/"+submitted.ShipID, token, "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("ship fetch failed with status %d", recorder.Code)
	}
	var ship struct {
		Means map[string]float64 `json:"means"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &ship); err != nil {
		t.Fatalf("failed to decode ship response: %v", err)
	}
	if len(ship.Means) != 0 {
		t.Fatalf("expected empty means after deleting the only rating, got %v", ship.Means)
	}
}

func TestAuthorizeRequestRejectsMalformedHeader(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	request := httptest.NewRequest(http.MethodGet, "/ships", http.NoBody)
	request.Header.Set("Authorization", "Token abc")
	ctx.Request = request

	handler := &httpHandler{
		tokens: stubTokenManager{validateErr: errors.New("unused")},
		logger: zap.NewNop(),
	}
	handler.authorizeRequest(ctx)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}
}

func TestRequireAdminRejectsMissingClaims(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	ctx.Request = httptest.NewRequest(http.MethodPost, "/admin/recompute", http.NoBody)

	handler := &httpHandler{logger: zap.NewNop()}
	handler.requireAdmin(ctx)

	if recorder.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", recorder.Code)
	}
}
