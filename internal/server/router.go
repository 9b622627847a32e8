package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/shipmate/backend/internal/aggregate"
	"github.com/MarcoPoloResearchLab/shipmate/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/shipmate/backend/internal/ratings"
	"github.com/MarcoPoloResearchLab/shipmate/backend/internal/ships"
	"github.com/MarcoPoloResearchLab/shipmate/backend/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	userIDContextKey = "shipmate_user_id"
	claimsContextKey = "shipmate_claims"

	dateLayout = "2006-01-02"
)

var (
	errMissingIdentityVerifier = errors.New("identity verifier dependency required")
	errMissingTokenManager     = errors.New("token manager dependency required")
	errMissingProfiles         = errors.New("profile service dependency required")
	errMissingRatingsService   = errors.New("ratings service dependency required")
	errMissingRatingStore      = errors.New("rating store dependency required")
	errMissingShipService      = errors.New("ship service dependency required")
	errMissingEngine           = errors.New("aggregate engine dependency required")
	errInvalidAuthorization    = errors.New("authorization header missing or invalid")
)

// IdentityVerifier verifies identity-provider ID tokens.
type IdentityVerifier interface {
	Verify(ctx context.Context, token string) (auth.IdentityClaims, error)
}

// SessionTokenManager issues and validates backend bearer tokens.
type SessionTokenManager interface {
	IssueSessionToken(ctx context.Context, identity auth.IdentityClaims) (string, int64, error)
	ValidateToken(token string) (auth.SessionClaims, error)
}

// ProfileDirectory resolves identities and serves display-name lookups.
type ProfileDirectory interface {
	ResolveProfile(claims auth.IdentityClaims) (users.Profile, error)
	DisplayName(ctx context.Context, userID string) (string, error)
}

// Dependencies wires the HTTP layer to the domain services.
type Dependencies struct {
	IdentityVerifier IdentityVerifier
	TokenManager     SessionTokenManager
	Profiles         ProfileDirectory
	Ratings          *ratings.Service
	RatingStore      *ratings.Store
	Ships            *ships.Service
	Engine           *aggregate.Engine
	Logger           *zap.Logger
}

// NewHTTPHandler builds the gin router after validating dependencies.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.IdentityVerifier == nil {
		return nil, errMissingIdentityVerifier
	}
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.Profiles == nil {
		return nil, errMissingProfiles
	}
	if deps.Ratings == nil {
		return nil, errMissingRatingsService
	}
	if deps.RatingStore == nil {
		return nil, errMissingRatingStore
	}
	if deps.Ships == nil {
		return nil, errMissingShipService
	}
	if deps.Engine == nil {
		return nil, errMissingEngine
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		verifier: deps.IdentityVerifier,
		tokens:   deps.TokenManager,
		profiles: deps.Profiles,
		ratings:  deps.Ratings,
		store:    deps.RatingStore,
		ships:    deps.Ships,
		engine:   deps.Engine,
		logger:   logger,
	}

	router.POST("/auth/token", handler.handleTokenExchange)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/ratings", handler.handleSubmitRating)
	protected.GET("/ships", handler.handleListShips)
	protected.GET("/ships/:shipID", handler.handleGetShip)
	protected.GET("/ships/:shipID/ratings", handler.handleListShipRatings)

	admin := protected.Group("/")
	admin.Use(handler.requireAdmin)
	admin.DELETE("/ships/:shipID/ratings/:ratingID", handler.handleDeleteRating)
	admin.POST("/admin/recompute", handler.handleBatchRecompute)

	return router, nil
}

type httpHandler struct {
	verifier IdentityVerifier
	tokens   SessionTokenManager
	profiles ProfileDirectory
	ratings  *ratings.Service
	store    *ratings.Store
	ships    *ships.Service
	engine   *aggregate.Engine
	logger   *zap.Logger
}

type authRequestPayload struct {
	IDToken string `json:"id_token"`
}

type authResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (h *httpHandler) handleTokenExchange(c *gin.Context) {
	var request authRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.IDToken) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	claims, err := h.verifier.Verify(c.Request.Context(), request.IDToken)
	if err != nil {
		h.logger.Warn("identity token verification failed", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	if _, err := h.profiles.ResolveProfile(claims); err != nil {
		h.logger.Error("identity resolution failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "identity_resolution_failed"})
		return
	}

	token, expiresIn, err := h.tokens.IssueSessionToken(c.Request.Context(), claims)
	if err != nil {
		h.logger.Error("failed to issue session token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, authResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
	})
}

type submitShipPayload struct {
	Name string `json:"name"`
	IMO  string `json:"imo"`
}

type submitRequestPayload struct {
	Ship               submitShipPayload                    `json:"ship"`
	DisembarkationDate string                               `json:"disembarkation_date"`
	CabinType          string                               `json:"cabin_type"`
	GeneralObservation string                               `json:"general_observation"`
	Items              map[string]ratings.RawCriterionEntry `json:"items"`
	ShipInfo           ratings.RawShipInfo                  `json:"ship_info"`
}

type submitResponsePayload struct {
	RatingID  string             `json:"rating_id"`
	ShipID    string             `json:"ship_id"`
	ShipName  string             `json:"ship_name"`
	CreatedAt time.Time          `json:"created_at"`
	Means     map[string]float64 `json:"means"`
}

func (h *httpHandler) handleSubmitRating(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var request submitRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if strings.TrimSpace(request.Ship.Name) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ship_name_required"})
		return
	}
	disembarked, err := parseDate(request.DisembarkationDate)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_disembarkation_date"})
		return
	}

	displayName, err := h.profiles.DisplayName(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("display name lookup failed", zap.Error(err), zap.String("user_id", userID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "submit_failed"})
		return
	}

	rating, ship, err := h.ratings.Submit(c.Request.Context(),
		ratings.Submitter{UserID: userID, DisplayName: displayName},
		ratings.SubmitRequest{
			ShipName:           request.Ship.Name,
			ShipIMO:            request.Ship.IMO,
			DisembarkationDate: disembarked,
			CabinType:          request.CabinType,
			GeneralObservation: request.GeneralObservation,
			Items:              request.Items,
			ShipInfo:           request.ShipInfo,
		})
	if err != nil {
		switch {
		case errors.Is(err, ratings.ErrUnauthenticated), errors.Is(err, ships.ErrUnauthenticated):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		case errors.Is(err, ships.ErrMissingShipName):
			c.JSON(http.StatusBadRequest, gin.H{"error": "ship_name_required"})
		default:
			h.logger.Error("rating submission failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "submit_failed"})
		}
		return
	}

	refreshed, err := h.ships.Get(c.Request.Context(), ship.ID)
	if err != nil {
		h.logger.Error("ship reload failed after submit", zap.Error(err), zap.String("ship_id", ship.ID))
		refreshed = ship
	}
	means, err := ships.DecodeMeans(refreshed.MeansJSON)
	if err != nil {
		means = map[string]float64{}
	}

	c.JSON(http.StatusCreated, submitResponsePayload{
		RatingID:  rating.ID,
		ShipID:    ship.ID,
		ShipName:  ship.Name,
		CreatedAt: rating.CreatedAt,
		Means:     means,
	})
}

type shipPayload struct {
	ID    string             `json:"id"`
	Name  string             `json:"name"`
	IMO   string             `json:"imo,omitempty"`
	Info  shipInfoPayload    `json:"info"`
	Means map[string]float64 `json:"means"`
}

type shipInfoPayload struct {
	CrewNationality *string `json:"crewNationality,omitempty"`
	CabinCount      *int    `json:"cabinCount,omitempty"`
	HasMinibar      *bool   `json:"hasMinibar,omitempty"`
	HasSink         *bool   `json:"hasSink,omitempty"`
}

func (h *httpHandler) handleListShips(c *gin.Context) {
	all, err := h.ships.List(c.Request.Context())
	if err != nil {
		h.logger.Error("ship list failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}

	payload := make([]shipPayload, 0, len(all))
	for _, ship := range all {
		payload = append(payload, toShipPayload(ship))
	}
	c.JSON(http.StatusOK, gin.H{"ships": payload})
}

func (h *httpHandler) handleGetShip(c *gin.Context) {
	ship, err := h.ships.Get(c.Request.Context(), c.Param("shipID"))
	if err != nil {
		if errors.Is(err, ships.ErrShipNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "ship_not_found"})
			return
		}
		h.logger.Error("ship fetch failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "fetch_failed"})
		return
	}
	c.JSON(http.StatusOK, toShipPayload(ship))
}

type ratingPayload struct {
	ID                   string                            `json:"id"`
	SubmitterDisplayName string                            `json:"submitter_display_name"`
	DisembarkationDate   time.Time                         `json:"disembarkation_date"`
	CreatedAt            time.Time                         `json:"created_at"`
	CabinType            ratings.CabinType                 `json:"cabin_type"`
	GeneralObservation   string                            `json:"general_observation"`
	Items                map[string]ratings.CriterionEntry `json:"items"`
}

func (h *httpHandler) handleListShipRatings(c *gin.Context) {
	shipID := c.Param("shipID")
	if _, err := h.ships.Get(c.Request.Context(), shipID); err != nil {
		if errors.Is(err, ships.ErrShipNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "ship_not_found"})
			return
		}
		h.logger.Error("ship fetch failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "fetch_failed"})
		return
	}

	all, err := h.store.ListForShip(c.Request.Context(), shipID)
	if err != nil {
		h.logger.Error("rating list failed", zap.Error(err), zap.String("ship_id", shipID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}
	ratings.SortByRecency(all)

	payload := make([]ratingPayload, 0, len(all))
	for _, rating := range all {
		items, err := ratings.DecodeItems(rating.ItemsJSON)
		if err != nil {
			h.logger.Warn("skipping rating with malformed items",
				zap.String("rating_id", rating.ID), zap.Error(err))
			continue
		}
		payload = append(payload, ratingPayload{
			ID:                   rating.ID,
			SubmitterDisplayName: rating.SubmitterDisplayName,
			DisembarkationDate:   rating.DisembarkationDate,
			CreatedAt:            rating.CreatedAt,
			CabinType:            rating.CabinType,
			GeneralObservation:   rating.GeneralObservation,
			Items:                items,
		})
	}
	c.JSON(http.StatusOK, gin.H{"ratings": payload})
}

func (h *httpHandler) handleDeleteRating(c *gin.Context) {
	shipID := c.Param("shipID")
	ratingID := c.Param("ratingID")

	if err := h.store.Delete(c.Request.Context(), shipID, ratingID); err != nil {
		if errors.Is(err, ratings.ErrRatingNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "rating_not_found"})
			return
		}
		h.logger.Error("rating delete failed", zap.Error(err),
			zap.String("ship_id", shipID), zap.String("rating_id", ratingID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": ratingID})
}

func (h *httpHandler) handleBatchRecompute(c *gin.Context) {
	recomputed, err := h.engine.RecomputeAll(c.Request.Context())
	if err != nil {
		h.logger.Error("batch recompute finished with errors",
			zap.Error(err), zap.Int("recomputed", recomputed))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":      "recompute_incomplete",
			"recomputed": recomputed,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"recomputed": recomputed})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	claims, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, claims.Subject)
	c.Set(claimsContextKey, claims)
	c.Next()
}

func (h *httpHandler) requireAdmin(c *gin.Context) {
	value, ok := c.Get(claimsContextKey)
	if !ok {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	claims, ok := value.(auth.SessionClaims)
	if !ok || !claims.HasRole(auth.RoleAdmin) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	c.Next()
}

func toShipPayload(ship ships.Ship) shipPayload {
	means, err := ships.DecodeMeans(ship.MeansJSON)
	if err != nil {
		means = map[string]float64{}
	}
	payload := shipPayload{
		ID:    ship.ID,
		Name:  ship.Name,
		Means: means,
		Info: shipInfoPayload{
			CrewNationality: ship.CrewNationality,
			CabinCount:      ship.CabinCount,
			HasMinibar:      ship.HasMinibar,
			HasSink:         ship.HasSink,
		},
	}
	if ship.IMO != nil {
		payload.IMO = *ship.IMO
	}
	return payload
}

func parseDate(value string) (time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if parsed, err := time.Parse(dateLayout, trimmed); err == nil {
		return parsed.UTC(), nil
	}
	parsed, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return time.Time{}, err
	}
	return parsed.UTC(), nil
}
