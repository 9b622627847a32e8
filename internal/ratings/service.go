package ratings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/shipmate/backend/internal/ships"
	"go.uber.org/zap"
)

var (
	// ErrUnauthenticated indicates a submission arrived without an
	// authenticated user; nothing is read or written in that case.
	ErrUnauthenticated = errors.New("ratings: unauthenticated")

	errMissingStore      = errors.New("rating store is required")
	errMissingShips      = errors.New("ship directory is required")
	errMissingRecomputer = errors.New("aggregate recomputer is required")
	noOpLogger           = zap.NewNop()
)

// ServiceError carries an operation.reason code alongside the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew = "ratings.service.new"
	opSubmit     = "ratings.submit"
)

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// ShipDirectory resolves and maintains ship records.
type ShipDirectory interface {
	Resolve(ctx context.Context, submitterID, name, imo string) (ships.Ship, error)
	MergeInfo(ctx context.Context, shipID string, info ships.Info) error
}

// Recomputer rebuilds a ship's means map from its current rating set.
type Recomputer interface {
	RecomputeShip(ctx context.Context, shipID string) error
}

// Submitter identifies the authenticated user behind a submission. The
// display name is captured onto the rating at write time and never updated
// afterwards.
type Submitter struct {
	UserID      string
	DisplayName string
}

// SubmitRequest carries one raw rating submission.
type SubmitRequest struct {
	ShipName           string
	ShipIMO            string
	DisembarkationDate time.Time
	CabinType          string
	GeneralObservation string
	Items              map[string]RawCriterionEntry
	ShipInfo           RawShipInfo
}

// ServiceConfig describes the dependencies for the submission service.
type ServiceConfig struct {
	Store      *Store
	Ships      ShipDirectory
	Aggregates Recomputer
	Logger     *zap.Logger
}

// Service orchestrates the write path: normalize, resolve the ship, append
// the rating, merge the info snapshot, recompute the means. Each persistence
// step can fail independently; failures propagate to the caller with no
// compensating rollback, so a retried submission may find the ship already
// created (ship resolution is idempotent, the rating append is not).
type Service struct {
	store      *Store
	ships      ShipDirectory
	aggregates Recomputer
	logger     *zap.Logger
}

// NewService constructs the submission service after validating dependencies.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, newServiceError(opServiceNew, "missing_store", errMissingStore)
	}
	if cfg.Ships == nil {
		return nil, newServiceError(opServiceNew, "missing_ships", errMissingShips)
	}
	if cfg.Aggregates == nil {
		return nil, newServiceError(opServiceNew, "missing_recomputer", errMissingRecomputer)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		store:      cfg.Store,
		ships:      cfg.Ships,
		aggregates: cfg.Aggregates,
		logger:     logger,
	}, nil
}

// Submit runs the full write path for one rating and returns the stored
// record along with the ship it attached to.
func (s *Service) Submit(ctx context.Context, submitter Submitter, request SubmitRequest) (Rating, ships.Ship, error) {
	if strings.TrimSpace(submitter.UserID) == "" {
		return Rating{}, ships.Ship{}, ErrUnauthenticated
	}

	items := NormalizeItems(request.Items)
	snapshot := NormalizeShipInfo(request.ShipInfo)

	ship, err := s.ships.Resolve(ctx, submitter.UserID, request.ShipName, request.ShipIMO)
	if err != nil {
		if errors.Is(err, ships.ErrUnauthenticated) || errors.Is(err, ships.ErrMissingShipName) {
			return Rating{}, ships.Ship{}, err
		}
		s.logError(opSubmit, "ship_resolve_failed", err, zap.String("ship_name", request.ShipName))
		return Rating{}, ships.Ship{}, newServiceError(opSubmit, "ship_resolve_failed", err)
	}

	rating, err := s.store.Append(ctx, ship.ID, NewRating{
		SubmitterUserID:      submitter.UserID,
		SubmitterDisplayName: strings.TrimSpace(submitter.DisplayName),
		DisembarkationDate:   request.DisembarkationDate,
		CabinType:            ParseCabinType(request.CabinType),
		GeneralObservation:   strings.TrimSpace(request.GeneralObservation),
		Items:                items,
		Snapshot:             snapshot,
	})
	if err != nil {
		s.logError(opSubmit, "rating_append_failed", err, zap.String("ship_id", ship.ID))
		return Rating{}, ships.Ship{}, newServiceError(opSubmit, "rating_append_failed", err)
	}

	if err := s.ships.MergeInfo(ctx, ship.ID, snapshot); err != nil {
		s.logError(opSubmit, "info_merge_failed", err, zap.String("ship_id", ship.ID))
		return Rating{}, ships.Ship{}, newServiceError(opSubmit, "info_merge_failed", err)
	}

	if err := s.aggregates.RecomputeShip(ctx, ship.ID); err != nil {
		s.logError(opSubmit, "recompute_failed", err, zap.String("ship_id", ship.ID))
		return Rating{}, ships.Ship{}, newServiceError(opSubmit, "recompute_failed", err)
	}

	return rating, ship, nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("ratings service error", attrs...)
}
