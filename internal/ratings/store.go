package ratings

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/MarcoPoloResearchLab/shipmate/backend/internal/ships"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrRatingNotFound indicates a delete targeted a rating that does not
	// exist under the given ship.
	ErrRatingNotFound = errors.New("ratings: rating not found")

	errStoreMissingDatabase   = errors.New("database handle is required")
	errStoreMissingIDProvider = errors.New("id provider is required")
)

// NewRating carries the normalized fields for a rating append. The store
// owns identity and the creation timestamp; callers never supply either.
type NewRating struct {
	SubmitterUserID      string
	SubmitterDisplayName string
	DisembarkationDate   time.Time
	CabinType            CabinType
	GeneralObservation   string
	Items                map[string]CriterionEntry
	Snapshot             ships.Info
}

// StoreConfig describes the dependencies for the rating store.
type StoreConfig struct {
	Database   *gorm.DB
	IDProvider IDProvider
	Clock      func() time.Time
	Logger     *zap.Logger
	Events     *DeletionDispatcher
}

// Store is the persistence gateway for rating records. Appends assign the
// authoritative creation timestamp; deletes publish a deletion event so the
// aggregate engine can recompute the owning ship's means.
type Store struct {
	db         *gorm.DB
	idProvider IDProvider
	clock      func() time.Time
	logger     *zap.Logger
	events     *DeletionDispatcher
}

// NewStore constructs the store after validating dependencies.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("ratings: %w", errStoreMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, fmt.Errorf("ratings: %w", errStoreMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		db:         cfg.Database,
		idProvider: cfg.IDProvider,
		clock:      clock,
		logger:     logger,
		events:     cfg.Events,
	}, nil
}

// Append creates a rating under the ship. The row is immutable after this
// write and stays attributed to the same ship for its lifetime.
func (s *Store) Append(ctx context.Context, shipID string, record NewRating) (Rating, error) {
	ratingID, err := s.idProvider.NewID()
	if err != nil {
		return Rating{}, err
	}
	itemsJSON, err := EncodeItems(record.Items)
	if err != nil {
		return Rating{}, err
	}
	snapshotJSON, err := EncodeSnapshot(record.Snapshot)
	if err != nil {
		return Rating{}, err
	}

	rating := Rating{
		ID:                   ratingID,
		ShipID:               shipID,
		SubmitterUserID:      record.SubmitterUserID,
		SubmitterDisplayName: record.SubmitterDisplayName,
		DisembarkationDate:   record.DisembarkationDate,
		CreatedAt:            s.clock().UTC(),
		CabinType:            record.CabinType,
		GeneralObservation:   record.GeneralObservation,
		ItemsJSON:            itemsJSON,
		SnapshotJSON:         snapshotJSON,
	}
	if err := s.db.WithContext(ctx).Create(&rating).Error; err != nil {
		s.logger.Error("rating append failed",
			zap.Error(err),
			zap.String("ship_id", shipID))
		return Rating{}, err
	}
	return rating, nil
}

// ListForShip returns every rating under the ship with no implicit ordering.
// Callers needing recency order use SortByRecency.
func (s *Store) ListForShip(ctx context.Context, shipID string) ([]Rating, error) {
	var all []Rating
	if err := s.db.WithContext(ctx).Where("ship_id = ?", shipID).Find(&all).Error; err != nil {
		return nil, err
	}
	return all, nil
}

// Delete removes a rating and publishes the deletion event. Administrative
// only; the aggregate recomputation it triggers is owned by the engine, not
// by the store.
func (s *Store) Delete(ctx context.Context, shipID, ratingID string) error {
	result := s.db.WithContext(ctx).
		Where("ship_id = ? AND rating_id = ?", shipID, ratingID).
		Delete(&Rating{})
	if result.Error != nil {
		s.logger.Error("rating delete failed",
			zap.Error(result.Error),
			zap.String("ship_id", shipID),
			zap.String("rating_id", ratingID))
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrRatingNotFound, ratingID)
	}
	if s.events != nil {
		s.events.Publish(DeletionEvent{
			ShipID:     shipID,
			RatingID:   ratingID,
			OccurredAt: s.clock().UTC(),
		})
	}
	return nil
}

// SortByRecency orders ratings newest first by creation timestamp, falling
// back to the disembarkation date for rows that predate the created_at
// column.
func SortByRecency(all []Rating) {
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].EffectiveTimestamp().After(all[j].EffectiveTimestamp())
	})
}
