// Package aggregate maintains the per-ship means cache. Every recomputation
// is a pure function of the ship's current rating set: read everything,
// average per criterion, write the result wholesale. Incremental updates are
// deliberately avoided so a wrong or missing previous aggregate can never
// survive a recompute.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/MarcoPoloResearchLab/shipmate/backend/internal/catalog"
	"github.com/MarcoPoloResearchLab/shipmate/backend/internal/ratings"
	"github.com/MarcoPoloResearchLab/shipmate/backend/internal/ships"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrShipNotFound indicates a recompute targeted a ship that does not exist.
var ErrShipNotFound = errors.New("aggregate: ship not found")

var errMissingDatabase = errors.New("aggregate: database handle is required")

// EngineConfig describes the dependencies for the aggregate engine.
type EngineConfig struct {
	Database *gorm.DB
	Logger   *zap.Logger
}

// Engine recomputes per-ship criterion means. One instance serves the
// synchronous write path, the deletion-event listener, and the
// administrative batch endpoint.
type Engine struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewEngine constructs the engine after validating dependencies.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{db: cfg.Database, logger: logger}, nil
}

// RecomputeShip rebuilds the ship's means map from its current ratings and
// replaces the stored map wholesale. A score of zero is the unrated sentinel
// and never contributes; criteria with no contributors are omitted entirely,
// and a ship with no ratings left gets an empty map rather than a stale one.
func (e *Engine) RecomputeShip(ctx context.Context, shipID string) error {
	var all []ratings.Rating
	if err := e.db.WithContext(ctx).Where("ship_id = ?", shipID).Find(&all).Error; err != nil {
		return err
	}

	means := computeMeans(all, func(ratingID string, err error) {
		e.logger.Warn("skipping rating with malformed items",
			zap.String("ship_id", shipID),
			zap.String("rating_id", ratingID),
			zap.Error(err))
	})

	encoded, err := ships.EncodeMeans(means)
	if err != nil {
		return err
	}
	result := e.db.WithContext(ctx).Model(&ships.Ship{}).
		Where("ship_id = ?", shipID).
		Update("means_json", encoded)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrShipNotFound, shipID)
	}
	return nil
}

// RecomputeAll rebuilds the means of every ship with the same algorithm as
// the per-ship path. Used for administrative backfill and correction; it
// keeps going past individual failures and reports the first error after
// finishing.
func (e *Engine) RecomputeAll(ctx context.Context) (int, error) {
	var shipIDs []string
	if err := e.db.WithContext(ctx).Model(&ships.Ship{}).Pluck("ship_id", &shipIDs).Error; err != nil {
		return 0, err
	}

	recomputed := 0
	var firstErr error
	for _, shipID := range shipIDs {
		if err := e.RecomputeShip(ctx, shipID); err != nil {
			e.logger.Error("batch recompute failed for ship",
				zap.String("ship_id", shipID),
				zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		recomputed++
	}
	return recomputed, firstErr
}

// Run consumes deletion events until the context ends or the channel closes.
// Failed recomputations are logged and abandoned; there is no caller to
// report to and no retry, so the ship's means stay stale until the next
// successful recompute.
func (e *Engine) Run(ctx context.Context, events <-chan ratings.DeletionEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, open := <-events:
			if !open {
				return
			}
			recomputeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := e.RecomputeShip(recomputeCtx, event.ShipID); err != nil {
				e.logger.Error("deletion-triggered recompute failed",
					zap.String("ship_id", event.ShipID),
					zap.String("rating_id", event.RatingID),
					zap.Error(err))
			} else {
				e.logger.Info("means recomputed after deletion",
					zap.String("ship_id", event.ShipID),
					zap.String("rating_id", event.RatingID))
			}
			cancel()
		}
	}
}

// computeMeans folds every rating into per-aggregate-key sums and counts,
// then rounds each mean to two decimal places. Criterion names outside the
// catalog are skipped silently.
func computeMeans(all []ratings.Rating, onDecodeError func(ratingID string, err error)) map[string]float64 {
	sums := make(map[string]float64)
	counts := make(map[string]int)
	for _, rating := range all {
		items, err := ratings.DecodeItems(rating.ItemsJSON)
		if err != nil {
			if onDecodeError != nil {
				onDecodeError(rating.ID, err)
			}
			continue
		}
		for name, entry := range items {
			key, known := catalog.AggregateKey(name)
			if !known {
				continue
			}
			if entry.Score <= 0 {
				continue
			}
			sums[key] += entry.Score
			counts[key]++
		}
	}

	means := make(map[string]float64, len(counts))
	for key, count := range counts {
		if count == 0 {
			continue
		}
		means[key] = math.Round(sums[key]/float64(count)*100) / 100
	}
	return means
}
