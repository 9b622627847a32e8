package ships

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrUnauthenticated indicates no authenticated user was supplied before
	// a mutating lookup; resolution must not touch storage in that case.
	ErrUnauthenticated = errors.New("ships: unauthenticated")
	// ErrMissingShipName indicates a resolution request without a usable name.
	ErrMissingShipName = errors.New("ships: ship name required")
	// ErrShipNotFound indicates a lookup by identifier matched nothing.
	ErrShipNotFound = errors.New("ships: ship not found")

	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

// IDProvider issues opaque ship identifiers.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies for ship resolution and lookups.
type ServiceConfig struct {
	Database   *gorm.DB
	IDProvider IDProvider
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Service resolves ratings to their owning ship record and serves reads.
type Service struct {
	db         *gorm.DB
	idProvider IDProvider
	clock      func() time.Time
	logger     *zap.Logger
}

// NewService constructs the ship service after validating dependencies.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("ships: %w", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, fmt.Errorf("ships: %w", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:         cfg.Database,
		idProvider: cfg.IDProvider,
		clock:      clock,
		logger:     logger,
	}, nil
}

// Resolve returns the ship a new rating should attach to, creating the record
// when no existing ship matches. A non-empty IMO is the stronger identity key
// and is consulted exclusively; the name is only matched when no IMO was
// supplied. Existing ships are never renamed and never merged here.
func (s *Service) Resolve(ctx context.Context, submitterID, name, imo string) (Ship, error) {
	if strings.TrimSpace(submitterID) == "" {
		return Ship{}, ErrUnauthenticated
	}
	trimmedName := strings.TrimSpace(name)
	trimmedIMO := strings.TrimSpace(imo)
	if trimmedName == "" {
		return Ship{}, ErrMissingShipName
	}

	var existing Ship
	query := s.db.WithContext(ctx)
	if trimmedIMO != "" {
		query = query.Where("imo = ?", trimmedIMO)
	} else {
		query = query.Where("name = ?", trimmedName)
	}
	err := query.Take(&existing).Error
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		s.logger.Error("ship lookup failed", zap.Error(err), zap.String("name", trimmedName))
		return Ship{}, err
	}

	shipID, err := s.idProvider.NewID()
	if err != nil {
		return Ship{}, err
	}
	created := Ship{
		ID:        shipID,
		Name:      trimmedName,
		MeansJSON: "{}",
		CreatedAt: s.clock().UTC(),
	}
	if trimmedIMO != "" {
		created.IMO = &trimmedIMO
	}
	if err := s.db.WithContext(ctx).Create(&created).Error; err != nil {
		s.logger.Error("ship create failed", zap.Error(err), zap.String("name", trimmedName))
		return Ship{}, err
	}
	s.logger.Info("ship created",
		zap.String("ship_id", created.ID),
		zap.String("name", created.Name),
		zap.String("imo", trimmedIMO))
	return created, nil
}

// MergeInfo folds a submitter's info snapshot into the stored ship record.
// Only columns present in the snapshot are written; the update never carries
// values read back from storage, so a concurrent merge of a different field
// cannot be overwritten with a stale copy. An empty snapshot touches nothing.
func (s *Service) MergeInfo(ctx context.Context, shipID string, info Info) error {
	var ship Ship
	err := s.db.WithContext(ctx).Select("ship_id").Where("ship_id = ?", shipID).Take(&ship).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s", ErrShipNotFound, shipID)
	}
	if err != nil {
		return err
	}

	updates := info.ColumnUpdates()
	if len(updates) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Model(&Ship{}).Where("ship_id = ?", shipID).Updates(updates).Error
}

// Get loads a single ship by identifier.
func (s *Service) Get(ctx context.Context, shipID string) (Ship, error) {
	var ship Ship
	err := s.db.WithContext(ctx).Where("ship_id = ?", shipID).Take(&ship).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Ship{}, fmt.Errorf("%w: %s", ErrShipNotFound, shipID)
	}
	if err != nil {
		return Ship{}, err
	}
	return ship, nil
}

// List returns every ship ordered by name.
func (s *Service) List(ctx context.Context) ([]Ship, error) {
	var all []Ship
	if err := s.db.WithContext(ctx).Order("name ASC").Find(&all).Error; err != nil {
		return nil, err
	}
	return all, nil
}
