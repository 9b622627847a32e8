package users

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/shipmate/backend/internal/auth"
	"gorm.io/gorm"
)

// ErrInvalidIdentity indicates the claims did not contain a usable identifier.
var ErrInvalidIdentity = errors.New("users: invalid identity")

// Profile is the subset of identity data the submission flow captures onto a
// rating at write time.
type Profile struct {
	UserID      string
	DisplayName string
}

// ServiceConfig describes the dependencies for identity resolution.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Service manages canonical user identifiers and provider identities.
type Service struct {
	db    *gorm.DB
	now   func() time.Time
	cache sync.Map
}

// NewService constructs the identity service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{db: cfg.Database, now: clock}, nil
}

// ResolveProfile returns the canonical profile for verified identity claims,
// creating the identity mapping when the provider+subject pair is new and
// refreshing mutable profile fields otherwise.
func (s *Service) ResolveProfile(claims auth.IdentityClaims) (Profile, error) {
	provider := normalize(claims.Issuer)
	if provider == "" {
		provider = "default"
	}
	subject := normalize(claims.Subject)
	if subject == "" {
		return Profile{}, ErrInvalidIdentity
	}

	var identity Identity
	err := s.db.
		Where("provider = ? AND subject = ?", provider, subject).
		First(&identity).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		identity = Identity{
			Provider:    provider,
			Subject:     subject,
			UserID:      subject,
			Email:       normalize(claims.Email),
			DisplayName: normalize(claims.DisplayName),
			LastSeenAt:  s.now(),
		}
		if err := s.db.Create(&identity).Error; err != nil {
			return Profile{}, err
		}
	} else if err != nil {
		return Profile{}, err
	} else {
		updates := map[string]interface{}{}
		if email := normalize(claims.Email); email != "" && email != identity.Email {
			updates["user_email"] = email
			identity.Email = email
		}
		if display := normalize(claims.DisplayName); display != "" && display != identity.DisplayName {
			updates["user_display_name"] = display
			identity.DisplayName = display
		}
		updates["last_seen_at"] = s.now()
		_ = s.db.Model(&Identity{}).
			Where("provider = ? AND subject = ?", provider, subject).
			Updates(updates).
			Error
	}

	s.cache.Store(identity.UserID, identity.DisplayName)
	return Profile{UserID: identity.UserID, DisplayName: identity.DisplayName}, nil
}

// DisplayName looks up the current display name for a canonical user id at
// submission time. Unknown users resolve to an empty name rather than an
// error; the rating still records the submitter's id.
func (s *Service) DisplayName(ctx context.Context, userID string) (string, error) {
	trimmed := normalize(userID)
	if trimmed == "" {
		return "", ErrInvalidIdentity
	}

	var identity Identity
	err := s.db.WithContext(ctx).
		Where("user_id = ?", trimmed).
		Order("last_seen_at DESC").
		First(&identity).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if cached, ok := s.cache.Load(trimmed); ok {
			if name, ok := cached.(string); ok {
				return name, nil
			}
		}
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return identity.DisplayName, nil
}
