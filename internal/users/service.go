package users

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/chamber/backend/internal/auth"
	"gorm.io/gorm"
)

// ErrInvalidIdentity indicates the claims did not contain a usable identifier.
var ErrInvalidIdentity = errors.New("users: invalid identity")

const providerGoogle = "google"

// IDProvider issues canonical member identifiers.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies required for identity resolution.
type ServiceConfig struct {
	Database   *gorm.DB
	IDProvider IDProvider
	Clock      func() time.Time
}

// Service manages canonical member identifiers and provider-specific identities.
type Service struct {
	db         *gorm.DB
	idProvider IDProvider
	now        func() time.Time
	cache      sync.Map
}

// NewService constructs the identity service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	if cfg.IDProvider == nil {
		return nil, fmt.Errorf("users: id provider required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		db:         cfg.Database,
		idProvider: cfg.IDProvider,
		now:        clock,
		cache:      sync.Map{},
	}, nil
}

// ResolveCanonicalUserID returns the canonical Chamber member id for the
// verified Google claims. A fresh opaque id is minted the first time a
// provider subject is seen; the subject itself never leaks into post records.
func (s *Service) ResolveCanonicalUserID(claims auth.GoogleClaims) (string, error) {
	subject := normalize(claims.Subject)
	if subject == "" {
		return "", ErrInvalidIdentity
	}

	cacheKey := providerGoogle + ":" + subject
	if cachedIdentifier, ok := s.cache.Load(cacheKey); ok {
		canonicalIdentifier, ok := cachedIdentifier.(string)
		if ok {
			return canonicalIdentifier, nil
		}
	}

	var identity Identity
	err := s.db.
		Where("provider = ? AND subject = ?", providerGoogle, subject).
		First(&identity).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		memberID, idErr := s.idProvider.NewID()
		if idErr != nil {
			return "", idErr
		}
		identity = Identity{
			Provider:   providerGoogle,
			Subject:    subject,
			UserID:     memberID,
			LastSeenAt: s.now(),
		}
		if err := s.db.Create(&identity).Error; err != nil {
			return "", err
		}
	} else if err != nil {
		return "", err
	} else {
		_ = s.db.Model(&Identity{}).
			Where("provider = ? AND subject = ?", providerGoogle, subject).
			Update("last_seen_at", s.now()).
			Error
	}

	s.cache.Store(cacheKey, identity.UserID)
	return identity.UserID, nil
}
