package posts

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

var errMissingSamplerDatabase = errors.New("sampler database handle is required")

// Sampler draws bounded uniform random samples of posts. Each call is
// independent; no pagination state is retained between calls.
type Sampler struct {
	db *gorm.DB
}

// NewSampler constructs a Sampler.
func NewSampler(db *gorm.DB) (*Sampler, error) {
	if db == nil {
		return nil, errMissingSamplerDatabase
	}
	return &Sampler{db: db}, nil
}

// Sample returns at most size posts with the given status, excluding posts
// authored by excludeUser, restricted to posts carrying tag when one is
// given (the empty string means no tag filter). Fewer qualifying posts than
// size is not an error; the result is simply shorter, possibly empty.
func (s *Sampler) Sample(ctx context.Context, status PostStatus, tag string, excludeUser UserID, size int) ([]Post, error) {
	if size <= 0 {
		return nil, fmt.Errorf("sample size must be positive, got %d", size)
	}

	query := s.db.WithContext(ctx).
		Where("status = ? AND user_id <> ?", status, excludeUser.String())
	if tag != "" {
		tagged := s.db.Model(&PostTagRecord{}).
			Select("post_id").
			Where("label = ?", tag)
		query = query.Where("id IN (?)", tagged)
	}

	var sampled []Post
	if err := query.Order("RANDOM()").Limit(size).Find(&sampled).Error; err != nil {
		return nil, err
	}
	return sampled, nil
}
