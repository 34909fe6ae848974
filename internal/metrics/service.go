package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/chamber/backend/internal/posts"
	"github.com/MarcoPoloResearchLab/chamber/backend/internal/users"
	"gorm.io/gorm"
)

var (
	errMissingDatabase = errors.New("metrics: database handle is required")
	errMissingZone     = errors.New("metrics: reference timezone is required")
)

// TodaySnapshot captures per-type post counts for the current reference-day
// alongside running totals, plus membership counts.
type TodaySnapshot struct {
	ShortPostsToday int64 `json:"short_posts_today"`
	ShortPostsTotal int64 `json:"short_posts_total"`
	LongPostsToday  int64 `json:"long_posts_today"`
	LongPostsTotal  int64 `json:"long_posts_total"`
	TodayPostsToday int64 `json:"today_posts_today"`
	TodayPostsTotal int64 `json:"today_posts_total"`
	NewMembersToday int64 `json:"new_members_today"`
	TotalMembers    int64 `json:"total_members"`
}

// ServiceConfig describes the dependencies of the metrics service.
type ServiceConfig struct {
	Database *gorm.DB
	Zone     *time.Location
	Clock    func() time.Time
}

// Service aggregates operational counts. Read-only.
type Service struct {
	db    *gorm.DB
	zone  *time.Location
	clock func() time.Time
}

// NewService constructs the metrics service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.Zone == nil {
		return nil, errMissingZone
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{db: cfg.Database, zone: cfg.Zone, clock: clock}, nil
}

// Today returns the snapshot for the current reference-timezone day.
func (s *Service) Today(ctx context.Context) (TodaySnapshot, error) {
	dayStart := posts.DayStart(s.clock(), s.zone)
	dayEnd := dayStart.AddDate(0, 0, 1)

	var snapshot TodaySnapshot
	counts := []struct {
		postType posts.PostType
		today    *int64
		total    *int64
	}{
		{posts.PostTypeShort, &snapshot.ShortPostsToday, &snapshot.ShortPostsTotal},
		{posts.PostTypeLong, &snapshot.LongPostsToday, &snapshot.LongPostsTotal},
		{posts.PostTypeToday, &snapshot.TodayPostsToday, &snapshot.TodayPostsTotal},
	}

	for _, count := range counts {
		err := s.db.WithContext(ctx).Model(&posts.Post{}).
			Where("type = ? AND status = ? AND created_at_s >= ? AND created_at_s < ?",
				count.postType, posts.PostStatusActive, dayStart.Unix(), dayEnd.Unix()).
			Count(count.today).Error
		if err != nil {
			return TodaySnapshot{}, err
		}
		err = s.db.WithContext(ctx).Model(&posts.Post{}).
			Where("type = ? AND status = ?", count.postType, posts.PostStatusActive).
			Count(count.total).Error
		if err != nil {
			return TodaySnapshot{}, err
		}
	}

	err := s.db.WithContext(ctx).Model(&users.Identity{}).
		Where("created_at >= ? AND created_at < ?", dayStart, dayEnd).
		Count(&snapshot.NewMembersToday).Error
	if err != nil {
		return TodaySnapshot{}, err
	}
	err = s.db.WithContext(ctx).Model(&users.Identity{}).Count(&snapshot.TotalMembers).Error
	if err != nil {
		return TodaySnapshot{}, err
	}

	return snapshot, nil
}
