package posts

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// FirstWriteGate records that a user already triggered the daily first-post
// bonus for a given calendar day. The (user, day start) pair is the natural
// key; rows are created once and never updated.
type FirstWriteGate struct {
	UserID           string `gorm:"column:user_id;primaryKey;size:190;not null"`
	DayStartSeconds  int64  `gorm:"column:day_start_s;primaryKey;not null"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (FirstWriteGate) TableName() string {
	return "first_write_gates"
}

// ReadMarker records that a user has read a post. At most one row exists per
// (user, post) pair; re-reads refresh the timestamp.
type ReadMarker struct {
	UserID        string `gorm:"column:user_id;primaryKey;size:190;not null;index:idx_read_markers_user_read,priority:1"`
	PostID        string `gorm:"column:post_id;primaryKey;size:190;not null"`
	ReadAtSeconds int64  `gorm:"column:read_at_s;not null;index:idx_read_markers_user_read,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (ReadMarker) TableName() string {
	return "read_markers"
}

var (
	errMissingGateDatabase = errors.New("gate database handle is required")
	errMissingGateZone     = errors.New("gate reference timezone is required")
)

// GateConfig describes the dependencies of the idempotent gate.
type GateConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Zone     *time.Location
}

// Gate implements once-per-key firing on top of the store's insert-if-absent
// primitive. Callers never take locks; concurrent fires on the same key are
// ordered by the unique-constraint insert, and exactly one observes first.
type Gate struct {
	db    *gorm.DB
	clock func() time.Time
	zone  *time.Location
}

// NewGate constructs a Gate.
func NewGate(cfg GateConfig) (*Gate, error) {
	if cfg.Database == nil {
		return nil, errMissingGateDatabase
	}
	if cfg.Zone == nil {
		return nil, errMissingGateZone
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Gate{db: cfg.Database, clock: clock, zone: cfg.Zone}, nil
}

// DayStart returns the canonical start-of-day instant for the given moment in
// the reference timezone.
func DayStart(moment time.Time, zone *time.Location) time.Time {
	local := moment.In(zone)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, zone)
}

// FireDailyFirstWrite records the user's first post of the current calendar
// day. It returns true only for the caller whose insert created the gate row.
func (g *Gate) FireDailyFirstWrite(ctx context.Context, userID UserID) (bool, error) {
	now := g.clock()
	record := FirstWriteGate{
		UserID:           userID.String(),
		DayStartSeconds:  DayStart(now, g.zone).Unix(),
		CreatedAtSeconds: now.UTC().Unix(),
	}
	result := g.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&record)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// FireFirstRead records that the user has read the post. The first call per
// (user, post) pair creates the marker and returns true; later calls refresh
// the read timestamp and return false.
func (g *Gate) FireFirstRead(ctx context.Context, userID UserID, postID PostID) (bool, error) {
	readAt := g.clock().UTC().Unix()
	marker := ReadMarker{
		UserID:        userID.String(),
		PostID:        postID.String(),
		ReadAtSeconds: readAt,
	}
	result := g.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&marker)
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected == 1 {
		return true, nil
	}

	err := g.db.WithContext(ctx).
		Model(&ReadMarker{}).
		Where("user_id = ? AND post_id = ?", userID.String(), postID.String()).
		UpdateColumn("read_at_s", readAt).Error
	if err != nil {
		return false, err
	}
	return false, nil
}
