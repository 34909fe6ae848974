package posts

import (
	"context"
	"time"
)

// WeeklyProgress summarizes which days of the current reference-timezone week
// (starting Monday) the user opened with a first post.
type WeeklyProgress struct {
	WeekStartSeconds int64
	Days             [7]bool
	PostedDays       int
}

// WeekStart returns the start of Monday for the week containing the given
// moment in the reference timezone.
func WeekStart(moment time.Time, zone *time.Location) time.Time {
	dayStart := DayStart(moment, zone)
	offset := (int(dayStart.Weekday()) + 6) % 7
	return dayStart.AddDate(0, 0, -offset)
}

// computeWeeklyProgress derives the weekly summary from the daily first-write
// gate rows; the gate table is the single source of truth for "posted today".
func (s *Service) computeWeeklyProgress(ctx context.Context, userID UserID) (*WeeklyProgress, error) {
	weekStart := WeekStart(s.clock(), s.zone)

	dayStarts := make([]int64, 0, 7)
	for day := 0; day < 7; day++ {
		dayStarts = append(dayStarts, weekStart.AddDate(0, 0, day).Unix())
	}

	var fired []FirstWriteGate
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND day_start_s IN ?", userID.String(), dayStarts).
		Find(&fired).Error
	if err != nil {
		return nil, err
	}

	progress := &WeeklyProgress{WeekStartSeconds: weekStart.Unix()}
	firedByDayStart := make(map[int64]struct{}, len(fired))
	for _, gate := range fired {
		firedByDayStart[gate.DayStartSeconds] = struct{}{}
	}
	for day, start := range dayStarts {
		if _, posted := firedByDayStart[start]; posted {
			progress.Days[day] = true
			progress.PostedDays++
		}
	}
	return progress, nil
}
