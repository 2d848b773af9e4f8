package deepstudy

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	dserrs "github.com/jdholdren/deepstudy/internal/errors"
)

// Users without a stored setting are sent their topic at 10:00 local time.
const (
	DefaultHour   = 10
	DefaultMinute = 0
)

// Schedules is the registry of per-user trigger times.
type Schedules struct {
	repo ScheduleRepo
}

func NewSchedules(repo ScheduleRepo) *Schedules {
	return &Schedules{repo: repo}
}

// Get returns the stored trigger time, or the default when there is none.
func (s *Schedules) Get(ctx context.Context, userID int64) (hour, minute int, err error) {
	setting, err := s.repo.Setting(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return DefaultHour, DefaultMinute, nil
	}
	if err != nil {
		return 0, 0, err
	}

	return setting.Hour, setting.Minute, nil
}

// Set validates and replaces the user's trigger time.
func (s *Schedules) Set(ctx context.Context, userID int64, hour, minute int) error {
	if err := ValidateClock(hour, minute); err != nil {
		return err
	}

	return s.repo.UpsertSetting(ctx, ScheduleSetting{
		UserID: userID,
		Hour:   hour,
		Minute: minute,
	})
}

func (s *Schedules) ListAll(ctx context.Context) ([]ScheduleSetting, error) {
	return s.repo.AllSettings(ctx)
}

// ValidateClock checks 0 <= hour < 24 and 0 <= minute < 60.
func ValidateClock(hour, minute int) error {
	var details []dserrs.Detail
	if hour < 0 || hour > 23 {
		details = append(details, dserrs.Detail{Field: "hour", Error: "must be between 0 and 23"})
	}
	if minute < 0 || minute > 59 {
		details = append(details, dserrs.Detail{Field: "minute", Error: "must be between 0 and 59"})
	}
	if len(details) > 0 {
		return dserrs.E("invalid time of day", dserrs.KindValidation, details)
	}

	return nil
}

// ParseClock parses "HH:MM" (single digit hours are fine) and validates it.
func ParseClock(s string) (hour, minute int, err error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, 0, dserrs.E(fmt.Sprintf("expected HH:MM, got %q", s), dserrs.KindValidation)
	}
	if hour, err = strconv.Atoi(hh); err != nil {
		return 0, 0, dserrs.E(fmt.Sprintf("bad hour %q", hh), dserrs.KindValidation)
	}
	if minute, err = strconv.Atoi(mm); err != nil {
		return 0, 0, dserrs.E(fmt.Sprintf("bad minute %q", mm), dserrs.KindValidation)
	}
	if err := ValidateClock(hour, minute); err != nil {
		return 0, 0, err
	}

	return hour, minute, nil
}
