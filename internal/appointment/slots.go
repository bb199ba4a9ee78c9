package appointment

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/project-vector/internal/domain"
)

// SlotRequest describes a batch of provider capacity to create.
type SlotRequest struct {
	ProviderID uuid.UUID
	From       time.Time
	To         time.Time
	// DayStart and DayEnd are HH:MM in TimeZone.
	DayStart string
	DayEnd   string
	Duration time.Duration
	Break    time.Duration
	// Weekdays restricts generation to these days. Empty means every day.
	Weekdays []time.Weekday
	TimeZone *time.Location

	Block  bool
	Reason string
	Notes  string

	Location string
	// IsVideo forces the video flag. When nil, VideoRatio of the open slots
	// are flagged at random.
	IsVideo    *bool
	VideoRatio float64
}

func (r SlotRequest) validate() error {
	if r.Duration <= 0 {
		return fmt.Errorf("%w: slot duration must be positive", domain.ErrInvalidInput)
	}
	if r.Break < 0 {
		return fmt.Errorf("%w: break must not be negative", domain.ErrInvalidInput)
	}
	if r.From.IsZero() || r.To.IsZero() || r.To.Before(r.From) {
		return fmt.Errorf("%w: invalid date range", domain.ErrInvalidInput)
	}
	if r.VideoRatio < 0 || r.VideoRatio > 1 {
		return fmt.Errorf("%w: video ratio must be within [0, 1]", domain.ErrInvalidInput)
	}
	sh, sm, err := ParseTimeOfDay(r.DayStart)
	if err != nil {
		return err
	}
	eh, em, err := ParseTimeOfDay(r.DayEnd)
	if err != nil {
		return err
	}
	if eh*60+em <= sh*60+sm {
		return fmt.Errorf("%w: day window must end after it starts", domain.ErrInvalidInput)
	}
	return nil
}

func (r SlotRequest) zone() *time.Location {
	if r.TimeZone == nil {
		return time.UTC
	}
	return r.TimeZone
}

func (r SlotRequest) matchesWeekday(d time.Weekday) bool {
	if len(r.Weekdays) == 0 {
		return true
	}
	for _, w := range r.Weekdays {
		if w == d {
			return true
		}
	}
	return false
}

// ParseTimeOfDay parses an HH:MM string.
func ParseTimeOfDay(s string) (int, int, error) {
	if len(s) != 5 || s[2] != ':' {
		return 0, 0, fmt.Errorf("%w: invalid time %q, expected HH:MM", domain.ErrInvalidInput, s)
	}
	hour, err := strconv.Atoi(s[:2])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("%w: invalid hour in %q", domain.ErrInvalidInput, s)
	}
	minute, err := strconv.Atoi(s[3:])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("%w: invalid minute in %q", domain.ErrInvalidInput, s)
	}
	return hour, minute, nil
}

// SlotPlan is the outcome of planning a SlotRequest against a provider's
// existing appointments.
type SlotPlan struct {
	Insert []domain.Appointment
	// Delete holds open slots displaced by a block.
	Delete []uuid.UUID
	// Skipped counts candidate intervals dropped because of a conflict.
	Skipped int
}

// PlanSlots walks every matching day of the request and decides, candidate by
// candidate, what to insert and which open slots a block displaces. existing
// must be the provider's appointments; cancelled ones are ignored. video is
// consulted for each open slot when the request does not force the flag.
func PlanSlots(req SlotRequest, existing []domain.Appointment, video func() bool) (SlotPlan, error) {
	if err := req.validate(); err != nil {
		return SlotPlan{}, err
	}
	sh, sm, _ := ParseTimeOfDay(req.DayStart)
	eh, em, _ := ParseTimeOfDay(req.DayEnd)

	active := make([]domain.Appointment, 0, len(existing))
	for _, a := range existing {
		if a.ProviderID == req.ProviderID && a.Status != domain.StatusCancelled {
			active = append(active, a)
		}
	}

	var plan SlotPlan
	deleted := make(map[uuid.UUID]bool)

	tz := req.zone()
	from := req.From.In(tz)
	to := req.To.In(tz)
	day := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, tz)
	lastDay := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, tz)

	for ; !day.After(lastDay); day = day.AddDate(0, 0, 1) {
		if !req.matchesWeekday(day.Weekday()) {
			continue
		}
		windowStart := time.Date(day.Year(), day.Month(), day.Day(), sh, sm, 0, 0, tz)
		windowEnd := time.Date(day.Year(), day.Month(), day.Day(), eh, em, 0, 0, tz)

		cursor := windowStart
		for !cursor.Add(req.Duration).After(windowEnd) {
			candStart := cursor
			candEnd := cursor.Add(req.Duration)

			var conflicts []domain.Appointment
			for _, a := range active {
				if deleted[a.ID] {
					continue
				}
				if a.Overlaps(candStart, candEnd) {
					conflicts = append(conflicts, a)
				}
			}

			if len(conflicts) > 0 && !req.Block {
				plan.Skipped++
				cursor = latestEnd(conflicts)
				continue
			}
			for _, c := range conflicts {
				if c.IsOpen() {
					deleted[c.ID] = true
					plan.Delete = append(plan.Delete, c.ID)
				}
			}

			plan.Insert = append(plan.Insert, req.slot(candStart, candEnd, video))
			cursor = candEnd.Add(req.Break)
		}
	}
	return plan, nil
}

func (r SlotRequest) slot(start, end time.Time, video func() bool) domain.Appointment {
	a := domain.Appointment{
		ID:         uuid.New(),
		ProviderID: r.ProviderID,
		StartTime:  start.UTC(),
		EndTime:    end.UTC(),
		Status:     domain.StatusPending,
		Notes:      r.Notes,
		Location:   r.Location,
	}
	if r.Block {
		a.Status = domain.StatusBlocked
		a.IsBooked = true
		if r.Reason != "" {
			a.Notes = r.Reason
		}
		return a
	}
	switch {
	case r.IsVideo != nil:
		a.IsVideo = *r.IsVideo
	case video != nil:
		a.IsVideo = video()
	}
	return a
}

func latestEnd(appts []domain.Appointment) time.Time {
	var end time.Time
	for _, a := range appts {
		if a.EndTime.After(end) {
			end = a.EndTime
		}
	}
	return end
}
