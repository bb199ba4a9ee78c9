// Package lifecycle holds the time-based status rules applied to
// appointments whenever the store is loaded or the lifecycle worker runs.
package lifecycle

import (
	"strings"
	"time"

	"github.com/hackgods/project-vector/internal/domain"
)

// DefaultNoShowGrace is how long after its start a claimed, unconfirmed
// appointment is kept before it is cancelled as a no-show.
const DefaultNoShowGrace = 30 * time.Minute

type Outcome int

const (
	Unchanged Outcome = iota
	Completed
	NoShow
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case NoShow:
		return "no_show"
	}
	return "unchanged"
}

// Apply evaluates the rules for one appointment and returns the possibly
// updated copy. The past-due rule is checked first, so an appointment that
// qualifies for both ends up completed rather than a no-show.
func Apply(a domain.Appointment, now time.Time, grace time.Duration) (domain.Appointment, Outcome) {
	if grace <= 0 {
		grace = DefaultNoShowGrace
	}

	if a.EndTime.Before(now) && (a.Status == domain.StatusPending || a.Status == domain.StatusConfirmed) {
		a.Status = domain.StatusCompleted
		a.UpdatedAt = now
		return a, Completed
	}

	if a.StartTime.Before(now.Add(-grace)) && a.Status == domain.StatusPending && a.MemberID != nil {
		a.Status = domain.StatusCancelled
		a.NoShow = true
		a.Notes = AppendMarker(a.Notes, domain.NoShowMarker)
		a.UpdatedAt = now
		return a, NoShow
	}

	return a, Unchanged
}

// Normalize applies the rules to every appointment. The input slice is not
// modified.
func Normalize(appts []domain.Appointment, now time.Time, grace time.Duration) ([]domain.Appointment, int) {
	out := make([]domain.Appointment, len(appts))
	changed := 0
	for i, a := range appts {
		updated, outcome := Apply(a, now, grace)
		if outcome != Unchanged {
			changed++
		}
		out[i] = updated
	}
	return out, changed
}

// AppendMarker adds marker to notes once, separated by a space.
func AppendMarker(notes, marker string) string {
	if strings.Contains(notes, marker) {
		return notes
	}
	if strings.TrimSpace(notes) == "" {
		return marker
	}
	return notes + " " + marker
}
