// Package seed generates realistic demo content for an empty local store:
// provider schedules, bookings, encounter notes, help requests and waitlist
// entries, all tied to identities that can sign in.
package seed

import (
	"fmt"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"

	"github.com/hackgods/project-vector/internal/appointment"
	"github.com/hackgods/project-vector/internal/auth"
	"github.com/hackgods/project-vector/internal/domain"
	"github.com/hackgods/project-vector/internal/mockstore"
	"github.com/hackgods/project-vector/internal/notes"
)

type Options struct {
	// Start is the first day to generate slots for.
	Start      time.Time
	Days       int
	Providers  int
	Members    int
	VideoRatio float64
	// BookRatio is the share of slots claimed by members.
	BookRatio float64
	// Seed makes the output reproducible. Zero picks a random seed.
	Seed uint64
}

func (o Options) withDefaults() Options {
	if o.Start.IsZero() {
		o.Start = time.Now().UTC()
	}
	if o.Days <= 0 {
		o.Days = 7
	}
	if o.Providers <= 0 {
		o.Providers = 3
	}
	if o.Members <= 0 {
		o.Members = 12
	}
	if o.BookRatio <= 0 {
		o.BookRatio = 0.3
	}
	return o
}

type Identity struct {
	UserID uuid.UUID
	Email  string
	Role   domain.Role
}

type Result struct {
	Data      mockstore.SeedData
	Providers []Identity
	Members   []Identity
}

var (
	visitReasons = []string{"Annual checkup", "Follow-up", "Urgent Pain", "Prescription refill", "Lab review", "Vaccination"}
	categories   = []domain.NoteCategory{domain.CategoryGeneral, domain.CategoryMedication, domain.CategoryLabResult, domain.CategoryReferral, domain.CategoryFollowUp}
	helpTopics   = []string{"billing", "technical", "scheduling", "general"}
	services     = []string{"Dermatology", "Cardiology", "General Practice", "Orthopedics", "Pediatrics"}
)

// Generate builds the demo content. Every provider works 09:00 to 17:00 UTC on
// weekdays in 30 minute slots.
func Generate(opts Options) (Result, error) {
	opts = opts.withDefaults()
	f := gofakeit.New(opts.Seed)

	var res Result
	seen := map[string]bool{}
	for i := 0; i < opts.Providers; i++ {
		email := uniqueEmail(seen, "dr."+slug(f.LastName()), "vector.health")
		res.Providers = append(res.Providers, identity(email, domain.RoleProvider))
	}
	for i := 0; i < opts.Members; i++ {
		email := uniqueEmail(seen, slug(f.FirstName())+"_"+slug(f.LastName()), "example.com")
		res.Members = append(res.Members, identity(email, domain.RoleMember))
	}

	day := time.Date(opts.Start.Year(), opts.Start.Month(), opts.Start.Day(), 0, 0, 0, 0, time.UTC)
	booked := map[string]bool{}

	for _, p := range res.Providers {
		req := appointment.SlotRequest{
			ProviderID: p.UserID,
			From:       day,
			To:         day.AddDate(0, 0, opts.Days-1),
			DayStart:   "09:00",
			DayEnd:     "17:00",
			Duration:   30 * time.Minute,
			Weekdays:   []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
			Location:   f.City() + " Clinic",
			VideoRatio: opts.VideoRatio,
		}
		plan, err := appointment.PlanSlots(req, nil, func() bool { return f.Float64() < opts.VideoRatio })
		if err != nil {
			return Result{}, fmt.Errorf("plan slots for %s: %w", p.Email, err)
		}

		for _, slot := range plan.Insert {
			if len(res.Members) > 0 && f.Float64() < opts.BookRatio {
				m := res.Members[f.Number(0, len(res.Members)-1)]
				key := m.UserID.String() + slot.StartTime.Format(time.DateOnly)
				if !booked[key] {
					booked[key] = true
					memberID := m.UserID
					slot.MemberID = &memberID
					slot.IsBooked = true
					slot.Status = domain.StatusConfirmed
					slot.Notes = visitReasons[f.Number(0, len(visitReasons)-1)]
				}
			}
			res.Data.Appointments = append(res.Data.Appointments, slot)
		}
	}

	res.Data.EncounterNotes, res.Data.NoteStatistics = generateNotes(f, res.Data.Appointments)
	res.Data.HelpRequests = generateHelpRequests(f, res.Members, opts.Start)
	res.Data.Waitlist = generateWaitlist(f, res.Members, res.Providers, opts.Start)
	return res, nil
}

func generateNotes(f *gofakeit.Faker, appts []domain.Appointment) ([]domain.EncounterNote, []domain.NoteStatistics) {
	var out []domain.EncounterNote
	stats := map[uuid.UUID]map[string]*domain.NoteStatistics{}

	for _, a := range appts {
		if a.MemberID == nil || f.Float64() >= 0.5 {
			continue
		}
		status := domain.NoteActive
		if f.Float64() < 0.2 {
			status = domain.NoteRequiresAction
		}
		n := domain.EncounterNote{
			ID:         uuid.New(),
			ProviderID: a.ProviderID,
			MemberID:   *a.MemberID,
			Category:   categories[f.Number(0, len(categories)-1)],
			Content:    sentence(f, 12),
			Status:     status,
			CreatedAt:  a.EndTime,
			UpdatedAt:  a.EndTime,
		}
		out = append(out, n)

		period := domain.StatisticsPeriod(n.CreatedAt)
		if stats[n.ProviderID] == nil {
			stats[n.ProviderID] = map[string]*domain.NoteStatistics{}
		}
		st := stats[n.ProviderID][period]
		if st == nil {
			st = &domain.NoteStatistics{Period: period, ProviderID: n.ProviderID}
			stats[n.ProviderID][period] = st
		}
		notes.Accumulate(st, n)
		st.UpdatedAt = n.CreatedAt
	}

	var agg []domain.NoteStatistics
	for _, byPeriod := range stats {
		for _, st := range byPeriod {
			agg = append(agg, *st)
		}
	}
	return out, agg
}

func generateHelpRequests(f *gofakeit.Faker, members []Identity, at time.Time) []domain.HelpRequest {
	var out []domain.HelpRequest
	for i, m := range members {
		if i%3 != 0 {
			continue
		}
		created := at.Add(-time.Duration(f.Number(1, 72)) * time.Hour).UTC()
		out = append(out, domain.HelpRequest{
			ID:        uuid.New(),
			MemberID:  m.UserID,
			Category:  helpTopics[f.Number(0, len(helpTopics)-1)],
			Subject:   strings.TrimSuffix(sentence(f, 4), "."),
			Message:   sentence(f, 16),
			Status:    domain.HelpPending,
			CreatedAt: created,
			UpdatedAt: created,
		})
	}
	return out
}

func generateWaitlist(f *gofakeit.Faker, members, providers []Identity, at time.Time) []domain.WaitlistEntry {
	if len(providers) == 0 {
		return nil
	}
	var out []domain.WaitlistEntry
	for i, m := range members {
		if i%4 != 1 {
			continue
		}
		created := at.Add(-time.Duration(f.Number(1, 48)) * time.Hour).UTC()
		out = append(out, domain.WaitlistEntry{
			ID:          uuid.New(),
			MemberID:    m.UserID,
			ProviderID:  providers[f.Number(0, len(providers)-1)].UserID,
			ServiceType: services[f.Number(0, len(services)-1)],
			Status:      domain.WaitlistActive,
			CreatedAt:   created,
			UpdatedAt:   created,
		})
	}
	return out
}

func identity(email string, role domain.Role) Identity {
	return Identity{UserID: auth.UserIDFor(email), Email: email, Role: role}
}

func sentence(f *gofakeit.Faker, words int) string {
	parts := make([]string, words)
	for i := range parts {
		parts[i] = f.Word()
	}
	out := strings.Join(parts, " ")
	return strings.ToUpper(out[:1]) + out[1:] + "."
}

// slug keeps lowercase ASCII letters only.
func slug(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if r >= 'a' && r <= 'z' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "user"
	}
	return b.String()
}

func uniqueEmail(seen map[string]bool, local, domainName string) string {
	email := local + "@" + domainName
	for i := 2; seen[email]; i++ {
		email = fmt.Sprintf("%s%d@%s", local, i, domainName)
	}
	seen[email] = true
	return email
}
