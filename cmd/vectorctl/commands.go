package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hackgods/project-vector/internal/appointment"
	"github.com/hackgods/project-vector/internal/loadtest"
	"github.com/hackgods/project-vector/internal/seed"
)

func resetCmd(e *env) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Erase every collection, versioned document and PIN",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("reset is irreversible, pass --yes to confirm")
			}
			a, err := e.local(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Store.Reset(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "store reset")
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm the reset")
	return cmd
}

func seedCmd(e *env) *cobra.Command {
	var opts seed.Options
	var start string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Fill an uninitialized store with demo providers, members and bookings",
		RunE: func(cmd *cobra.Command, args []string) error {
			if start != "" {
				t, err := time.Parse(time.DateOnly, start)
				if err != nil {
					return fmt.Errorf("invalid --start: %w", err)
				}
				opts.Start = t
			}
			if !cmd.Flags().Changed("video-ratio") {
				opts.VideoRatio = e.cfg.SeedVideoRatio
			}
			if !cmd.Flags().Changed("days") {
				opts.Days = e.cfg.SeedDays
			}

			a, err := e.local(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := seed.Generate(opts)
			if err != nil {
				return err
			}
			seeded, err := a.Store.Seed(cmd.Context(), res.Data)
			if err != nil {
				return err
			}
			if !seeded {
				fmt.Fprintln(cmd.OutOrStdout(), "store already initialized, run reset first")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ROLE\tEMAIL\tUSER ID")
			for _, id := range append(res.Providers, res.Members...) {
				fmt.Fprintf(w, "%s\t%s\t%s\n", id.Role, id.Email, id.UserID)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\n%d appointments, %d notes, %d help requests, %d waitlist entries\n",
				len(res.Data.Appointments), len(res.Data.EncounterNotes), len(res.Data.HelpRequests), len(res.Data.Waitlist))
			return nil
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "First day to schedule (YYYY-MM-DD, default today)")
	cmd.Flags().IntVar(&opts.Days, "days", 7, "Days of provider schedules")
	cmd.Flags().IntVar(&opts.Providers, "providers", 3, "Number of providers")
	cmd.Flags().IntVar(&opts.Members, "members", 12, "Number of members")
	cmd.Flags().Float64Var(&opts.VideoRatio, "video-ratio", 0.3, "Share of open slots offered as video")
	cmd.Flags().Float64Var(&opts.BookRatio, "book-ratio", 0.3, "Share of slots booked by members")
	cmd.Flags().Uint64Var(&opts.Seed, "seed", 0, "Random seed (0 picks one)")
	return cmd
}

func normalizeCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "normalize",
		Short: "Apply the completion and no-show rules to past appointments",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := e.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			changed, err := a.Appointments.NormalizeLifecycle(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d appointments updated\n", changed)
			return nil
		},
	}
}

func slotsCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "slots",
		Short: "Manage provider capacity",
	}

	var (
		provider, from, to, tz string
		weekdays               []string
		req                    appointment.SlotRequest
		video                  string
	)
	generate := &cobra.Command{
		Use:   "generate",
		Short: "Create open slots or blocks for a provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if req.TimeZone, err = time.LoadLocation(tz); err != nil {
				return fmt.Errorf("invalid --tz: %w", err)
			}
			if req.From, err = time.ParseInLocation(time.DateOnly, from, req.TimeZone); err != nil {
				return fmt.Errorf("invalid --from: %w", err)
			}
			req.To = req.From
			if to != "" {
				if req.To, err = time.ParseInLocation(time.DateOnly, to, req.TimeZone); err != nil {
					return fmt.Errorf("invalid --to: %w", err)
				}
			}
			if req.Weekdays, err = parseWeekdays(weekdays); err != nil {
				return err
			}
			switch video {
			case "":
			case "yes", "true":
				v := true
				req.IsVideo = &v
			case "no", "false":
				v := false
				req.IsVideo = &v
			default:
				return fmt.Errorf("invalid --video %q", video)
			}

			a, err := e.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, sess, err := a.ActAs(cmd.Context(), provider)
			if err != nil {
				return err
			}
			req.ProviderID = sess.UserID

			created, err := a.Appointments.GenerateSlots(ctx, req)
			if err != nil {
				return err
			}
			return writeJSON(cmd, created)
		},
	}
	generate.Flags().StringVar(&provider, "provider", "", "Provider email")
	generate.Flags().StringVar(&from, "from", "", "First day (YYYY-MM-DD)")
	generate.Flags().StringVar(&to, "to", "", "Last day (YYYY-MM-DD, default --from)")
	generate.Flags().StringVar(&tz, "tz", "UTC", "IANA time zone of the working hours")
	generate.Flags().StringVar(&req.DayStart, "day-start", "09:00", "Start of the working day (HH:MM)")
	generate.Flags().StringVar(&req.DayEnd, "day-end", "17:00", "End of the working day (HH:MM)")
	generate.Flags().DurationVar(&req.Duration, "duration", 30*time.Minute, "Slot length")
	generate.Flags().DurationVar(&req.Break, "break", 0, "Gap between slots")
	generate.Flags().StringSliceVar(&weekdays, "weekdays", nil, "Days to include, e.g. mon,tue (default every day)")
	generate.Flags().BoolVar(&req.Block, "block", false, "Create blocks instead of open slots")
	generate.Flags().StringVar(&req.Reason, "reason", "", "Block reason")
	generate.Flags().StringVar(&req.Notes, "notes", "", "Notes on every slot")
	generate.Flags().StringVar(&req.Location, "location", "", "Location of every slot")
	generate.Flags().StringVar(&video, "video", "", "Force the video flag (yes or no)")
	generate.Flags().Float64Var(&req.VideoRatio, "video-ratio", 0, "Share of open slots flagged as video when --video is unset")
	_ = generate.MarkFlagRequired("provider")
	_ = generate.MarkFlagRequired("from")

	cmd.AddCommand(generate)
	return cmd
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
	"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
}

func parseWeekdays(names []string) ([]time.Weekday, error) {
	var out []time.Weekday
	for _, n := range names {
		key := strings.ToLower(strings.TrimSpace(n))
		if len(key) > 3 {
			key = key[:3]
		}
		d, ok := weekdayNames[key]
		if !ok {
			return nil, fmt.Errorf("unknown weekday %q", n)
		}
		out = append(out, d)
	}
	return out, nil
}

func dumpCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "dump",
		Short: "Print the current document as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := e.local(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			return writeJSON(cmd, a.Store.Snapshot())
		},
	}
}

func loadtestCmd(e *env) *cobra.Command {
	var (
		cfg     loadtest.Config
		members int
	)
	cmd := &cobra.Command{
		Use:   "loadtest",
		Short: "Drive concurrent members against a running api-server",
		RunE: func(cmd *cobra.Command, args []string) error {
			for i := 1; i <= members; i++ {
				cfg.Members = append(cfg.Members, fmt.Sprintf("load.member%d@example.com", i))
			}
			r, err := loadtest.NewRunner(cfg, e.logger)
			if err != nil {
				return err
			}
			if err := r.Prepare(cmd.Context()); err != nil {
				return err
			}
			r.Run(cmd.Context())
			r.WriteReport(cmd.OutOrStdout())
			return nil
		},
	}
	cmd.Flags().StringVar(&cfg.BaseURL, "url", "http://localhost:8080", "API base URL")
	cmd.Flags().DurationVar(&cfg.Duration, "duration", 30*time.Second, "How long to run")
	cmd.Flags().IntVar(&cfg.Workers, "workers", 10, "Concurrent workers")
	cmd.Flags().IntVar(&members, "members", 20, "Distinct members to sign in")
	cmd.Flags().Float64Var(&cfg.BookingRatio, "booking-ratio", 0.5, "Share of booking operations")
	cmd.Flags().Float64Var(&cfg.CancelRatio, "cancel-ratio", 0.2, "Share of cancel operations")
	cmd.Flags().Float64Var(&cfg.ReadRatio, "read-ratio", 0.3, "Share of read operations")
	return cmd
}
