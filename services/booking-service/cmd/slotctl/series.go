package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/slotwise/slotwise/services/booking-service/internal/clock"
	"github.com/slotwise/slotwise/services/booking-service/internal/recurrence"
	"github.com/spf13/cobra"
)

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
	"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
}

type patternFlags struct {
	start string
	tz    string
	every int
	on    []string
	count int
	until string
}

func (f *patternFlags) register(c *cobra.Command) {
	c.Flags().StringVar(&f.start, "start", "", "first occurrence, RFC 3339")
	c.Flags().IntVar(&f.every, "every", 1, "repeat every N weeks")
	c.Flags().StringSliceVar(&f.on, "on", nil, "weekdays, e.g. mon,wed")
	c.Flags().IntVar(&f.count, "count", 0, "number of occurrences")
	c.Flags().StringVar(&f.until, "until", "", "last date, 2006-01-02")
	_ = c.MarkFlagRequired("start")
	_ = c.MarkFlagRequired("on")
	c.MarkFlagsMutuallyExclusive("count", "until")
}

func (f *patternFlags) pattern() (time.Time, recurrence.Pattern, error) {
	start, err := time.Parse(time.RFC3339, f.start)
	if err != nil {
		return time.Time{}, recurrence.Pattern{}, fmt.Errorf("invalid --start: %w", err)
	}
	p := recurrence.Pattern{IntervalWeeks: f.every, EndType: recurrence.EndByCount, Count: f.count}
	if f.until != "" {
		p.EndType, p.EndDate, p.Count = recurrence.EndByDate, f.until, 0
	}
	for _, name := range f.on {
		key := strings.ToLower(strings.TrimSpace(name))
		if len(key) > 3 {
			key = key[:3]
		}
		wd, ok := weekdayNames[key]
		if !ok {
			return time.Time{}, recurrence.Pattern{}, fmt.Errorf("invalid weekday %q", name)
		}
		p.Weekdays = append(p.Weekdays, wd)
	}
	return start, p, p.Validate()
}

func newExpandCmd(opts *options) *cobra.Command {
	var pf patternFlags
	c := &cobra.Command{
		Use:   "expand",
		Short: "Print the occurrences of a weekly pattern without consulting any schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			start, p, err := pf.pattern()
			if err != nil {
				return err
			}
			loc := clock.LoadLocation(pf.tz, opts.timezone)
			occs, err := recurrence.Expand(start, p, loc)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if ok, err := opts.printJSON(out, occs); ok {
				return err
			}
			for _, o := range occs {
				fmt.Fprintln(out, o.Start.In(loc).Format("2006-01-02 Mon 15:04 MST"))
			}
			return nil
		},
	}
	pf.register(c)
	c.Flags().StringVar(&pf.tz, "tz", "", "timezone the weekdays are read in (defaults to --default-tz)")
	return c
}

type seriesFlags struct {
	patternFlags
	orgID, employee string
	services        []string
	client          string
	skipConflicts   bool
	skipNoWork      bool
}

func (f *seriesFlags) register(c *cobra.Command) {
	f.patternFlags.register(c)
	c.Flags().StringVar(&f.orgID, "org", "", "organization id")
	c.Flags().StringVar(&f.employee, "employee", "", "employee id")
	c.Flags().StringArrayVar(&f.services, "service", nil, "service id, in booking order")
	c.Flags().StringVar(&f.client, "client", "slotctl", "client name")
	c.Flags().BoolVar(&f.skipConflicts, "skip-conflicts", false, "drop conflicting occurrences instead of rejecting")
	c.Flags().BoolVar(&f.skipNoWork, "skip-no-work", false, "drop occurrences outside working hours instead of rejecting")
	_ = c.MarkFlagRequired("org")
	_ = c.MarkFlagRequired("employee")
}

func newPreviewCmd(opts *options) *cobra.Command {
	var sf seriesFlags
	c := &cobra.Command{
		Use:   "preview",
		Short: "Classify every occurrence of a recurring series without booking it",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			req, err := sf.request(cmd, store)
			if err != nil {
				return err
			}
			v := &recurrence.Validator{Store: store, Defaults: opts.defaults()}
			occs, err := v.Preview(ctx, req)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if ok, err := opts.printJSON(out, occs); ok {
				return err
			}
			printOccurrences(cmd, occs)
			return nil
		},
	}
	sf.register(c)
	return c
}

func newBookCmd(opts *options) *cobra.Command {
	var sf seriesFlags
	c := &cobra.Command{
		Use:   "book",
		Short: "Create a recurring series atomically",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			req, err := sf.request(cmd, store)
			if err != nil {
				return err
			}
			creator := &recurrence.Creator{
				Validator: &recurrence.Validator{Store: store, Defaults: opts.defaults()},
				Tx:        store,
				Logger:    opts.logger(cmd.ErrOrStderr()),
				BackOff:   func() backoff.BackOff { return backoff.NewConstantBackOff(100 * time.Millisecond) },
			}
			res, err := creator.Create(ctx, req)
			if errors.Is(err, recurrence.ErrSeriesRejected) {
				printOccurrences(cmd, res.Attempted)
				return err
			}
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if ok, err := opts.printJSON(out, res); ok {
				return err
			}
			fmt.Fprintf(out, "series %s: %d appointments, %d occurrences skipped\n", res.SeriesID, len(res.Created), len(res.Skipped))
			return nil
		},
	}
	sf.register(c)
	return c
}

func (f *seriesFlags) request(cmd *cobra.Command, store recurrence.Store) (recurrence.SeriesRequest, error) {
	start, p, err := f.pattern()
	if err != nil {
		return recurrence.SeriesRequest{}, err
	}
	if len(f.services) == 0 {
		return recurrence.SeriesRequest{}, fmt.Errorf("at least one --service is required")
	}
	org, err := store.GetOrganization(cmd.Context(), f.orgID)
	if err != nil {
		return recurrence.SeriesRequest{}, err
	}
	services := make([]recurrence.SeriesService, 0, len(f.services))
	for _, id := range f.services {
		svc, ok := org.Service(id)
		if !ok {
			return recurrence.SeriesRequest{}, fmt.Errorf("unknown service %q", id)
		}
		services = append(services, recurrence.SeriesService{ServiceID: svc.ID, DurationMinutes: svc.DurationMinutes})
	}
	return recurrence.SeriesRequest{
		OrganizationID: f.orgID,
		EmployeeID:     f.employee,
		Services:       services,
		Start:          start,
		Pattern:        p,
		Client:         recurrence.Client{Name: f.client},
		SkipConflicts:  f.skipConflicts,
		SkipNoWork:     f.skipNoWork,
	}, nil
}

func printOccurrences(cmd *cobra.Command, occs []recurrence.OccurrenceValidation) {
	out := cmd.OutOrStdout()
	for _, o := range occs {
		line := fmt.Sprintf("%s  %s", o.Date.Format("2006-01-02 Mon 15:04"), o.Status)
		if o.Reason != "" {
			line += "  (" + o.Reason + ")"
		}
		fmt.Fprintln(out, line)
	}
}
