package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/slotwise/slotwise/services/booking-service/internal/batch"
	"github.com/spf13/cobra"
)

// parseRefs reads "service" or "service@employee" arguments.
func parseRefs(values []string) ([]batch.ServiceRef, error) {
	refs := make([]batch.ServiceRef, 0, len(values))
	for _, v := range values {
		svc, emp, _ := strings.Cut(strings.TrimSpace(v), "@")
		if svc == "" {
			return nil, fmt.Errorf("invalid service %q", v)
		}
		refs = append(refs, batch.ServiceRef{ServiceID: svc, EmployeeID: emp})
	}
	if len(refs) == 0 {
		return nil, fmt.Errorf("at least one --service is required")
	}
	return refs, nil
}

func newSlotsCmd(opts *options) *cobra.Command {
	var (
		orgID, service, employee string
		dates                    []string
		onlyFree                 bool
	)
	c := &cobra.Command{
		Use:   "slots",
		Short: "List the slots of one service on one or more dates",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			queries := make([]batch.Query, 0, len(dates))
			for _, d := range dates {
				queries = append(queries, batch.Query{
					Date:     d,
					Services: []batch.ServiceRef{{ServiceID: service, EmployeeID: employee}},
				})
			}
			results, err := opts.checker(store, cmd.ErrOrStderr()).Run(ctx, orgID, queries)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if ok, err := opts.printJSON(out, results); ok {
				return err
			}
			for _, r := range results {
				fmt.Fprintf(out, "%s\n", r.Date)
				if len(r.Slots) == 0 {
					fmt.Fprintln(out, "  no slots")
				}
				for _, s := range r.Slots {
					if onlyFree && !s.Available {
						continue
					}
					state := "free"
					if !s.Available {
						state = "taken"
					}
					fmt.Fprintf(out, "  %s  %s\n", s.Time, state)
				}
			}
			return nil
		},
	}
	c.Flags().StringVar(&orgID, "org", "", "organization id")
	c.Flags().StringVar(&service, "service", "", "service id")
	c.Flags().StringVar(&employee, "employee", "", "employee id (optional)")
	c.Flags().StringSliceVar(&dates, "date", nil, "date as 2006-01-02; repeat or comma-separate for several")
	c.Flags().BoolVar(&onlyFree, "free", false, "print available slots only")
	_ = c.MarkFlagRequired("org")
	_ = c.MarkFlagRequired("service")
	_ = c.MarkFlagRequired("date")
	return c
}

func newBlocksCmd(opts *options) *cobra.Command {
	var (
		orgID, date string
		services    []string
	)
	c := &cobra.Command{
		Use:   "blocks",
		Short: "List start times where services can be booked back to back",
		RunE: func(cmd *cobra.Command, args []string) error {
			refs, err := parseRefs(services)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			store, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			results, err := opts.checker(store, cmd.ErrOrStderr()).Run(ctx, orgID, []batch.Query{{Date: date, Services: refs, Blocks: true}})
			if err != nil {
				return err
			}
			found := results[0].Blocks
			out := cmd.OutOrStdout()
			if ok, err := opts.printJSON(out, found); ok {
				return err
			}
			if len(found) == 0 {
				fmt.Fprintln(out, "no blocks")
				return nil
			}
			for _, b := range found {
				parts := make([]string, 0, len(b.Intervals))
				for _, iv := range b.Intervals {
					parts = append(parts, fmt.Sprintf("%s@%s", iv.ServiceID, iv.EmployeeID))
				}
				fmt.Fprintf(out, "%s-%s  %s\n", b.Start.Format(time.RFC3339), b.End.Format("15:04"), strings.Join(parts, " "))
			}
			return nil
		},
	}
	c.Flags().StringVar(&orgID, "org", "", "organization id")
	c.Flags().StringVar(&date, "date", "", "date as 2006-01-02")
	c.Flags().StringArrayVar(&services, "service", nil, "service id or service@employee, in booking order")
	_ = c.MarkFlagRequired("org")
	_ = c.MarkFlagRequired("date")
	return c
}

func newCalendarCmd(opts *options) *cobra.Command {
	var (
		orgID, from, to string
		services        []string
	)
	c := &cobra.Command{
		Use:   "calendar",
		Short: "Show which days in a range have anything bookable",
		RunE: func(cmd *cobra.Command, args []string) error {
			refs, err := parseRefs(services)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			store, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			days, err := opts.checker(store, cmd.ErrOrStderr()).Calendar(ctx, orgID, from, to, refs)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if ok, err := opts.printJSON(out, days); ok {
				return err
			}
			keys := make([]string, 0, len(days))
			for k := range days {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				mark := "-"
				if days[k] {
					mark = "open"
				}
				fmt.Fprintf(out, "%s  %s\n", k, mark)
			}
			return nil
		},
	}
	c.Flags().StringVar(&orgID, "org", "", "organization id")
	c.Flags().StringVar(&from, "from", "", "first date, 2006-01-02")
	c.Flags().StringVar(&to, "to", "", "last date, 2006-01-02")
	c.Flags().StringArrayVar(&services, "service", nil, "service id or service@employee")
	_ = c.MarkFlagRequired("org")
	_ = c.MarkFlagRequired("from")
	_ = c.MarkFlagRequired("to")
	return c
}
