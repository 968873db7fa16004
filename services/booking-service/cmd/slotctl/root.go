package main

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/goccy/go-json"
	"github.com/slotwise/slotwise/services/booking-service/internal/availability"
	"github.com/slotwise/slotwise/services/booking-service/internal/batch"
	"github.com/slotwise/slotwise/services/booking-service/internal/schedule"
	"github.com/slotwise/slotwise/services/booking-service/internal/storage/sqlitestore"
	"github.com/spf13/cobra"
)

type options struct {
	dbPath   string
	timezone string
	step     int
	asJSON   bool
	verbose  bool
	now      func() time.Time
}

func (o *options) defaults() availability.Defaults {
	return availability.Defaults{StepMinutes: o.step, Timezone: o.timezone}
}

func (o *options) logger(w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if o.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func (o *options) open(ctx context.Context) (*sqlitestore.Store, error) {
	return sqlitestore.Open(ctx, o.dbPath)
}

func (o *options) checker(store batch.Store, w io.Writer) *batch.Checker {
	c := batch.NewChecker(store, o.defaults(), o.logger(w))
	if o.now != nil {
		c.Slots.Now = o.now
		c.Blocks.Now = o.now
	}
	return c
}

// printJSON writes v indented when --json is set and reports whether it did.
func (o *options) printJSON(w io.Writer, v any) (bool, error) {
	if !o.asJSON {
		return false, nil
	}
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return true, err
	}
	raw = append(raw, '\n')
	_, err = w.Write(raw)
	return true, err
}

func newRootCmd() *cobra.Command {
	return newRootCmdWith(&options{now: time.Now})
}

func newRootCmdWith(opts *options) *cobra.Command {
	root := &cobra.Command{
		Use:           "slotctl",
		Short:         "Query availability and recurring series against a local SQLite database",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.dbPath, "db", "slotctl.db", "SQLite database file")
	root.PersistentFlags().StringVar(&opts.timezone, "default-tz", "UTC", "timezone for organizations without a valid one")
	root.PersistentFlags().IntVar(&opts.step, "default-step", schedule.DefaultStepMinutes, "slot step in minutes when no schedule sets one")
	root.PersistentFlags().BoolVar(&opts.asJSON, "json", false, "print JSON instead of text")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log debug output to stderr")

	root.AddCommand(newLoadCmd(opts))
	root.AddCommand(newSlotsCmd(opts))
	root.AddCommand(newBlocksCmd(opts))
	root.AddCommand(newCalendarCmd(opts))
	root.AddCommand(newExpandCmd(opts))
	root.AddCommand(newPreviewCmd(opts))
	root.AddCommand(newBookCmd(opts))
	return root
}
