package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Tap30/pulse-go"
)

func newQueueCommand(opts *globalOptions) *cobra.Command {
	queueCmd := &cobra.Command{Use: "queue", Short: "Request queue operations"}

	var asJSON bool
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List persisted requests and pending events",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			storage, closeStorage, err := pulse.OpenStorage(cfg.Storage)
			if err != nil {
				return err
			}
			defer closeStorage()

			snap := pulse.ReadSnapshot(storage, nil)
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(snap)
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "#\tKIND\tDEVICE\tTIMESTAMP")
			for i, req := range snap.Requests {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", i, req.Kind(), req.DeviceID, formatTimestamp(req.Timestamp))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(out, "%d requests queued, %d events pending\n", len(snap.Requests), len(snap.Events))
			return nil
		},
	}
	listCmd.Flags().BoolVar(&asJSON, "json", false, "Print the full snapshot as JSON")

	var timeout time.Duration
	flushCmd := &cobra.Command{
		Use:   "flush",
		Short: "Deliver every queued request now",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			return opts.withClient(ctx, func(c *pulse.Client) error {
				before := c.QueueLen() + c.PendingEvents()
				if err := c.Flush(ctx); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "flushed %d queued items\n", before)
				return nil
			})
		},
	}
	flushCmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Give up after this long")

	queueCmd.AddCommand(listCmd, flushCmd)
	return queueCmd
}

func newDeviceIDCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "device-id",
		Short: "Print the persisted device id",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			storage, closeStorage, err := pulse.OpenStorage(cfg.Storage)
			if err != nil {
				return err
			}
			defer closeStorage()

			snap := pulse.ReadSnapshot(storage, nil)
			if snap.DeviceID == "" {
				return errors.New("no device id stored")
			}
			fmt.Fprintln(cmd.OutOrStdout(), snap.DeviceID)
			return nil
		},
	}
}

func newSendEventCommand(opts *globalOptions) *cobra.Command {
	var (
		count    int
		sum      float64
		segments []string
		noFlush  bool
		timeout  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "send-event KEY",
		Short: "Record a custom event and deliver it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			event := pulse.Event{Key: args[0], Count: count}
			if cmd.Flags().Changed("sum") {
				event.Sum = &sum
			}
			if len(segments) > 0 {
				segmentation, err := parseSegments(segments)
				if err != nil {
					return err
				}
				event.Segmentation = segmentation
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			return opts.withClient(ctx, func(c *pulse.Client) error {
				c.AddEvent(event)
				if noFlush {
					return nil
				}
				return c.Flush(ctx)
			})
		},
	}
	cmd.Flags().IntVar(&count, "count", 1, "Event count")
	cmd.Flags().Float64Var(&sum, "sum", 0, "Event sum")
	cmd.Flags().StringArrayVarP(&segments, "segment", "s", nil, "Segmentation as key=value (repeatable)")
	cmd.Flags().BoolVar(&noFlush, "no-flush", false, "Only queue the event")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Give up after this long")
	return cmd
}

// parseSegments turns key=value pairs into segmentation. Numeric values
// stay numeric.
func parseSegments(pairs []string) (map[string]any, error) {
	out := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid segment %q, want key=value", pair)
		}
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			out[k] = n
		} else {
			out[k] = v
		}
	}
	return out, nil
}

func formatTimestamp(ts int64) string {
	if ts == 0 {
		return "-"
	}
	if ts > 1e12 {
		return time.UnixMilli(ts).UTC().Format(time.RFC3339)
	}
	return time.Unix(ts, 0).UTC().Format(time.RFC3339)
}
