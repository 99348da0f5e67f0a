package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/pslog"
	"pkt.systems/vtview"
	"pkt.systems/vtview/core"
	"pkt.systems/vtview/internal/transport"
	"pkt.systems/vtview/schema"
)

func newDumpCmd(opts *rootOptions) *cobra.Command {
	var timeout time.Duration
	var selection string
	cmd := &cobra.Command{
		Use:   "dump [session]",
		Short: "Print the current screen of a session as text",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := resolveSettings(opts, args)
			if err != nil {
				return err
			}
			sel, err := parseSelection(selection)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			return runDump(ctx, settings, cmd.OutOrStdout(), sel, transport.WSDialer{Timeout: dialTimeout})
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "how long to wait for the first screen")
	cmd.Flags().StringVar(&selection, "select", "", `dump only a region, as "row,col:row,col" (inclusive, zero-based)`)
	return cmd
}

type dumpResult struct {
	text string
	err  error
}

// runDump connects, waits for the first synchronized screen and writes its
// text. A nil sel dumps the whole screen.
func runDump(ctx context.Context, settings sessionSettings, out io.Writer, sel *schema.Selection, dialer transport.Dialer) error {
	results := make(chan dumpResult, 1)
	painter := vtview.PainterFunc(func(frame vtview.Frame) error {
		var res dumpResult
		switch {
		case frame.Screen != nil && !frame.Screen.WaitingForKeyframe:
			region := core.FullSelection(frame.Screen)
			if sel != nil {
				region = *sel
			}
			res.text = core.ExtractText(frame.Screen, region)
		case frame.Transport.Halted():
			res.err = fmt.Errorf("session %s: %s (%s)", settings.target, frame.Transport.Err, frame.Transport.Code)
		default:
			return nil
		}
		select {
		case results <- res:
		default:
		}
		return nil
	})
	viewer, err := vtview.New(settings.viewerConfig(false), vtview.Deps{
		Dialer:  dialer,
		Painter: painter,
		Logger:  pslog.Ctx(ctx),
	})
	if err != nil {
		return err
	}

	runErr := make(chan error, 1)
	go func() { runErr <- viewer.Run(ctx) }()
	defer func() {
		viewer.Stop()
		<-runErr
	}()

	select {
	case res := <-results:
		if res.err != nil {
			return res.err
		}
		_, err := io.WriteString(out, strings.TrimRight(res.text, "\n")+"\n")
		return err
	case err := <-runErr:
		runErr <- err
		if err == nil {
			err = errors.New("viewer stopped before the first screen")
		}
		return err
	case <-ctx.Done():
		return fmt.Errorf("waiting for screen of %s: %w", settings.target, ctx.Err())
	}
}

// parseSelection reads "row,col:row,col". An empty value means no selection.
func parseSelection(value string) (*schema.Selection, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	startRaw, endRaw, ok := strings.Cut(value, ":")
	if !ok {
		return nil, fmt.Errorf("%w: %q", schema.ErrInvalidSelection, value)
	}
	start, err := parsePosition(startRaw)
	if err != nil {
		return nil, err
	}
	end, err := parsePosition(endRaw)
	if err != nil {
		return nil, err
	}
	sel := core.Normalize(schema.Selection{Start: start, End: end})
	if err := schema.ValidateSelection(sel); err != nil {
		return nil, fmt.Errorf("%w: %q", err, value)
	}
	return &sel, nil
}

func parsePosition(value string) (schema.Position, error) {
	rowRaw, colRaw, ok := strings.Cut(strings.TrimSpace(value), ",")
	if !ok {
		return schema.Position{}, fmt.Errorf("%w: position %q", schema.ErrInvalidSelection, value)
	}
	row, err := strconv.Atoi(strings.TrimSpace(rowRaw))
	if err != nil {
		return schema.Position{}, fmt.Errorf("%w: row %q", schema.ErrInvalidSelection, rowRaw)
	}
	col, err := strconv.Atoi(strings.TrimSpace(colRaw))
	if err != nil {
		return schema.Position{}, fmt.Errorf("%w: column %q", schema.ErrInvalidSelection, colRaw)
	}
	return schema.Position{Row: row, Col: col}, nil
}
