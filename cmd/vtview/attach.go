package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"pkt.systems/pslog"
	"pkt.systems/vtview"
	"pkt.systems/vtview/internal/appconfig"
	"pkt.systems/vtview/internal/eventbus"
	"pkt.systems/vtview/internal/logx"
	"pkt.systems/vtview/internal/transport"
	"pkt.systems/vtview/stream"
	"pkt.systems/vtview/termview"
)

const dialTimeout = 10 * time.Second

func newAttachCmd(opts *rootOptions) *cobra.Command {
	var rawLog string
	var logFile string
	cmd := &cobra.Command{
		Use:   "attach [session]",
		Short: "Mirror a session in this terminal and forward keystrokes",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := resolveSettings(opts, args)
			if err != nil {
				return err
			}
			return runAttach(cmd.Context(), settings, rawLog, logFile)
		},
	}
	cmd.Flags().StringVar(&rawLog, "raw-log", "", "append the session's raw output to this file")
	cmd.Flags().StringVar(&logFile, "log-file", "", "write logs to this file while attached")
	return cmd
}

func runAttach(ctx context.Context, settings sessionSettings, rawLog, logFile string) error {
	inFd := int(os.Stdin.Fd())
	outFd := int(os.Stdout.Fd())
	if !term.IsTerminal(inFd) || !term.IsTerminal(outFd) {
		return errors.New("attach needs an interactive terminal; use dump instead")
	}
	detach, err := appconfig.ParseDetachKey(settings.cfg.View.DetachKey)
	if err != nil {
		return err
	}
	cols, rows, err := term.GetSize(outFd)
	if err != nil {
		return fmt.Errorf("terminal size: %w", err)
	}

	// The painted screen owns the terminal, so logs only go to a file.
	logOut := io.Discard
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		logOut = f
	}
	logger := pslog.NewWithOptions(logOut, pslog.Options{Mode: pslog.ModeStructured, NoColor: true})
	ctx = logx.ContextWithSessionLogger(ctx, logger, settings.target)

	var sinks []vtview.Sink
	if rawLog != "" {
		f, err := os.OpenFile(rawLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		bus := eventbus.New(logger)
		events, unsubscribe := bus.Subscribe()
		written := make(chan struct{})
		go func() {
			defer close(written)
			writeRawLog(events, f)
		}()
		defer func() {
			unsubscribe()
			<-written
		}()
		sinks = append(sinks, bus)
	}

	out := os.Stdout
	painter := termview.NewPainter(out, termview.Options{
		Theme: settings.themeName(),
		Width: cols,
		Hint:  "detach " + settings.cfg.View.DetachKey,
	})
	viewer, err := vtview.New(settings.viewerConfig(settings.cfg.Session.IncludeRawOutput || rawLog != ""), vtview.Deps{
		Dialer:  transport.WSDialer{Timeout: dialTimeout},
		Painter: painter,
		Sinks:   sinks,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	state, err := term.MakeRaw(inFd)
	if err != nil {
		return fmt.Errorf("raw mode: %w", err)
	}
	defer func() { _ = term.Restore(inFd, state) }()
	screen := termview.NewScreen(out)
	if err := screen.Enter(); err != nil {
		return err
	}
	defer func() { _ = screen.Exit() }()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	viewer.Resize(cols, statusRows(rows))

	// Reads from stdin cannot be interrupted, so the pump stays outside the
	// group and only cancels it.
	go func() {
		if err := pumpInput(os.Stdin, detach, viewer.SendBytes); err != nil {
			logger.Warn("stdin closed", "error", err)
		}
		cancel()
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return viewer.Run(gctx)
	})
	g.Go(func() error {
		return watchResize(gctx, outFd, func(cols, rows int) {
			painter.SetWidth(cols)
			viewer.Resize(cols, statusRows(rows))
		})
	})
	return g.Wait()
}

// statusRows reserves the bottom row for the status line.
func statusRows(rows int) int {
	if rows > 1 {
		return rows - 1
	}
	return 1
}

// pumpInput forwards stdin to send until the detach byte or EOF.
func pumpInput(in io.Reader, detach byte, send func([]byte)) error {
	buf := make([]byte, 4096)
	for {
		n, err := in.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if idx := bytes.IndexByte(chunk, detach); idx >= 0 {
				if idx > 0 {
					send(bytes.Clone(chunk[:idx]))
				}
				return nil
			}
			send(bytes.Clone(chunk))
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func watchResize(ctx context.Context, fd int, resize func(cols, rows int)) error {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, unix.SIGWINCH)
	defer signal.Stop(sig)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sig:
			cols, rows, err := term.GetSize(fd)
			if err != nil {
				continue
			}
			resize(cols, rows)
		}
	}
}

// writeRawLog appends raw session output to w until events is closed.
func writeRawLog(events <-chan eventbus.Event, w io.Writer) {
	for ev := range events {
		switch ev.Type {
		case eventbus.EventRawOutput:
			_, _ = w.Write(ev.Data)
		case eventbus.EventExit:
			_, _ = fmt.Fprintf(w, "\r\n[session exited %d]\r\n", ev.ExitCode)
		}
	}
}

func (s sessionSettings) viewerConfig(includeRaw bool) vtview.Config {
	return vtview.Config{
		URL:              s.url,
		Target:           s.target,
		IncludeRawOutput: includeRaw,
		Backoff: stream.Backoff{
			Base: s.cfg.Reconnect.Base(),
			Step: s.cfg.Reconnect.Step(),
			Max:  s.cfg.Reconnect.Max(),
		},
		FrameInterval: s.cfg.View.FrameInterval(),
	}
}
