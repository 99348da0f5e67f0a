package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"pkt.systems/psi"
	"pkt.systems/pslog"
	"pkt.systems/vtview/internal/appconfig"
	"pkt.systems/vtview/internal/transport"
	"pkt.systems/vtview/schema"
)

func main() {
	psi.Run(submain)
}

func submain(ctx context.Context) int {
	// stdout carries the painted screen; logs go to stderr.
	logger := pslog.LoggerFromEnv(
		pslog.WithEnvWriter(os.Stderr),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeConsole}),
	)
	ctx = pslog.ContextWithLogger(ctx, logger)
	log.SetOutput(pslog.LogLogger(logger).Writer())
	log.SetFlags(0)

	root := newRootCmd()
	root.SetArgs(os.Args[1:])

	if err := root.ExecuteContext(ctx); err != nil {
		pslog.Ctx(ctx).With("err", err).Error("vtview command failed")
		return 1
	}
	return 0
}

// rootOptions holds the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath  string
	url         string
	origin      string
	session     string
	coordinator string
	theme       string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "vtview",
		Short:         "Mirror a remote vtr terminal session",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "config file (default ~/.vtview/config.yaml)")
	flags.StringVar(&opts.url, "url", "", "websocket endpoint (ws:// or wss://)")
	flags.StringVar(&opts.origin, "origin", "", "server origin used to derive the websocket endpoint")
	flags.StringVarP(&opts.session, "session", "s", "", "session to attach to, as id or coordinator:id")
	flags.StringVar(&opts.coordinator, "coordinator", "", "coordinator owning the session")
	flags.StringVar(&opts.theme, "theme", "", "color theme (outrun, gruvbox, tokyo-midnight)")

	root.AddCommand(newAttachCmd(opts))
	root.AddCommand(newDumpCmd(opts))
	root.AddCommand(newConfigCmd(opts))
	root.AddCommand(newVersionCmd())

	return root
}

// sessionSettings is the resolved configuration for one viewer.
type sessionSettings struct {
	cfg    appconfig.Config
	url    string
	target schema.SessionRef
}

// resolveSettings loads the config file and applies flag and positional
// overrides on top of it.
func resolveSettings(opts *rootOptions, args []string) (sessionSettings, error) {
	cfg, err := appconfig.Load(opts.configPath)
	if err != nil {
		return sessionSettings{}, err
	}
	if err := applyOverrides(&cfg, opts, args); err != nil {
		return sessionSettings{}, err
	}
	if err := appconfig.Validate(cfg); err != nil {
		return sessionSettings{}, err
	}
	url, err := transport.ResolveURL(cfg.Server.URL, cfg.Server.Origin)
	if err != nil {
		return sessionSettings{}, err
	}
	target, err := schema.NormalizeSessionRef(cfg.Session.Ref())
	if err != nil {
		return sessionSettings{}, fmt.Errorf("%w: pass a session or set session.id", err)
	}
	return sessionSettings{cfg: cfg, url: url, target: target}, nil
}

func (s sessionSettings) themeName() schema.ThemeName {
	name, _ := schema.NormalizeThemeName(s.cfg.View.Theme)
	return name
}

func applyOverrides(cfg *appconfig.Config, opts *rootOptions, args []string) error {
	if v := strings.TrimSpace(opts.url); v != "" {
		cfg.Server.URL = v
	}
	if v := strings.TrimSpace(opts.origin); v != "" {
		cfg.Server.Origin = v
		if strings.TrimSpace(opts.url) == "" {
			cfg.Server.URL = ""
		}
	}
	if v := strings.TrimSpace(opts.theme); v != "" {
		cfg.View.Theme = v
	}
	session := strings.TrimSpace(opts.session)
	if len(args) > 0 {
		if session != "" {
			return fmt.Errorf("%w: session given both as argument and --session", schema.ErrInvalidSession)
		}
		session = strings.TrimSpace(args[0])
	}
	if session != "" {
		ref, err := schema.ParseSessionRef(session)
		if err != nil {
			return err
		}
		cfg.Session.ID = string(ref.ID)
		cfg.Session.Coordinator = string(ref.Coordinator)
	}
	if v := strings.TrimSpace(opts.coordinator); v != "" {
		cfg.Session.Coordinator = v
	}
	return nil
}
