// uip: CLI entry point.
//
// Without a subcommand it runs the daemon: it keeps TLS links to the
// configured relays, accepts registrations on the control socket and bridges
// each registered application socket to a channel on a peer link.
//
// "uip register" sends one registration to a running daemon. Missing
// arguments are asked for interactively.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/1ureka/uip/internal/config"
	"github.com/1ureka/uip/internal/control"
	"github.com/1ureka/uip/internal/nat"
	"github.com/1ureka/uip/internal/state"
	"github.com/1ureka/uip/internal/status"
	"github.com/1ureka/uip/internal/util"
)

var version = "dev"

// statusPushInterval is how often /ws clients receive a snapshot.
const statusPushInterval = time.Second

func main() {
	// Root context, cancelled on Ctrl+C or SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	args := os.Args[1:]
	if len(args) > 0 && args[0] == "register" {
		os.Exit(runRegister(ctx, args[1:]))
	}
	os.Exit(runDaemon(ctx, args))
}

// ---------------------------------------------------------------------------
// Daemon
// ---------------------------------------------------------------------------

func runDaemon(ctx context.Context, args []string) int {
	flags := pflag.NewFlagSet("uip", pflag.ContinueOnError)
	configPath := flags.StringP("config", "c", "", "Configuration file (default $"+config.EnvConfig+")")
	debugMode := flags.Bool("debug", false, "Enable debug logging")
	showVersion := flags.Bool("version", false, "Print the version and exit")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}

	if *showVersion {
		fmt.Println(version)
		return 0
	}
	if *debugMode {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("uip v%s", version))
	pterm.Println()

	cfg, err := config.Load(*configPath)
	if err != nil {
		util.LogError("%v", err)
		return 1
	}

	if err := serve(ctx, cfg); err != nil {
		util.LogError("%v", err)
		return 1
	}

	util.LogInfo("daemon stopped")
	return 0
}

// serve wires the configured components together and runs them until ctx is
// cancelled or one of them fails.
func serve(ctx context.Context, cfg *config.Config) error {
	peers, err := cfg.Directory()
	if err != nil {
		return err
	}
	local, err := cfg.LocalCertificate()
	if err != nil {
		return err
	}

	var mapper state.ExternalMapper
	if len(cfg.STUNServers) > 0 {
		mapper = nat.NewSTUNMapper(cfg.STUNServers)
	}

	ctl := control.NewServer(cfg.ControlSocket)
	defer ctl.Close()

	st := state.New(state.Options{
		ID:               cfg.ID,
		Peers:            peers,
		Relays:           cfg.Relays,
		LocalCertificate: local,
		DialTimeout:      cfg.DialTimeout,
		TickInterval:     cfg.TickInterval,
		Control:          ctl,
		Mapper:           mapper,
	})

	util.LogInfo("node %s starting with %d known peers and %d relays", cfg.ID, peers.Len(), len(cfg.Relays))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return st.Run(gctx) })

	if cfg.Listen != "" {
		ln, err := net.Listen("tcp", cfg.Listen)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", cfg.Listen, err)
		}
		g.Go(func() error { return st.Serve(gctx, ln) })
	}

	if cfg.StatusListen != "" {
		srv, err := status.New(st, statusPushInterval)
		if err != nil {
			return err
		}
		g.Go(func() error { return srv.Serve(gctx, cfg.StatusListen) })
	}

	util.StartStatsReporter(gctx, cfg.StatsInterval)

	return g.Wait()
}

// ---------------------------------------------------------------------------
// register subcommand
// ---------------------------------------------------------------------------

func runRegister(ctx context.Context, args []string) int {
	flags := pflag.NewFlagSet("uip register", pflag.ContinueOnError)
	configPath := flags.StringP("config", "c", "", "Read the control socket path from this configuration file")
	controlPath := flags.String("control", "", "Control socket path (default from config, else the runtime directory)")
	socket := flags.StringP("socket", "s", "", "Application unix socket the daemon should connect to")
	peer := flags.StringP("peer", "p", "", "Peer id to bridge to")
	channel := flags.StringP("channel", "n", "", "Channel id, 0~65535")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}

	path, err := resolveControlPath(*controlPath, *configPath)
	if err != nil {
		util.LogError("%v", err)
		return 1
	}

	if *socket == "" {
		*socket = askText("Application socket path")
	}
	if *peer == "" {
		*peer = askText("Peer id")
	}

	var ch uint16
	if *channel == "" {
		ch = askChannel()
	} else if ch, err = parseChannel(*channel); err != nil {
		util.LogError("%v", err)
		return 2
	}

	reg := control.Registration{AppSocket: *socket, PeerID: *peer, Channel: ch}
	if err := control.Send(ctx, path, reg); err != nil {
		util.LogError("%v", err)
		return 1
	}

	util.LogInfo("registered %s", reg)
	return 0
}

// resolveControlPath picks the control socket: the explicit flag, then the
// configuration file, then the default location.
func resolveControlPath(flagValue, configPath string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if configPath != "" || os.Getenv(config.EnvConfig) != "" {
		cfg, err := config.Load(configPath)
		if err != nil {
			return "", err
		}
		return cfg.ControlSocket, nil
	}
	return config.Default().ControlSocket, nil
}

// parseChannel validates a channel id.
func parseChannel(raw string) (uint16, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid channel %q: must be 0~65535", raw)
	}
	return uint16(n), nil
}

// askText prompts until a non-empty value is entered.
func askText(prompt string) string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText(prompt).
			Show()

		if v := strings.TrimSpace(raw); v != "" {
			pterm.Println()
			return v
		}

		util.LogWarning("a value is required")
		pterm.Println()
	}
}

// askChannel prompts for a channel id until a valid one is entered.
func askChannel() uint16 {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("Channel id (0 ~ 65535)").
			Show()

		ch, err := parseChannel(raw)
		if err == nil {
			pterm.Println()
			return ch
		}

		util.LogWarning("invalid channel: must be 0 ~ 65535")
		pterm.Println()
	}
}
