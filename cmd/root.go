// Package cmd wires up the CLI flags and dispatches to the server or
// the viewer.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	flag "github.com/spf13/pflag"

	"castd/config"
	"castd/internal/handshake"
	"castd/internal/server"
	"castd/util"
)

// version is overridable at link time:
//
//	go build -ldflags "-X castd/cmd.version=2.0.0"
var version = "1.0.0" //nolint:gochecknoglobals

// Execute parses args and runs the server, or the viewer with --watch.
func Execute(ctx context.Context, args []string) error {
	return execute(ctx, args, os.Stdout)
}

func execute(ctx context.Context, args []string, stdout io.Writer) error {
	cfg := config.Default()
	if err := config.LoadFromEnv(cfg); err != nil {
		return err
	}
	fs := flag.NewFlagSet("castd", flag.ContinueOnError)

	// ── listeners ────────────────────────────────────────────────
	fs.StringVar(&cfg.GameAddr, "game-addr", cfg.GameAddr, "Player login address")
	fs.StringVar(&cfg.CastAddr, "cast-addr", cfg.CastAddr, "Spectator address")
	fs.StringVar(&cfg.APIAddr, "api-addr", cfg.APIAddr, "Status API address (empty disables)")

	// ── protocol ─────────────────────────────────────────────────
	fs.StringVar(&cfg.RSAKeyPath, "rsa-key", cfg.RSAKeyPath, "1024-bit RSA private key (PEM); ephemeral if empty")
	fs.IntVar(&cfg.MinVersion, "min-version", cfg.MinVersion, "Oldest accepted client version")
	fs.IntVar(&cfg.MaxVersion, "max-version", cfg.MaxVersion, "Newest accepted client version")

	// ── timeouts ─────────────────────────────────────────────────
	fs.DurationVar(&cfg.ReadTimeout, "read-timeout", cfg.ReadTimeout, "Handshake and API request read timeout")
	fs.DurationVar(&cfg.WriteTimeout, "write-timeout", cfg.WriteTimeout, "Write timeout")
	fs.DurationVar(&cfg.ResponseTimeout, "response-timeout", cfg.ResponseTimeout, "API handler deadline")
	fs.DurationVar(&cfg.IdleTimeout, "idle-timeout", cfg.IdleTimeout, "Close silent game connections after")

	// ── limits ───────────────────────────────────────────────────
	fs.IntVar(&cfg.MaxSpectators, "max-spectators", cfg.MaxSpectators, "Spectators per cast")
	fs.IntVar(&cfg.QueueSize, "queue-size", cfg.QueueSize, "Outbound frames queued per session")
	fs.Float64Var(&cfg.Rate, "rate", cfg.Rate, "Inbound frames per second per session (0 = unlimited)")
	fs.IntVar(&cfg.Burst, "burst", cfg.Burst, "Inbound frame burst")
	fs.IntVar(&cfg.LoginFailures, "login-failures", cfg.LoginFailures, "Failed logins before an address is refused")
	fs.DurationVar(&cfg.LoginReset, "login-reset", cfg.LoginReset, "How long a refused address waits")

	// ── world ────────────────────────────────────────────────────
	var accounts, spawns []string
	fs.StringArrayVar(&accounts, "account", nil, "Character name:password[@x,y,z] (repeatable)")
	fs.StringArrayVar(&spawns, "spawn", nil, "Monster name@x,y,z (repeatable)")
	fs.BoolVar(&cfg.CastOnLogin, "cast-on-login", cfg.CastOnLogin, "Start a public cast for every player on login")

	// ── viewer ───────────────────────────────────────────────────
	fs.StringVar(&cfg.Watch, "watch", "", "Watch the named player's cast instead of serving")
	fs.StringVar(&cfg.WatchPassword, "watch-password", "", "Cast password for --watch")

	// ── output ───────────────────────────────────────────────────
	fs.CountVarP(&cfg.Verbose, "verbose", "v", "Increase verbosity (repeatable)")

	var showVersion, showHelp, dryRun bool
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	fs.BoolVarP(&showHelp, "help", "h", false, "Show this help")
	fs.BoolVar(&dryRun, "dry-run", false, "Validate the configuration and exit")

	fs.Usage = func() { printUsage(fs) }

	// ── parse ────────────────────────────────────────────────────
	if err := fs.Parse(args); err != nil {
		return err
	}

	if showHelp {
		printUsage(fs)
		return nil
	}
	if showVersion {
		fmt.Fprintf(stdout, "castd %s\n", version)
		return nil
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected argument %q (use --help for usage)", fs.Arg(0))
	}

	for _, spec := range accounts {
		a, err := config.ParseAccountSpec(spec)
		if err != nil {
			return fmt.Errorf("account: %w", err)
		}
		cfg.Accounts = append(cfg.Accounts, a)
	}
	for _, spec := range spawns {
		s, err := config.ParseSpawnSpec(spec)
		if err != nil {
			return fmt.Errorf("spawn: %w", err)
		}
		cfg.Spawns = append(cfg.Spawns, s)
	}

	// ── validate ─────────────────────────────────────────────────
	if err := cfg.Validate(); err != nil {
		return err
	}
	if dryRun {
		printSummary(stdout, cfg)
		return nil
	}

	// ── build components ─────────────────────────────────────────
	logger := util.NewLogger(cfg.Verbose)

	if cfg.Watch != "" {
		return watch(ctx, cfg, stdout, logger.Named("watch"))
	}

	key, err := loadKey(cfg, logger)
	if err != nil {
		return err
	}
	return server.New(cfg, key, logger).Run(ctx)
}

// ── helpers ──────────────────────────────────────────────────────────

func loadKey(cfg *config.Config, logger *util.Logger) (*handshake.RSAKey, error) {
	if cfg.RSAKeyPath == "" {
		logger.Warn("no --rsa-key given, using an ephemeral key that no client knows")
		return handshake.GenerateKey()
	}
	key, err := handshake.LoadRSAKey(cfg.RSAKeyPath)
	if err != nil {
		return nil, fmt.Errorf("rsa key %s: %w", cfg.RSAKeyPath, err)
	}
	return key, nil
}

func printSummary(w io.Writer, cfg *config.Config) {
	if cfg.Watch != "" {
		fmt.Fprintf(w, "watch %s via %s\n", cfg.Watch, cfg.CastAddr)
		return
	}
	api := cfg.APIAddr
	if api == "" {
		api = "disabled"
	}
	fmt.Fprintf(w, "game %s, cast %s, api %s\n", cfg.GameAddr, cfg.CastAddr, api)
	fmt.Fprintf(w, "clients %d-%d, %d spectators per cast, %d accounts, %d spawns\n",
		cfg.MinVersion, cfg.MaxVersion, cfg.MaxSpectators, len(cfg.Accounts), len(cfg.Spawns))
}

func printUsage(fs *flag.FlagSet) {
	fmt.Fprintf(os.Stderr, `castd – live cast server v%s

Serves game logins, lets spectators watch a player's live cast, and
reports live casts over a small HTTP API.

Usage:
  castd [options]                                Serve
  castd --watch <name> --rsa-key <pem> [options] Watch a cast

Options:
`, version)
	fs.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
Examples:
  castd --rsa-key key.pem --account Bob:secret --spawn Rat@101,100,7
  castd --cast-on-login --account Bob:secret -vv
  castd --watch Bob --watch-password letmein --rsa-key key.pem
  curl http://127.0.0.1:8080/casts
`)
}
