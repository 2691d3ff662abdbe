// Package cmd wires up the CLI flags and dispatches to the forwarding core.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	flag "github.com/spf13/pflag"
	"golang.org/x/term"

	"luka/config"
	"luka/internal/core"
	"luka/internal/metrics"
	"luka/util"
)

// version is overridable at link time:
//
//	go build -ldflags "-X luka/cmd.version=2.0.0"
var version = "1.0.0" //nolint:gochecknoglobals

// stdout receives the version banner and the dry-run summary.
var stdout io.Writer = os.Stdout //nolint:gochecknoglobals

// readSecret reads the shared secret from the terminal without echo.
var readSecret = func() (string, error) { //nolint:gochecknoglobals
	fmt.Fprint(os.Stderr, "Secret: ")
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading secret: %w", err)
	}
	return string(b), nil
}

// Execute parses args and runs the forwarder.
func Execute(ctx context.Context, args []string) error {
	// Defaults, then the YAML file, then LUKA_* variables.  Flags are
	// registered with the merged values as their defaults so only the
	// flags actually given override them.
	cfg := config.Defaults()
	if path := prescanConfigFile(args); path != "" {
		if err := config.LoadFile(path, cfg); err != nil {
			return err
		}
	}
	config.LoadFromEnv(cfg)

	fs := flag.NewFlagSet("luka", flag.ContinueOnError)
	fs.SortFlags = false

	// ── admission ────────────────────────────────────────────────
	fs.StringSliceVarP(&cfg.Allow, "allow", "a", cfg.Allow, "Allow peers in CIDR (repeatable)")
	fs.StringSliceVarP(&cfg.Deny, "deny", "d", cfg.Deny, "Deny peers in CIDR (repeatable)")
	fs.StringVarP(&cfg.Secret, "secret", "s", cfg.Secret, "Shared secret for the password challenge")
	fs.BoolVar(&cfg.SecretPrompt, "secret-prompt", cfg.SecretPrompt, "Read the shared secret from the terminal")
	authSec := fs.Int("auth-timeout", seconds(cfg.AuthTimeout), "Password challenge timeout in seconds")

	// ── relay ────────────────────────────────────────────────────
	fs.IntVarP(&cfg.LimitKBps, "limit", "b", cfg.LimitKBps, "Per-connection bandwidth cap in KB/s (0 = off)")
	connSec := fs.IntP("timeout", "w", seconds(cfg.ConnectTimeout), "Source connect timeout in seconds")
	drainSec := fs.Int("drain-timeout", seconds(cfg.DrainTimeout), "Idle timeout after one direction closes, in seconds")
	graceSec := fs.Int("grace", seconds(cfg.GracePeriod), "Shutdown grace period for open sessions, in seconds")
	fs.BoolVar(&cfg.SkipProbe, "no-probe", cfg.SkipProbe, "Do not check the source before listening")

	// ── public exposure ──────────────────────────────────────────
	fs.BoolVarP(&cfg.Public, "public", "p", cfg.Public, "Expose the forward through ssh.localhost.run (ssh binary)")
	fs.BoolVar(&cfg.PublicNative, "public-native", cfg.PublicNative, "Expose the forward with the built-in SSH client")
	fs.StringVar(&cfg.PublicCommand, "public-cmd", cfg.PublicCommand, "Public tunnel command; {port} is replaced")

	// ── SSH ──────────────────────────────────────────────────────
	fs.StringVarP(&cfg.ViaSpec, "via", "T", cfg.ViaSpec, "Reach the source through SSH jump host [user@]host[:port]")
	fs.StringVar(&cfg.SSHKeyPath, "ssh-key", cfg.SSHKeyPath, "SSH private key file")
	fs.BoolVar(&cfg.SSHPassword, "ssh-password", cfg.SSHPassword, "Prompt for SSH password")
	fs.BoolVar(&cfg.UseSSHAgent, "ssh-agent", cfg.UseSSHAgent, "Use SSH agent")
	fs.BoolVar(&cfg.StrictHostKey, "strict-hostkey", cfg.StrictHostKey, "Verify SSH host keys")
	fs.StringVar(&cfg.KnownHostsPath, "known-hosts", cfg.KnownHostsPath, "Custom known_hosts path")
	fs.IntVar(&cfg.KeepAliveInterval, "keepalive", cfg.KeepAliveInterval, "SSH keepalive interval in seconds (0 = off)")

	// ── output ───────────────────────────────────────────────────
	verbose := fs.CountP("verbose", "v", "Increase verbosity (repeatable)")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Serve /metrics, /healthz and /stats on ADDR")
	fs.StringVarP(&cfg.ConfigFile, "config", "f", cfg.ConfigFile, "YAML configuration file")
	fs.BoolVar(&cfg.DryRun, "dry-run", false, "Validate the configuration and exit")

	var showVersion, showHelp bool
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	fs.BoolVarP(&showHelp, "help", "h", false, "Show this help")

	fs.Usage = func() { printUsage(fs) }

	// ── parse ────────────────────────────────────────────────────
	if err := fs.Parse(args); err != nil {
		return err
	}

	if showHelp || (len(args) == 0 && cfg.SourceSpec == "") {
		printUsage(fs)
		return nil
	}
	if showVersion {
		fmt.Fprintf(stdout, "luka %s\n", version)
		return nil
	}

	cfg.Verbose += *verbose
	if fs.Changed("auth-timeout") {
		cfg.AuthTimeout = time.Duration(*authSec) * time.Second
	}
	if fs.Changed("timeout") {
		cfg.ConnectTimeout = time.Duration(*connSec) * time.Second
	}
	if fs.Changed("drain-timeout") {
		cfg.DrainTimeout = time.Duration(*drainSec) * time.Second
	}
	if fs.Changed("grace") {
		cfg.GracePeriod = time.Duration(*graceSec) * time.Second
	}

	// ── positional arguments ─────────────────────────────────────
	if err := parsePositional(cfg, fs.Args()); err != nil {
		return err
	}

	if cfg.SecretPrompt && cfg.Secret == "" {
		s, err := readSecret()
		if err != nil {
			return err
		}
		cfg.Secret = strings.TrimRight(s, "\r\n")
	}

	// ── validate ─────────────────────────────────────────────────
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.DryRun {
		printSummary(cfg)
		return nil
	}

	// ── build and run ────────────────────────────────────────────
	logger := util.NewLogger(cfg.Verbose)
	mode, err := core.Build(cfg, logger, metrics.New())
	if err != nil {
		return err
	}
	return mode.Run(ctx)
}

// ── helpers ──────────────────────────────────────────────────────────

// prescanConfigFile finds -f/--config before the real parse so that the
// file can seed flag defaults.
func prescanConfigFile(args []string) string {
	for i, a := range args {
		switch {
		case a == "--":
			return ""
		case a == "-f" || a == "--config":
			if i+1 < len(args) {
				return args[i+1]
			}
		case strings.HasPrefix(a, "--config="):
			return strings.TrimPrefix(a, "--config=")
		case strings.HasPrefix(a, "-f") && len(a) > 2 && !strings.HasPrefix(a, "--"):
			return strings.TrimPrefix(strings.TrimPrefix(a, "-f"), "=")
		}
	}
	return ""
}

// parsePositional takes <src> [dst].  Positionals override the file and
// environment.
func parsePositional(cfg *config.Config, remaining []string) error {
	switch len(remaining) {
	case 0:
	case 1:
		cfg.SourceSpec = remaining[0]
	case 2:
		cfg.SourceSpec = remaining[0]
		cfg.DestSpec = remaining[1]
	default:
		return fmt.Errorf("too many arguments: expected <src> [dst], got %d", len(remaining))
	}
	return nil
}

func seconds(d time.Duration) int { return int(d / time.Second) }

func printSummary(cfg *config.Config) {
	fmt.Fprintf(stdout, "source:      %s\n", cfg.Source)
	fmt.Fprintf(stdout, "destination: %s\n", cfg.Dest)
	if cfg.ViaEnabled() {
		fmt.Fprintf(stdout, "via:         %s@%s:%d\n", cfg.ViaUser, cfg.ViaHost, cfg.ViaPort)
	}
	if len(cfg.AllowNets) > 0 {
		fmt.Fprintf(stdout, "allow:       %v\n", cfg.AllowNets)
	}
	if len(cfg.DenyNets) > 0 {
		fmt.Fprintf(stdout, "deny:        %v\n", cfg.DenyNets)
	}
	if cfg.Secret != "" {
		fmt.Fprintln(stdout, "secret:      set")
	}
	if cfg.LimitKBps > 0 {
		fmt.Fprintf(stdout, "limit:       %d KB/s\n", cfg.LimitKBps)
	}
	switch {
	case cfg.Public:
		fmt.Fprintf(stdout, "public:      %s\n", cfg.PublicCommand)
	case cfg.PublicNative:
		fmt.Fprintf(stdout, "public:      native (%s@%s)\n", config.DefaultPublicUser, config.DefaultPublicHost)
	}
}

func printUsage(fs *flag.FlagSet) {
	fmt.Fprintf(os.Stderr, `luka - TCP port forwarder v%s

Forwards every connection on a local port to a source address, with
optional peer filtering, a password challenge, bandwidth caps and a
public URL through ssh.localhost.run.

Usage:
  luka [options] <src> [dst]

  src   [host:]port to forward to (host defaults to localhost)
  dst   [host:]port to listen on (default %s; the next free
        port is used when it is busy)

Options:
`, version, config.FormatDefaultDest())
	fs.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
Examples:
  luka 8080                                   Share localhost:8080 on the LAN
  luka -p 3000                                Share localhost:3000 publicly
  luka -a 192.168.1.0/24 -s hunter2 22        LAN peers only, with a password
  luka -T admin@bastion db.internal:5432 15432  Forward through a jump host
  luka -b 128 fileserver:80                   Cap each connection at 128 KB/s
`)
}
