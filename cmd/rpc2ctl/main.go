// Package main implements the rpc2ctl entry point: flag parsing, profile
// resolution, dependency wiring and the choice between the interactive
// console and a one-shot command.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/pflag"

	"github.com/devicerpc/rpc2ctl/internal/auth"
	"github.com/devicerpc/rpc2ctl/internal/config"
	"github.com/devicerpc/rpc2ctl/internal/content"
	"github.com/devicerpc/rpc2ctl/internal/device"
	"github.com/devicerpc/rpc2ctl/internal/interfaces"
	"github.com/devicerpc/rpc2ctl/internal/logging"
	"github.com/devicerpc/rpc2ctl/internal/monitor"
	"github.com/devicerpc/rpc2ctl/internal/protocol"
	"github.com/devicerpc/rpc2ctl/internal/ui/console"
)

// Application metadata
const (
	Version     = "0.3.0"
	ProgramName = "rpc2ctl"
)

// errReported marks an error that has already been printed.
var errReported = errors.New("reported")

// CommandLineArgs represents parsed command-line arguments
type CommandLineArgs struct {
	Host        string
	Profile     string
	Username    string
	Password    string
	Theme       string
	ConfigPath  string
	Timeout     time.Duration
	Retries     int
	Plain       bool
	ShowHelp    bool
	ShowVersion bool

	Command string
	Args    []string
}

// Dependencies holds the wired application components.
type Dependencies struct {
	Profile   *interfaces.Profile
	Transport *protocol.HTTPTransport
	Session   *auth.Serialized
	Commands  *device.Commands
	Renderer  *content.Renderer
	Logger    *logging.Logger
}

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func run(argv []string, stdout, stderr io.Writer) error {
	args, flagSet, err := parseCommandLineArgs(argv, stderr)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if handleEarlyExitConditions(args, flagSet, stdout) {
		return nil
	}

	logger, err := initializeLogging(args)
	if err != nil {
		return err
	}

	if args.Command == "profiles" {
		return runProfiles(args, stdout)
	}

	deps, err := initializeDependencies(args, logger)
	if err != nil {
		return err
	}
	defer deps.Transport.CloseIdleConnections()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if args.Command == "console" {
		return runConsole(ctx, deps, stderr)
	}

	if err := runCommand(ctx, deps, args.Command, args.Args, stdout); err != nil {
		fmt.Fprintln(stderr, deps.Renderer.RenderError(err))
		return errReported
	}
	return nil
}

// parseCommandLineArgs processes flags; the first positional argument names
// the command and defaults to console.
func parseCommandLineArgs(argv []string, stderr io.Writer) (CommandLineArgs, *pflag.FlagSet, error) {
	var args CommandLineArgs

	flagSet := pflag.NewFlagSet(ProgramName, pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.SetInterspersed(false)
	flagSet.StringVar(&args.Host, "host", "", "device address, e.g. 192.168.1.108 or http://10.0.0.5:8080")
	flagSet.StringVarP(&args.Profile, "profile", "p", "", "profile name from the configuration file")
	flagSet.StringVarP(&args.Username, "user", "u", "", "login user name (overrides the profile)")
	flagSet.StringVar(&args.Password, "password", "", "login password (or set RPC2CTL_PASSWORD)")
	flagSet.StringVar(&args.Theme, "theme", "", "colour theme name")
	flagSet.StringVar(&args.ConfigPath, "config", "", "configuration file (.yaml or .toml)")
	flagSet.DurationVar(&args.Timeout, "timeout", 0, "per request timeout (overrides the profile)")
	flagSet.IntVar(&args.Retries, "retries", 0, "retries for read-only commands on transient failures")
	flagSet.BoolVar(&args.Plain, "plain", false, "disable colours and highlighting")
	flagSet.BoolVarP(&args.ShowHelp, "help", "h", false, "display usage information and exit")
	flagSet.BoolVar(&args.ShowVersion, "version", false, "display version information and exit")

	flagSet.Usage = func() { printUsage(flagSet, stderr) }

	if err := flagSet.Parse(argv); err != nil {
		return args, flagSet, err
	}

	positional := flagSet.Args()
	args.Command = "console"
	if len(positional) > 0 {
		args.Command = positional[0]
		args.Args = positional[1:]
	}
	return args, flagSet, nil
}

func printUsage(flagSet *pflag.FlagSet, w io.Writer) {
	fmt.Fprintf(w, "Usage: %s [options] [command [args]]\n\n", ProgramName)
	fmt.Fprintf(w, "Session and object client for RPC2 devices.\n\n")
	fmt.Fprintf(w, "Options:\n%s\n", flagSet.FlagUsages())
	fmt.Fprintf(w, "Commands:\n")
	for _, c := range commandHelp {
		fmt.Fprintf(w, "  %-40s %s\n", c[0], c[1])
	}
	fmt.Fprintf(w, "\nConfiguration file location: ~/.config/rpc2ctl/profiles.yaml\n")
}

// handleEarlyExitConditions processes help and version flags that cause immediate exit
func handleEarlyExitConditions(args CommandLineArgs, flagSet *pflag.FlagSet, stdout io.Writer) bool {
	if args.ShowHelp || args.Command == "help" {
		printUsage(flagSet, stdout)
		return true
	}
	if args.ShowVersion {
		fmt.Fprintf(stdout, "%s v%s\n", ProgramName, Version)
		return true
	}
	return false
}

// initializeLogging sets up the global logger. The console owns the terminal,
// so it only logs when RPC2CTL_LOG names a file.
func initializeLogging(args CommandLineArgs) (*logging.Logger, error) {
	logConfig := logging.DefaultConfig()
	logConfig.Level = logging.WarnLevel

	if level := os.Getenv("RPC2CTL_LOG_LEVEL"); level != "" {
		logConfig.Level = logging.ParseLevel(level)
	}
	if os.Getenv("RPC2CTL_DEBUG") == "true" {
		logConfig.Level = logging.DebugLevel
		logConfig.Format = "json"
	}
	if args.Command == "console" {
		logConfig.Output = "discard"
	}
	if path := os.Getenv("RPC2CTL_LOG"); path != "" {
		logConfig.Output = path
	}

	if err := logging.InitGlobalLogger(logConfig); err != nil {
		return nil, err
	}
	logger := logging.GetGlobalLogger()
	logger.Debug("rpc2ctl starting", "version", Version, "command", args.Command)
	return logger, nil
}

func newConfigManager(args CommandLineArgs) (*config.Manager, error) {
	var opts []config.Option
	if args.ConfigPath != "" {
		opts = append(opts, config.WithConfigPath(args.ConfigPath))
	}
	manager, err := config.NewManager(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize config manager: %w", err)
	}
	return manager, nil
}

// initializeDependencies resolves the profile and wires the session stack.
func initializeDependencies(args CommandLineArgs, logger *logging.Logger) (*Dependencies, error) {
	configManager, err := newConfigManager(args)
	if err != nil {
		return nil, err
	}

	profile, err := determineProfile(configManager, args)
	if err != nil {
		return nil, err
	}

	var theme *interfaces.Theme
	if profile.Theme != "" {
		theme, err = configManager.LoadTheme(profile.Theme)
		if err != nil {
			logger.Warn("Theme not found, using defaults", "theme", profile.Theme)
			theme = nil
		}
	}
	renderOpts := content.DefaultOptions()
	renderOpts.Plain = args.Plain || os.Getenv("NO_COLOR") != ""
	renderer, err := content.NewRenderer(theme, renderOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize content renderer: %w", err)
	}

	var transportOpts []protocol.TransportOption
	if profile.Timeout > 0 {
		transportOpts = append(transportOpts, protocol.WithTimeout(profile.Timeout))
	}
	transport := protocol.NewHTTPTransport(transportOpts...)
	session, err := auth.NewSession(profile.Host, transport)
	if err != nil {
		return nil, err
	}
	serialized := auth.NewSerialized(session)

	return &Dependencies{
		Profile:   profile,
		Transport: transport,
		Session:   serialized,
		Commands:  device.New(serialized, device.WithRetries(args.Retries)),
		Renderer:  renderer,
		Logger:    logger,
	}, nil
}

// determineProfile resolves which profile to use based on command-line
// arguments. --host builds a temporary profile; other flags override fields.
func determineProfile(manager interfaces.ConfigManager, args CommandLineArgs) (*interfaces.Profile, error) {
	if args.Host != "" && args.Profile != "" {
		return nil, fmt.Errorf("cannot specify both --host and --profile")
	}

	var profile *interfaces.Profile
	if args.Host != "" {
		profile = &interfaces.Profile{
			Name:     "temporary",
			Host:     args.Host,
			Username: "admin",
			Theme:    "github",
		}
	} else {
		loaded, err := manager.LoadProfile(args.Profile)
		if err != nil {
			return nil, fmt.Errorf("failed to load profile: %w", err)
		}
		profile = loaded
	}

	if args.Username != "" {
		profile.Username = args.Username
	}
	switch {
	case args.Password != "":
		profile.Password = args.Password
	case os.Getenv("RPC2CTL_PASSWORD") != "":
		profile.Password = os.Getenv("RPC2CTL_PASSWORD")
	}
	if args.Theme != "" {
		profile.Theme = args.Theme
	}
	if args.Timeout > 0 {
		profile.Timeout = args.Timeout
	}

	if err := manager.ValidateProfile(profile); err != nil {
		return nil, err
	}
	return profile, nil
}

// runConsole logs in, starts the keep-alive monitor and hands the terminal to
// the console until the user quits.
func runConsole(ctx context.Context, deps *Dependencies, stderr io.Writer) error {
	if err := login(ctx, deps); err != nil {
		fmt.Fprintln(stderr, deps.Renderer.RenderError(err))
		return errReported
	}

	model := console.New(deps.Session, deps.Renderer,
		console.Credentials{Username: deps.Profile.Username, Password: deps.Profile.Password},
		console.WithTimeout(deps.Profile.Timeout),
		console.WithLogger(logging.GetUILogger()))
	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))

	mon, err := monitor.New(deps.Commands, monitor.Config{
		Interval: deps.Profile.KeepAliveInterval,
		Timeout:  device.DefaultKeepAliveTimeout,
		OnSnapshot: func(s monitor.Snapshot) {
			program.Send(console.SnapshotMsg(s))
		},
	})
	if err != nil {
		return err
	}

	monCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if err := mon.Run(monCtx); err != nil && !errors.Is(err, context.Canceled) {
			deps.Logger.Warn("Keep-alive monitor stopped", "error", err.Error())
		}
	}()

	_, err = program.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func login(ctx context.Context, deps *Dependencies) error {
	if strings.TrimSpace(deps.Profile.Password) == "" {
		return fmt.Errorf("no password for %s: use --password or RPC2CTL_PASSWORD", deps.Profile.Username)
	}
	return deps.Logger.LogOperation("login", func() error {
		return deps.Session.Login(ctx, deps.Profile.Username, deps.Profile.Password)
	})
}
