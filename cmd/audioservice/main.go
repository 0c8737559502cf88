package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/friendsincode/audioservice/internal/config"
	"github.com/friendsincode/audioservice/internal/control"
	"github.com/friendsincode/audioservice/internal/daemon"
	"github.com/friendsincode/audioservice/internal/engine"
	"github.com/friendsincode/audioservice/internal/eventbus"
	"github.com/friendsincode/audioservice/internal/events"
	"github.com/friendsincode/audioservice/internal/logging"
	"github.com/friendsincode/audioservice/internal/schedule"
	"github.com/friendsincode/audioservice/internal/service"
	"github.com/friendsincode/audioservice/internal/version"
)

var (
	foreground bool
	address    string
	port       int
	socketPath string
	scriptPath string
	sessions   int
)

var rootCmd = &cobra.Command{
	Use:          "audioservice",
	Short:        "Audio playback service",
	Long:         "audioservice runs a fixed pool of playback sessions and reports their progress on a control channel.",
	SilenceUsage: true,
	RunE:         runService,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.String())
	},
}

func init() {
	flags := rootCmd.Flags()
	flags.BoolVarP(&foreground, "foreground", "f", false, "stay in the foreground instead of daemonizing")
	flags.StringVarP(&address, "address", "s", "", "status server address (AUDIOSERVICE_ADDRESS)")
	flags.IntVarP(&port, "port", "p", 0, "status server port, 0 disables it (AUDIOSERVICE_PORT)")
	flags.StringVarP(&socketPath, "socket", "c", "", "control socket path (AUDIOSERVICE_SOCKET)")
	flags.StringVar(&scriptPath, "script", "", "scheduled task file (AUDIOSERVICE_SCRIPT)")
	flags.IntVar(&sessions, "sessions", 0, "number of playback sessions (AUDIOSERVICE_SESSIONS)")

	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the environment and applies explicitly set flags on top.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("address") {
		cfg.Address = address
	}
	if flags.Changed("port") {
		cfg.Port = port
	}
	if flags.Changed("socket") {
		cfg.SocketPath = socketPath
	}
	if flags.Changed("script") {
		cfg.ScriptPath = scriptPath
	}
	if flags.Changed("sessions") {
		cfg.Sessions = sessions
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.AbsolutePaths(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// detachArgs re-states the resolved socket and script paths after the
// original arguments. The child starts in "/", and the last occurrence of a
// flag wins, so relative values given on the command line are overridden.
func detachArgs(args []string, cfg *config.Config) []string {
	out := append([]string(nil), args...)
	out = append(out, "--socket="+cfg.SocketPath)
	if cfg.ScriptPath != "" {
		out = append(out, "--script="+cfg.ScriptPath)
	}
	return out
}

func runService(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if !foreground && !daemon.IsChild() {
		pid, err := daemon.Detach(detachArgs(os.Args[1:], cfg), cfg.PathEnv())
		if err != nil {
			return fmt.Errorf("daemonize: %w", err)
		}
		fmt.Fprintf(os.Stderr, "audioservice started in background (pid %d)\n", pid)
		return nil
	}

	var logFile io.Writer
	if cfg.LogFile != "" {
		f, err := logging.OpenFile(cfg.LogFile)
		if err != nil {
			return err
		}
		defer f.Close()
		logFile = f
	}
	logger := logging.SetupWithWriter(cfg.Environment, cfg.LogLevel, logFile)
	logger.Info().Str("version", version.Version).Msg("audioservice starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var script *schedule.Script
	if cfg.ScriptPath != "" {
		if script, err = schedule.Load(cfg.ScriptPath); err != nil {
			return err
		}
	}

	bus := events.NewBus()
	sink, closeSinks := buildSinks(ctx, cfg, bus, logger)
	defer closeSinks()

	factory := engine.NewGStreamerFactory(engine.GStreamerConfig{
		Bin:       cfg.GStreamerBin,
		VideoSink: cfg.VideoSink,
		DumpDir:   cfg.DumpDir,
	}, logger)

	svc, err := service.New(service.Config{
		Sessions:        cfg.Sessions,
		SocketPath:      cfg.SocketPath,
		Debug:           cfg.Debug,
		Address:         cfg.Address,
		Port:            cfg.Port,
		Bus:             bus,
		Script:          script,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, factory, sink, logger)
	if err != nil {
		logger.Error().Err(err).Msg("startup failed")
		return err
	}

	if err := svc.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("service stopped with error")
		return err
	}

	logger.Info().Msg("audioservice stopped")
	return nil
}

// buildSinks assembles the control sinks. Broker sinks are optional: an
// unreachable broker is logged and skipped.
func buildSinks(ctx context.Context, cfg *config.Config, bus *events.Bus, logger zerolog.Logger) (control.Sink, func()) {
	sinks := control.MultiSink{
		{Name: "stdout", Sink: control.NewLineSink(os.Stdout)},
		{Name: "log", Sink: control.NewLogSink(logger)},
		{Name: "events", Sink: control.NewBusSink(bus)},
	}
	var closers []func() error
	nodeID := eventbus.NodeID()

	if cfg.RedisAddr != "" {
		rc := eventbus.DefaultRedisConfig()
		rc.Addr = cfg.RedisAddr
		rc.Password = cfg.RedisPassword
		rc.DB = cfg.RedisDB
		rc.Channel = cfg.RedisChannel
		if rs, err := eventbus.NewRedisSink(ctx, rc, nodeID, logger); err != nil {
			logger.Warn().Err(err).Msg("redis control sink disabled")
		} else {
			sinks = append(sinks, control.Named{Name: "redis", Sink: rs})
			closers = append(closers, rs.Close)
		}
	}

	if cfg.NATSURL != "" {
		nc := eventbus.DefaultNATSConfig()
		nc.URL = cfg.NATSURL
		nc.Subject = cfg.NATSSubject
		if ns, err := eventbus.NewNATSSink(nc, nodeID, logger); err != nil {
			logger.Warn().Err(err).Msg("nats control sink disabled")
		} else {
			sinks = append(sinks, control.Named{Name: "nats", Sink: ns})
			closers = append(closers, ns.Close)
		}
	}

	return sinks, func() {
		for _, c := range closers {
			if err := c(); err != nil {
				logger.Warn().Err(err).Msg("close control sink")
			}
		}
	}
}
