package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/TritonDataCenter/muppet-sub000/internal/config"
	"github.com/TritonDataCenter/muppet-sub000/internal/constants"
	"github.com/TritonDataCenter/muppet-sub000/internal/lbmanager"
	"github.com/TritonDataCenter/muppet-sub000/internal/logging"
	"github.com/TritonDataCenter/muppet-sub000/internal/metrics"
	"github.com/TritonDataCenter/muppet-sub000/internal/socket"
	"github.com/TritonDataCenter/muppet-sub000/internal/supervisor"
	"github.com/TritonDataCenter/muppet-sub000/internal/version"
	"github.com/TritonDataCenter/muppet-sub000/internal/watcher"
	"github.com/TritonDataCenter/muppet-sub000/internal/zk"
)

func main() {
	var (
		verbosity   int
		pretty      bool
		configPath  string
		metricsPort int
		haproxyBin  string
	)

	cmd := &cobra.Command{
		Use:           "muppetd",
		Short:         fmt.Sprintf("muppetd %s keeps HAProxy in sync with a ZooKeeper service directory", version.Version),
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), runOptions{
				verbosity:   verbosity,
				pretty:      pretty,
				configPath:  configPath,
				metricsPort: metricsPort,
				haproxyBin:  haproxyBin,
			})
		},
	}

	cmd.Flags().CountVarP(&verbosity, "verbose", "v", "increase log verbosity (-v, -vv)")
	cmd.Flags().BoolVar(&pretty, "pretty", false, "use human-readable console log output instead of JSON")
	cmd.Flags().StringVarP(&configPath, "file", "f", "", "path to the JSON config file (required)")
	cmd.Flags().IntVarP(&metricsPort, "metricsPort", "m", 0, "override the metrics port from the config file")
	cmd.Flags().StringVar(&haproxyBin, "haproxy-bin", "", "override the haproxy binary path instead of discovering it from the service manifest")
	_ = cmd.MarkFlagRequired("file")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type runOptions struct {
	verbosity   int
	pretty      bool
	configPath  string
	metricsPort int
	haproxyBin  string
}

func run(ctx context.Context, opts runOptions) error {
	logger := logging.Init(logging.VerbosityToLevel(opts.verbosity), opts.pretty)

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("muppetd: %w", err)
	}
	if opts.metricsPort != 0 {
		cfg.MetricsPort = opts.metricsPort
	}

	socketPath := constants.DefaultSocketPath
	if os.Getenv(constants.EnvVarTesting) == "1" {
		socketPath = constants.TestSocketPath
	}

	client := socket.NewClient(socketPath)
	serializer := socket.NewSerializer(client, logger)
	defer serializer.Close()

	haproxyBin := opts.haproxyBin
	if haproxyBin == "" {
		haproxyBin, err = lbmanager.DiscoverHAProxyBin("haproxy")
		if err != nil {
			return fmt.Errorf("muppetd: %w", err)
		}
	}

	refreshCommand := constants.DefaultRefreshCommand
	if override := os.Getenv(constants.EnvVarRefreshCommand); override != "" {
		refreshCommand = override
	}

	lbManager := lbmanager.NewManager(lbmanager.ManagerConfig{
		ConfigDir:      "/opt/local/etc/haproxy",
		ConfigFileName: constants.HAProxyConfigFileName,
		HAProxyBin:     haproxyBin,
		RefreshCommand: refreshCommand,
		Generator: lbmanager.GeneratorConfig{
			Hostname:          cfg.Domain,
			TrustedIP:         cfg.TrustedIP,
			UntrustedFrontend: lbmanager.BuildUntrustedFrontend(cfg.UntrustedIPs),
			NbThread:          cfg.HAProxy.NbThread,
		},
		Logger: logger,
	})

	sup := supervisor.New(supervisor.Config{
		ZKServers:      cfg.ZooKeeper.Servers,
		SessionTimeout: cfg.ZooKeeper.Timeout,
		BasePath:       zk.DomainToPath(cfg.Domain),
		WatcherOptions: watcher.DefaultOptions(),
		Executor:       serializer,
		LBManager:      lbManager,
		Logger:         logger,
	})

	if len(cfg.AdminIPs) == 0 {
		return fmt.Errorf("muppetd: no adminIPS configured, cannot bind metrics endpoint")
	}
	metricsAddr := fmt.Sprintf("%s:%d", cfg.AdminIPs[0], cfg.MetricsPort)
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", metrics.Handler(serializer, logger))
	metricsServer := &http.Server{Addr: metricsAddr, Handler: mux}

	go func() {
		logger.Info().Str("addr", metricsAddr).Msg("muppetd: metrics endpoint listening")
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("muppetd: metrics server failed")
		}
	}()
	defer metricsServer.Close()

	logger.Info().Str("version", version.Version).Str("domain", cfg.Domain).Msg("muppetd: starting")
	return sup.Run(ctx)
}
