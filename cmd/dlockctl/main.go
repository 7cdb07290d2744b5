package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/alexandreLamarre/lockstate/pkg/config/v1alpha1"
	"github.com/alexandreLamarre/lockstate/pkg/constants"
	"github.com/alexandreLamarre/lockstate/pkg/instrumentation"
	"github.com/alexandreLamarre/lockstate/pkg/lock"
	"github.com/alexandreLamarre/lockstate/pkg/lock/broker"
	"github.com/alexandreLamarre/lockstate/pkg/logger"
	"github.com/alexandreLamarre/lockstate/pkg/test/conformance/tck"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	_ "github.com/alexandreLamarre/lockstate/pkg/lock/backend/cooperative"
	_ "github.com/alexandreLamarre/lockstate/pkg/lock/backend/local"
)

func main() {
	if err := BuildRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

var lg *slog.Logger

func BuildRootCmd() *cobra.Command {
	var logLevel string
	cmd := &cobra.Command{
		Use:           "dlockctl",
		Short:         "dlockctl certifies lock state manager backends",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := logger.ParseLevel(logLevel)
			if err != nil {
				return err
			}
			lg = logger.New(
				logger.WithLogLevel(level),
				logger.WithWriter(cmd.ErrOrStderr()),
				logger.WithAddSource(false),
			)
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level, one of debug, info, warn, error")
	cmd.AddCommand(BuildBackendsCmd())
	cmd.AddCommand(BuildCheckCmd())
	return cmd
}

func BuildBackendsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backends",
		Short: "list the registered lock backends",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			for _, name := range broker.Backends() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
		},
	}
}

func BuildCheckCmd() *cobra.Command {
	var configPath string
	var trace bool
	flagConfig := &v1alpha1.ConformanceConfig{}
	var hold, bound time.Duration
	cmd := &cobra.Command{
		Use:   "check",
		Short: "run the lock conformance kit against a backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			config := &v1alpha1.ConformanceConfig{}
			if configPath != "" {
				var err error
				config, err = v1alpha1.Load(configPath)
				if err != nil {
					return fmt.Errorf("failed to load config '%s' : %w", configPath, err)
				}
			}
			if cmd.Flags().Changed("hold") {
				flagConfig.Hold = &v1alpha1.Duration{Duration: hold}
			}
			if cmd.Flags().Changed("bound") {
				flagConfig.Bound = &v1alpha1.Duration{Duration: bound}
			}
			mergeFlags(cmd, config, flagConfig)
			if err := config.Validate(); err != nil {
				return err
			}
			return runCheck(cmd, config, trace)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a JSON or TOML conformance config")
	cmd.Flags().StringVarP(&flagConfig.Backend, "backend", "b", constants.LocalLockManager, "lock backend to certify")
	cmd.Flags().StringVarP(&flagConfig.ResourceID, "resource", "r", constants.DefaultResourceID, "resource id the workers contend on")
	cmd.Flags().IntVarP(&flagConfig.Workers, "workers", "w", tck.DefaultWorkers, "number of concurrent workers")
	cmd.Flags().DurationVar(&hold, "hold", tck.DefaultHoldDuration, "how long each worker holds the lock")
	cmd.Flags().DurationVar(&bound, "bound", 0, "upper bound on the total runtime, defaults to workers * hold + 1s")
	cmd.Flags().BoolVarP(&flagConfig.Verbose, "verbose", "v", false, "log each worker's progress")
	cmd.Flags().StringVar(&flagConfig.MetricsAddr, "metrics-addr", "", "serve prometheus metrics on this address while checking")
	cmd.Flags().BoolVar(&trace, "trace", false, "print lock spans to stderr")
	return cmd
}

// mergeFlags overrides config values with the flags set on the command line,
// and fills in flag defaults for values the config left unset.
func mergeFlags(cmd *cobra.Command, config, flags *v1alpha1.ConformanceConfig) {
	changed := cmd.Flags().Changed
	if changed("backend") || config.Backend == "" {
		config.Backend = flags.Backend
	}
	if changed("resource") || config.ResourceID == "" {
		config.ResourceID = flags.ResourceID
	}
	if changed("workers") || config.Workers == 0 {
		config.Workers = flags.Workers
	}
	if changed("hold") || config.Hold == nil {
		config.Hold = lo.Ternary(flags.Hold != nil, flags.Hold, &v1alpha1.Duration{Duration: tck.DefaultHoldDuration})
	}
	if changed("bound") {
		config.Bound = flags.Bound
	}
	if changed("verbose") {
		config.Verbose = flags.Verbose
	}
	if changed("metrics-addr") {
		config.MetricsAddr = flags.MetricsAddr
	}
}

func runCheck(cmd *cobra.Command, config *v1alpha1.ConformanceConfig, trace bool) error {
	ctx, ca := context.WithCancel(cmd.Context())
	defer ca()
	lg := lg.With("backend", config.Backend)

	var sm lock.StateManager
	sm, err := broker.NewLockManager(ctx, lg, config.Backend)
	if err != nil {
		return err
	}

	if config.MetricsAddr != "" {
		server := instrumentation.NewMetricsServer(config.MetricsAddr, lg)
		instrumented, err := instrumentation.NewStateManager(sm, server.Provider(), lg)
		if err != nil {
			return err
		}
		sm = instrumented
		go func() {
			if err := server.ListenAndServe(ctx); err != nil {
				lg.With(logger.Err(err)).Error("metrics server exited")
			}
		}()
	}

	opts := []tck.CheckOption{
		tck.WithWorkers(config.Workers),
		tck.WithHoldDuration(config.Hold.Duration),
		tck.WithResourceID(config.ResourceID),
		tck.WithVerbose(config.Verbose),
		tck.WithLogger(lg),
	}
	if config.Bound != nil {
		opts = append(opts, tck.WithRuntimeBound(config.Bound.Duration))
	}
	if trace {
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(cmd.ErrOrStderr()), stdouttrace.WithPrettyPrint())
		if err != nil {
			return err
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
		defer func() {
			if err := tp.Shutdown(context.WithoutCancel(ctx)); err != nil {
				lg.With(logger.Err(err)).Warn("failed to shutdown tracer provider")
			}
		}()
		opts = append(opts, tck.WithLockOptions(lock.WithTracer(tp.Tracer("dlockctl"))))
	}

	if hc, ok := sm.(lock.HealthChecker); ok {
		conditions, err := hc.Health(ctx)
		if err != nil {
			return fmt.Errorf("backend health check failed : %w", err)
		}
		if len(conditions) > 0 {
			return fmt.Errorf("%w : %v", lock.ErrBackendUnavailable, conditions)
		}
	}

	lg.Info("running conformance kit...")
	report, err := tck.Check(ctx, sm, opts...)
	if report != nil {
		fmt.Fprintln(cmd.OutOrStdout(), report.String())
	}
	if err != nil {
		lg.With(logger.Err(err)).Error("backend failed the conformance kit")
		if errors.Is(err, tck.ErrRuntimeExceeded) {
			return fmt.Errorf("backend did not serialize workers in time : %w", err)
		}
		return err
	}
	lg.Info("backend passed the conformance kit")
	return nil
}
