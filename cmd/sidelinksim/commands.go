package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/signalsfoundry/sidelink-mac/internal/logging"
	"github.com/signalsfoundry/sidelink-mac/internal/mac"
	"github.com/signalsfoundry/sidelink-mac/internal/observability"
	"github.com/signalsfoundry/sidelink-mac/internal/scenario"
	"github.com/signalsfoundry/sidelink-mac/internal/sim"
)

// simulationService is the health service name reporting the run state.
const simulationService = "sidelink.Simulation"

var scenarioPath string

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "sidelinksim",
		Short: "LTE V2X sidelink MAC simulator",
		Long: `sidelinksim runs UE MACs for LTE sidelink over a shared radio medium:
sensing-based semi-persistent scheduling on V2X pools and random
selection with T-RPT patterns on legacy communication pools.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&scenarioPath, "scenario", "c", "configs/highway.yaml", "scenario file path")

	root.AddCommand(newRunCommand())
	root.AddCommand(newValidateCommand())
	root.AddCommand(newServeCommand())
	return root
}

func newRunCommand() *cobra.Command {
	var (
		asJSON       bool
		startupDelay int
		realTime     bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a scenario to completion and print delivery statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.NewFromEnv()
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			shutdown, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv(), log)
			if err != nil {
				return fmt.Errorf("tracing: %w", err)
			}
			defer observability.ShutdownWithTimeout(context.Background(), shutdown, log)

			sc, err := scenario.LoadFile(scenarioPath)
			if err != nil {
				return err
			}
			opts := []sim.Option{sim.WithLogger(log)}
			if startupDelay >= 0 {
				opts = append(opts, sim.WithStartupDelay(startupDelay))
			}
			if realTime {
				opts = append(opts, sim.WithRealTime())
			}
			eng, err := sim.NewEngine(sc, opts...)
			if err != nil {
				return err
			}
			stats, err := eng.Run(ctx)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(stats)
			}
			return printStats(cmd.OutOrStdout(), sc, stats)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print statistics as JSON")
	cmd.Flags().IntVar(&startupDelay, "startup-delay", -1, "fixed MAC startup delay in subframes; negative draws it from the scenario range")
	cmd.Flags().BoolVar(&realTime, "realtime", false, "pace subframes against the wall clock")
	return cmd
}

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check a scenario file and summarise it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			sc, err := scenario.LoadFile(scenarioPath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			var pool string
			if sc.CommPool != nil {
				pool = fmt.Sprintf("comm (SC period %d ms)", sc.CommPool.PeriodMs)
			} else {
				pool = fmt.Sprintf("v2x (%d x %d RB subchannels)", sc.V2xPool.NumSubchannel, sc.V2xPool.SizeSubchannel)
			}
			fmt.Fprintf(out, "scenario %q is valid\n", sc.Name)
			fmt.Fprintf(out, "  duration:  %s\n", sc.Duration)
			fmt.Fprintf(out, "  vehicles:  %d\n", len(sc.Vehicles))
			fmt.Fprintf(out, "  pool:      %s\n", pool)
			fmt.Fprintf(out, "  traffic:   %d bytes every %d ms\n", sc.Traffic.PacketSize, sc.Traffic.PeriodMs)
			return nil
		},
	}
}

func newServeCommand() *cobra.Command {
	var (
		grpcAddr    string
		metricsAddr string
		realTime    bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a scenario in the background behind gRPC health and Prometheus endpoints",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), grpcAddr, metricsAddr, realTime)
		},
	}
	cmd.Flags().StringVar(&grpcAddr, "grpc-addr", ":50051", "TCP address the gRPC server listens on")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9090", "HTTP address for Prometheus /metrics")
	cmd.Flags().BoolVar(&realTime, "realtime", true, "pace subframes against the wall clock")
	return cmd
}

func serve(parent context.Context, grpcAddr, metricsAddr string, realTime bool) error {
	log := logging.NewFromEnv()
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv(), log)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdown, log)

	sc, err := scenario.LoadFile(scenarioPath)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	serverMetrics, err := observability.NewServerCollector(reg)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	macMetrics, err := observability.NewMACCollector(reg)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	metricsSrv := serveMetrics(ctx, metricsAddr, serverMetrics.Handler(), log)

	opts := []sim.Option{
		sim.WithLogger(log),
		sim.WithMetrics(func(ue string) mac.MetricsRecorder { return macMetrics.ForUE(ue) }),
		sim.WithProgress(100, func(s sim.Stats) {
			serverMetrics.SetRunProgress(s.Subframes, s.UEs, s.PDR)
		}),
	}
	if realTime {
		opts = append(opts, sim.WithRealTime())
	}
	eng, err := sim.NewEngine(sc, opts...)
	if err != nil {
		return err
	}

	healthSrv := health.NewServer()
	server := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			observability.RequestLoggingUnaryInterceptor(log),
			serverMetrics.UnaryServerInterceptor(),
		),
		grpc.ChainStreamInterceptor(observability.RequestLoggingStreamInterceptor(log)),
	)
	healthpb.RegisterHealthServer(server, healthSrv)
	reflection.Register(server)

	lis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", grpcAddr, err)
	}
	log.Info(ctx, "starting gRPC server", logging.String("addr", grpcAddr))
	go func() {
		if err := server.Serve(lis); err != nil {
			log.Error(ctx, "gRPC server exited", logging.Err(err))
		}
	}()

	healthSrv.SetServingStatus(simulationService, healthpb.HealthCheckResponse_SERVING)
	go func() {
		stats, err := eng.Run(ctx)
		serverMetrics.SetRunProgress(stats.Subframes, stats.UEs, stats.PDR)
		healthSrv.SetServingStatus(simulationService, healthpb.HealthCheckResponse_NOT_SERVING)
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error(ctx, "simulation failed", logging.Err(err))
			return
		}
		log.Info(ctx, "simulation finished; still serving until interrupted",
			logging.Float("pdr", stats.PDR),
		)
	}()

	<-ctx.Done()
	log.Info(context.Background(), "shutting down")
	healthSrv.Shutdown()
	server.GracefulStop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	return nil
}

func serveMetrics(ctx context.Context, addr string, handler http.Handler, log logging.Logger) *http.Server {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn(ctx, "metrics server exited", logging.Err(err))
		}
	}()
	log.Info(ctx, "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}

func printStats(w io.Writer, sc *scenario.Scenario, s sim.Stats) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "scenario\t%s\n", sc.Name)
	fmt.Fprintf(tw, "subframes\t%d\n", s.Subframes)
	fmt.Fprintf(tw, "UEs\t%d\n", s.UEs)
	fmt.Fprintf(tw, "packets generated\t%d\n", s.Generated)
	fmt.Fprintf(tw, "packets transmitted\t%d\n", s.Transmitted)
	fmt.Fprintf(tw, "receptions\t%d (decoded %d, half-duplex %d, collided %d)\n", s.Receptions, s.Decoded, s.HalfDuplex, s.Collisions)
	fmt.Fprintf(tw, "packet delivery ratio\t%.4f (%d/%d)\n", s.PDR, s.Delivered, s.Attempted)
	fmt.Fprintf(tw, "PDR per UE\t%.4f ± %.4f\n", s.PDRPerUEMean, s.PDRPerUEStdDev)
	fmt.Fprintf(tw, "latency\tmean %.1f ms, max %.0f ms\n", s.MeanLatencyMs, s.MaxLatencyMs)
	return tw.Flush()
}
