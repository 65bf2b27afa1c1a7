package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/smallnest/rpcxbench/bench"
	"github.com/smallnest/rpcxbench/log"
	"github.com/smallnest/rpcxbench/protocol"
	"github.com/smallnest/rpcxbench/serverplugin"
)

// options is the resolved configuration of one invocation.
type options struct {
	unix          bench.Config
	tcp           bench.Config
	serverMetrics bool
	csvPath       string
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "rpcxbench",
		Short: "Measure rpcx echo latency over unix sockets and TCP",
		Long: `Starts an echo server per transport, issues warmup and timed calls from a
single client and prints min, average, max and p99 latency for each transport.

Every flag can also be set as an environment variable RPCXBENCH_<FLAG>
(e.g. RPCXBENCH_ITERATIONS=5000), or in a .env file.`,
		SilenceUsage: true,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			initConfig(v)
			if err := v.BindPFlags(cmd.Flags()); err != nil {
				return err
			}
			return processConfig(v, opts)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}

	flags := cmd.Flags()
	flags.Int("iterations", 1000, "number of timed calls per transport")
	flags.Int("warmup", 10, "number of discarded warmup calls per transport")
	flags.String("unix", bench.DefaultUnixAddress, "unix socket address")
	flags.String("tcp", bench.DefaultTCPAddress, "tcp address")
	flags.String("codec", protocol.MsgPack.String(), "payload codec (msgpack, json, protobuf)")
	flags.Int("payload-size", 0, "pad timed messages with random letters up to this many bytes")
	flags.Float64("throttle", 0, "maximum timed calls per second, 0 for unthrottled")
	flags.Duration("call-timeout", 0, "timeout of a single call, 0 for none")
	flags.Int("server-workers", 0, "handle requests in a pool of this many workers, 0 for a goroutine per request")
	flags.Int("max-message-length", protocol.DefaultMaxMessageLength, "largest frame body, in bytes, client and server accept")
	flags.Bool("server-metrics", false, "print server side handling time per transport")
	flags.String("csv", "", "also write the results to this csv file")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")

	return cmd
}

func initConfig(v *viper.Viper) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	v.SetEnvPrefix("rpcxbench")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
}

func processConfig(v *viper.Viper, opts *options) error {
	level, err := log.ParseLevel(v.GetString("log-level"))
	if err != nil {
		return err
	}
	log.SetLevel(level)

	st, err := protocol.ParseSerializeType(v.GetString("codec"))
	if err != nil {
		return err
	}

	iterations := v.GetInt("iterations")

	config := func(address string) bench.Config {
		c := bench.DefaultConfig(address)
		c.Iterations = iterations
		c.Warmup = v.GetInt("warmup")
		c.SerializeType = st
		c.PayloadSize = v.GetInt("payload-size")
		c.Throttle = v.GetFloat64("throttle")
		c.CallTimeout = v.GetDuration("call-timeout")
		c.ServerWorkers = v.GetInt("server-workers")
		c.MaxMessageLength = v.GetInt("max-message-length")
		return c
	}

	opts.unix = config(v.GetString("unix"))
	opts.tcp = config(v.GetString("tcp"))
	opts.serverMetrics = v.GetBool("server-metrics")
	opts.csvPath = v.GetString("csv")
	return nil
}

func run(ctx context.Context, w io.Writer, opts *options) error {
	fmt.Fprintf(w, "Running rpcx latency benchmark with %d iterations...\n\n", opts.unix.Iterations)

	fmt.Fprintln(w, "Testing Unix sockets...")
	unix, err := runOne(ctx, w, "Unix Socket", opts.unix, opts.serverMetrics)
	if err != nil {
		return fmt.Errorf("unix socket benchmark: %w", err)
	}

	fmt.Fprintln(w, "Testing TCP sockets...")
	tcp, err := runOne(ctx, w, "TCP Socket", opts.tcp, opts.serverMetrics)
	if err != nil {
		return fmt.Errorf("tcp socket benchmark: %w", err)
	}

	if err := bench.PrintComparison(w, bench.Compare(unix, tcp)); err != nil {
		return err
	}

	if opts.csvPath != "" {
		results := map[string]bench.Summary{"unix": unix, "tcp": tcp}
		if err := bench.WriteCSV(opts.csvPath, results); err != nil {
			return err
		}
		log.Infof("results written to %s", opts.csvPath)
	}
	return nil
}

func runOne(ctx context.Context, w io.Writer, title string, cfg bench.Config, withMetrics bool) (bench.Summary, error) {
	var metrics *serverplugin.MetricsPlugin
	if withMetrics {
		metrics = serverplugin.NewMetricsPlugin()
		cfg.ServerPlugins = append(cfg.ServerPlugins, metrics)
	}

	start := time.Now()
	latencies, err := bench.Run(ctx, cfg)
	if err != nil {
		return bench.Summary{}, err
	}
	log.Debugf("%s: %d calls in %v", title, len(latencies), time.Since(start))

	summary, err := bench.Summarize(latencies)
	if err != nil {
		return bench.Summary{}, err
	}
	if err := bench.PrintSummary(w, title, summary); err != nil {
		return bench.Summary{}, err
	}

	if metrics != nil {
		fmt.Fprintln(w, "  Server handling time:")
		if _, err := metrics.WriteTo(w); err != nil {
			return bench.Summary{}, err
		}
	}
	fmt.Fprintln(w)

	return summary, nil
}
