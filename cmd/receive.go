package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/vidrx/vidrx/config"
	"github.com/vidrx/vidrx/internal/decode"
	"github.com/vidrx/vidrx/internal/monitor"
	"github.com/vidrx/vidrx/internal/pipeline"
	"github.com/vidrx/vidrx/internal/receiver"
	"github.com/vidrx/vidrx/internal/stats"
	"github.com/vidrx/vidrx/internal/transport"
	"github.com/vidrx/vidrx/internal/util"
)

type ReceiveOptions struct {
	LazyLevel   int
	OutputPath  string
	Verbose     bool
	WindowSize  int
	MonitorAddr string
}

func NewReceiveCommand() *cobra.Command {
	opts := &ReceiveOptions{}

	cmd := &cobra.Command{
		Use:   "receive [flags] <port>",
		Short: "Listen for a sender and receive a video session",
		Long: `Bind a UDP port, wait for a sender's config handshake, then receive and
reassemble video frames until interrupted or the transport fails.

Lazy levels:
  0: decode and display frames (default)
  1: decode but not display frames
  2: neither decode nor display frames`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ExecuteReceive(opts, args[0])
		},
		Example: `  # Receive on port 9000 with full decode and display
  vidrx receive 9000

  # Measure pure network/reassembly cost, write per-frame results
  vidrx receive --lazy 2 -o perf.csv 9000

  # Expose live stats and a frame tap for a browser player
  vidrx receive --monitor 127.0.0.1:8090 9000`,
	}

	flags := cmd.Flags()
	flags.IntVarP(&opts.LazyLevel, "lazy", "L", config.GetDefaultLazyLevel(),
		"Pipeline cost level: 0 decode+display, 1 decode only, 2 network only")
	flags.StringVarP(&opts.OutputPath, "output", "o", "",
		"File to output performance results to")
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false,
		"Enable more logging for debugging")
	flags.IntVarP(&opts.WindowSize, "window", "w", config.GetDefaultWindowSize(),
		"Max partial frames tracked concurrently")
	flags.StringVarP(&opts.MonitorAddr, "monitor", "m", config.GetMonitorAddr(),
		"Address for the diagnostic HTTP server (disabled when empty)")

	return cmd
}

func ExecuteReceive(opts *ReceiveOptions, portArg string) error {
	util.InitLogger(opts.Verbose)
	logger := util.GetLogger()

	port, err := strconv.Atoi(portArg)
	if err != nil || port <= 0 || port > 65535 {
		return fmt.Errorf("invalid port %q", portArg)
	}

	lazyLevel, err := decode.ParseLazyLevel(opts.LazyLevel)
	if err != nil {
		return err
	}

	sock, err := transport.Bind(port)
	if err != nil {
		return err
	}
	defer sock.Close()

	fmt.Printf("Local address: %s\n", color.GreenString(sock.LocalAddr().String()))

	runID := uuid.New().String()
	collector := stats.NewCollector(runID, time.Now())

	// The broadcaster backs both rendering and the monitor's frame tap.
	var broadcaster *pipeline.Broadcaster
	var monitorServer *monitor.Server
	if opts.MonitorAddr != "" {
		broadcaster = pipeline.NewBroadcaster()
		defer broadcaster.Close()

		monitorServer = monitor.NewServer(opts.MonitorAddr, collector, broadcaster)
		monitorServer.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = monitorServer.Shutdown(shutdownCtx)
		}()
	}

	var decoder decode.Decoder
	if lazyLevel != decode.LazyNetworkOnly {
		decoder = decode.NewH264Decoder(broadcaster)
	}
	pipe := decode.NewPipeline(lazyLevel, decoder)

	var perfLog *stats.PerfLogger
	if opts.OutputPath != "" {
		perfLog, err = stats.NewPerfLogger(opts.OutputPath)
		if err != nil {
			return err
		}
		defer func() {
			if err := perfLog.Close(); err != nil {
				logger.Error("Failed to close performance log", "error", err)
			}
		}()
	}

	sess := receiver.NewSession(sock, pipe, receiver.Options{
		RunID:      runID,
		WindowSize: opts.WindowSize,
		PerfLog:    perfLog,
		Collector:  collector,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Closing the socket is the only way to unblock a pending receive.
	go func() {
		<-ctx.Done()
		sock.Close()
	}()

	if _, err := sess.AwaitConfig(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	if err := sess.Run(ctx); err != nil {
		return err
	}

	logger.Info("Session ended", "run_id", sess.RunID())
	return nil
}
