package cmd

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/BioHazard786/huddle/internal/config"
	"github.com/BioHazard786/huddle/internal/server"
	"github.com/BioHazard786/huddle/internal/ui"
)

const shutdownTimeout = 10 * time.Second

var (
	flagAddr             string
	flagCapacity         int
	flagKeyframeInterval time.Duration
	flagDebugRTP         string
	flagNoMetrics        bool
	flagServeSTUN        string
	flagServeTURN        string
	flagServeTURNUser    string
	flagServeTURNPass    string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the SFU and signaling server",
	Long: `Run the huddle server: WebSocket signaling on /ws, the browser client on /,
room listing on /rooms, health on /health and Prometheus metrics on /metrics.

Examples:
  huddle serve
  huddle serve --addr :9000 --capacity 6
  huddle serve --debug-rtp 127.0.0.1:4002`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

func serve(ctx context.Context) error {
	cfg, err := LoadConfig(config.Options{
		Addr:             flagAddr,
		RoomCapacity:     flagCapacity,
		KeyframeInterval: flagKeyframeInterval,
		DebugRTPAddr:     flagDebugRTP,
		STUNServer:       flagServeSTUN,
		TURNServer:       flagServeTURN,
		TURNUser:         flagServeTURNUser,
		TURNPass:         flagServeTURNPass,
	})
	if err != nil {
		return err
	}
	if flagNoMetrics {
		cfg.Server.Metrics = false
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	srv, err := server.New(cfg, reg)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	ui.PrintSuccessf("huddle listening on %s (rooms of %d)", cfg.Server.Addr, cfg.Server.RoomCapacity)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	ui.PrintInfo("Server stopped")
	return nil
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVarP(&flagAddr, "addr", "a", "", "Listen address (default :8080, or :$PORT)")
	serveCmd.Flags().IntVar(&flagCapacity, "capacity", 0, "Maximum participants per room (default 4)")
	serveCmd.Flags().DurationVar(&flagKeyframeInterval, "keyframe-interval", 0, "Interval of periodic key frame requests (default 3s)")
	serveCmd.Flags().StringVar(&flagDebugRTP, "debug-rtp", "", "Mirror forwarded RTP to this UDP address")
	serveCmd.Flags().BoolVar(&flagNoMetrics, "no-metrics", false, "Disable /metrics")
	serveCmd.Flags().StringVarP(&flagServeSTUN, "stun", "s", "", "Custom STUN server")
	serveCmd.Flags().StringVarP(&flagServeTURN, "turn", "t", "", "Custom TURN server")
	serveCmd.Flags().StringVar(&flagServeTURNUser, "turn-user", "", "TURN username")
	serveCmd.Flags().StringVar(&flagServeTURNPass, "turn-pass", "", "TURN password")
}
