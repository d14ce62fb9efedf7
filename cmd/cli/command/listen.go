package command

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"twinbridge/internal/microservices/subscriber"
	"twinbridge/internal/microservices/transport"
	"twinbridge/internal/wire"
)

// listenCmd prints channel events until interrupted, --count events or --duration
var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Subscribe and print channel events",
	RunE: func(cmd *cobra.Command, args []string) error {
		streamName, _ := cmd.Flags().GetString("stream")
		count, _ := cmd.Flags().GetInt("count")
		duration, _ := cmd.Flags().GetDuration("duration")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := newLogger(cfg)

		var prefixes []wire.Prefix
		if streamName == "physical" || streamName == "all" {
			prefixes = append(prefixes, wire.Prefix{Value: cfg.PhysicalPrefix, Kind: wire.Physical})
		}
		if streamName == "digital" || streamName == "all" {
			prefixes = append(prefixes, wire.Prefix{Value: cfg.DigitalPrefix, Kind: wire.Digital})
		}
		if len(prefixes) == 0 {
			return fmt.Errorf("unknown stream %q (physical, digital or all)", streamName)
		}
		classifier, err := wire.NewClassifier(prefixes...)
		if err != nil {
			return err
		}

		factory, err := transport.NewFactory(cfg.Transport, cfg.SendBuffer, logger)
		if err != nil {
			return err
		}
		tctx := transport.NewContext(factory, logger)
		defer tctx.Shutdown()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		sub, err := subscriber.Connect(ctx, tctx, cfg.SubscribeAddress(), classifier, subscriber.Options{
			RecvTimeout:   cfg.RecvTimeout,
			JoinTimeout:   cfg.JoinTimeout,
			QueueCapacity: cfg.QueueCapacity,
			Logger:        logger,
		})
		if err != nil {
			return err
		}
		defer sub.Stop()
		if err := sub.Start(); err != nil {
			return err
		}

		var timeout <-chan time.Time
		if duration > 0 {
			timer := time.NewTimer(duration)
			defer timer.Stop()
			timeout = timer.C
		}

		seen := 0
		show := func(ev wire.ChannelEvent) {
			if count > 0 && seen >= count {
				return
			}
			seen++
			fmt.Printf("%s %s[%d] = %s\n", timeNow().Format("15:04:05.000"), ev.Stream, ev.Channel, wire.FormatValue(ev.Angle))
		}

		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for count == 0 || seen < count {
			select {
			case <-ctx.Done():
				return nil
			case <-timeout:
				return nil
			case <-sub.Done():
				return fmt.Errorf("subscriber stopped: %v", sub.Err())
			case <-ticker.C:
				sub.Drain(show)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listenCmd)

	listenCmd.Flags().String("stream", "all", "physical, digital or all")
	listenCmd.Flags().IntP("count", "n", 0, "exit after this many events (0 = no limit)")
	listenCmd.Flags().Duration("duration", 0, "exit after this long (0 = no limit)")
}
