package command

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"twinbridge/internal/microservices/publisher"
	"twinbridge/internal/microservices/transport"
	"twinbridge/internal/wire"
)

// channel.go = one-off channel values, either through a running server or on the bus directly

// feedCmd goes through the control API, so the server's own publisher sends it
var feedCmd = &cobra.Command{
	Use:   "feed <channel> <angle>",
	Short: "Publish one physical channel angle through publisher-server",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		index, angle, err := parseChannelArgs(args)
		if err != nil {
			return err
		}
		c, err := apiClient()
		if err != nil {
			return err
		}
		resp, err := c.FeedChannel(index, angle)
		if err != nil {
			return fmt.Errorf("feed failed: %w", err)
		}
		if !resp.Sent {
			fmt.Printf("✗ channel %d = %s was dropped by the publisher\n", resp.Channel, wire.FormatValue(resp.Angle))
			return nil
		}
		fmt.Printf("✓ channel %d = %s\n", resp.Channel, wire.FormatValue(resp.Angle))
		return nil
	},
}

// sendCmd binds its own publisher; no publisher-server may hold the address
var sendCmd = &cobra.Command{
	Use:   "send <channel> <angle>",
	Short: "Bind a publisher and send one channel angle",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		index, angle, err := parseChannelArgs(args)
		if err != nil {
			return err
		}
		streamName, _ := cmd.Flags().GetString("stream")
		wait, _ := cmd.Flags().GetDuration("wait")

		kind, err := parseStream(streamName)
		if err != nil {
			return err
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := newLogger(cfg)
		classifier, err := cfg.Classifier()
		if err != nil {
			return err
		}
		layout, err := cfg.Layout()
		if err != nil {
			return err
		}
		factory, err := transport.NewFactory(cfg.Transport, cfg.SendBuffer, logger)
		if err != nil {
			return err
		}
		tctx := transport.NewContext(factory, logger)
		defer tctx.Shutdown()

		ctx, cancel := context.WithTimeout(cmd.Context(), wait+5*time.Second)
		defer cancel()
		pub, err := publisher.Bind(ctx, tctx, cfg.PublishAddress(), classifier, publisher.Options{
			Layout:           layout,
			UnderscoreTopics: cfg.TopicUnderscore,
			Logger:           logger,
		})
		if err != nil {
			return err
		}
		defer pub.Close()

		// tcp subscribers have to connect before anything is sent; redis reports -1
		if waitForPeers(pub, wait) == 0 {
			return fmt.Errorf("no subscriber connected to %s within %s", pub.Addr(), wait)
		}

		if !pub.PublishChannel(kind, index, angle) {
			return fmt.Errorf("%s[%d] was dropped", kind, index)
		}
		fmt.Printf("✓ %s[%d] = %s\n", kind, index, wire.FormatValue(angle))
		return nil
	},
}

func waitForPeers(pub *publisher.Publisher, wait time.Duration) int {
	deadline := time.Now().Add(wait)
	for {
		peers := pub.Peers()
		if peers != 0 || !time.Now().Before(deadline) {
			if peers > 0 {
				// let their subscription lines arrive
				time.Sleep(100 * time.Millisecond)
			}
			return peers
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func parseChannelArgs(args []string) (int, float32, error) {
	index, err := strconv.Atoi(args[0])
	if err != nil || index < 0 {
		return 0, 0, fmt.Errorf("invalid channel %q", args[0])
	}
	angle, err := strconv.ParseFloat(args[1], 32)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid angle %q: %w", args[1], err)
	}
	return index, float32(angle), nil
}

func parseStream(s string) (wire.StreamKind, error) {
	switch s {
	case "physical":
		return wire.Physical, nil
	case "digital":
		return wire.Digital, nil
	default:
		return wire.Physical, fmt.Errorf("unknown stream %q (physical or digital)", s)
	}
}

func init() {
	rootCmd.AddCommand(feedCmd)
	rootCmd.AddCommand(sendCmd)

	sendCmd.Flags().String("stream", "physical", "physical or digital")
	sendCmd.Flags().Duration("wait", 2*time.Second, "how long to wait for a subscriber")
}
