package command

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"twinbridge/internal/microservices/control-api/dto"
)

// playback.go = remote control of the scheduler inside publisher-server

var playbackCmd = &cobra.Command{
	Use:   "playback",
	Short: "Control trajectory playback on a running publisher-server",
}

var playbackStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show playback state",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := apiClient()
		if err != nil {
			return err
		}
		resp, err := c.Status()
		if err != nil {
			return fmt.Errorf("status failed: %w", err)
		}
		printPlayback(resp)
		return nil
	},
}

var playbackStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Restart playback from the first point",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := apiClient()
		if err != nil {
			return err
		}
		resp, err := c.Start()
		if err != nil {
			return fmt.Errorf("start failed: %w", err)
		}
		printPlayback(resp)
		return nil
	},
}

var playbackStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop playback",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := apiClient()
		if err != nil {
			return err
		}
		resp, err := c.Stop()
		if err != nil {
			return fmt.Errorf("stop failed: %w", err)
		}
		printPlayback(resp)
		return nil
	},
}

var playbackSpeedCmd = &cobra.Command{
	Use:   "speed <multiplier>",
	Short: "Set the playback speed (0 pauses)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		speed, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return fmt.Errorf("invalid speed %q: %w", args[0], err)
		}
		c, err := apiClient()
		if err != nil {
			return err
		}
		resp, err := c.SetSpeed(speed)
		if err != nil {
			return fmt.Errorf("set speed failed: %w", err)
		}
		printPlayback(resp)
		return nil
	},
}

var playbackLoopCmd = &cobra.Command{
	Use:   "loop <true|false>",
	Short: "Enable or disable looping",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		loop, err := strconv.ParseBool(args[0])
		if err != nil {
			return fmt.Errorf("invalid loop flag %q: %w", args[0], err)
		}
		c, err := apiClient()
		if err != nil {
			return err
		}
		resp, err := c.SetLoop(loop)
		if err != nil {
			return fmt.Errorf("set loop failed: %w", err)
		}
		printPlayback(resp)
		return nil
	},
}

func printPlayback(p *dto.PlaybackResponse) {
	fmt.Printf("state:   %s\n", p.State)
	fmt.Printf("cursor:  %d/%d (clock %.3fs, loops %d)\n", p.Cursor, p.Points, p.Clock, p.Loops)
	fmt.Printf("speed:   %gx  loop: %t\n", p.Speed, p.Loop)
	fmt.Printf("sent:    %d  dropped: %d  peers: %d\n", p.Sent, p.Dropped, p.Peers)
}

func init() {
	rootCmd.AddCommand(playbackCmd)
	playbackCmd.AddCommand(playbackStatusCmd, playbackStartCmd, playbackStopCmd, playbackSpeedCmd, playbackLoopCmd)
}
