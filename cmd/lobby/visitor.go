package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuemby/lobby/pkg/client"
	"github.com/cuemby/lobby/pkg/heartbeat"
	"github.com/cuemby/lobby/pkg/log"
	"github.com/cuemby/lobby/pkg/types"
	"github.com/spf13/cobra"
)

var visitorCmd = &cobra.Command{
	Use:   "visitor",
	Short: "Wait in the lobby as a visitor",
	Long: `Register as a visitor and wait for an operator decision.

The command keeps a push channel open and falls back to polling whenever the
channel drops. It exits 0 when approved and 2 when blocked.

Examples:
  # Wait with a fresh id
  lobby visitor --server http://localhost:8080

  # Resume a previous session
  lobby visitor --id 3f1c2a9e-... --meta userAgent=kiosk/1.0`,
	RunE: runVisitor,
}

func init() {
	visitorCmd.Flags().String("server", "http://localhost:8080", "Lobby server URL")
	visitorCmd.Flags().String("id", "", "Visitor id from a previous session")
	visitorCmd.Flags().StringToString("meta", nil, "Client metadata (key=value)")
	visitorCmd.Flags().Duration("poll-interval", client.DefaultPollInterval, "Poll interval while push is down")
	visitorCmd.Flags().Duration("ping-interval", heartbeat.DefaultInterval, "Push channel ping interval")
	visitorCmd.Flags().Duration("heartbeat-timeout", heartbeat.DefaultTimeout, "Tear down a silent push channel after this long")
	visitorCmd.Flags().Bool("debug", false, "Log channel state changes")
}

func runVisitor(cmd *cobra.Command, args []string) error {
	server, _ := cmd.Flags().GetString("server")
	id, _ := cmd.Flags().GetString("id")
	meta, _ := cmd.Flags().GetStringToString("meta")
	pollInterval, _ := cmd.Flags().GetDuration("poll-interval")
	pingInterval, _ := cmd.Flags().GetDuration("ping-interval")
	timeout, _ := cmd.Flags().GetDuration("heartbeat-timeout")
	debug, _ := cmd.Flags().GetBool("debug")

	level := log.InfoLevel
	if debug {
		level = log.DebugLevel
	}
	log.Init(log.Config{Level: level})
	logger := log.WithComponent("visitor")

	hb := heartbeat.Config{Interval: pingInterval, Timeout: timeout}
	if err := hb.Validate(); err != nil {
		return err
	}

	v := client.NewVisitorClient(server, client.VisitorConfig{
		ID:           id,
		Metadata:     meta,
		PollInterval: pollInterval,
		Channel: client.ChannelConfig{
			Heartbeat: hb,
			OnState: func(state client.ConnState, reason string) {
				logger.Debug().Str("state", state.String()).Str("reason", reason).Msg("Push channel")
			},
		},
		OnStatus: func(status *types.VisitorStatus) {
			logger.Debug().Str("state", string(status.State)).Msg("Status")
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Println("Waiting for an operator decision...")
	status, err := v.Run(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Visitor %s is %s\n", v.ID(), status.State)
	if status.Content != "" {
		fmt.Println(status.Content)
	}
	if status.State == types.VisitorStateBlocked {
		os.Exit(2)
	}
	return nil
}
