package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/cuemby/lobby/pkg/client"
	"github.com/cuemby/lobby/pkg/types"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// Admin commands
var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Operate the lobby",
	Long: `Operator commands. Authenticate with --token, or with --password
(default $LOBBY_ADMIN_PASSWORD) to log in for each command.`,
}

func init() {
	adminCmd.PersistentFlags().String("server", "http://localhost:8080", "Lobby server URL")
	adminCmd.PersistentFlags().String("token", "", "Session token from 'lobby admin login'")
	adminCmd.PersistentFlags().String("password", "", "Operator password")

	adminApproveCmd.Flags().String("content", "", "Content page id (default page when empty)")

	adminCmd.AddCommand(adminLoginCmd)
	adminCmd.AddCommand(adminListCmd)
	adminCmd.AddCommand(adminGetCmd)
	adminCmd.AddCommand(adminApproveCmd)
	adminCmd.AddCommand(adminBlockCmd)
	adminCmd.AddCommand(adminDeleteCmd)
	adminCmd.AddCommand(adminStatsCmd)
	adminCmd.AddCommand(adminWatchCmd)
}

// adminClient returns a client authenticated from the persistent flags
func adminClient(cmd *cobra.Command) (*client.AdminClient, error) {
	server, _ := cmd.Flags().GetString("server")
	token, _ := cmd.Flags().GetString("token")
	password, _ := cmd.Flags().GetString("password")

	c := client.NewAdminClient(server)
	if token != "" {
		c.SetToken(token)
		return c, nil
	}

	if password == "" {
		password = os.Getenv("LOBBY_ADMIN_PASSWORD")
	}
	if password == "" {
		return nil, errors.New("--token or --password is required")
	}
	if _, err := c.Login(cmd.Context(), password); err != nil {
		return nil, err
	}
	return c, nil
}

func printYAML(v interface{}) error {
	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(v)
}

var adminLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in and print a session token",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := adminClient(cmd)
		if err != nil {
			return err
		}
		fmt.Println(c.Token())
		return nil
	},
}

var adminListCmd = &cobra.Command{
	Use:   "list",
	Short: "List visitors",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := adminClient(cmd)
		if err != nil {
			return err
		}
		visitors, err := c.ListVisitors(cmd.Context())
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATE\tCONNECTION\tCONTENT\tLAST SEEN")
		for _, v := range visitors {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				v.ID, v.State, v.ConnectionStatus, v.ContentRef,
				v.LastSeenAt.Local().Format(time.DateTime))
		}
		return w.Flush()
	},
}

var adminGetCmd = &cobra.Command{
	Use:   "get ID",
	Short: "Show one visitor",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := adminClient(cmd)
		if err != nil {
			return err
		}
		v, err := c.GetVisitor(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printYAML(v)
	},
}

var adminApproveCmd = &cobra.Command{
	Use:   "approve ID",
	Short: "Approve a visitor",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := adminClient(cmd)
		if err != nil {
			return err
		}
		ref, _ := cmd.Flags().GetString("content")
		v, err := c.Approve(cmd.Context(), args[0], ref)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Visitor %s approved\n", v.ID)
		return nil
	},
}

var adminBlockCmd = &cobra.Command{
	Use:   "block ID",
	Short: "Block a visitor",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := adminClient(cmd)
		if err != nil {
			return err
		}
		v, err := c.Block(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("✓ Visitor %s blocked\n", v.ID)
		return nil
	},
}

var adminDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete a visitor and close its push channel",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := adminClient(cmd)
		if err != nil {
			return err
		}
		if err := c.DeleteVisitor(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ Visitor %s deleted\n", args[0])
		return nil
	},
}

var adminStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show visitor and alert counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := adminClient(cmd)
		if err != nil {
			return err
		}
		stats, err := c.Stats(cmd.Context())
		if err != nil {
			return err
		}
		return printYAML(stats)
	},
}

var adminWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream operator events and refreshed stats",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := adminClient(cmd)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		err = c.WatchStats(ctx, func(ev *types.AdminEvent) {
			line := fmt.Sprintf("%s  %-16s %s", ev.Timestamp.Local().Format(time.TimeOnly), ev.Kind, ev.VisitorID)
			switch {
			case ev.Visitor != nil:
				line += " " + string(ev.Visitor.State)
			case ev.Alert != nil:
				line += fmt.Sprintf("[%s] %s", ev.Alert.Severity, ev.Alert.Message)
			}
			if ev.Online != nil {
				line += fmt.Sprintf(" (online: %d)", *ev.Online)
			}
			fmt.Println(line)
		}, func(stats *types.Stats) {
			v := stats.Visitors
			fmt.Printf("%s  %-16s pending=%d approved=%d blocked=%d online=%d unread_alerts=%d\n",
				time.Now().Format(time.TimeOnly), "stats", v.Pending, v.Approved, v.Blocked, v.Online, stats.Alerts.Unread)
		})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}
