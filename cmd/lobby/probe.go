package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/cuemby/lobby/pkg/health"
	"github.com/spf13/cobra"
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Check a running lobby server",
	Long: `Probe a lobby server's readiness endpoint and exit non-zero when it
is not ready. Intended for container HEALTHCHECK instructions.

Examples:
  lobby probe
  lobby probe --url http://lobby:8080/live --retries 1
  lobby probe --tcp localhost:8080`,
	RunE: runProbe,
}

func init() {
	defaults := health.DefaultConfig()
	probeCmd.Flags().String("url", "http://localhost:8080/ready", "Health endpoint to request")
	probeCmd.Flags().String("tcp", "", "Only check that this address accepts TCP connections")
	probeCmd.Flags().Int("retries", defaults.Retries, "Consecutive failures before giving up")
	probeCmd.Flags().Duration("interval", defaults.Interval, "Pause between attempts")
	probeCmd.Flags().Duration("timeout", defaults.Timeout, "Timeout for one attempt")
	probeCmd.Flags().Duration("start-period", defaults.StartPeriod, "Grace period during which failures are not counted")

	rootCmd.AddCommand(probeCmd)
}

func runProbe(cmd *cobra.Command, args []string) error {
	url, _ := cmd.Flags().GetString("url")
	tcp, _ := cmd.Flags().GetString("tcp")

	cfg := health.DefaultConfig()
	cfg.Retries, _ = cmd.Flags().GetInt("retries")
	cfg.Interval, _ = cmd.Flags().GetDuration("interval")
	cfg.Timeout, _ = cmd.Flags().GetDuration("timeout")
	cfg.StartPeriod, _ = cmd.Flags().GetDuration("start-period")

	var checker health.Checker = health.NewHTTPChecker(url).WithTimeout(cfg.Timeout)
	if strings.TrimSpace(tcp) != "" {
		checker = health.NewTCPChecker(tcp)
	}

	status := health.Probe(cmd.Context(), checker, cfg)
	fmt.Printf("%s probe: %s\n", checker.Type(), status.LastResult.Message)
	if !status.Healthy {
		os.Exit(1)
	}
	return nil
}
