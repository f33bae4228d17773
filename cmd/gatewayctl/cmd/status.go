package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"gatewayplane/pkg/api"
)

var statusCmd = &cobra.Command{
	Use:   "status [tenant_id]",
	Short: "Check a tenant's gateway health",
	Long: `Run a health check against the tenant's gateway: process, port and an
in-sandbox probe. Each failed check counts toward an automatic restart.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := clientFromConfig(cmd)
		if client == nil {
			return
		}

		health, err := client.Health(args[0])
		if err != nil {
			cmd.Printf("Failed to check health: %v\n", err)
			return
		}

		printHealth(cmd, *health)
	},
}

func printHealth(cmd *cobra.Command, h api.HealthResponse) {
	icon := colorGreen + "✓" + colorReset
	state := colorGreen + "HEALTHY" + colorReset
	if !h.Healthy {
		icon = colorRed + "✗" + colorReset
		state = colorRed + "UNHEALTHY" + colorReset
	}

	cmd.Printf("%s %sGateway Health%s\n", icon, colorBold, colorReset)
	cmd.Println("──────────────────────────────")
	cmd.Printf("%sTenant:%s      %s\n", colorDim, colorReset, h.TenantID)
	cmd.Printf("%sStatus:%s      %s\n", colorDim, colorReset, state)
	cmd.Printf("%sProcess:%s     %s\n", colorDim, colorReset, checkMark(h.Checks.ProcessRunning))
	cmd.Printf("%sPort:%s        %s\n", colorDim, colorReset, checkMark(h.Checks.PortReachable))
	cmd.Printf("%sProbe:%s       %s\n", colorDim, colorReset, checkMark(h.Checks.GatewayResponds))

	if h.Healthy {
		cmd.Printf("%sUptime:%s      %s\n", colorDim, colorReset, formatDuration(time.Duration(h.UptimeSeconds)*time.Second))
	}
	if h.ConsecutiveFailures > 0 {
		cmd.Printf("%sFailures:%s    %s%d%s\n", colorDim, colorReset, colorYellow, h.ConsecutiveFailures, colorReset)
	}
	if h.Error != "" {
		cmd.Printf("%sError:%s       %s%s%s\n", colorDim, colorReset, colorRed, h.Error, colorReset)
	}
	cmd.Printf("%sChecked:%s     %s\n", colorDim, colorReset, formatTimeWithRelative(&h.CheckedAt))
}

func checkMark(ok bool) string {
	if ok {
		return colorGreen + "✓" + colorReset
	}
	return colorRed + "✗" + colorReset
}

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
)

func formatTimeWithRelative(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	relative := relativeTime(*t)
	return fmt.Sprintf("%s %s(%s ago)%s", t.Format("Mon, 02 Jan 2006 15:04:05 MST"), colorDim, relative, colorReset)
}

func relativeTime(t time.Time) string {
	duration := time.Since(t)

	if duration < time.Minute {
		return fmt.Sprintf("%ds", int(duration.Seconds()))
	} else if duration < time.Hour {
		return fmt.Sprintf("%dm", int(duration.Minutes()))
	} else if duration < 24*time.Hour {
		return fmt.Sprintf("%dh", int(duration.Hours()))
	} else {
		days := int(duration.Hours() / 24)
		if days == 1 {
			return "1 day"
		}
		return fmt.Sprintf("%d days", days)
	}
}

func msDuration(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	} else if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	} else if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
