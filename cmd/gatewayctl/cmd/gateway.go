package cmd

import (
	"github.com/spf13/cobra"
)

var ensureEnv map[string]string

var ensureCmd = &cobra.Command{
	Use:   "ensure [tenant_id]",
	Short: "Start a tenant's gateway if it is not running",
	Long: `Find the tenant's running gateway or start a new one, waiting until it
listens on its port. Concurrent ensures for the same tenant share one startup.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := clientFromConfig(cmd)
		if client == nil {
			return
		}

		gw, err := client.Ensure(args[0], ensureEnv)
		if err != nil {
			cmd.Printf("Failed to start gateway: %v\n", err)
			return
		}

		cmd.Printf("%s✓%s Gateway running\n", colorGreen, colorReset)
		cmd.Printf("%sTenant:%s      %s\n", colorDim, colorReset, gw.TenantID)
		cmd.Printf("%sSandbox:%s     %s\n", colorDim, colorReset, gw.Sandbox)
		cmd.Printf("%sPID:%s         %s\n", colorDim, colorReset, gw.PID)
		cmd.Printf("%sStarted:%s     %s\n", colorDim, colorReset, formatTimeWithRelative(&gw.StartedAt))
	},
}

var restartCmd = &cobra.Command{
	Use:   "restart [tenant_id]",
	Short: "Restart a tenant's gateway",
	Long: `Flush the tenant's data to object storage, stop the gateway and start a
fresh one. Manual restarts bypass and reset the circuit breaker.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := clientFromConfig(cmd)
		if client == nil {
			return
		}

		res, err := client.Restart(args[0])
		if err != nil {
			cmd.Printf("Failed to restart gateway: %v\n", err)
			return
		}

		if res.Success {
			cmd.Printf("%s✓%s %s (pid %s)\n", colorGreen, colorReset, res.Message, res.PID)
		} else {
			cmd.Printf("%s✗%s %s\n", colorRed, colorReset, res.Message)
		}

		switch {
		case !res.Sync.Attempted:
			cmd.Printf("%sSync:%s        skipped\n", colorDim, colorReset)
		case res.Sync.Success:
			cmd.Printf("%sSync:%s        %s via %s\n", colorDim, colorReset, formatDuration(msDuration(res.Sync.DurationMs)), res.Sync.Mode)
		default:
			cmd.Printf("%sSync:%s        %sfailed: %s%s\n", colorDim, colorReset, colorRed, res.Sync.Error, colorReset)
		}
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset [tenant_id]",
	Short: "Clear a tenant's failure count and circuit breaker",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := clientFromConfig(cmd)
		if client == nil {
			return
		}

		if err := client.ResetHealth(args[0]); err != nil {
			cmd.Printf("Failed to reset health: %v\n", err)
			return
		}
		cmd.Printf("Health state reset for %s\n", args[0])
	},
}

func init() {
	ensureCmd.Flags().StringToStringVarP(&ensureEnv, "env", "e", nil, "Extra gateway environment (KEY=VALUE)")

	rootCmd.AddCommand(ensureCmd)
	rootCmd.AddCommand(restartCmd)
	rootCmd.AddCommand(resetCmd)
}
