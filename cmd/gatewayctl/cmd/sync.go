package cmd

import (
	"sort"
	"time"

	"github.com/spf13/cobra"

	"gatewayplane/pkg/api"
)

var (
	syncPriority string
	syncDelay    time.Duration
)

var syncCmd = &cobra.Command{
	Use:   "sync [tenant_id] [path...]",
	Short: "Queue changed files for upload",
	Long: `Queue one or more paths from the tenant's gateway data directory for upload
to object storage. Reporting a path that is already queued reschedules it.`,
	Args: cobra.MinimumNArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		client := clientFromConfig(cmd)
		if client == nil {
			return
		}

		res, err := client.Sync(args[0], api.SyncRequest{
			Paths:    args[1:],
			Priority: syncPriority,
			DelayMs:  syncDelay.Milliseconds(),
		})
		if err != nil {
			cmd.Printf("Failed to queue sync: %v\n", err)
			return
		}

		cmd.Printf("Queued %d sync job(s)", len(res.Jobs))
		if res.BatchID != "" {
			cmd.Printf(" in batch %s", res.BatchID)
		}
		cmd.Println()
		for _, j := range res.Jobs {
			cmd.Printf("  %s  %-8s %s\n", j.ID, j.Priority, j.Path)
		}
	},
}

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Show sync queue statistics",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		client := clientFromConfig(cmd)
		if client == nil {
			return
		}

		stats, err := client.SyncStats()
		if err != nil {
			cmd.Printf("Failed to fetch queue stats: %v\n", err)
			return
		}

		printQueue(cmd, *stats)
	},
}

func printQueue(cmd *cobra.Command, s api.SyncStatsResponse) {
	cmd.Printf("%sSync Queue%s\n", colorBold, colorReset)
	cmd.Println("──────────────────────────────")
	cmd.Printf("%sPending:%s     %d\n", colorDim, colorReset, s.Pending)
	cmd.Printf("%sProcessing:%s  %d\n", colorDim, colorReset, s.Processing)
	cmd.Printf("%sCompleted:%s   %s%d%s\n", colorDim, colorReset, colorGreen, s.Completed, colorReset)
	cmd.Printf("%sFailed:%s      %s%d%s\n", colorDim, colorReset, colorRed, s.Failed, colorReset)
	cmd.Printf("%sRetried:%s     %d\n", colorDim, colorReset, s.Retried)
	if s.Superseded > 0 {
		cmd.Printf("%sSuperseded:%s  %d\n", colorDim, colorReset, s.Superseded)
	}
	if s.OldestPendingMs > 0 {
		cmd.Printf("%sOldest:%s      %s%s%s\n", colorDim, colorReset, colorCyan, formatDuration(msDuration(s.OldestPendingMs)), colorReset)
	}

	priorities := make([]string, 0, len(s.ByPriority))
	for p := range s.ByPriority {
		priorities = append(priorities, p)
	}
	sort.Strings(priorities)
	for _, p := range priorities {
		cmd.Printf("  %-8s %d pending, lag %s\n", p, s.ByPriority[p], formatDuration(msDuration(s.LagMs[p])))
	}
}

func init() {
	syncCmd.Flags().StringVarP(&syncPriority, "priority", "p", "normal", "Priority: low, normal, high or critical")
	syncCmd.Flags().DurationVar(&syncDelay, "delay", 0, "Wait this long before uploading")

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(queueCmd)
}
