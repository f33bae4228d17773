package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"gatewayplane/pkg/api"
)

var (
	grantMethod  string
	grantExpires time.Duration
)

var grantCmd = &cobra.Command{
	Use:   "grant [tenant_id] [path]",
	Short: "Issue a presigned URL for a tenant file",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		client := clientFromConfig(cmd)
		if client == nil {
			return
		}

		grant, err := client.Grant(api.GrantRequest{
			TenantID:         args[0],
			Path:             args[1],
			Method:           grantMethod,
			ExpiresInSeconds: int64(grantExpires.Seconds()),
		})
		if err != nil {
			cmd.Printf("Failed to issue grant: %v\n", err)
			return
		}

		cmd.Printf("%s%s%s %s\n", colorBold, grant.Method, colorReset, grant.Key)
		cmd.Printf("%sExpires:%s %s\n", colorDim, colorReset, grant.ExpiresAt.Format(time.RFC3339))
		cmd.Println(grant.URL)
	},
}

func init() {
	grantCmd.Flags().StringVarP(&grantMethod, "method", "m", "GET", "GET to download or PUT to upload")
	grantCmd.Flags().DurationVar(&grantExpires, "expires", time.Hour, "How long the URL stays valid")

	rootCmd.AddCommand(grantCmd)
}
