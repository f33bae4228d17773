package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "gatewayctl",
	Short: "gatewayctl is a command line tool for operating the gatewayplane orchestrator",
	Long: `gatewayctl talks to the gatewayplane orchestrator's internal API.

The orchestrator keeps one gateway process running in each tenant's sandbox,
restarts gateways that stop responding and syncs changed files to object
storage.

Common workflows:

  Start (or find) a tenant's gateway:
    gatewayctl ensure acme

  Check a gateway's health:
    gatewayctl status acme

  Restart a gateway and clear its circuit breaker:
    gatewayctl restart acme

  Queue changed files for upload:
    gatewayctl sync acme notes/today.md --priority high

  Inspect the sync queue:
    gatewayctl queue

Configuration:
  Set the API endpoint and secret via flags, environment variables or
  $HOME/.gatewayctl.yaml:
    GATEWAYPLANE_URL      API endpoint (default: http://localhost:6262)
    GATEWAYPLANE_TOKEN    Internal API secret`,
}

func Execute() error {
	return rootCmd.Execute()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		viper.AddConfigPath(home)
		viper.SetConfigName(".gatewayctl")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("GATEWAYPLANE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}
}

// clientFromConfig returns nil and prints a hint when no token is set.
func clientFromConfig(cmd *cobra.Command) *Client {
	token := viper.GetString("token")
	if token == "" {
		cmd.Println("API token not found. Please set it using the --token flag or the GATEWAYPLANE_TOKEN environment variable")
		return nil
	}
	return NewClient(viper.GetString("url"), token)
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.gatewayctl.yaml)")

	rootCmd.PersistentFlags().String("url", "http://localhost:6262", "Orchestrator URL")
	viper.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url"))

	rootCmd.PersistentFlags().StringP("token", "t", "", "Internal API secret")
	viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))
}
