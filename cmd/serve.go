package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/Lockstep/internal/config"
	"github.com/BioHazard786/Lockstep/internal/server"
)

var flagServeListen string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the rendezvous server",
	Long: `Run the rendezvous server that assigns every watch client an id and relays
offers, answers and ICE candidates between them.

Examples:
  lockstep serve
  lockstep serve --listen :8080
  LOCKSTEP_SERVER_RATE_LIMIT=50 lockstep serve`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(config.Options{ListenAddr: flagServeListen})
		if err != nil {
			return err
		}

		closeLog, err := initLogging(cfg, "info")
		if err != nil {
			return err
		}
		defer closeLog()

		if err := server.Run(cmd.Context(), cfg); err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVarP(&flagServeListen, "listen", "l", "", "Listen address (default \":3000\")")
}
