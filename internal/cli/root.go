package cli

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "persona",
	Short: "Persistent memory engine for a conversational persona",
	Long:  "Persona maintains an evolving memory store: salience scoring, decay, compression, and checksummed cold archival. Single Go binary.",
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(decayCmd)
	rootCmd.AddCommand(compressCmd)
	rootCmd.AddCommand(archiveCmd)
	rootCmd.AddCommand(budgetCmd)
	rootCmd.AddCommand(verifyCmd)
}
