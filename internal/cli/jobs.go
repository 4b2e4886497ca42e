package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lazypower/persona/internal/archive"
	"github.com/lazypower/persona/internal/economics"
	"github.com/lazypower/persona/internal/engine"
)

var (
	decayDryRun    bool
	compressDryRun bool
	archiveDryRun  bool
)

func init() {
	decayCmd.Flags().BoolVar(&decayDryRun, "dry-run", false, "Compute updates without writing them")
	compressCmd.Flags().BoolVar(&compressDryRun, "dry-run", false, "Compute the batch without mutating anything")
	archiveCmd.Flags().BoolVar(&archiveDryRun, "dry-run", false, "Compute counts, checksum, and paths without side effects")
}

// printReport writes a job report as JSON to stdout; reports are the
// machine-readable contract, not logs.
func printReport(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var decayCmd = &cobra.Command{
	Use:   "decay",
	Short: "Run the time-decay job once",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		db, err := openStore(cfg)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer db.Close()

		opts := cfg.Decay
		opts.DryRun = decayDryRun
		report, err := engine.RunDecay(db, opts)
		if err != nil {
			return fmt.Errorf("decay: %w", err)
		}
		return printReport(report)
	},
}

var compressCmd = &cobra.Command{
	Use:   "compress",
	Short: "Compress low-salience memories into summary markers",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		db, err := openStore(cfg)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer db.Close()

		opts := cfg.Compress
		opts.DryRun = compressDryRun
		report, err := engine.RunCompression(db, opts)
		if err != nil {
			return fmt.Errorf("compress: %w", err)
		}
		return printReport(report)
	},
}

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Move eligible cold memories into a checksummed segment",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		db, err := openStore(cfg)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer db.Close()

		opts := cfg.Archive
		opts.DryRun = archiveDryRun
		report, err := archive.Run(db, opts)
		if err != nil {
			return fmt.Errorf("archive: %w", err)
		}
		return printReport(report)
	},
}

var budgetCmd = &cobra.Command{
	Use:   "budget",
	Short: "Report storage usage and one-year growth projection",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		db, err := openStore(cfg)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer db.Close()

		report, err := economics.InspectBudget(db)
		if err != nil {
			return fmt.Errorf("budget: %w", err)
		}
		return printReport(report)
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify [segment-key]",
	Short: "Verify an archive segment against its manifest checksum",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		db, err := openStore(cfg)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer db.Close()

		report, err := archive.VerifySegment(db, args[0])
		if report != nil {
			if perr := printReport(report); err == nil && perr != nil {
				err = perr
			}
		}
		if err != nil {
			return fmt.Errorf("verify: %w", err)
		}
		return nil
	},
}
