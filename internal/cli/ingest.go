package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lazypower/persona/internal/ingest"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest one life event (JSON on stdin)",
	Long:  "Reads a single {ts, type, payload, hash} event from stdin, classifies it, and stores at most one memory. Re-delivering an already-recorded hash is a no-op.",
	RunE:  runIngest,
}

func runIngest(cmd *cobra.Command, args []string) error {
	var ev ingest.Event
	if err := json.NewDecoder(os.Stdin).Decode(&ev); err != nil {
		return fmt.Errorf("decode event: %w", err)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	classifier := ingest.NewClassifier(ingest.NewRegistry(), cfg.Weights)
	m, err := classifier.Ingest(db, ev)
	if err != nil {
		return fmt.Errorf("ingest: %w", err)
	}

	if m == nil {
		return printReport(map[string]any{"stored": false})
	}
	return printReport(map[string]any{
		"stored":   true,
		"id":       m.ID,
		"type":     m.MemoryType,
		"state":    m.State,
		"salience": m.Salience,
	})
}
