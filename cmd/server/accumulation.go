package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/warp/benefits-engine/accumulation"
)

var (
	accumPayer  string
	accumOut    string
	accumFile   string
	accumReport string
)

var accumulationCmd = &cobra.Command{
	Use:   "accumulation",
	Short: "Payer accumulator files",
}

var accumulationGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Build the payer file from WAITING mappings",
	RunE:  runAccumulationGenerate,
}

var accumulationResponsesCmd = &cobra.Command{
	Use:   "responses",
	Short: "Apply a payer response file",
	RunE:  runAccumulationResponses,
}

func init() {
	accumulationCmd.PersistentFlags().StringVar(&accumPayer, "payer", "", "Payer code: esi or premera (required)")
	_ = accumulationCmd.MarkPersistentFlagRequired("payer")

	accumulationGenerateCmd.Flags().StringVar(&accumOut, "out", ".", "Directory to write the file to")

	f := accumulationResponsesCmd.Flags()
	f.StringVar(&accumFile, "file", "", "Path to the payer response file (required)")
	f.StringVar(&accumReport, "report", "", "Write a Parquet reconciliation report to this path")
	_ = accumulationResponsesCmd.MarkFlagRequired("file")

	accumulationCmd.AddCommand(accumulationGenerateCmd, accumulationResponsesCmd)
	rootCmd.AddCommand(accumulationCmd)
}

func runAccumulationGenerate(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	builder := accumulation.NewBuilder(accumulation.BuilderDeps{
		Mappings:       store,
		Subjects:       store,
		CostBreakdowns: store,
		Plans:          store,
		Payers:         store,
	}, cfg.Accumulation(), log)

	file, err := builder.BuildFile(context.Background(), payerName(), time.Now().UTC())
	if err != nil {
		return err
	}

	if err := os.MkdirAll(accumOut, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(accumOut, file.Name)
	if err := os.WriteFile(path, file.Content, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	log.Info().
		Str("path", path).
		Int("records", len(file.Details)).
		Ints64("skipped_mapping_ids", file.Skipped).
		Msg("accumulation file written")
	return nil
}

func runAccumulationResponses(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	raw, err := os.ReadFile(accumFile)
	if err != nil {
		return fmt.Errorf("read response file: %w", err)
	}

	processor := accumulation.NewResponseProcessor(store, store, cfg.Accumulation(), log)
	rows, err := processor.Process(context.Background(), payerName(), raw)
	if err != nil {
		return err
	}

	var accepted, rejected, unmatched int
	for _, r := range rows {
		switch {
		case !r.Matched:
			unmatched++
		case r.Status == accumulation.StatusAccepted:
			accepted++
		case r.Status == accumulation.StatusRejected:
			rejected++
		}
	}
	log.Info().
		Str("file", accumFile).
		Int("accepted", accepted).
		Int("rejected", rejected).
		Int("unmatched", unmatched).
		Msg("response file applied")

	if accumReport != "" {
		if err := accumulation.WriteReport(accumReport, rows); err != nil {
			return err
		}
		log.Info().Str("path", accumReport).Msg("reconciliation report written")
	}
	return nil
}

func payerName() accumulation.PayerName {
	return accumulation.PayerName(strings.ToLower(accumPayer))
}
