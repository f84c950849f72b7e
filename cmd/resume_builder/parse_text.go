package main

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jonathan/resume-builder/internal/workflow"
)

var parseTextCmd = &cobra.Command{
	Use:   "parse-text",
	Short: "Add a free-text fact to a user's knowledge graph",
	Long:  "Classify free text describing one project, job, credential or skill and merge it into the knowledge graph of the given user.",
	RunE:  runParseText,
}

var (
	parseTextUserID string
	parseTextInput  string
)

func init() {
	parseTextCmd.Flags().StringVar(&parseTextUserID, "user-id", "", "User whose knowledge graph is updated (required)")
	parseTextCmd.Flags().StringVarP(&parseTextInput, "in", "i", "", "Path to the text, or - for stdin (required)")
	_ = parseTextCmd.MarkFlagRequired("user-id")
	_ = parseTextCmd.MarkFlagRequired("in")

	rootCmd.AddCommand(parseTextCmd)
}

func runParseText(_ *cobra.Command, _ []string) error {
	if _, err := uuid.Parse(parseTextUserID); err != nil {
		return fmt.Errorf("invalid user-id: %w", err)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.MemoryStore {
		return fmt.Errorf("parse-text needs a persistent store; unset MEMORY_STORE")
	}

	text, err := readInput(parseTextInput)
	if err != nil {
		return err
	}

	ctx := context.Background()
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	gateway, err := openGateway(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = gateway.Close() }()

	locker, closeLocker, err := openLocker(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeLocker()

	svc := workflow.New(store, gateway, workflow.WithLocker(locker))
	result, err := svc.ParseText(ctx, parseTextUserID, text)
	if err != nil {
		return fmt.Errorf("failed to parse text: %w", err)
	}

	if err := writeOutput("", result); err != nil {
		return err
	}
	if result.Error != "" {
		_, _ = fmt.Fprintf(os.Stderr, "Warning: %s\n", result.Error)
	}
	return nil
}
