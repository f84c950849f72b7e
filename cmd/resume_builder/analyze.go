package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/jonathan/resume-builder/internal/db"
	"github.com/jonathan/resume-builder/internal/workflow"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Extract requirements and keywords from a job description",
	Long:  "Run requirement extraction on a job description file (or stdin with --in -) and print the analysis as JSON. Nothing is stored.",
	RunE:  runAnalyze,
}

var (
	analyzeInputFile  string
	analyzeOutputFile string
	analyzeRole       string
	analyzeCompany    string
)

func init() {
	analyzeCmd.Flags().StringVarP(&analyzeInputFile, "in", "i", "", "Path to the job description text, or - for stdin (required)")
	analyzeCmd.Flags().StringVarP(&analyzeOutputFile, "out", "o", "", "Path to output JSON file (default: stdout)")
	analyzeCmd.Flags().StringVar(&analyzeRole, "role", "", "Job role")
	analyzeCmd.Flags().StringVar(&analyzeCompany, "company", "", "Company name")
	_ = analyzeCmd.MarkFlagRequired("in")

	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	description, err := readInput(analyzeInputFile)
	if err != nil {
		return err
	}

	ctx := context.Background()
	gateway, err := openGateway(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = gateway.Close() }()

	// no session is bound, so the store is never written
	svc := workflow.New(db.NewMemory(), gateway)
	result, err := svc.AnalyzeJob(ctx, "cli", workflow.AnalyzeRequest{
		JobDescription: description,
		JobRole:        analyzeRole,
		CompanyName:    analyzeCompany,
	})
	if err != nil {
		return fmt.Errorf("failed to analyze job description: %w", err)
	}

	if err := writeOutput(analyzeOutputFile, result.JobAnalysis); err != nil {
		return err
	}
	if result.Error != "" {
		_, _ = fmt.Fprintf(os.Stderr, "Warning: %s\n", result.Error)
	}
	return nil
}

// readInput reads path, with "-" meaning stdin
func readInput(path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read input file: %w", err)
	}
	return string(data), nil
}

// writeOutput writes v as indented JSON to path, or stdout when path is empty
func writeOutput(path string, v any) error {
	jsonBytes, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	if path == "" {
		_, err = fmt.Fprintln(os.Stdout, string(jsonBytes))
		return err
	}
	if err := os.WriteFile(path, jsonBytes, 0644); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}
	_, _ = fmt.Fprintf(os.Stdout, "Output: %s\n", path)
	return nil
}
