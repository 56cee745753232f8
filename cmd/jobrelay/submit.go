package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/aescanero/jobrelay/internal/application/orchestrator"
	"github.com/aescanero/jobrelay/internal/config"
	"github.com/aescanero/jobrelay/pkg/domain"
	prom "github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// runSubmit runs one message file through the relay and prints the report.
// It returns the process exit code.
func runSubmit(cfg *config.Config, logger *zap.Logger, args []string, out io.Writer) int {
	fs := flag.NewFlagSet("submit", flag.ContinueOnError)
	file := fs.String("f", "", "path to the message file (- for stdin)")
	dryRun := fs.Bool("dry-run", false, "build the submission payload without submitting it")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *file == "" {
		fmt.Fprintln(os.Stderr, "submit: -f is required")
		fs.Usage()
		return 2
	}

	msg, err := readMessage(*file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "submit: %v\n", err)
		return 1
	}

	ctx := context.Background()
	// One-shot runs do not expose metrics
	r, err := buildRelay(ctx, cfg, prom.NewRegistry(), logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "submit: %v\n", err)
		return 1
	}
	defer r.close(logger)

	report := r.orchestrator.Run(ctx, msg, orchestrator.RunOptions{DryRun: *dryRun})
	if err := writeReport(out, report); err != nil {
		fmt.Fprintf(os.Stderr, "submit: %v\n", err)
		return 1
	}

	if !report.Succeeded() {
		return 1
	}
	return 0
}

// readMessage loads a message file, - meaning stdin
func readMessage(path string) (domain.Message, error) {
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
		return domain.Message{}, fmt.Errorf("failed to read message: %w", err)
	}
	return domain.ParseMessage(data), nil
}

func writeReport(out io.Writer, report *domain.Report) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
