package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/metal-toolbox/vbmc/internal/model"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const (
	outputJSON = "json"
	outputYAML = "yaml"
)

var errOperationFailed = errors.New("operation failed")

func render(w io.Writer, format string, v any) error {
	switch format {
	case outputYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)

		if err := enc.Encode(v); err != nil {
			return err
		}

		return enc.Close()
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")

		return enc.Encode(v)
	}
}

// failure returns the error a command exits with for a failed outcome.
func failure(outcome *model.Outcome) error {
	if outcome.OK() {
		return nil
	}

	return errors.Wrapf(errOperationFailed, "%s: %s", outcome.Kind, outcome.Detail)
}

// runOutcome builds the emulator, runs fn against it and renders the outcome.
func runOutcome(cmd *cobra.Command, fn func(ctx context.Context, e *emulator) *model.Outcome) error {
	ctx, cancel := withSignals(cmd.Context())
	defer cancel()

	ctx, e, err := bootstrap(ctx, args)
	if err != nil {
		return err
	}

	defer e.Close(context.WithoutCancel(ctx))

	outcome := fn(ctx, e)
	if err := render(os.Stdout, args.Output, outcome); err != nil {
		return fmt.Errorf("render outcome: %w", err)
	}

	return failure(outcome)
}
