package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/metal-toolbox/vbmc/internal/dispatcher"
	"github.com/metal-toolbox/vbmc/internal/model"
	"github.com/spf13/cobra"
)

var cmdPower = &cobra.Command{
	Use:   "power <id> [reset-type]",
	Short: "Show the power state of a System or apply a reset",
	Long: fmt.Sprintf(
		"Show the power state of a System, or apply one of the reset types: %s",
		strings.Join(resetTypeNames(), ", "),
	),
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, cmdArgs []string) error {
		op := dispatcher.GetPowerState()
		if len(cmdArgs) == 2 {
			op = dispatcher.SetPowerState(cmdArgs[1])
		}

		return runOutcome(cmd, func(ctx context.Context, e *emulator) *model.Outcome {
			return e.dispatcher.Dispatch(ctx, op, systemRef(cmdArgs[0]))
		})
	},
}

func resetTypeNames() []string {
	names := []string{}
	for _, r := range model.ResetTypes() {
		names = append(names, string(r))
	}

	return names
}

func init() {
	rootCmd.AddCommand(cmdPower)
}
