package cmd

import (
	"context"

	"github.com/metal-toolbox/vbmc/internal/dispatcher"
	"github.com/metal-toolbox/vbmc/internal/model"
	"github.com/spf13/cobra"
)

var (
	bootEnabled string
	bootMode    string
)

var cmdBoot = &cobra.Command{
	Use:   "boot <id> [target]",
	Short: "Show the boot source override of a System or set it to Pxe, Hdd, Cd, Floppy or None",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, cmdArgs []string) error {
		op := dispatcher.GetBoot()
		if len(cmdArgs) == 2 {
			op = dispatcher.SetBoot(cmdArgs[1], bootEnabled, bootMode)
		}

		return runOutcome(cmd, func(ctx context.Context, e *emulator) *model.Outcome {
			return e.dispatcher.Dispatch(ctx, op, systemRef(cmdArgs[0]))
		})
	},
}

func init() {
	cmdBoot.Flags().StringVar(&bootEnabled, "enabled", string(model.BootOverrideOnce), "override lifetime - Once, Continuous, Disabled")
	cmdBoot.Flags().StringVar(&bootMode, "mode", "", "boot mode - UEFI, Legacy (default keeps the current mode)")

	rootCmd.AddCommand(cmdBoot)
}
