package cmd

import (
	"context"
	"os"
	"sort"

	"github.com/metal-toolbox/vbmc/internal/dispatcher"
	"github.com/metal-toolbox/vbmc/internal/model"
	"github.com/spf13/cobra"
)

var cmdSystems = &cobra.Command{
	Use:   "systems",
	Short: "List the Systems published by a driver",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runOutcome(cmd, func(ctx context.Context, e *emulator) *model.Outcome {
			return e.dispatcher.Systems(ctx, args.Driver)
		})
	},
}

var cmdSystem = &cobra.Command{
	Use:   "system <id>",
	Short: "Show a System, add --inventory for its hardware description",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, cmdArgs []string) error {
		op := dispatcher.GetSystem()
		if inventory {
			op = dispatcher.GetInventory()
		}

		return runOutcome(cmd, func(ctx context.Context, e *emulator) *model.Outcome {
			return e.dispatcher.Dispatch(ctx, op, systemRef(cmdArgs[0]))
		})
	},
}

var cmdCheck = &cobra.Command{
	Use:   "check",
	Short: "Connect to every configured driver and report its health",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := withSignals(cmd.Context())
		defer cancel()

		ctx, e, err := bootstrap(ctx, args)
		if err != nil {
			return err
		}

		defer e.Close(context.WithoutCancel(ctx))

		outcomes := e.dispatcher.Check(ctx)
		if err := render(os.Stdout, args.Output, outcomes); err != nil {
			return err
		}

		tags := make([]string, 0, len(outcomes))
		for tag := range outcomes {
			tags = append(tags, tag)
		}

		sort.Strings(tags)

		for _, tag := range tags {
			if err := failure(outcomes[tag]); err != nil {
				return err
			}
		}

		return nil
	},
}

var inventory bool

func systemRef(id string) dispatcher.SystemRef {
	return dispatcher.SystemRef{Driver: args.Driver, ID: id}
}

func init() {
	cmdSystem.Flags().BoolVar(&inventory, "inventory", false, "show the hardware inventory of the System")

	rootCmd.AddCommand(cmdSystems)
	rootCmd.AddCommand(cmdSystem)
	rootCmd.AddCommand(cmdCheck)
}
