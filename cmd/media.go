package cmd

import (
	"context"

	"github.com/metal-toolbox/vbmc/internal/dispatcher"
	"github.com/metal-toolbox/vbmc/internal/model"
	"github.com/spf13/cobra"
)

var cmdMedia = &cobra.Command{
	Use:   "media <id>",
	Short: "List the virtual media slots of a System",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, cmdArgs []string) error {
		return runOutcome(cmd, func(ctx context.Context, e *emulator) *model.Outcome {
			return e.dispatcher.Dispatch(ctx, dispatcher.ListMedia(), systemRef(cmdArgs[0]))
		})
	},
}

var cmdMediaInsert = &cobra.Command{
	Use:   "insert <id> <slot> <image-uri>",
	Short: "Insert an image into a virtual media slot (cd0, floppy0)",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, cmdArgs []string) error {
		return runOutcome(cmd, func(ctx context.Context, e *emulator) *model.Outcome {
			return e.dispatcher.Dispatch(ctx, dispatcher.InsertMedia(cmdArgs[1], cmdArgs[2]), systemRef(cmdArgs[0]))
		})
	},
}

var cmdMediaEject = &cobra.Command{
	Use:   "eject <id> <slot>",
	Short: "Eject the image of a virtual media slot",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, cmdArgs []string) error {
		return runOutcome(cmd, func(ctx context.Context, e *emulator) *model.Outcome {
			return e.dispatcher.Dispatch(ctx, dispatcher.EjectMedia(cmdArgs[1]), systemRef(cmdArgs[0]))
		})
	},
}

func init() {
	cmdMedia.AddCommand(cmdMediaInsert)
	cmdMedia.AddCommand(cmdMediaEject)

	rootCmd.AddCommand(cmdMedia)
}
