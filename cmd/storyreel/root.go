package main

import "github.com/spf13/cobra"

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}
	root := &cobra.Command{
		Use:           "storyreel",
		Short:         "Turn written stories into narrated, illustrated video packages",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if !needsConfig(cmd) {
				return nil
			}
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, _ []string) error { return cmd.Help() },
	}
	ctx.bindFlags(root)

	root.AddCommand(
		newAddCommand(ctx),
		newProcessCommand(ctx),
		newQueueCommand(ctx),
		newLogsCommand(ctx),
		newStatusCommand(ctx),
		newTestNotifyCommand(ctx),
		newConfigCommand(ctx),
	)
	return root
}
