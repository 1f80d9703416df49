package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/oshokin/mqtt-alarm/internal/service/client"
)

// addressFlag registers the control API address override.
func addressFlag(command *cobra.Command, opts *client.Options) {
	command.Flags().StringVarP(&opts.Address, "address", "a", "", "control API address, defaults to grpcListen from config")
}

func newStatusCommand() *cobra.Command {
	opts := new(client.Options)

	command := &cobra.Command{
		Use:          "status",
		Short:        "Print the status of a running controller.",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(command *cobra.Command, _ []string) error {
			ctx, stop := signalContext()
			defer stop()

			opts.ConfigPath = configPath
			opts.Out = command.OutOrStdout()

			return client.RunStatus(ctx, opts)
		},
	}

	addressFlag(command, opts)
	command.Flags().BoolVarP(&opts.Watch, "watch", "w", false, "keep polling and print every change")
	command.Flags().DurationVar(&opts.PollInterval, "interval", client.DefaultPollInterval, "polling interval in watch mode")

	return command
}

func newArmCommand() *cobra.Command {
	opts := new(client.Options)

	command := &cobra.Command{
		Use:          "arm home|away",
		Short:        "Arm a running controller in the HOME or AWAY mode.",
		Args:         cobra.ExactArgs(1),
		ValidArgs:    []string{"home", "away"},
		SilenceUsage: true,
		RunE: func(command *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			opts.ConfigPath = configPath
			opts.Keyword = "ARM_" + strings.ToUpper(args[0])
			opts.Out = command.OutOrStdout()

			return client.RunCommand(ctx, opts)
		},
	}

	addressFlag(command, opts)
	command.Flags().IntVar(&opts.Attempts, "attempts", client.DefaultAttempts, "attempts while the controller is unavailable")

	return command
}

func newDisarmCommand() *cobra.Command {
	opts := new(client.Options)

	command := &cobra.Command{
		Use:          "disarm <pin>",
		Short:        "Disarm a running controller.",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(command *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			opts.ConfigPath = configPath
			opts.Keyword = "DISARM"
			opts.Pin = args[0]
			opts.Out = command.OutOrStdout()

			return client.RunCommand(ctx, opts)
		},
	}

	addressFlag(command, opts)
	command.Flags().IntVar(&opts.Attempts, "attempts", client.DefaultAttempts, "attempts while the controller is unavailable")

	return command
}

func newChallengeCommand() *cobra.Command {
	opts := new(client.Options)

	command := &cobra.Command{
		Use:          "challenge",
		Short:        "Request a disarm challenge from a running controller.",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(command *cobra.Command, _ []string) error {
			ctx, stop := signalContext()
			defer stop()

			opts.ConfigPath = configPath
			opts.Keyword = "DEACTIVATE_REQUEST"
			opts.Out = command.OutOrStdout()

			return client.RunCommand(ctx, opts)
		},
	}

	addressFlag(command, opts)
	command.Flags().IntVar(&opts.Attempts, "attempts", client.DefaultAttempts, "attempts while the controller is unavailable")

	return command
}

func newDeactivateCommand() *cobra.Command {
	opts := new(client.Options)

	command := &cobra.Command{
		Use:   "deactivate <answer>",
		Short: "Disarm a triggered controller by answering its challenge.",
		Long: "Disarm a triggered controller by answering its challenge.\n\n" +
			"Each answer digit is the challenge digit plus the pin digit, modulo 10.",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(command *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			opts.ConfigPath = configPath
			opts.Keyword = "DEACTIVATE"
			opts.Pin = args[0]
			opts.Out = command.OutOrStdout()

			return client.RunCommand(ctx, opts)
		},
	}

	addressFlag(command, opts)
	command.Flags().IntVar(&opts.Attempts, "attempts", client.DefaultAttempts, "attempts while the controller is unavailable")

	return command
}
