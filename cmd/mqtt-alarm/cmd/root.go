package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/mqtt-alarm/internal/config"
	"github.com/oshokin/mqtt-alarm/internal/service/controller"
	"github.com/oshokin/mqtt-alarm/internal/version"
)

var (
	// configPath to the configuration YAML file, shared by all subcommands.
	configPath string
	// runOptions collects the controller flag overrides.
	runOptions controller.Options

	// rootCmd runs the alarm controller.
	rootCmd = &cobra.Command{
		Use:   "mqtt-alarm",
		Short: "Run the MQTT alarm controller.",
		Long: `Runs the alarm rule engine and state machine.

The controller subscribes to the control topic and to every trigger topic of
the configured modes, arms and disarms on control commands, runs start and
stop commands, and publishes notifications when an armed mode is triggered.

Status is published on the configured status topic and exposed through the
optional gRPC control API and HTTP status endpoint.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(command *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signalContext()
			defer stop()

			runOptions.ConfigPath = configPath
			runOptions.Subcommands = subcommandNames(command)

			return controller.Run(ctx, &runOptions)
		},
	}
)

// Execute runs the mqtt-alarm CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// subcommandNames lists the names and aliases of the operator commands.
func subcommandNames(command *cobra.Command) []string {
	var names []string

	for _, sub := range command.Commands() {
		names = append(names, sub.Name())
		names = append(names, sub.Aliases...)
	}

	return names
}

// signalContext returns a context canceled on SIGTERM or SIGINT.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.PersistentFlags().
		StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")

	flags := rootCmd.Flags()
	flags.StringVarP(&runOptions.StateFile, "state-file", "s", "", "persist the last alarm mode to this file")
	flags.StringVar(&runOptions.LogLevel, "log-level", "", "override the configured log level")
	flags.StringVar(&runOptions.LogFormat, "log-format", "", "override the configured log format (console, json)")
	flags.StringVar(&runOptions.GRPCListen, "grpc-listen", "", "override the control API listen address")
	flags.StringVar(&runOptions.HTTPListen, "http-listen", "", "override the status and metrics listen address")
	flags.BoolVar(&runOptions.AllowMultiple, "allow-multiple", false, "skip the single instance check")

	rootCmd.AddCommand(
		newStatusCommand(),
		newArmCommand(),
		newDisarmCommand(),
		newChallengeCommand(),
		newDeactivateCommand(),
	)
}
