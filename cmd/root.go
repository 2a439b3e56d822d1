package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/papapumpkin/pulsar/internal/plan"
)

var rootCmd = &cobra.Command{
	Use:   "pulsar",
	Short: "Plan graph execution engine",
	Long: `Pulsar executes plan directories: dependency-ordered steps whose code
variants run in an expression sandbox, committing their declared outputs
to a versioned variable store until the plan succeeds, fails, or is
stopped.`,
	RunE: runRootDefault,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default .pulsar.toml)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output")
}

func initConfig() {
	if cfgFile, _ := rootCmd.Flags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName(".pulsar")
		viper.SetConfigType("toml")
		viper.AddConfigPath(".")
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
	}

	viper.SetEnvPrefix("PULSAR")
	viper.AutomaticEnv()

	// It's fine if no config file is found; we use defaults.
	_ = viper.ReadInConfig()
}

// runRootDefault shows the plan overview when the cwd is a plan directory.
// Anywhere else it falls back to help.
func runRootDefault(cmd *cobra.Command, args []string) error {
	wd, err := os.Getwd()
	if err != nil {
		return cmd.Help()
	}
	if _, err := os.Stat(filepath.Join(wd, plan.ManifestFileName)); os.IsNotExist(err) {
		return cmd.Help()
	}
	// Delegate to the show subcommand.
	return runShow(showCmd, []string{wd})
}

// colorDisabled honors the NO_COLOR convention for the summary views.
func colorDisabled() bool {
	return os.Getenv("NO_COLOR") != ""
}

// planDirArg resolves the optional plan directory argument, defaulting to
// the current directory.
func planDirArg(args []string) (string, error) {
	dir := "."
	if len(args) > 0 {
		dir = args[0]
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving plan directory: %w", err)
	}
	return abs, nil
}
