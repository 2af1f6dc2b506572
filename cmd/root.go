package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"hyperregistry/internal/api"
)

// Exit codes for CLI commands, stable for scripting.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeValidation indicates the input violated schema or invariants.
	ExitCodeValidation = 2
	// ExitCodeConflict indicates a uniqueness or dependents collision.
	ExitCodeConflict = 3
	// ExitCodeNotFound indicates the target id was absent.
	ExitCodeNotFound = 4
	// ExitCodeUnexpected indicates any other failure.
	ExitCodeUnexpected = 10
)

// rootCmd represents the base command for the hyperreg application.
var rootCmd = &cobra.Command{
	Use:   "hyperreg",
	Short: "Universal registry with real-time propagation",
	Long: `hyperreg is a catalog of versioned entries with facet search,
dependency resolution, change subscriptions, rule-driven propagation,
and hot-swappable versions.

The serve command runs the registry process; the other commands operate
on the store under the config directory (REGISTRY_CONFIG_DIR, default
~/.hyperreg).`,
	// SilenceUsage prevents cobra from printing usage on handled errors.
	SilenceUsage:  true,
	SilenceErrors: true,
}

// SetVersion sets the version for the root command. Called from main
// to inject the build version.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute runs the root command and exits with the semantic code for
// the error class.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "hyperreg version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		rootCmd.PrintErrln("Error:", err)
		os.Exit(getExitCode(err))
	}
}

// getExitCode maps the error taxonomy onto exit codes.
func getExitCode(err error) int {
	switch {
	case api.IsValidation(err):
		return ExitCodeValidation
	case api.IsConflict(err), api.IsDependentsExist(err):
		return ExitCodeConflict
	case api.IsNotFound(err):
		return ExitCodeNotFound
	default:
		return ExitCodeUnexpected
	}
}
