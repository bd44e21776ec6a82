package cli

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/spf13/cobra"

	"github.com/roach88/dersweep/internal/config"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid     bool           `json:"valid"`
	Procedure string         `json:"procedure,omitempty"`
	Params    map[string]any `json:"params,omitempty"`
	Errors    []string       `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <config>",
		Short: "Validate a run config without touching the bench",
		Long: `Validate a run config against the config schema, apply defaults and
check the procedure settings. Nothing is opened or written.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}

	cfg, err := config.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		_ = formatter.Error("NOT_FOUND", err.Error(), nil)
		return WrapExitError(ExitCommandError, "config not found", err)
	}
	if err != nil {
		return outputValidationError(formatter, err)
	}

	formatter.VerboseLog("output directory: %s", cfg.OutputDir)
	result := ValidationResult{Valid: true, Procedure: cfg.Procedure, Params: cfg.Params()}
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	fmt.Fprintf(formatter.Writer, "✓ Config valid: %s\n", cfg.Procedure)
	fmt.Fprintf(formatter.Writer, "  %s\n", formatArgs(result.Params))
	return nil
}

// outputValidationError reports a config that failed validation.
func outputValidationError(formatter *OutputFormatter, err error) error {
	code := "INVALID_CONFIG"
	if config.IsSchemaError(err) {
		code = "SCHEMA"
	}

	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data:   ValidationResult{Valid: false, Errors: []string{err.Error()}},
			Error:  &CLIError{Code: code, Message: err.Error()},
		}
		if encErr := formatter.encode(response); encErr != nil {
			return encErr
		}
	} else {
		fmt.Fprintln(formatter.Writer, "✗ Validation failed")
		fmt.Fprintf(formatter.Writer, "  %s: %s\n", code, err)
	}

	// Validation failures = exit code 1
	return WrapExitError(ExitFailure, "validation failed", err)
}
