package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bjaus/contract"
	"github.com/bjaus/contract/internal/specfile"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	RestyPrefix string
	Resty       bool
}

// ValidationResult is the JSON payload of a successful validation.
type ValidationResult struct {
	Valid      bool            `json:"valid"`
	Title      string          `json:"title,omitempty"`
	Version    string          `json:"version,omitempty"`
	Operations []OperationInfo `json:"operations"`
}

// OperationInfo describes one loaded operation.
type OperationInfo struct {
	Method  string `json:"method"`
	Path    string `json:"path"`
	Handler string `json:"handler"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate <spec>",
		Short: "Check that a document loads",
		Long: `Load a Swagger 2.0 (or OpenAPI 3) document the way the server does.

Every reference must resolve, every operation must have a handler
identifier, and no two path templates may match the same request.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Resty, "resty", false, "derive handler identifiers from paths")
	cmd.Flags().StringVar(&opts.RestyPrefix, "resty-prefix", "", "prefix for derived handler identifiers")

	return cmd
}

func runValidate(opts *ValidateOptions, path string, cmd *cobra.Command) error {
	f := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	doc, err := specfile.Read(cmd.Context(), path)
	if err != nil {
		return outputValidateError(f, err, ExitCommandError)
	}

	var loadOpts []contract.LoadOption
	if opts.Resty {
		loadOpts = append(loadOpts, contract.WithResolver(contract.RestyResolver(opts.RestyPrefix)))
	}
	spec, err := contract.Load(doc, loadOpts...)
	if err != nil {
		return outputValidateError(f, err, ExitFailure)
	}

	result := ValidationResult{
		Valid:      true,
		Title:      spec.Title,
		Version:    spec.Version,
		Operations: make([]OperationInfo, len(spec.Operations)),
	}
	for i, op := range spec.Operations {
		result.Operations[i] = OperationInfo{Method: op.Method, Path: op.Path, Handler: op.ID}
		f.VerboseLog("%-7s %s -> %s", op.Method, op.Path, op.ID)
	}

	if f.Format == "json" {
		return f.JSON(CLIResponse{Status: "ok", Data: result})
	}
	fmt.Fprintf(f.Writer, "✓ %s is valid (%d operations)\n", path, len(spec.Operations))
	return nil
}

func outputValidateError(f *OutputFormatter, err error, code int) error {
	cliErr := &CLIError{Message: err.Error()}
	var le *contract.SpecLoadError
	if errors.As(err, &le) {
		cliErr.Pointer = le.Pointer
	}

	if f.Format == "json" {
		//nolint:errcheck // the exit error carries the failure
		f.JSON(CLIResponse{Status: "error", Error: cliErr})
	} else {
		fmt.Fprintf(f.Writer, "✗ %s\n", err)
	}
	return WrapExitError(code, "validation failed", err)
}
