package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"

	"github.com/bjaus/contract"
	"github.com/bjaus/contract/internal/config"
	"github.com/bjaus/contract/internal/specfile"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	ConfigPath string
	Config     *config.Config
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts, Config: config.Default()}

	cmd := &cobra.Command{
		Use:   "run [spec]",
		Short: "Serve a document with mock or stub handlers",
		Long: `Serve every operation of a document without application code.

In mock mode operations answer with their declared examples, or values
generated from their response schemas. In stub mode they answer 501.
Requests are routed, authenticated and validated exactly as they would be
with real handlers; security schemes accept any credential that is present.

The document is also served at <basePath>/swagger.json and
<basePath>/swagger.yaml, and with --docs a console at <basePath>/ui.

Example:
  contract run ./petstore.yaml
  contract run --config ./contract.toml --listen :9090`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(opts, cmd, args)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, newLogger(cfg.Log, opts.Verbose))
		},
	}

	addRunFlags(cmd, opts)

	return cmd
}

func addRunFlags(cmd *cobra.Command, opts *RunOptions) {
	c := opts.Config
	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to a TOML configuration file")
	cmd.Flags().StringVar(&c.Listen, "listen", c.Listen, "address to listen on")
	cmd.Flags().StringVar(&c.Mode, "mode", c.Mode, "answer operations with mock responses or 501 stubs (mock|stub)")
	cmd.Flags().BoolVar(&c.StrictParams, "strict-validation", false, "reject undeclared query and form parameters")
	cmd.Flags().BoolVar(&c.StrictResponses, "strict-responses", false, "fail requests whose responses do not match the document")
	cmd.Flags().BoolVar(&c.Docs, "docs", false, "serve an interactive console")
	cmd.Flags().Int64Var(&c.BodyLimit, "body-limit", 0, "maximum request body size in bytes (0 for no limit)")
}

// resolveConfig loads the configuration file, then applies the flags the
// user set explicitly and the spec argument.
func resolveConfig(opts *RunOptions, cmd *cobra.Command, args []string) (*config.Config, error) {
	cfg := opts.Config
	if opts.ConfigPath != "" {
		fileCfg, err := config.Load(opts.ConfigPath)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "load config", err)
		}
		flags := cmd.Flags()
		if flags.Changed("listen") {
			fileCfg.Listen = cfg.Listen
		}
		if flags.Changed("mode") {
			fileCfg.Mode = cfg.Mode
		}
		if flags.Changed("strict-validation") {
			fileCfg.StrictParams = cfg.StrictParams
		}
		if flags.Changed("strict-responses") {
			fileCfg.StrictResponses = cfg.StrictResponses
		}
		if flags.Changed("docs") {
			fileCfg.Docs = cfg.Docs
		}
		if flags.Changed("body-limit") {
			fileCfg.BodyLimit = cfg.BodyLimit
		}
		cfg = fileCfg
	}
	if len(args) > 0 {
		cfg.Spec = args[0]
	}
	if err := cfg.Validate(); err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	return cfg, nil
}

func newLogger(c config.Log, verbose bool) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil || verbose {
		level = slog.LevelDebug
	}
	hopts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, hopts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, hopts))
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	h, spec, err := NewServer(ctx, cfg, logger)
	if err != nil {
		return err
	}

	logger.Info("serving",
		"addr", cfg.Listen,
		"title", spec.Title,
		"operations", len(spec.Operations),
		"mode", cfg.Mode,
	)
	if err := contract.ListenAndServe(ctx, cfg.Listen, h); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return WrapExitError(ExitFailure, "server error", err)
	}
	logger.Info("server stopped")
	return nil
}

// NewServer builds the HTTP handler for cfg: the dispatcher for the
// document's operations, the document itself, and a health check.
func NewServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (http.Handler, *contract.Spec, error) {
	doc, err := specfile.Read(ctx, cfg.Spec)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "read spec", err)
	}

	var loadOpts []contract.LoadOption
	if cfg.Resolver == "resty" {
		loadOpts = append(loadOpts, contract.WithResolver(contract.RestyResolver(cfg.RestyPrefix)))
	}
	spec, err := contract.Load(doc, loadOpts...)
	if err != nil {
		return nil, nil, WrapExitError(ExitFailure, "load spec", err)
	}

	opts := []contract.RouterOption{
		contract.WithLogger(logger),
		contract.WithBodyLimit(cfg.BodyLimit),
		contract.WithHandlerTimeout(cfg.HandlerTimeoutDuration()),
		contract.WithVerifierTimeout(cfg.VerifierTimeoutDuration()),
	}
	if cfg.Mode == config.ModeStub {
		opts = append(opts, contract.WithStubs())
	} else {
		opts = append(opts, contract.WithMocks())
	}
	if cfg.StrictParams {
		opts = append(opts, contract.WithStrictValidation())
	}
	if cfg.StrictResponses {
		opts = append(opts, contract.WithStrictResponseValidation())
	}
	if cfg.RateLimit.Rate > 0 {
		opts = append(opts, contract.WithRateLimit(contract.RateLimitConfig{
			Rate:  cfg.RateLimit.Rate,
			Burst: cfg.RateLimit.Burst,
		}))
	}

	r, err := contract.New(spec, opts...)
	if err != nil {
		return nil, nil, WrapExitError(ExitFailure, "configure router", err)
	}
	r.Use(contract.RequestID(), contract.Logger(logger), contract.Recovery())
	if len(cfg.CORS.AllowOrigins) > 0 {
		r.Use(contract.CORS(spec, contract.CORSConfig{
			AllowOrigins: cfg.CORS.AllowOrigins,
			AllowHeaders: []string{"Content-Type", "Authorization"},
			MaxAge:       cfg.CORS.MaxAge,
		}))
	}

	mux := chi.NewRouter()
	mux.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	base := strings.TrimSuffix(spec.BasePath, "/")
	mux.Method(http.MethodGet, base+"/swagger.json", contract.SpecHandler(spec, contract.FormatJSON))
	mux.Method(http.MethodGet, base+"/swagger.yaml", contract.SpecHandler(spec, contract.FormatYAML))
	if cfg.Docs {
		mux.Method(http.MethodGet, base+"/ui", contract.DocsHandler(spec, base+"/swagger.json"))
	}
	mux.NotFound(r.ServeHTTP)
	mux.MethodNotAllowed(r.ServeHTTP)

	return mux, spec, nil
}
