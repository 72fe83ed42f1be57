package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"regexp"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rannes/pact-stub-server/pkg/contract"
	"github.com/rannes/pact-stub-server/pkg/engine"
	"github.com/rannes/pact-stub-server/pkg/loader"
	"github.com/rannes/pact-stub-server/pkg/logging"
)

// Exit codes.
const (
	ExitOK          = 0
	ExitLoadFailure = 1
	ExitUsage       = 2
	ExitBindFailure = 3
)

// rootFlags is the package-level instance bound to cobra flags.
var rootFlags struct {
	files               []string
	dirs                []string
	urls                []string
	brokerURL           string
	user                string
	password            string
	token               string
	port                int
	loglevel            string
	cors                bool
	corsReferer         bool
	providerState       string
	providerStateHeader string
	emptyProviderState  bool
	insecureTLS         bool
	requestTimeout      time.Duration
	maxConnections      int
	watch               bool
}

var rootCmd = &cobra.Command{
	Use:   "pact-stub-server",
	Short: "Stub server that replays responses from pact contract files",
	Long: `pact-stub-server loads pact contract files and serves HTTP.

Every incoming request is matched against the loaded interactions; a
perfect match replays the interaction's canned response, anything else
is answered with 404 and a diagnostic body. Partial matches are never
served.`,
	Example: `  # Serve interactions from a directory of pact files
  pact-stub-server --dir ./pacts --port 8080

  # Load from a broker with a bearer token
  pact-stub-server --broker-url https://broker.example.com --token $TOKEN

  # Filter to logged-in interactions and enable CORS
  pact-stub-server --dir ./pacts --provider-state "logged.*" --cors`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	f := rootCmd.Flags()
	f.StringArrayVar(&rootFlags.files, "file", nil, "Pact contract file to load (repeatable)")
	f.StringArrayVar(&rootFlags.dirs, "dir", nil, "Directory to recursively load *.json contracts from (repeatable)")
	f.StringArrayVar(&rootFlags.urls, "url", nil, "URL to fetch a contract from (repeatable)")
	f.StringVar(&rootFlags.brokerURL, "broker-url", "", "Pact broker to fetch contracts from")
	f.StringVar(&rootFlags.user, "user", "", "Basic auth user for remote sources")
	f.StringVar(&rootFlags.password, "password", "", "Basic auth password for remote sources")
	f.StringVar(&rootFlags.token, "token", "", "Bearer token for remote sources")
	f.IntVarP(&rootFlags.port, "port", "p", 8080, "Port to listen on")
	f.StringVar(&rootFlags.loglevel, "loglevel", "info", "Log level (error, warn, info, debug, trace)")
	f.BoolVar(&rootFlags.cors, "cors", false, "Auto-respond to OPTIONS preflight and merge CORS headers")
	f.BoolVar(&rootFlags.corsReferer, "cors-referer", false, "Use the Referer header as the allowed CORS origin")
	f.StringVar(&rootFlags.providerState, "provider-state", "", "Only load interactions whose provider state matches this regex")
	f.StringVar(&rootFlags.providerStateHeader, "provider-state-header-name", engine.DefaultProviderStateHeader, "Header consulted for per-request provider state filtering")
	f.BoolVar(&rootFlags.emptyProviderState, "empty-provider-state", false, "Also keep interactions without provider states when filtering")
	f.BoolVar(&rootFlags.insecureTLS, "insecure-tls", false, "Disable TLS certificate verification when fetching contracts")
	f.DurationVar(&rootFlags.requestTimeout, "request-timeout", 0, "Per-request matching deadline (0 = unbounded)")
	f.IntVar(&rootFlags.maxConnections, "max-connections", 0, "Maximum concurrent connections (0 = unlimited)")
	f.BoolVar(&rootFlags.watch, "watch", false, "Watch contract files and directories and hot-reload on change")
}

// exitError carries a process exit code through cobra.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func exitWith(code int, err error) error {
	return &exitError{code: code, err: err}
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return ExitOK
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)

	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	// Anything cobra itself rejects is a parse failure.
	return ExitUsage
}

func runServe(ctx context.Context) error {
	log := logging.New(logging.Config{
		Level:  logging.ParseLevel(rootFlags.loglevel),
		Format: logging.FormatText,
	})

	if len(rootFlags.files) == 0 && len(rootFlags.dirs) == 0 &&
		len(rootFlags.urls) == 0 && rootFlags.brokerURL == "" {
		return exitWith(ExitUsage, errors.New("no contract sources given: use --file, --dir, --url or --broker-url"))
	}

	var stateRegex *regexp.Regexp
	if rootFlags.providerState != "" {
		re, err := regexp.Compile(rootFlags.providerState)
		if err != nil {
			return exitWith(ExitUsage, fmt.Errorf("invalid --provider-state regex: %w", err))
		}
		stateRegex = re
	}

	loadOpts := loader.Options{
		Files:              rootFlags.files,
		Dirs:               rootFlags.dirs,
		URLs:               rootFlags.urls,
		BrokerURL:          rootFlags.brokerURL,
		User:               rootFlags.user,
		Password:           rootFlags.password,
		Token:              rootFlags.token,
		InsecureTLS:        rootFlags.insecureTLS,
		ProviderState:      stateRegex,
		EmptyProviderState: rootFlags.emptyProviderState,
		Log:                log,
	}

	set, err := loader.Load(ctx, loadOpts)
	if err != nil {
		return exitWith(ExitLoadFailure, err)
	}

	cfg := engine.Config{
		Port:                rootFlags.port,
		AutoCORS:            rootFlags.cors,
		CORSReferer:         rootFlags.corsReferer,
		ProviderStateHeader: rootFlags.providerStateHeader,
		EmptyProviderState:  rootFlags.emptyProviderState,
		RequestTimeout:      rootFlags.requestTimeout,
		MaxConnections:      rootFlags.maxConnections,
	}
	if rootFlags.watch {
		cfg.WatchPaths = append(append([]string{}, rootFlags.files...), rootFlags.dirs...)
	}

	srv := engine.NewServer(cfg, set,
		engine.WithLogger(log),
		engine.WithReload(func(ctx context.Context) (*contract.Set, error) {
			return loader.Load(ctx, loadOpts)
		}),
	)

	if err := srv.Run(ctx); err != nil {
		if errors.Is(err, engine.ErrBind) {
			return exitWith(ExitBindFailure, err)
		}
		return exitWith(ExitLoadFailure, err)
	}
	return nil
}
