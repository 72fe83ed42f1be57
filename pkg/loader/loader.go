package loader

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/rannes/pact-stub-server/pkg/contract"
	"github.com/rannes/pact-stub-server/pkg/logging"
)

// Options configures a load run.
type Options struct {
	// Files, Dirs and URLs are pact sources, loaded in that order.
	Files []string
	Dirs  []string
	URLs  []string

	// BrokerURL enables loading from a pact broker.
	BrokerURL string

	// User and Password enable basic auth on remote fetches; Token sets
	// a bearer token instead. Token wins when both are given.
	User     string
	Password string
	Token    string

	// InsecureTLS disables TLS certificate verification on remote
	// fetches.
	InsecureTLS bool

	// ProviderState filters interactions at load time: only
	// interactions with at least one state matching the regex are kept.
	ProviderState *regexp.Regexp

	// EmptyProviderState additionally keeps interactions with no
	// provider states (or an empty-name state) when filtering.
	EmptyProviderState bool

	// HTTPClient overrides the client used for URL and broker fetches.
	HTTPClient *http.Client

	Log *slog.Logger
}

// Load reads every configured source and returns the combined,
// immutable contract set. Order is preserved: files, then directories,
// then URLs, then broker pacts; it becomes the index tie-break order.
func Load(ctx context.Context, opts Options) (*contract.Set, error) {
	log := opts.Log
	if log == nil {
		log = logging.Nop()
	}

	var pacts []*contract.Pact

	for _, file := range opts.Files {
		p, err := loadFile(file)
		if err != nil {
			return nil, err
		}
		pacts = append(pacts, p)
	}

	for _, dir := range opts.Dirs {
		dirPacts, err := loadDir(dir)
		if err != nil {
			return nil, err
		}
		pacts = append(pacts, dirPacts...)
	}

	client := opts.httpClient()
	for _, u := range opts.URLs {
		p, err := loadURL(ctx, client, opts, u)
		if err != nil {
			return nil, err
		}
		pacts = append(pacts, p)
	}

	if opts.BrokerURL != "" {
		brokerPacts, err := loadBroker(ctx, client, opts, log)
		if err != nil {
			return nil, err
		}
		pacts = append(pacts, brokerPacts...)
	}

	set := contract.NewSet(pacts)
	set = filterSet(set, opts.ProviderState, opts.EmptyProviderState, log)

	log.Info("contracts loaded", "pacts", len(pacts), "interactions", set.Len())
	return set, nil
}

func loadFile(path string) (*contract.Pact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading contract %s: %w", path, err)
	}
	return contract.ParsePact(data, filepath.Base(path))
}

func loadDir(dir string) ([]*contract.Pact, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".json") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning contract directory %s: %w", dir, err)
	}
	sort.Strings(files)

	var pacts []*contract.Pact
	for _, f := range files {
		p, err := loadFile(f)
		if err != nil {
			return nil, err
		}
		pacts = append(pacts, p)
	}
	return pacts, nil
}

func loadURL(ctx context.Context, client *http.Client, opts Options, rawURL string) (*contract.Pact, error) {
	data, err := fetch(ctx, client, opts, rawURL, "")
	if err != nil {
		return nil, err
	}
	return contract.ParsePact(data, rawURL)
}

// fetch performs an authenticated GET. accept overrides the Accept
// header for HAL endpoints.
func fetch(ctx context.Context, client *http.Client, opts Options, rawURL, accept string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetching contract %s: %w", rawURL, err)
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	switch {
	case opts.Token != "":
		req.Header.Set("Authorization", "Bearer "+opts.Token)
	case opts.User != "":
		req.SetBasicAuth(opts.User, opts.Password)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching contract %s: %w", rawURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching contract %s: unexpected status %s", rawURL, resp.Status)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading contract %s: %w", rawURL, err)
	}
	return data, nil
}

func (o Options) httpClient() *http.Client {
	if o.HTTPClient != nil {
		return o.HTTPClient
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if o.InsecureTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in via --insecure-tls
	}
	return &http.Client{Transport: transport, Timeout: 30 * time.Second}
}

// filterSet applies the load-time provider state filter.
func filterSet(set *contract.Set, state *regexp.Regexp, includeEmpty bool, log *slog.Logger) *contract.Set {
	if state == nil {
		return set
	}

	filtered := &contract.Set{}
	for _, in := range set.Interactions {
		if stateMatches(in, state, includeEmpty) {
			filtered.Interactions = append(filtered.Interactions, in)
		} else {
			log.Debug("interaction filtered out by provider state",
				"id", in.ID, "states", in.StateNames())
		}
	}
	return filtered
}

func stateMatches(in *contract.Interaction, state *regexp.Regexp, includeEmpty bool) bool {
	if len(in.ProviderStates) == 0 {
		return includeEmpty
	}
	for _, ps := range in.ProviderStates {
		if includeEmpty && ps.Name == "" {
			return true
		}
		if state.MatchString(ps.Name) {
			return true
		}
	}
	return false
}
