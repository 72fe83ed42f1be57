package loader

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pingPact = `{
  "consumer": {"name": "c"},
  "provider": {"name": "p"},
  "interactions": [
    {
      "type": "Synchronous/HTTP",
      "description": "ping",
      "request": {"method": "GET", "path": "/ping"},
      "response": {"status": 200}
    }
  ]
}`

const statefulPact = `{
  "consumer": {"name": "c"},
  "provider": {"name": "p"},
  "interactions": [
    {
      "type": "Synchronous/HTTP",
      "description": "logged in",
      "providerStates": [{"name": "logged-in"}],
      "request": {"method": "GET", "path": "/a"},
      "response": {"status": 200}
    },
    {
      "type": "Synchronous/HTTP",
      "description": "guest",
      "providerStates": [{"name": "guest"}],
      "request": {"method": "GET", "path": "/b"},
      "response": {"status": 200}
    },
    {
      "type": "Synchronous/HTTP",
      "description": "stateless",
      "request": {"method": "GET", "path": "/c"},
      "response": {"status": 200}
    }
  ]
}`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "ping.json", pingPact)

	set, err := Load(context.Background(), Options{Files: []string{path}})
	require.NoError(t, err)
	require.Equal(t, 1, set.Len())
	assert.Equal(t, "ping.json:0", set.Interactions[0].ID)
}

func TestLoadFileMissing(t *testing.T) {
	_, err := Load(context.Background(), Options{Files: []string{"/does/not/exist.json"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/does/not/exist.json")
}

func TestLoadFileUnparseable(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "broken.json", "{nope")

	_, err := Load(context.Background(), Options{Files: []string{path}})
	require.Error(t, err)
}

func TestLoadDirRecursive(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "nested")
	require.NoError(t, os.MkdirAll(sub, 0o755))

	writeFile(t, dir, "b.json", pingPact)
	writeFile(t, dir, "ignored.txt", "not a pact")
	writeFile(t, sub, "a.json", statefulPact)

	set, err := Load(context.Background(), Options{Dirs: []string{dir}})
	require.NoError(t, err)
	// b.json has 1 interaction, nested/a.json has 3.
	assert.Equal(t, 4, set.Len())

	// Files load in sorted path order: "b.json" sorts before "nested/".
	assert.Equal(t, "b.json:0", set.Interactions[0].ID)
}

func TestLoadURL(t *testing.T) {
	var sawAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(pingPact))
	}))
	defer srv.Close()

	set, err := Load(context.Background(), Options{
		URLs:  []string{srv.URL + "/pact.json"},
		Token: "secret",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, set.Len())
	assert.Equal(t, "Bearer secret", sawAuth)
}

func TestLoadURLBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := Load(context.Background(), Options{URLs: []string{srv.URL}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status")
}

func TestLoadBroker(t *testing.T) {
	mux := http.NewServeMux()
	var brokerURL string

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"_links": {"pb:latest-pact-versions": {"href": "` + brokerURL + `/pacts/latest"}}}`))
	})
	mux.HandleFunc("/pacts/latest", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"_links": {"pb:pacts": [
			{"href": "` + brokerURL + `/pacts/one", "name": "one"},
			{"href": "` + brokerURL + `/pacts/two", "name": "two"}
		]}}`))
	})
	mux.HandleFunc("/pacts/one", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(pingPact))
	})
	mux.HandleFunc("/pacts/two", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(statefulPact))
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()
	brokerURL = srv.URL

	set, err := Load(context.Background(), Options{BrokerURL: srv.URL, User: "u", Password: "p"})
	require.NoError(t, err)
	assert.Equal(t, 4, set.Len())
}

func TestLoadBrokerMissingLink(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"_links": {}}`))
	}))
	defer srv.Close()

	_, err := Load(context.Background(), Options{BrokerURL: srv.URL})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "latest-pact-versions")
}

func TestProviderStateLoadFilter(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "stateful.json", statefulPact)

	set, err := Load(context.Background(), Options{
		Files:         []string{path},
		ProviderState: regexp.MustCompile("^logged-in$"),
	})
	require.NoError(t, err)
	require.Equal(t, 1, set.Len())
	assert.Equal(t, "logged in", set.Interactions[0].Description)
}

func TestProviderStateLoadFilterIncludesEmpty(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "stateful.json", statefulPact)

	set, err := Load(context.Background(), Options{
		Files:              []string{path},
		ProviderState:      regexp.MustCompile("^logged-in$"),
		EmptyProviderState: true,
	})
	require.NoError(t, err)
	require.Equal(t, 2, set.Len())
	assert.Equal(t, "logged in", set.Interactions[0].Description)
	assert.Equal(t, "stateless", set.Interactions[1].Description)
}
