package loader

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/rannes/pact-stub-server/pkg/contract"
)

const halJSON = "application/hal+json"

// halDocument is the subset of a broker HAL response that gets
// traversed: named links, each either a single link or a list.
type halDocument struct {
	Links map[string]json.RawMessage `json:"_links"`
}

type halLink struct {
	Href  string `json:"href"`
	Name  string `json:"name"`
	Title string `json:"title"`
}

// loadBroker fetches the latest pact version of every provider known to
// the broker: index -> pb:latest-pact-versions -> pb:pacts.
func loadBroker(ctx context.Context, client *http.Client, opts Options, log *slog.Logger) ([]*contract.Pact, error) {
	root, err := fetchHAL(ctx, client, opts, opts.BrokerURL)
	if err != nil {
		return nil, err
	}

	latest, ok := root.link("pb:latest-pact-versions", "latest-pact-versions")
	if !ok {
		return nil, fmt.Errorf("broker %s: no latest-pact-versions link in index", opts.BrokerURL)
	}

	listing, err := fetchHAL(ctx, client, opts, latest.Href)
	if err != nil {
		return nil, err
	}

	pactLinks, err := listing.linkList("pb:pacts", "pacts")
	if err != nil {
		return nil, fmt.Errorf("broker %s: %w", opts.BrokerURL, err)
	}

	var pacts []*contract.Pact
	for _, link := range pactLinks {
		log.Debug("fetching pact from broker", "href", link.Href, "name", link.Name)
		data, err := fetch(ctx, client, opts, link.Href, halJSON)
		if err != nil {
			return nil, err
		}
		p, err := contract.ParsePact(data, link.Href)
		if err != nil {
			return nil, err
		}
		pacts = append(pacts, p)
	}

	log.Info("broker pacts loaded", "broker", opts.BrokerURL, "count", len(pacts))
	return pacts, nil
}

func fetchHAL(ctx context.Context, client *http.Client, opts Options, url string) (*halDocument, error) {
	data, err := fetch(ctx, client, opts, url, halJSON)
	if err != nil {
		return nil, err
	}
	var doc halDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing broker response from %s: %w", url, err)
	}
	return &doc, nil
}

// link resolves the first present name to a single link.
func (d *halDocument) link(names ...string) (halLink, bool) {
	for _, name := range names {
		raw, ok := d.Links[name]
		if !ok {
			continue
		}
		var l halLink
		if err := json.Unmarshal(raw, &l); err == nil && l.Href != "" {
			return l, true
		}
	}
	return halLink{}, false
}

// linkList resolves the first present name to a link list, accepting a
// single link as a one-element list.
func (d *halDocument) linkList(names ...string) ([]halLink, error) {
	for _, name := range names {
		raw, ok := d.Links[name]
		if !ok {
			continue
		}
		var list []halLink
		if err := json.Unmarshal(raw, &list); err == nil {
			return list, nil
		}
		var single halLink
		if err := json.Unmarshal(raw, &single); err == nil && single.Href != "" {
			return []halLink{single}, nil
		}
		return nil, fmt.Errorf("unreadable %s link", name)
	}
	return nil, fmt.Errorf("no pacts link in listing")
}
