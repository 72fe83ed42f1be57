package contract

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// interactionTypeHTTP is the V4 interaction type served by the stub.
const interactionTypeHTTP = "Synchronous/HTTP"

type pactJSON struct {
	Consumer     participantJSON   `json:"consumer"`
	Provider     participantJSON   `json:"provider"`
	Interactions []interactionJSON `json:"interactions"`
}

type participantJSON struct {
	Name string `json:"name"`
}

type interactionJSON struct {
	Type           string          `json:"type"`
	Description    string          `json:"description"`
	ProviderStates []ProviderState `json:"providerStates"`
	ProviderState  string          `json:"providerState"` // pre-V4 singular form
	Request        requestJSON     `json:"request"`
	Response       responseJSON    `json:"response"`
}

type requestJSON struct {
	Method        string          `json:"method"`
	Path          string          `json:"path"`
	Query         json.RawMessage `json:"query"`
	Headers       json.RawMessage `json:"headers"`
	Body          json.RawMessage `json:"body"`
	MatchingRules json.RawMessage `json:"matchingRules"`
}

type responseJSON struct {
	Status  int             `json:"status"`
	Headers json.RawMessage `json:"headers"`
	Body    json.RawMessage `json:"body"`
}

// ParsePact parses one pact document. Interactions that are not
// synchronous HTTP are skipped. The source string becomes the prefix of
// each interaction ID: "<source>:<ordinal>".
func ParsePact(data []byte, source string) (*Pact, error) {
	var doc pactJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing pact %s: %w", source, err)
	}

	pact := &Pact{
		Consumer: doc.Consumer.Name,
		Provider: doc.Provider.Name,
		Source:   source,
	}

	for n, ij := range doc.Interactions {
		if ij.Type != "" && ij.Type != interactionTypeHTTP {
			continue
		}

		states := ij.ProviderStates
		if len(states) == 0 && ij.ProviderState != "" {
			states = []ProviderState{{Name: ij.ProviderState}}
		}

		reqHeaders, err := decodeMultiMap(ij.Request.Headers)
		if err != nil {
			return nil, fmt.Errorf("pact %s interaction %d: request headers: %w", source, n, err)
		}
		respHeaders, err := decodeMultiMap(ij.Response.Headers)
		if err != nil {
			return nil, fmt.Errorf("pact %s interaction %d: response headers: %w", source, n, err)
		}
		query, err := decodeQuery(ij.Request.Query)
		if err != nil {
			return nil, fmt.Errorf("pact %s interaction %d: query: %w", source, n, err)
		}

		reqBody, err := decodeBody(ij.Request.Body, reqHeaders)
		if err != nil {
			return nil, fmt.Errorf("pact %s interaction %d: request body: %w", source, n, err)
		}
		respBody, err := decodeBody(ij.Response.Body, respHeaders)
		if err != nil {
			return nil, fmt.Errorf("pact %s interaction %d: response body: %w", source, n, err)
		}

		status := ij.Response.Status
		if status == 0 {
			status = 200
		}
		method := strings.ToUpper(ij.Request.Method)
		if method == "" {
			method = "GET"
		}

		pact.Interactions = append(pact.Interactions, &Interaction{
			ID:             fmt.Sprintf("%s:%d", source, n),
			Description:    ij.Description,
			ProviderStates: states,
			Request: Request{
				Method:  method,
				Path:    defaultPath(ij.Request.Path),
				Query:   query,
				Headers: reqHeaders,
				Body:    reqBody,
				Rules:   parseRuleSet(ij.Request.MatchingRules),
			},
			Response: Response{
				Status:  status,
				Headers: respHeaders,
				Body:    respBody,
			},
		})
	}

	return pact, nil
}

func defaultPath(p string) string {
	if p == "" {
		return "/"
	}
	return p
}

// bodyJSON is the V4 body wrapper.
type bodyJSON struct {
	Content     json.RawMessage `json:"content"`
	ContentType string          `json:"contentType"`
	Encoded     json.RawMessage `json:"encoded"`
}

// decodeBody handles both the V4 {content, contentType, encoded} wrapper
// and the pre-V4 bare value form. For bare values the content type falls
// back to the part's Content-Type header.
func decodeBody(raw json.RawMessage, headers map[string][]string) (Body, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return Body{}, nil
	}

	var wrapper bodyJSON
	if err := json.Unmarshal(raw, &wrapper); err == nil && wrapper.ContentType != "" {
		content, err := decodeBodyContent(wrapper.Content, string(wrapper.Encoded))
		if err != nil {
			return Body{}, err
		}
		return Body{Content: content, ContentType: wrapper.ContentType}, nil
	}

	// Bare value: a JSON string body keeps the string's text, any other
	// JSON value keeps its compact encoding.
	content, err := decodeBodyContent(raw, "")
	if err != nil {
		return Body{}, err
	}
	ct := headerContentType(headers)
	if ct == "" && len(raw) > 0 && raw[0] != '"' {
		ct = "application/json"
	}
	return Body{Content: content, ContentType: ct}, nil
}

func decodeBodyContent(raw json.RawMessage, encoded string) ([]byte, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return []byte{}, nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		if strings.Contains(encoded, "base64") {
			decoded, err := base64.StdEncoding.DecodeString(s)
			if err != nil {
				return nil, fmt.Errorf("decoding base64 body: %w", err)
			}
			return decoded, nil
		}
		return []byte(s), nil
	}

	// Structured content: keep the compact JSON encoding.
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil, err
	}
	return []byte(buf.String()), nil
}

func headerContentType(headers map[string][]string) string {
	for k, v := range headers {
		if equalFold(k, "content-type") && len(v) > 0 {
			return v[0]
		}
	}
	return ""
}

// decodeMultiMap handles header/query maps whose values are either a
// single string or a list of strings.
func decodeMultiMap(raw json.RawMessage) (map[string][]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var generic map[string]json.RawMessage
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	out := make(map[string][]string, len(generic))
	for k, v := range generic {
		values, err := decodeStringList(v)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		out[k] = values
	}
	return out, nil
}

func decodeStringList(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	if raw[0] == '[' {
		var list []string
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, err
		}
		return list, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return []string{s}, nil
}

// decodeQuery handles the map form and the legacy "a=1&b=2" string form.
func decodeQuery(raw json.RawMessage) (map[string][]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		if s == "" {
			return nil, nil
		}
		values, err := url.ParseQuery(s)
		if err != nil {
			return nil, err
		}
		return values, nil
	}
	return decodeMultiMap(raw)
}
