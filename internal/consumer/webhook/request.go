package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/srg/hrmon/internal/hr"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Request is a webhook rendered for one sample.
// Headers keep the order they were written in.
type Request struct {
	Method  string
	URL     string
	Headers *orderedmap.OrderedMap[string, string]
	Body    []byte
}

func render(s string, bpm int, event hr.Event) string {
	return strings.NewReplacer("{bpm}", strconv.Itoa(bpm), "{event}", string(event)).Replace(s)
}

// parseHeaders decodes a JSON object of string values. Blank input is an empty set.
func parseHeaders(raw string) (*orderedmap.OrderedMap[string, string], error) {
	headers := orderedmap.New[string, string]()
	if strings.TrimSpace(raw) == "" {
		return headers, nil
	}
	if err := json.Unmarshal([]byte(raw), headers); err != nil {
		return nil, fmt.Errorf("must be a JSON object of strings: %w", err)
	}
	return headers, nil
}

func hasHeader(headers *orderedmap.OrderedMap[string, string], name string) bool {
	canonical := http.CanonicalHeaderKey(name)
	for pair := headers.Oldest(); pair != nil; pair = pair.Next() {
		if http.CanonicalHeaderKey(pair.Key) == canonical {
			return true
		}
	}
	return false
}

// Render substitutes the sample into the webhook and fills in default headers.
func (c Config) Render(bpm int, event hr.Event) (*Request, error) {
	target := render(c.URL, bpm, event)
	if err := checkURL(target); err != nil {
		return nil, &ValidationError{Field: "url", Msg: err.Error()}
	}

	headers, err := parseHeaders(render(c.Headers, bpm, event))
	if err != nil {
		return nil, &ValidationError{Field: "headers", Msg: err.Error()}
	}
	if !hasHeader(headers, "User-Agent") {
		headers.Set("User-Agent", DefaultUserAgent)
	}
	if !hasHeader(headers, "Content-Type") {
		headers.Set("Content-Type", DefaultContentType)
	}

	body := strings.TrimSpace(c.Body)
	if body == "" {
		body = "{}"
	}
	body = render(body, bpm, event)
	if !json.Valid([]byte(body)) {
		return nil, &ValidationError{Field: "body", Msg: "is not valid JSON"}
	}

	return &Request{
		Method:  c.EffectiveMethod(),
		URL:     target,
		Headers: headers,
		Body:    []byte(body),
	}, nil
}

// HTTPRequest builds the outgoing request. GET requests carry no body.
func (r *Request) HTTPRequest(ctx context.Context) (*http.Request, error) {
	var body io.Reader
	if r.Method != http.MethodGet {
		body = bytes.NewReader(r.Body)
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, r.URL, body)
	if err != nil {
		return nil, err
	}
	for pair := r.Headers.Oldest(); pair != nil; pair = pair.Next() {
		req.Header.Set(pair.Key, pair.Value)
	}
	return req, nil
}
