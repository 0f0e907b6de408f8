package adapters

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strings"
	"text/template"
	"time"

	"github.com/tidwall/gjson"

	"github.com/HatiCode/gapfill/pkg/series"
)

// ChannelPath binds a channel name to the gjson path of its values.
type ChannelPath struct {
	Name      string
	ValuePath string
}

// HTTPAdapter is a generic HTTP adapter that can call any REST API endpoint
// and extract a multichannel table using JSON path expressions.
//
// It supports:
//   - Configurable HTTP method (GET, POST, etc.)
//   - Template-based request body with variables: {{.WindowSeconds}}, {{.Start}}, {{.End}}, {{.Step}}
//   - Custom headers including authentication (Bearer tokens, API keys, etc.)
//   - JSON path extraction for timestamps and per-channel values using gjson syntax
//   - Flexible timestamp parsing (RFC3339, Unix seconds, Unix milliseconds)
//
// Example configuration for a custom metrics API:
//
//	adapter := &HTTPAdapter{
//	    URL: "https://api.example.com/metrics",
//	    Method: "POST",
//	    Headers: map[string]string{
//	        "Authorization": "Bearer {{.Token}}",
//	    },
//	    Body: `{"from": {{.Start}}, "to": {{.End}}}`,
//	    TimestampPath: "data.#.timestamp",
//	    Channels: []ChannelPath{
//	        {Name: "requests", ValuePath: "data.#.rps"},
//	        {Name: "errors", ValuePath: "data.#.errors"},
//	    },
//	}
//
// JSON null values are read as missing.
type HTTPAdapter struct {
	// URL is the endpoint to call (required)
	URL string

	// Method is the HTTP method (GET, POST, etc.). Defaults to GET if empty.
	Method string

	// Headers are custom HTTP headers to include in the request.
	// Values can use template variables like {{.Token}}.
	Headers map[string]string

	// Body is the request body template (for POST/PUT). Supports variables:
	//   {{.WindowSeconds}} - the length of the range in seconds
	//   {{.Start}}         - start time as Unix timestamp
	//   {{.End}}           - end time as Unix timestamp
	//   {{.Step}}          - step size in seconds
	//   {{.StartRFC3339}}  - start time as RFC3339 string
	//   {{.EndRFC3339}}    - end time as RFC3339 string
	Body string

	// TimestampPath is the gjson path to extract timestamps from the response.
	TimestampPath string

	// Channels lists the value paths. Each must return as many elements as
	// TimestampPath.
	Channels []ChannelPath

	// TimestampFormat specifies how to parse timestamps:
	//   "rfc3339"    - RFC3339 strings (default)
	//   "unix"       - Unix seconds (float or int)
	//   "unix_milli" - Unix milliseconds (float or int)
	TimestampFormat string

	// HTTPClient is optional; if nil a default client with timeout is used.
	HTTPClient *http.Client

	// TemplateVars are custom variables available in Body and Headers templates.
	// Use this to pass tokens, API keys, etc.
	TemplateVars map[string]string
}

func (h *HTTPAdapter) Name() string { return "http" }

// Collect implements Adapter. Rows outside r are dropped.
func (h *HTTPAdapter) Collect(ctx context.Context, r Range) (*series.Series, error) {
	if err := h.ValidateConfig(); err != nil {
		return nil, fmt.Errorf("http adapter: %w", err)
	}

	templateData := map[string]any{
		"WindowSeconds": int64(r.End.Sub(r.Start).Seconds()),
		"Start":         r.Start.Unix(),
		"End":           r.End.Unix(),
		"Step":          int64(stepOrDefault(r).Seconds()),
		"StartRFC3339":  r.Start.UTC().Format(time.RFC3339),
		"EndRFC3339":    r.End.UTC().Format(time.RFC3339),
	}
	for k, v := range h.TemplateVars {
		templateData[k] = v
	}

	method := h.Method
	if method == "" {
		method = http.MethodGet
	}

	var bodyReader io.Reader
	if h.Body != "" {
		renderedBody, err := renderTemplate(h.Body, templateData)
		if err != nil {
			return nil, fmt.Errorf("render body template: %w", err)
		}
		bodyReader = bytes.NewBufferString(renderedBody)
	}

	cli := h.HTTPClient
	if cli == nil {
		cli = &http.Client{Timeout: 30 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, method, h.URL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	for key, value := range h.Headers {
		rendered, err := renderTemplate(value, templateData)
		if err != nil {
			return nil, fmt.Errorf("render header %s: %w", key, err)
		}
		req.Header.Set(key, rendered)
	}

	resp, err := cli.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("http status %d: %s", resp.StatusCode, string(body))
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	timestamps := gjson.GetBytes(respBody, h.TimestampPath)
	if !timestamps.Exists() {
		return nil, fmt.Errorf("timestamp path %q not found in response", h.TimestampPath)
	}
	tsArray := timestamps.Array()

	columns := make([][]gjson.Result, len(h.Channels))
	names := make([]string, len(h.Channels))
	for c, ch := range h.Channels {
		values := gjson.GetBytes(respBody, ch.ValuePath)
		if !values.Exists() {
			return nil, fmt.Errorf("value path %q not found in response", ch.ValuePath)
		}
		columns[c] = values.Array()
		if len(columns[c]) != len(tsArray) {
			return nil, fmt.Errorf("channel %q: value count (%d) != timestamp count (%d)", ch.Name, len(columns[c]), len(tsArray))
		}
		names[c] = ch.Name
	}

	out := series.New(names...)
	for i := range tsArray {
		ts, err := h.parseTimestamp(tsArray[i])
		if err != nil {
			return nil, fmt.Errorf("parse timestamp[%d]: %w", i, err)
		}
		if !r.Contains(ts) {
			continue
		}
		row := make([]float64, len(columns))
		for c := range columns {
			if columns[c][i].Type == gjson.Null {
				row[c] = math.NaN()
				continue
			}
			row[c] = columns[c][i].Float()
		}
		if err := out.Add(ts, row...); err != nil {
			return nil, err
		}
	}

	out.Sort()
	return out, nil
}

// parseTimestamp parses a timestamp according to the configured format
func (h *HTTPAdapter) parseTimestamp(value gjson.Result) (time.Time, error) {
	format := h.TimestampFormat
	if format == "" {
		format = "rfc3339"
	}

	switch format {
	case "rfc3339":
		return time.Parse(time.RFC3339, value.String())

	case "unix":
		// Unix seconds (supports both int and float)
		sec := value.Float()
		return time.Unix(int64(sec), 0).UTC(), nil

	case "unix_milli":
		ms := value.Float()
		return time.UnixMilli(int64(ms)).UTC(), nil

	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp format: %s", format)
	}
}

// renderTemplate renders a text template with the given data
func renderTemplate(tmplStr string, data map[string]any) (string, error) {
	if !strings.Contains(tmplStr, "{{") {
		return tmplStr, nil
	}

	tmpl, err := template.New("").Parse(tmplStr)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}

	return buf.String(), nil
}

// ParseChannelPaths turns a name → path map into channels ordered by name.
func ParseChannelPaths(paths map[string]string) []ChannelPath {
	out := make([]ChannelPath, 0, len(paths))
	for name, path := range paths {
		out = append(out, ChannelPath{Name: name, ValuePath: path})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ValidateConfig checks if the adapter configuration is valid
func (h *HTTPAdapter) ValidateConfig() error {
	if h.URL == "" {
		return errors.New("url is required")
	}
	if h.TimestampPath == "" {
		return errors.New("timestampPath is required")
	}
	if len(h.Channels) == 0 {
		return errors.New("at least one channel path is required")
	}
	seen := make(map[string]bool, len(h.Channels))
	for _, ch := range h.Channels {
		if ch.Name == "" || ch.ValuePath == "" {
			return fmt.Errorf("channel %q needs a name and a value path", ch.Name)
		}
		if seen[ch.Name] {
			return fmt.Errorf("duplicate channel %q", ch.Name)
		}
		seen[ch.Name] = true
	}

	validFormats := map[string]bool{
		"":           true,
		"rfc3339":    true,
		"unix":       true,
		"unix_milli": true,
	}
	if !validFormats[h.TimestampFormat] {
		return fmt.Errorf("invalid timestampFormat: %s (must be rfc3339, unix, or unix_milli)", h.TimestampFormat)
	}

	return nil
}
