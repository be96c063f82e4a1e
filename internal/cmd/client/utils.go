package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"unicode/utf8"
)

// BaseURLFunc provides the base HTTP API URL (e.g., from env or flag).
type BaseURLFunc func() string

// apiKeyFromEnv returns the API key from TIDAL_API_KEY.
func apiKeyFromEnv() string {
	return os.Getenv("TIDAL_API_KEY")
}

type api struct {
	base string
	key  string
	hc   *http.Client
}

func newAPI(baseURL BaseURLFunc) *api {
	return &api{base: strings.TrimRight(baseURL(), "/"), key: apiKeyFromEnv(), hc: http.DefaultClient}
}

// do sends a JSON request and returns the raw response body. Non-2xx
// responses are turned into an error carrying the server's kind and
// message when present.
func (a *api) do(ctx context.Context, method, path string, query url.Values, body any) ([]byte, error) {
	u := a.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if a.key != "" {
		req.Header.Set("Authorization", "Bearer "+a.key)
	}
	resp, err := a.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, apiError(resp.StatusCode, out)
	}
	return out, nil
}

func apiError(status int, body []byte) error {
	var e struct {
		Error string `json:"error"`
		Kind  string `json:"kind"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		if e.Kind != "" {
			return fmt.Errorf("%s: %s", e.Kind, e.Error)
		}
		return fmt.Errorf("%s", e.Error)
	}
	return fmt.Errorf("http %d", status)
}

// printJSON re-indents a JSON body for terminal output.
func printJSON(w io.Writer, body []byte) {
	var buf bytes.Buffer
	if json.Indent(&buf, bytes.TrimSpace(body), "", "  ") == nil {
		fmt.Fprintln(w, buf.String())
		return
	}
	fmt.Fprintln(w, string(body))
}

// decodedPayload returns a map with one of payload_json, payload_text, or
// payload_b64 depending on what the raw bytes look like.
func decodedPayload(payload []byte) map[string]any {
	out := map[string]any{}
	if len(payload) > 0 && (payload[0] == '{' || payload[0] == '[') {
		var v any
		if json.Unmarshal(payload, &v) == nil {
			out["payload_json"] = v
			return out
		}
	}
	if utf8.Valid(payload) {
		out["payload_text"] = string(payload)
		return out
	}
	out["payload_b64"] = base64.StdEncoding.EncodeToString(payload)
	return out
}
