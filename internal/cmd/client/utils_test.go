package client

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDecodedPayloadShapes(t *testing.T) {
	out := decodedPayload([]byte(`{"a":1}`))
	if _, ok := out["payload_json"]; !ok {
		t.Fatalf("expected payload_json, got %v", out)
	}
	out = decodedPayload([]byte("plain text"))
	if out["payload_text"] != "plain text" {
		t.Fatalf("expected payload_text, got %v", out)
	}
	out = decodedPayload([]byte{0xff, 0xfe, 0x00})
	if _, ok := out["payload_b64"]; !ok {
		t.Fatalf("expected payload_b64, got %v", out)
	}
}

func TestAPIErrorCarriesKind(t *testing.T) {
	err := apiError(429, []byte(`{"error":"rate limit exceeded","kind":"rate_limit_exceeded"}`))
	want := "rate_limit_exceeded: rate limit exceeded"
	if err.Error() != want {
		t.Fatalf("err = %q, want %q", err, want)
	}
	if err := apiError(500, []byte("not json")); err.Error() != "http 500" {
		t.Fatalf("err = %q", err)
	}
}

func TestDoSendsBearerAndDecodesError(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		switch r.URL.Path {
		case "/v1/ok":
			w.Write([]byte(`{"seq":1}`))
		default:
			w.WriteHeader(http.StatusForbidden)
			json.NewEncoder(w).Encode(map[string]string{"error": "tenant is suspended", "kind": "tenant_suspended"})
		}
	}))
	defer srv.Close()

	a := newAPI(func() string { return srv.URL })
	a.key = "tk_test"

	out, err := a.do(context.Background(), http.MethodGet, "/v1/ok", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(out, []byte(`"seq":1`)) {
		t.Fatalf("body = %s", out)
	}
	if gotAuth != "Bearer tk_test" {
		t.Fatalf("auth = %q", gotAuth)
	}

	_, err = a.do(context.Background(), http.MethodGet, "/v1/denied", nil, nil)
	if err == nil || err.Error() != "tenant_suspended: tenant is suspended" {
		t.Fatalf("err = %v", err)
	}
}
