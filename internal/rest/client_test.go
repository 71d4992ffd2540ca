package rest

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"
)

func TestGetSignsQueryString(t *testing.T) {
	var gotHeader string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("X-Sig")
		if r.URL.Path != "/v5/position/list" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	client := New(server.URL+"/", time.Second, func(req *http.Request, body []byte) error {
		req.Header.Set("X-Sig", string(body))
		return nil
	}, nil)
	var out struct {
		OK bool `json:"ok"`
	}
	query := url.Values{"category": {"linear"}, "symbol": {"BTCUSDT"}}
	if err := client.Get(context.Background(), "/v5/position/list", query, &out); err != nil {
		t.Fatalf("get: %v", err)
	}
	if !out.OK {
		t.Fatalf("expected decoded body")
	}
	if gotHeader != "category=linear&symbol=BTCUSDT" {
		t.Fatalf("expected signer to see encoded query, got %q", gotHeader)
	}
}

func TestPostSignsBody(t *testing.T) {
	var gotBody, gotSig string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		gotBody = string(raw)
		gotSig = r.Header.Get("X-Sig")
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("missing content type")
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := New(server.URL, time.Second, func(req *http.Request, body []byte) error {
		req.Header.Set("X-Sig", string(body))
		return nil
	}, nil)
	if err := client.Post(context.Background(), "/v2/orders", map[string]string{"side": "Buy"}, nil); err != nil {
		t.Fatalf("post: %v", err)
	}
	if gotBody != `{"side":"Buy"}` || gotSig != gotBody {
		t.Fatalf("unexpected body/sig: %q %q", gotBody, gotSig)
	}
}

func TestStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gateway down", http.StatusBadGateway)
	}))
	defer server.Close()

	client := New(server.URL, time.Second, nil, nil)
	err := client.Get(context.Background(), "/v2/collateral", nil, nil)
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if statusErr.Status != http.StatusBadGateway {
		t.Fatalf("unexpected status %d", statusErr.Status)
	}
}
