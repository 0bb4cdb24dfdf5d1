package billing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAllowAll(t *testing.T) {
	canRun, _, _, err := AllowAll{}.Check(context.Background(), "acct-1")
	if err != nil || !canRun {
		t.Fatalf("AllowAll should allow: canRun=%v err=%v", canRun, err)
	}
}

func TestHTTPClient_Denied(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/accounts/acct-1/can-run" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"can_run":false,"message":"Billing limit reached: upgrade to continue","subscription":{"tier":"free","seats_used":1}}`))
	}))
	defer ts.Close()

	client := NewHTTPClient(ts.URL, "test-key")
	canRun, message, info, err := client.Check(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("Check error: %v", err)
	}
	if canRun {
		t.Fatal("expected denial")
	}
	if message == "" {
		t.Fatal("expected denial message")
	}
	if info.Tier != "free" || info.SeatsUsed != 1 {
		t.Fatalf("unexpected subscription info %+v", info)
	}
}

func TestHTTPClient_ServerErrorIsError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	client := NewHTTPClient(ts.URL, "")
	if _, _, _, err := client.Check(context.Background(), "acct-1"); err == nil {
		t.Fatal("expected error on 500")
	}
}
