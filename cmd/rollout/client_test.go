package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNewAPIClientDefaults(t *testing.T) {
	client := NewAPIClient("", 0)
	if client.baseURL != "http://127.0.0.1:8080/api" {
		t.Errorf("Expected default baseURL, got %s", client.baseURL)
	}
	if client.client.Timeout != 10*time.Second {
		t.Errorf("Expected default timeout 10s, got %v", client.client.Timeout)
	}

	client = NewAPIClient("http://example.com/api", 5*time.Second)
	if client.baseURL != "http://example.com/api" {
		t.Errorf("Expected baseURL http://example.com/api, got %s", client.baseURL)
	}
	if client.client.Timeout != 5*time.Second {
		t.Errorf("Expected timeout 5s, got %v", client.client.Timeout)
	}
}

func TestAPIClientIsReachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			_, _ = w.Write([]byte(`{"status":"healthy"}`))
			return
		}
		http.NotFound(w, r)
	}))
	defer server.Close()

	client := NewAPIClient(server.URL, time.Second)
	if !client.IsReachable() {
		t.Error("Expected server to be reachable")
	}

	client = NewAPIClient("http://127.0.0.1:1", 100*time.Millisecond)
	if client.IsReachable() {
		t.Error("Expected server to be unreachable")
	}
}

func TestAPIClientStatusAndTask(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/status":
			_, _ = w.Write([]byte(`{"current_version":"1.0.0","installed_versions":["1.0.0"],"tasks":[]}`))
		case "/tasks/update-1.0.0-1":
			_, _ = w.Write([]byte(`{"id":"update-1.0.0-1","status":"succeeded"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := NewAPIClient(server.URL, time.Second)
	status, err := client.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	m, ok := status.(map[string]any)
	if !ok || m["current_version"] != "1.0.0" {
		t.Fatalf("unexpected status payload: %v", status)
	}

	task, err := client.Task("update-1.0.0-1")
	if err != nil {
		t.Fatalf("Task: %v", err)
	}
	if task["status"] != "succeeded" {
		t.Fatalf("unexpected task payload: %v", task)
	}
}

func TestAPIClientDecodesErrorBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"version not installed"}`))
	}))
	defer server.Close()

	client := NewAPIClient(server.URL, time.Second)
	_, err := client.Rollback("0.9.0")
	if err == nil || !strings.Contains(err.Error(), "version not installed") {
		t.Fatalf("expected decoded API error, got %v", err)
	}
}

func TestAPIClientErrorWithoutBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewAPIClient(server.URL, time.Second)
	_, err := client.Status()
	if err == nil || !strings.Contains(err.Error(), "status 500") {
		t.Fatalf("expected status error, got %v", err)
	}
}
