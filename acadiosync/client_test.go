package acadiosync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
)

func testClient(srv *httptest.Server) *acadioClient {
	return &acadioClient{
		baseURL:   srv.URL,
		apiKey:    "test-key",
		apiKeyHdr: "X-API-Key",
		http:      srv.Client(),
		pageSize:  100,
		pageDelay: 0,
		maxPages:  50,
	}
}

func pageBody(count int, next string) []byte {
	records := make([]json.RawMessage, count)
	for i := range records {
		records[i] = json.RawMessage(fmt.Sprintf(`{"id":"u%d"}`, i))
	}
	body, _ := json.Marshal(map[string]interface{}{
		"data":  records,
		"links": map[string]string{"next": next},
	})
	return body
}

func TestFetchAllWalksEveryPage(t *testing.T) {
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if got := r.Header.Get("X-API-Key"); got != "test-key" {
			t.Errorf("api key header: got %q", got)
		}
		if r.URL.Query().Get("_limit") != "100" {
			t.Errorf("missing _limit on %s", r.URL.String())
		}
		switch r.URL.Query().Get("page") {
		case "", "1":
			w.Write(pageBody(100, "/v1/users?page=2&_limit=100"))
		case "2":
			w.Write(pageBody(100, "/v1/users?page=3&_limit=100"))
		case "3":
			w.Write(pageBody(37, ""))
		default:
			t.Errorf("unexpected page %q", r.URL.Query().Get("page"))
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	defer srv.Close()

	records, err := testClient(srv).fetchAll(context.Background(), "/v1/users", nil)
	if err != nil {
		t.Fatalf("fetchAll: %v", err)
	}
	if len(records) != 237 {
		t.Errorf("records: got %d, want 237", len(records))
	}
	if requests != 3 {
		t.Errorf("requests: got %d, want 3", requests)
	}
}

func TestFetchAllRetriesRateLimitOnce(t *testing.T) {
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if requests == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write(pageBody(5, ""))
	}))
	defer srv.Close()

	records, err := testClient(srv).fetchAll(context.Background(), "/v1/users", nil)
	if err != nil {
		t.Fatalf("fetchAll after 429: %v", err)
	}
	if len(records) != 5 || requests != 2 {
		t.Errorf("got %d records in %d requests, want 5 in 2", len(records), requests)
	}
}

func TestFetchAllGivesUpOnRepeatedRateLimit(t *testing.T) {
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := testClient(srv).fetchAll(context.Background(), "/v1/users", nil)
	var rl *rateLimitedError
	if !errors.As(err, &rl) {
		t.Fatalf("expected rate limit error after second 429, got %v", err)
	}
	if requests != 2 {
		t.Errorf("requests: got %d, want 2 (one retry)", requests)
	}
}

func TestFetchAllReturnsPartialOnMidSequenceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		w.Write(pageBody(100, "/v1/users?page=2"))
	}))
	defer srv.Close()

	records, err := testClient(srv).fetchAll(context.Background(), "/v1/users", nil)
	if err == nil {
		t.Fatal("expected error from failing second page")
	}
	if len(records) != 100 {
		t.Errorf("partial records: got %d, want 100", len(records))
	}
}

func TestFetchAllStopsAtPageCeiling(t *testing.T) {
	page := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page++
		w.Write(pageBody(1, "/v1/users?page="+strconv.Itoa(page+1)))
	}))
	defer srv.Close()

	client := testClient(srv)
	client.maxPages = 3
	_, err := client.fetchAll(context.Background(), "/v1/users", nil)
	if !errors.Is(err, errTooManyPages) {
		t.Fatalf("expected page ceiling error, got %v", err)
	}
	if page != 3 {
		t.Errorf("pages fetched before ceiling: got %d, want 3", page)
	}
}

func TestResolveNext(t *testing.T) {
	c := &acadioClient{baseURL: "https://api.example.com"}
	cases := []struct{ in, want string }{
		{"https://api.example.com/v1/users?page=2", "https://api.example.com/v1/users?page=2"},
		{"/v1/users?page=2", "https://api.example.com/v1/users?page=2"},
		{"v1/users?page=2", "https://api.example.com/v1/users?page=2"},
	}
	for _, tc := range cases {
		if got := c.resolveNext(tc.in); got != tc.want {
			t.Errorf("resolveNext(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
