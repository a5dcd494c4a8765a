package acadiosync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/novalearn/partnerhub_backend/utils"
)

const (
	defaultPageSize  = 100
	defaultPageDelay = 400 * time.Millisecond
	defaultMaxPages  = 50
)

// errTooManyPages guards against a misbehaving server emitting a next-link
// loop. Hitting it means the remote dataset is absurdly large or broken.
var errTooManyPages = errors.New("acadio pagination exceeded page ceiling")

type acadioClient struct {
	baseURL   string
	apiKey    string
	apiKeyHdr string
	http      *http.Client
	pageSize  int
	pageDelay time.Duration
	maxPages  int
}

func newAcadioClient() (*acadioClient, error) {
	apiKey := strings.TrimSpace(os.Getenv("ACADIO_API_KEY"))
	if apiKey == "" {
		return nil, errors.New("acadio api key is empty")
	}
	baseURL := utils.StringFromEnv("ACADIO_API_BASE_URL", "https://api.acadio.com")
	apiKeyHeader := utils.StringFromEnv("ACADIO_API_KEY_HEADER", "X-API-Key")
	timeout := time.Duration(utils.IntFromEnv("ACADIO_HTTP_TIMEOUT_SECONDS", 20)) * time.Second
	pageDelay := time.Duration(utils.IntFromEnv("ACADIO_PAGE_DELAY_MS", int(defaultPageDelay/time.Millisecond))) * time.Millisecond

	return &acadioClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		apiKeyHdr: apiKeyHeader,
		http:      &http.Client{Timeout: timeout},
		pageSize:  defaultPageSize,
		pageDelay: pageDelay,
		maxPages:  utils.IntFromEnv("ACADIO_MAX_PAGES", defaultMaxPages),
	}, nil
}

// listResponse is the Acadio list envelope. links.next is an opaque reference
// (absolute or relative URL); its absence terminates the sequence.
type listResponse struct {
	Data  []json.RawMessage `json:"data"`
	Links struct {
		Next string `json:"next"`
	} `json:"links"`
}

type rateLimitedError struct {
	retryAfter time.Duration
}

func (e *rateLimitedError) Error() string {
	return fmt.Sprintf("acadio rate limited (retry after %s)", e.retryAfter)
}

// fetchAllPages walks a paginated list endpoint from the first page, handing
// each non-empty page to onPage in arrival order. The sequence is not
// restartable: every call re-issues every page. Pages already handed to
// onPage stay handed when a later page fails; the error tells the caller the
// result is partial.
func (c *acadioClient) fetchAllPages(ctx context.Context, path string, filter url.Values, onPage func(records []json.RawMessage) error) error {
	params := url.Values{}
	for k, vs := range filter {
		for _, v := range vs {
			params.Add(k, v)
		}
	}
	params.Set("_limit", strconv.Itoa(c.pageSize))

	endpoint := c.baseURL + path + "?" + params.Encode()
	for page := 1; ; page++ {
		if page > c.maxPages {
			return fmt.Errorf("%w (%d pages) on %s", errTooManyPages, c.maxPages, path)
		}

		resp, err := c.getPage(ctx, endpoint)
		if err != nil {
			return err
		}
		if len(resp.Data) > 0 {
			if err := onPage(resp.Data); err != nil {
				return err
			}
		}

		next := strings.TrimSpace(resp.Links.Next)
		if next == "" {
			return nil
		}
		endpoint = c.resolveNext(next)

		if err := c.sleepBetweenPages(ctx); err != nil {
			return err
		}
	}
}

// fetchAll accumulates every record of the sequence. On error, the records
// gathered so far are still returned together with the error (partial result;
// callers decide whether partial is acceptable).
func (c *acadioClient) fetchAll(ctx context.Context, path string, filter url.Values) ([]json.RawMessage, error) {
	var all []json.RawMessage
	err := c.fetchAllPages(ctx, path, filter, func(records []json.RawMessage) error {
		all = append(all, records...)
		return nil
	})
	return all, err
}

// getPage issues one page request with the single in-place retry the error
// policy allows: once for a 429, once for a request timeout. A second failure
// escalates to the caller.
func (c *acadioClient) getPage(ctx context.Context, endpoint string) (listResponse, error) {
	resp, err := c.getOnce(ctx, endpoint)
	if err == nil {
		return resp, nil
	}

	var rl *rateLimitedError
	if errors.As(err, &rl) {
		if werr := c.wait(ctx, rl.retryAfter); werr != nil {
			return listResponse{}, werr
		}
		return c.getOnce(ctx, endpoint)
	}
	if isRequestTimeout(err) && ctx.Err() == nil {
		return c.getOnce(ctx, endpoint)
	}
	return listResponse{}, err
}

func (c *acadioClient) getOnce(ctx context.Context, endpoint string) (listResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return listResponse{}, err
	}
	req.Header.Set(c.apiKeyHdr, c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return listResponse{}, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode == http.StatusTooManyRequests {
		return listResponse{}, &rateLimitedError{retryAfter: retryAfterOrDefault(resp, c.pageDelay)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return listResponse{}, fmt.Errorf("acadio api error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed listResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return listResponse{}, err
	}
	return parsed, nil
}

func (c *acadioClient) resolveNext(next string) string {
	if strings.HasPrefix(next, "http://") || strings.HasPrefix(next, "https://") {
		return next
	}
	if !strings.HasPrefix(next, "/") {
		next = "/" + next
	}
	return c.baseURL + next
}

// sleepBetweenPages applies the fixed inter-page delay that keeps us under
// Acadio's undocumented rate limit.
func (c *acadioClient) sleepBetweenPages(ctx context.Context) error {
	return c.wait(ctx, c.pageDelay)
}

func (c *acadioClient) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func retryAfterOrDefault(resp *http.Response, def time.Duration) time.Duration {
	if v := strings.TrimSpace(resp.Header.Get("Retry-After")); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return def
}

func isRequestTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
