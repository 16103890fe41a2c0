package xclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"followcast/internal/model"

	"golang.org/x/time/rate"
)

// FollowerSource is the read side used by ingestion.
type FollowerSource interface {
	// FollowerIDs returns one page of follower ids, most recent first, and the
	// next cursor ("" when there is no next page).
	FollowerIDs(ctx context.Context, userID, cursor string, count int) ([]string, string, error)
	// UsersByIDs looks up at most 100 profiles; order is not guaranteed.
	UsersByIDs(ctx context.Context, ids []string) ([]model.User, error)
}

// Messenger is the write side used by campaigns.
type Messenger interface {
	SendDirectMessage(ctx context.Context, recipientID, text string) error
	AccessLevel(ctx context.Context) (AccessLevel, error)
}

// GraphClient is everything followcast calls on the X API.
type GraphClient interface {
	FollowerSource
	Messenger
	UserByScreenName(ctx context.Context, screenName string) (model.User, error)
}

// AccessLevel is the token permission reported in the x-access-level header.
type AccessLevel string

const (
	AccessRead             AccessLevel = "read"
	AccessReadWrite        AccessLevel = "read-write"
	AccessReadWriteDirectM AccessLevel = "read-write-directmessages"
)

// CanDirectMessage reports whether the token may send direct messages.
func (a AccessLevel) CanDirectMessage() bool {
	return strings.Contains(string(a), "directmessages")
}

// HTTPClient is the transport shared by API clients: pacing, retries, error decoding.
type HTTPClient struct {
	baseURL     string
	bearerToken string
	httpClient  *http.Client
	limiter     *rate.Limiter
	maxAttempts int
	baseBackoff time.Duration
}

func NewHTTPClient(bearerToken string) *HTTPClient {
	return &HTTPClient{
		baseURL:     "https://api.twitter.com/1.1",
		bearerToken: bearerToken,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		limiter:     newDefaultLimiter(),
		maxAttempts: getEnvInt("X_API_MAX_ATTEMPTS", 4),
		baseBackoff: time.Duration(getEnvInt("X_API_BASE_BACKOFF_MS", 500)) * time.Millisecond,
	}
}

// WithBaseURL points the client at another host, e.g. a test server.
func (c *HTTPClient) WithBaseURL(u string) *HTTPClient {
	c.baseURL = strings.TrimRight(u, "/")
	return c
}

// call paces, sends, and decodes a JSON response into out (when non-nil).
func (c *HTTPClient) call(ctx context.Context, endpoint string, req *http.Request, out any) (http.Header, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	resp, err := c.doWithRetry(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return resp.Header, decodeAPIError(endpoint, resp)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.Header, fmt.Errorf("decode %s: %w", endpoint, err)
		}
	}
	return resp.Header, nil
}

// doWithRetry retries transport errors and 5xx with exponential back-off.
// 429 is returned to the caller: rate limits are handled by the engines.
// Non-idempotent requests get one attempt so a send is never repeated here.
func (c *HTTPClient) doWithRetry(ctx context.Context, req *http.Request) (*http.Response, error) {
	maxAttempts := c.maxAttempts
	if !idempotent(req.Method) {
		maxAttempts = 1
	}
	backoff := c.baseBackoff
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		r := req.Clone(ctx)
		if req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, err
			}
			r.Body = body
		}
		resp, err := c.httpClient.Do(r)
		if err == nil {
			if resp.StatusCode < 500 || attempt == maxAttempts {
				return resp, nil
			}
			wait := backoff
			if ra := resp.Header.Get("Retry-After"); ra != "" {
				if secs, err := strconv.Atoi(ra); err == nil {
					wait = time.Duration(secs) * time.Second
				}
			}
			_ = resp.Body.Close()
			lastErr = fmt.Errorf("status %d", resp.StatusCode)
			backoff = wait
		} else {
			lastErr = err
			if attempt == maxAttempts {
				break
			}
		}
		// jitter +/-20%
		wait := backoff
		if jitter := time.Duration(float64(wait) * 0.2); jitter > 0 {
			wait = wait - jitter + time.Duration(time.Now().UnixNano()%int64(2*jitter))
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		backoff *= 2
	}
	return nil, fmt.Errorf("request failed after %d attempts: %w", maxAttempts, lastErr)
}

func idempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if i, err := strconv.Atoi(v); err == nil && i > 0 {
		return i
	}
	return def
}
