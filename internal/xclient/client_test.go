package xclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

// newTestClient points a bearer-only client at ts with fast retries.
func newTestClient(ts *httptest.Server) *V1Client {
	base := NewHTTPClient("test").WithBaseURL(ts.URL)
	base.httpClient = ts.Client()
	base.maxAttempts = 3
	base.baseBackoff = 5 * time.Millisecond
	base.limiter = rate.NewLimiter(rate.Inf, 1)
	return NewV1Client(base, "", "", "", "")
}

func TestDoWithRetryRetries5xxButNot429(t *testing.T) {
	var attempts int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&attempts, 1)
		if n == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"errors":[{"code":88,"message":"Rate limit exceeded"}]}`))
	}))
	defer ts.Close()

	c := newTestClient(ts)
	_, _, err := c.FollowerIDs(context.Background(), "42", "", 5000)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRateLimited))
	assert.Equal(t, "rate_limit", Reason(err))
	assert.EqualValues(t, 2, atomic.LoadInt32(&attempts))
}

func TestFollowerIDsPagination(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/followers/ids.json", r.URL.Path)
		assert.Equal(t, "Bearer test", r.Header.Get("Authorization"))
		assert.Equal(t, "true", r.URL.Query().Get("stringify_ids"))
		switch r.URL.Query().Get("cursor") {
		case "-1":
			_, _ = w.Write([]byte(`{"ids":["3","2"],"next_cursor_str":"abc"}`))
		case "abc":
			_, _ = w.Write([]byte(`{"ids":["1"],"next_cursor_str":"0"}`))
		default:
			t.Errorf("unexpected cursor %q", r.URL.Query().Get("cursor"))
		}
	}))
	defer ts.Close()

	c := newTestClient(ts)
	ids, next, err := c.FollowerIDs(context.Background(), "42", "", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"3", "2"}, ids)
	assert.Equal(t, "abc", next)

	ids, next, err = c.FollowerIDs(context.Background(), "42", next, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, ids)
	assert.Empty(t, next)
}

func TestUsersByIDs(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1,2", r.URL.Query().Get("user_id"))
		_, _ = w.Write([]byte(`[{"id_str":"2","screen_name":"bee","name":"Bee","description":"Love Dad Health","followers_count":7,"profile_image_url_https":"https://img/2"},
			{"id_str":"1","screen_name":"ay","name":"Ay","followers_count":3}]`))
	}))
	defer ts.Close()

	users, err := newTestClient(ts).UsersByIDs(context.Background(), []string{"1", "2"})
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "bee", users[0].Username)
	assert.Equal(t, "Love Dad Health", users[0].Description)
	assert.Equal(t, 7, users[0].FollowersCount)
	assert.Equal(t, "https://img/2", users[0].ProfileImageURL)

	_, err = newTestClient(ts).UsersByIDs(context.Background(), make([]string, 101))
	assert.Error(t, err)
}

func TestSendDirectMessageClassifiesErrors(t *testing.T) {
	codes := map[string]int{"blocked": 349, "readonly": 93, "busy": 0}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		b, _ := io.ReadAll(r.Body)
		var body struct {
			Event struct {
				MessageCreate struct {
					Target struct {
						RecipientID string `json:"recipient_id"`
					} `json:"target"`
					MessageData struct {
						Text string `json:"text"`
					} `json:"message_data"`
				} `json:"message_create"`
			} `json:"event"`
		}
		require.NoError(t, json.Unmarshal(b, &body))
		rcpt := body.Event.MessageCreate.Target.RecipientID
		assert.Equal(t, "hello", body.Event.MessageCreate.MessageData.Text)
		switch rcpt {
		case "ok":
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{}`))
		case "busy":
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"errors":[{"code":` + itoa(codes[rcpt]) + `,"message":"nope"}]}`))
		}
	}))
	defer ts.Close()

	c := newTestClient(ts)
	ctx := context.Background()
	assert.NoError(t, c.SendDirectMessage(ctx, "ok", "hello"))
	assert.ErrorIs(t, c.SendDirectMessage(ctx, "blocked", "hello"), ErrRejected)
	assert.ErrorIs(t, c.SendDirectMessage(ctx, "readonly", "hello"), ErrReadOnly)
	assert.ErrorIs(t, c.SendDirectMessage(ctx, "busy", "hello"), ErrRateLimited)

	var apiErr *APIError
	require.ErrorAs(t, c.SendDirectMessage(ctx, "blocked", "hello"), &apiErr)
	assert.Equal(t, 349, apiErr.Code)
	assert.Equal(t, "rejected", Reason(apiErr))
}

func TestAccessLevelFromHeader(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/account/verify_credentials.json"))
		w.Header().Set("X-Access-Level", "read-write-directmessages")
		_, _ = w.Write([]byte(`{"id_str":"42"}`))
	}))
	defer ts.Close()

	lvl, err := newTestClient(ts).AccessLevel(context.Background())
	require.NoError(t, err)
	assert.True(t, lvl.CanDirectMessage())
	assert.False(t, AccessReadWrite.CanDirectMessage())
}

func itoa(n int) string { b, _ := json.Marshal(n); return string(b) }

func TestUsersByIDsNoMatchIsEmpty(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"errors":[{"code":17,"message":"No user matches for specified terms."}]}`))
	}))
	defer ts.Close()

	users, err := newTestClient(ts).UsersByIDs(context.Background(), []string{"1", "2"})
	require.NoError(t, err)
	assert.Empty(t, users)
	assert.ErrorIs(t, &APIError{Status: 404, Code: 17}, ErrNoMatch)
	assert.NotErrorIs(t, &APIError{Status: 404, Code: 50}, ErrNoMatch)
}

func TestSendDirectMessageIsNotRetriedOn5xx(t *testing.T) {
	var attempts int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	err := newTestClient(ts).SendDirectMessage(context.Background(), "42", "hello")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.Equal(t, "error", Reason(err))
	assert.EqualValues(t, 1, atomic.LoadInt32(&attempts))
}
