package xclient

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"followcast/internal/model"
)

// V1Client talks to X API v1.1 with OAuth 1.0a user context.
// Without an access token it falls back to the base bearer token for reads.
type V1Client struct {
	Base           *HTTPClient
	ConsumerKey    string
	ConsumerSecret string
	AccessToken    string
	AccessSecret   string
	nowFn          func() time.Time
	nonceFn        func() string
}

var _ GraphClient = (*V1Client)(nil)

func NewV1Client(base *HTTPClient, ck, cs, at, as string) *V1Client {
	return &V1Client{
		Base:           base,
		ConsumerKey:    ck,
		ConsumerSecret: cs,
		AccessToken:    at,
		AccessSecret:   as,
		nowFn:          time.Now,
		nonceFn:        func() string { return strconv.FormatInt(rand.Int63(), 36) },
	}
}

type v1User struct {
	IDStr                string `json:"id_str"`
	ScreenName           string `json:"screen_name"`
	Name                 string `json:"name"`
	Description          string `json:"description"`
	FollowersCount       int    `json:"followers_count"`
	ProfileImageURLHTTPS string `json:"profile_image_url_https"`
}

func (u v1User) toModel() model.User {
	return model.User{
		ID:              u.IDStr,
		Username:        u.ScreenName,
		Name:            u.Name,
		Description:     u.Description,
		FollowersCount:  u.FollowersCount,
		ProfileImageURL: u.ProfileImageURLHTTPS,
	}
}

func (c *V1Client) get(ctx context.Context, endpoint string, params map[string]string, out any) (http.Header, error) {
	reqURL := c.Base.baseURL + "/" + endpoint + ".json"
	if len(params) > 0 {
		reqURL += "?" + encodeQuery(params)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	c.authorize(req, params)
	return c.Base.call(ctx, endpoint, req, out)
}

// FollowerIDs pages followers/ids. An empty cursor starts from the newest follower.
func (c *V1Client) FollowerIDs(ctx context.Context, userID, cursor string, count int) ([]string, string, error) {
	if userID == "" {
		return nil, "", errors.New("empty user id")
	}
	if cursor == "" {
		cursor = "-1"
	}
	params := map[string]string{
		"user_id":       userID,
		"cursor":        cursor,
		"count":         strconv.Itoa(clamp(count, 1, 5000)),
		"stringify_ids": "true",
	}
	var raw struct {
		IDs           []string `json:"ids"`
		NextCursorStr string   `json:"next_cursor_str"`
	}
	if _, err := c.get(ctx, "followers/ids", params, &raw); err != nil {
		return nil, "", err
	}
	next := raw.NextCursorStr
	if next == "0" {
		next = ""
	}
	return raw.IDs, next, nil
}

// UsersByIDs fetches up to 100 user objects in one request. A batch with no
// live users comes back empty rather than as an error.
func (c *V1Client) UsersByIDs(ctx context.Context, ids []string) ([]model.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if len(ids) > 100 {
		return nil, fmt.Errorf("users/lookup accepts at most 100 ids, got %d", len(ids))
	}
	params := map[string]string{
		"user_id":          strings.Join(ids, ","),
		"include_entities": "false",
	}
	var raw []v1User
	if _, err := c.get(ctx, "users/lookup", params, &raw); err != nil {
		if errors.Is(err, ErrNoMatch) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]model.User, 0, len(raw))
	for _, u := range raw {
		out = append(out, u.toModel())
	}
	return out, nil
}

// UserByScreenName resolves an account handle to its profile.
func (c *V1Client) UserByScreenName(ctx context.Context, screenName string) (model.User, error) {
	if screenName == "" {
		return model.User{}, errors.New("empty screen name")
	}
	var raw v1User
	if _, err := c.get(ctx, "users/show", map[string]string{"screen_name": screenName, "include_entities": "false"}, &raw); err != nil {
		return model.User{}, err
	}
	return raw.toModel(), nil
}

// AccessLevel reads the token permission from verify_credentials.
func (c *V1Client) AccessLevel(ctx context.Context) (AccessLevel, error) {
	params := map[string]string{"skip_status": "true", "include_entities": "false"}
	hdr, err := c.get(ctx, "account/verify_credentials", params, nil)
	if err != nil {
		return "", err
	}
	return AccessLevel(strings.ToLower(hdr.Get("X-Access-Level"))), nil
}

// SendDirectMessage posts a message_create event.
func (c *V1Client) SendDirectMessage(ctx context.Context, recipientID, text string) error {
	var body struct {
		Event struct {
			Type          string `json:"type"`
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
	body.Event.Type = "message_create"
	body.Event.MessageCreate.Target.RecipientID = recipientID
	body.Event.MessageCreate.MessageData.Text = text
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	const endpoint = "direct_messages/events/new"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Base.baseURL+"/"+endpoint+".json", bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	// JSON bodies are not part of the OAuth signature base.
	c.authorize(req, nil)
	_, err = c.Base.call(ctx, endpoint, req, nil)
	return err
}

func (c *V1Client) authorize(req *http.Request, params map[string]string) {
	req.Header.Set("Accept", "application/json")
	if c.AccessToken == "" && c.Base.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.Base.bearerToken)
		return
	}
	c.oauth1Sign(req, params)
}

func (c *V1Client) oauth1Sign(req *http.Request, queryParams map[string]string) {
	oauth := map[string]string{
		"oauth_consumer_key":     c.ConsumerKey,
		"oauth_nonce":            c.nonceFn(),
		"oauth_signature_method": "HMAC-SHA1",
		"oauth_timestamp":        strconv.FormatInt(c.nowFn().Unix(), 10),
		"oauth_token":            c.AccessToken,
		"oauth_version":          "1.0",
	}
	all := map[string]string{}
	for k, v := range oauth {
		all[k] = v
	}
	for k, v := range queryParams {
		all[k] = v
	}
	keys := make([]string, 0, len(all))
	for k := range all {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	paramParts := make([]string, 0, len(keys))
	for _, k := range keys {
		paramParts = append(paramParts, rfc3986(k)+"="+rfc3986(all[k]))
	}
	baseURL := req.URL.Scheme + "://" + req.URL.Host + req.URL.Path
	base := req.Method + "&" + rfc3986(baseURL) + "&" + rfc3986(strings.Join(paramParts, "&"))
	signingKey := rfc3986(c.ConsumerSecret) + "&" + rfc3986(c.AccessSecret)
	mac := hmac.New(sha1.New, []byte(signingKey))
	_, _ = mac.Write([]byte(base))
	oauth["oauth_signature"] = base64.StdEncoding.EncodeToString(mac.Sum(nil))

	hdrKeys := make([]string, 0, len(oauth))
	for k := range oauth {
		hdrKeys = append(hdrKeys, k)
	}
	sort.Strings(hdrKeys)
	authParts := make([]string, 0, len(hdrKeys))
	for _, k := range hdrKeys {
		authParts = append(authParts, fmt.Sprintf("%s=\"%s\"", rfc3986(k), rfc3986(oauth[k])))
	}
	req.Header.Set("Authorization", "OAuth "+strings.Join(authParts, ", "))
}

func encodeQuery(m map[string]string) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, rfc3986(k)+"="+rfc3986(m[k]))
	}
	return strings.Join(parts, "&")
}

// RFC 3986 percent-encoding for OAuth
func rfc3986(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(url.QueryEscape(s), "+", "%20"), "*", "%2A")
}

func clamp(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
