// Package apify implements the scrape provider against the Apify REST
// API, using the synchronous run-and-collect endpoint so a single HTTP
// call covers the actor run and its dataset items.
package apify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/growthdesk/scout/internal/scout"
)

// Defaults for the hosted actors.
const (
	DefaultBaseURL        = "https://api.apify.com/v2"
	DefaultProfileActor   = "apify~instagram-profile-scraper"
	DefaultFollowingActor = "louisdeconinck~instagram-following-scraper"
)

// Config controls the Apify client.
type Config struct {
	BaseURL        string
	Token          string
	ProfileActor   string
	FollowingActor string
	Timeout        time.Duration
	// HTTPClient overrides the default client, primarily for testing.
	HTTPClient *http.Client
}

// Client calls Apify actors and maps their items onto snapshots.
type Client struct {
	baseURL        string
	token          string
	profileActor   string
	followingActor string
	httpClient     *http.Client
	clock          scout.Clock
}

// NewClient creates an Apify-backed scrape provider.
func NewClient(cfg Config, clock scout.Clock) (*Client, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("provider.token is required")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	profileActor := cfg.ProfileActor
	if profileActor == "" {
		profileActor = DefaultProfileActor
	}
	followingActor := cfg.FollowingActor
	if followingActor == "" {
		followingActor = DefaultFollowingActor
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Minute
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		token:          cfg.Token,
		profileActor:   profileActor,
		followingActor: followingActor,
		httpClient:     httpClient,
		clock:          clock,
	}, nil
}

type profileItem struct {
	ID             string `json:"id"`
	Username       string `json:"username"`
	FullName       *string `json:"fullName"`
	FollowersCount *int    `json:"followersCount"`
	FollowsCount   *int    `json:"followsCount"`
	PostsCount     *int    `json:"postsCount"`
	Biography      *string `json:"biography"`
	Verified       *bool   `json:"verified"`
	Private        *bool   `json:"private"`
}

type followingItem struct {
	Username string `json:"username"`
	FullName string `json:"full_name"`
}

// FetchProfiles runs the profile actor for a batch of usernames. Targets
// the actor could not resolve are reported in FailedTargets; the call
// itself only errors on transport or actor failure.
func (c *Client) FetchProfiles(ctx context.Context, usernames []string) (scout.ProfileBatch, error) {
	input := map[string]any{"usernames": usernames}
	raw, err := c.runActor(ctx, c.profileActor, input)
	if err != nil {
		return scout.ProfileBatch{}, err
	}

	var items []profileItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return scout.ProfileBatch{}, fmt.Errorf("decode profile items: %w", err)
	}

	capturedAt := c.clock.Now()
	found := make(map[string]struct{}, len(items))
	batch := scout.ProfileBatch{Raw: raw}
	for _, item := range items {
		// Items without the platform's own ID are "profile not found"
		// placeholders, not captures.
		if item.ID == "" || item.Username == "" {
			continue
		}
		username := strings.ToLower(item.Username)
		found[username] = struct{}{}
		batch.Snapshots = append(batch.Snapshots, snapshotFromProfile(item, capturedAt))
	}
	for _, requested := range usernames {
		if _, ok := found[strings.ToLower(strings.TrimSpace(requested))]; !ok {
			batch.FailedTargets = append(batch.FailedTargets, requested)
		}
	}
	return batch, nil
}

// FetchFollowing runs the following actor for one client account. The
// expected total comes from a preceding profile lookup and stays zero
// when that lookup fails; following results alone are still usable.
func (c *Client) FetchFollowing(ctx context.Context, username string) (scout.FollowingList, error) {
	expected := c.expectedFollowing(ctx, username)

	input := map[string]any{"usernames": []string{username}}
	raw, err := c.runActor(ctx, c.followingActor, input)
	if err != nil {
		return scout.FollowingList{}, err
	}

	var items []followingItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return scout.FollowingList{}, fmt.Errorf("decode following items: %w", err)
	}

	capturedAt := c.clock.Now()
	client := strings.ToLower(strings.TrimSpace(username))
	list := scout.FollowingList{
		ClientUsername: client,
		ExpectedCount:  expected,
		Raw:            raw,
	}
	for _, item := range items {
		if item.Username == "" {
			continue
		}
		snap := scout.Snapshot{
			Username:        strings.ToLower(item.Username),
			ObservedClients: []string{client},
			CapturedAt:      capturedAt,
		}
		if item.FullName != "" {
			fullName := item.FullName
			snap.FullName = &fullName
		}
		list.Accounts = append(list.Accounts, snap)
	}
	return list, nil
}

func (c *Client) expectedFollowing(ctx context.Context, username string) int {
	raw, err := c.runActor(ctx, c.profileActor, map[string]any{"usernames": []string{username}})
	if err != nil {
		return 0
	}
	var items []profileItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return 0
	}
	for _, item := range items {
		if item.FollowsCount != nil {
			return *item.FollowsCount
		}
	}
	return 0
}

func (c *Client) runActor(ctx context.Context, actor string, input any) ([]byte, error) {
	endpoint := fmt.Sprintf("%s/acts/%s/run-sync-get-dataset-items?token=%s",
		c.baseURL, actor, url.QueryEscape(c.token))

	body, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("marshal actor input: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build actor request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call actor %s: %w", actor, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read actor response: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("actor %s returned status %d: %s", actor, resp.StatusCode, truncate(raw, 256))
	}
	return raw, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

func snapshotFromProfile(item profileItem, capturedAt time.Time) scout.Snapshot {
	snap := scout.Snapshot{
		Username:       strings.ToLower(item.Username),
		FullName:       item.FullName,
		FollowerCount:  item.FollowersCount,
		FollowingCount: item.FollowsCount,
		PostCount:      item.PostsCount,
		Biography:      item.Biography,
		IsVerified:     item.Verified,
		IsPrivate:      item.Private,
		CapturedAt:     capturedAt,
	}
	if item.Biography != nil {
		status, signals := DetectPromoSignals(*item.Biography)
		snap.PromoStatus = &status
		snap.PromoSignals = signals
		if email := ExtractEmail(*item.Biography); email != "" {
			snap.ContactEmail = &email
		}
	}
	return snap
}
