package apify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFetchProfilesMapsItemsAndFailedTargets(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Contains(t, r.URL.Path, "acts/"+DefaultProfileActor)
		require.Equal(t, "test-token", r.URL.Query().Get("token"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"id":"111","username":"Acct_A","fullName":"Account A","followersCount":1000,"followsCount":150,"postsCount":42,"biography":"DM for collab — bookings@acct-a.com","verified":true,"private":false},
			{"username":"acct_missing"}
		]`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)

	batch, err := client.FetchProfiles(context.Background(), []string{"acct_a", "acct_missing"})
	require.NoError(t, err)
	require.Len(t, batch.Snapshots, 1)
	require.Equal(t, []string{"acct_missing"}, batch.FailedTargets)
	require.NotEmpty(t, batch.Raw)

	snap := batch.Snapshots[0]
	require.Equal(t, "acct_a", snap.Username)
	require.NotNil(t, snap.FollowerCount)
	require.Equal(t, 1000, *snap.FollowerCount)
	require.NotNil(t, snap.IsVerified)
	require.True(t, *snap.IsVerified)
	require.NotNil(t, snap.PromoStatus)
	require.Equal(t, "warm", *snap.PromoStatus)
	require.NotNil(t, snap.ContactEmail)
	require.Equal(t, "bookings@acct-a.com", *snap.ContactEmail)
}

func TestFetchProfilesSurfacesActorFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "actor is over capacity", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)

	_, err := client.FetchProfiles(context.Background(), []string{"acct_a"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "status 503")
}

func TestFetchFollowingCombinesProfileAndFollowingActors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.Contains(r.URL.Path, DefaultProfileActor):
			_, _ = w.Write([]byte(`[{"id":"222","username":"client_one","followsCount":3}]`))
		case strings.Contains(r.URL.Path, DefaultFollowingActor):
			_, _ = w.Write([]byte(`[
				{"username":"Acct_A","full_name":"Account A"},
				{"username":"acct_b"},
				{"full_name":"no username, skipped"}
			]`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)

	list, err := client.FetchFollowing(context.Background(), "Client_One")
	require.NoError(t, err)
	require.Equal(t, "client_one", list.ClientUsername)
	require.Equal(t, 3, list.ExpectedCount)
	require.Len(t, list.Accounts, 2)
	require.Equal(t, "acct_a", list.Accounts[0].Username)
	require.Equal(t, []string{"client_one"}, list.Accounts[0].ObservedClients)
	require.NotNil(t, list.Accounts[0].FullName)
	require.Nil(t, list.Accounts[1].FullName)
}

func TestFetchFollowingToleratesExpectedCountFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, DefaultProfileActor) {
			http.Error(w, "nope", http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"username":"acct_a"}]`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)

	list, err := client.FetchFollowing(context.Background(), "client_one")
	require.NoError(t, err)
	require.Zero(t, list.ExpectedCount)
	require.Len(t, list.Accounts, 1)
}

func TestNewClientRequiresToken(t *testing.T) {
	t.Parallel()

	_, err := NewClient(Config{}, fixedClock{})
	require.Error(t, err)
}

func TestDetectPromoSignals(t *testing.T) {
	t.Parallel()

	status, signals := DetectPromoSignals("Lifestyle creator. DM for collab! reach me: hello@example.com")
	require.Equal(t, "warm", status)
	require.Contains(t, signals, `bio mentions "collab"`)
	require.Contains(t, signals, "business email in bio")

	status, signals = DetectPromoSignals("just here for the memes")
	require.Equal(t, "unknown", status)
	require.Empty(t, signals)
}

func TestExtractEmail(t *testing.T) {
	t.Parallel()

	require.Equal(t, "biz@example.co", ExtractEmail("contact: biz@example.co for rates"))
	require.Empty(t, ExtractEmail("no contact info here"))
}

// --- fakes ---

type fixedClock struct{}

func (fixedClock) Now() time.Time { return time.Unix(1700000000, 0).UTC() }

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	client, err := NewClient(Config{
		BaseURL:    baseURL,
		Token:      "test-token",
		HTTPClient: &http.Client{Timeout: 5 * time.Second},
	}, fixedClock{})
	require.NoError(t, err)
	return client
}
