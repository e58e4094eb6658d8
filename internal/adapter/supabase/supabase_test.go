package supabase_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/smallbiznis/devhub/internal/adapter/supabase"
	"github.com/smallbiznis/devhub/internal/domain"
	"github.com/smallbiznis/devhub/internal/repository"
)

const serviceKey = "service-role-key"

func newClient(t *testing.T, handler http.Handler) *supabase.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return supabase.NewClient(srv.URL+"/", serviceKey, srv.Client())
}

func TestAuthClientVerify(t *testing.T) {
	client := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/auth/v1/user", r.URL.Path)
		require.Equal(t, serviceKey, r.Header.Get("apikey"))
		if r.Header.Get("Authorization") != "Bearer good-token" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"msg":"invalid JWT"}`)
			return
		}
		_, _ = io.WriteString(w, `{"id":"u1","email":"user@devhub.test"}`)
	}))
	auth := supabase.NewAuthClient(client, 50)

	got, err := auth.Verify(context.Background(), "good-token")
	require.NoError(t, err)
	require.Equal(t, domain.Identity{ID: "u1", Email: "user@devhub.test"}, got)

	_, err = auth.Verify(context.Background(), "expired")
	require.ErrorIs(t, err, domain.ErrUnauthenticated)

	_, err = auth.Verify(context.Background(), " ")
	require.ErrorIs(t, err, domain.ErrUnauthenticated)
}

func TestAuthClientListIdentitiesPages(t *testing.T) {
	var pages []int
	client := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/auth/v1/admin/users", r.URL.Path)
		require.Equal(t, "Bearer "+serviceKey, r.Header.Get("Authorization"))
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		require.Equal(t, "2", r.URL.Query().Get("per_page"))
		pages = append(pages, page)

		var users []map[string]string
		switch page {
		case 1:
			users = []map[string]string{{"id": "u1", "email": "a@x.com"}, {"id": "u2", "email": "b@x.com"}}
		case 2:
			users = []map[string]string{{"id": "u3", "email": "c@x.com"}}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"users": users})
	}))

	identities, err := supabase.NewAuthClient(client, 2).ListIdentities(context.Background())
	require.NoError(t, err)
	require.Equal(t, []int{1, 2}, pages)
	require.Len(t, identities, 3)
	require.Equal(t, "u3", identities[2].ID)
}

func TestAuthClientListIdentitiesError(t *testing.T) {
	client := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `{"message":"not admin"}`)
	}))

	_, err := supabase.NewAuthClient(client, 10).ListIdentities(context.Background())
	require.Error(t, err)
	require.True(t, supabase.IsUnauthorized(err))
}

// fakePostgREST keeps a users table in memory and answers the subset of
// PostgREST requests the store issues.
type fakePostgREST struct {
	mu    sync.Mutex
	rows  map[string]map[string]any
	calls []string
	// conflictOnce makes the next insert fail as if another writer won.
	conflictOnce bool
}

func newFakePostgREST() *fakePostgREST {
	return &fakePostgREST{rows: map[string]map[string]any{}}
}

func (f *fakePostgREST) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, r.Method)

	id := trimEq(r.URL.Query().Get("id"))
	switch r.Method {
	case http.MethodGet:
		if row, ok := f.rows[id]; ok {
			writeRows(w, row)
			return
		}
		writeRows(w)
	case http.MethodPost:
		var row map[string]any
		_ = json.NewDecoder(r.Body).Decode(&row)
		rowID := fmt.Sprint(row["id"])
		if f.conflictOnce {
			f.conflictOnce = false
			f.rows[rowID] = map[string]any{"id": rowID, "email": "", "has_purchased_devhub": false, "subscription_status": "inactive"}
			w.WriteHeader(http.StatusConflict)
			_, _ = io.WriteString(w, `{"code":"23505","message":"duplicate key value violates unique constraint \"users_pkey\""}`)
			return
		}
		if _, exists := f.rows[rowID]; exists {
			w.WriteHeader(http.StatusConflict)
			_, _ = io.WriteString(w, `{"code":"23505","message":"duplicate key"}`)
			return
		}
		f.rows[rowID] = row
		w.WriteHeader(http.StatusCreated)
		writeRows(w, row)
	case http.MethodPatch:
		row, ok := f.rows[id]
		if !ok {
			writeRows(w)
			return
		}
		if emailFilter, ok := r.URL.Query()["email"]; ok && trimEq(emailFilter[0]) != fmt.Sprint(row["email"]) {
			writeRows(w)
			return
		}
		var patch map[string]any
		_ = json.NewDecoder(r.Body).Decode(&patch)
		for k, v := range patch {
			row[k] = v
		}
		writeRows(w, row)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func trimEq(v string) string {
	if len(v) >= 3 && v[:3] == "eq." {
		return v[3:]
	}
	return v
}

func writeRows(w http.ResponseWriter, rows ...map[string]any) {
	if rows == nil {
		rows = []map[string]any{}
	}
	_ = json.NewEncoder(w).Encode(rows)
}

func TestUserStoreGetByIDNotFound(t *testing.T) {
	store := supabase.NewUserStore(newClient(t, newFakePostgREST()))

	_, err := store.GetByID(context.Background(), "missing")
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func TestUserStoreCreateDefaultIsExactlyOnce(t *testing.T) {
	fake := newFakePostgREST()
	store := supabase.NewUserStore(newClient(t, fake))
	ctx := context.Background()

	rec, created, err := store.CreateDefault(ctx, domain.NewDefaultRecord(domain.Identity{ID: "u1", Email: "a@x.com"}))
	require.NoError(t, err)
	require.True(t, created)
	require.False(t, rec.HasPurchased)
	require.Equal(t, domain.SubscriptionInactive, rec.SubscriptionStatus)

	_, created, err = store.CreateDefault(ctx, domain.NewDefaultRecord(domain.Identity{ID: "u1", Email: "a@x.com"}))
	require.NoError(t, err)
	require.False(t, created)
	require.Len(t, fake.rows, 1)
}

func TestUserStoreGrantPurchaseCreatesThenUpdates(t *testing.T) {
	fake := newFakePostgREST()
	store := supabase.NewUserStore(newClient(t, fake))
	ctx := context.Background()
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	rec, created, err := store.GrantPurchase(ctx, "u1", "a@x.com", at)
	require.NoError(t, err)
	require.True(t, created)
	require.True(t, rec.HasPurchased)
	require.Equal(t, domain.SubscriptionActive, rec.SubscriptionStatus)

	rec, created, err = store.GrantPurchase(ctx, "u1", "a@x.com", at.Add(time.Minute))
	require.NoError(t, err)
	require.False(t, created)
	require.True(t, rec.HasPurchased)
	require.Equal(t, "a@x.com", rec.Email)
}

func TestUserStoreGrantPurchaseFillsMissingEmail(t *testing.T) {
	fake := newFakePostgREST()
	fake.rows["u1"] = map[string]any{"id": "u1", "email": "", "has_purchased_devhub": false, "subscription_status": "inactive"}
	store := supabase.NewUserStore(newClient(t, fake))

	rec, created, err := store.GrantPurchase(context.Background(), "u1", "a@x.com", time.Now())
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, "a@x.com", rec.Email)
}

func TestUserStoreGrantPurchaseRecoversFromInsertRace(t *testing.T) {
	fake := newFakePostgREST()
	fake.conflictOnce = true
	store := supabase.NewUserStore(newClient(t, fake))

	rec, created, err := store.GrantPurchase(context.Background(), "u1", "a@x.com", time.Now())
	require.NoError(t, err)
	require.False(t, created)
	require.True(t, rec.HasPurchased)
	require.Equal(t, []string{http.MethodPatch, http.MethodPost, http.MethodPatch}, fake.calls)
}

func TestUserStoreSurfacesServerErrors(t *testing.T) {
	client := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	store := supabase.NewUserStore(client)

	_, err := store.GetByID(context.Background(), "u1")
	require.Error(t, err)
	require.NotErrorIs(t, err, repository.ErrNotFound)

	var apiErr *supabase.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusServiceUnavailable, apiErr.Status)
}

func TestUserStoreGetAsUserSendsUserToken(t *testing.T) {
	client := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer user-token", r.Header.Get("Authorization"))
		require.Equal(t, serviceKey, r.Header.Get("apikey"))
		writeRows(w, map[string]any{"id": "u1", "has_purchased_devhub": true})
	}))
	store := supabase.NewUserStore(client)

	rec, err := store.GetAsUser(context.Background(), "user-token", "u1")
	require.NoError(t, err)
	require.True(t, rec.HasPurchased)

	_, err = store.GetAsUser(context.Background(), "", "u1")
	require.ErrorIs(t, err, domain.ErrUnauthenticated)
}
