package gate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/smallbiznis/devhub/internal/domain"
)

type stubChecker struct {
	access Access
	err    error
	panics bool
	calls  int
}

func (s *stubChecker) CheckAccess(context.Context, string) (Access, error) {
	s.calls++
	if s.panics {
		panic("boom")
	}
	return s.access, s.err
}

type stubFallback struct {
	purchased bool
	err       error
	calls     int
}

func (s *stubFallback) DirectAccess(context.Context, Session) (bool, error) {
	s.calls++
	return s.purchased, s.err
}

var session = &Session{UserID: "u-1", AccessToken: "tok"}

func TestEnterWithoutSessionRedirects(t *testing.T) {
	checker := &stubChecker{access: Access{HasAccess: true}}
	g := New(checker)

	var seen []State
	d := g.Enter(context.Background(), nil, func(s State) { seen = append(seen, s) })
	require.Equal(t, StateRedirectAuth, d.State)
	require.Equal(t, []State{StateRedirectAuth}, seen)
	require.Zero(t, checker.calls)

	d = g.Enter(context.Background(), &Session{UserID: "u-1"}, nil)
	require.Equal(t, StateRedirectAuth, d.State)
}

func TestEnterAdmitsWhenAccessGranted(t *testing.T) {
	g := New(&stubChecker{access: Access{HasAccess: true, HasPurchased: true, SubscriptionStatus: "active"}})

	var seen []State
	d := g.Enter(context.Background(), session, func(s State) { seen = append(seen, s) })
	require.True(t, d.Admitted())
	require.False(t, d.Degraded)
	require.Equal(t, []State{StateLoading, StateAdmitted}, seen)
}

func TestEnterDeniesWithPurchaseLink(t *testing.T) {
	g := New(&stubChecker{access: Access{SubscriptionStatus: "inactive"}}, WithPurchaseURL("https://pay.example/devhub"))

	d := g.Enter(context.Background(), session, nil)
	require.Equal(t, StateNoAccess, d.State)
	require.Equal(t, "https://pay.example/devhub", d.PurchaseURL)
	require.True(t, d.CanRecheck)
	require.NoError(t, d.Err)
}

func TestEnterFailsClosed(t *testing.T) {
	cases := []struct {
		name    string
		checker *stubChecker
	}{
		{"unreachable", &stubChecker{err: fmt.Errorf("%w: dial tcp", ErrBackendUnavailable)}},
		{"unauthenticated", &stubChecker{err: fmt.Errorf("%w: 401", domain.ErrUnauthenticated)}},
		{"server error", &stubChecker{err: &APIError{Status: 500, Code: "server_error"}}},
		{"canceled", &stubChecker{err: context.Canceled}},
		{"decode", &stubChecker{err: errors.New("decode response: unexpected EOF")}},
		{"error with stale access", &stubChecker{access: Access{HasAccess: true}, err: errors.New("partial")}},
		{"panic", &stubChecker{panics: true}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := New(tc.checker)
			d := g.Enter(context.Background(), session, nil)
			require.False(t, d.Admitted())
			require.Equal(t, StateNoAccess, d.State)
			require.Error(t, d.Err)
			require.True(t, d.CanRecheck)
		})
	}
}

func TestFallbackOnlyInDevelopment(t *testing.T) {
	unreachable := fmt.Errorf("%w: dial tcp", ErrBackendUnavailable)

	fb := &stubFallback{purchased: true}
	prod := New(&stubChecker{err: unreachable}, WithDevFallback("production", fb))
	d := prod.Enter(context.Background(), session, nil)
	require.Equal(t, StateNoAccess, d.State)
	require.Zero(t, fb.calls)

	dev := New(&stubChecker{err: unreachable}, WithDevFallback("development", fb))
	d = dev.Enter(context.Background(), session, nil)
	require.Equal(t, StateAdmitted, d.State)
	require.True(t, d.Degraded)
	require.Equal(t, 1, fb.calls)
}

func TestFallbackNotUsedForOtherErrors(t *testing.T) {
	fb := &stubFallback{purchased: true}
	g := New(&stubChecker{err: fmt.Errorf("%w: expired", domain.ErrUnauthenticated)}, WithDevFallback("development", fb))

	d := g.Enter(context.Background(), session, nil)
	require.Equal(t, StateNoAccess, d.State)
	require.Zero(t, fb.calls)
}

func TestFallbackFailureDenies(t *testing.T) {
	unreachable := fmt.Errorf("%w: dial tcp", ErrBackendUnavailable)

	g := New(&stubChecker{err: unreachable}, WithDevFallback("development", &stubFallback{err: errors.New("rls denied")}))
	d := g.Enter(context.Background(), session, nil)
	require.Equal(t, StateNoAccess, d.State)
	require.True(t, d.Degraded)
	require.ErrorIs(t, d.Err, ErrBackendUnavailable)

	g = New(&stubChecker{err: unreachable}, WithDevFallback("development", &stubFallback{purchased: false}))
	d = g.Enter(context.Background(), session, nil)
	require.Equal(t, StateNoAccess, d.State)
	require.True(t, d.Degraded)
}

func TestRecheckAsksAgain(t *testing.T) {
	checker := &stubChecker{}
	g := New(checker)

	require.Equal(t, StateNoAccess, g.Enter(context.Background(), session, nil).State)
	checker.access = Access{HasAccess: true, HasPurchased: true}
	require.Equal(t, StateAdmitted, g.Recheck(context.Background(), session, nil).State)
	require.Equal(t, 2, checker.calls)
}

type recordReader struct {
	rec domain.UserRecord
	err error
}

func (r recordReader) GetAsUser(context.Context, string, string) (domain.UserRecord, error) {
	return r.rec, r.err
}

func TestStoreFallback(t *testing.T) {
	ok, err := StoreFallback{Reader: recordReader{rec: domain.UserRecord{HasPurchased: true}}}.DirectAccess(context.Background(), *session)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = StoreFallback{Reader: recordReader{}}.DirectAccess(context.Background(), Session{AccessToken: "tok"})
	require.Error(t, err)
}

func TestClientCheckAccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/auth/check-access", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		if r.Header.Get("Authorization") != "Bearer good" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"unauthorized","error_description":"Invalid or expired token."}`))
			return
		}
		_ = json.NewEncoder(w).Encode(Access{HasAccess: true, HasPurchased: true, SubscriptionStatus: "inactive"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL+"/", srv.Client())

	access, err := client.CheckAccess(context.Background(), "good")
	require.NoError(t, err)
	require.True(t, access.HasAccess)
	require.Equal(t, "inactive", access.SubscriptionStatus)

	_, err = client.CheckAccess(context.Background(), "bad")
	require.ErrorIs(t, err, domain.ErrUnauthenticated)
}

func TestClientServerErrorAndUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"server_error","error_description":"Error fetching users."}`))
	}))
	client := NewClient(srv.URL, srv.Client())

	_, err := client.CheckAccess(context.Background(), "tok")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusInternalServerError, apiErr.Status)
	require.Equal(t, "server_error", apiErr.Code)
	require.NotErrorIs(t, err, ErrBackendUnavailable)

	srv.Close()
	_, err = client.CheckAccess(context.Background(), "tok")
	require.ErrorIs(t, err, ErrBackendUnavailable)
}

func TestClientBulkUpdate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/bulk-update", r.URL.Path)
		require.Empty(t, r.Header.Get("Authorization"))
		var body struct {
			Secret string   `json:"secret"`
			Emails []string `json:"emails"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "s3cret", body.Secret)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(fmt.Sprintf(`{"message":"Bulk update completed","batchId":"1","summary":{"total":%d,"success":1,"notFound":1,"errors":0},"results":{"success":["a@x.io"],"notFound":["b@x.io"],"errors":[]}}`, len(body.Emails))))
	}))
	defer srv.Close()

	out, err := NewClient(srv.URL, srv.Client()).BulkUpdate(context.Background(), "s3cret", []string{"a@x.io", "b@x.io"})
	require.NoError(t, err)
	require.Equal(t, 2, out.Summary.Total)
	require.Equal(t, []string{"b@x.io"}, out.Results.NotFound)
}
