package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/smallbiznis/devhub/internal/domain"
	"github.com/smallbiznis/devhub/internal/repository"
)

const (
	usersPath      = "/rest/v1/users"
	userSelect     = "id,email,has_purchased_devhub,subscription_status,created_at,updated_at"
	codeNoRows     = "PGRST116"
	codeUniqueViol = "23505"
)

// UserStore implements UserRepository over PostgREST using the service role key.
type UserStore struct {
	client *Client
	now    func() time.Time
}

var _ repository.UserRepository = (*UserStore)(nil)

func NewUserStore(client *Client) *UserStore {
	return &UserStore{client: client, now: time.Now}
}

type userRow struct {
	ID                 string     `json:"id"`
	Email              *string    `json:"email"`
	HasPurchasedDevhub *bool      `json:"has_purchased_devhub"`
	SubscriptionStatus *string    `json:"subscription_status"`
	CreatedAt          *time.Time `json:"created_at,omitempty"`
	UpdatedAt          *time.Time `json:"updated_at,omitempty"`
}

func (r userRow) record() domain.UserRecord {
	rec := domain.UserRecord{ID: r.ID}
	if r.Email != nil {
		rec.Email = *r.Email
	}
	if r.HasPurchasedDevhub != nil {
		rec.HasPurchased = *r.HasPurchasedDevhub
	}
	if r.SubscriptionStatus != nil {
		rec.SubscriptionStatus = domain.SubscriptionStatus(*r.SubscriptionStatus)
	}
	if r.CreatedAt != nil {
		rec.CreatedAt = *r.CreatedAt
	}
	if r.UpdatedAt != nil {
		rec.UpdatedAt = *r.UpdatedAt
	}
	return rec
}

func (s *UserStore) GetByID(ctx context.Context, id string) (domain.UserRecord, error) {
	return s.get(ctx, id, "")
}

// GetAsUser reads the row for id with the end user's own access token, so the
// project's row-level policies apply instead of the service role.
func (s *UserStore) GetAsUser(ctx context.Context, token, id string) (domain.UserRecord, error) {
	if token == "" {
		return domain.UserRecord{}, fmt.Errorf("%w: empty token", domain.ErrUnauthenticated)
	}
	return s.get(ctx, id, token)
}

func (s *UserStore) get(ctx context.Context, id, bearer string) (domain.UserRecord, error) {
	var rows []userRow
	err := s.client.do(ctx, request{method: http.MethodGet, path: usersPath + "?" + idFilter(id).Encode(), bearer: bearer}, &rows)
	if err != nil {
		return domain.UserRecord{}, fmt.Errorf("get user %s: %w", id, mapAPIError(err))
	}
	if len(rows) == 0 {
		return domain.UserRecord{}, fmt.Errorf("get user %s: %w", id, repository.ErrNotFound)
	}
	return rows[0].record(), nil
}

func (s *UserStore) CreateDefault(ctx context.Context, rec domain.UserRecord) (domain.UserRecord, bool, error) {
	status := string(rec.SubscriptionStatus.OrDefault())
	created, err := s.insert(ctx, userRow{
		ID:                 rec.ID,
		Email:              &rec.Email,
		HasPurchasedDevhub: &rec.HasPurchased,
		SubscriptionStatus: &status,
	})
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, repository.ErrConflict) {
		return domain.UserRecord{}, false, fmt.Errorf("create user %s: %w", rec.ID, err)
	}

	existing, err := s.GetByID(ctx, rec.ID)
	if err != nil {
		return domain.UserRecord{}, false, err
	}
	return existing, false, nil
}

func (s *UserStore) GrantPurchase(ctx context.Context, id, email string, at time.Time) (domain.UserRecord, bool, error) {
	rec, found, err := s.patchGrant(ctx, id, at)
	if err != nil {
		return domain.UserRecord{}, false, err
	}
	if found {
		if rec.Email == "" && email != "" {
			rec, err = s.fillEmail(ctx, id, email, rec)
			if err != nil {
				return domain.UserRecord{}, false, err
			}
		}
		return rec, false, nil
	}

	purchased := true
	status := string(domain.SubscriptionActive)
	stamp := at.UTC()
	rec, err = s.insert(ctx, userRow{
		ID:                 id,
		Email:              &email,
		HasPurchasedDevhub: &purchased,
		SubscriptionStatus: &status,
		UpdatedAt:          &stamp,
	})
	if err == nil {
		return rec, true, nil
	}
	if !errors.Is(err, repository.ErrConflict) {
		return domain.UserRecord{}, false, fmt.Errorf("grant purchase %s: %w", id, err)
	}

	// A concurrent request created the row first; flip it instead.
	rec, found, err = s.patchGrant(ctx, id, at)
	if err != nil {
		return domain.UserRecord{}, false, err
	}
	if !found {
		return domain.UserRecord{}, false, fmt.Errorf("grant purchase %s: %w", id, repository.ErrNotFound)
	}
	return rec, false, nil
}

func (s *UserStore) patchGrant(ctx context.Context, id string, at time.Time) (domain.UserRecord, bool, error) {
	payload, err := json.Marshal(map[string]any{
		"has_purchased_devhub": true,
		"subscription_status":  domain.SubscriptionActive,
		"updated_at":           at.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return domain.UserRecord{}, false, fmt.Errorf("marshal grant: %w", err)
	}

	var rows []userRow
	err = s.client.do(ctx, request{
		method:  http.MethodPatch,
		path:    usersPath + "?" + idFilter(id).Encode(),
		body:    bytes.NewReader(payload),
		headers: map[string]string{"Prefer": "return=representation"},
	}, &rows)
	if err != nil {
		return domain.UserRecord{}, false, fmt.Errorf("grant purchase %s: %w", id, mapAPIError(err))
	}
	if len(rows) == 0 {
		return domain.UserRecord{}, false, nil
	}
	return rows[0].record(), true, nil
}

func (s *UserStore) fillEmail(ctx context.Context, id, email string, current domain.UserRecord) (domain.UserRecord, error) {
	payload, err := json.Marshal(map[string]string{"email": email})
	if err != nil {
		return domain.UserRecord{}, fmt.Errorf("marshal email: %w", err)
	}
	query := idFilter(id)
	query.Set("email", "eq.")

	var rows []userRow
	err = s.client.do(ctx, request{
		method:  http.MethodPatch,
		path:    usersPath + "?" + query.Encode(),
		body:    bytes.NewReader(payload),
		headers: map[string]string{"Prefer": "return=representation"},
	}, &rows)
	if err != nil {
		return domain.UserRecord{}, fmt.Errorf("set email %s: %w", id, mapAPIError(err))
	}
	if len(rows) == 0 {
		return current, nil
	}
	return rows[0].record(), nil
}

func (s *UserStore) insert(ctx context.Context, row userRow) (domain.UserRecord, error) {
	payload, err := json.Marshal(row)
	if err != nil {
		return domain.UserRecord{}, fmt.Errorf("marshal user: %w", err)
	}

	query := url.Values{}
	query.Set("select", userSelect)

	var rows []userRow
	err = s.client.do(ctx, request{
		method:  http.MethodPost,
		path:    usersPath + "?" + query.Encode(),
		body:    bytes.NewReader(payload),
		headers: map[string]string{"Prefer": "return=representation"},
	}, &rows)
	if err != nil {
		return domain.UserRecord{}, mapAPIError(err)
	}
	if len(rows) == 0 {
		return domain.UserRecord{}, fmt.Errorf("insert user %s: empty representation", row.ID)
	}
	return rows[0].record(), nil
}

func idFilter(id string) url.Values {
	query := url.Values{}
	query.Set("id", "eq."+id)
	query.Set("select", userSelect)
	return query
}

func mapAPIError(err error) error {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	switch {
	case apiErr.Code == codeNoRows:
		return fmt.Errorf("%w: %v", repository.ErrNotFound, err)
	case apiErr.Code == codeUniqueViol || apiErr.Status == http.StatusConflict:
		return fmt.Errorf("%w: %v", repository.ErrConflict, err)
	default:
		return err
	}
}
