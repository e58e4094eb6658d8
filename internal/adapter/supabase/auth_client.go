package supabase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/smallbiznis/devhub/internal/domain"
	"github.com/smallbiznis/devhub/internal/identity"
)

// AuthClient talks to the GoTrue endpoints of the project.
type AuthClient struct {
	client   *Client
	pageSize int
}

var (
	_ identity.Verifier  = (*AuthClient)(nil)
	_ identity.Directory = (*AuthClient)(nil)
)

// NewAuthClient constructs an AuthClient listing users pageSize at a time.
func NewAuthClient(client *Client, pageSize int) *AuthClient {
	if pageSize <= 0 {
		pageSize = 1000
	}
	return &AuthClient{client: client, pageSize: pageSize}
}

type gotrueUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type gotrueUserList struct {
	Users []gotrueUser `json:"users"`
}

// Verify exchanges the end user's access token for the user it belongs to.
func (a *AuthClient) Verify(ctx context.Context, token string) (domain.Identity, error) {
	if strings.TrimSpace(token) == "" {
		return domain.Identity{}, fmt.Errorf("%w: empty token", domain.ErrUnauthenticated)
	}
	var user gotrueUser
	err := a.client.do(ctx, request{method: http.MethodGet, path: "/auth/v1/user", bearer: token}, &user)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("%w: %v", domain.ErrUnauthenticated, err)
	}
	if user.ID == "" {
		return domain.Identity{}, fmt.Errorf("%w: user missing from response", domain.ErrUnauthenticated)
	}
	return domain.Identity{ID: user.ID, Email: user.Email}, nil
}

// ListIdentities pages through the admin user listing until a short page.
func (a *AuthClient) ListIdentities(ctx context.Context) ([]domain.Identity, error) {
	var identities []domain.Identity
	for page := 1; ; page++ {
		query := url.Values{}
		query.Set("page", strconv.Itoa(page))
		query.Set("per_page", strconv.Itoa(a.pageSize))

		var list gotrueUserList
		if err := a.client.do(ctx, request{method: http.MethodGet, path: "/auth/v1/admin/users?" + query.Encode()}, &list); err != nil {
			return nil, fmt.Errorf("list users page %d: %w", page, err)
		}
		for _, u := range list.Users {
			identities = append(identities, domain.Identity{ID: u.ID, Email: u.Email})
		}
		if len(list.Users) < a.pageSize {
			return identities, nil
		}
	}
}

// IsUnauthorized reports whether err is a 401/403 answer from Supabase.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusForbidden
	}
	return false
}
