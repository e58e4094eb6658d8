package gate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/smallbiznis/devhub/internal/domain"
)

// ErrBackendUnavailable is returned when the API could not be reached at all.
var ErrBackendUnavailable = errors.New("gate: backend not available")

const maxResponseBytes = 1 << 20

// Access mirrors the check-access response.
type Access struct {
	HasAccess          bool   `json:"hasAccess"`
	HasPurchased       bool   `json:"hasPurchased"`
	SubscriptionStatus string `json:"subscriptionStatus"`
}

// UserData mirrors the user-data response.
type UserData struct {
	Email              string `json:"email"`
	HasPurchased       bool   `json:"hasPurchased"`
	SubscriptionStatus string `json:"subscriptionStatus"`
}

// BulkSummary mirrors the bulk-update response.
type BulkSummary struct {
	Message string `json:"message"`
	BatchID string `json:"batchId"`
	Summary struct {
		Total    int `json:"total"`
		Success  int `json:"success"`
		NotFound int `json:"notFound"`
		Errors   int `json:"errors"`
	} `json:"summary"`
	Results struct {
		Success  []string `json:"success"`
		NotFound []string `json:"notFound"`
		Errors   []struct {
			Email string `json:"email"`
			Error string `json:"error"`
		} `json:"errors"`
	} `json:"results"`
}

// APIError is a non-2xx answer from the API.
type APIError struct {
	Status      int
	Code        string
	Description string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("api error: status=%d", e.Status)
	}
	return fmt.Sprintf("api error: status=%d %s: %s", e.Status, e.Code, e.Description)
}

// Client calls the DevHub API the way the members area does.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient constructs a Client for baseURL.
func NewClient(baseURL string, client *http.Client) *Client {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), httpClient: client}
}

// CheckAccess calls POST /api/auth/check-access with the user's token.
func (c *Client) CheckAccess(ctx context.Context, token string) (Access, error) {
	var out Access
	if err := c.post(ctx, "/api/auth/check-access", token, nil, &out); err != nil {
		return Access{}, err
	}
	return out, nil
}

// UserData calls POST /api/auth/user-data with the user's token.
func (c *Client) UserData(ctx context.Context, token string) (UserData, error) {
	var out UserData
	if err := c.post(ctx, "/api/auth/user-data", token, nil, &out); err != nil {
		return UserData{}, err
	}
	return out, nil
}

// BulkUpdate calls POST /api/bulk-update with the operator secret.
func (c *Client) BulkUpdate(ctx context.Context, secret string, emails []string) (BulkSummary, error) {
	body := map[string]any{"secret": secret, "emails": emails}
	var out BulkSummary
	if err := c.post(ctx, "/api/bulk-update", "", body, &out); err != nil {
		return BulkSummary{}, err
	}
	return out, nil
}

func (c *Client) post(ctx context.Context, path, token string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		var payload struct {
			Error            string `json:"error"`
			ErrorDescription string `json:"error_description"`
		}
		if json.Unmarshal(raw, &payload) == nil {
			apiErr.Code = payload.Error
			apiErr.Description = payload.ErrorDescription
		}
		if resp.StatusCode == http.StatusUnauthorized && token != "" {
			return fmt.Errorf("%w: %v", domain.ErrUnauthenticated, apiErr)
		}
		return apiErr
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
