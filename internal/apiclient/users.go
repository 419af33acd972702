package apiclient

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/matheus3301/chatsync/internal/model"
	"go.uber.org/zap"
)

// Me returns the authenticated user, or nil without error when the session
// is not authenticated.
func (c *Client) Me(ctx context.Context) (*model.User, error) {
	var out model.User
	_, err := c.do(ctx, request{method: http.MethodGet, route: "/userdirectory/dashboard/", path: "/userdirectory/dashboard/"}, &out)
	if err != nil {
		if IsUnauthorized(err) {
			return nil, nil
		}
		return nil, err
	}
	return &out, nil
}

// SearchUsers queries the user directory.
func (c *Client) SearchUsers(ctx context.Context, q string, limit int, includeSelf bool) ([]model.UserSummary, error) {
	query := url.Values{}
	if q != "" {
		query.Set("q", q)
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	if includeSelf {
		query.Set("include_self", "true")
	}
	var out []model.UserSummary
	_, err := c.do(ctx, request{
		method: http.MethodGet,
		route:  "/userdirectory/users/",
		path:   "/userdirectory/users/",
		query:  query,
	}, &out)
	return out, err
}

// EnsureCSRF fetches the CSRF cookie when the jar does not hold one yet.
func (c *Client) EnsureCSRF(ctx context.Context) error {
	if c.CSRFToken() != "" {
		return nil
	}
	if _, err := c.do(ctx, request{method: http.MethodGet, route: "/auth/home/", path: "/auth/home/"}, nil); err != nil {
		c.logger.Warn("failed to prefetch csrf cookie", zap.Error(err))
		return err
	}
	return nil
}
