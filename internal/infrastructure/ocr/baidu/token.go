package baidu

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kirillkom/essay-grading-pipeline/internal/core/domain"
)

// tokenRefreshSkew renews a cached token this long before it expires.
const tokenRefreshSkew = 5 * time.Minute

type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	ExpiresIn        int64  `json:"expires_in"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// FetchToken returns a cached access token, requesting a new one when the
// cached token is missing or about to expire.
func (c *Client) FetchToken(ctx context.Context) (string, error) {
	c.mu.RLock()
	if c.token != "" && c.now().Before(c.expiresAt) {
		token := c.token
		c.mu.RUnlock()
		return token, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Before(c.expiresAt) {
		return c.token, nil
	}

	resp, err := c.requestToken(ctx)
	if err != nil {
		return "", err
	}
	c.token = resp.AccessToken
	ttl := time.Duration(resp.ExpiresIn) * time.Second
	if ttl > 2*tokenRefreshSkew {
		ttl -= tokenRefreshSkew
	}
	c.expiresAt = c.now().Add(ttl)
	return c.token, nil
}

func (c *Client) requestToken(ctx context.Context) (tokenResponse, error) {
	if c.apiKey == "" || c.secretKey == "" {
		return tokenResponse{}, domain.WrapError(domain.ErrOCR, "baidu token", fmt.Errorf("api key and secret key are required"))
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", c.apiKey)
	form.Set("client_secret", c.secretKey)

	var resp tokenResponse
	call := func(callCtx context.Context) error {
		resp = tokenResponse{}
		err := c.postForm(callCtx, c.tokenURL, form.Encode(), &resp, "token")
		c.observe("token", err)
		return err
	}
	if err := c.execute(ctx, "baidu.token", call); err != nil {
		return tokenResponse{}, wrapOCRError("baidu token", err)
	}
	if strings.TrimSpace(resp.AccessToken) == "" {
		detail := strings.TrimSpace(resp.Error + " " + resp.ErrorDescription)
		if detail == "" {
			detail = "response has no access_token"
		}
		return tokenResponse{}, domain.WrapError(domain.ErrOCR, "baidu token", fmt.Errorf("%s", detail))
	}
	return resp, nil
}

func (c *Client) invalidateToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == token {
		c.token = ""
		c.expiresAt = time.Time{}
	}
}
