// Package baidu calls the Baidu general text recognition API.
package baidu

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/kirillkom/essay-grading-pipeline/internal/core/domain"
	"github.com/kirillkom/essay-grading-pipeline/internal/infrastructure/resilience"
)

type Config struct {
	APIKey     string
	SecretKey  string
	TokenURL   string
	GeneralURL string

	// QPS paces recognize calls; zero disables pacing.
	QPS        float64
	HTTPClient *http.Client
	Executor   *resilience.Executor
	// OnCall observes every provider round trip.
	OnCall func(operation string, err error)
}

type Client struct {
	apiKey     string
	secretKey  string
	tokenURL   string
	generalURL string

	httpClient *http.Client
	executor   *resilience.Executor
	limiter    *rate.Limiter
	onCall     func(string, error)
	now        func() time.Time

	mu        sync.RWMutex
	token     string
	expiresAt time.Time
}

func New(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	var limiter *rate.Limiter
	if cfg.QPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.QPS), 1)
	}
	return &Client{
		apiKey:     cfg.APIKey,
		secretKey:  cfg.SecretKey,
		tokenURL:   cfg.TokenURL,
		generalURL: cfg.GeneralURL,
		httpClient: httpClient,
		executor:   cfg.Executor,
		limiter:    limiter,
		onCall:     cfg.OnCall,
		now:        time.Now,
	}
}

type wordsResult struct {
	Words string `json:"words"`
}

type recognizeResponse struct {
	LogID          int64         `json:"log_id"`
	WordsResultNum int           `json:"words_result_num"`
	WordsResult    []wordsResult `json:"words_result"`
	ErrorCode      int           `json:"error_code"`
	ErrorMsg       string        `json:"error_msg"`
}

// Recognize posts a base64 encoded image and joins the recognized lines in
// reading order. No detected text is a valid empty result.
func (c *Client) Recognize(ctx context.Context, image []byte, token string) (string, error) {
	if len(image) == 0 {
		return "", domain.WrapError(domain.ErrInvalidInput, "baidu recognize", fmt.Errorf("empty image"))
	}
	if strings.TrimSpace(token) == "" {
		return "", domain.WrapError(domain.ErrOCR, "baidu recognize", fmt.Errorf("missing access token"))
	}

	form := url.Values{}
	form.Set("image", base64.StdEncoding.EncodeToString(image))
	body := form.Encode()
	endpoint := c.generalURL + "?access_token=" + url.QueryEscape(token)

	var lines []string
	call := func(callCtx context.Context) error {
		if c.limiter != nil {
			if err := c.limiter.Wait(callCtx); err != nil {
				return err
			}
		}
		var resp recognizeResponse
		err := c.postForm(callCtx, endpoint, body, &resp, "recognize")
		if err == nil && resp.ErrorCode != 0 {
			err = &APIError{Operation: "recognize", Code: resp.ErrorCode, Message: resp.ErrorMsg}
		}
		c.observe("recognize", err)
		if err != nil {
			return err
		}
		lines = lines[:0]
		for _, w := range resp.WordsResult {
			lines = append(lines, w.Words)
		}
		return nil
	}

	if err := c.execute(ctx, "baidu.recognize", call); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.TokenInvalid() {
			c.invalidateToken(token)
			err = domain.WrapError(domain.ErrOCRTokenExpired, "access token", err)
		}
		return "", wrapOCRError("baidu recognize", err)
	}
	return strings.Join(lines, "\n"), nil
}

func (c *Client) execute(ctx context.Context, operation string, call func(context.Context) error) error {
	if c.executor == nil {
		return call(ctx)
	}
	return c.executor.Execute(ctx, operation, call, classifyBaiduError)
}

func (c *Client) postForm(ctx context.Context, endpoint, body string, out any, operation string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("baidu %s request: %w", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &HTTPStatusError{
			Operation:  operation,
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(raw),
		}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", operation, err)
	}
	return nil
}

func (c *Client) observe(operation string, err error) {
	if c.onCall != nil {
		c.onCall(operation, err)
	}
}
