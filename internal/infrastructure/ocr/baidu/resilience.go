package baidu

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/kirillkom/essay-grading-pipeline/internal/core/domain"
	"github.com/kirillkom/essay-grading-pipeline/internal/infrastructure/resilience"
)

type HTTPStatusError struct {
	Operation  string
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e == nil {
		return "baidu status error"
	}
	if strings.TrimSpace(e.Body) == "" {
		return fmt.Sprintf("baidu %s status: %s", e.Operation, e.Status)
	}
	return fmt.Sprintf("baidu %s status: %s: %s", e.Operation, e.Status, strings.TrimSpace(e.Body))
}

// APIError is an error_code reported in a 200 response body.
type APIError struct {
	Operation string
	Code      int
	Message   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("baidu %s error_code %d: %s", e.Operation, e.Code, e.Message)
}

// Retryable covers internal errors and the QPS limit.
func (e *APIError) Retryable() bool {
	switch e.Code {
	case 2, 18, 282000:
		return true
	default:
		return false
	}
}

// TokenInvalid reports an expired or rejected access token.
func (e *APIError) TokenInvalid() bool {
	return e.Code == 110 || e.Code == 111
}

func classifyBaiduError(err error) resilience.ErrorClassification {
	if err == nil {
		return resilience.ErrorClassification{}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return resilience.ErrorClassification{
			Retryable:     false,
			RecordFailure: false,
		}
	}
	if resilience.IsCircuitOpen(err) {
		return resilience.ErrorClassification{
			Retryable:     false,
			RecordFailure: true,
		}
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return resilience.ErrorClassification{
			Retryable:     apiErr.Retryable(),
			RecordFailure: apiErr.Retryable(),
		}
	}

	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		retryable := isRetryableHTTPStatus(statusErr.StatusCode)
		return resilience.ErrorClassification{
			Retryable:     retryable,
			RecordFailure: retryable,
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return resilience.ErrorClassification{
			Retryable:     true,
			RecordFailure: true,
		}
	}

	return resilience.ErrorClassification{
		Retryable:     false,
		RecordFailure: true,
	}
}

// wrapOCRError tags provider failures as ErrOCR and transient ones as ErrTemporary as well.
func wrapOCRError(operation string, err error) error {
	if err == nil {
		return nil
	}
	if domain.IsKind(err, domain.ErrOCR) {
		return err
	}
	class := classifyBaiduError(err)
	if class.Retryable || resilience.IsCircuitOpen(err) {
		err = domain.WrapError(domain.ErrTemporary, operation, err)
	}
	return domain.WrapError(domain.ErrOCR, operation, err)
}

func isRetryableHTTPStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
