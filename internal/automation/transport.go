package automation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultTransportTimeout = 30 * time.Second

// Transport executes one raw call against the automation service. The
// retry/backoff contract lives in Client, never here.
type Transport interface {
	Do(ctx context.Context, endpoint string, payload Payload) ([]byte, error)
}

// HTTPTransport posts payloads to a browser-automation backend over HTTP.
type HTTPTransport struct {
	client  *resty.Client
	baseURL string
}

func NewHTTPTransport(baseURL string) (*HTTPTransport, error) {
	client := resty.New()
	client.SetTimeout(defaultTransportTimeout)
	client.SetRetryCount(0)

	return NewHTTPTransportWithClient(baseURL, client)
}

func NewHTTPTransportWithClient(baseURL string, client *resty.Client) (*HTTPTransport, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, fmt.Errorf("automation base url is required")
	}
	if _, err := url.ParseRequestURI(trimmed); err != nil {
		return nil, fmt.Errorf("invalid automation base url: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultTransportTimeout)
	}
	client.SetRetryCount(0)

	return &HTTPTransport{
		client:  client,
		baseURL: trimmed,
	}, nil
}

func (t *HTTPTransport) Do(ctx context.Context, endpoint string, payload Payload) ([]byte, error) {
	if t == nil || t.client == nil {
		return nil, fmt.Errorf("transport is not initialized")
	}
	if strings.TrimSpace(endpoint) == "" {
		return nil, fmt.Errorf("endpoint is required")
	}

	response, err := t.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		Post(fmt.Sprintf("%s/%s", t.baseURL, endpoint))
	if err != nil {
		return nil, &Error{
			Message:   fmt.Sprintf("automation request to %q failed", endpoint),
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}
	if response == nil {
		return nil, &Error{
			Message:   "automation service returned empty response",
			Transient: true,
		}
	}

	statusCode := response.StatusCode()
	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return response.Body(), nil
	}

	return nil, &Error{
		StatusCode: statusCode,
		Message:    statusErrorMessage(endpoint, statusCode, strings.TrimSpace(response.String())),
		Transient:  isTransientHTTPStatus(statusCode),
	}
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}

func statusErrorMessage(endpoint string, statusCode int, body string) string {
	base := fmt.Sprintf("endpoint %q returned status %d", endpoint, statusCode)
	if body == "" {
		return base
	}
	return fmt.Sprintf("%s: %s", base, body)
}
