package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	// BaseURL is the Stripe API base URL
	BaseURL = "https://api.stripe.com"
	// DefaultTimeout is the default HTTP client timeout
	DefaultTimeout = 30 * time.Second
	// Provider is the gateway name recorded on payments and webhook events
	Provider = "stripe"
)

// Client handles all payment-gateway API interactions. Stripe speaks
// form-encoded requests and JSON responses; the secret key goes in the
// Authorization header.
type Client struct {
	secretKey   string
	baseURL     string
	httpClient  *http.Client
	retryConfig RetryConfig
}

// Config holds configuration for the gateway client
type Config struct {
	SecretKey   string
	Timeout     time.Duration
	BaseURL     string // Overridable for tests
	RetryConfig *RetryConfig
}

// RetryConfig holds retry configuration for failed requests
type RetryConfig struct {
	MaxRetries     int           // Maximum number of retry attempts (default: 2)
	InitialBackoff time.Duration // Initial backoff duration (default: 500ms)
	MaxBackoff     time.Duration // Maximum backoff duration (default: 10s)
}

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     2,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
	}
}

// NewClient creates a new gateway API client
func NewClient(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}

	retryConfig := DefaultRetryConfig()
	if config.RetryConfig != nil {
		retryConfig = *config.RetryConfig
	}

	return &Client{
		secretKey: config.SecretKey,
		baseURL:   config.BaseURL,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		retryConfig: retryConfig,
	}
}

// CheckoutSession is the subset of the gateway session object the platform
// consumes. Metadata carries the user/course references set at creation.
type CheckoutSession struct {
	ID            string            `json:"id"`
	URL           string            `json:"url"`
	PaymentStatus string            `json:"payment_status"` // "paid", "unpaid", "no_payment_required"
	Status        string            `json:"status"`         // "open", "complete", "expired"
	AmountTotal   int64             `json:"amount_total"`
	Currency      string            `json:"currency"`
	CustomerEmail string            `json:"customer_email"`
	Metadata      map[string]string `json:"metadata"`
}

// IsPaid reports whether the session has been paid for.
func (s *CheckoutSession) IsPaid() bool {
	return s.PaymentStatus == "paid" || s.PaymentStatus == "no_payment_required"
}

// CheckoutParams holds the inputs for creating a checkout session.
type CheckoutParams struct {
	PriceID        string // gateway price reference for the course
	AmountCents    int64  // used with Currency/Name when no PriceID exists
	Currency       string
	Name           string
	SuccessURL     string
	CancelURL      string
	CustomerEmail  string
	ExternalUserID string // metadata: resolves the buyer on the webhook path
	CourseID       uint   // metadata: resolves the course on the webhook path
}

// APIError is a non-2xx response from the gateway.
type APIError struct {
	StatusCode int
	Type       string `json:"type"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("stripe: %d %s (%s)", e.StatusCode, e.Message, e.Code)
}

// CreateCheckoutSession creates a hosted checkout session and returns it.
// The caller redirects the buyer to session.URL.
func (c *Client) CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*CheckoutSession, error) {
	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("success_url", params.SuccessURL)
	form.Set("cancel_url", params.CancelURL)
	if params.CustomerEmail != "" {
		form.Set("customer_email", params.CustomerEmail)
	}
	if params.PriceID != "" {
		form.Set("line_items[0][price]", params.PriceID)
	} else {
		form.Set("line_items[0][price_data][currency]", params.Currency)
		form.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(params.AmountCents, 10))
		form.Set("line_items[0][price_data][product_data][name]", params.Name)
	}
	form.Set("line_items[0][quantity]", "1")
	form.Set("metadata[external_user_id]", params.ExternalUserID)
	form.Set("metadata[course_id]", strconv.FormatUint(uint64(params.CourseID), 10))

	var session CheckoutSession
	if err := c.doRequest(ctx, http.MethodPost, "/v1/checkout/sessions", form, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// RetrieveSession fetches a checkout session by id. Used on the synchronous
// return path to re-confirm payment status server-side, and by the pending
// payment sweep.
func (c *Client) RetrieveSession(ctx context.Context, sessionID string) (*CheckoutSession, error) {
	var session CheckoutSession
	endpoint := "/v1/checkout/sessions/" + url.PathEscape(sessionID)
	if err := c.doRequest(ctx, http.MethodGet, endpoint, nil, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// IsRetryableStatusCode checks if an HTTP status code should trigger a retry.
// Retryable codes: 408 (Timeout), 429 (Rate Limit), 5xx (Server errors)
func IsRetryableStatusCode(statusCode int) bool {
	return statusCode == 408 || statusCode == 429 || statusCode >= 500
}

// CalculateBackoff returns the backoff duration for a given retry attempt.
// Uses exponential backoff: initialBackoff * 2^attempt, capped at maxBackoff.
func CalculateBackoff(attempt int, config RetryConfig) time.Duration {
	backoff := config.InitialBackoff * time.Duration(1<<uint(attempt))
	if backoff > config.MaxBackoff {
		return config.MaxBackoff
	}
	return backoff
}

// doRequest performs a form-encoded HTTP request against the gateway API
// with retries on transient failures.
func (c *Client) doRequest(ctx context.Context, method, endpoint string, form url.Values, result interface{}) error {
	var lastErr error

	for attempt := 0; attempt <= c.retryConfig.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(CalculateBackoff(attempt-1, c.retryConfig)):
			}
		}

		var body io.Reader
		if form != nil {
			body = strings.NewReader(form.Encode())
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.secretKey)
		if form != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("failed to read response: %w", err)
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if result != nil {
				if err := json.Unmarshal(respBody, result); err != nil {
					return fmt.Errorf("failed to decode response: %w", err)
				}
			}
			return nil
		}

		apiErr := &APIError{StatusCode: resp.StatusCode}
		var wrapper struct {
			Error APIError `json:"error"`
		}
		if err := json.Unmarshal(respBody, &wrapper); err == nil && wrapper.Error.Message != "" {
			apiErr.Type = wrapper.Error.Type
			apiErr.Code = wrapper.Error.Code
			apiErr.Message = wrapper.Error.Message
		} else {
			apiErr.Message = strings.TrimSpace(string(respBody))
		}

		if !IsRetryableStatusCode(resp.StatusCode) {
			return apiErr
		}
		lastErr = apiErr
	}

	return fmt.Errorf("request failed after %d retries: %w", c.retryConfig.MaxRetries, lastErr)
}
