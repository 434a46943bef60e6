package provider

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

const defaultUserAgent = "pricewatch/1.0"

// NewRestClient builds the resty client shared by the HTTP adapters.
func NewRestClient(baseURL string, timeout time.Duration) *resty.Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	client := resty.New()
	client.SetTimeout(timeout)
	client.SetBaseURL(strings.TrimRight(baseURL, "/"))
	client.SetHeader("Accept", "application/json")
	client.SetHeader("User-Agent", defaultUserAgent)
	return client
}

// CheckResponse converts transport failures and non-2xx statuses into AdapterErrors.
// It returns found=false for 404 so lookups can report a clean miss.
func CheckResponse(source, op string, resp *resty.Response, err error) (bool, error) {
	if err != nil {
		return false, &AdapterError{Source: source, Op: op, Err: err}
	}
	switch code := resp.StatusCode(); {
	case code == http.StatusNotFound:
		return false, nil
	case code < 200 || code >= 300:
		return false, &AdapterError{Source: source, Op: op, StatusCode: code, Err: fmt.Errorf("unexpected response: %s", truncate(resp.Body(), 200))}
	}
	return true, nil
}

// DecodeError wraps a malformed payload.
func DecodeError(source, op string, err error) error {
	return &AdapterError{Source: source, Op: op, Err: fmt.Errorf("decode payload: %w", err)}
}

// ErrMissingCredentials is wrapped by adapters constructed without an API key.
var ErrMissingCredentials = errors.New("missing api credentials")

// DollarsToCents converts a major-unit amount to minor units, rounding half away from zero.
func DollarsToCents(v float64) int64 {
	return decimal.NewFromFloat(v).Shift(2).Round(0).IntPart()
}

// ParseCents parses a decimal string such as "1,299.99" or "$12.50" into minor units.
func ParseCents(s string) (int64, error) {
	cleaned := strings.NewReplacer(",", "", "$", "", " ", "").Replace(strings.TrimSpace(s))
	if cleaned == "" {
		return 0, errors.New("empty price")
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return 0, fmt.Errorf("parse price %q: %w", s, err)
	}
	return d.Shift(2).Round(0).IntPart(), nil
}

// NormalizeItemNumber appends the default "-1" variant when none is given.
func NormalizeItemNumber(n string) string {
	n = strings.TrimSpace(n)
	if n == "" || strings.Contains(n, "-") {
		return n
	}
	return n + "-1"
}

func truncate(b []byte, maxLen int) string {
	if len(b) <= maxLen {
		return string(b)
	}
	return string(b[:maxLen]) + "..."
}
