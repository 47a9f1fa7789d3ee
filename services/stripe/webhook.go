package stripe

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultTolerance is how far a webhook timestamp may drift from now
// before the signature is rejected as a possible replay.
const DefaultTolerance = 5 * time.Minute

var (
	ErrInvalidSignature = errors.New("webhook signature verification failed")
	ErrStaleTimestamp   = errors.New("webhook timestamp outside tolerance")
	ErrMalformedHeader  = errors.New("malformed signature header")
)

// Event is a signed asynchronous notification from the gateway.
type Event struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// SubscriptionObject is the subset of the gateway subscription object
// consumed by subscription lifecycle events.
type SubscriptionObject struct {
	ID               string            `json:"id"`
	Status           string            `json:"status"`
	CurrentPeriodEnd int64             `json:"current_period_end"`
	Metadata         map[string]string `json:"metadata"`
	Items            struct {
		Data []struct {
			Price struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

// VerifySignature validates a Stripe-Signature header against the raw
// request body. The header carries a unix timestamp and one or more v1
// HMAC-SHA256 signatures over "<timestamp>.<payload>". Verification must
// happen on the raw bytes before any JSON decoding.
func VerifySignature(payload []byte, header, secret string, tolerance time.Duration) error {
	if header == "" {
		return ErrMalformedHeader
	}

	var timestamp int64
	var signatures []string

	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			ts, err := strconv.ParseInt(kv[1], 10, 64)
			if err != nil {
				return ErrMalformedHeader
			}
			timestamp = ts
		case "v1":
			signatures = append(signatures, kv[1])
		}
	}

	if timestamp == 0 || len(signatures) == 0 {
		return ErrMalformedHeader
	}

	if tolerance > 0 {
		drift := time.Since(time.Unix(timestamp, 0))
		if drift > tolerance || drift < -tolerance {
			return ErrStaleTimestamp
		}
	}

	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", timestamp)
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, sig := range signatures {
		if hmac.Equal([]byte(expected), []byte(sig)) {
			return nil
		}
	}
	return ErrInvalidSignature
}

// ParseEvent decodes a verified webhook payload.
func ParseEvent(payload []byte) (*Event, error) {
	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("failed to decode event: %w", err)
	}
	if event.ID == "" || event.Type == "" {
		return nil, errors.New("event missing id or type")
	}
	return &event, nil
}

// SignPayload produces a Stripe-Signature header value for a payload.
// Used by tests and the local webhook replay tooling.
func SignPayload(payload []byte, secret string, at time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", at.Unix())
	mac.Write(payload)
	return fmt.Sprintf("t=%d,v1=%s", at.Unix(), hex.EncodeToString(mac.Sum(nil)))
}
