package stripe

import (
	"errors"
	"testing"
	"time"
)

func TestVerifySignature(t *testing.T) {
	payload := []byte(`{"id":"evt_1","type":"checkout.session.completed"}`)
	secret := "whsec_test"

	header := SignPayload(payload, secret, time.Now())
	if err := VerifySignature(payload, header, secret, DefaultTolerance); err != nil {
		t.Fatalf("valid signature rejected: %v", err)
	}
}

func TestVerifySignatureWrongSecret(t *testing.T) {
	payload := []byte(`{"id":"evt_1"}`)

	header := SignPayload(payload, "whsec_other", time.Now())
	err := VerifySignature(payload, header, "whsec_test", DefaultTolerance)
	if !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestVerifySignatureTamperedPayload(t *testing.T) {
	payload := []byte(`{"id":"evt_1","amount":100}`)
	secret := "whsec_test"

	header := SignPayload(payload, secret, time.Now())
	tampered := []byte(`{"id":"evt_1","amount":999}`)

	err := VerifySignature(tampered, header, secret, DefaultTolerance)
	if !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("expected ErrInvalidSignature for tampered payload, got %v", err)
	}
}

func TestVerifySignatureStaleTimestamp(t *testing.T) {
	payload := []byte(`{"id":"evt_1"}`)
	secret := "whsec_test"

	header := SignPayload(payload, secret, time.Now().Add(-time.Hour))
	err := VerifySignature(payload, header, secret, DefaultTolerance)
	if !errors.Is(err, ErrStaleTimestamp) {
		t.Errorf("expected ErrStaleTimestamp, got %v", err)
	}

	// Zero tolerance disables the replay check entirely.
	if err := VerifySignature(payload, header, secret, 0); err != nil {
		t.Errorf("tolerance 0 should skip the timestamp check, got %v", err)
	}
}

func TestVerifySignatureMalformedHeader(t *testing.T) {
	payload := []byte(`{}`)

	cases := []string{
		"",
		"t=notanumber,v1=abc",
		"v1=abc",
		"t=12345",
	}
	for _, header := range cases {
		err := VerifySignature(payload, header, "whsec_test", DefaultTolerance)
		if !errors.Is(err, ErrMalformedHeader) {
			t.Errorf("header %q: expected ErrMalformedHeader, got %v", header, err)
		}
	}
}

func TestParseEvent(t *testing.T) {
	payload := []byte(`{"id":"evt_1","type":"checkout.session.completed","created":1700000000,"data":{"object":{"id":"cs_1"}}}`)

	event, err := ParseEvent(payload)
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	if event.ID != "evt_1" || event.Type != "checkout.session.completed" {
		t.Errorf("unexpected event: %+v", event)
	}
	if len(event.Data.Object) == 0 {
		t.Error("expected raw object payload")
	}
}

func TestParseEventRejectsMissingFields(t *testing.T) {
	if _, err := ParseEvent([]byte(`{"type":"x"}`)); err == nil {
		t.Error("expected error for missing id")
	}
	if _, err := ParseEvent([]byte(`not json`)); err == nil {
		t.Error("expected error for invalid JSON")
	}
}
