package twiliowhatsapp

import (
	"context"
	"errors"
	"testing"
)

func TestMockClient_SendMessage(t *testing.T) {
	ctx := context.Background()
	mock := NewMockClient()

	err := mock.SendMessage(ctx, "12345", "Hello Test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(mock.SentMessages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(mock.SentMessages))
	}

	if mock.SentMessages[0].Body != "Hello Test" {
		t.Errorf("expected body %q, got %q", "Hello Test", mock.SentMessages[0].Body)
	}
}

func TestNewClientValidation(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "")
	t.Setenv("TWILIO_AUTH_TOKEN", "")
	t.Setenv("TWILIO_FROM_NUMBER", "")

	if _, err := NewClient(WithAccountSID("AC123")); !errors.Is(err, ErrMissingCredentials) {
		t.Errorf("expected ErrMissingCredentials, got %v", err)
	}
	if _, err := NewClient(WithAccountSID("AC123"), WithAuthToken("secret")); !errors.Is(err, ErrMissingFrom) {
		t.Errorf("expected ErrMissingFrom, got %v", err)
	}

	c, err := NewClient(WithAccountSID("AC123"), WithAuthToken("secret"), WithFromWhats("+15550100000"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.fromWhats != "whatsapp:+15550100000" {
		t.Errorf("expected prefixed from number, got %q", c.fromWhats)
	}
}

func TestNewClientFromEnvironment(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "AC123")
	t.Setenv("TWILIO_AUTH_TOKEN", "secret")
	t.Setenv("TWILIO_FROM_NUMBER", "whatsapp:+15550100000")

	c, err := NewClient()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.fromWhats != "whatsapp:+15550100000" {
		t.Errorf("expected from number kept, got %q", c.fromWhats)
	}
}

func TestAddress(t *testing.T) {
	tests := map[string]string{
		"+15550100000":          "whatsapp:+15550100000",
		" +15550100000 ":        "whatsapp:+15550100000",
		"whatsapp:+15550100000": "whatsapp:+15550100000",
	}
	for in, want := range tests {
		if got := Address(in); got != want {
			t.Errorf("Address(%q) = %q, want %q", in, got, want)
		}
	}
}
