package models_test

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/example/payments-gateway/internal/models"
)

func decode(t *testing.T, payload string) models.PaymentCreationRequest {
	t.Helper()
	var req models.PaymentCreationRequest
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		t.Fatalf("decode %s: %v", payload, err)
	}
	return req
}

func TestNormalizeAppliesDefaults(t *testing.T) {
	cases := map[string]string{
		"name only":     `{"name":"Bad"}`,
		"explicit null": `{"name":"Bad","description":null,"price":null,"userId":null,"categoryId":null}`,
	}

	for name, payload := range cases {
		payload := payload
		t.Run(name, func(t *testing.T) {
			cmd, err := decode(t, payload).Normalize()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			want := models.CreatePaymentCommand{
				Name:        "Bad",
				Description: "",
				Price:       0,
				UserID:      uuid.Nil,
				CategoryID:  uuid.Nil,
			}
			if cmd != want {
				t.Fatalf("command = %+v, want %+v", cmd, want)
			}
		})
	}
}

func TestNormalizeKeepsPresentValues(t *testing.T) {
	userID := uuid.New()
	categoryID := uuid.New()
	payload := `{"name":"Widget","price":9.99,"userId":"` + userID.String() + `","categoryId":"` + categoryID.String() + `"}`

	cmd, err := decode(t, payload).Normalize()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cmd.Name != "Widget" || cmd.Price != 9.99 {
		t.Fatalf("unexpected command %+v", cmd)
	}
	if cmd.Description != "" {
		t.Fatalf("expected empty description, got %q", cmd.Description)
	}
	if cmd.UserID != userID || cmd.CategoryID != categoryID {
		t.Fatalf("identifiers not preserved: %+v", cmd)
	}
}

func TestNormalizeExplicitZeroPrice(t *testing.T) {
	cmd, err := decode(t, `{"name":"Free","price":0,"description":"gift"}`).Normalize()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cmd.Price != 0 || cmd.Description != "gift" {
		t.Fatalf("unexpected command %+v", cmd)
	}
}

func TestNormalizeRequiresName(t *testing.T) {
	_, err := decode(t, `{"price":1}`).Normalize()
	if !errors.Is(err, models.ErrNameRequired) {
		t.Fatalf("expected ErrNameRequired, got %v", err)
	}
}

func TestDecodeMatchesKeysExactly(t *testing.T) {
	cases := map[string]string{
		"upper case": `{"NAME":"Widget"}`,
		"title case": `{"Name":"Widget","Price":5}`,
		"mixed case": `{"nAmE":"Widget"}`,
	}

	for name, payload := range cases {
		payload := payload
		t.Run(name, func(t *testing.T) {
			_, err := decode(t, payload).Normalize()
			if !errors.Is(err, models.ErrNameRequired) {
				t.Fatalf("expected ErrNameRequired, got %v", err)
			}
		})
	}
}

func TestDecodeIgnoresCaseMismatchedOptionalKeys(t *testing.T) {
	cmd, err := decode(t, `{"name":"Widget","PRICE":12.5,"UserId":"7c9e6679-7425-40de-944b-e07fc1f90ae7"}`).Normalize()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cmd.Price != 0 || cmd.UserID != uuid.Nil {
		t.Fatalf("case-mismatched keys must not be applied, got %+v", cmd)
	}
}

func TestDecodeReportsFieldOnTypeMismatch(t *testing.T) {
	var req models.PaymentCreationRequest
	err := json.Unmarshal([]byte(`{"name":"Widget","price":"cheap"}`), &req)
	if err == nil {
		t.Fatal("expected type error")
	}
	if got := err.Error(); !strings.HasPrefix(got, "price:") {
		t.Fatalf("expected error prefixed with field name, got %q", got)
	}
}

func TestCreateResultSucceeded(t *testing.T) {
	if !(models.CreateResult{Status: models.StatusSuccess}).Succeeded() {
		t.Fatalf("expected success status to succeed")
	}
	for _, status := range []string{models.StatusFail, models.StatusError, ""} {
		if (models.CreateResult{Status: status}).Succeeded() {
			t.Fatalf("status %q must not count as success", status)
		}
	}
}
