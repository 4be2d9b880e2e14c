package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestValidateUUID(t *testing.T) {
	if err := ValidateUUID("550e8400-e29b-41d4-a716-446655440000"); err != nil {
		t.Errorf("expected valid UUID, got %v", err)
	}
	for _, bad := range []string{"", "not-a-uuid", "550E8400-E29B-41D4-A716-446655440000"} {
		if err := ValidateUUID(bad); err == nil {
			t.Errorf("expected %q to be rejected", bad)
		}
	}
}

func TestValidateTieBreak(t *testing.T) {
	for _, ok := range []string{"subscriber", "sms"} {
		if err := ValidateTieBreak(ok); err != nil {
			t.Errorf("ValidateTieBreak(%q) unexpected error: %v", ok, err)
		}
	}
	for _, bad := range []string{"", "user", "SMS"} {
		if err := ValidateTieBreak(bad); err == nil {
			t.Errorf("ValidateTieBreak(%q) expected error", bad)
		}
	}
}

func TestValidateBatchSize(t *testing.T) {
	if err := ValidateBatchSize("chunk_size", 1); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidateBatchSize("chunk_size", 0); err == nil {
		t.Error("expected error for zero size")
	}
}

func TestMissingRelationError(t *testing.T) {
	var err error = fmt.Errorf("wrapped: %w", &MissingRelationError{UserID: 7, Relation: ConsentSourceSubscriberSMS, Key: "555"})

	var mre *MissingRelationError
	if !errors.As(err, &mre) {
		t.Fatal("expected errors.As to find MissingRelationError")
	}
	if mre.UserID != 7 {
		t.Errorf("expected user 7, got %d", mre.UserID)
	}
	want := `user 7: no subscriber_sms found for "555"`
	if mre.Error() != want {
		t.Errorf("Error() = %q, want %q", mre.Error(), want)
	}
}
