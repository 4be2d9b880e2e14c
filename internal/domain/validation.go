package domain

import (
	"fmt"
	"regexp"
)

// UUIDv4Regex validates lowercase UUIDv4 format
var UUIDv4Regex = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)

// ValidateUUID validates a UUID v4 format (lowercase with hyphens)
func ValidateUUID(uuid string) error {
	if !UUIDv4Regex.MatchString(uuid) {
		return fmt.Errorf("invalid UUID: must be lowercase UUIDv4 format (e.g., 550e8400-e29b-41d4-a716-446655440000)")
	}
	return nil
}

// ValidateTieBreak validates a tie-break policy
func ValidateTieBreak(tb string) error {
	switch TieBreak(tb) {
	case TieBreakSubscriber, TieBreakSMS:
		return nil
	default:
		return fmt.Errorf("invalid tie break: must be one of: subscriber, sms")
	}
}

// ValidateBatchSize validates a chunk or batch size
func ValidateBatchSize(name string, size int) error {
	if size < 1 {
		return fmt.Errorf("invalid %s: must be at least 1, got %d", name, size)
	}
	return nil
}

// MissingRelationError is returned when a User has no matching legacy record
// for one of its identity fields
type MissingRelationError struct {
	UserID   int64
	Relation ConsentSource
	Key      string
}

func (e *MissingRelationError) Error() string {
	return fmt.Sprintf("user %d: no %s found for %q", e.UserID, e.Relation, e.Key)
}
