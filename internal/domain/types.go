package domain

import (
	"fmt"
	"time"
)

// ConsentSource identifies which legacy table a consent value came from
type ConsentSource string

const (
	ConsentSourceSubscriber    ConsentSource = "subscriber"
	ConsentSourceSubscriberSMS ConsentSource = "subscriber_sms"
)

// TieBreak decides which legacy record wins when Subscriber and
// SubscriberSMS carry the same create_date
type TieBreak string

const (
	TieBreakSubscriber TieBreak = "subscriber"
	TieBreakSMS        TieBreak = "sms"
)

// Subscriber is a legacy email-only consent record
type Subscriber struct {
	ID          int64     `json:"id" db:"id"`
	CreateDate  time.Time `json:"create_date" db:"create_date"`
	Email       string    `json:"email" db:"email"`
	GDPRConsent bool      `json:"gdpr_consent" db:"gdpr_consent"`
}

// SubscriberSMS is a legacy phone-only consent record
type SubscriberSMS struct {
	ID          int64     `json:"id" db:"id"`
	CreateDate  time.Time `json:"create_date" db:"create_date"`
	Phone       string    `json:"phone" db:"phone"`
	GDPRConsent bool      `json:"gdpr_consent" db:"gdpr_consent"`
}

// Client links one email to one phone. Phones may repeat across clients.
type Client struct {
	ID         int64     `json:"id" db:"id"`
	CreateDate time.Time `json:"create_date" db:"create_date"`
	Email      string    `json:"email" db:"email"`
	Phone      string    `json:"phone" db:"phone"`
}

// User is the unified identity record
type User struct {
	ID          int64     `json:"id" db:"id"`
	CreateDate  time.Time `json:"create_date" db:"create_date"`
	Email       *string   `json:"email,omitempty" db:"email"`
	Phone       *string   `json:"phone,omitempty" db:"phone"`
	GDPRConsent bool      `json:"gdpr_consent" db:"gdpr_consent"`
}

// HasEmailAndPhone reports whether both identity fields are populated
func (u *User) HasEmailAndPhone() bool {
	return u.Email != nil && u.Phone != nil
}

func (u *User) String() string {
	email, phone := "N/A", "N/A"
	if u.Email != nil && *u.Email != "" {
		email = *u.Email
	}
	if u.Phone != nil && *u.Phone != "" {
		phone = *u.Phone
	}
	return fmt.Sprintf("User: %s / %s", email, phone)
}

// DuplicatedPhone is one client whose phone is shared with at least one other client
type DuplicatedPhone struct {
	ClientID int64  `json:"client_id"`
	Phone    string `json:"phone"`
}

// SubscriberConflict is a Subscriber whose derived phone is already claimed by a different User
type SubscriberConflict struct {
	SubscriberID int64  `json:"subscriber_id"`
	Email        string `json:"email"`
}

// SubscriberSMSConflict is a SubscriberSMS whose derived email is already claimed by a different User
type SubscriberSMSConflict struct {
	SubscriberSMSID int64  `json:"subscriber_sms_id"`
	Phone           string `json:"phone"`
}

// Event represents an entry in the event log
type Event struct {
	ID           int64     `json:"id" db:"id"`
	RunUUID      string    `json:"run_uuid" db:"run_uuid"`
	EventType    string    `json:"event_type" db:"event_type"`
	ResourceType string    `json:"resource_type" db:"resource_type"`
	ResourceID   *int64    `json:"resource_id,omitempty" db:"resource_id"`
	Payload      *string   `json:"payload,omitempty" db:"payload"` // JSON
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// StringPtr returns a pointer to s
func StringPtr(s string) *string {
	return &s
}
