package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lherron/subsync/internal/domain"
)

// SubscriberStore reads the legacy email subscribers table.
type SubscriberStore struct {
	store *Store
}

// GetByEmail returns the subscriber with the given email, or nil if not found.
func (ss *SubscriberStore) GetByEmail(ctx context.Context, email string) (*domain.Subscriber, error) {
	var sub domain.Subscriber
	err := ss.store.queryRow(ctx, `
		SELECT id, create_date, email, gdpr_consent
		FROM subscribers WHERE email = ?
	`, email).Scan(&sub.ID, &sub.CreateDate, &sub.Email, &sub.GDPRConsent)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscriber %q: %w", email, err)
	}
	return &sub, nil
}

// Iterate calls fn for every subscriber in ascending id order, reading
// chunkSize rows at a time.
func (ss *SubscriberStore) Iterate(ctx context.Context, chunkSize int, fn func(*domain.Subscriber) error) error {
	return iterate(ctx, ss.store, `
		SELECT id, create_date, email, gdpr_consent
		FROM subscribers WHERE id > ? ORDER BY id LIMIT ?
	`, chunkSize, func(rows *sql.Rows) (*domain.Subscriber, int64, error) {
		var sub domain.Subscriber
		err := rows.Scan(&sub.ID, &sub.CreateDate, &sub.Email, &sub.GDPRConsent)
		return &sub, sub.ID, err
	}, fn)
}

// SubscriberSMSStore reads the legacy SMS subscribers table.
type SubscriberSMSStore struct {
	store *Store
}

// GetByPhone returns the SMS subscriber with the given phone, or nil if not found.
func (ss *SubscriberSMSStore) GetByPhone(ctx context.Context, phone string) (*domain.SubscriberSMS, error) {
	var sms domain.SubscriberSMS
	err := ss.store.queryRow(ctx, `
		SELECT id, create_date, phone, gdpr_consent
		FROM subscriber_sms WHERE phone = ?
	`, phone).Scan(&sms.ID, &sms.CreateDate, &sms.Phone, &sms.GDPRConsent)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get SMS subscriber %q: %w", phone, err)
	}
	return &sms, nil
}

// Iterate calls fn for every SMS subscriber in ascending id order.
func (ss *SubscriberSMSStore) Iterate(ctx context.Context, chunkSize int, fn func(*domain.SubscriberSMS) error) error {
	return iterate(ctx, ss.store, `
		SELECT id, create_date, phone, gdpr_consent
		FROM subscriber_sms WHERE id > ? ORDER BY id LIMIT ?
	`, chunkSize, func(rows *sql.Rows) (*domain.SubscriberSMS, int64, error) {
		var sms domain.SubscriberSMS
		err := rows.Scan(&sms.ID, &sms.CreateDate, &sms.Phone, &sms.GDPRConsent)
		return &sms, sms.ID, err
	}, fn)
}

// ClientStore reads the client roster.
type ClientStore struct {
	store *Store
}

// GetByEmail returns the client with the given email, or nil if not found.
func (cs *ClientStore) GetByEmail(ctx context.Context, email string) (*domain.Client, error) {
	var c domain.Client
	err := cs.store.queryRow(ctx, `
		SELECT id, create_date, email, phone
		FROM clients WHERE email = ?
	`, email).Scan(&c.ID, &c.CreateDate, &c.Email, &c.Phone)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get client %q: %w", email, err)
	}
	return &c, nil
}

// FirstByPhone returns the lowest-id client with the given phone, or nil if none.
func (cs *ClientStore) FirstByPhone(ctx context.Context, phone string) (*domain.Client, error) {
	var c domain.Client
	err := cs.store.queryRow(ctx, `
		SELECT id, create_date, email, phone
		FROM clients WHERE phone = ? ORDER BY id LIMIT 1
	`, phone).Scan(&c.ID, &c.CreateDate, &c.Email, &c.Phone)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get client by phone %q: %w", phone, err)
	}
	return &c, nil
}

// ListByPhone returns every client sharing the given phone, ordered by id.
func (cs *ClientStore) ListByPhone(ctx context.Context, phone string) ([]domain.Client, error) {
	rows, err := cs.store.db.QueryContext(ctx, cs.store.db.Rebind(`
		SELECT id, create_date, email, phone
		FROM clients WHERE phone = ? ORDER BY id
	`), phone)
	if err != nil {
		return nil, fmt.Errorf("failed to list clients by phone %q: %w", phone, err)
	}
	defer rows.Close()

	var clients []domain.Client
	for rows.Next() {
		var c domain.Client
		if err := rows.Scan(&c.ID, &c.CreateDate, &c.Email, &c.Phone); err != nil {
			return nil, fmt.Errorf("failed to scan client: %w", err)
		}
		clients = append(clients, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating clients: %w", err)
	}

	return clients, nil
}
