package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lherron/subsync/internal/bulk"
	"github.com/lherron/subsync/internal/domain"
	"github.com/lherron/subsync/internal/events"
)

const userColumns = "id, create_date, email, phone, gdpr_consent"

// UserStore handles unified user persistence operations.
type UserStore struct {
	store *Store
}

func scanUser(row interface{ Scan(...any) error }) (*domain.User, error) {
	var u domain.User
	if err := row.Scan(&u.ID, &u.CreateDate, &u.Email, &u.Phone, &u.GDPRConsent); err != nil {
		return nil, err
	}
	return &u, nil
}

// Get returns the user with the given id, or nil if not found.
func (us *UserStore) Get(ctx context.Context, id int64) (*domain.User, error) {
	u, err := scanUser(us.store.queryRow(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user %d: %w", id, err)
	}
	return u, nil
}

// Count returns the number of users.
func (us *UserStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := us.store.queryRow(ctx, "SELECT COUNT(*) FROM users").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return n, nil
}

// ExistsByEmail reports whether any user has the given email.
func (us *UserStore) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	ok, err := us.store.exists(ctx, "SELECT 1 FROM users WHERE email = ? LIMIT 1", email)
	if err != nil {
		return false, fmt.Errorf("failed to check user email %q: %w", email, err)
	}
	return ok, nil
}

// ExistsByPhone reports whether any user has the given phone.
func (us *UserStore) ExistsByPhone(ctx context.Context, phone string) (bool, error) {
	ok, err := us.store.exists(ctx, "SELECT 1 FROM users WHERE phone = ? LIMIT 1", phone)
	if err != nil {
		return false, fmt.Errorf("failed to check user phone %q: %w", phone, err)
	}
	return ok, nil
}

// FindByPhoneExcludingEmail returns the first user that holds phone under a
// different or missing email, or nil if none.
func (us *UserStore) FindByPhoneExcludingEmail(ctx context.Context, phone, email string) (*domain.User, error) {
	u, err := scanUser(us.store.queryRow(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE phone = ? AND (email IS NULL OR email <> ?)
		ORDER BY id LIMIT 1
	`, phone, email))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by phone %q: %w", phone, err)
	}
	return u, nil
}

// FindByEmailExcludingPhone returns the first user that holds email under a
// different or missing phone, or nil if none.
func (us *UserStore) FindByEmailExcludingPhone(ctx context.Context, email, phone string) (*domain.User, error) {
	u, err := scanUser(us.store.queryRow(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE email = ? AND (phone IS NULL OR phone <> ?)
		ORDER BY id LIMIT 1
	`, email, phone))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email %q: %w", email, err)
	}
	return u, nil
}

// IterateWithEmailAndPhone calls fn for every user whose email and phone are
// both set, in ascending id order.
func (us *UserStore) IterateWithEmailAndPhone(ctx context.Context, chunkSize int, fn func(*domain.User) error) error {
	return iterate(ctx, us.store, `
		SELECT `+userColumns+` FROM users
		WHERE email IS NOT NULL AND phone IS NOT NULL AND id > ?
		ORDER BY id LIMIT ?
	`, chunkSize, func(rows *sql.Rows) (*domain.User, int64, error) {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		return u, u.ID, nil
	}, fn)
}

// BulkCreate inserts users in batches of batchSize inside a single
// transaction and logs a users.created event. Either every user is
// inserted or none is. Users without a create date get the current time.
func (us *UserStore) BulkCreate(ctx context.Context, runUUID string, users []*domain.User, batchSize int) (*bulk.Result, error) {
	result := &bulk.Result{TotalItems: len(users)}
	if len(users) == 0 {
		return result, nil
	}

	now := time.Now().UTC()

	err := us.store.withTx(ctx, func(tx *sql.Tx, ew *events.Writer) error {
		result = bulk.Execute(bulk.Operation{BatchSize: batchSize}, users, func(batch []*domain.User) error {
			return us.insertBatch(ctx, tx, batch, now)
		})
		if err := result.Err(); err != nil {
			return fmt.Errorf("failed to insert users: %w", err)
		}

		payload, err := json.Marshal(map[string]any{
			"count":   result.Succeeded,
			"batches": result.Batches,
		})
		if err != nil {
			return fmt.Errorf("failed to marshal event payload: %w", err)
		}
		payloadStr := string(payload)

		if err := ew.LogEvent(ctx, tx, &domain.Event{
			RunUUID:      runUUID,
			EventType:    events.TypeUsersCreated,
			ResourceType: events.ResourceTypeUser,
			Payload:      &payloadStr,
		}); err != nil {
			return fmt.Errorf("failed to log event: %w", err)
		}
		return nil
	})
	if err != nil {
		result.Failed = result.TotalItems
		result.Succeeded = 0
		return result, err
	}

	return result, nil
}

func (us *UserStore) insertBatch(ctx context.Context, tx *sql.Tx, batch []*domain.User, now time.Time) error {
	values := make([]string, 0, len(batch))
	args := make([]any, 0, len(batch)*4)
	for _, u := range batch {
		created := u.CreateDate
		if created.IsZero() {
			created = now
		}
		values = append(values, "(?, ?, ?, ?)")
		args = append(args, created.UTC(), u.Email, u.Phone, u.GDPRConsent)
	}

	query := "INSERT INTO users (create_date, email, phone, gdpr_consent) VALUES " + strings.Join(values, ", ")
	if _, err := tx.ExecContext(ctx, us.store.db.Rebind(query), args...); err != nil {
		return err
	}
	return nil
}

// ConsentUpdate describes a consent overwrite taken from a legacy record.
type ConsentUpdate struct {
	UserID     int64
	OldConsent bool
	NewConsent bool
	Source     domain.ConsentSource
	SourceID   int64
}

// UpdateConsent sets gdpr_consent on one user and logs a
// user.consent_updated event in the same transaction.
func (us *UserStore) UpdateConsent(ctx context.Context, runUUID string, update ConsentUpdate) error {
	return us.store.withTx(ctx, func(tx *sql.Tx, ew *events.Writer) error {
		res, err := tx.ExecContext(ctx, us.store.db.Rebind("UPDATE users SET gdpr_consent = ? WHERE id = ?"), update.NewConsent, update.UserID)
		if err != nil {
			return fmt.Errorf("failed to update user %d: %w", update.UserID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read rows affected: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("user not found: %d", update.UserID)
		}

		payload, err := json.Marshal(map[string]any{
			"old_gdpr_consent": update.OldConsent,
			"new_gdpr_consent": update.NewConsent,
			"source":           update.Source,
			"source_id":        update.SourceID,
		})
		if err != nil {
			return fmt.Errorf("failed to marshal event payload: %w", err)
		}
		payloadStr := string(payload)
		userID := update.UserID

		if err := ew.LogEvent(ctx, tx, &domain.Event{
			RunUUID:      runUUID,
			EventType:    events.TypeUserConsentUpdated,
			ResourceType: events.ResourceTypeUser,
			ResourceID:   &userID,
			Payload:      &payloadStr,
		}); err != nil {
			return fmt.Errorf("failed to log event: %w", err)
		}
		return nil
	})
}
