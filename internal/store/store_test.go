package store

import (
	"context"
	"testing"
	"time"

	"github.com/lherron/subsync/internal/domain"
	"github.com/lherron/subsync/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRunUUID = "00000000-0000-4000-8000-000000000001"

func TestSubscriberStore_GetByEmail(t *testing.T) {
	database, _ := testutil.TempDB(t)
	s := New(database)
	ctx := context.Background()

	id := testutil.InsertSubscriber(t, database, "a@example.com", true, testutil.BaseTime)

	sub, err := s.Subscribers.GetByEmail(ctx, "a@example.com")
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, id, sub.ID)
	assert.True(t, sub.GDPRConsent)
	assert.True(t, sub.CreateDate.Equal(testutil.BaseTime), "create date round-trips, got %s", sub.CreateDate)

	missing, err := s.Subscribers.GetByEmail(ctx, "nobody@example.com")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSubscriberSMSStore_GetByPhone(t *testing.T) {
	database, _ := testutil.TempDB(t)
	s := New(database)
	ctx := context.Background()

	testutil.InsertSubscriberSMS(t, database, "555", false, testutil.BaseTime)

	sms, err := s.SubscriberSMS.GetByPhone(ctx, "555")
	require.NoError(t, err)
	require.NotNil(t, sms)
	assert.Equal(t, "555", sms.Phone)
	assert.False(t, sms.GDPRConsent)

	missing, err := s.SubscriberSMS.GetByPhone(ctx, "000")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestIterate_Chunks(t *testing.T) {
	database, _ := testutil.TempDB(t)
	s := New(database)
	ctx := context.Background()

	emails := []string{"a@x", "b@x", "c@x", "d@x", "e@x"}
	for _, e := range emails {
		testutil.InsertSubscriber(t, database, e, false, testutil.BaseTime)
	}

	for _, chunk := range []int{1, 2, 5, 10} {
		var seen []string
		err := s.Subscribers.Iterate(ctx, chunk, func(sub *domain.Subscriber) error {
			seen = append(seen, sub.Email)
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, emails, seen, "chunk size %d", chunk)
	}

	err := s.Subscribers.Iterate(ctx, 0, func(*domain.Subscriber) error { return nil })
	assert.Error(t, err)
}

func TestIterate_CallbackMayWrite(t *testing.T) {
	database, _ := testutil.TempDB(t)
	s := New(database)
	ctx := context.Background()

	for i, phone := range []string{"1", "2", "3"} {
		testutil.InsertUser(t, database, phone+"@x", phone, false, testutil.BaseTime.Add(time.Duration(i)*time.Hour))
	}

	count := 0
	err := s.Users.IterateWithEmailAndPhone(ctx, 2, func(u *domain.User) error {
		count++
		return s.Users.UpdateConsent(ctx, testRunUUID, ConsentUpdate{UserID: u.ID, NewConsent: true, Source: domain.ConsentSourceSubscriber})
	})
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	var consented int
	require.NoError(t, database.QueryRow("SELECT COUNT(*) FROM users WHERE gdpr_consent = 1").Scan(&consented))
	assert.Equal(t, 3, consented)
}

func TestClientStore_Lookups(t *testing.T) {
	database, _ := testutil.TempDB(t)
	s := New(database)
	ctx := context.Background()

	c1 := testutil.InsertClient(t, database, "a@x", "555")
	c2 := testutil.InsertClient(t, database, "b@x", "555")
	testutil.InsertClient(t, database, "c@x", "777")

	c, err := s.Clients.GetByEmail(ctx, "b@x")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, c2, c.ID)

	first, err := s.Clients.FirstByPhone(ctx, "555")
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, c1, first.ID)

	shared, err := s.Clients.ListByPhone(ctx, "555")
	require.NoError(t, err)
	require.Len(t, shared, 2)
	assert.Equal(t, c1, shared[0].ID)
	assert.Equal(t, c2, shared[1].ID)

	none, err := s.Clients.FirstByPhone(ctx, "000")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestUserStore_ExclusionLookups(t *testing.T) {
	database, _ := testutil.TempDB(t)
	s := New(database)
	ctx := context.Background()

	testutil.InsertUser(t, database, "owner@x", "999", false, testutil.BaseTime)
	phoneOnly := testutil.InsertUser(t, database, "", "888", false, testutil.BaseTime)
	emailOnly := testutil.InsertUser(t, database, "solo@x", "", false, testutil.BaseTime)

	// Same phone, same email: not a conflict
	u, err := s.Users.FindByPhoneExcludingEmail(ctx, "999", "owner@x")
	require.NoError(t, err)
	assert.Nil(t, u)

	// Same phone, different email: conflict
	u, err = s.Users.FindByPhoneExcludingEmail(ctx, "999", "other@x")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, "owner@x", *u.Email)

	// NULL email counts as different
	u, err = s.Users.FindByPhoneExcludingEmail(ctx, "888", "anyone@x")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, phoneOnly, u.ID)
	assert.Nil(t, u.Email)

	// NULL phone counts as different
	u, err = s.Users.FindByEmailExcludingPhone(ctx, "solo@x", "123")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, emailOnly, u.ID)

	ok, err := s.Users.ExistsByEmail(ctx, "owner@x")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.Users.ExistsByPhone(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUserStore_BulkCreate(t *testing.T) {
	database, _ := testutil.TempDB(t)
	s := New(database)
	ctx := context.Background()

	var users []*domain.User
	for i := 0; i < 7; i++ {
		users = append(users, &domain.User{
			Email:       domain.StringPtr(string(rune('a'+i)) + "@x"),
			GDPRConsent: i%2 == 0,
		})
	}
	users = append(users, &domain.User{Phone: domain.StringPtr("555"), CreateDate: testutil.BaseTime})

	result, err := s.Users.BulkCreate(ctx, testRunUUID, users, 3)
	require.NoError(t, err)
	assert.Equal(t, 8, result.Succeeded)
	assert.Equal(t, 3, result.Batches)

	n, err := s.Users.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 8, n)

	var nullEmails int
	require.NoError(t, database.QueryRow("SELECT COUNT(*) FROM users WHERE email IS NULL").Scan(&nullEmails))
	assert.Equal(t, 1, nullEmails)

	var events int
	require.NoError(t, database.QueryRow("SELECT COUNT(*) FROM event_log WHERE run_uuid = ? AND event_type = 'users.created'", testRunUUID).Scan(&events))
	assert.Equal(t, 1, events)

	empty, err := s.Users.BulkCreate(ctx, testRunUUID, nil, 3)
	require.NoError(t, err)
	assert.Equal(t, 0, empty.TotalItems)
}

func TestUserStore_BulkCreate_RollsBackOnFailure(t *testing.T) {
	database, _ := testutil.TempDB(t)
	s := New(database)
	ctx := context.Background()

	_, err := database.Exec("CREATE TRIGGER reject_bad BEFORE INSERT ON users WHEN NEW.email = 'bad@x' BEGIN SELECT RAISE(ABORT, 'rejected'); END")
	require.NoError(t, err)

	users := []*domain.User{
		{Email: domain.StringPtr("good1@x")},
		{Email: domain.StringPtr("good2@x")},
		{Email: domain.StringPtr("bad@x")},
	}

	_, err = s.Users.BulkCreate(ctx, testRunUUID, users, 2)
	require.Error(t, err)

	n, err := s.Users.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "no user from a failed bulk insert is kept")
}

func TestUserStore_UpdateConsent(t *testing.T) {
	database, _ := testutil.TempDB(t)
	s := New(database)
	ctx := context.Background()

	id := testutil.InsertUser(t, database, "a@a.com", "123", false, testutil.BaseTime)

	err := s.Users.UpdateConsent(ctx, testRunUUID, ConsentUpdate{
		UserID:     id,
		OldConsent: false,
		NewConsent: true,
		Source:     domain.ConsentSourceSubscriber,
		SourceID:   42,
	})
	require.NoError(t, err)

	u, err := s.Users.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.True(t, u.GDPRConsent)

	var payload string
	require.NoError(t, database.QueryRow("SELECT payload FROM event_log WHERE resource_id = ? AND event_type = 'user.consent_updated'", id).Scan(&payload))
	assert.Contains(t, payload, `"source":"subscriber"`)

	err = s.Users.UpdateConsent(ctx, testRunUUID, ConsentUpdate{UserID: 9999, NewConsent: true})
	assert.ErrorContains(t, err, "user not found")
}
