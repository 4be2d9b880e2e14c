package merge

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/lherron/subsync/internal/bulk"
	"github.com/lherron/subsync/internal/config"
	"github.com/lherron/subsync/internal/db"
	"github.com/lherron/subsync/internal/domain"
	"github.com/lherron/subsync/internal/logging"
	"github.com/lherron/subsync/internal/report"
	"github.com/lherron/subsync/internal/store"
	"github.com/lherron/subsync/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRunUUID = "00000000-0000-4000-8000-0000000000aa"

func newMerger(database *db.DB) *Merger {
	s := store.New(database)
	return &Merger{
		Subscribers:   s.Subscribers,
		SubscriberSMS: s.SubscriberSMS,
		Clients:       s.Clients,
		Users:         s.Users,
		Logger:        logging.Nop,
	}
}

func userExists(t *testing.T, database *db.DB, email, phone string) bool {
	t.Helper()
	query := "SELECT COUNT(*) FROM users WHERE "
	var args []any
	if email == "" {
		query += "email IS NULL"
	} else {
		query += "email = ?"
		args = append(args, email)
	}
	if phone == "" {
		query += " AND phone IS NULL"
	} else {
		query += " AND phone = ?"
		args = append(args, phone)
	}
	var n int
	require.NoError(t, database.QueryRow(query, args...).Scan(&n))
	return n > 0
}

func countUsers(t *testing.T, database *db.DB) int {
	t.Helper()
	var n int
	require.NoError(t, database.QueryRow("SELECT COUNT(*) FROM users").Scan(&n))
	return n
}

func TestRun_CreatesUsersFromSubscribers(t *testing.T) {
	database, _ := testutil.TempDB(t)
	testutil.InsertClient(t, database, "client@example.com", "123")
	testutil.InsertSubscriber(t, database, "client@example.com", true, testutil.BaseTime)
	testutil.InsertSubscriber(t, database, "new@example.com", false, testutil.BaseTime)

	result, err := newMerger(database).Run(context.Background(), Options{RunUUID: testRunUUID, ReportDir: t.TempDir()})
	require.NoError(t, err)

	assert.True(t, userExists(t, database, "client@example.com", "123"))
	assert.True(t, userExists(t, database, "new@example.com", ""))
	assert.Equal(t, 2, result.EmailPass.Created)
	assert.Equal(t, 2, result.EmailPass.Scanned)

	var consent bool
	require.NoError(t, database.QueryRow("SELECT gdpr_consent FROM users WHERE email = 'client@example.com'").Scan(&consent))
	assert.True(t, consent, "consent is inherited from the subscriber")
}

func TestRun_DuplicatedPhones(t *testing.T) {
	database, _ := testutil.TempDB(t)
	reportDir := t.TempDir()
	c1 := testutil.InsertClient(t, database, "a@example.com", "555")
	c2 := testutil.InsertClient(t, database, "b@example.com", "555")
	testutil.InsertSubscriber(t, database, "a@example.com", true, testutil.BaseTime)
	testutil.InsertSubscriber(t, database, "b@example.com", true, testutil.BaseTime)

	result, err := newMerger(database).Run(context.Background(), Options{RunUUID: testRunUUID, ReportDir: reportDir})
	require.NoError(t, err)

	assert.Equal(t, []domain.DuplicatedPhone{{ClientID: c1, Phone: "555"}, {ClientID: c2, Phone: "555"}}, result.DuplicatedPhones)
	assert.Equal(t, 2, result.EmailPass.Deferred)
	assert.Equal(t, 0, countUsers(t, database), "no user is created for a deferred subscriber")

	content := testutil.ReadFile(t, filepath.Join(reportDir, report.DuplicatedPhonesFile))
	assert.Equal(t, "client_id,phone\n1,555\n2,555\n", content)
}

func TestRun_SubscriberConflicts(t *testing.T) {
	database, _ := testutil.TempDB(t)
	reportDir := t.TempDir()
	testutil.InsertClient(t, database, "c@example.com", "999")
	subID := testutil.InsertSubscriber(t, database, "c@example.com", true, testutil.BaseTime)
	testutil.InsertUser(t, database, "other@example.com", "999", false, testutil.BaseTime)
	testutil.InsertSubscriber(t, database, "d@example.com", true, testutil.BaseTime)

	result, err := newMerger(database).Run(context.Background(), Options{RunUUID: testRunUUID, ReportDir: reportDir})
	require.NoError(t, err)

	assert.Equal(t, []domain.SubscriberConflict{{SubscriberID: subID, Email: "c@example.com"}}, result.SubscriberConflicts)
	assert.False(t, userExists(t, database, "c@example.com", "999"))
	assert.True(t, userExists(t, database, "d@example.com", ""))

	content := testutil.ReadFile(t, filepath.Join(reportDir, report.SubscriberConflictsFile))
	assert.Contains(t, content, "c@example.com")
}

func TestRun_PhoneOnlyUserConflicts(t *testing.T) {
	database, _ := testutil.TempDB(t)
	testutil.InsertClient(t, database, "c@example.com", "999")
	testutil.InsertSubscriber(t, database, "c@example.com", true, testutil.BaseTime)
	testutil.InsertUser(t, database, "", "999", false, testutil.BaseTime)

	result, err := newMerger(database).Run(context.Background(), Options{RunUUID: testRunUUID})
	require.NoError(t, err)

	// A phone-only user has a NULL email, which counts as a different email
	assert.Len(t, result.SubscriberConflicts, 1)
}

func TestRun_SMSUsers(t *testing.T) {
	database, _ := testutil.TempDB(t)
	testutil.InsertClient(t, database, "sms@example.com", "888")
	testutil.InsertSubscriberSMS(t, database, "888", true, testutil.BaseTime)
	testutil.InsertSubscriberSMS(t, database, "777", false, testutil.BaseTime)

	result, err := newMerger(database).Run(context.Background(), Options{RunUUID: testRunUUID, ReportDir: t.TempDir()})
	require.NoError(t, err)

	assert.True(t, userExists(t, database, "sms@example.com", "888"))
	assert.True(t, userExists(t, database, "", "777"))
	assert.Equal(t, 2, result.PhonePass.Created)
}

func TestRun_SMSConflicts(t *testing.T) {
	database, _ := testutil.TempDB(t)
	reportDir := t.TempDir()
	testutil.InsertClient(t, database, "sms2@example.com", "333")
	smsID := testutil.InsertSubscriberSMS(t, database, "333", true, testutil.BaseTime)
	testutil.InsertUser(t, database, "sms2@example.com", "444", false, testutil.BaseTime)
	testutil.InsertSubscriberSMS(t, database, "555", true, testutil.BaseTime)

	result, err := newMerger(database).Run(context.Background(), Options{RunUUID: testRunUUID, ReportDir: reportDir})
	require.NoError(t, err)

	assert.Equal(t, []domain.SubscriberSMSConflict{{SubscriberSMSID: smsID, Phone: "333"}}, result.SubscriberSMSConflicts)
	assert.True(t, userExists(t, database, "", "555"))

	content := testutil.ReadFile(t, filepath.Join(reportDir, report.SubscriberSMSConflictsFile))
	assert.Equal(t, "subscriber_sms_id,phone\n1,333\n", content)
}

func TestRun_PhonePassSeesEmailPassUsers(t *testing.T) {
	database, _ := testutil.TempDB(t)
	testutil.InsertClient(t, database, "c@x", "123")
	testutil.InsertSubscriber(t, database, "c@x", true, testutil.BaseTime)
	testutil.InsertSubscriberSMS(t, database, "123", false, testutil.BaseTime)

	result, err := newMerger(database).Run(context.Background(), Options{RunUUID: testRunUUID})
	require.NoError(t, err)

	assert.Equal(t, 1, countUsers(t, database))
	assert.Equal(t, 1, result.PhonePass.SkippedExisting)
}

func TestRun_InsertResults(t *testing.T) {
	database, _ := testutil.TempDB(t)
	testutil.InsertSubscriber(t, database, "a@x", true, testutil.BaseTime)
	testutil.InsertSubscriber(t, database, "b@x", true, testutil.BaseTime)
	testutil.InsertSubscriberSMS(t, database, "777", false, testutil.BaseTime)

	result, err := newMerger(database).Run(context.Background(), Options{RunUUID: testRunUUID, SubscriberBatchSize: 1})
	require.NoError(t, err)
	require.NotNil(t, result.EmailInsert)
	require.NotNil(t, result.PhoneInsert)
	assert.Equal(t, 2, result.EmailInsert.Succeeded)
	assert.Equal(t, 2, result.EmailInsert.Batches)
	assert.Equal(t, 1, result.PhoneInsert.Succeeded)

	dry, err := newMerger(database).Run(context.Background(), Options{RunUUID: testRunUUID, DryRun: true})
	require.NoError(t, err)
	assert.Nil(t, dry.EmailInsert)
	assert.Nil(t, dry.PhoneInsert)
}

func TestRun_BlankClientPhone(t *testing.T) {
	database, _ := testutil.TempDB(t)
	testutil.InsertClient(t, database, "a@x", "")
	testutil.InsertClient(t, database, "b@x", "")
	testutil.InsertSubscriber(t, database, "a@x", true, testutil.BaseTime)

	result, err := newMerger(database).Run(context.Background(), Options{RunUUID: testRunUUID})
	require.NoError(t, err)

	require.Len(t, result.DuplicatedPhones, 2, "a blank phone shared by two clients is a duplicate like any other")
	assert.Equal(t, "", result.DuplicatedPhones[0].Phone)
	assert.Equal(t, 1, result.EmailPass.Deferred)
	assert.Equal(t, 0, result.EmailPass.Created)
	assert.Equal(t, 0, countUsers(t, database))
}

func TestRun_RerunIsStable(t *testing.T) {
	database, _ := testutil.TempDB(t)
	reportDir := t.TempDir()
	testutil.InsertClient(t, database, "a@x", "555")
	testutil.InsertClient(t, database, "b@x", "555")
	testutil.InsertSubscriber(t, database, "a@x", true, testutil.BaseTime)
	testutil.InsertSubscriber(t, database, "solo@x", true, testutil.BaseTime)
	testutil.InsertSubscriberSMS(t, database, "777", true, testutil.BaseTime)

	m := newMerger(database)
	_, err := m.Run(context.Background(), Options{RunUUID: testRunUUID, ReportDir: reportDir})
	require.NoError(t, err)
	first := countUsers(t, database)
	firstReport := testutil.ReadFile(t, filepath.Join(reportDir, report.DuplicatedPhonesFile))

	result, err := m.Run(context.Background(), Options{RunUUID: testRunUUID, ReportDir: reportDir, Diff: true})
	require.NoError(t, err)

	assert.Equal(t, first, countUsers(t, database), "rerun creates no users")
	assert.Equal(t, 0, result.EmailPass.Created+result.PhonePass.Created)
	assert.Equal(t, firstReport, testutil.ReadFile(t, filepath.Join(reportDir, report.DuplicatedPhonesFile)))
	assert.Empty(t, result.Diffs, "reports are rewritten with identical content")
}

func TestRun_DryRun(t *testing.T) {
	database, _ := testutil.TempDB(t)
	reportDir := t.TempDir()
	testutil.InsertClient(t, database, "c@x", "123")
	testutil.InsertSubscriber(t, database, "c@x", true, testutil.BaseTime)
	testutil.InsertSubscriberSMS(t, database, "123", false, testutil.BaseTime)
	testutil.InsertSubscriberSMS(t, database, "456", false, testutil.BaseTime)

	result, err := newMerger(database).Run(context.Background(), Options{RunUUID: testRunUUID, ReportDir: reportDir, DryRun: true, Diff: true})
	require.NoError(t, err)

	assert.True(t, result.DryRun)
	assert.Equal(t, 0, countUsers(t, database))
	assert.Equal(t, 1, result.EmailPass.Created)
	assert.Equal(t, 1, result.PhonePass.Created, "phone 123 is taken by the would-be email pass user")
	assert.Equal(t, 1, result.PhonePass.SkippedExisting)
	assert.Empty(t, result.Reports)
	assert.Contains(t, result.Diffs, report.SubscriberConflictsFile)

	entries, err := os.ReadDir(reportDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "dry run writes no reports")
}

type failingUsers struct {
	UserRepository
}

func (failingUsers) BulkCreate(context.Context, string, []*domain.User, int) (*bulk.Result, error) {
	return nil, errors.New("disk full")
}

func TestRun_InsertFailureAborts(t *testing.T) {
	database, _ := testutil.TempDB(t)
	testutil.InsertSubscriber(t, database, "a@x", true, testutil.BaseTime)

	m := newMerger(database)
	m.Users = failingUsers{UserRepository: m.Users}
	reportDir := t.TempDir()

	_, err := m.Run(context.Background(), Options{RunUUID: testRunUUID, ReportDir: reportDir})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	entries, err := os.ReadDir(reportDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestWithDefaults(t *testing.T) {
	opts := withDefaults(Options{})
	assert.Equal(t, config.DefaultChunkSize, opts.ChunkSize)
	assert.Equal(t, config.DefaultSubscriberBatchSize, opts.SubscriberBatchSize)
	assert.Equal(t, config.DefaultSMSBatchSize, opts.SMSBatchSize)

	kept := withDefaults(Options{ChunkSize: 5, SubscriberBatchSize: 6, SMSBatchSize: 7})
	assert.Equal(t, Options{ChunkSize: 5, SubscriberBatchSize: 6, SMSBatchSize: 7}, kept)
}
