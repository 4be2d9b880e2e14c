package report

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/lherron/subsync/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrite_HeaderOnly(t *testing.T) {
	dir := t.TempDir()

	path, err := Write(dir, SubscriberConflicts(nil))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, SubscriberConflictsFile), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "subscriber_id,email\n", string(data))
}

func TestWrite_Rows(t *testing.T) {
	dir := t.TempDir()

	rows := []domain.DuplicatedPhone{{ClientID: 1, Phone: "555"}, {ClientID: 2, Phone: "555"}}
	path, err := Write(dir, DuplicatedPhones(rows))
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "client_id,phone\n1,555\n2,555\n", string(data))
}

func TestWrite_Truncates(t *testing.T) {
	dir := t.TempDir()

	long := []domain.SubscriberSMSConflict{{SubscriberSMSID: 1, Phone: "1"}, {SubscriberSMSID: 2, Phone: "2"}}
	_, err := Write(dir, SubscriberSMSConflicts(long))
	require.NoError(t, err)

	path, err := Write(dir, SubscriberSMSConflicts(long[:1]))
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "subscriber_sms_id,phone\n1,1\n", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files are cleaned up")
}

func TestWrite_QuotesFields(t *testing.T) {
	dir := t.TempDir()

	rows := []domain.SubscriberConflict{{SubscriberID: 7, Email: `odd,"name"@x`}}
	path, err := Write(dir, SubscriberConflicts(rows))
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "subscriber_id,email\n7,\"odd,\"\"name\"\"@x\"\n", string(data))
}

func TestDiff(t *testing.T) {
	dir := t.TempDir()

	first := DuplicatedPhones([]domain.DuplicatedPhone{{ClientID: 1, Phone: "555"}})

	diff, err := Diff(dir, first)
	require.NoError(t, err)
	assert.Contains(t, diff, "+client_id,phone")
	assert.Contains(t, diff, "+1,555")

	_, err = Write(dir, first)
	require.NoError(t, err)

	diff, err = Diff(dir, first)
	require.NoError(t, err)
	assert.Empty(t, diff)

	second := DuplicatedPhones([]domain.DuplicatedPhone{{ClientID: 3, Phone: "777"}})
	diff, err = Diff(dir, second)
	require.NoError(t, err)
	assert.Contains(t, diff, "-1,555")
	assert.Contains(t, diff, "+3,777")
}
