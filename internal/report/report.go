// Package report writes the advisory CSV files produced by the identity merge.
package report

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/lherron/subsync/internal/domain"
	"github.com/pmezard/go-difflib/difflib"
)

// Report file names
const (
	DuplicatedPhonesFile       = "clients_with_duplicated_phones.csv"
	SubscriberConflictsFile    = "subscriber_conflicts.csv"
	SubscriberSMSConflictsFile = "subscriber_sms_conflicts.csv"
)

// Table is one report: a file name, a header row and data rows
type Table struct {
	Name   string
	Header []string
	Rows   [][]string
}

// DuplicatedPhones builds the duplicated-phones report
func DuplicatedPhones(rows []domain.DuplicatedPhone) Table {
	t := Table{Name: DuplicatedPhonesFile, Header: []string{"client_id", "phone"}}
	for _, r := range rows {
		t.Rows = append(t.Rows, []string{strconv.FormatInt(r.ClientID, 10), r.Phone})
	}
	return t
}

// SubscriberConflicts builds the email-side conflicts report
func SubscriberConflicts(rows []domain.SubscriberConflict) Table {
	t := Table{Name: SubscriberConflictsFile, Header: []string{"subscriber_id", "email"}}
	for _, r := range rows {
		t.Rows = append(t.Rows, []string{strconv.FormatInt(r.SubscriberID, 10), r.Email})
	}
	return t
}

// SubscriberSMSConflicts builds the phone-side conflicts report
func SubscriberSMSConflicts(rows []domain.SubscriberSMSConflict) Table {
	t := Table{Name: SubscriberSMSConflictsFile, Header: []string{"subscriber_sms_id", "phone"}}
	for _, r := range rows {
		t.Rows = append(t.Rows, []string{strconv.FormatInt(r.SubscriberSMSID, 10), r.Phone})
	}
	return t
}

// Encode renders the table as CSV
func (t Table) Encode() ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(t.Header); err != nil {
		return nil, err
	}
	if err := w.WriteAll(t.Rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Write replaces dir/<name> with the encoded table. The content is written
// to a temp file in dir and renamed into place, so readers never observe a
// partial report. Returns the final path.
func Write(dir string, t Table) (string, error) {
	data, err := t.Encode()
	if err != nil {
		return "", fmt.Errorf("failed to encode %s: %w", t.Name, err)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+t.Name+".*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file for %s: %w", t.Name, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write %s: %w", t.Name, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close %s: %w", t.Name, err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		return "", fmt.Errorf("failed to set permissions on %s: %w", t.Name, err)
	}

	path := filepath.Join(dir, t.Name)
	if err := os.Rename(tmpPath, path); err != nil {
		return "", fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return path, nil
}

// Diff returns a unified diff between the report currently on disk in dir
// and t. A missing file diffs as empty. An empty string means no change.
func Diff(dir string, t Table) (string, error) {
	next, err := t.Encode()
	if err != nil {
		return "", fmt.Errorf("failed to encode %s: %w", t.Name, err)
	}

	prev, err := os.ReadFile(filepath.Join(dir, t.Name))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("failed to read previous %s: %w", t.Name, err)
	}

	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(prev)),
		B:        difflib.SplitLines(string(next)),
		FromFile: t.Name + " (previous)",
		ToFile:   t.Name,
		Context:  3,
	}
	return difflib.GetUnifiedDiffString(diff)
}
