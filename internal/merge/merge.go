// Package merge derives unified Users from the legacy Subscriber,
// SubscriberSMS and Client tables.
//
// The email-side pass runs first and its Users are inserted before the
// phone-side pass starts, so the phone-side existence checks see them.
// Ambiguous or conflicting rows are never resolved here; they are collected
// into reports for manual follow-up.
package merge

import (
	"context"
	"fmt"

	"github.com/lherron/subsync/internal/bulk"
	"github.com/lherron/subsync/internal/config"
	"github.com/lherron/subsync/internal/domain"
	"github.com/lherron/subsync/internal/report"
	"github.com/rs/zerolog"
)

// SubscriberSource iterates legacy email subscribers
type SubscriberSource interface {
	Iterate(ctx context.Context, chunkSize int, fn func(*domain.Subscriber) error) error
}

// SubscriberSMSSource iterates legacy SMS subscribers
type SubscriberSMSSource interface {
	Iterate(ctx context.Context, chunkSize int, fn func(*domain.SubscriberSMS) error) error
}

// ClientLookup resolves clients by email or phone
type ClientLookup interface {
	GetByEmail(ctx context.Context, email string) (*domain.Client, error)
	FirstByPhone(ctx context.Context, phone string) (*domain.Client, error)
	ListByPhone(ctx context.Context, phone string) ([]domain.Client, error)
}

// UserRepository is the subset of the user store the merge needs
type UserRepository interface {
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	ExistsByPhone(ctx context.Context, phone string) (bool, error)
	FindByPhoneExcludingEmail(ctx context.Context, phone, email string) (*domain.User, error)
	FindByEmailExcludingPhone(ctx context.Context, email, phone string) (*domain.User, error)
	BulkCreate(ctx context.Context, runUUID string, users []*domain.User, batchSize int) (*bulk.Result, error)
}

// Options controls one merge run
type Options struct {
	RunUUID             string
	ChunkSize           int
	SubscriberBatchSize int
	SMSBatchSize        int
	// ReportDir receives the CSV reports. Reports are not written when empty.
	ReportDir string
	DryRun    bool
	// Diff records a unified diff of each report against the file on disk
	Diff bool
}

// Merger runs the identity merge
type Merger struct {
	Subscribers   SubscriberSource
	SubscriberSMS SubscriberSMSSource
	Clients       ClientLookup
	Users         UserRepository
	Logger        zerolog.Logger
}

// PassStats counts what happened to the rows of one pass
type PassStats struct {
	Scanned         int `json:"scanned" yaml:"scanned"`
	SkippedExisting int `json:"skipped_existing" yaml:"skipped_existing"`
	Created         int `json:"created" yaml:"created"`
	Deferred        int `json:"deferred" yaml:"deferred"`
	Conflicts       int `json:"conflicts" yaml:"conflicts"`
}

// Result is the outcome of a merge run
type Result struct {
	RunUUID                string                         `json:"run_uuid" yaml:"run_uuid"`
	DryRun                 bool                           `json:"dry_run" yaml:"dry_run"`
	EmailPass              PassStats                      `json:"email_pass" yaml:"email_pass"`
	PhonePass              PassStats                      `json:"phone_pass" yaml:"phone_pass"`
	DuplicatedPhones       []domain.DuplicatedPhone       `json:"duplicated_phones" yaml:"duplicated_phones"`
	SubscriberConflicts    []domain.SubscriberConflict    `json:"subscriber_conflicts" yaml:"subscriber_conflicts"`
	SubscriberSMSConflicts []domain.SubscriberSMSConflict `json:"subscriber_sms_conflicts" yaml:"subscriber_sms_conflicts"`
	Reports                []string                       `json:"reports,omitempty" yaml:"reports,omitempty"`
	Diffs                  map[string]string              `json:"diffs,omitempty" yaml:"diffs,omitempty"`

	// EmailInsert and PhoneInsert are nil for a dry run
	EmailInsert *bulk.Result `json:"-" yaml:"-"`
	PhoneInsert *bulk.Result `json:"-" yaml:"-"`
}

// run holds the state scoped to a single Run call
type run struct {
	*Merger
	opts   Options
	result *Result
	log    zerolog.Logger

	duplicated     map[int64]bool
	pendingByEmail map[string]*domain.User
	pendingByPhone map[string]*domain.User
}

// Run executes both passes and writes the reports
func (m *Merger) Run(ctx context.Context, opts Options) (*Result, error) {
	opts = withDefaults(opts)

	r := &run{
		Merger:         m,
		opts:           opts,
		result:         &Result{RunUUID: opts.RunUUID, DryRun: opts.DryRun},
		log:            m.Logger.With().Str("run_uuid", opts.RunUUID).Bool("dry_run", opts.DryRun).Logger(),
		duplicated:     make(map[int64]bool),
		pendingByEmail: make(map[string]*domain.User),
		pendingByPhone: make(map[string]*domain.User),
	}

	newUsers, err := r.emailPass(ctx)
	if err != nil {
		return nil, err
	}
	if r.result.EmailInsert, err = r.insert(ctx, "email", newUsers, opts.SubscriberBatchSize); err != nil {
		return nil, err
	}
	r.result.EmailPass.Created = len(newUsers)

	if err := r.writeReport(report.DuplicatedPhones(r.result.DuplicatedPhones)); err != nil {
		return nil, err
	}
	if err := r.writeReport(report.SubscriberConflicts(r.result.SubscriberConflicts)); err != nil {
		return nil, err
	}

	newUsers, err = r.phonePass(ctx)
	if err != nil {
		return nil, err
	}
	if r.result.PhoneInsert, err = r.insert(ctx, "phone", newUsers, opts.SMSBatchSize); err != nil {
		return nil, err
	}
	r.result.PhonePass.Created = len(newUsers)

	if err := r.writeReport(report.SubscriberSMSConflicts(r.result.SubscriberSMSConflicts)); err != nil {
		return nil, err
	}

	r.log.Info().
		Int("email_created", r.result.EmailPass.Created).
		Int("phone_created", r.result.PhonePass.Created).
		Int("duplicated_phones", len(r.result.DuplicatedPhones)).
		Int("subscriber_conflicts", len(r.result.SubscriberConflicts)).
		Int("subscriber_sms_conflicts", len(r.result.SubscriberSMSConflicts)).
		Msg("identity merge finished")

	return r.result, nil
}

func withDefaults(opts Options) Options {
	if opts.ChunkSize < 1 {
		opts.ChunkSize = config.DefaultChunkSize
	}
	if opts.SubscriberBatchSize < 1 {
		opts.SubscriberBatchSize = config.DefaultSubscriberBatchSize
	}
	if opts.SMSBatchSize < 1 {
		opts.SMSBatchSize = config.DefaultSMSBatchSize
	}
	return opts
}

func (r *run) emailPass(ctx context.Context) ([]*domain.User, error) {
	var newUsers []*domain.User
	stats := &r.result.EmailPass

	err := r.Subscribers.Iterate(ctx, r.opts.ChunkSize, func(sub *domain.Subscriber) error {
		stats.Scanned++

		exists, err := r.Users.ExistsByEmail(ctx, sub.Email)
		if err != nil {
			return err
		}
		if exists {
			stats.SkippedExisting++
			return nil
		}

		client, err := r.Clients.GetByEmail(ctx, sub.Email)
		if err != nil {
			return err
		}
		if client == nil {
			newUsers = append(newUsers, &domain.User{Email: domain.StringPtr(sub.Email), GDPRConsent: sub.GDPRConsent})
			return nil
		}

		shared, err := r.Clients.ListByPhone(ctx, client.Phone)
		if err != nil {
			return err
		}
		if len(shared) > 1 {
			r.recordDuplicates(shared)
			stats.Deferred++
			r.log.Debug().Int64("subscriber_id", sub.ID).Str("phone", client.Phone).Int("clients", len(shared)).Msg("phone shared by several clients, deferring subscriber")
			return nil
		}

		claimed, err := r.Users.FindByPhoneExcludingEmail(ctx, client.Phone, client.Email)
		if err != nil {
			return err
		}
		if claimed != nil {
			r.result.SubscriberConflicts = append(r.result.SubscriberConflicts, domain.SubscriberConflict{SubscriberID: sub.ID, Email: sub.Email})
			stats.Conflicts++
			r.log.Debug().Int64("subscriber_id", sub.ID).Int64("user_id", claimed.ID).Msg("phone already claimed by another user")
			return nil
		}

		newUsers = append(newUsers, &domain.User{
			Email:       domain.StringPtr(sub.Email),
			Phone:       domain.StringPtr(client.Phone),
			GDPRConsent: sub.GDPRConsent,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("email pass failed: %w", err)
	}

	return newUsers, nil
}

// recordDuplicates adds every client sharing a phone to the report,
// keeping the first-seen order and skipping clients already recorded
func (r *run) recordDuplicates(clients []domain.Client) {
	for _, c := range clients {
		if r.duplicated[c.ID] {
			continue
		}
		r.duplicated[c.ID] = true
		r.result.DuplicatedPhones = append(r.result.DuplicatedPhones, domain.DuplicatedPhone{ClientID: c.ID, Phone: c.Phone})
	}
}

func (r *run) phonePass(ctx context.Context) ([]*domain.User, error) {
	var newUsers []*domain.User
	stats := &r.result.PhonePass

	err := r.SubscriberSMS.Iterate(ctx, r.opts.ChunkSize, func(sms *domain.SubscriberSMS) error {
		stats.Scanned++

		exists, err := r.phoneTaken(ctx, sms.Phone)
		if err != nil {
			return err
		}
		if exists {
			stats.SkippedExisting++
			return nil
		}

		client, err := r.Clients.FirstByPhone(ctx, sms.Phone)
		if err != nil {
			return err
		}
		if client == nil {
			newUsers = append(newUsers, &domain.User{Phone: domain.StringPtr(sms.Phone), GDPRConsent: sms.GDPRConsent})
			return nil
		}

		claimed, err := r.emailClaimedElsewhere(ctx, client.Email, client.Phone)
		if err != nil {
			return err
		}
		if claimed {
			r.result.SubscriberSMSConflicts = append(r.result.SubscriberSMSConflicts, domain.SubscriberSMSConflict{SubscriberSMSID: sms.ID, Phone: sms.Phone})
			stats.Conflicts++
			r.log.Debug().Int64("subscriber_sms_id", sms.ID).Str("email", client.Email).Msg("email already claimed by another user")
			return nil
		}

		newUsers = append(newUsers, &domain.User{
			Email:       domain.StringPtr(client.Email),
			Phone:       domain.StringPtr(sms.Phone),
			GDPRConsent: sms.GDPRConsent,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("phone pass failed: %w", err)
	}

	return newUsers, nil
}

// phoneTaken checks the store and, during a dry run, the users the email
// pass would have inserted
func (r *run) phoneTaken(ctx context.Context, phone string) (bool, error) {
	if _, ok := r.pendingByPhone[phone]; ok {
		return true, nil
	}
	return r.Users.ExistsByPhone(ctx, phone)
}

func (r *run) emailClaimedElsewhere(ctx context.Context, email, phone string) (bool, error) {
	if u, ok := r.pendingByEmail[email]; ok && (u.Phone == nil || *u.Phone != phone) {
		return true, nil
	}
	u, err := r.Users.FindByEmailExcludingPhone(ctx, email, phone)
	if err != nil {
		return false, err
	}
	return u != nil, nil
}

func (r *run) insert(ctx context.Context, pass string, users []*domain.User, batchSize int) (*bulk.Result, error) {
	if r.opts.DryRun {
		for _, u := range users {
			if u.Email != nil {
				r.pendingByEmail[*u.Email] = u
			}
			if u.Phone != nil {
				r.pendingByPhone[*u.Phone] = u
			}
		}
		r.log.Info().Str("pass", pass).Int("users", len(users)).Msg("dry run, skipping insert")
		return nil, nil
	}

	result, err := r.Users.BulkCreate(ctx, r.opts.RunUUID, users, batchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to insert %s pass users: %w", pass, err)
	}
	r.log.Info().Str("pass", pass).Int("users", result.Succeeded).Int("batches", result.Batches).Msg("users inserted")
	return result, nil
}

func (r *run) writeReport(t report.Table) error {
	if r.opts.ReportDir == "" {
		return nil
	}

	if r.opts.Diff {
		diff, err := report.Diff(r.opts.ReportDir, t)
		if err != nil {
			return err
		}
		if diff != "" {
			if r.result.Diffs == nil {
				r.result.Diffs = make(map[string]string)
			}
			r.result.Diffs[t.Name] = diff
		}
	}

	if r.opts.DryRun {
		return nil
	}

	path, err := report.Write(r.opts.ReportDir, t)
	if err != nil {
		return err
	}
	r.result.Reports = append(r.result.Reports, path)
	r.log.Info().Str("report", path).Int("rows", len(t.Rows)).Msg("report written")
	return nil
}
