// Package backfill copies the most recent legacy consent onto unified Users.
package backfill

import (
	"context"
	"errors"
	"fmt"

	"github.com/lherron/subsync/internal/config"
	"github.com/lherron/subsync/internal/domain"
	"github.com/lherron/subsync/internal/store"
	"github.com/rs/zerolog"
)

// SubscriberLookup finds legacy email subscribers
type SubscriberLookup interface {
	GetByEmail(ctx context.Context, email string) (*domain.Subscriber, error)
}

// SubscriberSMSLookup finds legacy SMS subscribers
type SubscriberSMSLookup interface {
	GetByPhone(ctx context.Context, phone string) (*domain.SubscriberSMS, error)
}

// UserRepository iterates and updates users
type UserRepository interface {
	IterateWithEmailAndPhone(ctx context.Context, chunkSize int, fn func(*domain.User) error) error
	UpdateConsent(ctx context.Context, runUUID string, update store.ConsentUpdate) error
}

// Options controls one backfill run
type Options struct {
	RunUUID   string
	ChunkSize int
	TieBreak  domain.TieBreak
	DryRun    bool
}

// Backfiller runs the consent backfill
type Backfiller struct {
	Subscribers   SubscriberLookup
	SubscriberSMS SubscriberSMSLookup
	Users         UserRepository
	Logger        zerolog.Logger
}

// Result is the outcome of a backfill run
type Result struct {
	RunUUID        string          `json:"run_uuid" yaml:"run_uuid"`
	DryRun         bool            `json:"dry_run" yaml:"dry_run"`
	TieBreak       domain.TieBreak `json:"tie_break" yaml:"tie_break"`
	Scanned        int             `json:"scanned" yaml:"scanned"`
	Updated        int             `json:"updated" yaml:"updated"`
	Unchanged      int             `json:"unchanged" yaml:"unchanged"`
	SkippedMissing int             `json:"skipped_missing" yaml:"skipped_missing"`
	FromSubscriber int             `json:"from_subscriber" yaml:"from_subscriber"`
	FromSMS        int             `json:"from_subscriber_sms" yaml:"from_subscriber_sms"`
}

// Run walks every user with both email and phone set and applies the
// consent of the newest legacy record when it postdates the user
func (b *Backfiller) Run(ctx context.Context, opts Options) (*Result, error) {
	if opts.ChunkSize < 1 {
		opts.ChunkSize = config.DefaultChunkSize
	}
	if opts.TieBreak == "" {
		opts.TieBreak = domain.TieBreakSubscriber
	}
	if err := domain.ValidateTieBreak(string(opts.TieBreak)); err != nil {
		return nil, err
	}

	result := &Result{RunUUID: opts.RunUUID, DryRun: opts.DryRun, TieBreak: opts.TieBreak}
	log := b.Logger.With().Str("run_uuid", opts.RunUUID).Bool("dry_run", opts.DryRun).Logger()

	err := b.Users.IterateWithEmailAndPhone(ctx, opts.ChunkSize, func(u *domain.User) error {
		result.Scanned++

		update, err := b.decide(ctx, u, opts.TieBreak)
		var missing *domain.MissingRelationError
		if errors.As(err, &missing) {
			result.SkippedMissing++
			log.Warn().Err(missing).Int64("user_id", u.ID).Stringer("user", u).Str("relation", string(missing.Relation)).Msg("skipping user without legacy record")
			return nil
		}
		if err != nil {
			return err
		}

		if update == nil {
			result.Unchanged++
			return nil
		}

		if !opts.DryRun {
			if err := b.Users.UpdateConsent(ctx, opts.RunUUID, *update); err != nil {
				return err
			}
		}

		result.Updated++
		if update.Source == domain.ConsentSourceSubscriber {
			result.FromSubscriber++
		} else {
			result.FromSMS++
		}
		log.Debug().Int64("user_id", u.ID).Str("source", string(update.Source)).Bool("gdpr_consent", update.NewConsent).Msg("consent updated")
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("consent backfill failed: %w", err)
	}

	log.Info().
		Int("scanned", result.Scanned).
		Int("updated", result.Updated).
		Int("unchanged", result.Unchanged).
		Int("skipped_missing", result.SkippedMissing).
		Msg("consent backfill finished")

	return result, nil
}

// decide returns the consent update for u, or nil when the user keeps its
// current value
func (b *Backfiller) decide(ctx context.Context, u *domain.User, tieBreak domain.TieBreak) (*store.ConsentUpdate, error) {
	if !u.HasEmailAndPhone() {
		return nil, nil
	}

	sub, err := b.Subscribers.GetByEmail(ctx, *u.Email)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, &domain.MissingRelationError{UserID: u.ID, Relation: domain.ConsentSourceSubscriber, Key: *u.Email}
	}

	sms, err := b.SubscriberSMS.GetByPhone(ctx, *u.Phone)
	if err != nil {
		return nil, err
	}
	if sms == nil {
		return nil, &domain.MissingRelationError{UserID: u.ID, Relation: domain.ConsentSourceSubscriberSMS, Key: *u.Phone}
	}

	if !sub.CreateDate.After(u.CreateDate) && !sms.CreateDate.After(u.CreateDate) {
		return nil, nil
	}

	update := &store.ConsentUpdate{UserID: u.ID, OldConsent: u.GDPRConsent}
	if Newest(sub, sms, tieBreak) == domain.ConsentSourceSubscriber {
		update.NewConsent = sub.GDPRConsent
		update.Source = domain.ConsentSourceSubscriber
		update.SourceID = sub.ID
	} else {
		update.NewConsent = sms.GDPRConsent
		update.Source = domain.ConsentSourceSubscriberSMS
		update.SourceID = sms.ID
	}

	if update.NewConsent == u.GDPRConsent {
		return nil, nil
	}
	return update, nil
}

// Newest picks the legacy record with the later create date. Equal dates
// are resolved by tieBreak.
func Newest(sub *domain.Subscriber, sms *domain.SubscriberSMS, tieBreak domain.TieBreak) domain.ConsentSource {
	switch {
	case sub.CreateDate.After(sms.CreateDate):
		return domain.ConsentSourceSubscriber
	case sms.CreateDate.After(sub.CreateDate):
		return domain.ConsentSourceSubscriberSMS
	case tieBreak == domain.TieBreakSMS:
		return domain.ConsentSourceSubscriberSMS
	default:
		return domain.ConsentSourceSubscriber
	}
}
