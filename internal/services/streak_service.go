// Package services – StreakService
//
// StreakService applies a visit to the user's engagement streak: it reads the
// stored row, lets the streak package classify the visit, and writes the new
// row only when the classification asks for it.
//
// Concurrency: two sessions computing from the same stale row may both write.
// By default the last write wins. With CompareAndSwap enabled the write is
// conditioned on the date that was read; a lost race is re-read and
// recomputed once before ErrStreakConflict is returned.
package services

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/study-mentor-backend/internal/domain"
	"github.com/tbourn/study-mentor-backend/internal/repo"
	"github.com/tbourn/study-mentor-backend/internal/streak"

	// OpenTelemetry
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// StreakResult is the user-visible outcome of a visit.
type StreakResult struct {
	Days           int
	Persisted      bool
	Kind           streak.Kind
	LastActiveDate *time.Time // nil when the user has no streak yet
}

// StreakService tracks daily engagement streaks.
type StreakService struct {
	DB   *gorm.DB
	Repo StreakRepo

	// Now is the clock used for "today". Defaults to time.Now.
	Now func() time.Time
	// CompareAndSwap conditions writes on the previously read date.
	CompareAndSwap bool
}

// NewStreakService constructs a StreakService using the wall clock.
func NewStreakService(db *gorm.DB, r StreakRepo) *StreakService {
	return &StreakService{DB: db, Repo: r, Now: time.Now}
}

// Visit records that userID was active now and returns the resulting streak.
// A StoreError on the read aborts without writing.
func (s *StreakService) Visit(ctx context.Context, userID string) (StreakResult, error) {
	tr := otel.Tracer("services/StreakService")
	ctx, span := tr.Start(ctx, "Visit",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.Bool("streak.cas", s.CompareAndSwap),
		),
	)
	defer span.End()

	today := streak.NormalizeDay(s.now())

	attempts := 1
	if s.CompareAndSwap {
		attempts = 2
	}
	for i := 0; i < attempts; i++ {
		current, err := s.lookup(ctx, userID)
		if err != nil {
			logFrom(ctx).Error().Err(err).Str("op", "streak.get").Str("user_id", userID).Msg("streak read failed")
			span.RecordError(err)
			return StreakResult{}, err
		}

		t := streak.ComputeTransition(current, today)
		if !t.Persist {
			streakTransitions.WithLabelValues(string(t.Kind)).Inc()
			return resultFrom(t, current, false), nil
		}

		rec := t.Record(userID, today)
		err = s.write(ctx, &rec, current)
		if errors.Is(err, repo.ErrConflict) {
			logFrom(ctx).Warn().Str("user_id", userID).Int("attempt", i+1).Msg("streak changed concurrently; re-reading")
			continue
		}
		if err != nil {
			err = storeErr("streak.upsert", err)
			logFrom(ctx).Error().Err(err).Str("op", "streak.upsert").Str("user_id", userID).Msg("streak write failed")
			span.RecordError(err)
			return StreakResult{}, err
		}

		streakTransitions.WithLabelValues(string(t.Kind)).Inc()
		span.SetAttributes(attribute.String("streak.kind", string(t.Kind)), attribute.Int("streak.days", t.Days))
		return resultFrom(t, &rec, true), nil
	}

	span.RecordError(ErrStreakConflict)
	return StreakResult{}, ErrStreakConflict
}

// Current returns the stored streak without recording a visit. A user with no
// row has a zero-day streak.
func (s *StreakService) Current(ctx context.Context, userID string) (StreakResult, error) {
	tr := otel.Tracer("services/StreakService")
	ctx, span := tr.Start(ctx, "Current",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	current, err := s.lookup(ctx, userID)
	if err != nil {
		span.RecordError(err)
		return StreakResult{}, err
	}
	if current == nil {
		return StreakResult{}, nil
	}
	d := streak.StoredDay(current)
	return StreakResult{Days: current.StreakDays, LastActiveDate: &d}, nil
}

// lookup returns (nil, nil) when the user has no row.
func (s *StreakService) lookup(ctx context.Context, userID string) (*domain.StreakRecord, error) {
	rec, err := s.Repo.GetStreak(ctx, s.DB, userID)
	ok, err := found("streak.get", err)
	if !ok {
		return nil, err
	}
	return rec, nil
}

func (s *StreakService) write(ctx context.Context, rec *domain.StreakRecord, current *domain.StreakRecord) error {
	if !s.CompareAndSwap {
		return s.Repo.UpsertStreak(ctx, s.DB, rec)
	}
	var prev *time.Time
	if current != nil {
		d := streak.StoredDay(current)
		prev = &d
	}
	return s.Repo.SwapStreak(ctx, s.DB, rec, prev)
}

func (s *StreakService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func resultFrom(t streak.Transition, rec *domain.StreakRecord, persisted bool) StreakResult {
	out := StreakResult{Days: t.Days, Persisted: persisted, Kind: t.Kind}
	if rec != nil {
		d := streak.StoredDay(rec)
		out.LastActiveDate = &d
	}
	return out
}
