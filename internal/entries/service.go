package entries

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()

	// ErrInvalidWindow indicates that a query window is empty or inverted.
	ErrInvalidWindow = errors.New("entries: window start must precede end")
)

// ServiceError wraps store failures with a stable machine-readable code.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew  = "entries.service.new"
	opUpsertEntry = "entries.upsert_entry"
	opQueryWindow = "entries.query_window"
	opCreateNote  = "entries.create_note"
	opDeleteNote  = "entries.delete_note"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// ServiceConfig bundles the dependencies for the entry store.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service persists mirrored time entries and their local annotations.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewService constructs the store service with validated configuration.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:     cfg.Database,
		clock:  clock,
		logger: logger,
	}, nil
}

// UpsertEntry writes one mirrored entry, replacing every column of an
// existing row with the same upstream identifier. The operation carries no
// read-modify-write step, so replaying an interval converges on the latest
// upstream state regardless of ordering.
func (s *Service) UpsertEntry(ctx context.Context, entry TimeEntry) error {
	if s.db == nil {
		s.logError(opUpsertEntry, "missing_database", errMissingDatabase)
		return newServiceError(opUpsertEntry, "missing_database", errMissingDatabase)
	}
	if _, err := NewEntryID(entry.EntryID); err != nil {
		s.logError(opUpsertEntry, "invalid_entry_id", err)
		return err
	}

	if entry.TagIDs == "" {
		entry.TagIDs = emptyTagArray
	}
	if entry.TagNames == "" {
		entry.TagNames = emptyTagArray
	}

	err := s.db.WithContext(ctx).
		Omit(clause.Associations).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "entry_id"}},
			UpdateAll: true,
		}).
		Create(&entry).Error
	if err != nil {
		s.logError(opUpsertEntry, "upsert_failed", err, zap.Int64("entry_id", entry.EntryID))
		return newServiceError(opUpsertEntry, "upsert_failed", err)
	}

	return nil
}

// QueryWindow returns entries whose start instant falls inside the half-open
// window [windowStart, windowEnd), ordered by start ascending, each with its
// notes attached. Entries without notes carry an empty slice, never nil.
func (s *Service) QueryWindow(ctx context.Context, windowStart, windowEnd time.Time) ([]TimeEntry, error) {
	if s.db == nil {
		s.logError(opQueryWindow, "missing_database", errMissingDatabase)
		return nil, newServiceError(opQueryWindow, "missing_database", errMissingDatabase)
	}
	if !windowStart.Before(windowEnd) {
		return nil, fmt.Errorf("%w: start %s, end %s", ErrInvalidWindow,
			FormatInstant(windowStart), FormatInstant(windowEnd))
	}

	results := make([]TimeEntry, 0)
	err := s.db.WithContext(ctx).
		Preload("Notes", func(db *gorm.DB) *gorm.DB {
			return db.Order("entry_notes.id ASC")
		}).
		Where("start_ts >= ? AND start_ts < ?", windowStart.Unix(), windowEnd.Unix()).
		Order("start_ts ASC").
		Find(&results).Error
	if err != nil {
		s.logError(opQueryWindow, "query_failed", err,
			zap.Int64("window_start", windowStart.Unix()),
			zap.Int64("window_end", windowEnd.Unix()))
		return nil, newServiceError(opQueryWindow, "query_failed", err)
	}

	for i := range results {
		if results[i].Notes == nil {
			results[i].Notes = make([]EntryNote, 0)
		}
	}

	return results, nil
}

// CreateNote attaches an annotation to a mirrored entry. The entry itself is
// not required to exist locally yet; notes may reference entries the next
// sync will bring in.
func (s *Service) CreateNote(ctx context.Context, entryID EntryID, noteText string) (EntryNote, error) {
	if s.db == nil {
		s.logError(opCreateNote, "missing_database", errMissingDatabase)
		return EntryNote{}, newServiceError(opCreateNote, "missing_database", errMissingDatabase)
	}

	note := EntryNote{
		EntryID:   entryID.Int64(),
		NoteText:  noteText,
		CreatedAt: FormatInstant(s.clock()),
	}
	if err := s.db.WithContext(ctx).Create(&note).Error; err != nil {
		s.logError(opCreateNote, "insert_failed", err, zap.Int64("entry_id", entryID.Int64()))
		return EntryNote{}, newServiceError(opCreateNote, "insert_failed", err)
	}

	return note, nil
}

// DeleteNote removes an annotation by its local identifier.
func (s *Service) DeleteNote(ctx context.Context, noteID NoteID) error {
	if s.db == nil {
		s.logError(opDeleteNote, "missing_database", errMissingDatabase)
		return newServiceError(opDeleteNote, "missing_database", errMissingDatabase)
	}

	result := s.db.WithContext(ctx).Where("id = ?", noteID.Int64()).Delete(&EntryNote{})
	if result.Error != nil {
		s.logError(opDeleteNote, "delete_failed", result.Error, zap.Int64("note_id", noteID.Int64()))
		return newServiceError(opDeleteNote, "delete_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %d", ErrNoteNotFound, noteID.Int64())
	}

	return nil
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil {
		return noOpLogger
	}
	if s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("entry store error", attrs...)
}
