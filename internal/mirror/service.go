package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tracklabs/toggl-mirror/backend/internal/entries"
	"github.com/tracklabs/toggl-mirror/backend/internal/toggl"
	"go.uber.org/zap"
)

const (
	// chunkSpanDays is the number of days added to a chunk's start to reach
	// its end, keeping every chunk within the report API's one-year ceiling.
	chunkSpanDays = 364

	defaultRecentDays = 7
	defaultPageSize   = 100
)

var (
	errMissingSource     = errors.New("report source is required")
	errMissingStore      = errors.New("entry store is required")
	errMissingResolver   = errors.New("project resolver is required")
	errMissingIDProvider = errors.New("run id provider is required")
	noOpLogger           = zap.NewNop()

	// ErrInvalidDateRange indicates that a sync range ends before it starts.
	ErrInvalidDateRange = errors.New("mirror: start date must not follow end date")
)

// ServiceError wraps sync failures with a stable machine-readable code.
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
	opServiceNew   = "mirror.service.new"
	opSyncRange    = "mirror.sync_range"
	opSyncRecent   = "mirror.sync_recent"
	opFullSync     = "mirror.full_sync"
	opCurrentEntry = "mirror.current_entry"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// ReportSource is the slice of the Toggl client the orchestrator consumes.
type ReportSource interface {
	SearchTimeEntries(ctx context.Context, request toggl.ReportRequest) (*toggl.ReportPage, error)
	FetchCurrentEntry(ctx context.Context) (*toggl.CurrentEntry, error)
}

// ProjectNameResolver maps a project id to its display name.
type ProjectNameResolver interface {
	ResolveProjectName(ctx context.Context, projectID int64) (string, error)
}

// EntryUpserter persists one mirrored entry idempotently.
type EntryUpserter interface {
	UpsertEntry(ctx context.Context, entry entries.TimeEntry) error
}

// RunIDProvider issues identifiers that correlate the log lines of one sync.
type RunIDProvider interface {
	NewRunID() (string, error)
}

// ServiceConfig bundles the dependencies for the sync orchestrator.
type ServiceConfig struct {
	Source     ReportSource
	Store      EntryUpserter
	Resolver   ProjectNameResolver
	RunIDs     RunIDProvider
	Clock      func() time.Time
	Logger     *zap.Logger
	StartDate  time.Time
	RecentDays int
	PageSize   int64
}

// Service drives incremental synchronization from Toggl into the local store.
type Service struct {
	source     ReportSource
	store      EntryUpserter
	resolver   ProjectNameResolver
	runIDs     RunIDProvider
	clock      func() time.Time
	logger     *zap.Logger
	startDate  time.Time
	recentDays int
	pageSize   int64
}

// NewService constructs the orchestrator with validated configuration.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Source == nil {
		return nil, newServiceError(opServiceNew, "missing_source", errMissingSource)
	}
	if cfg.Store == nil {
		return nil, newServiceError(opServiceNew, "missing_store", errMissingStore)
	}
	if cfg.Resolver == nil {
		return nil, newServiceError(opServiceNew, "missing_resolver", errMissingResolver)
	}
	if cfg.RunIDs == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	startDate := cfg.StartDate
	if startDate.IsZero() {
		startDate = time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC)
	}

	recentDays := cfg.RecentDays
	if recentDays <= 0 {
		recentDays = defaultRecentDays
	}

	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	return &Service{
		source:     cfg.Source,
		store:      cfg.Store,
		resolver:   cfg.Resolver,
		runIDs:     cfg.RunIDs,
		clock:      clock,
		logger:     logger,
		startDate:  dateOnly(startDate),
		recentDays: recentDays,
		pageSize:   pageSize,
	}, nil
}

// SyncResult summarizes one completed sync operation.
type SyncResult struct {
	RunID         string
	StartDate     time.Time
	EndDate       time.Time
	RecordsSynced int64
	Chunks        int
}

// SyncRange mirrors every time entry whose interval falls inside the
// inclusive calendar date range [startDate, endDate].
func (s *Service) SyncRange(ctx context.Context, startDate, endDate time.Time) (SyncResult, error) {
	start := dateOnly(startDate)
	end := dateOnly(endDate)
	if start.After(end) {
		return SyncResult{}, fmt.Errorf("%w: %s after %s", ErrInvalidDateRange,
			start.Format(time.DateOnly), end.Format(time.DateOnly))
	}

	runID, err := s.newRunID(opSyncRange)
	if err != nil {
		return SyncResult{}, err
	}

	records, err := s.syncWindow(ctx, opSyncRange, runID, start, end)
	if err != nil {
		return SyncResult{}, err
	}

	s.logger.Info("sync range complete",
		zap.String("run_id", runID),
		zap.String("start_date", start.Format(time.DateOnly)),
		zap.String("end_date", end.Format(time.DateOnly)),
		zap.Int64("records_synced", records))

	return SyncResult{RunID: runID, StartDate: start, EndDate: end, RecordsSynced: records, Chunks: 1}, nil
}

// SyncRecent mirrors the trailing window ending today, sized by the
// configured number of recent days.
func (s *Service) SyncRecent(ctx context.Context) (SyncResult, error) {
	end := dateOnly(s.clock().UTC())
	start := end.AddDate(0, 0, -s.recentDays)

	runID, err := s.newRunID(opSyncRecent)
	if err != nil {
		return SyncResult{}, err
	}

	records, err := s.syncWindow(ctx, opSyncRecent, runID, start, end)
	if err != nil {
		return SyncResult{}, err
	}

	s.logger.Info("recent sync complete",
		zap.String("run_id", runID),
		zap.String("start_date", start.Format(time.DateOnly)),
		zap.String("end_date", end.Format(time.DateOnly)),
		zap.Int64("records_synced", records))

	return SyncResult{RunID: runID, StartDate: start, EndDate: end, RecordsSynced: records, Chunks: 1}, nil
}

// FullSync walks from the configured history start to today in chunks that
// respect the report API's one-year range ceiling. Chunks run oldest first;
// a failing chunk aborts the remainder while rows already written stay put.
func (s *Service) FullSync(ctx context.Context) (SyncResult, error) {
	overallStart := s.startDate
	overallEnd := dateOnly(s.clock().UTC())

	runID, err := s.newRunID(opFullSync)
	if err != nil {
		return SyncResult{}, err
	}

	var records int64
	chunks := 0
	for chunkStart := overallStart; !chunkStart.After(overallEnd); {
		chunkEnd := chunkStart.AddDate(0, 0, chunkSpanDays)
		if chunkEnd.After(overallEnd) {
			chunkEnd = overallEnd
		}

		chunkRecords, err := s.syncWindow(ctx, opFullSync, runID, chunkStart, chunkEnd)
		records += chunkRecords
		if err != nil {
			return SyncResult{}, err
		}
		chunks++

		s.logger.Info("full sync chunk complete",
			zap.String("run_id", runID),
			zap.String("chunk_start", chunkStart.Format(time.DateOnly)),
			zap.String("chunk_end", chunkEnd.Format(time.DateOnly)),
			zap.Int64("records_synced", chunkRecords))

		chunkStart = chunkEnd.AddDate(0, 0, 1)
	}

	s.logger.Info("full sync complete",
		zap.String("run_id", runID),
		zap.Int("chunks", chunks),
		zap.Int64("records_synced", records))

	return SyncResult{RunID: runID, StartDate: overallStart, EndDate: overallEnd, RecordsSynced: records, Chunks: chunks}, nil
}

// CurrentEntry returns the entry being tracked right now with its project
// name attached, or nil when the timer is idle.
func (s *Service) CurrentEntry(ctx context.Context) (*toggl.CurrentEntry, error) {
	entry, err := s.source.FetchCurrentEntry(ctx)
	if err != nil {
		s.logError(opCurrentEntry, "fetch_failed", err)
		return nil, newServiceError(opCurrentEntry, "fetch_failed", err)
	}
	if entry == nil {
		return nil, nil
	}

	if entry.ProjectID != nil {
		name, err := s.resolver.ResolveProjectName(ctx, *entry.ProjectID)
		if err != nil {
			s.logError(opCurrentEntry, "resolve_failed", err, zap.Int64("project_id", *entry.ProjectID))
			return nil, newServiceError(opCurrentEntry, "resolve_failed", err)
		}
		entry.ProjectName = name
	} else {
		entry.ProjectName = toggl.NoProjectName
	}

	return entry, nil
}

// syncWindow pages through the detailed report for one date window, writing
// every entry as it arrives so a mid-window failure keeps earlier rows.
func (s *Service) syncWindow(ctx context.Context, operation, runID string, startDate, endDate time.Time) (int64, error) {
	request := toggl.ReportRequest{
		StartDate:      startDate.Format(time.DateOnly),
		EndDate:        endDate.Format(time.DateOnly),
		PageSize:       s.pageSize,
		EnrichResponse: true,
		Grouped:        true,
	}

	var records int64
	for {
		page, err := s.source.SearchTimeEntries(ctx, request)
		if err != nil {
			s.logError(operation, "report_page_failed", err, zap.String("run_id", runID))
			return records, newServiceError(operation, "report_page_failed", err)
		}
		if len(page.Groups) == 0 {
			break
		}

		for _, group := range page.Groups {
			for _, raw := range group.TimeEntries {
				entry, err := buildEntry(group, raw)
				if err != nil {
					s.logError(operation, "normalize_failed", err,
						zap.String("run_id", runID), zap.Int64("entry_id", raw.ID))
					return records, newServiceError(operation, "normalize_failed", err)
				}
				if err := s.store.UpsertEntry(ctx, entry); err != nil {
					s.logError(operation, "upsert_failed", err,
						zap.String("run_id", runID), zap.Int64("entry_id", raw.ID))
					return records, newServiceError(operation, "upsert_failed", err)
				}
				records++
			}
		}

		if page.NextID == nil {
			break
		}
		request.FirstID = page.NextID
		s.logger.Debug("following report continuation",
			zap.String("run_id", runID), zap.Int64("first_id", *page.NextID))
	}

	return records, nil
}

// buildEntry flattens one grouped report row into a storable entry, carrying
// the group's shared metadata onto the concrete interval.
func buildEntry(group toggl.ReportGroup, raw toggl.ReportTimeEntry) (entries.TimeEntry, error) {
	startISO, startTS, err := entries.NormalizeTimestamp(raw.Start)
	if err != nil {
		return entries.TimeEntry{}, err
	}
	atISO, atTS, err := entries.NormalizeTimestamp(raw.At)
	if err != nil {
		return entries.TimeEntry{}, err
	}

	var stopISO *string
	var stopTS *int64
	if raw.Stop != nil && *raw.Stop != "" {
		iso, ts, err := entries.NormalizeTimestamp(*raw.Stop)
		if err != nil {
			return entries.TimeEntry{}, err
		}
		stopISO = &iso
		stopTS = &ts
	}

	tagIDValues := group.TagIDs
	if tagIDValues == nil {
		tagIDValues = []int64{}
	}
	tagIDs, err := encodeTagList(tagIDValues)
	if err != nil {
		return entries.TimeEntry{}, err
	}

	tagNameValues := group.TagNames
	if tagNameValues == nil {
		tagNameValues = []string{}
	}
	tagNames, err := encodeTagList(tagNameValues)
	if err != nil {
		return entries.TimeEntry{}, err
	}

	return entries.TimeEntry{
		EntryID:     raw.ID,
		Description: group.Description,
		ProjectID:   group.ProjectID,
		ProjectName: group.ProjectName,
		Seconds:     raw.Seconds,
		Start:       startISO,
		Stop:        stopISO,
		At:          atISO,
		StartTS:     startTS,
		StopTS:      stopTS,
		AtTS:        atTS,
		TagIDs:      tagIDs,
		TagNames:    tagNames,
	}, nil
}

func encodeTagList(values any) (string, error) {
	encoded, err := json.Marshal(values)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

func (s *Service) newRunID(operation string) (string, error) {
	runID, err := s.runIDs.NewRunID()
	if err != nil {
		s.logError(operation, "id_generation_failed", err)
		return "", newServiceError(operation, "id_generation_failed", err)
	}
	return runID, nil
}

func dateOnly(value time.Time) time.Time {
	utc := value.UTC()
	return time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC)
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
	s.loggerOrDefault().Error("mirror service error", attrs...)
}
