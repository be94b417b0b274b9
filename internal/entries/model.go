package entries

import (
	"errors"
	"fmt"
)

const emptyTagArray = "[]"

var (
	// ErrInvalidEntryID indicates that a time entry identifier is not positive.
	ErrInvalidEntryID = errors.New("entries: invalid entry id")
	// ErrInvalidNoteID indicates that a note identifier is not positive.
	ErrInvalidNoteID = errors.New("entries: invalid note id")
	// ErrNoteNotFound indicates that no note exists for the requested identifier.
	ErrNoteNotFound = errors.New("entries: note not found")
)

// EntryID represents a validated Toggl time entry identifier.
type EntryID int64

// NewEntryID validates the raw value and returns an EntryID.
func NewEntryID(value int64) (EntryID, error) {
	if value <= 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidEntryID, value)
	}
	return EntryID(value), nil
}

// Int64 exposes the raw identifier value.
func (id EntryID) Int64() int64 {
	return int64(id)
}

// NoteID represents a validated local note identifier.
type NoteID int64

// NewNoteID validates the raw value and returns a NoteID.
func NewNoteID(value int64) (NoteID, error) {
	if value <= 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidNoteID, value)
	}
	return NoteID(value), nil
}

// Int64 exposes the raw identifier value.
func (id NoteID) Int64() int64 {
	return int64(id)
}

// TimeEntry models one mirrored Toggl time entry. The upstream identifier is
// the primary key, so re-syncing an interval overwrites rows in place. The
// start/stop/at instants are stored twice: once as canonical UTC ISO-8601
// strings and once as epoch seconds for range scans.
type TimeEntry struct {
	EntryID     int64       `gorm:"column:entry_id;primaryKey;autoIncrement:false"`
	Description string      `gorm:"column:description;type:text;not null"`
	ProjectID   int64       `gorm:"column:project_id;not null"`
	ProjectName string      `gorm:"column:project_name;type:text;not null"`
	Seconds     int64       `gorm:"column:seconds;not null"`
	Start       string      `gorm:"column:start;type:text;not null"`
	Stop        *string     `gorm:"column:stop;type:text"`
	At          string      `gorm:"column:at;type:text;not null"`
	StartTS     int64       `gorm:"column:start_ts;not null;index:idx_time_entries_start_ts"`
	StopTS      *int64      `gorm:"column:stop_ts"`
	AtTS        int64       `gorm:"column:at_ts;not null"`
	TagIDs      string      `gorm:"column:tag_ids;type:text;not null;default:'[]'"`
	TagNames    string      `gorm:"column:tag_names;type:text;not null;default:'[]'"`
	Notes       []EntryNote `gorm:"foreignKey:EntryID;references:EntryID;constraint:OnDelete:CASCADE"`
}

// TableName provides the explicit table binding for GORM.
func (TimeEntry) TableName() string {
	return "time_entries"
}

// EntryNote models a locally authored annotation attached to a mirrored entry.
// Notes live only in this database; sync never touches them.
type EntryNote struct {
	ID        int64  `gorm:"column:id;primaryKey;autoIncrement"`
	EntryID   int64  `gorm:"column:entry_id;not null;index:idx_entry_notes_entry_id"`
	NoteText  string `gorm:"column:note_text;type:text;not null"`
	CreatedAt string `gorm:"column:created_at;type:text;not null"`
}

// TableName provides the explicit table binding for GORM.
func (EntryNote) TableName() string {
	return "entry_notes"
}
