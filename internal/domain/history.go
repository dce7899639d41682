package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type HistoryAction string

const (
	ActionCreated        HistoryAction = "created"
	ActionMoved          HistoryAction = "moved"
	ActionRenamed        HistoryAction = "renamed"
	ActionDeleted        HistoryAction = "deleted"
	ActionVersionAdded   HistoryAction = "versionAdded"
	ActionVersionDeleted HistoryAction = "versionDeleted"
)

// HistoryEntry is one audit event. Which payload fields are meaningful depends
// on Action; see MarshalJSON for the stored shape of each kind.
type HistoryEntry struct {
	Action      HistoryAction
	Name        string
	MIMEType    string
	Size        int64
	DirectoryID *uuid.UUID
	VersionID   uuid.UUID
	Date        string

	// raw holds the stored bytes of an entry read back from the database.
	// Stored entries are re-emitted verbatim and never rewritten.
	raw json.RawMessage
}

func CreatedEntry(name, mimeType string, size int64, directoryID *uuid.UUID) HistoryEntry {
	return HistoryEntry{Action: ActionCreated, Name: name, MIMEType: mimeType, Size: size, DirectoryID: directoryID}
}

func MovedEntry(directoryID *uuid.UUID) HistoryEntry {
	return HistoryEntry{Action: ActionMoved, DirectoryID: directoryID}
}

func RenamedEntry(name string) HistoryEntry {
	return HistoryEntry{Action: ActionRenamed, Name: name}
}

func DeletedEntry() HistoryEntry {
	return HistoryEntry{Action: ActionDeleted}
}

func VersionAddedEntry(versionID uuid.UUID, mimeType string, size int64) HistoryEntry {
	return HistoryEntry{Action: ActionVersionAdded, VersionID: versionID, MIMEType: mimeType, Size: size}
}

func VersionDeletedEntry(versionID uuid.UUID) HistoryEntry {
	return HistoryEntry{Action: ActionVersionDeleted, VersionID: versionID}
}

// MarshalJSON writes the entry in the stored shape:
//
//	created        {action, name, mimeType, size, directoryId?, date}
//	moved          {action, directory, date}
//	renamed        {action, name, date}
//	deleted        {action, deleted: true, date}
//	versionAdded   {action, versionId, mimeType, size, date}
//	versionDeleted {action, versionId, date}
func (e HistoryEntry) MarshalJSON() ([]byte, error) {
	if e.raw != nil {
		return e.raw, nil
	}

	m := map[string]interface{}{
		"action": e.Action,
		"date":   e.Date,
	}
	switch e.Action {
	case ActionCreated:
		m["name"] = e.Name
		m["mimeType"] = e.MIMEType
		m["size"] = e.Size
		if e.DirectoryID != nil {
			m["directoryId"] = *e.DirectoryID
		}
	case ActionMoved:
		m["directory"] = e.DirectoryID
	case ActionRenamed:
		m["name"] = e.Name
	case ActionDeleted:
		m["deleted"] = true
	case ActionVersionAdded:
		m["versionId"] = e.VersionID
		m["mimeType"] = e.MIMEType
		m["size"] = e.Size
	case ActionVersionDeleted:
		m["versionId"] = e.VersionID
	default:
		return nil, fmt.Errorf("unknown history action %q", e.Action)
	}
	return json.Marshal(m)
}

// UnmarshalJSON never fails on well-formed JSON. Entries written before the
// action tag existed are classified by their keys; anything unrecognised keeps
// an empty Action and survives untouched through the raw bytes.
func (e *HistoryEntry) UnmarshalJSON(data []byte) error {
	*e = HistoryEntry{raw: append(json.RawMessage(nil), data...)}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return nil
	}

	var w struct {
		Action      HistoryAction `json:"action"`
		Name        string        `json:"name"`
		MIMEType    string        `json:"mimeType"`
		Size        int64         `json:"size"`
		DirectoryID *uuid.UUID    `json:"directoryId"`
		Directory   *uuid.UUID    `json:"directory"`
		VersionID   uuid.UUID     `json:"versionId"`
		Date        string        `json:"date"`
	}
	// Legacy rows may carry values of the wrong type; keep whatever decoded.
	_ = json.Unmarshal(data, &w)

	action := w.Action
	if action == "" {
		switch {
		case has(fields, "deleted"):
			action = ActionDeleted
		case has(fields, "directory"):
			action = ActionMoved
		case has(fields, "name"):
			action = ActionRenamed
		}
	}

	e.Action = action
	e.Name = w.Name
	e.MIMEType = w.MIMEType
	e.Size = w.Size
	e.VersionID = w.VersionID
	e.Date = w.Date
	e.DirectoryID = w.DirectoryID
	if action == ActionMoved {
		e.DirectoryID = w.Directory
	}
	return nil
}

func has(fields map[string]json.RawMessage, key string) bool {
	_, ok := fields[key]
	return ok
}

// History is the append-only audit log of a file, oldest entry first.
type History []HistoryEntry

// ParseHistory decodes a stored history column. Absent, null, malformed or
// non-array input yields an empty history.
func ParseHistory(raw []byte) History {
	var entries []HistoryEntry
	if err := json.Unmarshal(raw, &entries); err != nil || entries == nil {
		return History{}
	}
	return History(entries)
}

// AppendHistory returns current extended with entry stamped at now.
// current is not modified.
func AppendHistory(current History, entry HistoryEntry, now time.Time) History {
	out := make(History, 0, len(current)+1)
	out = append(out, current...)
	entry.Date = now.UTC().Format(time.RFC3339Nano)
	entry.raw = nil
	return append(out, entry)
}

// Last returns the newest entry, or nil for an empty history.
func (h History) Last() *HistoryEntry {
	if len(h) == 0 {
		return nil
	}
	return &h[len(h)-1]
}

// Value implements driver.Valuer. lib/pq sends []byte as bytea, so the
// document goes out as a string for the jsonb column.
func (h History) Value() (driver.Value, error) {
	if len(h) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal([]HistoryEntry(h))
	if err != nil {
		return nil, fmt.Errorf("encode history: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (h *History) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*h = History{}
	case []byte:
		*h = ParseHistory(v)
	case string:
		*h = ParseHistory([]byte(v))
	default:
		return fmt.Errorf("scan history: unsupported type %T", src)
	}
	return nil
}
