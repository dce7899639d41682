package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)

func TestAppendHistory_GrowsByOne(t *testing.T) {
	dir := uuid.New()

	tests := []struct {
		name    string
		current History
	}{
		{name: "nil history", current: nil},
		{name: "empty history", current: History{}},
		{name: "one entry", current: History{CreatedEntry("a.txt", "text/plain", 10, nil)}},
		{name: "several entries", current: History{
			CreatedEntry("a.txt", "text/plain", 10, &dir),
			RenamedEntry("b.txt"),
			MovedEntry(nil),
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := len(tt.current)
			got := AppendHistory(tt.current, RenamedEntry("c.txt"), testNow)

			require.Len(t, got, before+1)
			assert.Len(t, tt.current, before, "input must not be modified")
			last := got.Last()
			require.NotNil(t, last)
			assert.Equal(t, ActionRenamed, last.Action)
			assert.Equal(t, "c.txt", last.Name)
			assert.Equal(t, "2024-03-01T12:30:00Z", last.Date)
		})
	}
}

func TestAppendHistory_DoesNotShareBackingArray(t *testing.T) {
	base := make(History, 1, 4)
	base[0] = CreatedEntry("a", "text/plain", 1, nil)

	a := AppendHistory(base, RenamedEntry("x"), testNow)
	b := AppendHistory(base, RenamedEntry("y"), testNow)

	assert.Equal(t, "x", a[1].Name)
	assert.Equal(t, "y", b[1].Name)
}

func TestParseHistory_Malformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "absent", raw: ""},
		{name: "null", raw: "null"},
		{name: "object", raw: `{"action":"created"}`},
		{name: "string", raw: `"history"`},
		{name: "number", raw: `42`},
		{name: "garbage", raw: `[{"action":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := ParseHistory([]byte(tt.raw))
			require.NotNil(t, h)
			assert.Empty(t, h)

			appended := AppendHistory(h, DeletedEntry(), testNow)
			assert.Len(t, appended, 1)
		})
	}
}

func TestParseHistory_LegacyEntries(t *testing.T) {
	dir := uuid.New()
	raw := `[
		{"action":"created","name":"a.txt","mimeType":"text/plain","size":10,"date":"Mon Jan 01 2024"},
		{"directory":"` + dir.String() + `","date":"Tue Jan 02 2024"},
		{"name":"b.txt","date":"Wed Jan 03 2024"},
		{"deleted":true,"date":"Thu Jan 04 2024"},
		{"custom":"value"},
		"not-an-object"
	]`

	h := ParseHistory([]byte(raw))
	require.Len(t, h, 6)

	assert.Equal(t, ActionCreated, h[0].Action)
	assert.Equal(t, int64(10), h[0].Size)
	assert.Nil(t, h[0].DirectoryID)

	assert.Equal(t, ActionMoved, h[1].Action)
	require.NotNil(t, h[1].DirectoryID)
	assert.Equal(t, dir, *h[1].DirectoryID)

	assert.Equal(t, ActionRenamed, h[2].Action)
	assert.Equal(t, "b.txt", h[2].Name)

	assert.Equal(t, ActionDeleted, h[3].Action)
	assert.Equal(t, HistoryAction(""), h[4].Action)
	assert.Equal(t, HistoryAction(""), h[5].Action)
}

func TestHistory_StoredEntriesAreNotRewritten(t *testing.T) {
	raw := `[{"name":"legacy.txt","date":"Mon Jan 01 2024","extra":1},"odd"]`

	h := AppendHistory(ParseHistory([]byte(raw)), DeletedEntry(), testNow)
	out, err := json.Marshal(h)
	require.NoError(t, err)

	var decoded []json.RawMessage
	require.NoError(t, json.Unmarshal(out, &decoded))
	require.Len(t, decoded, 3)
	assert.JSONEq(t, `{"name":"legacy.txt","date":"Mon Jan 01 2024","extra":1}`, string(decoded[0]))
	assert.JSONEq(t, `"odd"`, string(decoded[1]))
	assert.JSONEq(t, `{"action":"deleted","deleted":true,"date":"2024-03-01T12:30:00Z"}`, string(decoded[2]))
}

func TestHistoryEntry_MarshalShapes(t *testing.T) {
	dir := uuid.MustParse("6f1c1f34-59c8-4a71-9bb1-3d1d3e3b0c11")
	ver := uuid.MustParse("0b5f2a4e-6a8e-4d8e-a3a6-3a8d8b1c2d3e")

	tests := []struct {
		name  string
		entry HistoryEntry
		want  string
	}{
		{
			name:  "created at root",
			entry: CreatedEntry("a.txt", "text/plain", 10, nil),
			want:  `{"action":"created","name":"a.txt","mimeType":"text/plain","size":10,"date":"d"}`,
		},
		{
			name:  "created in directory",
			entry: CreatedEntry("a.txt", "text/plain", 10, &dir),
			want:  `{"action":"created","name":"a.txt","mimeType":"text/plain","size":10,"directoryId":"` + dir.String() + `","date":"d"}`,
		},
		{
			name:  "moved",
			entry: MovedEntry(&dir),
			want:  `{"action":"moved","directory":"` + dir.String() + `","date":"d"}`,
		},
		{
			name:  "moved to root",
			entry: MovedEntry(nil),
			want:  `{"action":"moved","directory":null,"date":"d"}`,
		},
		{
			name:  "renamed",
			entry: RenamedEntry("b.txt"),
			want:  `{"action":"renamed","name":"b.txt","date":"d"}`,
		},
		{
			name:  "deleted",
			entry: DeletedEntry(),
			want:  `{"action":"deleted","deleted":true,"date":"d"}`,
		},
		{
			name:  "version added",
			entry: VersionAddedEntry(ver, "image/png", 99),
			want:  `{"action":"versionAdded","versionId":"` + ver.String() + `","mimeType":"image/png","size":99,"date":"d"}`,
		},
		{
			name:  "version deleted",
			entry: VersionDeletedEntry(ver),
			want:  `{"action":"versionDeleted","versionId":"` + ver.String() + `","date":"d"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.entry.Date = "d"
			out, err := json.Marshal(tt.entry)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(out))
		})
	}
}

func TestHistoryEntry_UnknownActionFailsToMarshal(t *testing.T) {
	_, err := json.Marshal(HistoryEntry{Action: "exploded"})
	assert.Error(t, err)
}

func TestHistory_ValueAndScan(t *testing.T) {
	var empty History
	v, err := empty.Value()
	require.NoError(t, err)
	assert.Equal(t, "[]", v)

	h := AppendHistory(nil, CreatedEntry("a.txt", "text/plain", 10, nil), testNow)
	v, err = h.Value()
	require.NoError(t, err)

	var scanned History
	require.NoError(t, scanned.Scan([]byte(v.(string))))
	require.Len(t, scanned, 1)
	assert.Equal(t, ActionCreated, scanned[0].Action)
	assert.Equal(t, "a.txt", scanned[0].Name)

	require.NoError(t, scanned.Scan(nil))
	assert.Empty(t, scanned)

	require.NoError(t, scanned.Scan(`{"not":"an array"}`))
	assert.Empty(t, scanned)

	assert.Error(t, scanned.Scan(12))
}
