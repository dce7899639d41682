package domain

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectory_ChildAncestors(t *testing.T) {
	top := &Directory{ID: uuid.New()}
	assert.Equal(t, Ancestors{top.ID}, top.ChildAncestors())

	child := &Directory{ID: uuid.New(), Ancestors: top.ChildAncestors()}
	got := child.ChildAncestors()
	assert.Equal(t, Ancestors{top.ID, child.ID}, got)

	got[0] = uuid.Nil
	assert.Equal(t, top.ID, child.Ancestors[0], "result must not alias the directory path")
}

func TestAncestors_Rebase(t *testing.T) {
	a, b, c, d, x := uuid.New(), uuid.New(), uuid.New(), uuid.New(), uuid.New()

	tests := []struct {
		name  string
		path  Ancestors
		moved uuid.UUID
		base  Ancestors
		want  Ancestors
	}{
		{name: "moved is first", path: Ancestors{b, c}, moved: b, base: Ancestors{x}, want: Ancestors{x, b, c}},
		{name: "moved in middle", path: Ancestors{a, b, c, d}, moved: b, base: Ancestors{x}, want: Ancestors{x, b, c, d}},
		{name: "moved to top level", path: Ancestors{a, b, c}, moved: b, base: Ancestors{}, want: Ancestors{b, c}},
		{name: "unrelated path", path: Ancestors{a, c}, moved: b, base: Ancestors{x}, want: Ancestors{a, c}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.path.Rebase(tt.moved, tt.base))
		})
	}
}

func TestAncestors_ValueAndScan(t *testing.T) {
	a, b := uuid.New(), uuid.New()

	v, err := Ancestors{a, b}.Value()
	require.NoError(t, err)

	var got Ancestors
	require.NoError(t, got.Scan([]byte(v.(string))))
	assert.Equal(t, Ancestors{a, b}, got)

	v, err = Ancestors{}.Value()
	require.NoError(t, err)
	require.NoError(t, got.Scan([]byte(v.(string))))
	assert.Empty(t, got)

	assert.Error(t, got.Scan([]byte("{not-a-uuid}")))
}
