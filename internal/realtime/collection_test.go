package realtime

import (
	"testing"

	"client-portal/internal/model"
	"github.com/stretchr/testify/require"
)

func seed() *Collection {
	return NewCollection([]model.Row{
		{"id": "A", "name": "Alpha", "status": "Planning"},
		{"id": "B", "name": "Bravo", "status": "Planning"},
		{"id": "C", "name": "Charlie", "status": "Completed"},
	})
}

func ids(rows []model.Row) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.ID()
	}
	return out
}

func TestCollection_UpdateMergesInPlace(t *testing.T) {
	c := seed()
	c.Apply(model.ChangeEvent{
		Type:  model.EventUpdate,
		Table: "projects",
		New:   model.Row{"id": "B", "status": "In Progress"},
		Old:   model.Row{"id": "B"},
	})

	rows := c.Rows()
	require.Equal(t, []string{"A", "B", "C"}, ids(rows))
	require.Equal(t, "In Progress", rows[1]["status"])
	require.Equal(t, "Bravo", rows[1]["name"])
	require.Equal(t, model.Row{"id": "A", "name": "Alpha", "status": "Planning"}, rows[0])
	require.Equal(t, model.Row{"id": "C", "name": "Charlie", "status": "Completed"}, rows[2])
}

func TestCollection_DeleteRemovesAndIgnoresUnknown(t *testing.T) {
	c := seed()
	c.Apply(model.ChangeEvent{Type: model.EventDelete, Old: model.Row{"id": "A"}})
	require.Equal(t, []string{"B", "C"}, ids(c.Rows()))

	c.Apply(model.ChangeEvent{Type: model.EventDelete, Old: model.Row{"id": "Z"}})
	require.Equal(t, []string{"B", "C"}, ids(c.Rows()))
}

func TestCollection_InsertPrepends(t *testing.T) {
	c := seed()
	c.Apply(model.ChangeEvent{Type: model.EventInsert, New: model.Row{"id": "D", "name": "Delta"}})
	require.Equal(t, []string{"D", "A", "B", "C"}, ids(c.Rows()))
	require.Equal(t, 4, c.Len())
}

func TestCollection_UpdateOfUnknownIsDropped(t *testing.T) {
	c := seed()
	c.Apply(model.ChangeEvent{Type: model.EventUpdate, New: model.Row{"id": "Z", "name": "Zulu"}})
	require.Equal(t, []string{"A", "B", "C"}, ids(c.Rows()))
}

func TestCollection_SnapshotsAreIndependent(t *testing.T) {
	c := seed()
	before := c.Rows()
	before[0]["name"] = "mutated"

	c.Apply(model.ChangeEvent{Type: model.EventDelete, Old: model.Row{"id": "B"}})
	require.Equal(t, []string{"A", "B", "C"}, ids(before))
	require.Equal(t, "Alpha", c.Rows()[0]["name"])
}

func TestState_String(t *testing.T) {
	require.Equal(t, "subscribed", StateSubscribed.String())
	require.Equal(t, "closed", StateClosed.String())
}
