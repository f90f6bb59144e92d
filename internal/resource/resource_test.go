package resource

import (
	"errors"
	"net/url"
	"testing"

	"client-portal/internal/model"
	"github.com/stretchr/testify/require"
)

func TestDecodeCreate_AppliesDefaults(t *testing.T) {
	values, err := Projects.DecodeCreate(map[string]any{"name": "Migration"})
	require.NoError(t, err)
	require.Equal(t, "Migration", values["name"])
	require.Equal(t, "Planning", values["status"])
	require.Equal(t, float64(0), values["progress"])
	require.Contains(t, values, "budget")
	require.Nil(t, values["budget"])
}

func TestDecodeCreate_RequiredField(t *testing.T) {
	for _, body := range []map[string]any{
		{},
		{"name": ""},
		{"name": "   "},
		{"name": nil},
	} {
		_, err := Projects.DecodeCreate(body)
		var verr *ValidationError
		require.True(t, errors.As(err, &verr), "body %v", body)
		require.Equal(t, "name", verr.Field)
	}
}

func TestDecodeCreate_TypeChecks(t *testing.T) {
	cases := []map[string]any{
		{"name": "p", "status": "Unknown"},
		{"name": "p", "progress": 101.0},
		{"name": "p", "progress": "half"},
		{"name": "p", "startDate": "03/04/2025"},
		{"name": 12.0},
	}
	for _, body := range cases {
		_, err := Projects.DecodeCreate(body)
		require.Error(t, err, "body %v", body)
	}

	_, err := Meetings.DecodeCreate(map[string]any{"title": "Kickoff", "startTime": "tomorrow"})
	require.Error(t, err)
}

func TestDecodeCreate_IgnoresSystemAndUnknownFields(t *testing.T) {
	values, err := Tasks.DecodeCreate(map[string]any{
		"title":   "Write docs",
		"id":      "forged",
		"userId":  "someone-else",
		"unknown": true,
	})
	require.NoError(t, err)
	require.NotContains(t, values, "id")
	require.NotContains(t, values, "user_id")
	require.NotContains(t, values, "unknown")
	require.Equal(t, "To Do", values["status"])
}

func TestDecodeUpdate_OnlyPresentFields(t *testing.T) {
	values, err := Projects.DecodeUpdate(map[string]any{"status": "Completed", "budget": nil})
	require.NoError(t, err)
	require.Equal(t, Values{"status": "Completed", "budget": nil}, values)

	_, err = Projects.DecodeUpdate(map[string]any{"name": nil})
	require.Error(t, err)
}

func TestDecodeCreate_NormalizesTimestamps(t *testing.T) {
	values, err := Meetings.DecodeCreate(map[string]any{"title": "Kickoff", "startTime": "2025-03-04T10:00:00+02:00"})
	require.NoError(t, err)
	require.Equal(t, "2025-03-04T08:00:00Z", values["start_time"])
}

func TestParseFilters(t *testing.T) {
	q := url.Values{"status": {"Done"}, "projectId": {"p1"}, "title": {"ignored"}, "bogus": {"x"}}
	conds := Tasks.ParseFilters(q)
	require.Equal(t, []Condition{
		{Column: "project_id", Value: "p1"},
		{Column: "status", Value: "Done"},
	}, conds)
}

func TestToRow_TranslatesColumns(t *testing.T) {
	row := Projects.ToRow(map[string]any{
		"id":         "p1",
		"user_id":    "u1",
		"name":       "Migration",
		"start_date": []byte("2025-01-01"),
		"progress":   int64(10),
		"created_at": "2025-01-01T00:00:00.000000Z",
		"secret":     "dropped",
	})
	require.Equal(t, model.Row{
		"id":        "p1",
		"userId":    "u1",
		"name":      "Migration",
		"startDate": "2025-01-01",
		"progress":  float64(10),
		"createdAt": "2025-01-01T00:00:00.000000Z",
	}, row)
}

func TestParseRowFilter(t *testing.T) {
	f, err := Tasks.ParseRowFilter("project_id=eq.p1")
	require.NoError(t, err)
	require.Equal(t, &RowFilter{Field: "projectId", Value: "p1"}, f)
	require.True(t, f.Matches(model.Row{"projectId": "p1"}))
	require.False(t, f.Matches(model.Row{"projectId": "p2"}))
	require.False(t, f.Matches(model.Row{}))

	f, err = Tasks.ParseRowFilter("status=eq.In Progress")
	require.NoError(t, err)
	require.True(t, f.Matches(model.Row{"status": "In Progress"}))

	f, err = Tasks.ParseRowFilter("")
	require.NoError(t, err)
	require.Nil(t, f)
	require.True(t, f.Matches(model.Row{"status": "Done"}))

	for _, expr := range []string{"status", "status=neq.Done", "nope=eq.1"} {
		_, err := Tasks.ParseRowFilter(expr)
		require.ErrorIs(t, err, ErrInvalidFilter, expr)
	}
}

func TestLookup(t *testing.T) {
	s, ok := Lookup("meetings")
	require.True(t, ok)
	require.Equal(t, "meeting", s.Singular)

	_, ok = Lookup("users")
	require.False(t, ok)
}
