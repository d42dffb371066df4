package sheets

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/contact-tracker/internal/apperror"
	"github.com/sakif/contact-tracker/internal/model"
)

// fakeTable keeps rows in memory. Row 1 is rows[0].
type fakeTable struct {
	rows          [][]string
	headerWrites  int
	appendCalls   int
	failUpdateRow int
}

func (f *fakeTable) Header(_ context.Context) ([]string, error) {
	if len(f.rows) == 0 {
		return nil, nil
	}
	return f.rows[0], nil
}

func (f *fakeTable) WriteHeader(_ context.Context, header []string) error {
	f.headerWrites++
	h := append([]string(nil), header...)
	if len(f.rows) == 0 {
		f.rows = [][]string{h}
		return nil
	}
	f.rows[0] = h
	return nil
}

func (f *fakeTable) KeyColumn(_ context.Context) ([]string, error) {
	out := make([]string, len(f.rows))
	for i, r := range f.rows {
		if len(r) > 0 {
			out[i] = r[0]
		}
	}
	return out, nil
}

func (f *fakeTable) AppendRow(_ context.Context, values []string) error {
	f.appendCalls++
	f.rows = append(f.rows, append([]string(nil), values...))
	return nil
}

func (f *fakeTable) UpdateCell(_ context.Context, row, col int, value string) error {
	if row == f.failUpdateRow {
		return errors.New("quota exceeded")
	}
	r := f.rows[row-1]
	for len(r) < col {
		r = append(r, "")
	}
	r[col-1] = value
	f.rows[row-1] = r
	return nil
}

func (f *fakeTable) URL() string { return "https://sheets.test/abc" }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func contact(id int64, name string) model.Contact {
	return model.Contact{
		ExternalID: id,
		Name:       name,
		Company:    model.Unknown,
		Role:       model.Unknown,
		Topics:     []string{},
		FirstSeen:  time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC),
	}
}

// =========================================================================
// ROW / SANITIZE TESTS
// =========================================================================

func TestSanitize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"=1+1", "'=1+1"},
		{"+441234", "'+441234"},
		{"-5", "'-5"},
		{"@everyone", "'@everyone"},
		{"Acme Corp", "Acme Corp"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Sanitize(tt.in), tt.in)
	}
}

func TestRow(t *testing.T) {
	c := contact(42, "=HYPERLINK(\"x\")")
	c.Topics = []string{"go", "rust"}
	c.Company = ""

	row := Row(&c)

	require.Len(t, row, len(Headers))
	assert.Equal(t, "42", row[ColUserID-1])
	assert.Equal(t, "2024-05-01 09:30:00", row[ColTimestamp-1])
	assert.Equal(t, "'=HYPERLINK(\"x\")", row[ColName-1])
	assert.Equal(t, model.Unknown, row[ColCompany-1])
	assert.Equal(t, "go, rust", row[ColInitialContext-1])
	assert.Equal(t, "", row[ColLastContact-1])
}

// =========================================================================
// HEADER TESTS
// =========================================================================

func TestEnsureHeaders(t *testing.T) {
	t.Run("empty sheet gets header", func(t *testing.T) {
		tbl := &fakeTable{}
		m := NewMirror(tbl, nil, testLogger())

		require.NoError(t, m.EnsureHeaders(context.Background()))
		assert.Equal(t, Headers, tbl.rows[0])
		assert.Equal(t, 1, tbl.headerWrites)
	})

	t.Run("matching header untouched", func(t *testing.T) {
		tbl := &fakeTable{rows: [][]string{append([]string(nil), Headers...)}}
		m := NewMirror(tbl, nil, testLogger())

		require.NoError(t, m.EnsureHeaders(context.Background()))
		assert.Zero(t, tbl.headerWrites)
	})

	t.Run("stale header overwritten, data kept", func(t *testing.T) {
		tbl := &fakeTable{rows: [][]string{{"User ID", "Name"}, {"7", "Ann"}}}
		m := NewMirror(tbl, nil, testLogger())

		require.NoError(t, m.EnsureHeaders(context.Background()))
		assert.Equal(t, Headers, tbl.rows[0])
		assert.Equal(t, []string{"7", "Ann"}, tbl.rows[1])
	})
}

// =========================================================================
// SYNC TESTS
// =========================================================================

func TestSyncFromStore_Idempotent(t *testing.T) {
	tbl := &fakeTable{}
	m := NewMirror(tbl, nil, testLogger())
	ctx := context.Background()
	require.NoError(t, m.EnsureHeaders(ctx))

	// 2 is already in the sheet from an earlier live append.
	c2 := contact(2, "Bob")
	require.NoError(t, m.AppendContact(ctx, &c2))

	contacts := []model.Contact{contact(1, "Ann"), c2, contact(3, "Cy")}

	first, err := m.SyncFromStore(ctx, contacts)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Appended)
	assert.ElementsMatch(t, []int64{1, 2, 3}, first.Present)

	second, err := m.SyncFromStore(ctx, contacts)
	require.NoError(t, err)
	assert.Zero(t, second.Appended)
	assert.Len(t, second.Present, 3)

	assert.Len(t, tbl.rows, 4, "header plus one row per contact")
}

func TestEnsureContact(t *testing.T) {
	tbl := &fakeTable{}
	m := NewMirror(tbl, nil, testLogger())
	ctx := context.Background()
	c := contact(9, "Dee")

	added, err := m.EnsureContact(ctx, &c)
	require.NoError(t, err)
	assert.True(t, added)

	added, err = m.EnsureContact(ctx, &c)
	require.NoError(t, err)
	assert.False(t, added)
	assert.Equal(t, 1, tbl.appendCalls)
}

// =========================================================================
// UPDATE / TAG TESTS
// =========================================================================

func TestUpdateCell(t *testing.T) {
	tbl := &fakeTable{}
	m := NewMirror(tbl, nil, testLogger())
	ctx := context.Background()
	require.NoError(t, m.EnsureHeaders(ctx))
	c := contact(5, "Eve")
	require.NoError(t, m.AppendContact(ctx, &c))

	require.NoError(t, m.UpdateCell(ctx, 5, ColCompany, "+Globex"))
	assert.Equal(t, "'+Globex", tbl.rows[1][ColCompany-1])

	err := m.UpdateCell(ctx, 404, ColNotes, "x")
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestBatchTagEvent_PartialFailure(t *testing.T) {
	tbl := &fakeTable{}
	m := NewMirror(tbl, nil, testLogger())
	ctx := context.Background()
	require.NoError(t, m.EnsureHeaders(ctx))

	for i := int64(1); i <= 3; i++ {
		c := contact(i, "c"+strconv.FormatInt(i, 10))
		require.NoError(t, m.AppendContact(ctx, &c))
	}
	// Contact 2 lives in row 3.
	tbl.failUpdateRow = 3

	tagged := m.BatchTagEvent(ctx, []int64{1, 2, 3, 99}, "DevConf")

	assert.Equal(t, 2, tagged)
	assert.Equal(t, "DevConf", tbl.rows[1][ColEventTag-1])
	assert.Equal(t, "", tbl.rows[2][ColEventTag-1])
	assert.Equal(t, "DevConf", tbl.rows[3][ColEventTag-1])
}

func TestColumnForField(t *testing.T) {
	for _, f := range model.EditableFields() {
		_, ok := ColumnForField(f)
		assert.True(t, ok, f.String())
	}
	_, ok := ColumnForField(model.Field(99))
	assert.False(t, ok)
}

// =========================================================================
// OPENER TESTS
// =========================================================================

func TestOpener(t *testing.T) {
	ctx := context.Background()

	t.Run("no spreadsheet is unavailable", func(t *testing.T) {
		o := NewOpener(nil, "", 0, testLogger())
		_, err := o.Open(ctx, "")
		assert.ErrorIs(t, err, apperror.ErrUnavailable)
	})

	t.Run("default id and caching", func(t *testing.T) {
		opened := map[string]int{}
		tables := map[string]*fakeTable{}
		open := func(_ context.Context, id string) (Table, error) {
			opened[id]++
			tables[id] = &fakeTable{}
			return tables[id], nil
		}
		o := NewOpener(open, "default-sheet", 60, testLogger())

		m1, err := o.Open(ctx, "")
		require.NoError(t, err)
		m2, err := o.Open(ctx, "default-sheet")
		require.NoError(t, err)
		assert.Same(t, m1, m2)
		assert.Equal(t, 1, opened["default-sheet"])
		assert.Equal(t, Headers, tables["default-sheet"].rows[0])

		_, err = o.Open(ctx, "other")
		require.NoError(t, err)
		assert.Equal(t, 1, opened["other"])
	})

	t.Run("open error is not cached", func(t *testing.T) {
		calls := 0
		open := func(_ context.Context, _ string) (Table, error) {
			calls++
			return nil, errors.New("403")
		}
		o := NewOpener(open, "s", 0, testLogger())

		_, err := o.Open(ctx, "")
		require.Error(t, err)
		_, err = o.Open(ctx, "")
		require.Error(t, err)
		assert.Equal(t, 2, calls)
	})

	t.Run("slow spreadsheet does not block others", func(t *testing.T) {
		entered := make(chan struct{})
		release := make(chan struct{})
		open := func(_ context.Context, id string) (Table, error) {
			if id == "slow" {
				close(entered)
				<-release
			}
			return &fakeTable{}, nil
		}
		o := NewOpener(open, "", 0, testLogger())

		type result struct {
			m   *Mirror
			err error
		}
		slowDone := make(chan result, 1)
		go func() {
			m, err := o.Open(ctx, "slow")
			slowDone <- result{m, err}
		}()
		<-entered

		fastDone := make(chan error, 1)
		go func() {
			_, err := o.Open(ctx, "fast")
			fastDone <- err
		}()
		select {
		case err := <-fastDone:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("Open for another spreadsheet blocked behind a slow one")
		}

		close(release)
		slow := <-slowDone
		require.NoError(t, slow.err)

		again, err := o.Open(ctx, "slow")
		require.NoError(t, err)
		assert.Same(t, slow.m, again)
	})
}

func TestColumnLetter(t *testing.T) {
	assert.Equal(t, "A", columnLetter(1))
	assert.Equal(t, "K", columnLetter(11))
	assert.Equal(t, "Z", columnLetter(26))
	assert.Equal(t, "AA", columnLetter(27))
}
