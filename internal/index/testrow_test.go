package index_test

import (
	"testing"

	"gammafour-data/internal/row"
)

func mustField(t *testing.T, r row.Row, name string) interface{} {
	t.Helper()
	v, ok := r.Field(name)
	if !ok {
		t.Fatalf("field %q not present on row", name)
	}
	return v
}

// testRow is a minimal row.Row used across this package's tests.
type testRow struct {
	current  map[string]interface{}
	previous map[string]interface{}
	original map[string]interface{}
}

func newTestRow(fields map[string]interface{}) *testRow {
	snapshot := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		snapshot[k] = v
	}
	return &testRow{current: fields, previous: snapshot, original: snapshot}
}

func (r *testRow) Field(name string) (interface{}, bool) {
	v, ok := r.current[name]
	return v, ok
}

func (r *testRow) Version(which row.Version) row.Row {
	switch which {
	case row.Original:
		return &testRow{current: r.original}
	case row.Previous:
		return &testRow{current: r.previous}
	default:
		return r
	}
}

// setKey simulates a generated setter mutating an indexed column: it
// snapshots the pre-change value into previous before mutating current.
func (r *testRow) setKey(field string, v interface{}) {
	r.previous = map[string]interface{}{field: r.current[field]}
	r.current = map[string]interface{}{field: v}
}

func intKey(field string) func(row.Row) int {
	return func(r row.Row) int {
		v, _ := r.Field(field)
		id, _ := v.(int)
		return id
	}
}
