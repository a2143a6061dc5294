package watcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, d *Debouncer) []Event {
	t.Helper()
	select {
	case batch := <-d.Output():
		return batch
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for debounced batch")
		return nil
	}
}

func TestDebouncer_SingleEventPassesThrough(t *testing.T) {
	d := NewDebouncer(20*time.Millisecond, 4)
	defer d.Stop()

	d.Add(Event{Path: "a.md", Op: OpCreate})

	batch := receive(t, d)
	require.Len(t, batch, 1)
	assert.Equal(t, "a.md", batch[0].Path)
	assert.Equal(t, OpCreate, batch[0].Op)
}

func TestDebouncer_Coalescing(t *testing.T) {
	tests := []struct {
		name string
		ops  []Operation
		want []Operation
	}{
		{"modify burst", []Operation{OpModify, OpModify, OpModify}, []Operation{OpModify}},
		{"create then modify", []Operation{OpCreate, OpModify}, []Operation{OpCreate}},
		{"modify then delete", []Operation{OpModify, OpDelete}, []Operation{OpDelete}},
		{"delete then create", []Operation{OpDelete, OpCreate}, []Operation{OpModify}},
		{"create then delete", []Operation{OpCreate, OpDelete}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDebouncer(20*time.Millisecond, 4)
			defer d.Stop()

			for _, op := range tt.ops {
				d.Add(Event{Path: "note.md", Op: op})
			}
			if tt.want == nil {
				assert.Zero(t, d.Pending())
				return
			}
			batch := receive(t, d)
			require.Len(t, batch, 1)
			assert.Equal(t, tt.want[0], batch[0].Op)
		})
	}
}

func TestDebouncer_BatchSortedByPath(t *testing.T) {
	d := NewDebouncer(20*time.Millisecond, 4)
	defer d.Stop()

	for _, p := range []string{"c.md", "a.md", "b.md"} {
		d.Add(Event{Path: p, Op: OpModify})
	}

	batch := receive(t, d)
	require.Len(t, batch, 3)
	assert.Equal(t, "a.md", batch[0].Path)
	assert.Equal(t, "b.md", batch[1].Path)
	assert.Equal(t, "c.md", batch[2].Path)
}

func TestDebouncer_StopDiscardsPending(t *testing.T) {
	d := NewDebouncer(50*time.Millisecond, 4)
	d.Add(Event{Path: "a.md", Op: OpCreate})
	d.Stop()
	d.Stop()
	d.Add(Event{Path: "b.md", Op: OpCreate})

	select {
	case batch := <-d.Output():
		t.Fatalf("unexpected batch after stop: %v", batch)
	case <-time.After(120 * time.Millisecond):
	}
}

func TestOperation_String(t *testing.T) {
	assert.Equal(t, "create", OpCreate.String())
	assert.Equal(t, "delete", OpDelete.String())
	assert.Equal(t, "unknown", Operation(9).String())
}

func TestOptions_Wants(t *testing.T) {
	opts := DefaultOptions()
	assert.True(t, opts.wants("notes/a.md"))
	assert.True(t, opts.wants("A.MD"))
	assert.False(t, opts.wants("notes/a.txt"))
	assert.False(t, opts.wants(".notegraph/pages.md"))
	assert.False(t, opts.wants("notes/.draft.md"))

	opts.Extensions = nil
	assert.True(t, opts.wants("notes/a.txt"))
}
