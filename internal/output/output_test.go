package output

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriter_StatusIcons(t *testing.T) {
	tests := []struct {
		name  string
		write func(*Writer)
		want  []string
	}{
		{"status", func(w *Writer) { w.Status("🔍", "checking vault") }, []string{"🔍", "checking vault"}},
		{"no icon indents", func(w *Writer) { w.Status("", "detail") }, []string{"   detail\n"}},
		{"success", func(w *Writer) { w.Successf("%d pages", 3) }, []string{"✅", "3 pages"}},
		{"warning", func(w *Writer) { w.Warningf("page %s degraded", "A") }, []string{"⚠️", "page A degraded"}},
		{"error", func(w *Writer) { w.Errorf("failed: %v", "boom") }, []string{"❌", "failed: boom"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			tt.write(New(buf))
			for _, s := range tt.want {
				assert.Contains(t, buf.String(), s)
			}
		})
	}
}

func TestWriter_JSONSuppressesStatus(t *testing.T) {
	// Given: a JSON writer
	buf := &bytes.Buffer{}
	w := NewJSON(buf)

	// When: writing status lines and a value
	w.Success("done")
	w.Newline()
	called := false
	require.NoError(t, w.Value(map[string]int{"pages": 2}, func(*Writer) { called = true }))

	// Then: only the JSON document is written
	assert.True(t, w.IsJSON())
	assert.False(t, called)
	var got map[string]int
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, 2, got["pages"])
}

func TestWriter_ValueHuman(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	require.NoError(t, w.Value(42, func(w *Writer) { w.Text("forty-two") }))

	assert.Equal(t, "forty-two\n", buf.String())
}

func TestWriter_TextAndLines(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Text("body\n")
	w.Lines([]string{"A", "B"})

	assert.Equal(t, "body\nA\nB\n", buf.String())
}

func TestWriter_Table(t *testing.T) {
	// Given: a writer
	buf := &bytes.Buffer{}
	w := New(buf)

	// When: rendering a table and an empty one
	w.Table([]string{"ID", "SCORE"}, [][]string{{"alpha", "1.50"}, {"beta", "0.25"}})
	w.Table([]string{"ID"}, nil)

	// Then: cells and the empty marker are present
	out := buf.String()
	for _, s := range []string{"ID", "SCORE", "alpha", "1.50", "beta", "0.25", "(none)"} {
		assert.Contains(t, out, s)
	}
}
