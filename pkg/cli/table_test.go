package cli

import (
	"bytes"
	"strings"
	"testing"
)

func TestTable_EmptyProducesNoOutput(t *testing.T) {
	var buf bytes.Buffer
	tbl := NewTableTo(&buf, "ID", "NAME")
	tbl.Flush()
	if buf.Len() != 0 {
		t.Errorf("empty table wrote %q", buf.String())
	}
}

func TestTable_HeadersAndDivider(t *testing.T) {
	var buf bytes.Buffer
	tbl := NewTableTo(&buf, "ID", "SEVERITY")
	tbl.Row("1", "high")
	tbl.Flush()

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3: %q", len(lines), buf.String())
	}
	if !strings.Contains(lines[0], "ID") || !strings.Contains(lines[0], "SEVERITY") {
		t.Errorf("header line = %q", lines[0])
	}
	if !strings.Contains(lines[1], "--") {
		t.Errorf("divider line = %q", lines[1])
	}
	if !strings.Contains(lines[2], "high") {
		t.Errorf("row line = %q", lines[2])
	}
}

func TestTable_ColumnsAligned(t *testing.T) {
	var buf bytes.Buffer
	tbl := NewTableTo(&buf, "ID", "NAME")
	tbl.Row("1", "a")
	tbl.Row("142", "block-at-edge")
	tbl.Flush()

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	// Second column starts at the same offset on every line.
	want := strings.Index(lines[2], "a")
	if got := strings.Index(lines[3], "block-at-edge"); got != want {
		t.Errorf("column offsets differ: %d vs %d\n%s", got, want, buf.String())
	}
}

func TestTable_WithPrefix(t *testing.T) {
	var buf bytes.Buffer
	tbl := NewTableTo(&buf, "ID").WithPrefix("  ")
	tbl.Row("1")
	tbl.Flush()

	for _, line := range strings.Split(strings.TrimRight(buf.String(), "\n"), "\n") {
		if !strings.HasPrefix(line, "  ") {
			t.Errorf("line %q missing prefix", line)
		}
	}
}
