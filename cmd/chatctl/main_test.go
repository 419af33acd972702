package main

import (
	"bytes"
	"io"
	"strings"
	"testing"
)

func TestParseID(t *testing.T) {
	if id, err := parseID("42"); err != nil || id != 42 {
		t.Errorf("parseID(42) = %d, %v", id, err)
	}
	for _, s := range []string{"", "0", "-3", "abc"} {
		if _, err := parseID(s); err == nil {
			t.Errorf("parseID(%q) succeeded", s)
		}
	}
}

func TestOneLine(t *testing.T) {
	if got := oneLine("a\n  b\tc", 50); got != "a b c" {
		t.Errorf("oneLine = %q", got)
	}
	if got := oneLine("héllo world", 5); got != "héll…" {
		t.Errorf("oneLine = %q", got)
	}
}

func TestPrintModes(t *testing.T) {
	var buf bytes.Buffer
	c := &ctl{out: &buf}
	if err := c.print(map[string]int{"n": 1}, func(w io.Writer) { _, _ = io.WriteString(w, "text\n") }); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "text\n" {
		t.Errorf("text output = %q", buf.String())
	}

	buf.Reset()
	c.json = true
	if err := c.print(map[string]int{"n": 1}, nil); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "\"n\": 1") {
		t.Errorf("json output = %q", buf.String())
	}
}
