package tasklist

import (
	"strings"
	"testing"
)

func TestReadSkipsBlankAndComments(t *testing.T) {
	input := `
# a comment
https://example.com/a.bin

https://example.com/b.bin|deadbeef
`
	items, err := Read(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0].Destination != "a.bin" || items[0].ExpectedDigest != "" {
		t.Fatalf("unexpected item 0: %+v", items[0])
	}
	if items[1].Destination != "b.bin" || items[1].ExpectedDigest != "deadbeef" {
		t.Fatalf("unexpected item 1: %+v", items[1])
	}
}

func TestReadRejectsTooManyPipes(t *testing.T) {
	_, err := Read(strings.NewReader("https://example.com/a.bin|deadbeef|extra"))
	if err == nil {
		t.Fatalf("expected error for line with two '|' separators")
	}
}

func TestReadRejectsInvalidURL(t *testing.T) {
	_, err := Read(strings.NewReader("not-a-url"))
	if err == nil {
		t.Fatalf("expected error for invalid URL")
	}
}

func TestParseLineTrimsWhitespace(t *testing.T) {
	item, err := ParseLine("https://example.com/file.zip | abc123 ")
	if err != nil {
		t.Fatalf("ParseLine: %v", err)
	}
	if item.ExpectedDigest != "abc123" {
		t.Fatalf("expected digest abc123, got %q", item.ExpectedDigest)
	}
}
