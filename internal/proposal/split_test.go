package proposal

import (
	"bytes"
	"reflect"
	"strings"
	"testing"
)

func mustSplitter(t *testing.T, chunkSize, overlap, window int) *Splitter {
	t.Helper()
	s, err := NewSplitter(chunkSize, overlap, window)
	if err != nil {
		t.Fatalf("NewSplitter: %v", err)
	}
	return s
}

func checkCoverage(t *testing.T, content []byte, chunks []ChunkDef, overlap int) {
	t.Helper()
	if len(content) == 0 {
		if len(chunks) != 0 {
			t.Fatalf("empty content produced %d chunks", len(chunks))
		}
		return
	}
	if len(chunks) == 0 {
		t.Fatalf("no chunks for %d bytes", len(content))
	}
	if chunks[0].Start != 0 {
		t.Fatalf("first chunk starts at %d, want 0", chunks[0].Start)
	}
	if chunks[len(chunks)-1].End != len(content) {
		t.Fatalf("last chunk ends at %d, want %d", chunks[len(chunks)-1].End, len(content))
	}
	for i, c := range chunks {
		if c.Start >= c.End {
			t.Fatalf("chunk %d has empty range [%d,%d)", i, c.Start, c.End)
		}
		if i == 0 {
			continue
		}
		prev := chunks[i-1]
		if c.Start <= prev.Start {
			t.Fatalf("chunk %d start %d not after chunk %d start %d", i, c.Start, i-1, prev.Start)
		}
		if c.Start > prev.End {
			t.Fatalf("gap between chunk %d end %d and chunk %d start %d", i-1, prev.End, i, c.Start)
		}
		if prev.End-c.Start > overlap {
			t.Fatalf("overlap %d between chunks %d and %d exceeds %d", prev.End-c.Start, i-1, i, overlap)
		}
		if content[c.Start]&0xC0 == 0x80 {
			t.Fatalf("chunk %d starts on a UTF-8 continuation byte at %d", i, c.Start)
		}
	}
}

func TestSplitEmptyDocument(t *testing.T) {
	s := mustSplitter(t, 100, 10, 20)
	if got := s.Split("doc.md", nil); len(got) != 0 {
		t.Fatalf("expected empty list, got %v", got)
	}
}

func TestSplitSmallDocumentSingleChunk(t *testing.T) {
	s := mustSplitter(t, 100, 10, 20)
	content := []byte("short document")
	chunks := s.Split("doc.md", content)
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	want := ChunkDef{SourceRef: "doc.md", Start: 0, End: len(content)}
	if chunks[0] != want {
		t.Fatalf("got %+v, want %+v", chunks[0], want)
	}
}

func TestSplitCoverage(t *testing.T) {
	s := mustSplitter(t, 120, 30, 40)
	content := []byte(strings.Repeat("line of requirement text\n", 60))
	chunks := s.Split("doc.md", content)
	checkCoverage(t, content, chunks, 30)
}

func TestSplitSnapsToNewline(t *testing.T) {
	s := mustSplitter(t, 100, 10, 50)
	line := strings.Repeat("a", 80) + "\n"
	content := []byte(line + line + line)
	chunks := s.Split("doc.md", content)
	if chunks[0].End != len(line) {
		t.Fatalf("first chunk end %d, want newline snap at %d", chunks[0].End, len(line))
	}
	checkCoverage(t, content, chunks, 10)
}

func TestSplitMultiByteBoundaryAlignment(t *testing.T) {
	// Cyrillic text: every rune is two bytes, so unaligned overlap
	// starts land on continuation bytes without correction.
	s := mustSplitter(t, 101, 13, 0)
	content := []byte(strings.Repeat("документ и требования ", 40))
	chunks := s.Split("doc.md", content)
	checkCoverage(t, content, chunks, 13)
}

func TestSplitIdempotent(t *testing.T) {
	s := mustSplitter(t, 97, 17, 23)
	content := []byte(strings.Repeat("requirements текст\n", 50))
	first := s.Split("doc.md", content)
	second := s.Split("doc.md", content)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("split not idempotent:\n%v\n%v", first, second)
	}
}

func TestNewSplitterRejectsBadConfig(t *testing.T) {
	if _, err := NewSplitter(0, 0, 0); err == nil {
		t.Fatalf("expected error for zero chunk size")
	}
	if _, err := NewSplitter(100, 100, 0); err == nil {
		t.Fatalf("expected error for overlap >= chunk size")
	}
}

func TestSliceChunkDropsBoundaryCutBytes(t *testing.T) {
	content := []byte("же") // 4 bytes, two 2-byte runes
	def := ChunkDef{SourceRef: "doc.md", Start: 1, End: 4}
	got := SliceChunk(content, def)
	if got != "е" {
		t.Fatalf("got %q, want the surviving full rune", got)
	}
}

func TestDecodeLossyKeepsValidText(t *testing.T) {
	text := "обычный текст with ascii"
	if got := decodeLossy([]byte(text)); got != text {
		t.Fatalf("got %q, want %q", got, text)
	}
	mixed := append([]byte("ok"), 0xFF, 0xFE)
	mixed = append(mixed, []byte("да")...)
	if got := decodeLossy(mixed); got != "okда" {
		t.Fatalf("got %q, want %q", got, "okда")
	}
	if !bytes.Equal([]byte(decodeLossy([]byte("plain"))), []byte("plain")) {
		t.Fatalf("ascii roundtrip failed")
	}
}
