package proposal

import (
	"bytes"
	"fmt"
	"unicode/utf8"
)

// Splitter produces overlapping byte-range chunk definitions over a
// parsed markdown blob. Boundaries prefer newline breaks and the start
// of every chunk is aligned to a UTF-8 character boundary.
type Splitter struct {
	chunkSize     int
	overlap       int
	newlineWindow int
}

func NewSplitter(chunkSize, overlap, newlineWindow int) (*Splitter, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}
	if overlap < 0 || overlap >= chunkSize {
		return nil, fmt.Errorf("overlap %d must be in [0, chunk size %d)", overlap, chunkSize)
	}
	if newlineWindow < 0 {
		newlineWindow = 0
	}
	return &Splitter{chunkSize: chunkSize, overlap: overlap, newlineWindow: newlineWindow}, nil
}

// Split returns chunk definitions covering [0, len(content)). An empty
// document yields an empty list; a document no larger than the chunk
// size yields a single chunk.
func (s *Splitter) Split(sourceRef string, content []byte) []ChunkDef {
	length := len(content)
	if length == 0 {
		return []ChunkDef{}
	}

	chunks := []ChunkDef{}
	start := 0

	for start < length {
		end := start + s.chunkSize
		if end > length {
			end = length
		}

		// Snap to the last newline in the trailing window so chunks
		// break on clean lines where possible.
		if end < length && s.newlineWindow > 0 {
			searchStart := end - s.newlineWindow
			if searchStart < start {
				searchStart = start
			}
			if idx := bytes.LastIndexByte(content[searchStart:end], '\n'); idx != -1 {
				end = searchStart + idx + 1
			}
		}

		chunks = append(chunks, ChunkDef{SourceRef: sourceRef, Start: start, End: end})

		if end >= length {
			break
		}

		next := end - s.overlap
		if next < 0 {
			next = 0
		}
		// Advance off UTF-8 continuation bytes so the next chunk
		// begins on a character boundary.
		for next < length && content[next]&0xC0 == 0x80 {
			next++
		}
		if next <= start {
			// The overlap swallowed all forward progress; force it.
			next = end
		}
		start = next
	}

	return chunks
}

// SliceChunk re-opens a chunk's byte range from the already-loaded
// content and decodes it best-effort: invalid sequences produced by
// boundary cuts are dropped rather than errored.
func SliceChunk(content []byte, def ChunkDef) string {
	start := def.Start
	end := def.End
	if start < 0 {
		start = 0
	}
	if end > len(content) {
		end = len(content)
	}
	if start >= end {
		return ""
	}
	return decodeLossy(content[start:end])
}

// decodeLossy drops invalid UTF-8 byte sequences instead of replacing
// them, so boundary-cut bytes never reach the prompt.
func decodeLossy(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	out := make([]byte, 0, len(b))
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		if r == utf8.RuneError && size == 1 {
			b = b[1:]
			continue
		}
		out = append(out, b[:size]...)
		b = b[size:]
	}
	return string(out)
}
