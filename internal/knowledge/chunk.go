package knowledge

import (
	"regexp"
	"strings"
	"unicode"
)

const (
	DefaultChunkRunes   = 800
	DefaultOverlapRunes = 100

	// MinChunkRunes is the smallest target Chunk honours; smaller targets
	// are raised to it.
	MinChunkRunes = 16
)

var paragraphBreak = regexp.MustCompile(`\n[ \t]*\n+`)

// Chunk splits text into pieces of about target runes. Paragraphs are kept
// whole when they fit; consecutive chunks share overlap runes of context.
func Chunk(text string, target, overlap int) []string {
	switch {
	case target <= 0:
		target = DefaultChunkRunes
	case target < MinChunkRunes:
		target = MinChunkRunes
	}
	if overlap < 0 || overlap >= target/2 {
		overlap = target / 8
	}
	// A piece plus the carried overlap and a separator must fit in target.
	pieceMax := target - overlap - 2

	var pieces [][]rune
	for _, p := range paragraphBreak.Split(strings.ReplaceAll(text, "\r\n", "\n"), -1) {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		pieces = append(pieces, splitLong([]rune(p), pieceMax)...)
	}

	var chunks []string
	var cur []rune
	fresh := false
	for _, piece := range pieces {
		sep := 0
		if len(cur) > 0 {
			sep = 2
		}
		if fresh && len(cur)+sep+len(piece) > target {
			chunks = append(chunks, string(cur))
			cur = tail(cur, overlap)
			fresh = false
		}
		if len(cur) > 0 {
			cur = append(cur, '\n', '\n')
		}
		cur = append(cur, piece...)
		fresh = true
	}
	if fresh {
		chunks = append(chunks, string(cur))
	}
	return chunks
}

// splitLong cuts p into pieces of at most max runes, preferring to cut
// after whitespace or sentence punctuation in the last quarter.
func splitLong(p []rune, max int) [][]rune {
	if max < 1 {
		max = 1
	}
	var out [][]rune
	for len(p) > max {
		cut := max
		for i := max - 1; i >= max*3/4; i-- {
			if isBreak(p[i]) {
				cut = i + 1
				break
			}
		}
		if piece := trimRunes(p[:cut]); len(piece) > 0 {
			out = append(out, piece)
		}
		p = p[cut:]
	}
	if piece := trimRunes(p); len(piece) > 0 {
		out = append(out, piece)
	}
	return out
}

func isBreak(r rune) bool {
	switch r {
	case '。', '；', '！', '？', '，', '.', ';', '!', '?', ',':
		return true
	}
	return unicode.IsSpace(r)
}

func trimRunes(r []rune) []rune {
	return []rune(strings.TrimSpace(string(r)))
}

// tail returns a copy of the last n runes of r, starting after a space
// when one is near.
func tail(r []rune, n int) []rune {
	if n <= 0 {
		return nil
	}
	if len(r) <= n {
		return append([]rune(nil), r...)
	}
	t := r[len(r)-n:]
	for i := 0; i < len(t)/4; i++ {
		if unicode.IsSpace(t[i]) {
			t = t[i+1:]
			break
		}
	}
	return append([]rune(nil), t...)
}
