package sentencepiece

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

// spaceSymbol replaces spaces in normalized text.
const spaceSymbol = "▁"

// unkSurface is what an unknown piece decodes to.
const unkSurface = " ⁇ "

func (m *Model) normalize(text string) string {
	if m.removeExtraWhitespaces {
		text = strings.Join(strings.FieldsFunc(text, func(r rune) bool { return r == ' ' }), " ")
	}
	if text == "" {
		return ""
	}
	if m.addDummyPrefix {
		text = " " + text
	}
	if m.escapeWhitespaces {
		text = strings.ReplaceAll(text, " ", spaceSymbol)
	}
	return text
}

// Encode segments text into piece ids.
func (m *Model) Encode(text string) []int {
	normalized := m.normalize(text)
	if normalized == "" {
		return nil
	}

	var symbols []string
	if m.modelType == BPE {
		symbols = m.mergePairs(normalized)
	} else {
		symbols = m.viterbi(normalized)
	}

	ids := make([]int, 0, len(symbols))
	for _, s := range symbols {
		if id, ok := m.index[s]; ok {
			ids = append(ids, id)
			continue
		}
		ids = append(ids, m.fallback(s)...)
	}
	return ids
}

// fallback encodes a symbol missing from the vocabulary as byte pieces, or
// as the unknown piece.
func (m *Model) fallback(s string) []int {
	if m.byteFallback {
		ids := make([]int, 0, len(s))
		for i := 0; i < len(s); i++ {
			id, ok := m.byteIDs[s[i]]
			if !ok {
				return []int{m.unkID}
			}
			ids = append(ids, id)
		}
		return ids
	}
	return []int{m.unkID}
}

// userDefinedPrefix returns the longest user-defined piece text starts with.
func (m *Model) userDefinedPrefix(text string) string {
	var best string
	for n := min(m.maxLen, len(text)); n > 0; n-- {
		if id, ok := m.index[text[:n]]; ok && m.pieces[id].Type == UserDefined {
			best = text[:n]
			break
		}
	}
	return best
}

// mergePairs starts from single characters and repeatedly merges the
// adjacent pair whose concatenation is the highest scoring piece.
// User-defined pieces are kept whole and never merged.
func (m *Model) mergePairs(text string) []string {
	type symbol struct {
		text  string
		fixed bool
	}
	var symbols []symbol
	for len(text) > 0 {
		if ud := m.userDefinedPrefix(text); ud != "" {
			symbols = append(symbols, symbol{text: ud, fixed: true})
			text = text[len(ud):]
			continue
		}
		_, size := utf8.DecodeRuneInString(text)
		symbols = append(symbols, symbol{text: text[:size]})
		text = text[size:]
	}

	for {
		best, bestScore := -1, float32(math.Inf(-1))
		for i := 0; i+1 < len(symbols); i++ {
			if symbols[i].fixed || symbols[i+1].fixed {
				continue
			}
			id, ok := m.index[symbols[i].text+symbols[i+1].text]
			if !ok {
				continue
			}
			if score := m.pieces[id].Score; score > bestScore {
				best, bestScore = i, score
			}
		}
		if best < 0 {
			break
		}
		symbols[best].text += symbols[best+1].text
		symbols = append(symbols[:best+1], symbols[best+2:]...)
	}

	out := make([]string, len(symbols))
	for i, s := range symbols {
		out[i] = s.text
	}
	return out
}

// viterbi finds the segmentation with the highest total score. Characters no
// piece covers become single-character unknown symbols.
func (m *Model) viterbi(text string) []string {
	minScore := float32(0)
	for _, p := range m.pieces {
		minScore = min(minScore, p.Score)
	}
	unkScore := minScore - 10

	type node struct {
		score float64
		start int
		ok    bool
	}
	best := make([]node, len(text)+1)
	best[0].ok = true

	for i := 0; i < len(text); {
		_, size := utf8.DecodeRuneInString(text[i:])
		if best[i].ok {
			covered := false
			for j := i + 1; j <= len(text) && j-i <= m.maxLen; j++ {
				id, ok := m.index[text[i:j]]
				if !ok {
					continue
				}
				if j-i == size {
					covered = true
				}
				score := best[i].score + float64(m.pieces[id].Score)
				if !best[j].ok || score > best[j].score {
					best[j] = node{score: score, start: i, ok: true}
				}
			}
			if !covered {
				j := i + size
				score := best[i].score + float64(unkScore)
				if !best[j].ok || score > best[j].score {
					best[j] = node{score: score, start: i, ok: true}
				}
			}
		}
		i += size
	}

	var symbols []string
	for end := len(text); end > 0; end = best[end].start {
		symbols = append(symbols, text[best[end].start:end])
	}
	for i, j := 0, len(symbols)-1; i < j; i, j = i+1, j-1 {
		symbols[i], symbols[j] = symbols[j], symbols[i]
	}
	return symbols
}

// Decode turns ids back into text. Control pieces decode to nothing and
// byte pieces are reassembled into UTF-8.
func (m *Model) Decode(ids []int) (string, error) {
	var sb strings.Builder
	for _, id := range ids {
		if id < 0 || id >= len(m.pieces) {
			return "", fmt.Errorf("id %d out of range [0, %d)", id, len(m.pieces))
		}
		p := m.pieces[id]
		switch p.Type {
		case Control:
		case Unknown:
			sb.WriteString(unkSurface)
		case Byte:
			b, ok := parseBytePiece(p.Piece)
			if !ok {
				return "", fmt.Errorf("malformed byte piece %q", p.Piece)
			}
			sb.WriteByte(b)
		default:
			sb.WriteString(p.Piece)
		}
	}

	text := sb.String()
	if m.escapeWhitespaces {
		text = strings.ReplaceAll(text, spaceSymbol, " ")
	}
	if m.addDummyPrefix {
		text = strings.TrimPrefix(text, " ")
	}
	return text, nil
}

// parseBytePiece decodes the byte held by a piece of the form <0xNN>.
func parseBytePiece(piece string) (byte, bool) {
	if len(piece) != 6 || !strings.HasPrefix(piece, "<0x") || piece[5] != '>' {
		return 0, false
	}
	b, err := strconv.ParseUint(piece[3:5], 16, 8)
	if err != nil {
		return 0, false
	}
	return byte(b), true
}
