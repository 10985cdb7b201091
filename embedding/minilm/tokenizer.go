package minilm

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode"
)

// Token IDs the BERT uncased vocabulary reserves for its special tokens.
const (
	padTokenID = 0
	unkTokenID = 100
	clsTokenID = 101
	sepTokenID = 102
)

// wordPieceTokenizer turns text into BERT WordPiece token IDs.
// Read-only after construction, so safe to share across goroutines.
type wordPieceTokenizer struct {
	vocab map[string]int32
}

// newWordPieceTokenizer builds a tokenizer from vocabulary text where each
// line holds one token and the 0-based line number is its ID.
func newWordPieceTokenizer(vocabText string) *wordPieceTokenizer {
	return &wordPieceTokenizer{vocab: parseVocab(strings.NewReader(vocabText))}
}

// loadVocab reads the vocab.txt shipped next to the ONNX model file.
func loadVocab(path string) (*wordPieceTokenizer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("minilm: reading vocabulary: %w", err)
	}
	defer f.Close()

	vocab := parseVocab(f)
	if len(vocab) == 0 {
		return nil, fmt.Errorf("minilm: vocabulary file %s is empty", path)
	}
	return &wordPieceTokenizer{vocab: vocab}, nil
}

func parseVocab(r io.Reader) map[string]int32 {
	vocab := make(map[string]int32, 32768)
	sc := bufio.NewScanner(r)
	for id := int32(0); sc.Scan(); id++ {
		if tok := sc.Text(); tok != "" {
			vocab[tok] = id
		}
	}
	return vocab
}

// tokenizeResult holds the output of tokenization.
type tokenizeResult struct {
	InputIDs      []int32 // token IDs including [CLS] and [SEP]
	AttentionMask []int32 // 1 for real tokens, 0 for padding
	TokenTypeIDs  []int32 // 0 for single-sentence input
}

// tokenize converts text into BERT token IDs with [CLS] and [SEP] framing.
// The text is lowercased, combining marks are dropped, and punctuation is
// split off into standalone tokens, all in a single pass. If maxLen > 0 the
// output is truncated (before [SEP]) to fit within maxLen tokens.
func (t *wordPieceTokenizer) tokenize(text string, maxLen int) tokenizeResult {
	ids := []int32{clsTokenID}

	var word []rune
	flush := func() {
		if len(word) > 0 {
			ids = t.appendPieces(ids, word)
			word = word[:0]
		}
	}
	for _, r := range text {
		r = unicode.ToLower(r)
		switch {
		case unicode.Is(unicode.Mn, r):
			// Combining mark (accent), drop it.
		case isBertPunct(r):
			flush()
			ids = t.appendPieces(ids, []rune{r})
		case unicode.IsSpace(r) || unicode.IsControl(r):
			flush()
		default:
			word = append(word, r)
		}
	}
	flush()

	if maxLen > 0 && len(ids) >= maxLen {
		ids = ids[:maxLen-1]
	}
	ids = append(ids, sepTokenID)

	mask := make([]int32, len(ids))
	for i := range mask {
		mask[i] = 1
	}
	return tokenizeResult{
		InputIDs:      ids,
		AttentionMask: mask,
		TokenTypeIDs:  make([]int32, len(ids)),
	}
}

// padTo pads all three slices to exactly length n with [PAD] tokens.
// If already at or beyond n, no padding is added.
func (r *tokenizeResult) padTo(n int) {
	for len(r.InputIDs) < n {
		r.InputIDs = append(r.InputIDs, padTokenID)
		r.AttentionMask = append(r.AttentionMask, 0)
		r.TokenTypeIDs = append(r.TokenTypeIDs, 0)
	}
}

// appendPieces appends the WordPiece IDs for one word, greedily matching the
// longest vocabulary entry at each position ("##"-prefixed past the first).
// A word with any unmatchable remainder collapses to a single [UNK].
func (t *wordPieceTokenizer) appendPieces(ids []int32, word []rune) []int32 {
	mark := len(ids)
	for start := 0; start < len(word); {
		end := len(word)
		for ; end > start; end-- {
			piece := string(word[start:end])
			if start > 0 {
				piece = "##" + piece
			}
			if id, ok := t.vocab[piece]; ok {
				ids = append(ids, id)
				break
			}
		}
		if end == start {
			return append(ids[:mark], unkTokenID)
		}
		start = end
	}
	return ids
}

// isBertPunct treats the ASCII symbol ranges as punctuation in addition to
// the Unicode P categories, matching BERT's basic tokenizer.
func isBertPunct(r rune) bool {
	switch {
	case r >= '!' && r <= '/', r >= ':' && r <= '@',
		r >= '[' && r <= '`', r >= '{' && r <= '~':
		return true
	}
	return unicode.IsPunct(r)
}
