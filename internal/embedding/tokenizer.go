package embedding

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

// BERT special token ids in the uncased vocabulary.
const (
	padID = 0
	clsID = 101
	sepID = 102
)

// Tokenizer produces token IDs for BERT-style models (input_ids, attention_mask, token_type_ids).
type Tokenizer interface {
	Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64)
}

// HashTokenizer maps each word to a hashed id. It needs no vocabulary and is
// only useful with models trained on the same scheme, or for tests.
type HashTokenizer struct{}

// Tokenize splits text into words and produces padded token IDs up to maxTokens.
func (t *HashTokenizer) Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64) {
	words := SplitWords(strings.ToLower(text))
	ids := make([]int64, len(words))
	for i, w := range words {
		ids[i] = 1000 + int64(xxhash.Sum64String(w)%29000)
	}
	return frame(ids, clsID, sepID, padID, maxTokens)
}

// WordPieceTokenizer is a BERT uncased WordPiece tokenizer over a vocab.txt.
type WordPieceTokenizer struct {
	vocab              map[string]int64
	cls, sep, pad, unk int64
	maxWordChars       int
}

// LoadWordPieceTokenizer reads a vocab file with one token per line; the line
// number is the token id.
func LoadWordPieceTokenizer(path string) (*WordPieceTokenizer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open vocab: %w", err)
	}
	defer f.Close()

	vocab := make(map[string]int64)
	sc := bufio.NewScanner(f)
	var id int64
	for sc.Scan() {
		vocab[strings.TrimRight(sc.Text(), "\r")] = id
		id++
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read vocab: %w", err)
	}
	return NewWordPieceTokenizer(vocab)
}

// NewWordPieceTokenizer builds a tokenizer from an in-memory vocabulary. The
// vocabulary must contain [CLS], [SEP], [PAD] and [UNK].
func NewWordPieceTokenizer(vocab map[string]int64) (*WordPieceTokenizer, error) {
	t := &WordPieceTokenizer{vocab: vocab, maxWordChars: 100}
	for tok, dst := range map[string]*int64{"[CLS]": &t.cls, "[SEP]": &t.sep, "[PAD]": &t.pad, "[UNK]": &t.unk} {
		id, ok := vocab[tok]
		if !ok {
			return nil, fmt.Errorf("vocab has no %s token", tok)
		}
		*dst = id
	}
	return t, nil
}

// Tokenize lower-cases text, splits words and punctuation, and applies
// greedy longest-match WordPiece to each word.
func (t *WordPieceTokenizer) Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64) {
	var ids []int64
	for _, word := range basicTokens(text) {
		ids = append(ids, t.wordPiece(word)...)
		if maxTokens > 0 && len(ids) >= maxTokens {
			break
		}
	}
	return frame(ids, t.cls, t.sep, t.pad, maxTokens)
}

func (t *WordPieceTokenizer) wordPiece(word string) []int64 {
	runes := []rune(word)
	if len(runes) > t.maxWordChars {
		return []int64{t.unk}
	}
	var out []int64
	for start := 0; start < len(runes); {
		end := len(runes)
		var id int64 = -1
		for end > start {
			piece := string(runes[start:end])
			if start > 0 {
				piece = "##" + piece
			}
			if v, ok := t.vocab[piece]; ok {
				id = v
				break
			}
			end--
		}
		if id < 0 {
			return []int64{t.unk}
		}
		out = append(out, id)
		start = end
	}
	return out
}

// basicTokens lower-cases text and splits it on whitespace, emitting each
// punctuation rune as its own token.
func basicTokens(text string) []string {
	var (
		out []string
		cur strings.Builder
	)
	flush := func() {
		if cur.Len() > 0 {
			out = append(out, cur.String())
			cur.Reset()
		}
	}
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsSpace(r) || unicode.IsControl(r):
			flush()
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			flush()
			out = append(out, string(r))
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return out
}

// frame wraps ids in [CLS] ... [SEP], truncating and padding to maxTokens.
func frame(ids []int64, cls, sep, pad int64, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64) {
	if maxTokens <= 0 {
		maxTokens = 256
	}
	if maxTokens < 2 {
		maxTokens = 2
	}
	if len(ids) > maxTokens-2 {
		ids = ids[:maxTokens-2]
	}
	inputIDs = make([]int64, maxTokens)
	attentionMask = make([]int64, maxTokens)
	tokenTypeIDs = make([]int64, maxTokens)

	inputIDs[0] = cls
	copy(inputIDs[1:], ids)
	inputIDs[len(ids)+1] = sep
	for i := 0; i < len(ids)+2; i++ {
		attentionMask[i] = 1
	}
	for i := len(ids) + 2; i < maxTokens; i++ {
		inputIDs[i] = pad
	}
	return inputIDs, attentionMask, tokenTypeIDs
}

// SplitWords splits text on whitespace and returns non-empty words.
func SplitWords(text string) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	return words
}
