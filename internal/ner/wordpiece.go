package ner

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Special BERT vocabulary entries
const (
	unkToken = "[UNK]"
	clsToken = "[CLS]"
	sepToken = "[SEP]"
)

const maxWordChars = 100

// Vocab maps word pieces to ids
type Vocab map[string]int

// LoadVocab reads a vocab.txt: one piece per line, id = line number
func LoadVocab(r io.Reader) (Vocab, error) {
	v := make(Vocab)
	scanner := bufio.NewScanner(r)
	id := 0
	for scanner.Scan() {
		piece := strings.TrimRight(scanner.Text(), "\r")
		if _, dup := v[piece]; !dup {
			v[piece] = id
		}
		id++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read vocab: %w", err)
	}
	return v, nil
}

// LoadVocabFile reads a vocab.txt from disk
func LoadVocabFile(path string) (Vocab, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open vocab: %w", err)
	}
	defer f.Close()
	return LoadVocab(f)
}

// Token is one word piece with its byte span in the original text
type Token struct {
	ID    int
	Piece string
	Start int
	End   int
	// Word is the index of the pre-tokenized word the piece belongs to
	Word int
}

// Encoding is one model input window
type Encoding struct {
	InputIDs      []int64
	AttentionMask []int64
	TokenTypeIDs  []int64
	// Tokens are the window's pieces; position i+1 of InputIDs is Tokens[i]
	Tokens []Token
}

// WordPiece is a BERT-style tokenizer that keeps byte offsets into the
// original text
type WordPiece struct {
	vocab     Vocab
	lowercase bool
	unk       int
	cls       int
	sep       int
}

// NewWordPiece checks that the vocab carries the special tokens
func NewWordPiece(v Vocab, lowercase bool) (*WordPiece, error) {
	w := &WordPiece{vocab: v, lowercase: lowercase}
	for _, special := range []struct {
		name string
		dst  *int
	}{{unkToken, &w.unk}, {clsToken, &w.cls}, {sepToken, &w.sep}} {
		id, ok := v[special.name]
		if !ok {
			return nil, fmt.Errorf("vocab is missing %s", special.name)
		}
		*special.dst = id
	}
	return w, nil
}

type word struct {
	runes   []rune
	offsets []int // byte offset of each rune, plus the end offset
}

// Tokenize splits text into word pieces
func (w *WordPiece) Tokenize(text string) []Token {
	var tokens []Token
	for i, wd := range w.words(text) {
		tokens = append(tokens, w.pieces(wd, i)...)
	}
	return tokens
}

// words splits on whitespace and isolates punctuation, the BERT basic
// tokenizer without accent stripping
func (w *WordPiece) words(text string) []word {
	var out []word
	var cur word
	flush := func(end int) {
		if len(cur.runes) > 0 {
			cur.offsets = append(cur.offsets, end)
			out = append(out, cur)
			cur = word{}
		}
	}

	for i, r := range text {
		switch {
		case unicode.IsSpace(r) || unicode.IsControl(r) || r == utf8.RuneError:
			flush(i)
		case isPunct(r):
			flush(i)
			out = append(out, word{runes: []rune{w.fold(r)}, offsets: []int{i, i + utf8.RuneLen(r)}})
		default:
			cur.runes = append(cur.runes, w.fold(r))
			cur.offsets = append(cur.offsets, i)
		}
	}
	flush(len(text))
	return out
}

func (w *WordPiece) fold(r rune) rune {
	if w.lowercase {
		return unicode.ToLower(r)
	}
	return r
}

// pieces runs greedy longest-match-first over one word
func (w *WordPiece) pieces(wd word, index int) []Token {
	n := len(wd.runes)
	whole := Token{ID: w.unk, Piece: unkToken, Start: wd.offsets[0], End: wd.offsets[n], Word: index}
	if n > maxWordChars {
		return []Token{whole}
	}

	var out []Token
	for start := 0; start < n; {
		end := n
		found := -1
		var piece string
		for start < end {
			piece = string(wd.runes[start:end])
			if start > 0 {
				piece = "##" + piece
			}
			if id, ok := w.vocab[piece]; ok {
				found = id
				break
			}
			end--
		}
		if found < 0 {
			return []Token{whole}
		}
		out = append(out, Token{ID: found, Piece: piece, Start: wd.offsets[start], End: wd.offsets[end], Word: index})
		start = end
	}
	return out
}

// Encode splits tokens into windows of at most maxLength ids including
// [CLS] and [SEP]. Windows break between words unless a single word is
// longer than a window.
func (w *WordPiece) Encode(tokens []Token, maxLength int) []Encoding {
	per := maxLength - 2
	if per < 1 {
		per = 1
	}

	var out []Encoding
	for start := 0; start < len(tokens); {
		end := min(start+per, len(tokens))
		if end < len(tokens) && tokens[end].Word == tokens[end-1].Word {
			back := end - 1
			for back > start && tokens[back-1].Word == tokens[end].Word {
				back--
			}
			if back > start {
				end = back
			}
		}
		out = append(out, w.encodeWindow(tokens[start:end]))
		start = end
	}
	return out
}

func (w *WordPiece) encodeWindow(tokens []Token) Encoding {
	n := len(tokens) + 2
	enc := Encoding{
		InputIDs:      make([]int64, 0, n),
		AttentionMask: make([]int64, n),
		TokenTypeIDs:  make([]int64, n),
		Tokens:        tokens,
	}
	enc.InputIDs = append(enc.InputIDs, int64(w.cls))
	for _, t := range tokens {
		enc.InputIDs = append(enc.InputIDs, int64(t.ID))
	}
	enc.InputIDs = append(enc.InputIDs, int64(w.sep))
	for i := range enc.AttentionMask {
		enc.AttentionMask[i] = 1
	}
	return enc
}

func isPunct(r rune) bool {
	if (r >= 33 && r <= 47) || (r >= 58 && r <= 64) || (r >= 91 && r <= 96) || (r >= 123 && r <= 126) {
		return true
	}
	return unicode.IsPunct(r)
}
