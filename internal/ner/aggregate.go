package ner

import (
	"math"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/raaihank/phi-sentinel/internal/phi"
)

// Prediction is the model's label distribution for one word piece
type Prediction struct {
	Token Token
	Probs []float32
}

type wordLabel struct {
	start, end int
	label      string
	score      float64
}

type group struct {
	typ        string
	start, end int
	scores     []float64
}

// Aggregate turns piece predictions into candidates. Each word takes the
// label of its most confident piece. Consecutive words of the same type join
// unless the label begins a new entity (B-). Spans are widened to the
// enclosing word boundaries of text.
func Aggregate(text string, preds []Prediction, labels []string) []phi.Candidate {
	var groups []group
	var cur *group
	closeGroup := func() {
		if cur != nil {
			groups = append(groups, *cur)
			cur = nil
		}
	}

	for _, wl := range wordLabels(preds, labels) {
		prefix, typ := splitLabel(wl.label)
		if typ == "" {
			closeGroup()
			continue
		}
		if cur != nil && cur.typ == typ && prefix != "B" {
			cur.end = wl.end
			cur.scores = append(cur.scores, wl.score)
			continue
		}
		closeGroup()
		cur = &group{typ: typ, start: wl.start, end: wl.end, scores: []float64{wl.score}}
	}
	closeGroup()

	out := make([]phi.Candidate, 0, len(groups))
	for _, g := range groups {
		start, end := expandToWord(text, g.start, g.end)
		if n := len(out); n > 0 && out[n-1].EntityType == g.typ && start < out[n-1].End {
			prev := &out[n-1]
			prev.End = max(prev.End, end)
			prev.Text = text[prev.Start:prev.End]
			prev.Score = math.Max(prev.Score, mean(g.scores))
			continue
		}
		out = append(out, phi.Candidate{
			EntityType: g.typ,
			Text:       text[start:end],
			Start:      start,
			End:        end,
			Score:      mean(g.scores),
		})
	}
	return out
}

func wordLabels(preds []Prediction, labels []string) []wordLabel {
	var out []wordLabel
	for i := 0; i < len(preds); {
		j := i
		best, bestScore := -1, float32(-1)
		for ; j < len(preds) && preds[j].Token.Word == preds[i].Token.Word; j++ {
			idx, p := argmax(preds[j].Probs)
			if p > bestScore {
				best, bestScore = idx, p
			}
		}
		label := "O"
		if best >= 0 && best < len(labels) {
			label = labels[best]
		}
		out = append(out, wordLabel{
			start: preds[i].Token.Start,
			end:   preds[j-1].Token.End,
			label: label,
			score: float64(bestScore),
		})
		i = j
	}
	return out
}

// splitLabel parses B-X, I-X, E-X, S-X, or a bare X. "O" has no type.
func splitLabel(label string) (prefix, typ string) {
	if label == "" || label == "O" {
		return "", ""
	}
	if len(label) > 2 && label[1] == '-' {
		switch p := strings.ToUpper(label[:1]); p {
		case "B", "S":
			return "B", label[2:]
		case "I", "E":
			return "I", label[2:]
		}
	}
	return "", label
}

func expandToWord(text string, start, end int) (int, int) {
	for start > 0 {
		r, size := utf8.DecodeLastRuneInString(text[:start])
		if !isWordRune(r) {
			break
		}
		start -= size
	}
	for end < len(text) {
		r, size := utf8.DecodeRuneInString(text[end:])
		if !isWordRune(r) {
			break
		}
		end += size
	}
	return start, end
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func argmax(v []float32) (int, float32) {
	best, score := -1, float32(math.Inf(-1))
	for i, p := range v {
		if p > score {
			best, score = i, p
		}
	}
	return best, score
}

func mean(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	var sum float64
	for _, x := range v {
		sum += x
	}
	return sum / float64(len(v))
}

// softmax converts one row of logits into probabilities
func softmax(logits []float32) []float32 {
	out := make([]float32, len(logits))
	if len(logits) == 0 {
		return out
	}
	maxLogit := logits[0]
	for _, l := range logits[1:] {
		maxLogit = max(maxLogit, l)
	}
	var sum float64
	for i, l := range logits {
		e := math.Exp(float64(l - maxLogit))
		out[i] = float32(e)
		sum += e
	}
	for i := range out {
		out[i] = float32(float64(out[i]) / sum)
	}
	return out
}
