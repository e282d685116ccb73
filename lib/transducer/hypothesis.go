// Copyright 2025 Antfly, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package transducer

import (
	"sort"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/floats"
)

// DecoderResult is the greedy-search state of one stream.
type DecoderResult struct {
	// Tokens starts with ContextSize placeholders followed by decoded tokens.
	Tokens []int64

	// Timestamps holds the frame index of each decoded token.
	Timestamps []int32

	// NumTrailingBlanks counts consecutive blank frames at the end.
	NumTrailingBlanks int

	// FrameOffset is the number of encoder frames consumed so far.
	FrameOffset int
}

// NewDecoderResult returns a result primed with contextSize placeholders:
// -1 everywhere except a trailing blank.
func NewDecoderResult(contextSize int, blankID int64) DecoderResult {
	return DecoderResult{Tokens: blankContext(contextSize, blankID)}
}

func (r DecoderResult) History() []int64 { return r.Tokens }

// Decoded returns the tokens after the initial placeholders.
func (r DecoderResult) Decoded(contextSize int) []int64 {
	if len(r.Tokens) <= contextSize {
		return nil
	}
	return r.Tokens[contextSize:]
}

// Hypothesis is one in-progress path of beam search.
type Hypothesis struct {
	Ys                []int64
	Timestamps        []int32
	LogProb           float64
	NumTrailingBlanks int
}

// NewHypothesis returns a hypothesis primed like NewDecoderResult.
func NewHypothesis(contextSize int, blankID int64) Hypothesis {
	return Hypothesis{Ys: blankContext(contextSize, blankID)}
}

func (h Hypothesis) History() []int64 { return h.Ys }

// Key identifies the token sequence of h.
func (h Hypothesis) Key() string {
	var b strings.Builder
	for i, y := range h.Ys {
		if i > 0 {
			b.WriteByte('-')
		}
		b.WriteString(strconv.FormatInt(y, 10))
	}
	return b.String()
}

// Clone returns a deep copy of h.
func (h Hypothesis) Clone() Hypothesis {
	h.Ys = append([]int64(nil), h.Ys...)
	h.Timestamps = append([]int32(nil), h.Timestamps...)
	return h
}

func blankContext(contextSize int, blankID int64) []int64 {
	if contextSize <= 0 {
		return nil
	}
	ys := make([]int64, contextSize)
	for i := range ys {
		ys[i] = -1
	}
	ys[contextSize-1] = blankID
	return ys
}

// Hypotheses is a set of hypotheses keyed by token sequence. The zero value
// is an empty set.
type Hypotheses struct {
	byKey map[string]Hypothesis
}

// NewHypotheses returns a set holding hyps.
func NewHypotheses(hyps ...Hypothesis) Hypotheses {
	var s Hypotheses
	for _, h := range hyps {
		s.Add(h)
	}
	return s
}

// Add inserts h. If a hypothesis with the same tokens exists, their
// probabilities are summed in log space and the existing one is kept.
func (s *Hypotheses) Add(h Hypothesis) {
	if s.byKey == nil {
		s.byKey = make(map[string]Hypothesis)
	}
	key := h.Key()
	if old, ok := s.byKey[key]; ok {
		old.LogProb = floats.LogSumExp([]float64{old.LogProb, h.LogProb})
		s.byKey[key] = old
		return
	}
	s.byKey[key] = h
}

// Len returns the number of hypotheses.
func (s Hypotheses) Len() int { return len(s.byKey) }

// Slice returns the hypotheses ordered by key.
func (s Hypotheses) Slice() []Hypothesis {
	keys := make([]string, 0, len(s.byKey))
	for k := range s.byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]Hypothesis, len(keys))
	for i, k := range keys {
		out[i] = s.byKey[k]
	}
	return out
}

// MostProbable returns the best hypothesis. With lengthNorm the log
// probability is divided by the sequence length. It returns false when the
// set is empty.
func (s Hypotheses) MostProbable(lengthNorm bool) (Hypothesis, bool) {
	var (
		best  Hypothesis
		score float64
		found bool
	)
	for _, h := range s.Slice() {
		sc := h.LogProb
		if lengthNorm && len(h.Ys) > 0 {
			sc /= float64(len(h.Ys))
		}
		if !found || sc > score {
			best, score, found = h, sc, true
		}
	}
	return best, found
}

// TopK returns the k most probable hypotheses.
func (s Hypotheses) TopK(k int, lengthNorm bool) Hypotheses {
	all := s.Slice()
	score := func(h Hypothesis) float64 {
		if lengthNorm && len(h.Ys) > 0 {
			return h.LogProb / float64(len(h.Ys))
		}
		return h.LogProb
	}
	sort.SliceStable(all, func(i, j int) bool { return score(all[i]) > score(all[j]) })
	if k < len(all) {
		all = all[:k]
	}
	return NewHypotheses(all...)
}
