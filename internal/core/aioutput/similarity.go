// Copyright 2024 Google, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package aioutput

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// levenshteinWindow caps the edit-distance input; the distance is quadratic in
// the text length.
const levenshteinWindow = 1000

var punctuation = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)

func normalizeText(in string) string {
	out := punctuation.ReplaceAllString(strings.ToLower(in), " ")
	return strings.TrimSpace(whitespace.ReplaceAllString(out, " "))
}

// Similarity scores two texts in [0,1]: 0.6 times the Jaccard index of their
// word sets (words of three or more characters) plus 0.4 times the normalized
// Levenshtein similarity.
func Similarity(a, b string) float64 {
	na, nb := normalizeText(a), normalizeText(b)
	if na == "" && nb == "" {
		return 1
	}
	if na == "" || nb == "" {
		return 0
	}
	return 0.6*jaccard(na, nb) + 0.4*editSimilarity(na, nb)
}

func wordSet(in string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(in) {
		if utf8.RuneCountInString(w) >= 3 {
			set[w] = struct{}{}
		}
	}
	return set
}

func jaccard(a, b string) float64 {
	sa, sb := wordSet(a), wordSet(b)
	union := len(sa)
	common := 0
	for w := range sb {
		if _, ok := sa[w]; ok {
			common++
		} else {
			union++
		}
	}
	if union == 0 {
		return 0
	}
	return float64(common) / float64(union)
}

func editSimilarity(a, b string) float64 {
	a, b = truncateRunes(a, levenshteinWindow), truncateRunes(b, levenshteinWindow)
	maxLen := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	if maxLen == 0 {
		return 1
	}
	d := levenshtein.ComputeDistance(a, b)
	return clamp01(1 - float64(d)/float64(maxLen))
}

func truncateRunes(in string, n int) string {
	if utf8.RuneCountInString(in) <= n {
		return in
	}
	return string([]rune(in)[:n])
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
