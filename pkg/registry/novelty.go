// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package registry

import (
	"strings"
	"unicode"
)

// NoveltyLevel controls how similar a new answer may be to existing ones.
type NoveltyLevel string

const (
	// NoveltyLenient disables the novelty check.
	NoveltyLenient NoveltyLevel = "lenient"

	// NoveltyBalanced rejects answers with more than 0.70 token overlap.
	NoveltyBalanced NoveltyLevel = "balanced"

	// NoveltyStrict rejects answers with more than 0.50 token overlap.
	NoveltyStrict NoveltyLevel = "strict"
)

// Threshold returns the maximum allowed token overlap, or a negative value
// when the check is disabled.
func (l NoveltyLevel) Threshold() float64 {
	switch l {
	case NoveltyBalanced:
		return 0.70
	case NoveltyStrict:
		return 0.50
	default:
		return -1
	}
}

// Enabled reports whether the level performs any checking.
func (l NoveltyLevel) Enabled() bool {
	return l.Threshold() >= 0
}

// stopwords are excluded from overlap computation. The list is fixed: the
// novelty check must produce identical results across runs and platforms.
var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {},
	"be": {}, "by": {}, "for": {}, "from": {}, "in": {}, "is": {},
	"it": {}, "of": {}, "on": {}, "or": {}, "that": {}, "the": {},
	"to": {}, "was": {}, "were": {}, "with": {},
}

// Tokenize lowercases the text and extracts alphanumeric runs, dropping
// stopwords. Exported as the frozen test fixture for the novelty check.
func Tokenize(text string) []string {
	var tokens []string
	var current strings.Builder
	flush := func() {
		if current.Len() == 0 {
			return
		}
		tok := current.String()
		current.Reset()
		if _, skip := stopwords[tok]; !skip {
			tokens = append(tokens, tok)
		}
	}
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			current.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return tokens
}

// Overlap computes |A∩B| / min(|A|,|B|) over the unique token sets of the
// two texts. Returns 0 when either side has no tokens.
func Overlap(a, b string) float64 {
	setA := tokenSet(Tokenize(a))
	setB := tokenSet(Tokenize(b))
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	small, large := setA, setB
	if len(setB) < len(setA) {
		small, large = setB, setA
	}
	shared := 0
	for tok := range small {
		if _, ok := large[tok]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(small))
}

func tokenSet(tokens []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tokens))
	for _, tok := range tokens {
		set[tok] = struct{}{}
	}
	return set
}
