package dispatch

import (
	"context"
	"regexp"
	"strings"

	"github.com/veslabs/maestro/pkg/logger"
	"github.com/veslabs/maestro/pkg/module"
)

// ---------------------------------------------------------------------------
// Confidence scorer
// ---------------------------------------------------------------------------
//
// Deterministic, explainable phrase-match heuristic. Pure functions of the
// input text and a module's phrase list: no I/O, no mutation, safe to run
// concurrently across modules.

// Per-rule scores. A phrase's score is the best applicable rule.
const (
	scoreExact    = 1.0
	scoreAllWords = 0.8
	scoreWildcard = 0.7
	scoreFuzzyCap = 0.6
)

// Normalize lowercases and trims raw input for matching.
func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ScorePhrases returns the confidence in [0,1] that an input matches any of
// the supported phrases, taking the max of the per-phrase scores.
func ScorePhrases(input string, phrases []string) float64 {
	in := Normalize(input)
	if in == "" {
		return 0
	}

	best := 0.0
	for _, phrase := range phrases {
		if s := phraseScore(in, Normalize(phrase)); s > best {
			best = s
		}
		if best >= scoreExact {
			break
		}
	}
	return clamp01(best)
}

// phraseScore scores one normalized phrase against normalized input.
func phraseScore(input, phrase string) float64 {
	if phrase == "" {
		return 0
	}
	if input == phrase {
		return scoreExact
	}

	inputWords := strings.Fields(input)
	phraseWords := strings.Fields(phrase)

	best := 0.0
	if allWordsContained(phraseWords, inputWords) {
		best = scoreAllWords
	}
	if best < scoreWildcard && strings.ContainsAny(phrase, "*?") && wildcardMatch(phrase, input) {
		best = scoreWildcard
	}
	if best < scoreFuzzyCap {
		if s := fuzzyScore(phraseWords, inputWords); s > best {
			best = s
		}
	}
	return best
}

// allWordsContained reports whether every phrase word appears among the
// input words, by substring containment in either direction.
func allWordsContained(phraseWords, inputWords []string) bool {
	if len(phraseWords) == 0 {
		return false
	}
	for _, pw := range phraseWords {
		found := false
		for _, iw := range inputWords {
			if strings.Contains(iw, pw) || strings.Contains(pw, iw) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// fuzzyScore counts phrase words within the edit-distance envelope of some
// input word. The envelope scales with word length: max(1, minLen/3).
// Score is matched/total, capped below the wildcard tier.
func fuzzyScore(phraseWords, inputWords []string) float64 {
	if len(phraseWords) == 0 {
		return 0
	}
	matched := 0
	for _, pw := range phraseWords {
		for _, iw := range inputWords {
			minLen := len(pw)
			if len(iw) < minLen {
				minLen = len(iw)
			}
			limit := minLen / 3
			if limit < 1 {
				limit = 1
			}
			if editDistance(pw, iw) <= limit {
				matched++
				break
			}
		}
	}
	if matched == 0 {
		return 0
	}
	score := float64(matched) / float64(len(phraseWords))
	if score > scoreFuzzyCap {
		score = scoreFuzzyCap
	}
	return score
}

// wildcardMatch compiles a glob-style pattern (* any sequence, ? any char)
// and matches it against the whole input. Uncompilable patterns never match.
func wildcardMatch(pattern, input string) bool {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")

	re, err := regexp.Compile(b.String())
	if err != nil {
		return false
	}
	return re.MatchString(input)
}

// editDistance is the Levenshtein distance between two words.
func editDistance(a, b string) int {
	if a == b {
		return 0
	}
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min3(curr[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
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

// scoreModule asks one module for its confidence, isolating panics: a
// scoring failure is logged and treated as 0, never escalated.
func scoreModule(ctx context.Context, m module.Module, input string, user *module.UserContext) (score float64) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.WarnCF("scorer", "Module scoring panicked, treating as 0", map[string]interface{}{
				"module": m.ID(),
				"panic":  rec,
			})
			score = 0
		}
	}()
	return clamp01(m.CanHandle(ctx, input, user))
}
