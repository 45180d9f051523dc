package api

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	maxQuestionLen = 500
	maxContentLen  = 10000
	maxTags        = 32
	maxTagLen      = 64
)

func validateQuestion(q string) (string, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return "", fmt.Errorf("%w: question must not be empty", errBadInput)
	}
	if utf8.RuneCountInString(q) > maxQuestionLen {
		return "", fmt.Errorf("%w: question longer than %d characters", errBadInput, maxQuestionLen)
	}
	return q, nil
}

func validateContent(c string) error {
	if utf8.RuneCountInString(c) > maxContentLen {
		return fmt.Errorf("%w: content longer than %d characters", errBadInput, maxContentLen)
	}
	return nil
}

// normalizeTags lowercases, trims and de-duplicates tags, keeping first-seen order.
func normalizeTags(tags []string) ([]string, error) {
	if len(tags) > maxTags {
		return nil, fmt.Errorf("%w: at most %d tags", errBadInput, maxTags)
	}
	out := make([]string, 0, len(tags))
	seen := map[string]struct{}{}
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			return nil, fmt.Errorf("%w: empty tag", errBadInput)
		}
		if len(t) > maxTagLen {
			return nil, fmt.Errorf("%w: tag %q too long", errBadInput, t)
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out, nil
}
