package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// fencePattern matches a fenced block anywhere in the reply, with or without a
// language tag.
var fencePattern = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*\\n?(.*?)```")

const snippetRunes = 160

// DecodeJSON unmarshals a model reply into target. It tries the reply as-is,
// then the first fenced block, then the outermost object or array embedded in
// prose.
func DecodeJSON(content string, target any) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return errors.New("empty payload")
	}
	var firstErr error
	for _, candidate := range jsonCandidates(content) {
		err := json.Unmarshal([]byte(candidate), target)
		if err == nil {
			return nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return fmt.Errorf("%w (payload: %s)", firstErr, snippet(content))
}

func jsonCandidates(content string) []string {
	candidates := []string{content}
	add := func(c string) {
		c = strings.TrimSpace(c)
		for _, seen := range candidates {
			if seen == c {
				return
			}
		}
		if c != "" {
			candidates = append(candidates, c)
		}
	}

	body := content
	if m := fencePattern.FindStringSubmatch(content); m != nil {
		body = m[1]
		add(body)
	}
	for _, pair := range [][2]string{{"{", "}"}, {"[", "]"}} {
		start := strings.Index(body, pair[0])
		end := strings.LastIndex(body, pair[1])
		if start >= 0 && end > start {
			add(body[start : end+1])
		}
	}
	return candidates
}

func snippet(content string) string {
	runes := []rune(strings.Join(strings.Fields(content), " "))
	if len(runes) > snippetRunes {
		return string(runes[:snippetRunes]) + "..."
	}
	return string(runes)
}
