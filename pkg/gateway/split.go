package gateway

import (
	"fmt"
	"strings"
)

const (
	defaultMessageLimit  = 4000
	defaultSplitHeadroom = 16
)

// splitMessage breaks text into chunks that fit the platform message limit.
// Boundaries are preferred in order: paragraph, sentence, space; a hard cut
// is the last resort. Multi-chunk output carries "[Part i/N] " prefixes, so
// the effective budget per chunk leaves headroom for the prefix.
func splitMessage(text string, limit, headroom int) []string {
	if limit <= 0 {
		limit = defaultMessageLimit
	}
	if headroom <= 0 {
		headroom = defaultSplitHeadroom
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= limit {
		return []string{text}
	}

	budget := limit - headroom
	if budget < 1 {
		budget = limit
	}

	chunks := splitAtBoundaries(text, budget)
	chunks = repairCodeFences(chunks)
	if len(chunks) == 1 {
		return chunks
	}

	prefixed := make([]string, len(chunks))
	for i, chunk := range chunks {
		prefixed[i] = fmt.Sprintf("[Part %d/%d] %s", i+1, len(chunks), chunk)
	}
	return prefixed
}

func splitAtBoundaries(text string, budget int) []string {
	var chunks []string

	remaining := text
	for len(remaining) > budget {
		cut := findBoundary(remaining, budget)
		chunk := strings.TrimSpace(remaining[:cut])
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		remaining = strings.TrimSpace(remaining[cut:])
	}
	if remaining != "" {
		chunks = append(chunks, remaining)
	}
	return chunks
}

// repairCodeFences closes a fenced code block left open at the end of a chunk
// and reopens it at the start of the next, so no rendered chunk carries a
// dangling fence.
func repairCodeFences(chunks []string) []string {
	open := false
	for i, chunk := range chunks {
		if open {
			chunks[i] = "```\n" + chunk
			chunk = chunks[i]
		}
		open = strings.Count(chunk, "```")%2 == 1
		if open && i < len(chunks)-1 {
			chunks[i] = chunk + "\n```"
		}
	}
	return chunks
}

// findBoundary picks the best cut position within budget: the last paragraph
// break, else the last sentence end, else the last space, else a hard cut.
func findBoundary(text string, budget int) int {
	window := text[:budget]

	if at := strings.LastIndex(window, "\n\n"); at > 0 {
		return at
	}
	sentenceEnd := -1
	for _, sentinel := range []string{". ", "! ", "? ", ".\n", "!\n", "?\n"} {
		if at := strings.LastIndex(window, sentinel); at > sentenceEnd {
			sentenceEnd = at
		}
	}
	if sentenceEnd > 0 {
		return sentenceEnd + 1
	}
	if at := strings.LastIndexAny(window, " \n"); at > 0 {
		return at
	}
	return budget
}
