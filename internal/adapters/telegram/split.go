package telegram

import "strings"

// DefaultBudget keeps replies comfortably under Telegram's 4096-char
// message limit while staying readable in the review chat.
const DefaultBudget = 2000

// SplitMessage breaks the text into chunks no longer than budget runes.
// It prefers to split on newline boundaries so formatted blocks stay
// intact.
func SplitMessage(text string, budget int) []string {
	if budget <= 0 {
		budget = DefaultBudget
	}
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}

	runes := []rune(trimmed)
	if len(runes) <= budget {
		return []string{trimmed}
	}

	var parts []string
	for start := 0; start < len(runes); {
		end := start + budget
		if end >= len(runes) {
			chunk := strings.Trim(string(runes[start:]), "\n")
			if chunk != "" {
				parts = append(parts, chunk)
			}
			break
		}

		split := -1
		for i := end; i > start; i-- {
			if runes[i-1] == '\n' {
				split = i
				break
			}
		}
		if split == -1 {
			split = end
		}

		chunk := strings.Trim(string(runes[start:split]), "\n")
		if chunk != "" {
			parts = append(parts, chunk)
		}

		start = split
		for start < len(runes) && runes[start] == '\n' {
			start++
		}
	}

	if len(parts) == 0 {
		return []string{trimmed}
	}

	return parts
}
