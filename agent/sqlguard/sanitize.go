package sqlguard

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	promptTokens = []string{";", "--", "/*", "*/"}

	promptKeywords = []string{
		"DROP", "DELETE", "INSERT", "UPDATE", "CREATE", "ALTER", "TRUNCATE",
		"EXEC", "EXECUTE", "GRANT", "REVOKE",
	}

	promptKeywordRes = func() map[string]*regexp.Regexp {
		m := make(map[string]*regexp.Regexp, len(promptKeywords))
		for _, k := range promptKeywords {
			m[k] = regexp.MustCompile(`(?i)\b` + k + `\b`)
		}
		return m
	}()
)

// SanitizeFreeText strips statement-stacking tokens, comment markers and
// mutating keywords from a natural-language prompt before it is embedded in
// an LLM prompt, collapses whitespace and truncates to maxLength characters.
// It returns one warning per removed token kind.
func SanitizeFreeText(prompt string, maxLength int) (string, []string) {
	warnings := []string{}

	for _, tok := range promptTokens {
		if strings.Contains(prompt, tok) {
			prompt = strings.ReplaceAll(prompt, tok, " ")
			warnings = append(warnings, fmt.Sprintf("Removed SQL token %q from prompt", tok))
		}
	}
	for _, kw := range promptKeywords {
		re := promptKeywordRes[kw]
		if re.MatchString(prompt) {
			prompt = re.ReplaceAllString(prompt, " ")
			warnings = append(warnings, fmt.Sprintf("Removed SQL keyword %q from prompt", kw))
		}
	}

	prompt = strings.Join(strings.Fields(prompt), " ")

	if maxLength > 0 && utf8.RuneCountInString(prompt) > maxLength {
		prompt = strings.TrimSpace(string([]rune(prompt)[:maxLength]))
		warnings = append(warnings, fmt.Sprintf("Prompt truncated to %d characters", maxLength))
	}
	return prompt, warnings
}

// SanitizeFreeText applies the validator's configured prompt length.
func (v *Validator) SanitizeFreeText(prompt string) (string, []string) {
	return SanitizeFreeText(prompt, v.config.MaxPromptLength)
}
