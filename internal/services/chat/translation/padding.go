package translation

import (
	"regexp"
	"strings"
)

var quotePairs = [][2]string{
	{`"`, `"`},
	{"'", "'"},
	{"“", "”"},
	{"«", "»"},
	{"„", "“"},
	{"「", "」"},
}

// leadInPattern matches the announcement a model puts before its answer,
// without the trailing colon: "Here is the translation", "Sure! Here it is",
// "French translation", "Tradução".
var leadInPattern = regexp.MustCompile(`(?i)^(?:(?:sure|certainly|of course|okay|ok|claro|com certeza|bien sûr|por supuesto)[!.,]*\s*)?` +
	`(?:(?:here(?:'s| is| are)|here it is|aqui (?:está|estão)|voici|aquí (?:está|tienes))\b.*` +
	`|(?:the |a )?(?:\w+ )?(?:translation|translated text|tradução|traducción|traduction|answer|resposta|respuesta)(?: \w+)*)$`)

// stripPadding removes what models wrap around a bare answer: announcement
// lines such as "Here is the translation:", wrapping quotes, and whitespace.
// Other lines ending in a colon are content ("Shopping list:") and stay.
func stripPadding(text string) string {
	text = strings.TrimSpace(text)
	lines := strings.Split(text, "\n")
	for len(lines) > 1 && isLeadIn(lines[0]) {
		lines = lines[1:]
	}
	text = strings.TrimSpace(strings.Join(lines, "\n"))
	return stripQuotes(text)
}

func isLeadIn(line string) bool {
	line = strings.TrimSpace(line)
	if !strings.HasSuffix(line, ":") {
		return false
	}
	return leadInPattern.MatchString(strings.TrimSpace(strings.TrimSuffix(line, ":")))
}

func stripQuotes(text string) string {
	for _, pair := range quotePairs {
		if len(text) > len(pair[0])+len(pair[1]) &&
			strings.HasPrefix(text, pair[0]) && strings.HasSuffix(text, pair[1]) {
			inner := text[len(pair[0]) : len(text)-len(pair[1])]
			if strings.Contains(inner, pair[0]) && pair[0] == pair[1] {
				return text
			}
			return strings.TrimSpace(inner)
		}
	}
	return text
}
