// Package i18n resolves the free-form language labels chat clients send into
// canonical languages.
//
// Clients may send a BCP 47 tag ("fr", "pt-BR") or a language name written in
// English, Portuguese, Spanish or the language itself ("French", "Inglês",
// "Français"). Resolution yields the English display name, which is what the
// relay puts in translation prompts, persisted rows, and delivered packets.
package i18n

import (
	"strings"
	"sync"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// Language is a resolved chat language.
type Language struct {
	Tag  language.Tag
	Name string
}

// Known reports whether the label resolved to a real language tag.
func (l Language) Known() bool {
	return l.Tag != language.Und
}

// SupportedTags lists the languages indexed by name.
func SupportedTags() []language.Tag {
	return []language.Tag{
		language.English,
		language.Portuguese,
		language.Spanish,
		language.French,
		language.German,
		language.Italian,
		language.Dutch,
		language.Russian,
		language.Ukrainian,
		language.Polish,
		language.Turkish,
		language.Arabic,
		language.Hebrew,
		language.Hindi,
		language.Japanese,
		language.Korean,
		language.Chinese,
		language.Vietnamese,
		language.Indonesian,
		language.Swedish,
		language.Greek,
	}
}

var nameIndex = sync.OnceValue(buildNameIndex)

func buildNameIndex() map[string]language.Tag {
	namers := []display.Namer{
		display.English.Languages(),
		display.Portuguese.Languages(),
		display.Spanish.Languages(),
	}
	index := make(map[string]language.Tag)
	for _, tag := range SupportedTags() {
		for _, namer := range namers {
			if name := strings.ToLower(namer.Name(tag)); name != "" {
				index[name] = tag
			}
		}
		if self := strings.ToLower(display.Self.Name(tag)); self != "" {
			index[self] = tag
		}
	}
	return index
}

// Resolve maps a client language label to a Language. Unknown labels are kept
// verbatim (trimmed) with an undefined tag so the model still receives
// whatever the user typed.
func Resolve(label string) Language {
	label = strings.TrimSpace(label)
	if label == "" {
		return Language{Tag: language.Und}
	}
	if tag, ok := nameIndex()[strings.ToLower(label)]; ok {
		return Language{Tag: tag, Name: display.English.Languages().Name(tag)}
	}
	tag, err := language.Parse(label)
	if err != nil || tag == language.Und {
		return Language{Tag: language.Und, Name: label}
	}
	name := display.English.Tags().Name(tag)
	if name == "" {
		name = tag.String()
	}
	return Language{Tag: tag, Name: name}
}

// ResolveOr resolves label, falling back to the resolution of fallback when
// label is blank.
func ResolveOr(label string, fallback string) Language {
	if strings.TrimSpace(label) == "" {
		return Resolve(fallback)
	}
	return Resolve(label)
}
