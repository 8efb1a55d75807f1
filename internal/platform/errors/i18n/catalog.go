// Package i18n renders user-facing error messages per locale.
package i18n

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// Code is a machine-readable error code (duplicated from errors package to avoid cycle).
type Code = string

// BaseLocale is the fallback locale for every message.
var BaseLocale = language.AmericanEnglish

var locales = []language.Tag{
	language.AmericanEnglish,
	language.BrazilianPortuguese,
}

var matcher = language.NewMatcher(locales)

var builder = mustBuild()

func mustBuild() *catalog.Builder {
	b := catalog.NewBuilder(catalog.Fallback(BaseLocale))
	for tag, messages := range map[language.Tag]map[Code]string{
		language.AmericanEnglish:     enUS,
		language.BrazilianPortuguese: ptBR,
	} {
		for code, text := range messages {
			if err := b.SetString(tag, messageKey(code), text); err != nil {
				panic(err)
			}
		}
	}
	return b
}

func messageKey(code Code) string {
	return "error." + code
}

// Locale returns the supported locale closest to tag.
func Locale(tag language.Tag) language.Tag {
	_, index, _ := matcher.Match(tag)
	return locales[index]
}

// Message returns the user-facing text for code in the locale closest to
// tag. Codes without a catalog entry render as the code itself.
func Message(tag language.Tag, code Code) string {
	if _, ok := enUS[code]; !ok {
		return code
	}
	printer := message.NewPrinter(Locale(tag), message.Catalog(builder))
	return printer.Sprintf(messageKey(code))
}
