package access

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// FirstnameSurname yields "first.surname" with diacritics folded away,
// e.g. "Äijä Öhman" becomes "aija.ohman".
func FirstnameSurname(p Person) string {
	first, last := mailboxPart(p.FirstName), mailboxPart(p.Surname)
	switch {
	case first == "":
		return last
	case last == "":
		return first
	}
	return first + "." + last
}

// Nick yields the person's nick, or the first name when no nick is set.
func Nick(p Person) string {
	if nick := mailboxPart(p.Nick); nick != "" {
		return nick
	}
	return mailboxPart(p.FirstName)
}

// letterFolds spells out letters that have no decomposition into a base
// letter plus combining marks.
var letterFolds = strings.NewReplacer(
	"ø", "o",
	"æ", "ae",
	"œ", "oe",
	"ß", "ss",
	"ł", "l",
	"đ", "d",
	"ð", "d",
	"þ", "th",
)

// mailboxPart lower-cases s, strips combining marks and keeps only
// characters that are safe in the local part of an address. Runs of
// whitespace become a single dash.
func mailboxPart(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	lower := letterFolds.Replace(strings.ToLower(s))
	folded, _, err := transform.String(t, lower)
	if err != nil {
		folded = lower
	}

	words := strings.Fields(folded)
	for i, w := range words {
		words[i] = strings.Map(func(r rune) rune {
			switch {
			case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '.':
				return r
			}
			return -1
		}, w)
	}
	out := words[:0]
	for _, w := range words {
		if w != "" {
			out = append(out, w)
		}
	}
	return strings.Trim(strings.Join(out, "-"), ".-")
}
