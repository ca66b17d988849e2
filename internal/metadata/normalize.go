// Package metadata formats raw interview form fields for the archival
// document. Every function accepts empty input and never fails: values that
// cannot be parsed are returned unchanged.
package metadata

import (
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

const isoDate = "2006-01-02"

var months = [12]string{
	"janeiro", "fevereiro", "março", "abril", "maio", "junho",
	"julho", "agosto", "setembro", "outubro", "novembro", "dezembro",
}

// Lowercase single-letter connectives skipped when building initials.
var initialStopWords = map[string]struct{}{
	"e": {},
	"a": {},
	"o": {},
}

// ShortDate converts YYYY-MM-DD into DD/MM/YYYY.
func ShortDate(raw string) string {
	if raw == "" {
		return ""
	}
	t, err := time.Parse(isoDate, strings.TrimSpace(raw))
	if err != nil {
		return raw
	}
	return t.Format("02/01/2006")
}

// LongDate converts YYYY-MM-DD into "5 de março de 2024".
func LongDate(raw string) string {
	if raw == "" {
		return ""
	}
	t, err := time.Parse(isoDate, strings.TrimSpace(raw))
	if err != nil {
		return raw
	}
	return strconv.Itoa(t.Day()) + " de " + months[t.Month()-1] + " de " + strconv.Itoa(t.Year())
}

// Initials returns the uppercased first letter of every name token joined by
// periods, e.g. "Maria e Silva" -> "M.S". Tokens are split on whitespace and
// periods so already-abbreviated names are returned as they are.
func Initials(name string) string {
	tokens := strings.FieldsFunc(name, func(r rune) bool {
		return unicode.IsSpace(r) || r == '.'
	})
	initials := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if utf8.RuneCountInString(token) == 1 {
			if _, skip := initialStopWords[token]; skip {
				continue
			}
		}
		first, _ := utf8.DecodeRuneInString(token)
		initials = append(initials, string(unicode.ToUpper(first)))
	}
	return strings.Join(initials, ".")
}

// InitialsList applies Initials to every comma-separated name and joins the
// results with ", ". Blank entries are dropped.
func InitialsList(names string) string {
	var out []string
	for _, name := range strings.Split(names, ",") {
		if initials := Initials(name); initials != "" {
			out = append(out, initials)
		}
	}
	return strings.Join(out, ", ")
}

// ClockDuration renders a duration as HH:MM:SS.
func ClockDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d.Round(time.Second) / time.Second)
	return twoDigits(total/3600) + ":" + twoDigits(total%3600/60) + ":" + twoDigits(total%60)
}

func twoDigits(n int) string {
	if n < 10 {
		return "0" + strconv.Itoa(n)
	}
	return strconv.Itoa(n)
}
