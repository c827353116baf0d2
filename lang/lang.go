// Package lang renders small pieces of English for world output: articles,
// counts, and enumerated lists.
package lang

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/gertd/go-pluralize"
)

var client = pluralize.NewClient()

func Singular(word string) string {
	return client.Singular(word)
}

func Plural(word string) string {
	return client.Plural(word)
}

func Capitalize(s string) string {
	if s == "" {
		return s
	}
	runes := []rune(s)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}

// silentH words take "an" despite the consonant; uSound words take "a"
// despite the vowel.
var (
	silentH = []string{"hour", "honest", "heir", "honor", "honour"}
	uSound  = []string{"uni", "use", "user", "one", "once", "eu"}
)

// Article returns the indefinite article for the word.
func Article(word string) string {
	lower := strings.ToLower(word)
	if lower == "" {
		return "a"
	}
	for _, prefix := range silentH {
		if strings.HasPrefix(lower, prefix) {
			return "an"
		}
	}
	for _, prefix := range uSound {
		if strings.HasPrefix(lower, prefix) {
			return "a"
		}
	}
	if lower[0] == '8' {
		return "an"
	}
	if strings.ContainsRune("aeiou", rune(lower[0])) {
		return "an"
	}
	return "a"
}

// Indef prefixes the word with its indefinite article.
func Indef(word string) string {
	return fmt.Sprintf("%s %s", Article(word), word)
}

var smallCounts = map[int]string{2: "two", 3: "three"}

// Card renders a counted noun: "no swords", "a sword", "two swords",
// "4 swords".
func Card(count int, word string) string {
	switch {
	case count == 0:
		return fmt.Sprintf("no %s", Plural(word))
	case count == 1:
		return Indef(word)
	default:
		if name, found := smallCounts[count]; found {
			return fmt.Sprintf("%s %s", name, Plural(word))
		}
		return fmt.Sprintf("%d %s", count, Plural(word))
	}
}

type Tense int

const (
	None Tense = iota
	Present
	Past
)

const (
	DefaultSeparator = ","
	DefaultOperator  = "and"
)

// Enumerator joins elements into an English list, optionally formatting each
// element with Pattern and appending a to-be verb matching Tense.
type Enumerator struct {
	Pattern   string
	Separator string
	Operator  string
	Tense     Tense
}

func (e Enumerator) Do(elements ...string) string {
	pattern, separator, operator := "%s", DefaultSeparator, DefaultOperator
	if e.Pattern != "" {
		pattern = e.Pattern
	}
	if e.Separator != "" {
		separator = e.Separator
	}
	if e.Operator != "" {
		operator = e.Operator
	}
	formatted := make([]string, len(elements))
	for i, element := range elements {
		formatted[i] = fmt.Sprintf(pattern, element)
	}
	res := &strings.Builder{}
	switch len(formatted) {
	case 0:
	case 1:
		res.WriteString(formatted[0])
	case 2:
		fmt.Fprintf(res, "%s %s %s", formatted[0], operator, formatted[1])
	default:
		for _, element := range formatted[:len(formatted)-1] {
			fmt.Fprintf(res, "%s%s ", element, separator)
		}
		fmt.Fprintf(res, "%s %s", operator, formatted[len(formatted)-1])
	}
	switch e.Tense {
	case Present:
		if len(elements) > 1 {
			res.WriteString(" are")
		} else {
			res.WriteString(" is")
		}
	case Past:
		if len(elements) > 1 {
			res.WriteString(" were")
		} else {
			res.WriteString(" was")
		}
	}
	return res.String()
}
