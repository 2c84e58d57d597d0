package challenge

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Category selects which verification source clocks a challenge in.
type Category string

const (
	CategoryReading Category = "reading"
	CategoryRunning Category = "running"
	CategoryCoding  Category = "coding"
	CategoryOther   Category = "other"
)

func ParseCategory(s string) (Category, bool) {
	switch Category(strings.ToLower(strings.TrimSpace(s))) {
	case CategoryReading:
		return CategoryReading, true
	case CategoryRunning:
		return CategoryRunning, true
	case CategoryCoding:
		return CategoryCoding, true
	case CategoryOther:
		return CategoryOther, true
	}
	return CategoryOther, false
}

// Label is the name written at the front of the on-chain description.
func (c Category) Label() string {
	switch c {
	case CategoryReading:
		return "阅读"
	case CategoryRunning:
		return "跑步"
	case CategoryCoding:
		return "编程"
	default:
		return "其他"
	}
}

// Checked in this order; the first category with a match wins. CJK keywords
// match as substrings, English ones only as whole words.
var categoryKeywords = []struct {
	category Category
	keywords []string
}{
	{CategoryReading, []string{"阅读", "reading", "read"}},
	{CategoryRunning, []string{"跑步", "running", "run"}},
	{CategoryCoding, []string{"编程", "coding", "code", "commit"}},
}

// InferCategory recovers the category of a challenge created without a
// recorded one. Only the "<Name>" part of "<Name> - <Description>" is
// considered when the separator is present.
func InferCategory(description string) Category {
	name := strings.ToLower(description)
	if head, _, ok := strings.Cut(name, " - "); ok {
		name = head
	}
	words := strings.FieldsFunc(name, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, ck := range categoryKeywords {
		for _, kw := range ck.keywords {
			if matchKeyword(name, words, kw) {
				return ck.category
			}
		}
	}
	return CategoryOther
}

func matchKeyword(name string, words []string, kw string) bool {
	if kw[0] >= utf8.RuneSelf {
		return strings.Contains(name, kw)
	}
	for _, w := range words {
		if w == kw {
			return true
		}
	}
	return false
}

// FormatDescription builds the canonical "<Name> - <Description>" label.
func FormatDescription(c Category, detail string) string {
	detail = strings.TrimSpace(detail)
	if detail == "" {
		return c.Label()
	}
	return fmt.Sprintf("%s - %s", c.Label(), detail)
}
