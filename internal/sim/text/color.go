// Package text translates legacy '&' color codes and hex colors into the section-sign
// formatting understood by game clients.
package text

import (
	"regexp"
	"strings"
)

const sectionSign = '§'

var hexPatterns = []*regexp.Regexp{
	regexp.MustCompile(`&#([A-Fa-f0-9]{6})`),
	regexp.MustCompile(`\{#([A-Fa-f0-9]{6})}`),
	regexp.MustCompile(`<#([A-Fa-f0-9]{6})>`),
}

const legacyCodes = "0123456789AaBbCcDdEeFfKkLlMmNnOoRrXx"

// Colorize converts hex colors first, then legacy codes.
func Colorize(s string) string {
	if s == "" {
		return s
	}
	for _, re := range hexPatterns {
		s = re.ReplaceAllStringFunc(s, func(m string) string {
			return hexToSection(re.FindStringSubmatch(m)[1])
		})
	}
	return translateLegacy(s)
}

// Strip removes all section-sign formatting, which is useful for logs.
func Strip(s string) string {
	var b strings.Builder
	rs := []rune(s)
	for i := 0; i < len(rs); i++ {
		if rs[i] == sectionSign && i+1 < len(rs) {
			i++
			continue
		}
		b.WriteRune(rs[i])
	}
	return b.String()
}

func hexToSection(hex string) string {
	var b strings.Builder
	b.WriteRune(sectionSign)
	b.WriteByte('x')
	for _, c := range strings.ToLower(hex) {
		b.WriteRune(sectionSign)
		b.WriteRune(c)
	}
	return b.String()
}

func translateLegacy(s string) string {
	rs := []rune(s)
	for i := 0; i < len(rs)-1; i++ {
		if rs[i] == '&' && strings.ContainsRune(legacyCodes, rs[i+1]) {
			rs[i] = sectionSign
			rs[i+1] = toLower(rs[i+1])
		}
	}
	return string(rs)
}

func toLower(r rune) rune {
	if r >= 'A' && r <= 'Z' {
		return r + ('a' - 'A')
	}
	return r
}
