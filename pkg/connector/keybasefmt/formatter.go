// Copyright 2024-2026 Aiku AI

// Package keybasefmt converts Keybase markdown to Matrix HTML.
package keybasefmt

import (
	"html"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"maunium.net/go/mautrix/event"
)

// ParsedMessage holds the result of converting Keybase markdown to Matrix format.
type ParsedMessage struct {
	Body          string
	Format        event.Format
	FormattedBody string
}

var (
	codeBlockRe  = regexp.MustCompile("(?s)```\\n?(.*?)```")
	codeRe       = regexp.MustCompile("`([^`\\n]+)`")
	boldRe       = regexp.MustCompile(`\*([^*\n]+)\*`)
	italicRe     = regexp.MustCompile(`_([^_\n]+)_`)
	strikeRe     = regexp.MustCompile(`~([^~\n]+)~`)
	blockquoteRe = regexp.MustCompile(`^&gt; ?(.*)$`)
)

// Parse converts a Keybase message to Matrix event content. Messages
// without any markup only get a plain body.
func Parse(text string) *ParsedMessage {
	if text == "" {
		return &ParsedMessage{}
	}

	// Step 1: Extract code blocks and inline code into placeholders so that
	// markers inside them are left alone.
	var code []string
	placeholder := func(snippet string) string {
		code = append(code, snippet)
		return "\x00CODE" + strconv.Itoa(len(code)-1) + "\x00"
	}
	processed := codeBlockRe.ReplaceAllStringFunc(text, func(match string) string {
		content := codeBlockRe.FindStringSubmatch(match)[1]
		return placeholder("<pre><code>" + html.EscapeString(content) + "</code></pre>")
	})
	processed = codeRe.ReplaceAllStringFunc(processed, func(match string) string {
		content := codeRe.FindStringSubmatch(match)[1]
		return placeholder("<code>" + html.EscapeString(content) + "</code>")
	})

	// Step 2: Escape and handle quotes line by line. Quote markers are
	// already escaped at this point.
	lines := strings.Split(html.EscapeString(processed), "\n")
	for i, line := range lines {
		if m := blockquoteRe.FindStringSubmatch(line); m != nil {
			lines[i] = "<blockquote>" + m[1] + "</blockquote>"
		}
	}
	formatted := strings.Join(lines, "\n")

	// Step 3: Inline formatting.
	formatted = replaceDelimited(formatted, boldRe, "strong")
	formatted = replaceDelimited(formatted, italicRe, "em")
	formatted = replaceDelimited(formatted, strikeRe, "del")

	formatted = strings.ReplaceAll(formatted, "\n", "<br/>")
	formatted = strings.ReplaceAll(formatted, "</blockquote><br/>", "</blockquote>")

	// Step 4: Restore code. Newlines inside code blocks are kept as-is.
	for i, snippet := range code {
		formatted = strings.Replace(formatted, "\x00CODE"+strconv.Itoa(i)+"\x00", snippet, 1)
	}

	if formatted == strings.ReplaceAll(html.EscapeString(text), "\n", "<br/>") {
		return &ParsedMessage{Body: text}
	}
	return &ParsedMessage{
		Body:          text,
		Format:        event.FormatHTML,
		FormattedBody: formatted,
	}
}

// replaceDelimited wraps matches of re in tag, but only where the markers
// are not inside a word, so snake_case and 2*3*4 stay untouched.
func replaceDelimited(text string, re *regexp.Regexp, tag string) string {
	matches := re.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return text
	}
	var buf strings.Builder
	last := 0
	for _, m := range matches {
		start, end := m[0], m[1]
		if isWordBefore(text, start) || isWordAfter(text, end) {
			continue
		}
		buf.WriteString(text[last:start])
		buf.WriteString("<" + tag + ">" + text[m[2]:m[3]] + "</" + tag + ">")
		last = end
	}
	buf.WriteString(text[last:])
	return buf.String()
}

func isWordBefore(text string, idx int) bool {
	if idx == 0 {
		return false
	}
	r, _ := utf8.DecodeLastRuneInString(text[:idx])
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func isWordAfter(text string, idx int) bool {
	if idx >= len(text) {
		return false
	}
	r, _ := utf8.DecodeRuneInString(text[idx:])
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
