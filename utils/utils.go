package utils

import (
	"regexp"
	"strings"
)

func AssertInvariant(condition bool, message string) {
	if !condition {
		panic("invariant violated - " + message)
	}
}

var (
	mdLinkRegex      = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
	mdHeadingRegex   = regexp.MustCompile(`(?m)^#+\s*(.+)$`)
	mdBoldRegex      = regexp.MustCompile(`\*\*(.+?)\*\*`)
	mdItalicRegex    = regexp.MustCompile(`(^|[^*])\*([^*\n]+)\*`)
	mdStrikeRegex    = regexp.MustCompile(`~~(.+?)~~`)
	mdCodeBlockRegex = regexp.MustCompile("(?s)```[a-zA-Z0-9]*\n?(.*?)```")
	mdInlineCode     = regexp.MustCompile("`([^`\n]+)`")
	mdSpoilerRegex   = regexp.MustCompile(`\|\|(.+?)\|\|`)
	mdUnderlineRegex = regexp.MustCompile(`__(.+?)__`)
)

// MarkdownToPlain strips Discord-flavored markdown from a message so the
// plain-text column carries only the readable content.
func MarkdownToPlain(message string) string {
	result := message

	// Step 1: Unwrap markdown links [text](url) to "text (url)"
	// This must be done first to avoid conflicts with other formatting
	result = mdLinkRegex.ReplaceAllString(result, "$1 ($2)")

	// Step 2: Flatten code blocks and inline code to their content
	result = mdCodeBlockRegex.ReplaceAllString(result, "$1")
	result = mdInlineCode.ReplaceAllString(result, "$1")

	// Step 3: Strip heading markers, keeping the heading text
	result = mdHeadingRegex.ReplaceAllStringFunc(result, func(match string) string {
		return mdHeadingRegex.ReplaceAllString(match, "$1")
	})

	// Step 4: Strip emphasis markers
	result = mdBoldRegex.ReplaceAllString(result, "$1")
	result = mdUnderlineRegex.ReplaceAllString(result, "$1")
	result = mdItalicRegex.ReplaceAllString(result, "$1$2")
	result = mdStrikeRegex.ReplaceAllString(result, "$1")
	result = mdSpoilerRegex.ReplaceAllString(result, "$1")

	return strings.TrimSpace(result)
}
