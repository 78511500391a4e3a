package mailbox

import (
	"encoding/base64"
	"io"
	"mime/quotedprintable"
	"regexp"
	"strings"
	"unicode"
)

var (
	softBreakRegex = regexp.MustCompile(`=\r?\n`)
	htmlTagRegex   = regexp.MustCompile(`(?s)<[^>]*>`)
	whitespaceRe   = regexp.MustCompile(`\s+`)
	base64Token    = regexp.MustCompile(`[A-Za-z0-9+/]{24,}={0,2}`)
)

// normalizeBody flattens a raw message body into plain searchable text:
// quoted-printable escapes and soft line breaks are decoded, HTML markup
// is stripped and whitespace collapsed. Long base64-looking tokens are
// decoded and appended in case the code sits inside an encoded block.
func normalizeBody(raw string) string {
	// Probe the raw body before the QP pass: the QP decoder treats the
	// trailing = padding of a base64 token as a broken escape and drops it.
	tail := decodeBase64Fragments(raw)

	text := decodeQuotedPrintable(raw)
	text = htmlTagRegex.ReplaceAllString(text, " ")
	text = whitespaceRe.ReplaceAllString(text, " ")
	text = strings.TrimSpace(text)

	if tail == "" {
		// Tokens reassembled by the QP pass (soft breaks, =3D padding)
		// only surface in the decoded text.
		tail = decodeBase64Fragments(text)
	}
	if tail != "" {
		text = strings.TrimSpace(text + " " + tail)
	}

	return text
}

// decodeQuotedPrintable decodes QP escapes, falling back to a manual
// soft-break strip when the body is not strictly valid QP.
func decodeQuotedPrintable(raw string) string {
	stripped := softBreakRegex.ReplaceAllString(raw, "")

	decoded, err := io.ReadAll(quotedprintable.NewReader(strings.NewReader(stripped)))
	if err != nil {
		// Partial output is still useful; the reader decodes up to the
		// first malformed escape.
		if len(decoded) > 0 {
			return string(decoded)
		}
		return stripped
	}

	return string(decoded)
}

// decodeBase64Fragments tries to base64-decode token-like substrings and
// returns the printable results joined together.
func decodeBase64Fragments(text string) string {
	var parts []string

	for _, token := range base64Token.FindAllString(text, 8) {
		decoded, err := base64.StdEncoding.DecodeString(token)
		if err != nil {
			// Tokens whose padding was eaten by an earlier decode still count.
			decoded, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(token, "="))
			if err != nil {
				continue
			}
		}
		if s := string(decoded); isMostlyPrintable(s) {
			parts = append(parts, s)
		}
	}

	return strings.Join(parts, " ")
}

func isMostlyPrintable(s string) bool {
	if s == "" {
		return false
	}

	printable := 0
	for _, r := range s {
		if unicode.IsPrint(r) || unicode.IsSpace(r) {
			printable++
		}
	}

	return printable*10 >= len([]rune(s))*9
}
