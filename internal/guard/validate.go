// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Documesh Contributors

package guard

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// MaxQueryLength is the longest candidate query accepted, in characters.
const MaxQueryLength = 2000

// AllowedTable is the only table a guarded query may read.
const AllowedTable = "submissions"

// ForbiddenTables hold identity, session and credential data.
var ForbiddenTables = []string{"users", "sessions", "accounts", "memberships", "organizations", "verifications"}

var selectGate = regexp.MustCompile(`^\s*(/\*.*?\*/)?\s*select\b`)

// blockedSubstrings are matched literally against the normalized text.
var blockedSubstrings = []string{
	"--", "/*", "*/", `\x`, "char(", "chr(",
	"information_schema", "pg_catalog", "pg_", "version(",
	"lo_import", "lo_export", "file_read", "file_write",
	"pg_sleep", "benchmark", "waitfor",
	"_to_xml", "dblink",
}

// escapeString opens an E'...' literal, whose backslash escapes let a
// quote survive inside the string.
var escapeString = regexp.MustCompile(`\be'`)

var selectKeyword = regexp.MustCompile(`\bselect\b`)

// blockedKeywords are matched on word boundaries so identifiers such as
// "updated_at" or "created_at" stay usable.
var blockedKeywords = compileKeywords(
	"insert", "update", "delete", "drop", "create", "alter", "truncate",
	"replace", "grant", "revoke", "exec", "execute", "copy",
	"union", "intersect", "except", "with",
)

type keyword struct {
	word string
	re   *regexp.Regexp
}

func compileKeywords(words ...string) []keyword {
	out := make([]keyword, 0, len(words))
	for _, w := range words {
		out = append(out, keyword{word: w, re: regexp.MustCompile(`\b` + w + `\b`)})
	}
	return out
}

// violation describes the first rule a candidate query breaks.
type violation struct {
	kind    Kind
	message string
	// matched is the rule that fired, for logs only.
	matched string
}

// screen runs the shape, statement-type, blocklist and table rules in
// order and returns the first violation, or nil when the query may run.
func screen(query string) *violation {
	if strings.TrimSpace(query) == "" {
		return &violation{kind: KindInvalidInput, message: MsgInvalidQuery}
	}
	if len([]rune(query)) > MaxQueryLength {
		return &violation{kind: KindInvalidInput, message: MsgQueryTooLong}
	}

	// NFKC folds fullwidth and compatibility forms (ＵＮＩＯＮ, ；) onto the
	// ASCII the rules match.
	normalized := strings.ToLower(norm.NFKC.String(strings.TrimSpace(query)))

	if !selectGate.MatchString(normalized) {
		return &violation{kind: KindUnsupportedStatementType, message: MsgSelectOnly}
	}

	for _, s := range blockedSubstrings {
		if strings.Contains(normalized, s) {
			return &violation{kind: KindProhibitedSyntax, message: MsgProhibitedSyntax, matched: s}
		}
	}
	for _, k := range blockedKeywords {
		if k.re.MatchString(normalized) {
			return &violation{kind: KindProhibitedSyntax, message: MsgProhibitedSyntax, matched: k.word}
		}
	}

	// Literal bodies are blanked, so these rules only see SQL structure.
	masked := mask(normalized)
	if strings.Contains(masked, "$") {
		return &violation{kind: KindProhibitedSyntax, message: MsgProhibitedSyntax, matched: "$"}
	}
	if escapeString.MatchString(masked) {
		return &violation{kind: KindProhibitedSyntax, message: MsgProhibitedSyntax, matched: "e'"}
	}
	// Only the outer statement is tenant scoped, so nested selects never run.
	if len(selectKeyword.FindAllStringIndex(masked, 2)) > 1 {
		return &violation{kind: KindProhibitedSyntax, message: MsgProhibitedSyntax, matched: "subquery"}
	}
	if hasInteriorTerminator(normalized) {
		return &violation{kind: KindProhibitedSyntax, message: MsgProhibitedSyntax, matched: ";"}
	}

	if !strings.Contains(normalized, AllowedTable) {
		return &violation{kind: KindMissingRequiredTableReference, message: MsgMissingTable}
	}
	for _, table := range ForbiddenTables {
		if strings.Contains(normalized, table) {
			return &violation{
				kind:    KindForbiddenTableAccess,
				message: fmt.Sprintf(MsgForbiddenTableFmt, table),
				matched: table,
			}
		}
	}

	return nil
}
