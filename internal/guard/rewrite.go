// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Documesh Contributors

package guard

import (
	"bytes"
	"regexp"
	"strconv"
	"strings"
)

// RowLimit is the row ceiling of every guarded query. It is appended to
// queries without a LIMIT and replaces any larger or non-numeric one.
const RowLimit = 100

// TenantColumn is the column every guarded query is scoped on.
const TenantColumn = "org_id"

var (
	trailingTerminators = regexp.MustCompile(`[;\s]+$`)
	whereKeyword        = regexp.MustCompile(`(?i)\bwhere\b`)
	trailingClause      = regexp.MustCompile(`(?i)\b(group\s+by|order\s+by|limit|offset)\b`)
	limitKeyword        = regexp.MustCompile(`(?i)\blimit\b`)
	offsetKeyword       = regexp.MustCompile(`(?i)\boffset\b`)
	dollarTag           = regexp.MustCompile(`^\$([A-Za-z_][A-Za-z0-9_]*)?\$`)
	orKeyword           = regexp.MustCompile(`(?i)\bor\b`)
)

// Rewrite scopes query to tenantID and bounds its row count:
//
//   - trailing statement terminators are stripped;
//   - "org_id = '<tenant>'" is ANDed into the top-level WHERE clause, or a
//     WHERE clause is created before GROUP BY / ORDER BY / LIMIT / OFFSET
//     (or at the end);
//   - "LIMIT 100" is appended when the query has no top-level LIMIT, and
//     replaces a LIMIT that is not an integer of at most 100.
//
// An existing condition containing a top-level OR is parenthesized so the
// tenant predicate binds to the whole condition. Keywords inside string
// literals (including E'' and dollar quoting), quoted identifiers and
// subqueries are ignored.
func Rewrite(query, tenantID string) string {
	scoped := stripTerminators(query)
	predicate := TenantColumn + " = '" + strings.ReplaceAll(tenantID, "'", "''") + "'"
	scoped = boundLimit(scoped)
	masked := mask(scoped)
	hadLimit := findTopLevel(masked, limitKeyword, 0) != nil

	if loc := findTopLevel(masked, whereKeyword, 0); loc != nil {
		condEnd := len(scoped)
		if end := findTopLevel(masked, trailingClause, loc[1]); end != nil {
			condEnd = end[0]
		}

		if findTopLevel(masked[:condEnd], orKeyword, loc[1]) != nil {
			scoped = scoped[:loc[0]] + "WHERE " + predicate +
				" AND (" + strings.TrimSpace(scoped[loc[1]:condEnd]) + ")" +
				spaced(scoped[condEnd:])
		} else {
			scoped = scoped[:loc[0]] + "WHERE " + predicate + " AND" + scoped[loc[1]:]
		}
	} else if loc := findTopLevel(masked, trailingClause, 0); loc != nil {
		scoped = strings.TrimRight(scoped[:loc[0]], " \t\r\n") + " WHERE " + predicate + " " + scoped[loc[0]:]
	} else {
		scoped = scoped + " WHERE " + predicate
	}

	if !hadLimit {
		scoped += " LIMIT " + strconv.Itoa(RowLimit)
	}
	return scoped
}

// boundLimit rewrites a top-level LIMIT whose value is not an integer in
// [0, RowLimit] to LIMIT RowLimit. The value runs up to a top-level OFFSET
// or the end of the query.
func boundLimit(query string) string {
	masked := mask(query)
	loc := findTopLevel(masked, limitKeyword, 0)
	if loc == nil {
		return query
	}
	end := len(query)
	if off := findTopLevel(masked, offsetKeyword, loc[1]); off != nil {
		end = off[0]
	}
	if n, err := strconv.Atoi(strings.TrimSpace(query[loc[1]:end])); err == nil && n >= 0 && n <= RowLimit {
		return query
	}
	return query[:loc[0]] + "LIMIT " + strconv.Itoa(RowLimit) + spaced(strings.TrimSpace(query[end:]))
}

func stripTerminators(query string) string {
	return trailingTerminators.ReplaceAllString(strings.TrimSpace(query), "")
}

func spaced(rest string) string {
	if rest == "" {
		return ""
	}
	return " " + rest
}

// mask blanks the contents of string literals and double-quoted
// identifiers so keyword searches only see SQL structure. It understands
// doubled quotes, backslash escapes inside E'...' strings and
// $tag$...$tag$ dollar quoting; an unterminated literal masks the rest of
// s. The result has the same byte length as s, so match offsets apply to s
// unchanged.
func mask(s string) string {
	b := []byte(s)
	for i := 0; i < len(b); i++ {
		switch c := b[i]; {
		case c == '\'' || c == '"':
			escapes := c == '\'' && i > 0 && (b[i-1] == 'e' || b[i-1] == 'E') &&
				(i == 1 || !isIdentByte(b[i-2]))
			i = blankQuoted(b, i, c, escapes)
		case c == '$' && (i == 0 || !isIdentByte(b[i-1])):
			tag := dollarTag.Find(b[i:])
			if tag == nil {
				continue
			}
			start := i + len(tag)
			end := bytes.Index(b[start:], tag)
			if end < 0 {
				blank(b[start:])
				return string(b)
			}
			blank(b[start : start+end])
			i = start + end + len(tag) - 1
		}
	}
	return string(b)
}

// blankQuoted blanks the body of the literal opened by quote at b[open]
// and returns the index of its closing quote, or len(b) when unterminated.
func blankQuoted(b []byte, open int, quote byte, escapes bool) int {
	for j := open + 1; j < len(b); j++ {
		switch {
		case escapes && b[j] == '\\':
			b[j] = ' '
			if j+1 < len(b) {
				j++
				b[j] = ' '
			}
		case b[j] == quote && j+1 < len(b) && b[j+1] == quote:
			b[j], b[j+1] = ' ', ' '
			j++
		case b[j] == quote:
			return j
		default:
			b[j] = ' '
		}
	}
	return len(b)
}

func blank(b []byte) {
	for i := range b {
		b[i] = ' '
	}
}

func isIdentByte(c byte) bool {
	return c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= 0x80
}

// findTopLevel returns the first match of re in masked at or after from
// that sits outside any parentheses.
func findTopLevel(masked string, re *regexp.Regexp, from int) []int {
	depth := make([]int, len(masked)+1)
	d := 0
	for i := 0; i < len(masked); i++ {
		depth[i] = d
		switch masked[i] {
		case '(':
			d++
		case ')':
			if d > 0 {
				d--
			}
		}
	}
	depth[len(masked)] = d

	for _, loc := range re.FindAllStringIndex(masked[from:], -1) {
		start := loc[0] + from
		if depth[start] == 0 {
			return []int{start, loc[1] + from}
		}
	}
	return nil
}

// hasInteriorTerminator reports whether a ";" remains once trailing
// terminators are removed, outside literals and quoted identifiers.
func hasInteriorTerminator(query string) bool {
	return strings.Contains(mask(stripTerminators(query)), ";")
}
