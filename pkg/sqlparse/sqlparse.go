// Copyright 2024 The mysqlconn Authors.
// SPDX-License-Identifier: Apache-2.0

package sqlparse

import (
	"strings"

	"github.com/neowu/mysqlconn/lib/util/errors"
)

var (
	ErrMalformedSQL = errors.New("malformed sql text")
)

// ReturnKind classifies whether a statement produces a result set.
type ReturnKind int

const (
	// NoResultSet covers DML and DDL.
	NoResultSet ReturnKind = iota
	// ResultSet covers SELECT-like statements.
	ResultSet
	// MayResultSet covers statements that only the server response can
	// classify, like CALL.
	MayResultSet
)

// QueryInfo is the static decomposition of one SQL text around its `?`
// placeholders. It is immutable once computed and safe to share.
type QueryInfo struct {
	SQL string
	// Fragments are the literal chunks around each placeholder;
	// len(Fragments) == NumParams+1.
	Fragments []string
	// multi-values rewrite support: SQL[:ValuesStart] + group + SQL[ValuesEnd:]
	// where group is the parenthesized template repeated per row.
	ValuesStart int
	ValuesEnd   int

	Returns        ReturnKind
	MultiValues    bool
	OnDuplicateKey bool
}

func (q *QueryInfo) NumParams() int {
	return len(q.Fragments) - 1
}

// Assemble interleaves encoded parameter texts with the literal fragments.
func (q *QueryInfo) Assemble(params []string) (string, error) {
	if len(params) != q.NumParams() {
		return "", errors.Wrapf(ErrMalformedSQL, "statement needs %d parameters, got %d", q.NumParams(), len(params))
	}
	var sb strings.Builder
	sb.WriteString(q.Fragments[0])
	for i, p := range params {
		sb.WriteString(p)
		sb.WriteString(q.Fragments[i+1])
	}
	return sb.String(), nil
}

// AssembleMultiValues folds several parameter sets into one multi-row VALUES
// statement. All rows must carry exactly NumParams values.
func (q *QueryInfo) AssembleMultiValues(rows [][]string) (string, error) {
	if !q.MultiValues {
		return "", errors.Wrapf(ErrMalformedSQL, "statement is not rewritable as multi-values")
	}
	var sb strings.Builder
	sb.WriteString(q.SQL[:q.ValuesStart])
	group := q.SQL[q.ValuesStart:q.ValuesEnd]
	groupInfo, err := Parse(group)
	if err != nil {
		return "", err
	}
	for i, row := range rows {
		if i > 0 {
			sb.WriteByte(',')
		}
		assembled, err := groupInfo.Assemble(row)
		if err != nil {
			return "", err
		}
		sb.WriteString(assembled)
	}
	sb.WriteString(q.SQL[q.ValuesEnd:])
	return sb.String(), nil
}

// Parse decomposes sql into a QueryInfo. It is a pure function; callers may
// cache the result by SQL text.
func Parse(sql string) (*QueryInfo, error) {
	info := &QueryInfo{SQL: sql}

	fragStart := 0
	depth := 0
	valuesKeywordEnd := -1
	groupStart, groupEnd := -1, -1
	lastPlaceholder := -1

	i := 0
	for i < len(sql) {
		c := sql[i]
		switch c {
		case '\'', '"', '`':
			end, err := skipQuoted(sql, i)
			if err != nil {
				return nil, err
			}
			i = end
			continue
		case '#':
			i = skipLine(sql, i)
			continue
		case '-':
			// only "-- " opens a comment
			if i+2 < len(sql) && sql[i+1] == '-' && (sql[i+2] == ' ' || sql[i+2] == '\t') {
				i = skipLine(sql, i)
				continue
			}
		case '/':
			if i+1 < len(sql) && sql[i+1] == '*' {
				end := strings.Index(sql[i+2:], "*/")
				if end < 0 {
					return nil, errors.Wrapf(ErrMalformedSQL, "unterminated comment")
				}
				i += 2 + end + 2
				continue
			}
		case '?':
			info.Fragments = append(info.Fragments, sql[fragStart:i])
			fragStart = i + 1
			lastPlaceholder = i
		case '(':
			if depth == 0 && valuesKeywordEnd >= 0 && groupStart < 0 && strings.TrimSpace(sql[valuesKeywordEnd:i]) == "" {
				groupStart = i
			}
			depth++
		case ')':
			depth--
			if depth == 0 && groupStart >= 0 && groupEnd < 0 {
				groupEnd = i + 1
			}
		default:
			if depth == 0 && groupEnd < 0 && isWordStart(sql, i) && hasKeyword(sql, i, "VALUES") {
				valuesKeywordEnd = i + len("VALUES")
				i = valuesKeywordEnd
				continue
			}
		}
		i++
	}
	info.Fragments = append(info.Fragments, sql[fragStart:])

	info.Returns = classify(sql)
	info.OnDuplicateKey = containsKeywordSeq(sql, groupEnd, []string{"ON", "DUPLICATE", "KEY", "UPDATE"})

	// Rewritable: INSERT/REPLACE with a single VALUES group holding all
	// placeholders. An ON DUPLICATE KEY UPDATE tail disqualifies only when it
	// carries placeholders of its own.
	if groupStart >= 0 && groupEnd > groupStart {
		verb := firstKeyword(sql)
		if (verb == "INSERT" || verb == "REPLACE") && lastPlaceholder < groupEnd {
			info.MultiValues = true
			info.ValuesStart = groupStart
			info.ValuesEnd = groupEnd
		}
	}
	return info, nil
}

func skipQuoted(sql string, start int) (int, error) {
	quote := sql[start]
	i := start + 1
	for i < len(sql) {
		switch sql[i] {
		case '\\':
			if quote != '`' {
				i++
			}
		case quote:
			// doubled quote is an escaped quote
			if i+1 < len(sql) && sql[i+1] == quote {
				i++
			} else {
				return i + 1, nil
			}
		}
		i++
	}
	return 0, errors.Wrapf(ErrMalformedSQL, "unterminated quote")
}

func skipLine(sql string, start int) int {
	if idx := strings.IndexByte(sql[start:], '\n'); idx >= 0 {
		return start + idx + 1
	}
	return len(sql)
}

func isWordStart(sql string, i int) bool {
	if i == 0 {
		return true
	}
	prev := sql[i-1]
	return !isWordByte(prev)
}

func isWordByte(c byte) bool {
	return c == '_' || (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func hasKeyword(sql string, i int, keyword string) bool {
	if i+len(keyword) > len(sql) {
		return false
	}
	if !strings.EqualFold(sql[i:i+len(keyword)], keyword) {
		return false
	}
	end := i + len(keyword)
	return end == len(sql) || !isWordByte(sql[end])
}

func firstKeyword(sql string) string {
	i := 0
	for i < len(sql) {
		c := sql[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '(':
			i++
		case c == '/' && i+1 < len(sql) && sql[i+1] == '*':
			end := strings.Index(sql[i+2:], "*/")
			if end < 0 {
				return ""
			}
			i += 2 + end + 2
		case c == '-' && i+2 < len(sql) && sql[i+1] == '-' && (sql[i+2] == ' ' || sql[i+2] == '\t'):
			i = skipLine(sql, i)
		case c == '#':
			i = skipLine(sql, i)
		default:
			start := i
			for i < len(sql) && isWordByte(sql[i]) {
				i++
			}
			return strings.ToUpper(sql[start:i])
		}
	}
	return ""
}

func classify(sql string) ReturnKind {
	switch firstKeyword(sql) {
	case "SELECT", "SHOW", "DESCRIBE", "DESC", "EXPLAIN", "WITH", "TABLE", "ANALYZE", "CHECK":
		return ResultSet
	case "CALL", "EXECUTE":
		return MayResultSet
	default:
		return NoResultSet
	}
}

func containsKeywordSeq(sql string, from int, keywords []string) bool {
	if from < 0 {
		from = 0
	}
	i := from
	k := 0
	for i < len(sql) && k < len(keywords) {
		if isWordStart(sql, i) && hasKeyword(sql, i, keywords[k]) {
			i += len(keywords[k])
			k++
			continue
		}
		i++
	}
	return k == len(keywords)
}
