package store

import (
	"fmt"
	"strings"
)

// Index selects the partition key a query runs against.
type Index int

const (
	// ByConversation uses the primary key (conversation_id, created_at).
	ByConversation Index = iota
	// ByAuthor uses the (author_id, created_at) index.
	ByAuthor
	// ByFingerprint uses the (fingerprint, created_at) index. Exchanges only.
	ByFingerprint
)

func (i Index) String() string {
	switch i {
	case ByConversation:
		return "conversation"
	case ByAuthor:
		return "author"
	case ByFingerprint:
		return "fingerprint"
	}
	return fmt.Sprintf("index(%d)", int(i))
}

func (i Index) column() string {
	switch i {
	case ByAuthor:
		return "author_id"
	case ByFingerprint:
		return "fingerprint"
	default:
		return "conversation_id"
	}
}

// Comparison is the condition applied to created_at.
type Comparison int

const (
	// CompareNone matches every row of the partition.
	CompareNone Comparison = iota
	CompareEQ
	CompareLT
	CompareLE
	CompareGT
	CompareGE
	// CompareBetween is inclusive on both bounds.
	CompareBetween
	// CompareBeginsWith matches created_at values starting with From, e.g.
	// "2024-05" for every row in May 2024.
	CompareBeginsWith
)

func (c Comparison) String() string {
	switch c {
	case CompareNone:
		return "none"
	case CompareEQ:
		return "eq"
	case CompareLT:
		return "lt"
	case CompareLE:
		return "le"
	case CompareGT:
		return "gt"
	case CompareGE:
		return "ge"
	case CompareBetween:
		return "between"
	case CompareBeginsWith:
		return "begins_with"
	}
	return fmt.Sprintf("comparison(%d)", int(c))
}

// ParseComparison maps the names printed by Comparison.String back to values.
func ParseComparison(s string) (Comparison, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return CompareNone, nil
	case "eq", "=":
		return CompareEQ, nil
	case "lt", "<":
		return CompareLT, nil
	case "le", "<=":
		return CompareLE, nil
	case "gt", ">":
		return CompareGT, nil
	case "ge", ">=":
		return CompareGE, nil
	case "between":
		return CompareBetween, nil
	case "begins_with", "prefix":
		return CompareBeginsWith, nil
	}
	return CompareNone, fmt.Errorf("store: unknown comparison %q", s)
}

// Query is a backend-agnostic description of an indexed lookup. Build it with
// NewQuery; the Store translates it to SQL.
type Query struct {
	Index      Index
	Partition  string
	Comparison Comparison
	// From is the comparison operand (lower bound for CompareBetween, prefix
	// for CompareBeginsWith). To is the upper bound for CompareBetween.
	From, To string
	// Limit caps the number of rows; zero or negative means unlimited.
	Limit int
	// Reverse orders results newest first. Default is oldest first.
	Reverse bool
}

// NewQuery builds a Query. Sort-key operands are created_at strings in
// TimeLayout (or prefixes of it for CompareBeginsWith); use FormatTime to
// produce them.
func NewQuery(index Index, partition string, cmp Comparison, from, to string, limit int, reverse bool) Query {
	return Query{
		Index:      index,
		Partition:  partition,
		Comparison: cmp,
		From:       from,
		To:         to,
		Limit:      limit,
		Reverse:    reverse,
	}
}

// Empty reports whether the query can match nothing by construction: a
// between comparison missing a bound.
func (q Query) Empty() bool {
	return q.Comparison == CompareBetween && (q.From == "" || q.To == "")
}

// sql renders q against table, selecting columns.
func (q Query) sql(table, columns string) (string, []any, error) {
	var b strings.Builder
	args := []any{q.Partition}

	fmt.Fprintf(&b, "SELECT %s FROM %s WHERE %s = ?", columns, table, q.Index.column())

	switch q.Comparison {
	case CompareNone:
	case CompareEQ:
		b.WriteString(" AND created_at = ?")
		args = append(args, q.From)
	case CompareLT:
		b.WriteString(" AND created_at < ?")
		args = append(args, q.From)
	case CompareLE:
		b.WriteString(" AND created_at <= ?")
		args = append(args, q.From)
	case CompareGT:
		b.WriteString(" AND created_at > ?")
		args = append(args, q.From)
	case CompareGE:
		b.WriteString(" AND created_at >= ?")
		args = append(args, q.From)
	case CompareBetween:
		b.WriteString(" AND created_at BETWEEN ? AND ?")
		args = append(args, q.From, q.To)
	case CompareBeginsWith:
		b.WriteString(" AND substr(created_at, 1, length(?)) = ?")
		args = append(args, q.From, q.From)
	default:
		return "", nil, fmt.Errorf("store: unknown comparison %d", int(q.Comparison))
	}

	if q.Reverse {
		b.WriteString(" ORDER BY created_at DESC")
	} else {
		b.WriteString(" ORDER BY created_at ASC")
	}
	if q.Limit > 0 {
		b.WriteString(" LIMIT ?")
		args = append(args, q.Limit)
	}
	return b.String(), args, nil
}
