package sqlite

import (
	"strings"
)

// OrderBy selects result ordering.
type OrderBy string

const (
	OrderRelevance OrderBy = "relevance"
	OrderDateDesc  OrderBy = "date_desc"
	OrderDateAsc   OrderBy = "date_asc"
)

// QueryFilter is the filter shape shared by every read operation.
// Zero values mean "no constraint". Limit <= 0 means unlimited.
type QueryFilter struct {
	Project   string
	OrderBy   OrderBy
	Types     []string
	Concepts  []string
	Files     []string
	DateStart int64 // epoch ms, inclusive
	DateEnd   int64 // epoch ms, inclusive
	Limit     int
	Offset    int
}

// clauses accumulates AND-joined conditions and their arguments.
type clauses struct {
	conds []string
	args  []interface{}
}

func (c *clauses) add(cond string, args ...interface{}) {
	c.conds = append(c.conds, cond)
	c.args = append(c.args, args...)
}

// where renders " WHERE a AND b", or "" when empty.
func (c *clauses) where() string {
	if len(c.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(c.conds, " AND ")
}

// and renders " AND a AND b", or "" when empty.
func (c *clauses) and() string {
	if len(c.conds) == 0 {
		return ""
	}
	return " AND " + strings.Join(c.conds, " AND ")
}

func (f QueryFilter) dateClauses(c *clauses, col string) {
	if f.DateStart > 0 {
		c.add(col+" >= ?", f.DateStart)
	}
	if f.DateEnd > 0 {
		c.add(col+" <= ?", f.DateEnd)
	}
}

// anyOf ORs one condition per value.
func anyOf(c *clauses, cond string, values []string, wrap func(string) string) {
	if len(values) == 0 {
		return
	}
	parts := make([]string, 0, len(values))
	args := make([]interface{}, 0, len(values))
	for _, v := range values {
		parts = append(parts, cond)
		args = append(args, wrap(v))
	}
	c.add("("+strings.Join(parts, " OR ")+")", args...)
}

func same(v string) string { return v }

func likeAny(v string) string { return "%" + v + "%" }

// observationClauses builds conditions over the observations table aliased o.
func (f QueryFilter) observationClauses() *clauses {
	c := &clauses{}
	if f.Project != "" {
		c.add("o.project = ?", f.Project)
	}
	if len(f.Types) > 0 {
		c.add("o.type IN ("+placeholders(len(f.Types))+")", stringSliceToInterface(f.Types)...)
	}
	anyOf(c, `EXISTS (SELECT 1 FROM json_each(o.concepts) WHERE value = ?)`, f.Concepts, same)
	if len(f.Files) > 0 {
		parts := make([]string, 0, len(f.Files))
		var args []interface{}
		for _, file := range f.Files {
			parts = append(parts, `(EXISTS (SELECT 1 FROM json_each(o.files_read) WHERE value LIKE ?)
				OR EXISTS (SELECT 1 FROM json_each(o.files_modified) WHERE value LIKE ?))`)
			args = append(args, likeAny(file), likeAny(file))
		}
		c.add("("+strings.Join(parts, " OR ")+")", args...)
	}
	f.dateClauses(c, "o.created_at_epoch")
	return c
}

// summaryClauses builds conditions over session_summaries aliased ss.
// Type and concept constraints do not apply to summaries.
func (f QueryFilter) summaryClauses() *clauses {
	c := &clauses{}
	if f.Project != "" {
		c.add("ss.project = ?", f.Project)
	}
	if len(f.Files) > 0 {
		parts := make([]string, 0, len(f.Files))
		var args []interface{}
		for _, file := range f.Files {
			parts = append(parts, `(EXISTS (SELECT 1 FROM json_each(ss.files_read) WHERE value LIKE ?)
				OR EXISTS (SELECT 1 FROM json_each(ss.files_edited) WHERE value LIKE ?))`)
			args = append(args, likeAny(file), likeAny(file))
		}
		c.add("("+strings.Join(parts, " OR ")+")", args...)
	}
	f.dateClauses(c, "ss.created_at_epoch")
	return c
}

// promptClauses builds conditions over user_prompts aliased p joined to sdk_sessions s.
func (f QueryFilter) promptClauses() *clauses {
	c := &clauses{}
	if f.Project != "" {
		c.add("s.project = ?", f.Project)
	}
	f.dateClauses(c, "p.created_at_epoch")
	return c
}

// dateOrder renders the ORDER BY for date-based orderings. Relevance has no
// meaning outside a text match and falls back to newest first;
// alias is the table alias, e.g. "o".
func (f QueryFilter) dateOrder(alias string) string {
	if f.OrderBy == OrderDateAsc {
		return " ORDER BY " + alias + ".created_at_epoch ASC, " + alias + ".id ASC"
	}
	return " ORDER BY " + alias + ".created_at_epoch DESC, " + alias + ".id DESC"
}

// page renders LIMIT/OFFSET and appends their arguments.
func (f QueryFilter) page(args []interface{}) (string, []interface{}) {
	if f.Limit <= 0 {
		if f.Offset > 0 {
			return " LIMIT -1 OFFSET ?", append(args, f.Offset)
		}
		return "", args
	}
	if f.Offset > 0 {
		return " LIMIT ? OFFSET ?", append(args, f.Limit, f.Offset)
	}
	return " LIMIT ?", append(args, f.Limit)
}
