package resttest

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

var reserved = map[string]bool{
	"select":      true,
	"order":       true,
	"limit":       true,
	"offset":      true,
	"on_conflict": true,
	"columns":     true,
}

type filter struct {
	column string
	op     string
	value  string
}

type ordering struct {
	column string
	desc   bool
}

type column struct {
	name  string
	alias string
	hint  string
	embed []column
}

type query struct {
	sel     []column
	filters []filter
	order   []ordering
	limit   int
	offset  int
}

func parseQuery(r *http.Request) (*query, error) {
	values := r.URL.Query()

	q := &query{limit: -1}

	sel := values.Get("select")
	if sel == "" {
		sel = "*"
	}

	columns, err := parseSelect(sel)
	if err != nil {
		return nil, err
	}

	q.sel = columns

	for key, vals := range values {
		if reserved[key] {
			continue
		}

		for _, v := range vals {
			op, value, ok := strings.Cut(v, ".")
			if !ok {
				return nil, fmt.Errorf("invalid filter %s=%s", key, v)
			}

			q.filters = append(q.filters, filter{column: key, op: op, value: value})
		}
	}

	if order := values.Get("order"); order != "" {
		for _, part := range strings.Split(order, ",") {
			fields := strings.Split(part, ".")
			q.order = append(q.order, ordering{column: fields[0], desc: len(fields) > 1 && fields[1] == "desc"})
		}
	}

	if limit := values.Get("limit"); limit != "" {
		q.limit, err = strconv.Atoi(limit)
		if err != nil {
			return nil, err
		}
	}

	if offset := values.Get("offset"); offset != "" {
		q.offset, err = strconv.Atoi(offset)
		if err != nil {
			return nil, err
		}
	}

	return q, nil
}

// parseSelect understands "*", plain columns and embeds of the form [alias:]name[!hint](columns).
func parseSelect(sel string) ([]column, error) {
	result := make([]column, 0)

	for _, part := range splitTopLevel(sel) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		open := strings.Index(part, "(")
		if open < 0 {
			result = append(result, column{name: part})
			continue
		}

		if !strings.HasSuffix(part, ")") {
			return nil, fmt.Errorf("unbalanced select %q", part)
		}

		inner, err := parseSelect(part[open+1 : len(part)-1])
		if err != nil {
			return nil, err
		}

		c := column{name: part[:open], embed: inner}
		if alias, name, ok := strings.Cut(c.name, ":"); ok {
			c.alias = alias
			c.name = name
		}

		if name, hint, ok := strings.Cut(c.name, "!"); ok {
			c.name = name
			c.hint = hint
		}

		result = append(result, c)
	}

	return result, nil
}

func splitTopLevel(s string) []string {
	parts := make([]string, 0)
	depth := 0
	start := 0

	for i, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}

	return append(parts, s[start:])
}

func matches(row Row, filters []filter) bool {
	for _, f := range filters {
		if !matchOne(row[f.column], f) {
			return false
		}
	}

	return true
}

func matchOne(v interface{}, f filter) bool {
	switch f.op {
	case "eq":
		return v != nil && compare(v, f.value) == 0
	case "neq":
		return v != nil && compare(v, f.value) != 0
	case "gt":
		return v != nil && compare(v, f.value) > 0
	case "gte":
		return v != nil && compare(v, f.value) >= 0
	case "lt":
		return v != nil && compare(v, f.value) < 0
	case "lte":
		return v != nil && compare(v, f.value) <= 0
	case "is":
		if f.value == "null" {
			return v == nil
		}

		return v != nil && compare(v, f.value) == 0
	case "in":
		list := strings.TrimSuffix(strings.TrimPrefix(f.value, "("), ")")
		for _, item := range strings.Split(list, ",") {
			if v != nil && compare(v, strings.Trim(item, `"`)) == 0 {
				return true
			}
		}

		return false
	}

	return false
}

// compare orders two values as times, then numbers, then strings.
func compare(a, b interface{}) int {
	as, bs := fmt.Sprint(a), fmt.Sprint(b)

	at, aerr := time.Parse(time.RFC3339Nano, as)
	bt, berr := time.Parse(time.RFC3339Nano, bs)
	if aerr == nil && berr == nil {
		switch {
		case at.Before(bt):
			return -1
		case at.After(bt):
			return 1
		default:
			return 0
		}
	}

	af, aerr := strconv.ParseFloat(as, 64)
	bf, berr := strconv.ParseFloat(bs, 64)
	if aerr == nil && berr == nil {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}

	return strings.Compare(as, bs)
}
