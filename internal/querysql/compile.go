package querysql

import (
	"fmt"
	"strings"

	"github.com/roach88/wardsync/internal/queryir"
)

// SQLCompiler compiles index queries to parameterized SQL for SQLite.
//
// Every query is answered from the record_index side table joined to records,
// and always carries an ORDER BY on (value, key) so results are deterministic.
// Values are always bound as parameters, never interpolated.
type SQLCompiler struct{}

// NewSQLCompiler creates a new SQLCompiler.
func NewSQLCompiler() *SQLCompiler {
	return &SQLCompiler{}
}

// Compile converts q into a SELECT returning (key, doc) rows.
// Returns (sql, params, error) tuple.
func (c *SQLCompiler) Compile(q queryir.Query) (string, []any, error) {
	where, params, err := c.compileWhere(q)
	if err != nil {
		return "", nil, err
	}

	var b strings.Builder
	b.WriteString("SELECT r.key, r.doc FROM record_index i")
	b.WriteString(" JOIN records r ON r.collection = i.collection AND r.key = i.key")
	b.WriteString(" WHERE ")
	b.WriteString(where)
	b.WriteString(" ORDER BY ")
	b.WriteString(stableOrderKey(q.Descending))
	if q.Limit > 0 {
		b.WriteString(" LIMIT ?")
		params = append(params, q.Limit)
	}
	return b.String(), params, nil
}

// CompileCount converts q into a SELECT COUNT(*) over the matching index
// rows. Limit and ordering are ignored.
func (c *SQLCompiler) CompileCount(q queryir.Query) (string, []any, error) {
	where, params, err := c.compileWhere(q)
	if err != nil {
		return "", nil, err
	}
	return "SELECT COUNT(*) FROM record_index i WHERE " + where, params, nil
}

// CompileKeys converts q into a SELECT of matching record keys only, in the
// same order Compile uses. Bulk deletes use it to avoid decoding documents.
func (c *SQLCompiler) CompileKeys(q queryir.Query) (string, []any, error) {
	where, params, err := c.compileWhere(q)
	if err != nil {
		return "", nil, err
	}
	sql := "SELECT i.key FROM record_index i WHERE " + where + " ORDER BY " + stableOrderKey(q.Descending)
	if q.Limit > 0 {
		sql += " LIMIT ?"
		params = append(params, q.Limit)
	}
	return sql, params, nil
}

func (c *SQLCompiler) compileWhere(q queryir.Query) (string, []any, error) {
	if err := queryir.Validate(q); err != nil {
		return "", nil, err
	}

	parts := []string{"i.collection = ?", "i.index_name = ?"}
	params := []any{q.Collection, q.Index}

	if q.Where != nil {
		sql, predParams, err := c.compilePredicate(q.Where)
		if err != nil {
			return "", nil, fmt.Errorf("compile predicate: %w", err)
		}
		if sql != "" {
			parts = append(parts, sql)
			params = append(params, predParams...)
		}
	}
	return strings.Join(parts, " AND "), params, nil
}

// stableOrderKey returns the ORDER BY terms.
// COLLATE BINARY keeps text ordering independent of SQLite build options.
func stableOrderKey(descending bool) string {
	dir := "ASC"
	if descending {
		dir = "DESC"
	}
	return fmt.Sprintf("i.value %s, i.key COLLATE BINARY %s", dir, dir)
}

// compilePredicate compiles a predicate to a WHERE fragment over i.value.
func (c *SQLCompiler) compilePredicate(p queryir.Predicate) (string, []any, error) {
	switch pred := p.(type) {
	case queryir.Equals:
		return compileEquals(pred)
	case *queryir.Equals:
		return compileEquals(*pred)
	case queryir.Range:
		return compileRange(pred)
	case *queryir.Range:
		return compileRange(*pred)
	case queryir.In:
		return compileIn(pred)
	case *queryir.In:
		return compileIn(*pred)
	default:
		return "", nil, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

func compileEquals(eq queryir.Equals) (string, []any, error) {
	v, err := param(eq.Value)
	if err != nil {
		return "", nil, err
	}
	return "i.value = ?", []any{v}, nil
}

func compileRange(r queryir.Range) (string, []any, error) {
	var parts []string
	var params []any
	if r.Min != nil {
		v, err := param(r.Min)
		if err != nil {
			return "", nil, err
		}
		op := ">="
		if r.MinExclusive {
			op = ">"
		}
		parts = append(parts, "i.value "+op+" ?")
		params = append(params, v)
	}
	if r.Max != nil {
		v, err := param(r.Max)
		if err != nil {
			return "", nil, err
		}
		op := "<="
		if r.MaxExclusive {
			op = "<"
		}
		parts = append(parts, "i.value "+op+" ?")
		params = append(params, v)
	}
	return strings.Join(parts, " AND "), params, nil
}

func compileIn(in queryir.In) (string, []any, error) {
	placeholders := make([]string, len(in.Values))
	params := make([]any, len(in.Values))
	for i, raw := range in.Values {
		v, err := param(raw)
		if err != nil {
			return "", nil, err
		}
		placeholders[i] = "?"
		params[i] = v
	}
	return "i.value IN (" + strings.Join(placeholders, ", ") + ")", params, nil
}

// param converts a predicate operand to the normalised form stored in index
// rows.
func param(v any) (any, error) {
	norm, ok := queryir.IndexValue(v)
	if !ok {
		return nil, fmt.Errorf("unsupported value type for SQL parameter: %T", v)
	}
	return norm, nil
}
