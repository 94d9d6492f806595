package db

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pharmacore/localsync/internal/store/schema"
)

// Op is a comparison operator usable in a Cond.
type Op string

const (
	OpEq       Op = "="
	OpNe       Op = "!="
	OpLt       Op = "<"
	OpLte      Op = "<="
	OpGt       Op = ">"
	OpGte      Op = ">="
	OpContains Op = "contains" // case-insensitive substring match
)

// Cond is one filter clause on a document field.
type Cond struct {
	Field string
	Op    Op
	Value interface{}
}

func Eq(field string, v interface{}) Cond  { return Cond{Field: field, Op: OpEq, Value: v} }
func Ne(field string, v interface{}) Cond  { return Cond{Field: field, Op: OpNe, Value: v} }
func Lt(field string, v interface{}) Cond  { return Cond{Field: field, Op: OpLt, Value: v} }
func Lte(field string, v interface{}) Cond { return Cond{Field: field, Op: OpLte, Value: v} }
func Gt(field string, v interface{}) Cond  { return Cond{Field: field, Op: OpGt, Value: v} }
func Gte(field string, v interface{}) Cond { return Cond{Field: field, Op: OpGte, Value: v} }

// Contains matches documents whose field contains s, ignoring case.
func Contains(field, s string) Cond { return Cond{Field: field, Op: OpContains, Value: s} }

// Query selects documents of one collection.
type Query struct {
	// Where clauses are combined with AND.
	Where []Cond
	// SortBy names the field to order by (empty = id).
	SortBy string
	// Descending reverses the sort order.
	Descending bool
	// Limit restricts the number of results (0 = no limit).
	Limit int
}

var fieldPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9]*$`)

// fieldExpr returns the SQL expression for a document field. Time fields
// compare as instants.
func fieldExpr(def *schema.Definition, field string) (string, error) {
	if field == "id" {
		return "id", nil
	}
	if !fieldPattern.MatchString(field) {
		return "", fmt.Errorf("%w: %q", ErrInvalidField, field)
	}
	expr := fmt.Sprintf("json_extract(data, '$.%s')", field)
	if def.IsTimeField(field) {
		expr = "julianday(" + expr + ")"
	}
	return expr, nil
}

// bindValue converts a Go value into an SQLite parameter matching what
// json_extract yields for the stored JSON.
func bindValue(v interface{}) interface{} {
	switch x := v.(type) {
	case bool:
		if x {
			return 1
		}
		return 0
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case *time.Time:
		if x == nil {
			return nil
		}
		return x.UTC().Format(time.RFC3339Nano)
	case decimal.Decimal:
		return x.InexactFloat64()
	case schema.PaymentMethod:
		return string(x)
	case schema.SyncType:
		return string(x)
	case schema.SyncStatus:
		return string(x)
	default:
		return v
	}
}

// whereClause builds " WHERE ..." (or "") and its arguments.
func whereClause(def *schema.Definition, conds []Cond) (string, []interface{}, error) {
	if len(conds) == 0 {
		return "", nil, nil
	}

	var conditions []string
	var args []interface{}

	for _, c := range conds {
		expr, err := fieldExpr(def, c.Field)
		if err != nil {
			return "", nil, err
		}

		if c.Op == OpContains {
			conditions = append(conditions, fmt.Sprintf("instr(lower(%s), lower(?)) > 0", expr))
			args = append(args, fmt.Sprint(c.Value))
			continue
		}

		switch c.Op {
		case OpEq, OpNe, OpLt, OpLte, OpGt, OpGte:
		default:
			return "", nil, fmt.Errorf("unsupported operator %q", c.Op)
		}

		if c.Value == nil {
			switch c.Op {
			case OpEq:
				conditions = append(conditions, expr+" IS NULL")
			case OpNe:
				conditions = append(conditions, expr+" IS NOT NULL")
			default:
				return "", nil, fmt.Errorf("operator %q needs a value", c.Op)
			}
			continue
		}

		placeholder := "?"
		if def.IsTimeField(c.Field) {
			placeholder = "julianday(?)"
		}
		conditions = append(conditions, fmt.Sprintf("%s %s %s", expr, c.Op, placeholder))
		args = append(args, bindValue(c.Value))
	}

	return " WHERE " + strings.Join(conditions, " AND "), args, nil
}

// orderClause builds the ORDER BY clause. id always breaks ties.
func orderClause(def *schema.Definition, q Query) (string, error) {
	dir := "ASC"
	if q.Descending {
		dir = "DESC"
	}
	if q.SortBy == "" || q.SortBy == "id" {
		return " ORDER BY id " + dir, nil
	}
	expr, err := fieldExpr(def, q.SortBy)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(" ORDER BY %s %s, id %s", expr, dir, dir), nil
}
