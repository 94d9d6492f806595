package schema

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var validate = validator.New()

func init() {
	// Money travels as JSON numbers, both in the store and on the wire.
	decimal.MarshalJSONWithoutQuotes = true

	// Report json names ("unitPrice") instead of Go field names.
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	// Let numeric tags (gte, gt) apply to decimal amounts.
	validate.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
}

// FieldError describes one failed rule on one field.
type FieldError struct {
	Field string
	Rule  string
	Param string
}

func (f FieldError) String() string {
	if f.Param != "" {
		return fmt.Sprintf("%s: %s=%s", f.Field, f.Rule, f.Param)
	}
	return fmt.Sprintf("%s: %s", f.Field, f.Rule)
}

// ValidationError is returned when a record does not satisfy its collection
// schema. The write is rejected and local state is unchanged.
type ValidationError struct {
	Collection Collection
	Fields     []FieldError
	Reason     string
}

func (e *ValidationError) Error() string {
	var parts []string
	if e.Reason != "" {
		parts = append(parts, e.Reason)
	}
	for _, f := range e.Fields {
		parts = append(parts, f.String())
	}
	return fmt.Sprintf("invalid %s record: %s", e.Collection, strings.Join(parts, "; "))
}

// Validate checks rec against the schema of collection c.
//
// The record type must match the collection, struct tag rules must pass and
// the record's own Validate must succeed. Any failure is a *ValidationError.
func Validate(c Collection, rec Record) error {
	def, err := Lookup(c)
	if err != nil {
		return &ValidationError{Collection: c, Reason: err.Error()}
	}
	if !def.Owns(rec) {
		return &ValidationError{
			Collection: c,
			Reason:     fmt.Sprintf("record type %T does not belong to collection", rec),
		}
	}

	if err := validate.Struct(rec); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return &ValidationError{Collection: c, Reason: err.Error()}
		}
		out := &ValidationError{Collection: c}
		for _, fe := range verrs {
			out.Fields = append(out.Fields, FieldError{
				Field: trimNamespace(fe.Namespace()),
				Rule:  fe.Tag(),
				Param: fe.Param(),
			})
		}
		return out
	}

	if err := rec.Validate(); err != nil {
		return &ValidationError{Collection: c, Reason: err.Error()}
	}
	return nil
}

// trimNamespace drops the leading struct name: "Transaction.items[0].name" -> "items[0].name".
func trimNamespace(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}
