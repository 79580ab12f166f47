package queryopt

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/jmoiron/sqlx/reflectx"
)

// fieldMapper drives db-tag field mapping the same way sqlx's own
// StructScan does, reused here because dbpool.Result rows already arrive
// decoded as map[string]interface{} (pgx, not database/sql) rather than
// as a *sql.Rows cursor sqlx could scan directly.
var fieldMapper = reflectx.NewMapperFunc("db", strings.ToLower)

// ScanRows populates dest, a pointer to a slice of structs, from a
// Result's decoded rows using the same "db" struct-tag convention sqlx's
// StructScan uses for result-scanning helpers.
func ScanRows(rows []map[string]interface{}, dest interface{}) error {
	dv := reflect.ValueOf(dest)
	if dv.Kind() != reflect.Ptr || dv.Elem().Kind() != reflect.Slice {
		return fmt.Errorf("queryopt: ScanRows dest must be a pointer to a slice, got %T", dest)
	}
	sliceVal := dv.Elem()
	elemType := sliceVal.Type().Elem()

	out := reflect.MakeSlice(sliceVal.Type(), 0, len(rows))
	for _, row := range rows {
		elem := reflect.New(elemType).Elem()
		for col, value := range row {
			if value == nil {
				continue
			}
			fv := fieldMapper.FieldByName(elem, strings.ToLower(col))
			if !fv.IsValid() || !fv.CanSet() {
				continue
			}
			if err := assign(fv, value); err != nil {
				return fmt.Errorf("queryopt: column %q: %w", col, err)
			}
		}
		out = reflect.Append(out, elem)
	}
	sliceVal.Set(out)
	return nil
}

func assign(field reflect.Value, value interface{}) error {
	rv := reflect.ValueOf(value)
	if rv.Type().AssignableTo(field.Type()) {
		field.Set(rv)
		return nil
	}
	if rv.Type().ConvertibleTo(field.Type()) {
		field.Set(rv.Convert(field.Type()))
		return nil
	}
	return fmt.Errorf("cannot assign %T to %s", value, field.Type())
}
