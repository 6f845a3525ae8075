// Package application contains the application services of the
// conversion engine.
package application

import (
	"fmt"
	"strings"

	"github.com/jobrunner/stratum/internal/domain"
)

// GeometryColumnName is the name of the synthesized geometry column in
// every target schema.
const GeometryColumnName = "geometry"

// fieldTypeMap is the total mapping from source field types to target
// column types. Every supported source type has exactly one target
// type; anything outside this table fails the layer.
var fieldTypeMap = map[domain.FieldType]domain.TargetType{
	domain.FieldInteger: domain.TargetInt64,
	domain.FieldFloat:   domain.TargetFloat64,
	domain.FieldText:    domain.TargetString,
	domain.FieldDate:    domain.TargetTimestamp,
	domain.FieldBoolean: domain.TargetBool,
	domain.FieldBinary:  domain.TargetBinary,
}

// DeriveSchema derives the target columnar schema for one layer. It is
// a pure function: no I/O, no mutation of the layer.
//
// Field names that collide case-insensitively are disambiguated with a
// numeric suffix in encounter order ("name", "name_1", "name_2", ...);
// the synthesized geometry column participates in the same namespace.
// An unrecognized field or geometry type fails the layer rather than
// silently dropping the column.
func DeriveSchema(layer *domain.Layer) (*domain.TargetSchema, error) {
	schema := &domain.TargetSchema{LayerName: layer.Name}
	seen := make(map[string]bool, len(layer.Fields)+1)

	if layer.HasGeometry() {
		if !layer.GeometryType.Known() {
			return nil, &domain.ConversionError{
				Layer:  layer.Name,
				Field:  layer.GeometryColumn,
				Offset: -1,
				Err:    fmt.Errorf("unsupported geometry type %q", layer.GeometryType),
			}
		}
		// Reserved up front so no attribute can shadow it.
		seen[GeometryColumnName] = true
		schema.Geometry = &domain.GeometryColumn{
			Name:         GeometryColumnName,
			Encoding:     "WKB",
			GeometryType: layer.GeometryType,
			SRID:         layer.SRID,
		}
	}

	for _, field := range layer.Fields {
		target, ok := fieldTypeMap[field.Type]
		if !ok {
			return nil, &domain.ConversionError{
				Layer:  layer.Name,
				Field:  field.Name,
				Offset: -1,
				Err:    fmt.Errorf("unmappable field type %q", field.Type),
			}
		}
		schema.Fields = append(schema.Fields, domain.TargetField{
			Name:       disambiguate(field.Name, seen),
			SourceName: field.Name,
			Type:       target,
		})
	}

	return schema, nil
}

// disambiguate returns name unchanged when it is free, otherwise the
// first free "name_N" in encounter order. Matching is case-insensitive.
func disambiguate(name string, seen map[string]bool) string {
	key := strings.ToLower(name)
	if !seen[key] {
		seen[key] = true
		return name
	}
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s_%d", name, i)
		key = strings.ToLower(candidate)
		if !seen[key] {
			seen[key] = true
			return candidate
		}
	}
}
