package domain

// TargetType is the semantic type of a column in the columnar output.
type TargetType string

// Target column types.
const (
	TargetInt64     TargetType = "int64"
	TargetFloat64   TargetType = "float64"
	TargetString    TargetType = "string"
	TargetTimestamp TargetType = "timestamp"
	TargetBool      TargetType = "bool"
	TargetBinary    TargetType = "binary"
)

// TargetField is one attribute column of the target schema. SourceName
// keeps the original field name when a collision forced a rename.
type TargetField struct {
	Name       string
	SourceName string
	Type       TargetType
}

// GeometryColumn describes the single synthesized geometry column. The
// payload is standard WKB; geometry type and CRS ride along as
// column-level metadata and are never altered by the engine.
type GeometryColumn struct {
	Name         string
	Encoding     string // Always "WKB"
	GeometryType GeometryType
	SRID         int
}

// TargetSchema is the columnar schema derived once per layer before the
// first chunk is written, and immutable for the layer's duration.
type TargetSchema struct {
	LayerName string
	Fields    []TargetField
	Geometry  *GeometryColumn // Nil for layers without geometry
}

// ColumnCount returns the total number of output columns.
func (s *TargetSchema) ColumnCount() int {
	n := len(s.Fields)
	if s.Geometry != nil {
		n++
	}
	return n
}

// FieldFor returns the target field mapped from a source field name.
func (s *TargetSchema) FieldFor(sourceName string) (*TargetField, bool) {
	for i := range s.Fields {
		if s.Fields[i].SourceName == sourceName {
			return &s.Fields[i], true
		}
	}
	return nil, false
}
