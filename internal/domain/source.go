// Package domain contains the core types of the conversion engine.
package domain

import "time"

// GeometryType represents the declared geometry type of a layer.
type GeometryType string

// Geometry type constants, matching the container's catalog naming.
const (
	GeomPoint           GeometryType = "POINT"
	GeomLineString      GeometryType = "LINESTRING"
	GeomPolygon         GeometryType = "POLYGON"
	GeomMultiPoint      GeometryType = "MULTIPOINT"
	GeomMultiLineString GeometryType = "MULTILINESTRING"
	GeomMultiPolygon    GeometryType = "MULTIPOLYGON"
	GeomNone            GeometryType = "NONE"
)

// Known returns true if the geometry type is part of the supported set.
func (g GeometryType) Known() bool {
	switch g {
	case GeomPoint, GeomLineString, GeomPolygon,
		GeomMultiPoint, GeomMultiLineString, GeomMultiPolygon, GeomNone:
		return true
	}
	return false
}

// FieldType is the semantic type of an attribute field as declared
// by the source container.
type FieldType string

// Field type constants.
const (
	FieldInteger FieldType = "INTEGER"
	FieldFloat   FieldType = "FLOAT"
	FieldText    FieldType = "TEXT"
	FieldDate    FieldType = "DATE"
	FieldBoolean FieldType = "BOOLEAN"
	FieldBinary  FieldType = "BINARY"
)

// Field describes one attribute column of a layer.
type Field struct {
	Name string    // Column name as declared by the source
	Type FieldType // Declared semantic type
}

// Extent is a bounding box in the layer's coordinate reference system.
type Extent struct {
	MinX, MinY float64
	MaxX, MaxY float64
	SRID       int
}

// Union expands the extent to cover another extent.
func (e *Extent) Union(other Extent) {
	if other.MinX < e.MinX {
		e.MinX = other.MinX
	}
	if other.MinY < e.MinY {
		e.MinY = other.MinY
	}
	if other.MaxX > e.MaxX {
		e.MaxX = other.MaxX
	}
	if other.MaxY > e.MaxY {
		e.MaxY = other.MaxY
	}
}

// Layer is an immutable snapshot of one feature layer taken at
// inspection time. The record count may go stale if the container is
// mutated externally; the engine does not guard against that.
type Layer struct {
	Name           string       // Unique within a source
	Description    string       // Optional catalog description
	GeometryColumn string       // Name of the geometry column, empty for NONE
	GeometryType   GeometryType // Declared geometry type
	SRID           int          // Coordinate reference system identifier
	Fields         []Field      // Attribute fields in declaration order
	RecordCount    int64        // Snapshot count at inspection time
	Extent         *Extent      // Nil when the layer has no geometries
	ExtentWarning  bool         // True when extent computation was skipped
}

// HasGeometry returns true if the layer carries a geometry column.
func (l *Layer) HasGeometry() bool {
	return l.GeometryType != GeomNone && l.GeometryColumn != ""
}

// FieldCount returns the number of attribute fields.
func (l *Layer) FieldCount() int {
	return len(l.Fields)
}

// Source is an inspected geodatabase container: the layer list plus
// container-level totals. It holds no live handles.
type Source struct {
	Path        string    // Container path
	Name        string    // Display name derived from the filename
	Size        int64     // Container size in bytes
	Layers      []Layer   // Layers in container-native order
	InspectedAt time.Time // Inspection timestamp
}

// TotalRecords returns the sum of all layer record counts.
func (s *Source) TotalRecords() int64 {
	var total int64
	for i := range s.Layers {
		total += s.Layers[i].RecordCount
	}
	return total
}

// LayerCount returns the number of feature layers.
func (s *Source) LayerCount() int {
	return len(s.Layers)
}

// GetLayer returns a layer by name.
func (s *Source) GetLayer(name string) (*Layer, bool) {
	for i := range s.Layers {
		if s.Layers[i].Name == name {
			return &s.Layers[i], true
		}
	}
	return nil, false
}
