package domain

// Feature is one record pulled from a layer: a geometry value plus the
// attribute values keyed by field name. Geometry is standard WKB with
// the container's blob header already stripped; nil means the feature
// has no geometry.
type Feature struct {
	ID         int64                  // Feature ID (fid)
	Geometry   []byte                 // WKB payload, nil for missing geometry
	Properties map[string]interface{} // Attribute values by field name
}

// GetProperty returns a property value by key.
func (f *Feature) GetProperty(key string) (interface{}, bool) {
	if f.Properties == nil {
		return nil, false
	}
	v, ok := f.Properties[key]
	return v, ok
}

// FeatureChunk is a bounded batch of features pulled from a layer in
// source-native order. The last chunk of a layer may be shorter than
// the configured chunk size; an empty layer yields no chunks at all.
type FeatureChunk struct {
	LayerName string    // Owning layer
	Index     int       // Zero-based chunk index within the layer
	Offset    int64     // Record offset of the first feature
	Features  []Feature // len(Features) <= chunk size
}

// Len returns the number of features in the chunk.
func (c *FeatureChunk) Len() int {
	return len(c.Features)
}
