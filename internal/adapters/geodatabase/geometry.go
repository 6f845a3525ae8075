package geodatabase

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"

	"github.com/jobrunner/stratum/internal/domain"
)

// gpkgMagic is the two-byte magic prefix of a GeoPackage geometry blob.
var gpkgMagic = [2]byte{'G', 'P'}

const (
	flagByteOrderLE   = 0x01
	flagEmptyGeometry = 0x10
	envelopeMask      = 0x0E
	headerBaseLen     = 8 // magic + version + flags + srid
)

// BlobGeometry is a parsed GeoPackage geometry blob: the standard WKB
// payload plus the header fields the engine passes through unchanged.
type BlobGeometry struct {
	SRID     int
	Empty    bool
	Envelope *domain.Extent // Nil when the header carries no envelope
	WKB      []byte
}

// ParseGeometry splits a GeoPackage geometry blob into its header and
// the standard WKB payload. Coordinates are never touched.
func ParseGeometry(blob []byte) (*BlobGeometry, error) {
	if len(blob) < headerBaseLen {
		return nil, fmt.Errorf("geometry blob too short: %d bytes", len(blob))
	}
	if blob[0] != gpkgMagic[0] || blob[1] != gpkgMagic[1] {
		return nil, fmt.Errorf("geometry blob missing GP magic")
	}

	flags := blob[3]
	var order binary.ByteOrder = binary.BigEndian
	if flags&flagByteOrderLE != 0 {
		order = binary.LittleEndian
	}

	g := &BlobGeometry{
		SRID:  int(int32(order.Uint32(blob[4:8]))),
		Empty: flags&flagEmptyGeometry != 0,
	}

	envCount, err := envelopeValueCount(flags)
	if err != nil {
		return nil, err
	}
	offset := headerBaseLen + envCount*8
	if len(blob) < offset {
		return nil, fmt.Errorf("geometry blob truncated in envelope")
	}

	if envCount >= 4 {
		// First four envelope values are always minx, maxx, miny, maxy.
		g.Envelope = &domain.Extent{
			MinX: readFloat(order, blob[8:16]),
			MaxX: readFloat(order, blob[16:24]),
			MinY: readFloat(order, blob[24:32]),
			MaxY: readFloat(order, blob[32:40]),
			SRID: g.SRID,
		}
	}

	if g.Empty {
		return g, nil
	}
	if len(blob) == offset {
		return nil, fmt.Errorf("geometry blob has no WKB payload")
	}

	g.WKB = blob[offset:]
	return g, nil
}

// envelopeValueCount maps the envelope indicator bits to the number of
// float64 values that follow the header.
func envelopeValueCount(flags byte) (int, error) {
	switch (flags & envelopeMask) >> 1 {
	case 0:
		return 0, nil
	case 1:
		return 4, nil // XY
	case 2, 3:
		return 6, nil // XYZ or XYM
	case 4:
		return 8, nil // XYZM
	default:
		return 0, fmt.Errorf("invalid envelope indicator in flags 0x%02x", flags)
	}
}

func readFloat(order binary.ByteOrder, b []byte) float64 {
	return math.Float64frombits(order.Uint64(b))
}

// DecodeWKB decodes a standard WKB payload into an orb geometry. Used
// for validation and extent computation, never to rewrite coordinates.
func DecodeWKB(payload []byte) (orb.Geometry, error) {
	geom, err := wkb.Unmarshal(payload)
	if err != nil {
		return nil, fmt.Errorf("decoding WKB: %w", err)
	}
	return geom, nil
}

// GeometryBound returns the bounding extent of a WKB payload.
func GeometryBound(payload []byte, srid int) (*domain.Extent, error) {
	geom, err := DecodeWKB(payload)
	if err != nil {
		return nil, err
	}
	b := geom.Bound()
	return &domain.Extent{
		MinX: b.Min[0], MinY: b.Min[1],
		MaxX: b.Max[0], MaxY: b.Max[1],
		SRID: srid,
	}, nil
}
