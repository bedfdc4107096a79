package mapdata

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"
)

// Load reads zone polygons from a shapefile when shapefilePath is set,
// otherwise from the GeoJSON file at geojsonPath.
func Load(geojsonPath, shapefilePath string) (*geojson.FeatureCollection, error) {
	if shapefilePath != "" {
		return LoadShapefile(shapefilePath)
	}
	if geojsonPath == "" {
		return nil, eris.New("mapdata: no polygon source configured")
	}
	return LoadGeoJSON(geojsonPath)
}

// LoadGeoJSON reads a GeoJSON FeatureCollection from path.
func LoadGeoJSON(path string) (*geojson.FeatureCollection, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "mapdata: read %s", path)
	}
	return ParseGeoJSON(data)
}

// ParseGeoJSON decodes a GeoJSON FeatureCollection.
func ParseGeoJSON(data []byte) (*geojson.FeatureCollection, error) {
	var fc geojson.FeatureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, eris.Wrap(err, "mapdata: decode geojson")
	}
	if fc.Features == nil {
		fc.Features = []*geojson.Feature{}
	}
	return &fc, nil
}

// LoadShapefile converts the polygons of an ESRI shapefile into a feature
// collection. DBF attributes become properties under lowercased field
// names, so a TEXT column serves the default zone property.
func LoadShapefile(path string) (*geojson.FeatureCollection, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "mapdata: open shapefile %s", path)
	}
	defer func() { _ = reader.Close() }()

	fields := reader.Fields()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = strings.ToLower(strings.TrimRight(f.String(), "\x00"))
	}

	fc := &geojson.FeatureCollection{Features: []*geojson.Feature{}}
	var skipped int
	for reader.Next() {
		_, shape := reader.Shape()

		poly, ok := shape.(*shp.Polygon)
		if !ok {
			skipped++
			continue
		}
		g := polygonToMultiPolygon(poly)
		if g == nil {
			skipped++
			continue
		}

		props := make(map[string]interface{}, len(names))
		for i, name := range names {
			props[name] = strings.TrimSpace(strings.TrimRight(reader.Attribute(i), "\x00"))
		}
		fc.Features = append(fc.Features, &geojson.Feature{Geometry: g, Properties: props})
	}

	if skipped > 0 {
		zap.L().Debug("mapdata: skipped non-polygon shapefile records",
			zap.String("path", path),
			zap.Int("skipped", skipped),
		)
	}
	return fc, nil
}

// polygonToMultiPolygon converts a shapefile Polygon to a geom.MultiPolygon,
// one polygon per part.
func polygonToMultiPolygon(p *shp.Polygon) *geom.MultiPolygon {
	if p == nil || p.NumParts == 0 || len(p.Points) == 0 {
		return nil
	}

	mp := geom.NewMultiPolygon(geom.XY)
	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		end := int32(len(p.Points))
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		}

		flat := make([]float64, 0, (end-start)*2)
		for j := start; j < end; j++ {
			flat = append(flat, p.Points[j].X, p.Points[j].Y)
		}

		poly := geom.NewPolygon(geom.XY)
		if err := poly.Push(geom.NewLinearRingFlat(geom.XY, flat)); err != nil {
			zap.L().Debug("mapdata: skipping malformed ring", zap.Int32("part", i), zap.Error(err))
			continue
		}
		if err := mp.Push(poly); err != nil {
			zap.L().Debug("mapdata: skipping malformed polygon", zap.Int32("part", i), zap.Error(err))
			continue
		}
	}

	if mp.NumPolygons() == 0 {
		return nil
	}
	return mp
}
