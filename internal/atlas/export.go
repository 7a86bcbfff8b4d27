package atlas

import (
	"context"
	"encoding/json"
	"io"
	"math"

	"github.com/rotisserie/eris"
	geom "github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
)

// ExportGeoJSON writes a stored density map as a GeoJSON FeatureCollection
// of pixel centers, one point feature per defined pixel. NaN pixels are
// omitted (JSON cannot carry them); longitudes are shifted into [-180, 180]
// for viewer compatibility.
func (a *Atlas) ExportGeoJSON(ctx context.Context, mapName string, w io.Writer) error {
	rec, err := a.ReadMap(ctx, mapName)
	if err != nil {
		return err
	}

	fc := &geojson.FeatureCollection{}
	for pix, v := range rec.Values {
		if math.IsNaN(v) {
			continue
		}
		center, err := a.grid.Center(int64(pix))
		if err != nil {
			return err
		}
		lon := center.RA
		if lon > 180 {
			lon -= 360
		}
		fc.Features = append(fc.Features, &geojson.Feature{
			Geometry: geom.NewPointFlat(geom.XY, []float64{lon, center.Dec}),
			Properties: map[string]interface{}{
				"pixel":       pix,
				"density":     v,
				"object_type": rec.ObjectType,
				"method":      rec.Method,
			},
		})
	}

	if err := json.NewEncoder(w).Encode(fc); err != nil {
		return eris.Wrapf(err, "atlas: export %s", mapName)
	}
	return nil
}
