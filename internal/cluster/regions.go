package cluster

import (
	"encoding/json"
	"fmt"
	"image"
)

// Region is an inclusive bounding box in before-page pixel coordinates.
type Region struct {
	MinX int `json:"minX"`
	MinY int `json:"minY"`
	MaxX int `json:"maxX"`
	MaxY int `json:"maxY"`
}

// Rect returns the region as a half-open image.Rectangle.
func (r Region) Rect() image.Rectangle {
	return image.Rect(r.MinX, r.MinY, r.MaxX+1, r.MaxY+1)
}

// Regions clusters the changed pixels (value 0) of mask and returns one
// bounding box per cluster. Noise pixels are discarded. A mask without
// changed pixels, or with no dense cluster, yields an empty slice.
func Regions(mask *image.Gray, eps float64, minSamples int) []Region {
	regions := []Region{}
	if mask == nil || !finiteEps(eps) {
		return regions
	}

	ws := getWorkspace()
	defer putWorkspace(ws)

	b := mask.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		off := mask.PixOffset(b.Min.X, y)
		for x := 0; x < b.Dx(); x++ {
			if mask.Pix[off+x] == 0 {
				ws.points = append(ws.points, point{
					x:   float64(b.Min.X + x),
					y:   float64(y),
					idx: len(ws.points),
				})
			}
		}
	}
	if len(ws.points) == 0 {
		return regions
	}

	k := run(ws, eps, minSamples)
	return boundingBoxes(ws.points, ws.labels, k)
}

func boundingBoxes(pts []point, labels []int, k int) []Region {
	regions := make([]Region, k)
	seen := make([]bool, k)
	for i, l := range labels {
		if l < 0 {
			continue
		}
		x, y := int(pts[i].x), int(pts[i].y)
		if !seen[l] {
			regions[l] = Region{MinX: x, MinY: y, MaxX: x, MaxY: y}
			seen[l] = true
			continue
		}
		r := &regions[l]
		r.MinX = min(r.MinX, x)
		r.MinY = min(r.MinY, y)
		r.MaxX = max(r.MaxX, x)
		r.MaxY = max(r.MaxY, y)
	}
	return regions
}

// EncodeRegions serializes a region list as a JSON array.
func EncodeRegions(regions []Region) ([]byte, error) {
	if regions == nil {
		regions = []Region{}
	}
	data, err := json.Marshal(regions)
	if err != nil {
		return nil, fmt.Errorf("encode regions: %w", err)
	}
	return data, nil
}
