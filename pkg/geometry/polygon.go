package geometry

import "math"

// Orientation returns the signed area (times two) of triangle o-a-b.
// Positive for counter-clockwise, negative for clockwise.
func Orientation(o, a, b Point2D) float64 {
	return crossProduct(o, a, b)
}

// Collinear reports whether a, b and c lie on a common line, within a
// tolerance relative to the triangle's longest side.
func Collinear(a, b, c Point2D, tol float64) bool {
	area := math.Abs(crossProduct(a, b, c))
	scale := math.Max(distSq(a, b), math.Max(distSq(b, c), distSq(a, c)))
	if scale == 0 {
		return true
	}
	return area <= tol*scale
}

func crossProduct(o, a, b Point2D) float64 {
	return (a.X-o.X)*(b.Y-o.Y) - (a.Y-o.Y)*(b.X-o.X)
}

func distSq(a, b Point2D) float64 {
	dx := a.X - b.X
	dy := a.Y - b.Y
	return dx*dx + dy*dy
}
