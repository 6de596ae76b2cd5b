package geometry

import (
	"math"
)

// Homography represents a 3x3 projective transform stored row-major.
// [h0 h1 h2]
// [h3 h4 h5]
// [h6 h7 h8]
type Homography [9]float64

// IdentityHomography returns the identity transform.
func IdentityHomography() Homography {
	return Homography{1, 0, 0, 0, 1, 0, 0, 0, 1}
}

// TranslationHomography returns a pure translation.
func TranslationHomography(tx, ty float64) Homography {
	return Homography{1, 0, tx, 0, 1, ty, 0, 0, 1}
}

// Apply maps p through the transform. The second return value is false
// when p lands on the line at infinity.
func (h Homography) Apply(p Point2D) (Point2D, bool) {
	w := h[6]*p.X + h[7]*p.Y + h[8]
	if math.Abs(w) < 1e-12 {
		return Point2D{}, false
	}
	return Point2D{
		X: (h[0]*p.X + h[1]*p.Y + h[2]) / w,
		Y: (h[3]*p.X + h[4]*p.Y + h[5]) / w,
	}, true
}

// Compose returns this transform composed with another (this * other).
func (h Homography) Compose(other Homography) Homography {
	var out Homography
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			var s float64
			for k := 0; k < 3; k++ {
				s += h[r*3+k] * other[k*3+c]
			}
			out[r*3+c] = s
		}
	}
	return out
}

// Inverse returns the inverse transform, if it exists.
func (h Homography) Inverse() (Homography, bool) {
	a, b, c := h[0], h[1], h[2]
	d, e, f := h[3], h[4], h[5]
	g, i, j := h[6], h[7], h[8]

	c00 := e*j - f*i
	c01 := -(d*j - f*g)
	c02 := d*i - e*g
	det := a*c00 + b*c01 + c*c02
	if math.Abs(det) < 1e-12 {
		return Homography{}, false
	}
	inv := 1.0 / det
	return Homography{
		c00 * inv, -(b*j - c*i) * inv, (b*f - c*e) * inv,
		c01 * inv, (a*j - c*g) * inv, -(a*f - c*d) * inv,
		c02 * inv, -(a*i - b*g) * inv, (a*e - b*d) * inv,
	}, true
}

// Normalize scales the matrix so that h8 == 1. Returns the input unchanged
// when h8 is zero.
func (h Homography) Normalize() Homography {
	if math.Abs(h[8]) < 1e-12 {
		return h
	}
	s := 1.0 / h[8]
	for i := range h {
		h[i] *= s
	}
	return h
}

// ReprojectionError returns the distance between dst and src mapped through h.
// Points mapped to infinity report +Inf.
func (h Homography) ReprojectionError(src, dst Point2D) float64 {
	p, ok := h.Apply(src)
	if !ok {
		return math.Inf(1)
	}
	return p.Distance(dst)
}
