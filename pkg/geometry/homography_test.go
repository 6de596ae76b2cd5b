package geometry

import (
	"math"
	"testing"
)

func TestHomographyApply(t *testing.T) {
	h := TranslationHomography(10, -5)
	p, ok := h.Apply(Point2D{3, 4})
	if !ok {
		t.Fatal("Apply reported point at infinity")
	}
	if p.X != 13 || p.Y != -1 {
		t.Errorf("Apply = %+v, want (13,-1)", p)
	}
}

func TestHomographyInverse(t *testing.T) {
	h := Homography{1.1, 0.05, 12, -0.03, 0.97, -4, 1e-5, 2e-5, 1}
	inv, ok := h.Inverse()
	if !ok {
		t.Fatal("Inverse failed on a well-conditioned matrix")
	}
	id := h.Compose(inv).Normalize()
	want := IdentityHomography()
	for i := range id {
		if math.Abs(id[i]-want[i]) > 1e-9 {
			t.Fatalf("h * inv(h) = %v, want identity", id)
		}
	}

	src := Point2D{250, 400}
	dst, _ := h.Apply(src)
	back, _ := inv.Apply(dst)
	if back.Distance(src) > 1e-9 {
		t.Errorf("round trip = %+v, want %+v", back, src)
	}
}

func TestHomographySingular(t *testing.T) {
	if _, ok := (Homography{}).Inverse(); ok {
		t.Error("Inverse of zero matrix should fail")
	}
}

func TestCollinear(t *testing.T) {
	tests := []struct {
		name    string
		a, b, c Point2D
		want    bool
	}{
		{"line", Point2D{0, 0}, Point2D{5, 5}, Point2D{10, 10}, true},
		{"triangle", Point2D{0, 0}, Point2D{10, 0}, Point2D{0, 10}, false},
		{"coincident", Point2D{1, 1}, Point2D{1, 1}, Point2D{1, 1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Collinear(tt.a, tt.b, tt.c, 1e-6); got != tt.want {
				t.Errorf("Collinear = %v, want %v", got, tt.want)
			}
		})
	}
}
