// Package features provides keypoint extraction, the descriptor blob format
// and Hamming-distance descriptor matching.
package features

import (
	"encoding/json"
	"fmt"
	"strconv"

	"pagediff/pkg/geometry"
)

// Keypoint is one detected feature. Field names follow OpenCV's cv::KeyPoint.
type Keypoint struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Size     float64 `json:"size"`
	Angle    float64 `json:"angle"`
	Response float64 `json:"response"`
	Octave   int     `json:"octave"`
	ClassID  int     `json:"class_id"`
}

// Point returns the keypoint location.
func (k Keypoint) Point() geometry.Point2D {
	return geometry.Point2D{X: k.X, Y: k.Y}
}

// Descriptor is a fixed-width binary feature vector.
// It encodes to JSON as an array of integers rather than base64.
type Descriptor []byte

// MarshalJSON writes the descriptor as a JSON array of 0-255 integers.
func (d Descriptor) MarshalJSON() ([]byte, error) {
	buf := make([]byte, 0, len(d)*4+2)
	buf = append(buf, '[')
	for i, b := range d {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = strconv.AppendUint(buf, uint64(b), 10)
	}
	buf = append(buf, ']')
	return buf, nil
}

// UnmarshalJSON reads a JSON array of 0-255 integers.
func (d *Descriptor) UnmarshalJSON(data []byte) error {
	var raw []int
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Descriptor, len(raw))
	for i, v := range raw {
		if v < 0 || v > 255 {
			return fmt.Errorf("descriptor byte %d out of range: %d", i, v)
		}
		out[i] = byte(v)
	}
	*d = out
	return nil
}

// Set is the keypoints of one page with their index-aligned descriptors.
type Set struct {
	Keypoints   []Keypoint   `json:"keypoints"`
	Descriptors []Descriptor `json:"descriptors"`
}

// Len returns the number of keypoints.
func (s Set) Len() int {
	return len(s.Keypoints)
}

// Width returns the descriptor width in bytes, or 0 for an empty set.
func (s Set) Width() int {
	if len(s.Descriptors) == 0 {
		return 0
	}
	return len(s.Descriptors[0])
}

// Validate checks index alignment and that every descriptor has the same width.
func (s Set) Validate() error {
	if len(s.Keypoints) != len(s.Descriptors) {
		return fmt.Errorf("%d keypoints but %d descriptors", len(s.Keypoints), len(s.Descriptors))
	}
	w := s.Width()
	for i, d := range s.Descriptors {
		if len(d) != w {
			return fmt.Errorf("descriptor %d has width %d, want %d", i, len(d), w)
		}
	}
	if len(s.Descriptors) > 0 && w == 0 {
		return fmt.Errorf("descriptors have zero width")
	}
	return nil
}

// Match pairs a query descriptor with a train descriptor.
type Match struct {
	QueryIdx int
	TrainIdx int
	Distance int
}
