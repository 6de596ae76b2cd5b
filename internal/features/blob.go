package features

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Encode serializes a Set to the descriptor blob format:
//
//	{"keypoints": [{"x":..,"y":..,"size":..,"angle":..,"response":..,"octave":..,"class_id":..}],
//	 "descriptors": [[u8, ...], ...]}
func Encode(s Set) ([]byte, error) {
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("encode descriptor blob: %w", err)
	}
	if s.Keypoints == nil {
		s.Keypoints = []Keypoint{}
	}
	if s.Descriptors == nil {
		s.Descriptors = []Descriptor{}
	}
	return json.Marshal(s)
}

// Decode parses a descriptor blob and validates it.
func Decode(data []byte) (Set, error) {
	var s Set
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&s); err != nil {
		return Set{}, fmt.Errorf("decode descriptor blob: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Set{}, fmt.Errorf("decode descriptor blob: %w", err)
	}
	return s, nil
}
