package model

import "math"

type Vec3i struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

// Location is an actor position inside a zone.
type Location struct {
	Zone string  `json:"zone"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Z    float64 `json:"z"`
}

// Block returns the integer block coordinates (floor, not truncation).
func (l Location) Block() Vec3i {
	return Vec3i{X: int(math.Floor(l.X)), Y: int(math.Floor(l.Y)), Z: int(math.Floor(l.Z))}
}
