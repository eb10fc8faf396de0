package grbl

import (
	"fmt"
	"strconv"
)

// Position is an absolute XYZ position in millimeters.
type Position struct {
	X float64
	Y float64
	Z float64
}

// NewPositionFromStrValues creates a Position from string values for X, Y and Z. Extra values
// (eg: a 4th axis) are ignored.
func NewPositionFromStrValues(dataValues []string) (*Position, error) {
	if len(dataValues) < 3 {
		return nil, fmt.Errorf("position field malformed: %#v", dataValues)
	}

	position := &Position{}
	var err error

	position.X, err = strconv.ParseFloat(dataValues[0], 64)
	if err != nil {
		return nil, fmt.Errorf("position X invalid: %#v", dataValues[0])
	}
	position.Y, err = strconv.ParseFloat(dataValues[1], 64)
	if err != nil {
		return nil, fmt.Errorf("position Y invalid: %#v", dataValues[1])
	}
	position.Z, err = strconv.ParseFloat(dataValues[2], 64)
	if err != nil {
		return nil, fmt.Errorf("position Z invalid: %#v", dataValues[2])
	}
	return position, nil
}

// Sub returns p - o, axis by axis.
func (p Position) Sub(o Position) Position {
	return Position{
		X: p.X - o.X,
		Y: p.Y - o.Y,
		Z: p.Z - o.Z,
	}
}

func (p Position) String() string {
	return fmt.Sprintf("X%.3f Y%.3f Z%.3f", p.X, p.Y, p.Z)
}
