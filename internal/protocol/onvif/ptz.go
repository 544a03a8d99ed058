package onvif

import (
	"context"
	"fmt"
)

// Direction is a continuous PTZ movement command.
type Direction string

const (
	DirectionUp    Direction = "up"
	DirectionDown  Direction = "down"
	DirectionLeft  Direction = "left"
	DirectionRight Direction = "right"
	DirectionStop  Direction = "stop"
)

// Velocity is a PTZ speed vector in the generic ONVIF velocity space.
type Velocity struct {
	Pan  float64
	Tilt float64
	Zoom float64
}

// moveSpeed is the pan/tilt magnitude used for every direction.
const moveSpeed = 0.5

var directionVelocity = map[Direction]Velocity{
	DirectionUp:    {Pan: 0, Tilt: moveSpeed},
	DirectionDown:  {Pan: 0, Tilt: -moveSpeed},
	DirectionLeft:  {Pan: -moveSpeed, Tilt: 0},
	DirectionRight: {Pan: moveSpeed, Tilt: 0},
	DirectionStop:  {},
}

// VelocityFor maps a direction to its velocity vector.
func VelocityFor(d Direction) (Velocity, error) {
	v, ok := directionVelocity[d]
	if !ok {
		return Velocity{}, fmt.Errorf("unknown PTZ direction %q", d)
	}
	return v, nil
}

// ContinuousMove starts moving the camera of profileToken in direction d,
// or halts it for DirectionStop.
func (c *Client) ContinuousMove(ctx context.Context, profileToken string, d Direction) error {
	v, err := VelocityFor(d)
	if err != nil {
		return err
	}
	_, err = c.call(ctx, "ContinuousMove", c.ptz(), continuousMoveBody(profileToken, v))
	return err
}
