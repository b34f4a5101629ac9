package model

import (
	"math"
	"time"
)

// MotionSample is a decoded accelerometer record in physical units.
type MotionSample struct {
	PeripheralID string
	// Accel in g per axis; AccelRaw keeps the counts it was scaled from.
	Accel    [3]float64
	AccelRaw [3]int16
	// Angle in degrees per axis.
	Angle    [3]float64
	AngleRaw [3]int16
	TempRaw  int16
	TempC    float64

	// Extended is set when the frame carried displacement and frequency.
	Extended     bool
	Displacement [3]float64 // micrometres
	Frequency    [3]float64 // hertz

	Timestamp time.Time
}

// Magnitude returns the euclidean norm of the acceleration vector in g.
func (s MotionSample) Magnitude() float64 {
	return math.Sqrt(s.Accel[0]*s.Accel[0] + s.Accel[1]*s.Accel[1] + s.Accel[2]*s.Accel[2])
}

// Baseline is the resting reference of one sensor.
type Baseline struct {
	Mean          float64
	Variance      float64
	Samples       int
	EstablishedAt time.Time
}

// Deviation returns how far a magnitude sits from the resting mean, in g.
func (b Baseline) Deviation(magnitude float64) float64 {
	return math.Abs(magnitude - b.Mean)
}
