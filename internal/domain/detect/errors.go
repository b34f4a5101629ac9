package detect

import "errors"

// ErrCalibrationTimeout is terminal for the sensor: no baseline, no detection.
var ErrCalibrationTimeout = errors.New("detect: calibration timed out")
