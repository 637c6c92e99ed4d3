package gcode

import "errors"

// ProbeOptions configure a straight z-probe operation.
type ProbeOptions struct {
	ZeroZAxis bool `json:"zeroZAxis"`

	// Offset is the work Z value assigned at the trigger point when ZeroZAxis is set.
	Offset float64 `json:"offset"`

	FeedRate  float64 `json:"feedRate"`
	MaxTravel float64 `json:"maxTravel"`
}

func (opt ProbeOptions) Validate() error {
	if opt.FeedRate <= 0 {
		return errors.New("probe feed rate must be positive")
	}
	if opt.MaxTravel == 0 {
		return errors.New("probe travel must be non-zero")
	}
	return nil
}

// ProbeZ returns blocks that probe downward along Z from the current location,
// optionally zero the work Z, and then lift back to the machine Z it started from.
func (opt ProbeOptions) ProbeZ(liftMachineZ float64) []Block {
	travel := opt.MaxTravel
	if travel > 0 {
		travel = -travel
	}
	b := []Block{
		{
			{W: 'G', Arg: 91},
			{W: 'G', Arg: 38.2},
			{W: 'Z', Arg: travel},
			{W: 'F', Arg: opt.FeedRate},
		},
	}
	if opt.ZeroZAxis {
		b = append(b, Block{
			{W: 'G', Arg: 92},
			{W: 'Z', Arg: opt.Offset},
		})
	}
	b = append(b,
		Block{
			{W: 'G', Arg: 90},
		},
		Block{
			{W: 'G', Arg: 53},
			{W: 'G', Arg: 0},
			{W: 'Z', Arg: liftMachineZ},
		},
	)
	return b
}
