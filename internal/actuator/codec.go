// Package actuator carries allocated thruster commands to the vessel over a
// CAN bus. Each thruster gets one 8-byte frame, ID BaseID+i, with
// little-endian signals:
//
//	bits  0-15  Fx         signed,   ForceFactor N/bit
//	bits 16-31  Fy         signed,   ForceFactor N/bit
//	bits 32-47  Magnitude  unsigned, ForceFactor N/bit
//	bits 48-63  Azimuth    signed,   AngleFactor rad/bit
package actuator

import (
	"fmt"
	"math"

	"github.com/san-kum/mpcsim/internal/allocation"
	"go.einride.tech/can"
)

const frameLength = 8

type Codec struct {
	BaseID      uint32
	ForceFactor float64
	AngleFactor float64
}

func DefaultCodec() Codec {
	return Codec{BaseID: 0x200, ForceFactor: 0.01, AngleFactor: 1e-4}
}

// Encode packs the command for thruster idx. Values outside the signal
// range saturate.
func (c Codec) Encode(idx int, th allocation.Thrust) can.Frame {
	f := can.Frame{ID: c.BaseID + uint32(idx), Length: frameLength}
	f.Data.SetSignedBitsLittleEndian(0, 16, signedRaw(th.Fx, c.ForceFactor))
	f.Data.SetSignedBitsLittleEndian(16, 16, signedRaw(th.Fy, c.ForceFactor))
	f.Data.SetUnsignedBitsLittleEndian(32, 16, unsignedRaw(th.Magnitude, c.ForceFactor))
	f.Data.SetSignedBitsLittleEndian(48, 16, signedRaw(th.Azimuth, c.AngleFactor))
	return f
}

// Decode unpacks a frame produced by Encode and returns its thruster index.
func (c Codec) Decode(f can.Frame) (int, allocation.Thrust, error) {
	if f.ID < c.BaseID {
		return 0, allocation.Thrust{}, fmt.Errorf("actuator: frame 0x%X below base ID 0x%X", f.ID, c.BaseID)
	}
	if f.Length != frameLength {
		return 0, allocation.Thrust{}, fmt.Errorf("actuator: frame 0x%X has length %d, want %d", f.ID, f.Length, frameLength)
	}
	th := allocation.Thrust{
		Fx:        float64(f.Data.SignedBitsLittleEndian(0, 16)) * c.ForceFactor,
		Fy:        float64(f.Data.SignedBitsLittleEndian(16, 16)) * c.ForceFactor,
		Magnitude: float64(f.Data.UnsignedBitsLittleEndian(32, 16)) * c.ForceFactor,
		Azimuth:   float64(f.Data.SignedBitsLittleEndian(48, 16)) * c.AngleFactor,
	}
	return int(f.ID - c.BaseID), th, nil
}

// Frames encodes every thruster of an allocation result.
func (c Codec) Frames(res *allocation.Result) []can.Frame {
	frames := make([]can.Frame, len(res.Thrusters))
	for i, th := range res.Thrusters {
		frames[i] = c.Encode(i, th)
	}
	return frames
}

func signedRaw(v, factor float64) int64 {
	raw := math.Round(v / factor)
	return int64(math.Max(math.MinInt16, math.Min(math.MaxInt16, raw)))
}

func unsignedRaw(v, factor float64) uint64 {
	raw := math.Round(v / factor)
	return uint64(math.Max(0, math.Min(math.MaxUint16, raw)))
}
