package protocol

import (
	"fmt"
	"math"
)

// Vector3 is an LLVector3.
type Vector3 struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
	Z float32 `json:"z"`
}

func (v Vector3) String() string {
	return fmt.Sprintf("<%g, %g, %g>", v.X, v.Y, v.Z)
}

// Vector4 is an LLVector4.
type Vector4 struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
	Z float32 `json:"z"`
	W float32 `json:"w"`
}

// Quaternion is an LLQuaternion. Only X, Y and Z travel on the wire.
type Quaternion struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
	Z float32 `json:"z"`
	W float32 `json:"w"`
}

// NormalizeW rebuilds a unit quaternion from its transmitted components
// with w = sqrt(max(0, 1 - x² - y² - z²)). When transmission noise pushes
// the squared sum above 1, w clamps to 0 and x, y, z are kept as sent.
func NormalizeW(x, y, z float32) Quaternion {
	sum := float64(x)*float64(x) + float64(y)*float64(y) + float64(z)*float64(z)
	w := 1 - sum
	if w < 0 {
		w = 0
	}
	return Quaternion{X: x, Y: y, Z: z, W: float32(math.Sqrt(w))}
}
