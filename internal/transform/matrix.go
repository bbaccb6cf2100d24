package transform

// Mat3 is a row-major 3x3 matrix over homogeneous 2D texture coordinates.
type Mat3 [3][3]float32

var (
	identity = Mat3{
		{1, 0, 0},
		{0, 1, 0},
		{0, 0, 1},
	}
	rotCCW90 = Mat3{
		{0, 1, 0},
		{-1, 0, 1},
		{0, 0, 1},
	}
	rotCCW180 = Mat3{
		{-1, 0, 1},
		{0, -1, 1},
		{0, 0, 1},
	}
	rotCCW270 = Mat3{
		{0, -1, 1},
		{1, 0, 0},
		{0, 0, 1},
	}
	flipX = Mat3{
		{-1, 0, 1},
		{0, 1, 0},
		{0, 0, 1},
	}
	flipY = Mat3{
		{1, 0, 0},
		{0, -1, 1},
		{0, 0, 1},
	}
)

// Identity returns the identity matrix.
func Identity() Mat3 {
	return identity
}

// Mul left-multiplies m by mul, so m becomes mul × m.
func (m *Mat3) Mul(mul Mat3) {
	src := *m
	for row := 0; row < 3; row++ {
		for col := 0; col < 3; col++ {
			var sum float32
			for i := 0; i < 3; i++ {
				sum += mul[row][i] * src[i][col]
			}
			m[row][col] = sum
		}
	}
}

// ApplyDecomposed applies the flips of d and then its rotation.
func (m *Mat3) ApplyDecomposed(d Decomposed) {
	if d.FlipX {
		m.Mul(flipX)
	}
	if d.FlipY {
		m.Mul(flipY)
	}
	m.rotate(d.Rotation)
}

// ApplyTransform applies an output transform to m.
func (m *Mat3) ApplyTransform(t Transform) {
	m.ApplyDecomposed(t.Decompose())
}

func (m *Mat3) rotate(r Rotation) {
	switch r {
	case RotCCW90:
		m.Mul(rotCCW90)
	case RotCCW180:
		m.Mul(rotCCW180)
	case RotCCW270:
		m.Mul(rotCCW270)
	}
}
