package scene

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"citygen/internal/domain"
)

func emptyBox() r3.Box {
	inf := math.Inf(1)
	return r3.Box{
		Min: r3.Vec{X: inf, Y: inf, Z: inf},
		Max: r3.Vec{X: -inf, Y: -inf, Z: -inf},
	}
}

func extend(b r3.Box, p r3.Vec) r3.Box {
	b.Min = r3.Vec{X: math.Min(b.Min.X, p.X), Y: math.Min(b.Min.Y, p.Y), Z: math.Min(b.Min.Z, p.Z)}
	b.Max = r3.Vec{X: math.Max(b.Max.X, p.X), Y: math.Max(b.Max.Y, p.Y), Z: math.Max(b.Max.Z, p.Z)}
	return b
}

func union(a, b r3.Box) r3.Box {
	return extend(extend(a, b.Min), b.Max)
}

func isEmpty(b r3.Box) bool {
	return b.Min.X > b.Max.X
}

func corners(b r3.Box) []r3.Vec {
	out := make([]r3.Vec, 0, 8)
	for _, x := range []float64{b.Min.X, b.Max.X} {
		for _, y := range []float64{b.Min.Y, b.Max.Y} {
			for _, z := range []float64{b.Min.Z, b.Max.Z} {
				out = append(out, r3.Vec{X: x, Y: y, Z: z})
			}
		}
	}
	return out
}

func toR3(v domain.Vec3) r3.Vec {
	return r3.Vec{X: v.X, Y: v.Y, Z: v.Z}
}

func fromR3(v r3.Vec) domain.Vec3 {
	return domain.Vec3{X: v.X, Y: v.Y, Z: v.Z}
}

// RotateXYZ applies extrinsic X, then Y, then Z rotations given in degrees.
func RotateXYZ(p r3.Vec, degrees domain.Vec3) r3.Vec {
	p = r3.NewRotation(degrees.X*math.Pi/180, r3.Vec{X: 1}).Rotate(p)
	p = r3.NewRotation(degrees.Y*math.Pi/180, r3.Vec{Y: 1}).Rotate(p)
	p = r3.NewRotation(degrees.Z*math.Pi/180, r3.Vec{Z: 1}).Rotate(p)
	return p
}

// WorldBounds places a model-space box into the scene: scale, then rotate,
// then translate. The result is the axis-aligned hull of the moved corners.
func WorldBounds(local r3.Box, scale float64, rotation, position domain.Vec3) r3.Box {
	out := emptyBox()
	for _, c := range corners(local) {
		w := r3.Add(RotateXYZ(r3.Scale(scale, c), rotation), toR3(position))
		out = extend(out, w)
	}
	return out
}
