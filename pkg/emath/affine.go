package emath

// Some basic affine transformations, used to evaluate rotated source profiles

import (
	"fmt"
	"math"

	"golang.org/x/image/math/f64" // Will be "image/math/f64" at some point, hopefully make this file redundant
)

// Use a local type so we can hang methods off it
type Aff3 f64.Aff3

// Cut-n-pasted from image@0.7.0/draw/scale:matMul
func (p Aff3) Mult(q Aff3) Aff3 {
	return Aff3{
		p[3*0+0]*q[3*0+0] + p[3*0+1]*q[3*1+0],
		p[3*0+0]*q[3*0+1] + p[3*0+1]*q[3*1+1],
		p[3*0+0]*q[3*0+2] + p[3*0+1]*q[3*1+2] + p[3*0+2],
		p[3*1+0]*q[3*0+0] + p[3*1+1]*q[3*1+0],
		p[3*1+0]*q[3*0+1] + p[3*1+1]*q[3*1+1],
		p[3*1+0]*q[3*0+2] + p[3*1+1]*q[3*1+2] + p[3*1+2],
	}
}

func Identity() Aff3 {
	return Aff3{1, 0, 0, 0, 1, 0}
}

func (m1 Aff3) Translate(tx, ty float64) Aff3 {
	return m1.Mult(Aff3{1, 0, tx, 0, 1, ty})
}

func (m1 Aff3) Rotate(thetaRad float64) Aff3 {
	cosTheta := math.Cos(thetaRad)
	sinTheta := math.Sin(thetaRad)
	return m1.Mult(Aff3{cosTheta, -1 * sinTheta, 0, sinTheta, cosTheta, 0})
}

// Apply maps the point (x,y) through the transform.
func (m Aff3) Apply(x, y float64) (float64, float64) {
	return m[0]*x + m[1]*y + m[2], m[3]*x + m[4]*y + m[5]
}

func (m Aff3) String() string {
	return fmt.Sprintf("[%.4f %.4f %.4f; %.4f %.4f %.4f]", m[0], m[1], m[2], m[3], m[4], m[5])
}

// Gaussian2D is an elliptical gaussian profile, rotated by Theta
// (radians, anticlockwise) about its centroid.
type Gaussian2D struct {
	X, Y           float64
	Amplitude      float64
	SigmaX, SigmaY float64
	Theta          float64
}

// Transform returns the affine map that takes image coords into the
// profile's own frame, where the major/minor axes line up with x/y.
// Remember they compose back to front - rightmost operations performed first.
func (g Gaussian2D) Transform() Aff3 {
	return Identity().Rotate(g.Theta).Translate(-1*g.X, -1*g.Y)
}

// Eval returns the profile's value at (x,y). It is the same as
// A*exp(-(a*dx^2 + 2b*dx*dy + c*dy^2)) with the usual a,b,c terms.
func (g Gaussian2D) Eval(x, y float64) float64 {
	return g.evalWith(g.Transform(), x, y)
}

func (g Gaussian2D) evalWith(m Aff3, x, y float64) float64 {
	u, v := m.Apply(x, y)
	return g.Amplitude * math.Exp(-(u*u/(2*g.SigmaX*g.SigmaX) + v*v/(2*g.SigmaY*g.SigmaY)))
}

// AddTo evaluates the profile over every pixel of the grid, and adds it in.
func (g Gaussian2D) AddTo(fg *FloatGrid) {
	m := g.Transform()
	for y := 0; y < fg.Dy(); y++ {
		for x := 0; x < fg.Dx(); x++ {
			fg.Add(x, y, g.evalWith(m, float64(x), float64(y)))
		}
	}
}
