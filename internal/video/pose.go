package video

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/invigil/invigil/pkg/vision"
)

// Head pose is estimated from six anchor landmarks of the face mesh against
// a generic rigid 3D face model: a perspective-n-point problem solved by
// damped Gauss-Newton over the rotation vector and translation, followed by
// a Rodrigues conversion and an Euler decomposition.

// poseLandmarkIdx lists the face-mesh indices of the anchor points: nose
// tip, chin, left eye outer corner, right eye outer corner, left mouth
// corner, right mouth corner.
var poseLandmarkIdx = [6]int{1, 152, 33, 263, 61, 291}

// maxPoseLandmarkIdx is the highest mesh index the solver dereferences.
const maxPoseLandmarkIdx = 291

// modelPoints is the generic 3D face model the anchors are matched against,
// in model units with the nose tip at the origin.
var modelPoints = [6][3]float64{
	{0, 0, 0},
	{0, -330, -65},
	{-225, 170, -135},
	{225, 170, -135},
	{-150, -150, -125},
	{150, -150, -125},
}

// Fixed pinhole intrinsics; frames are decimated at VGA-class resolution and
// the pose consumer only thresholds coarse angles.
const (
	focalLength = 640.0
	centerX     = 320.0
	centerY     = 240.0
)

// estimatePose recovers (pitch, yaw, roll) in degrees for one face. The
// landmark points are normalized; width and height are the frame's pixel
// dimensions. Meshes too short to carry the anchor indices and degenerate
// geometry are errors; the caller treats both as "no pose for this face".
func estimatePose(points []vision.Point, width, height int) (pitch, yaw, roll float64, err error) {
	if len(points) <= maxPoseLandmarkIdx {
		return 0, 0, 0, fmt.Errorf("face mesh has %d points, need at least %d", len(points), maxPoseLandmarkIdx+1)
	}

	var img [6][2]float64
	for i, idx := range poseLandmarkIdx {
		img[i][0] = math.Trunc(points[idx].X * float64(width))
		img[i][1] = math.Trunc(points[idx].Y * float64(height))
	}

	rvec, _, err := solvePnP(img)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("solve pnp: %w", err)
	}
	pitch, yaw, roll = eulerAngles(rodrigues(rvec))
	return pitch, yaw, roll, nil
}

// solvePnP fits rotation vector and translation so that the projected model
// points match the observed image points, minimizing squared reprojection
// error. The depth seed comes from the nose-chin separation under the
// pinhole model; rotation starts frontal.
func solvePnP(img [6][2]float64) (rvec, tvec [3]float64, err error) {
	theta := initialGuess(img)

	res, ok := reprojResiduals(theta, img)
	if !ok {
		return rvec, tvec, errors.New("degenerate initial pose")
	}
	cost := sumSquares(res)
	lambda := 1e-3

	for iter := 0; iter < 200; iter++ {
		jac := reprojJacobian(theta, img)

		var jtj mat.Dense
		jtj.Mul(jac.T(), jac)
		var jtr mat.VecDense
		jtr.MulVec(jac.T(), mat.NewVecDense(len(res), res))

		accepted := false
		for try := 0; try < 10; try++ {
			var damped mat.Dense
			damped.CloneFrom(&jtj)
			for i := 0; i < 6; i++ {
				damped.Set(i, i, damped.At(i, i)+lambda*(1+damped.At(i, i)))
			}

			var delta mat.VecDense
			if solveErr := delta.SolveVec(&damped, &jtr); solveErr != nil {
				lambda *= 10
				continue
			}

			var cand [6]float64
			for i := range cand {
				cand[i] = theta[i] - delta.AtVec(i)
			}
			candRes, ok := reprojResiduals(cand, img)
			if !ok {
				lambda *= 10
				continue
			}
			if candCost := sumSquares(candRes); candCost < cost {
				theta, res, cost = cand, candRes, candCost
				if lambda > 1e-12 {
					lambda *= 0.3
				}
				accepted = true
				break
			}
			lambda *= 10
		}
		if !accepted || cost < 1e-18 {
			break
		}
	}

	for _, v := range theta {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return rvec, tvec, errors.New("pose did not converge")
		}
	}
	copy(rvec[:], theta[:3])
	copy(tvec[:], theta[3:])
	return rvec, tvec, nil
}

// initialGuess seeds the solver: frontal rotation, translation from the
// nose position and a pinhole depth estimate.
func initialGuess(img [6][2]float64) [6]float64 {
	noseChinModel := math.Hypot(modelPoints[0][1]-modelPoints[1][1], modelPoints[0][2]-modelPoints[1][2])
	noseChinImg := math.Hypot(img[0][0]-img[1][0], img[0][1]-img[1][1])

	z := 600.0
	if noseChinImg > 1 {
		z = focalLength * noseChinModel / noseChinImg
	}
	return [6]float64{
		0, 0, 0,
		(img[0][0] - centerX) * z / focalLength,
		(img[0][1] - centerY) * z / focalLength,
		z,
	}
}

// reprojResiduals returns, per anchor point, the projected-minus-observed
// pixel residuals (12 values). ok is false when a model point lands behind
// or on the camera plane.
func reprojResiduals(theta [6]float64, img [6][2]float64) ([]float64, bool) {
	var rv [3]float64
	copy(rv[:], theta[:3])
	rot := rodrigues(rv)

	res := make([]float64, 12)
	for i, p := range modelPoints {
		x := rot.At(0, 0)*p[0] + rot.At(0, 1)*p[1] + rot.At(0, 2)*p[2] + theta[3]
		y := rot.At(1, 0)*p[0] + rot.At(1, 1)*p[1] + rot.At(1, 2)*p[2] + theta[4]
		z := rot.At(2, 0)*p[0] + rot.At(2, 1)*p[1] + rot.At(2, 2)*p[2] + theta[5]
		if z < 1e-6 {
			return nil, false
		}
		res[2*i] = focalLength*x/z + centerX - img[i][0]
		res[2*i+1] = focalLength*y/z + centerY - img[i][1]
	}
	return res, true
}

// reprojJacobian builds the 12×6 Jacobian of the residuals by central
// differences. Columns whose perturbed poses are degenerate fall back to a
// zero derivative; the damping step absorbs the loss.
func reprojJacobian(theta [6]float64, img [6][2]float64) *mat.Dense {
	jac := mat.NewDense(12, 6, nil)
	for j := 0; j < 6; j++ {
		h := 1e-6 * (1 + math.Abs(theta[j]))

		plus := theta
		plus[j] += h
		minus := theta
		minus[j] -= h

		rp, okp := reprojResiduals(plus, img)
		rm, okm := reprojResiduals(minus, img)
		if !okp || !okm {
			continue
		}
		for i := 0; i < 12; i++ {
			jac.Set(i, j, (rp[i]-rm[i])/(2*h))
		}
	}
	return jac
}

// rodrigues converts a rotation vector to its rotation matrix.
func rodrigues(r [3]float64) *mat.Dense {
	angle := math.Sqrt(r[0]*r[0] + r[1]*r[1] + r[2]*r[2])
	if angle < 1e-12 {
		return mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
	}
	kx, ky, kz := r[0]/angle, r[1]/angle, r[2]/angle
	s, c := math.Sincos(angle)
	oc := 1 - c

	return mat.NewDense(3, 3, []float64{
		c + kx*kx*oc, kx*ky*oc - kz*s, kx*kz*oc + ky*s,
		ky*kx*oc + kz*s, c + ky*ky*oc, ky*kz*oc - kx*s,
		kz*kx*oc - ky*s, kz*ky*oc + kx*s, c + kz*kz*oc,
	})
}

// eulerAngles decomposes a rotation matrix into (pitch, yaw, roll) degrees,
// with the usual singular branch near yaw ±90°.
func eulerAngles(rot *mat.Dense) (pitch, yaw, roll float64) {
	sy := math.Hypot(rot.At(0, 0), rot.At(1, 0))

	var x, y, z float64
	if sy >= 1e-6 {
		x = math.Atan2(rot.At(2, 1), rot.At(2, 2))
		y = math.Atan2(-rot.At(2, 0), sy)
		z = math.Atan2(rot.At(1, 0), rot.At(0, 0))
	} else {
		x = math.Atan2(-rot.At(1, 2), rot.At(1, 1))
		y = math.Atan2(-rot.At(2, 0), sy)
		z = 0
	}

	const degPerRad = 180 / math.Pi
	return x * degPerRad, y * degPerRad, z * degPerRad
}

// sumSquares returns Σvᵢ².
func sumSquares(v []float64) float64 {
	var s float64
	for _, x := range v {
		s += x * x
	}
	return s
}
