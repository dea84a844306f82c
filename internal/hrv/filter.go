package hrv

import (
	"math"
	"math/cmplx"

	"codeberg.org/mutker/pulsectl/internal/errors"
)

// nyquistClamp keeps the upper band edge strictly below Nyquist.
const nyquistClamp = 0.99

// Biquad is one second-order section in direct form II transposed, with a0
// normalized to 1.
type Biquad struct {
	B0, B1, B2 float64
	A1, A2     float64
}

// Cascade is a filter expressed as second-order sections applied in order.
type Cascade []Biquad

// Bandpass designs a Butterworth bandpass of the given prototype order
// (yielding 2*order poles) between low and high Hz for sampling rate fs.
func Bandpass(order int, low, high, fs float64) (Cascade, error) {
	errFactory := errors.New()

	if order <= 0 || fs <= 0 {
		return nil, errFactory.WithData(ErrInvalidFilter, struct {
			Order        int
			SamplingRate float64
		}{order, fs})
	}

	nyq := fs / 2
	lo, hi := low/nyq, high/nyq
	if hi >= 1 {
		hi = nyquistClamp
	}
	if lo <= 0 || lo >= hi {
		return nil, errFactory.WithData(ErrInvalidFilter, struct {
			Low, High, Nyquist float64
		}{low, high, nyq})
	}

	// Pre-warp band edges for the bilinear transform at a normalized rate of 2.
	const fsNorm = 2.0
	wlo := 2 * fsNorm * math.Tan(math.Pi*lo/fsNorm)
	whi := 2 * fsNorm * math.Tan(math.Pi*hi/fsNorm)
	bw := whi - wlo
	w0sq := complex(wlo*whi, 0)

	poles := make([]complex128, 0, 2*order)
	for k := 0; k < order; k++ {
		proto := cmplx.Exp(complex(0, math.Pi*float64(2*k+1+order)/float64(2*order)))
		lp := proto * complex(bw/2, 0)
		d := cmplx.Sqrt(lp*lp - w0sq)
		poles = append(poles, lp+d, lp-d)
	}

	// Bilinear transform. The analog zeros at s=0 map to z=1 and the excess
	// poles contribute zeros at z=-1.
	fs2 := complex(2*fsNorm, 0)
	zpoles := make([]complex128, len(poles))
	for i, p := range poles {
		zpoles[i] = (fs2 + p) / (fs2 - p)
	}

	sections, err := pairPoles(zpoles)
	if err != nil {
		return nil, err
	}

	// Unity gain at the band centre, which the bilinear map sends to
	// 2*atan(w0/fs2) rad/sample.
	center := 2 * math.Atan(math.Sqrt(wlo*whi)/(2*fsNorm))
	gain := 1 / cmplx.Abs(sections.Response(center))
	sections[0].B0 *= gain
	sections[0].B1 *= gain
	sections[0].B2 *= gain

	return sections, nil
}

// pairPoles groups z-plane poles into biquads, each with one zero at +1 and
// one at -1.
func pairPoles(poles []complex128) (Cascade, error) {
	const eps = 1e-12

	var (
		sections Cascade
		reals    []float64
	)
	for _, p := range poles {
		switch {
		case imag(p) > eps:
			sections = append(sections, Biquad{
				B0: 1, B1: 0, B2: -1,
				A1: -2 * real(p),
				A2: real(p)*real(p) + imag(p)*imag(p),
			})
		case math.Abs(imag(p)) <= eps:
			reals = append(reals, real(p))
		}
	}

	if len(reals)%2 != 0 {
		return nil, errors.New().WithData(ErrInvalidFilter, "unpaired real pole")
	}
	for i := 0; i < len(reals); i += 2 {
		sections = append(sections, Biquad{
			B0: 1, B1: 0, B2: -1,
			A1: -(reals[i] + reals[i+1]),
			A2: reals[i] * reals[i+1],
		})
	}

	if len(sections)*2 != len(poles) {
		return nil, errors.New().WithData(ErrInvalidFilter, "pole pairing mismatch")
	}

	return sections, nil
}

// Response evaluates the transfer function at omega rad/sample.
func (c Cascade) Response(omega float64) complex128 {
	z1 := cmplx.Exp(complex(0, -omega))
	z2 := z1 * z1
	h := complex(1, 0)
	for _, s := range c {
		num := complex(s.B0, 0) + complex(s.B1, 0)*z1 + complex(s.B2, 0)*z2
		den := 1 + complex(s.A1, 0)*z1 + complex(s.A2, 0)*z2
		h *= num / den
	}
	return h
}

// steadyState returns per-section initial conditions for a unit step input.
func (c Cascade) steadyState() [][2]float64 {
	zi := make([][2]float64, len(c))
	scale := 1.0
	for i, s := range c {
		sumA := 1 + s.A1 + s.A2
		g := (s.B0 + s.B1 + s.B2) / sumA
		z2 := s.B2 - s.A2*g
		z1 := s.B1 - s.A1*g + z2
		zi[i] = [2]float64{z1 * scale, z2 * scale}
		scale *= g
	}
	return zi
}

func (c Cascade) run(x []float64, zi [][2]float64, x0 float64) []float64 {
	state := make([][2]float64, len(c))
	for i := range zi {
		state[i] = [2]float64{zi[i][0] * x0, zi[i][1] * x0}
	}

	y := make([]float64, len(x))
	copy(y, x)
	for i, s := range c {
		z1, z2 := state[i][0], state[i][1]
		for n, v := range y {
			out := s.B0*v + z1
			z1 = s.B1*v - s.A1*out + z2
			z2 = s.B2*v - s.A2*out
			y[n] = out
		}
	}
	return y
}

// Filter applies the cascade causally from rest.
func (c Cascade) Filter(x []float64) []float64 {
	return c.run(x, make([][2]float64, len(c)), 0)
}

// FiltFilt applies the cascade forward and backward for zero phase
// distortion. The input is extended at both ends by odd reflection and
// each pass starts from the steady state of its first sample.
func (c Cascade) FiltFilt(x []float64) []float64 {
	if len(x) < 2 || len(c) == 0 {
		out := make([]float64, len(x))
		copy(out, x)
		return out
	}

	padlen := 3 * (2*len(c) + 1)
	if padlen >= len(x) {
		padlen = len(x) - 1
	}

	n := len(x)
	ext := make([]float64, 0, n+2*padlen)
	for i := padlen; i >= 1; i-- {
		ext = append(ext, 2*x[0]-x[i])
	}
	ext = append(ext, x...)
	for i := n - 2; i >= n-1-padlen; i-- {
		ext = append(ext, 2*x[n-1]-x[i])
	}

	zi := c.steadyState()
	fwd := c.run(ext, zi, ext[0])
	reverse(fwd)
	bwd := c.run(fwd, zi, fwd[0])
	reverse(bwd)

	out := make([]float64, n)
	copy(out, bwd[padlen:padlen+n])
	return out
}

func reverse(x []float64) {
	for i, j := 0, len(x)-1; i < j; i, j = i+1, j-1 {
		x[i], x[j] = x[j], x[i]
	}
}
