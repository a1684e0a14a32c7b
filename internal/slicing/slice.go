// Package slicing implements sequence slice arithmetic: resolving a partial
// (start, stop, step) specification against a dimension length and reducing
// two slices applied in sequence to a single equivalent slice.
package slicing

import (
	"errors"
	"fmt"
	"math"
)

// Omit marks an absent slice bound or step, the equivalent of leaving it out
// of a slice expression.
const Omit = math.MinInt

// ErrInvalidStep is returned when a slice step is zero.
var ErrInvalidStep = errors.New("slice step cannot be zero")

// Slice is a (start, stop, step) triple. Any field may be Omit.
type Slice struct {
	Start int
	Stop  int
	Step  int
}

// All selects every index in order.
func All() Slice {
	return Slice{Start: Omit, Stop: Omit, Step: Omit}
}

// Range selects [start, stop) with a step of one.
func Range(start, stop int) Slice {
	return Slice{Start: start, Stop: stop, Step: 1}
}

// Reverse selects every index in reverse order.
func Reverse() Slice {
	return Slice{Start: Omit, Stop: Omit, Step: -1}
}

// Empty is the canonical slice selecting nothing.
func Empty() Slice {
	return Slice{Start: 0, Stop: 0, Step: 1}
}

func (s Slice) String() string {
	return fmt.Sprintf("%s:%s:%s", bound(s.Start), bound(s.Stop), bound(s.Step))
}

func bound(v int) string {
	if v == Omit {
		return ""
	}
	return fmt.Sprintf("%d", v)
}

// Resolve normalises s against a dimension of the given length, following
// the usual sequence rules: negative bounds count from the end and
// out-of-range bounds are clamped rather than rejected. The returned stop is
// exclusive and may be -1 for a descending slice that runs through index 0.
func Resolve(s Slice, length int) (start, stop, step int, err error) {
	step = s.Step
	if step == Omit {
		step = 1
	}
	if step == 0 {
		return 0, 0, 0, ErrInvalidStep
	}

	lower, upper := 0, length
	if step < 0 {
		lower, upper = -1, length-1
	}

	if s.Start == Omit {
		if step > 0 {
			start = lower
		} else {
			start = upper
		}
	} else {
		start = clamp(s.Start, length, lower, upper)
	}

	if s.Stop == Omit {
		if step > 0 {
			stop = upper
		} else {
			stop = lower
		}
	} else {
		stop = clamp(s.Stop, length, lower, upper)
	}

	return start, stop, step, nil
}

func clamp(v, length, lower, upper int) int {
	if v < 0 {
		v += length
		if v < lower {
			v = lower
		}
		return v
	}
	if v > upper {
		v = upper
	}
	return v
}

// count is the number of indices selected by an already resolved slice.
func count(start, stop, step int) int {
	if (stop-start)*sign(step) <= 0 {
		return 0
	}
	if step > 0 {
		return (stop-start-1)/step + 1
	}
	return (start-stop-1)/(-step) + 1
}

func sign(v int) int {
	if v < 0 {
		return -1
	}
	return 1
}

// Len returns how many indices s selects from a dimension of the given length.
func Len(length int, s Slice) (int, error) {
	start, stop, step, err := Resolve(s, length)
	if err != nil {
		return 0, err
	}
	return count(start, stop, step), nil
}

// Indices materialises the indices s selects, in selection order.
func Indices(length int, s Slice) ([]int, error) {
	start, stop, step, err := Resolve(s, length)
	if err != nil {
		return nil, err
	}
	n := count(start, stop, step)
	out := make([]int, n)
	for i := range out {
		out[i] = start + i*step
	}
	return out, nil
}

// Compose returns the slice over the original index space that selects the
// same elements, in the same order, as applying first and then second to a
// dimension of the given length. An empty selection is returned as Empty().
func Compose(length int, first, second Slice) (Slice, error) {
	start1, stop1, step1, err := Resolve(first, length)
	if err != nil {
		return Slice{}, err
	}
	n1 := count(start1, stop1, step1)

	// second must still be validated even when first selects nothing
	start2, stop2, step2, err := Resolve(second, n1)
	if err != nil {
		return Slice{}, err
	}
	if n1 == 0 {
		return Empty(), nil
	}
	n2 := count(start2, stop2, step2)
	if n2 == 0 {
		return Empty(), nil
	}

	step := step1 * step2
	begin := start1 + start2*step1
	last := start1 + (start2+(n2-1)*step2)*step1
	end := last + step
	if end < 0 {
		// A negative stop would be read as counting from the end.
		end = Omit
	}
	return Slice{Start: begin, Stop: end, Step: step}, nil
}

// Ascending rewrites a resolved selection as (first, n, stride) with a
// positive stride, reading from the smallest physical index upwards. reversed
// reports whether the caller must reverse the ascending read to recover the
// requested order.
func Ascending(length int, s Slice) (first, n, stride int, reversed bool, err error) {
	start, stop, step, err := Resolve(s, length)
	if err != nil {
		return 0, 0, 0, false, err
	}
	n = count(start, stop, step)
	if n == 0 {
		return 0, 0, 1, false, nil
	}
	if step > 0 {
		return start, n, step, false, nil
	}
	return start + (n-1)*step, n, -step, true, nil
}
