package entity

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/m-lange/puretools-remote/internal/puretools"
)

// InputLabelMap holds user labels keyed by option name (hdmi1..hdmi4).
// Missing or empty labels fall back to "HDMI n".
type InputLabelMap map[string]string

// LabelSource returns the current label map. Adapters call it on every
// refresh so option changes apply without rebuilding them.
type LabelSource func() InputLabelMap

// StaticLabels wraps a fixed label map
func StaticLabels(labels InputLabelMap) LabelSource {
	return func() InputLabelMap { return labels }
}

// OptionKey returns the option name for input n ("hdmi1")
func OptionKey(n int) string {
	return "hdmi" + strconv.Itoa(n)
}

// DefaultLabel returns the label used when no option is set ("HDMI 1")
func DefaultLabel(n int) string {
	return "HDMI " + strconv.Itoa(n)
}

// Label returns the display label for input n
func (m InputLabelMap) Label(n int) string {
	if label := m[OptionKey(n)]; label != "" {
		return label
	}
	return DefaultLabel(n)
}

// SourceList returns the four labels in input order
func (m InputLabelMap) SourceList() []string {
	list := make([]string, 0, puretools.InputCount)
	for n := 1; n <= puretools.InputCount; n++ {
		list = append(list, m.Label(n))
	}
	return list
}

// Resolve finds the input for a label. Inputs are checked in order 1..4 and
// an input matches on either its configured label or its default label, so
// "HDMI 2" always selects input 2 unless an earlier input is labelled
// "HDMI 2".
func (m InputLabelMap) Resolve(label string) (int, bool) {
	for n := 1; n <= puretools.InputCount; n++ {
		if configured := m[OptionKey(n)]; configured != "" && configured == label {
			return n, true
		}
		if label == DefaultLabel(n) {
			return n, true
		}
	}
	return 0, false
}

// ErrInvalidOption is returned by Validate
var ErrInvalidOption = errors.New("invalid input option")

// Validate rejects unknown option keys
func (m InputLabelMap) Validate() error {
	for key := range m {
		valid := false
		for n := 1; n <= puretools.InputCount; n++ {
			if key == OptionKey(n) {
				valid = true
				break
			}
		}
		if !valid {
			return fmt.Errorf("%w: unknown input option %q (expected hdmi1..hdmi%d)", ErrInvalidOption, key, puretools.InputCount)
		}
	}
	return nil
}

// Clone returns a copy that is safe to modify
func (m InputLabelMap) Clone() InputLabelMap {
	out := make(InputLabelMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
