package puretools

import (
	"fmt"
	"strconv"
	"strings"
)

// Number of HDMI inputs on the 4x1 switcher.
const InputCount = 4

// Source is the active input as reported by /sysinfo.
type Source string

const (
	SourceHDMI1 Source = "HDMI1"
	SourceHDMI2 Source = "HDMI2"
	SourceHDMI3 Source = "HDMI3"
	SourceHDMI4 Source = "HDMI4"
)

// Input returns the input number (1-4) for the source. The second return
// value is false for anything the device should not report.
func (s Source) Input() (int, bool) {
	switch s {
	case SourceHDMI1:
		return 1, true
	case SourceHDMI2:
		return 2, true
	case SourceHDMI3:
		return 3, true
	case SourceHDMI4:
		return 4, true
	}
	return 0, false
}

// SourceForInput is the inverse of Source.Input.
func SourceForInput(n int) (Source, error) {
	if n < 1 || n > InputCount {
		return "", fmt.Errorf("%w: %d", ErrInvalidInput, n)
	}
	return Source("HDMI" + strconv.Itoa(n)), nil
}

// SysInfo is the /sysinfo payload.
type SysInfo struct {
	Model     string `json:"model"`
	SWVersion string `json:"sw_version"`
	Source    Source `json:"source"`
	Auto      bool   `json:"auto"`
}

// rawSysInfo is used to detect missing keys; a zero value is not the same as
// an absent field for "auto".
type rawSysInfo struct {
	Model     *string `json:"model"`
	SWVersion *string `json:"sw_version"`
	Source    *string `json:"source"`
	Auto      *bool   `json:"auto"`
}

func (r rawSysInfo) validate() (SysInfo, error) {
	var missing []string
	if r.Model == nil {
		missing = append(missing, "model")
	}
	if r.SWVersion == nil {
		missing = append(missing, "sw_version")
	}
	if r.Source == nil {
		missing = append(missing, "source")
	}
	if r.Auto == nil {
		missing = append(missing, "auto")
	}
	if len(missing) > 0 {
		return SysInfo{}, fmt.Errorf("missing keys: %s", strings.Join(missing, ", "))
	}
	return SysInfo{
		Model:     *r.Model,
		SWVersion: *r.SWVersion,
		Source:    Source(*r.Source),
		Auto:      *r.Auto,
	}, nil
}

// Ack is the acknowledgement body returned by command endpoints. Its shape
// is device specific and not inspected.
type Ack map[string]any

// Endpoint identifies a switcher on the network.
type Endpoint struct {
	Host string
	Port string
}

// BaseURL returns http://{host}:{port}.
func (e Endpoint) BaseURL() string {
	return "http://" + e.Host + ":" + e.Port
}

func (e Endpoint) String() string {
	return e.Host + ":" + e.Port
}

// ValidatePort checks that port is a TCP port number
func ValidatePort(port string) error {
	if p, err := strconv.Atoi(port); err != nil || p < 1 || p > 65535 {
		return fmt.Errorf("port must be a number between 1 and 65535 (got %s)", port)
	}
	return nil
}
