package testutil

import "time"

// DeviceCall records a request received by a FakeSwitcher
type DeviceCall struct {
	Timestamp time.Time
	Path      string
}

// Paths returns the request paths in the order they were received
func Paths(calls []DeviceCall) []string {
	paths := make([]string, 0, len(calls))
	for _, call := range calls {
		paths = append(paths, call.Path)
	}
	return paths
}

// FilterDeviceCalls keeps only calls to the given path
func FilterDeviceCalls(calls []DeviceCall, path string) []DeviceCall {
	var filtered []DeviceCall
	for _, call := range calls {
		if call.Path == path {
			filtered = append(filtered, call)
		}
	}
	return filtered
}

// CommandPaths drops /sysinfo polls, leaving only commands
func CommandPaths(calls []DeviceCall) []string {
	var paths []string
	for _, call := range calls {
		if call.Path != "/sysinfo" {
			paths = append(paths, call.Path)
		}
	}
	return paths
}
