package deployment

// =============================================================================
// Port Selection Functions
// =============================================================================

// UsedPorts collects the labeled host ports from a set of container label maps.
// Containers without a valid port label are ignored.
func UsedPorts(labelSets []map[string]string) map[int]struct{} {
	used := make(map[int]struct{}, len(labelSets))
	for _, labels := range labelSets {
		if port, ok := PortFromLabels(labels); ok {
			used[port] = struct{}{}
		}
	}
	return used
}

// NextFreePort returns the first port at or above candidate that is not in used.
//
// Example:
//
//	used := map[int]struct{}{3001: {}, 3002: {}}
//	NextFreePort(3001, used) // returns 3003
func NextFreePort(candidate int, used map[int]struct{}) int {
	for {
		if _, taken := used[candidate]; !taken {
			return candidate
		}
		candidate++
	}
}
