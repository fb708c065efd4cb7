package portscan

import "github.com/onionrecon/core/internal/storage"

// quickPorts covers the handful of services a hidden service is most
// likely to expose directly.
var quickPorts = []int{22, 80, 443, 8080, 8333}

// standardPorts extends quickPorts with the common application/database
// ports worth a look on a standard scan.
var standardPorts = append(append([]int{}, quickPorts...),
	21, 25, 53, 110, 143, 993, 995, 3000, 3306, 5432, 6379, 8443, 9050, 9051,
)

// fullPorts extends standardPorts with the long tail covered by a full scan.
var fullPorts = append(append([]int{}, standardPorts...),
	23, 69, 111, 135, 139, 445, 1433, 1521, 2049, 2375, 5000, 5601, 5900,
	6000, 6667, 7000, 7001, 8081, 8888, 9000, 9200, 9300, 11211, 27017, 50000,
)

// PortsFor returns the port list for a scan profile, defaulting to the
// standard profile for an unrecognized value.
func PortsFor(profile storage.Profile) []int {
	switch profile {
	case storage.ProfileQuick:
		return quickPorts
	case storage.ProfileFull:
		return fullPorts
	default:
		return standardPorts
	}
}
