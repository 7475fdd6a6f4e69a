package serial

import (
	"sort"

	"go.bug.st/serial/enumerator"
)

// PortInfo describes a serial device a board console may sit on.
type PortInfo struct {
	Name         string
	IsUSB        bool
	VID          string
	PID          string
	SerialNumber string
	Product      string
}

// ListPorts returns the serial devices present on this host, USB adapters
// first, then by name.
func ListPorts() ([]PortInfo, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, err
	}

	result := make([]PortInfo, 0, len(ports))
	for _, p := range ports {
		result = append(result, PortInfo{
			Name:         p.Name,
			IsUSB:        p.IsUSB,
			VID:          p.VID,
			PID:          p.PID,
			SerialNumber: p.SerialNumber,
			Product:      p.Product,
		})
	}
	SortPorts(result)
	return result, nil
}

// SortPorts orders ports USB first, then by name.
func SortPorts(ports []PortInfo) {
	sort.SliceStable(ports, func(i, j int) bool {
		if ports[i].IsUSB != ports[j].IsUSB {
			return ports[i].IsUSB
		}
		return ports[i].Name < ports[j].Name
	})
}

// Label renders a one-line description for listings.
func (p PortInfo) Label() string {
	if !p.IsUSB {
		return p.Name
	}
	label := p.Name + " [USB " + p.VID + ":" + p.PID
	if p.SerialNumber != "" {
		label += " sn=" + p.SerialNumber
	}
	if p.Product != "" {
		label += " " + p.Product
	}
	return label + "]"
}
