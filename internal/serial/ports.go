// internal/serial/ports.go
package serial

import (
	"errors"
	"fmt"

	"go.bug.st/serial/enumerator"
)

// ErrNoDevices is returned when no serial device is present
var ErrNoDevices = errors.New("no serial devices available")

// PortInfo describes one enumerated serial device
type PortInfo struct {
	Path         string `json:"path"`
	IsUSB        bool   `json:"is_usb"`
	VendorID     string `json:"vendor_id,omitempty"`
	ProductID    string `json:"product_id,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`
}

// listDetailed is swapped in tests
var listDetailed = enumerator.GetDetailedPortsList

// ListPorts enumerates the serial devices present on the host
func ListPorts() ([]PortInfo, error) {
	details, err := listDetailed()
	if err != nil {
		return nil, fmt.Errorf("failed to get serial ports: %w", err)
	}

	ports := make([]PortInfo, 0, len(details))
	for _, d := range details {
		ports = append(ports, PortInfo{
			Path:         d.Name,
			IsUSB:        d.IsUSB,
			VendorID:     d.VID,
			ProductID:    d.PID,
			SerialNumber: d.SerialNumber,
		})
	}
	return ports, nil
}

// DefaultPath picks the device used when none is configured: the first
// one enumerated
func DefaultPath(ports []PortInfo) (string, error) {
	if len(ports) == 0 {
		return "", ErrNoDevices
	}
	return ports[0].Path, nil
}

// Description renders the identifying fields of a device for listings
func (p PortInfo) Description() string {
	if !p.IsUSB {
		return p.Path
	}
	desc := fmt.Sprintf("%s (%s:%s", p.Path, p.VendorID, p.ProductID)
	if p.SerialNumber != "" {
		desc += ", " + p.SerialNumber
	}
	return desc + ")"
}
