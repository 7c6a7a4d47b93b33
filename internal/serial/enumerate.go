package serial

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// PortInfo describes one candidate CDC serial endpoint discovered on the
// host.
type PortInfo struct {
	Path         string
	Manufacturer string
	VendorID     uint16
	ProductID    uint16
	// SysfsDevice is the USB device's sysfs directory, e.g.
	// /sys/bus/usb/devices/1-2, used by the recovery ladder.
	SysfsDevice string
}

// IsM8 reports whether this port matches the configured vendor/product
// pair.
func (p PortInfo) IsM8(vendorID uint16, productIDs []uint16) bool {
	if p.VendorID != vendorID {
		return false
	}
	for _, pid := range productIDs {
		if p.ProductID == pid {
			return true
		}
	}
	return false
}

// EnumeratePorts walks /sys/class/tty looking for USB CDC ACM devices and
// reads their vendor/product identification from sysfs. Devices it
// cannot positively identify are still returned with zeroed ids so the
// caller can decide whether to treat them as candidates.
func EnumeratePorts() ([]PortInfo, error) {
	const ttyClass = "/sys/class/tty"
	entries, err := os.ReadDir(ttyClass)
	if err != nil {
		return nil, err
	}

	var out []PortInfo
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "ttyACM") && !strings.HasPrefix(name, "ttyUSB") {
			continue
		}
		devDir, err := filepath.EvalSymlinks(filepath.Join(ttyClass, name, "device"))
		if err != nil {
			continue
		}
		// ttyACM*/device -> .../<iface>; the USB device itself is one
		// level up for a CDC ACM interface. ttyUSB*/device points one
		// level deeper (.../<iface>/ttyUSBn), so it is two levels up.
		usbDir := filepath.Dir(devDir)
		if strings.HasPrefix(name, "ttyUSB") {
			usbDir = filepath.Dir(usbDir)
		}

		info := PortInfo{Path: filepath.Join("/dev", name), SysfsDevice: usbDir}
		info.VendorID = readHex16(filepath.Join(usbDir, "idVendor"))
		info.ProductID = readHex16(filepath.Join(usbDir, "idProduct"))
		info.Manufacturer = readTrimmed(filepath.Join(usbDir, "manufacturer"))
		out = append(out, info)
	}
	return out, nil
}

func readHex16(path string) uint16 {
	s := readTrimmed(path)
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0
	}
	return uint16(v)
}

func readTrimmed(path string) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}
