// Package usbrecovery implements the ordered, increasingly invasive
// host-side USB reset procedures used when the serial link cannot
// re-enumerate on its own. Every procedure is defensive against missing
// sysfs pseudo-files (unsupported platforms, permissions) and never
// panics.
package usbrecovery

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Result is the outcome of one recovery procedure. Procedures are
// identified by name rather than a numeric rung index: the ordered set
// of rungs can gain or lose a procedure over time, and a name survives
// that where an index silently shifts meaning.
type Result struct {
	Success     bool
	Procedure   string
	Message     string
	DeviceFound bool
}

// Paths locates the sysfs surfaces each procedure touches. All fields
// are optional; a missing path degrades the matching procedure to a
// harmless no-op rather than an error.
type Paths struct {
	USBDeviceDir      string   // e.g. /sys/bus/usb/devices/1-2
	USBBusRoots       []string // authorized_default toggling targets, one per host bus
	HostControllerPCI string   // e.g. /sys/bus/pci/devices/0000:00:14.0
}

// DiscoverPaths fills in the sysfs surfaces for a connected device: its
// own sysfs directory, every USB root hub on the host, and the PCI
// address of the host controller that owns the device, resolved by
// walking up the device's sysfs ancestry.
func DiscoverPaths(deviceDir string) Paths {
	p := Paths{USBDeviceDir: deviceDir}
	if roots, err := filepath.Glob("/sys/bus/usb/devices/usb[0-9]*"); err == nil {
		p.USBBusRoots = roots
	}
	if deviceDir == "" {
		return p
	}
	resolved, err := filepath.EvalSymlinks(deviceDir)
	if err != nil {
		return p
	}
	for dir := filepath.Dir(resolved); dir != "/" && dir != "."; dir = filepath.Dir(dir) {
		if looksLikePCIAddr(filepath.Base(dir)) {
			p.HostControllerPCI = filepath.Join("/sys/bus/pci/devices", filepath.Base(dir))
			break
		}
	}
	return p
}

// looksLikePCIAddr matches the domain:bus:device.function form, e.g.
// 0000:00:14.0.
func looksLikePCIAddr(name string) bool {
	return len(name) == 12 && name[4] == ':' && name[7] == ':' && name[10] == '.'
}

func writeFile(path, value string) error {
	if path == "" {
		return fmt.Errorf("usbrecovery: no path configured")
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("usbrecovery: %s: %w", path, err)
	}
	return os.WriteFile(path, []byte(value), 0o200)
}

// AuthorizeToggle (level 1): write 0 then, after a short delay, 1 to the
// device's authorization pseudo-file. Power is left untouched.
func AuthorizeToggle(p Paths, delay time.Duration) Result {
	const name = "authorize-toggle"
	path := filepath.Join(p.USBDeviceDir, "authorized")
	if err := writeFile(path, "0"); err != nil {
		return Result{Procedure: name, Message: err.Error()}
	}
	time.Sleep(delay)
	if err := writeFile(path, "1"); err != nil {
		return Result{Procedure: name, Message: err.Error()}
	}
	return Result{Success: true, Procedure: name, Message: "authorization toggled"}
}

// RemoveAndRescan (level 2): write 1 to the device's remove pseudo-file;
// after a delay, toggle authorized_default on each configured bus root
// to trigger re-enumeration.
func RemoveAndRescan(p Paths, delay time.Duration) Result {
	const name = "remove-and-rescan"
	removePath := filepath.Join(p.USBDeviceDir, "remove")
	if err := writeFile(removePath, "1"); err != nil {
		return Result{Procedure: name, Message: err.Error()}
	}
	time.Sleep(delay)

	var lastErr error
	for _, bus := range p.USBBusRoots {
		adPath := filepath.Join(bus, "authorized_default")
		if err := writeFile(adPath, "0"); err != nil {
			lastErr = err
			continue
		}
		if err := writeFile(adPath, "1"); err != nil {
			lastErr = err
		}
	}
	if lastErr != nil && len(p.USBBusRoots) > 0 {
		return Result{Procedure: name, Message: lastErr.Error()}
	}
	return Result{Success: true, Procedure: name, Message: "removed and bus rescanned"}
}

// HostControllerRebind (level 3): unbind the xHCI host controller PCI
// address owning the bus, wait, then rebind it.
func HostControllerRebind(p Paths, delay time.Duration) Result {
	const name = "host-controller-rebind"
	if p.HostControllerPCI == "" {
		return Result{Procedure: name, Message: "no host controller configured"}
	}
	driverDir := filepath.Join(filepath.Dir(p.HostControllerPCI), "..", "drivers", "xhci_hcd")
	pciAddr := filepath.Base(p.HostControllerPCI)

	if err := writeFile(filepath.Join(driverDir, "unbind"), pciAddr); err != nil {
		return Result{Procedure: name, Message: err.Error()}
	}
	time.Sleep(delay)
	if err := writeFile(filepath.Join(driverDir, "bind"), pciAddr); err != nil {
		return Result{Procedure: name, Message: err.Error()}
	}
	return Result{Success: true, Procedure: name, Message: "host controller rebound"}
}

// DeepestPCIPowerState (level 4): remove the host controller PCI device
// entirely, wait tens of seconds, then trigger a PCI bus rescan.
func DeepestPCIPowerState(p Paths, delay time.Duration) Result {
	const name = "deepest-pci-power-state"
	if p.HostControllerPCI == "" {
		return Result{Procedure: name, Message: "no host controller configured"}
	}
	if err := writeFile(filepath.Join(p.HostControllerPCI, "remove"), "1"); err != nil {
		return Result{Procedure: name, Message: err.Error()}
	}
	time.Sleep(delay)
	if err := writeFile("/sys/bus/pci/rescan", "1"); err != nil {
		return Result{Procedure: name, Message: err.Error()}
	}
	return Result{Success: true, Procedure: name, Message: "pci bus rescanned"}
}

// MultiCycle (level 5): repeatedly attempt DeepestPCIPowerState and
// HostControllerRebind with increasing delays.
func MultiCycle(p Paths, baseDelay time.Duration, cycles int) Result {
	const name = "multi-cycle"
	for i := 0; i < cycles; i++ {
		delay := baseDelay * time.Duration(i+1)
		if r := DeepestPCIPowerState(p, delay); r.Success {
			return Result{Success: true, Procedure: name, Message: fmt.Sprintf("pci power cycle succeeded on attempt %d", i+1)}
		}
		if r := HostControllerRebind(p, delay); r.Success {
			return Result{Success: true, Procedure: name, Message: fmt.Sprintf("host controller rebind succeeded on attempt %d", i+1)}
		}
	}
	return Result{Procedure: name, Message: "exhausted multi-cycle attempts"}
}

// RuntimePMCycle (level 6): force the controller to autosuspend
// immediately, wait, then restore it to "on".
func RuntimePMCycle(p Paths, delay time.Duration) Result {
	const name = "runtime-pm-cycle"
	if p.HostControllerPCI == "" {
		return Result{Procedure: name, Message: "no host controller configured"}
	}
	base := filepath.Join(p.HostControllerPCI, "power")
	if err := writeFile(filepath.Join(base, "autosuspend_delay_ms"), "0"); err != nil {
		return Result{Procedure: name, Message: err.Error()}
	}
	if err := writeFile(filepath.Join(base, "control"), "auto"); err != nil {
		return Result{Procedure: name, Message: err.Error()}
	}
	time.Sleep(delay)
	if err := writeFile(filepath.Join(base, "control"), "on"); err != nil {
		return Result{Procedure: name, Message: err.Error()}
	}
	return Result{Success: true, Procedure: name, Message: "runtime pm cycled"}
}

// Delays parameterizes how long each procedure waits between its steps;
// callers in production use values ranging ~1s-~60s.
type Delays struct {
	Authorize      time.Duration
	RemoveRescan   time.Duration
	HostRebind     time.Duration
	PCIPowerState  time.Duration
	MultiCycleBase time.Duration
	RuntimePM      time.Duration
}

// DefaultDelays sits at the conservative end of that range.
func DefaultDelays() Delays {
	return Delays{
		Authorize:      1 * time.Second,
		RemoveRescan:   2 * time.Second,
		HostRebind:     5 * time.Second,
		PCIPowerState:  30 * time.Second,
		MultiCycleBase: 10 * time.Second,
		RuntimePM:      3 * time.Second,
	}
}

// ProbeFunc reports whether a matching device is present after a
// procedure has run, letting Auto/Ultimate decide when to stop
// escalating.
type ProbeFunc func() bool

// Auto runs procedures 1..n in order, stopping at the first one whose
// result reports DeviceFound=true (determined via probe); otherwise it
// returns the last procedure's failure result.
func Auto(p Paths, d Delays, probe ProbeFunc, n int) Result {
	procs := ladder(p, d)
	if n <= 0 || n > len(procs) {
		n = len(procs)
	}
	var last Result
	for i := 0; i < n; i++ {
		last = procs[i]()
		last.DeviceFound = probe != nil && probe()
		if last.DeviceFound {
			return last
		}
	}
	return last
}

// Ultimate sequences all six procedures in increasing invasiveness,
// stopping early the moment the device reappears.
func Ultimate(p Paths, d Delays, probe ProbeFunc) Result {
	return Auto(p, d, probe, 0)
}

func ladder(p Paths, d Delays) []func() Result {
	return []func() Result{
		func() Result { return AuthorizeToggle(p, d.Authorize) },
		func() Result { return RemoveAndRescan(p, d.RemoveRescan) },
		func() Result { return HostControllerRebind(p, d.HostRebind) },
		func() Result { return DeepestPCIPowerState(p, d.PCIPowerState) },
		func() Result { return MultiCycle(p, d.MultiCycleBase, 3) },
		func() Result { return RuntimePMCycle(p, d.RuntimePM) },
	}
}
