package usbrecovery

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writable(t *testing.T, dir, name string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte("1"), 0o644))
	return p
}

func TestAuthorizeToggleMissingPathIsNoPanic(t *testing.T) {
	r := AuthorizeToggle(Paths{}, time.Millisecond)
	require.False(t, r.Success)
	require.Equal(t, "authorize-toggle", r.Procedure)
}

func TestAuthorizeToggleWritesBothValues(t *testing.T) {
	dir := t.TempDir()
	writable(t, dir, "authorized")
	r := AuthorizeToggle(Paths{USBDeviceDir: dir}, time.Millisecond)
	require.True(t, r.Success)
	contents, err := os.ReadFile(filepath.Join(dir, "authorized"))
	require.NoError(t, err)
	require.Equal(t, "1", string(contents))
}

func TestRemoveAndRescanNoBusRootsStillSucceeds(t *testing.T) {
	dir := t.TempDir()
	writable(t, dir, "remove")
	r := RemoveAndRescan(Paths{USBDeviceDir: dir}, time.Millisecond)
	require.True(t, r.Success)
}

func TestHostControllerRebindRequiresConfiguredPCI(t *testing.T) {
	r := HostControllerRebind(Paths{}, time.Millisecond)
	require.False(t, r.Success)
	require.Equal(t, "host-controller-rebind", r.Procedure)
}

func TestDeepestPCIPowerStateRequiresConfiguredPCI(t *testing.T) {
	r := DeepestPCIPowerState(Paths{}, time.Millisecond)
	require.False(t, r.Success)
}

func TestRuntimePMCycleRequiresConfiguredPCI(t *testing.T) {
	r := RuntimePMCycle(Paths{}, time.Millisecond)
	require.False(t, r.Success)
}

func TestMultiCycleExhaustsWithoutConfiguredPCI(t *testing.T) {
	r := MultiCycle(Paths{}, time.Millisecond, 2)
	require.False(t, r.Success)
	require.Equal(t, "multi-cycle", r.Procedure)
}

func TestLooksLikePCIAddr(t *testing.T) {
	require.True(t, looksLikePCIAddr("0000:00:14.0"))
	require.False(t, looksLikePCIAddr("usb1"))
	require.False(t, looksLikePCIAddr("1-2:1.0"))
	require.False(t, looksLikePCIAddr(""))
}

func TestDiscoverPathsEmptyDeviceDir(t *testing.T) {
	p := DiscoverPaths("")
	require.Empty(t, p.USBDeviceDir)
	require.Empty(t, p.HostControllerPCI)
}

func TestAutoStopsAtFirstDeviceFound(t *testing.T) {
	dir := t.TempDir()
	writable(t, dir, "authorized")
	calls := 0
	probe := func() bool {
		calls++
		return calls == 1
	}
	r := Auto(Paths{USBDeviceDir: dir}, DefaultDelays(), probe, 0)
	require.True(t, r.DeviceFound)
	require.Equal(t, "authorize-toggle", r.Procedure)
	require.Equal(t, 1, calls)
}

func TestAutoRunsAllLevelsWhenNeverFound(t *testing.T) {
	probe := func() bool { return false }
	r := Ultimate(Paths{}, Delays{}, probe)
	require.False(t, r.DeviceFound)
	require.Equal(t, "runtime-pm-cycle", r.Procedure)
}

func TestAutoClampsOutOfRangeN(t *testing.T) {
	probe := func() bool { return false }
	r := Auto(Paths{}, Delays{}, probe, 99)
	require.Equal(t, "runtime-pm-cycle", r.Procedure)
}
