package serial

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSortPorts(t *testing.T) {
	ports := []PortInfo{
		{Name: "/dev/ttyS1"},
		{Name: "/dev/ttyUSB1", IsUSB: true},
		{Name: "/dev/ttyS0"},
		{Name: "/dev/ttyUSB0", IsUSB: true},
	}
	SortPorts(ports)

	var names []string
	for _, p := range ports {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{"/dev/ttyUSB0", "/dev/ttyUSB1", "/dev/ttyS0", "/dev/ttyS1"}, names)
}

func TestLabel(t *testing.T) {
	assert.Equal(t, "/dev/ttyS0", PortInfo{Name: "/dev/ttyS0"}.Label())
	assert.Equal(t,
		"/dev/ttyUSB0 [USB 0403:6001 sn=A50285BI FT232R USB UART]",
		PortInfo{Name: "/dev/ttyUSB0", IsUSB: true, VID: "0403", PID: "6001",
			SerialNumber: "A50285BI", Product: "FT232R USB UART"}.Label())
}

func TestOpenMissingDevice(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "ttyNOPE"), 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ttyNOPE")
}
