package device

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/emergingrobotics/go-saa716x/pkg/driver"
)

// DeviceInfo describes a bridge found on the PCI bus
type DeviceInfo struct {
	Address         string
	Vendor          uint16
	Device          uint16
	SubsystemVendor uint16
	SubsystemDevice uint16
	// Driver is the kernel driver bound to the function, empty when unbound
	Driver string
	// UIO is the /dev node when bound to uio_pci_generic
	UIO string
	// Resource is the sysfs file mapping BAR0
	Resource     string
	ResourceSize int64
}

// Chip returns the bridge name
func (d DeviceInfo) Chip() string {
	switch d.Device {
	case driver.PciDeviceSAA7160:
		return "SAA7160"
	case driver.PciDeviceSAA7162:
		return "SAA7162"
	case driver.PciDeviceSAA7164:
		return "SAA7164"
	}
	return fmt.Sprintf("%04x:%04x", d.Vendor, d.Device)
}

// Subsystem returns the board identifier as vendor:device
func (d DeviceInfo) Subsystem() string {
	return fmt.Sprintf("%04x:%04x", d.SubsystemVendor, d.SubsystemDevice)
}

// DeviceScanner finds SAA716x bridges in sysfs
type DeviceScanner struct {
	sysfsPath string
	devPath   string
}

// NewScanner creates a new device scanner
func NewScanner() *DeviceScanner {
	return &DeviceScanner{
		sysfsPath: "/sys/bus/pci/devices",
		devPath:   "/dev",
	}
}

// NewScannerAt creates a scanner over another sysfs and /dev root
func NewScannerAt(sysfsPath, devPath string) *DeviceScanner {
	return &DeviceScanner{sysfsPath: sysfsPath, devPath: devPath}
}

// Scan finds all SAA716x functions, sorted by address
func (s *DeviceScanner) Scan() ([]DeviceInfo, error) {
	if s.sysfsPath == "" {
		s.sysfsPath = "/sys/bus/pci/devices"
	}
	if s.devPath == "" {
		s.devPath = "/dev"
	}

	entries, err := os.ReadDir(s.sysfsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", s.sysfsPath, err)
	}

	var devices []DeviceInfo
	for _, entry := range entries {
		info, ok := s.probe(entry.Name())
		if ok {
			devices = append(devices, info)
		}
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].Address < devices[j].Address })
	return devices, nil
}

// Lookup returns the function at a PCI address such as 0000:01:00.0
func (s *DeviceScanner) Lookup(address string) (DeviceInfo, error) {
	if s.sysfsPath == "" {
		s.sysfsPath = "/sys/bus/pci/devices"
	}
	info, ok := s.probe(address)
	if !ok {
		return DeviceInfo{}, fmt.Errorf("%s: %w", address, ErrNoDevices)
	}
	return info, nil
}

func (s *DeviceScanner) probe(address string) (DeviceInfo, bool) {
	dir := filepath.Join(s.sysfsPath, address)

	vendor, err := readHex(filepath.Join(dir, "vendor"))
	if err != nil || vendor != driver.PciVendorNXP {
		return DeviceInfo{}, false
	}
	dev, err := readHex(filepath.Join(dir, "device"))
	if err != nil || !isSAA716x(dev) {
		return DeviceInfo{}, false
	}

	info := DeviceInfo{
		Address: address,
		Vendor:  vendor,
		Device:  dev,
	}
	info.SubsystemVendor, _ = readHex(filepath.Join(dir, "subsystem_vendor"))
	info.SubsystemDevice, _ = readHex(filepath.Join(dir, "subsystem_device"))

	if target, err := os.Readlink(filepath.Join(dir, "driver")); err == nil {
		info.Driver = filepath.Base(target)
	}

	if uios, err := os.ReadDir(filepath.Join(dir, "uio")); err == nil {
		for _, u := range uios {
			if strings.HasPrefix(u.Name(), "uio") {
				info.UIO = filepath.Join(s.devPath, u.Name())
				break
			}
		}
	}

	res := filepath.Join(dir, "resource0")
	if fi, err := os.Stat(res); err == nil {
		info.Resource = res
		info.ResourceSize = fi.Size()
	}
	return info, true
}

func isSAA716x(dev uint16) bool {
	switch dev {
	case driver.PciDeviceSAA7160, driver.PciDeviceSAA7162, driver.PciDeviceSAA7164:
		return true
	}
	return false
}

// readHex parses a sysfs id attribute such as "0x1131\n"
func readHex(path string) (uint16, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(strings.TrimPrefix(strings.TrimSpace(string(b)), "0x"), 16, 16)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", path, err)
	}
	return uint16(v), nil
}

// Scan uses the default scanner to find all SAA716x devices
func Scan() ([]DeviceInfo, error) {
	return NewScanner().Scan()
}

// IsValidAddress checks the domain:bus:slot.function form of a PCI address
func IsValidAddress(addr string) bool {
	var domain, bus, slot, fn uint
	n, err := fmt.Sscanf(addr, "%4x:%2x:%2x.%1x", &domain, &bus, &slot, &fn)
	return err == nil && n == 4 && len(addr) == 12 && slot < 32 && fn < 8
}
