package main

import (
	"fmt"
	"io"
	"math/bits"
	"os"
	"runtime"

	"github.com/emergingrobotics/go-saa716x/pkg/config"
	"github.com/emergingrobotics/go-saa716x/pkg/device"
	"github.com/emergingrobotics/go-saa716x/pkg/driver"
	"github.com/sirupsen/logrus"
)

// Version information (set by ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(argv []string, stdout, stderr io.Writer) int {
	if len(argv) < 1 {
		printUsage(stdout)
		return 0
	}

	cmd := argv[0]
	args := argv[1:]

	var err error
	switch cmd {
	case "scan":
		err = scanDevices(args, stdout)
	case "info":
		err = deviceInfo(args, stdout)
	case "run":
		err = runDevice(args, stdout, stderr)
	case "simulate":
		err = simulate(args, stdout, stderr)
	case "debug":
		err = printDebugInfo(args, stdout)
	case "version":
		printVersion(stdout)
	case "help", "--help", "-h":
		printUsage(stdout)
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", cmd)
		printUsage(stderr)
		return 1
	}

	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "SAA716x budget card DMA ring consumer")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: budgetctl <command> [options]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  scan                 Scan the PCI bus for SAA716x bridges")
	fmt.Fprintln(w, "  info <pci-address>   Show bridge information")
	fmt.Fprintln(w, "  run -config <path>   Consume the transport streams of a card bound to uio_pci_generic")
	fmt.Fprintln(w, "  simulate [options]   Run the consumer against simulated hardware")
	fmt.Fprintln(w, "  debug [-config path] Print the register map")
	fmt.Fprintln(w, "  version              Print version information")
	fmt.Fprintln(w, "  help                 Show this help")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "run only consumes rings. The BAM scatter-gather tables and the FGPI DMA")
	fmt.Fprintln(w, "start must already be programmed by the board setup; budgetctl never writes them.")
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "budgetctl version %s\n", Version)
	fmt.Fprintf(w, "  Build time: %s\n", BuildTime)
	fmt.Fprintf(w, "  Go version: %s\n", runtime.Version())
}

// loadConfig reads path, or returns the defaults when path is empty
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		c := config.Default()
		return &c, nil
	}
	return config.Load(path)
}

func newLogger(cfg *config.Config, w io.Writer) (*logrus.Logger, error) {
	l := logrus.New()
	l.Out = w
	if err := config.ConfigureLogger(l, cfg.Logging, cfg.Verbose); err != nil {
		return nil, err
	}
	return l, nil
}

func scanDevices(args []string, w io.Writer) error {
	fs := newFlagSet("scan")
	sysfs := fs.String("sysfs", "/sys/bus/pci/devices", "PCI devices directory")
	if err := fs.Parse(args); err != nil {
		return err
	}

	devices, err := device.NewScannerAt(*sysfs, "/dev").Scan()
	if err != nil {
		return fmt.Errorf("scanning devices: %w", err)
	}

	if len(devices) == 0 {
		fmt.Fprintln(w, "No SAA716x devices found")
		return nil
	}

	fmt.Fprintf(w, "Found %d SAA716x device(s):\n", len(devices))
	for i, dev := range devices {
		bound := dev.Driver
		if bound == "" {
			bound = "unbound"
		}
		fmt.Fprintf(w, "  [%d] %s %s subsystem %s (%s)\n", i, dev.Address, dev.Chip(), dev.Subsystem(), bound)
	}
	return nil
}

func deviceInfo(args []string, w io.Writer) error {
	fs := newFlagSet("info")
	sysfs := fs.String("sysfs", "/sys/bus/pci/devices", "PCI devices directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: budgetctl info <pci-address>")
	}
	addr := fs.Arg(0)
	if !device.IsValidAddress(addr) {
		return fmt.Errorf("%q is not a PCI address like 0000:01:00.0", addr)
	}

	dev, err := device.NewScannerAt(*sysfs, "/dev").Lookup(addr)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Device: %s\n", dev.Address)
	fmt.Fprintf(w, "  Bridge: %s (%04x:%04x)\n", dev.Chip(), dev.Vendor, dev.Device)
	fmt.Fprintf(w, "  Subsystem: %s\n", dev.Subsystem())
	fmt.Fprintf(w, "  Driver: %s\n", orNone(dev.Driver))
	fmt.Fprintf(w, "  UIO: %s\n", orNone(dev.UIO))
	if dev.Resource != "" {
		fmt.Fprintf(w, "  BAR0: %s (%d bytes)\n", dev.Resource, dev.ResourceSize)
	}
	return nil
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}

func printDebugInfo(args []string, w io.Writer) error {
	fs := newFlagSet("debug")
	path := fs.String("config", "", "Path to a config file or directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := loadConfig(*path)
	if err != nil {
		return err
	}
	m := cfg.Registers

	fmt.Fprintln(w, "Register Map")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "MSI interrupt block:")
	fmt.Fprintf(w, "  Status L/H:      0x%05x 0x%05x\n", m.StatusL, m.StatusH)
	fmt.Fprintf(w, "  Clear L/H:       0x%05x 0x%05x\n", m.ClearL, m.ClearH)
	fmt.Fprintf(w, "  Enable L/H:      0x%05x 0x%05x\n", m.EnableL, m.EnableH)
	fmt.Fprintf(w, "  Enable set L/H:  0x%05x 0x%05x\n", m.EnableSetL, m.EnableSetH)
	fmt.Fprintf(w, "  Enable clr L/H:  0x%05x 0x%05x\n", m.EnableClrL, m.EnableClrH)
	fmt.Fprintf(w, "  GREG module:     0x%05x\n", driver.ModuleGREG)
	fmt.Fprintln(w)
	fmt.Fprintf(w, "FGPI ports (write index = bits %d..%d of buffer mode):\n",
		m.WriteIdxShift, m.WriteIdxShift+uint32(bits.Len32(m.WriteIdxMask))-1)
	for port := uint32(0); port < cfg.FGPI.Ports; port++ {
		ch := port + cfg.FGPI.ChannelOffset
		fmt.Fprintf(w, "  FGPI %d: dma channel %2d, buffer mode 0x%05x, ack bit %d\n",
			port, ch, m.BufModeOffset(ch), cfg.FGPI.AckBits[port])
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Ring: %d segments of %d x %d bytes\n", cfg.Ring.Depth, cfg.Ring.PacketsPerSegment, cfg.Ring.PacketSize)
	return nil
}
