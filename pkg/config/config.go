// Package config replaces the budget driver module parameters and board
// tables with a YAML file describing one card.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/emergingrobotics/go-saa716x/pkg/driver"
	"github.com/emergingrobotics/go-saa716x/pkg/stats"
	"go.yaml.in/yaml/v3"
)

// Config describes one card and how its rings are consumed
type Config struct {
	Verbose   int                `yaml:"verbose"`
	IntType   InterruptMode      `yaml:"int_type"`
	Ring      Ring               `yaml:"ring"`
	FGPI      FGPI               `yaml:"fgpi"`
	Adapters  []Adapter          `yaml:"adapters"`
	Workers   int                `yaml:"workers"`
	Registers driver.RegisterMap `yaml:"registers"`
	Device    Device             `yaml:"device"`
	Logging   Logging            `yaml:"logging"`
	Stats     stats.Config       `yaml:"stats"`
}

// Ring is the geometry shared by every FGPI ring
type Ring struct {
	Depth             uint32 `yaml:"depth"`
	PacketSize        int    `yaml:"packet_size"`
	PacketsPerSegment int    `yaml:"packets_per_segment"`
	PageSize          uint32 `yaml:"page_size"`
}

// Payload is the number of bytes handed to a sink per segment
func (r Ring) Payload() int {
	return r.PacketSize * r.PacketsPerSegment
}

// FGPI places the transport stream ports on the DMA channels and
// interrupt bits of the bridge
type FGPI struct {
	Ports         uint32 `yaml:"ports"`
	ChannelOffset uint32 `yaml:"channel_offset"`
	AckBits       []uint `yaml:"ack_bits"`
}

// AckMask returns the interrupt bit of port
func (f FGPI) AckMask(port uint32) uint32 {
	return 1 << f.AckBits[port]
}

// Adapter is one frontend and the port feeding it
type Adapter struct {
	Name   string `yaml:"name"`
	TSPort uint32 `yaml:"ts_port"`
	Output string `yaml:"output"`
}

// Device locates the card when bound to uio_pci_generic
type Device struct {
	UIO          string `yaml:"uio"`
	Resource     string `yaml:"resource"`
	ResourceSize int    `yaml:"resource_size"`
	// Udmabuf is the sysfs directory of a u-dma-buf holding all rings
	Udmabuf string `yaml:"udmabuf"`
}

// Logging configures the logrus logger
type Logging struct {
	Level            string `yaml:"level"`
	Format           string `yaml:"format"`
	DisableTimestamp bool   `yaml:"disable_timestamp"`
	TimestampFormat  string `yaml:"timestamp_format"`
}

// Default returns the layout of an SAA7160 budget card with one adapter on FGPI 1
func Default() Config {
	return Config{
		Ring: Ring{
			Depth:             driver.DefaultRingDepth,
			PacketSize:        driver.TSPacketSize,
			PacketsPerSegment: driver.DefaultPacketsPerSeg,
			PageSize:          driver.PageSize,
		},
		FGPI: FGPI{
			Ports:         driver.FgpiPorts,
			ChannelOffset: driver.FgpiDmaChannelBase,
			AckBits:       []uint{6, 7, 8, 9},
		},
		Adapters:  []Adapter{{Name: "adapter0", TSPort: 1}},
		Workers:   2,
		Registers: driver.DefaultRegisterMap(),
		Device: Device{
			UIO: "/dev/uio0",
		},
		Logging: Logging{
			Level:  "info",
			Format: "text",
		},
		Stats: stats.Config{
			Type:      "none",
			Listen:    ":9102",
			Path:      "/metrics",
			Namespace: "saa716x",
			Interval:  10 * time.Second,
		},
	}
}

// Load reads path, a yaml file or a directory of them merged in lexical
// order, and fills what is left unset from Default. Within a directory a
// later file cannot reset a key an earlier file set to a zero value.
func Load(path string) (*Config, error) {
	files, err := resolve(path)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no config files found at %s", path)
	}

	var m map[string]any
	for _, f := range files {
		b, err := os.ReadFile(f)
		if err != nil {
			return nil, err
		}

		var nm map[string]any
		if err := yaml.Unmarshal(b, &nm); err != nil {
			return nil, fmt.Errorf("%s: %w", f, err)
		}
		if nm == nil {
			nm = map[string]any{}
		}

		// Later files win; adapters in separate files are appended together
		if err := mergo.Merge(&nm, m, mergo.WithAppendSlice); err != nil {
			return nil, fmt.Errorf("%s: %w", f, err)
		}
		m = nm
	}

	raw, err := yaml.Marshal(m)
	if err != nil {
		return nil, err
	}
	return parse(raw)
}

// LoadString parses a single yaml document
func LoadString(raw string) (*Config, error) {
	if raw == "" {
		return nil, errors.New("empty configuration")
	}
	return parse([]byte(raw))
}

func parse(raw []byte) (*Config, error) {
	// Decoding over the defaults keeps an explicit zero, such as
	// channel_offset: 0, instead of treating it as unset
	c := Default()
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func resolve(path string) ([]string, error) {
	path, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !fi.IsDir() {
		return []string{path}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("problem while reading directory %s: %w", path, err)
	}
	var files []string
	for _, e := range entries {
		ext := filepath.Ext(e.Name())
		if !e.IsDir() && (ext == ".yaml" || ext == ".yml") {
			files = append(files, filepath.Join(path, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// Validate checks the configuration for a card that can be probed
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	if c.Ring.Depth < 2 {
		add("ring.depth %d: need at least 2 segments", c.Ring.Depth)
	}
	if c.Ring.Depth-1 > c.Registers.WriteIdxMask {
		add("ring.depth %d cannot be addressed by write index mask 0x%x", c.Ring.Depth, c.Registers.WriteIdxMask)
	}
	if c.Ring.PacketSize <= 0 || c.Ring.PacketsPerSegment <= 0 {
		add("ring payload %d x %d must be positive", c.Ring.PacketSize, c.Ring.PacketsPerSegment)
	}
	if c.Ring.PageSize == 0 || c.Ring.PageSize&(c.Ring.PageSize-1) != 0 {
		add("ring.page_size %d is not a power of two", c.Ring.PageSize)
	}

	if c.FGPI.Ports < 1 || c.FGPI.Ports > driver.MaxDmaChannels {
		add("fgpi.ports %d out of range 1..%d", c.FGPI.Ports, driver.MaxDmaChannels)
	}
	if c.FGPI.ChannelOffset+c.FGPI.Ports > driver.MaxDmaChannels {
		add("fgpi.channel_offset %d leaves no room for %d ports", c.FGPI.ChannelOffset, c.FGPI.Ports)
	}
	if uint32(len(c.FGPI.AckBits)) != c.FGPI.Ports {
		add("fgpi.ack_bits has %d entries for %d ports", len(c.FGPI.AckBits), c.FGPI.Ports)
	}
	seenBits := map[uint]bool{}
	for _, b := range c.FGPI.AckBits {
		if b >= 32 {
			add("fgpi.ack_bits: bit %d is not in the low status word", b)
		}
		if seenBits[b] {
			add("fgpi.ack_bits: bit %d used twice", b)
		}
		seenBits[b] = true
	}

	seenPorts := map[uint32]int{}
	for i, a := range c.Adapters {
		if a.TSPort >= c.FGPI.Ports {
			add("adapters[%d].ts_port %d out of range", i, a.TSPort)
		}
		if prev, ok := seenPorts[a.TSPort]; ok {
			add("adapters[%d] and adapters[%d] both use ts_port %d", prev, i, a.TSPort)
		}
		seenPorts[a.TSPort] = i
	}

	if c.Workers < 1 {
		add("workers %d: need at least one", c.Workers)
	}
	if err := c.Registers.Validate(); err != nil {
		add("registers: %v", err)
	}
	if err := c.Stats.Validate(); err != nil {
		add("%v", err)
	}
	if _, err := ParseLevel(c.Logging.Level); err != nil {
		add("%v", err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// AdapterName returns the name of adapter i
func (c *Config) AdapterName(i int) string {
	if c.Adapters[i].Name != "" {
		return c.Adapters[i].Name
	}
	return fmt.Sprintf("adapter%d", i)
}
