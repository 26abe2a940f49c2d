package config

import (
	"github.com/emergingrobotics/go-saa716x/pkg/driver"
	"go.yaml.in/yaml/v3"
)

// InterruptMode is int_type. Both the names and the old 0/1/2 values are accepted.
type InterruptMode driver.InterruptMode

// Mode returns the driver value
func (m InterruptMode) Mode() driver.InterruptMode {
	return driver.InterruptMode(m)
}

func (m InterruptMode) String() string {
	return m.Mode().String()
}

// UnmarshalYAML implements yaml.Unmarshaler
func (m *InterruptMode) UnmarshalYAML(value *yaml.Node) error {
	mode, err := driver.ParseInterruptMode(value.Value)
	if err != nil {
		return err
	}
	*m = InterruptMode(mode)
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (m InterruptMode) MarshalYAML() (any, error) {
	return m.String(), nil
}
