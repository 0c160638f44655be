/*
Copyright (C) 2026 Hearth Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DeviceEntry is one configured playback endpoint. Validation happens in the
// registry so a bad entry skips that device without failing the whole file.
type DeviceEntry struct {
	Name    string `yaml:"name"`
	Address string `yaml:"address"`
}

type devicesFile struct {
	Devices []DeviceEntry `yaml:"devices"`
}

// LoadDevices reads the device list from a YAML file. The registry calls this
// on every scan cycle, so edits take effect without a restart.
func LoadDevices(path string) ([]DeviceEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read devices file: %w", err)
	}

	var parsed devicesFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parse devices file %s: %w", path, err)
	}

	return parsed.Devices, nil
}
