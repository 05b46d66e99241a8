package main

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	defaultQEMU         = "qemu-system-x86_64"
	defaultGrubMkrescue = "grub-mkrescue"
	defaultMemory       = "128M"
	defaultKernel       = "build/kernel-x86_64.bin"
	defaultTimeout      = 30 * time.Second
)

// duration wraps time.Duration so it can be decoded from TOML strings such
// as "30s".
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// Set implements flag.Value.
func (d *duration) Set(s string) error {
	return d.UnmarshalText([]byte(s))
}

// config is the configuration for the QEMU runner. Values set by command line
// flags take precedence over the ones loaded from the configuration file.
type config struct {
	// QEMU is the path to the qemu-system-x86_64 binary.
	QEMU string `toml:"qemu"`
	// GrubMkrescue is the path to the tool used to build bootable images.
	GrubMkrescue string `toml:"grub_mkrescue"`
	// Memory is the amount of guest memory passed to QEMU's -m flag.
	Memory string `toml:"memory"`
	// Kernel is the path to the multiboot2 kernel image.
	Kernel string `toml:"kernel"`
	// ExtraArgs are appended verbatim to the QEMU command line.
	ExtraArgs []string `toml:"extra_args"`
	// Timeout bounds the runtime of the test command.
	Timeout duration `toml:"timeout"`
	// SerialLog, if set, receives a copy of the guest serial output.
	SerialLog string `toml:"serial_log"`
}

// defaultConfig returns the configuration used when no file is supplied.
func defaultConfig() *config {
	return &config{
		QEMU:         defaultQEMU,
		GrubMkrescue: defaultGrubMkrescue,
		Memory:       defaultMemory,
		Kernel:       defaultKernel,
		Timeout:      duration{defaultTimeout},
	}
}

// loadConfig loads the runner configuration from path on top of the
// defaults. An empty path yields the defaults.
func loadConfig(path string) (*config, error) {
	c := defaultConfig()
	if path == "" {
		return c, nil
	}

	md, err := toml.DecodeFile(path, c)
	if err != nil {
		return nil, fmt.Errorf("loading config %q: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		return nil, fmt.Errorf("loading config %q: unknown key %q", path, undecoded[0].String())
	}
	return c, nil
}
