package repl

import (
	"errors"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	serial "github.com/luhtfiimanal/go-serial-repl"
)

// ErrInvalidConfig is returned by Config.Validate.
var ErrInvalidConfig = errors.New("repl: invalid config")

// Variant selects how a Connection treats the byte stream.
type Variant string

const (
	// Direct relays bytes unmodified in both directions.
	Direct Variant = "direct"
	// FlowControlled gates writes on readiness, optionally chunks them
	// under ENQ/ACK flow control, and strips control bytes from input.
	FlowControlled Variant = "flow_controlled"
)

// Config configures a Connection. Zero fields take the package defaults.
type Config struct {
	Variant Variant `yaml:"variant"`

	// BaudRate is the nominal rate, restored when autobaud finds nothing.
	BaudRate int `yaml:"baud_rate"`

	// FlowControl enables ENQ/ACK chunking and autobaud probing.
	FlowControl bool `yaml:"flow_control"`

	// ChunkSize is the number of bytes sent before an ACK is required.
	ChunkSize int `yaml:"chunk_size"`

	// WaitForIncomingData defers readiness until the device sends
	// something or WaitForDataTimeout passes.
	WaitForIncomingData bool `yaml:"wait_for_incoming_data"`

	BaudRateCandidates []int         `yaml:"baud_rate_candidates"`
	ProbeTimeout       time.Duration `yaml:"probe_timeout"`
	ReadyDebounce      time.Duration `yaml:"ready_debounce"`
	WaitForDataTimeout time.Duration `yaml:"wait_for_data_timeout"`
}

// DefaultConfig returns the configuration of a flow-controlled connection
// with flow control itself switched off.
func DefaultConfig() Config {
	return Config{
		Variant:            FlowControlled,
		BaudRate:           DefaultBaudRate,
		ChunkSize:          DefaultChunkSize,
		BaudRateCandidates: append([]int(nil), DefaultBaudRateCandidates...),
		ProbeTimeout:       DefaultProbeTimeout,
		ReadyDebounce:      DefaultReadyDebounce,
		WaitForDataTimeout: DefaultWaitForDataTimeout,
	}
}

// WithDefaults returns cfg with every zero field replaced by its default.
func (cfg Config) WithDefaults() Config {
	d := DefaultConfig()
	if cfg.Variant == "" {
		cfg.Variant = d.Variant
	}
	if cfg.BaudRate == 0 {
		cfg.BaudRate = d.BaudRate
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = d.ChunkSize
	}
	if len(cfg.BaudRateCandidates) == 0 {
		cfg.BaudRateCandidates = d.BaudRateCandidates
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = d.ProbeTimeout
	}
	if cfg.ReadyDebounce == 0 {
		cfg.ReadyDebounce = d.ReadyDebounce
	}
	if cfg.WaitForDataTimeout == 0 {
		cfg.WaitForDataTimeout = d.WaitForDataTimeout
	}
	return cfg
}

// Validate checks a config that has been through WithDefaults.
func (cfg Config) Validate() error {
	switch cfg.Variant {
	case Direct, FlowControlled:
	default:
		return fmt.Errorf("%w: unknown variant %q", ErrInvalidConfig, cfg.Variant)
	}
	if cfg.Variant == Direct && (cfg.FlowControl || cfg.WaitForIncomingData) {
		return fmt.Errorf("%w: flow_control and wait_for_incoming_data need the %s variant", ErrInvalidConfig, FlowControlled)
	}
	if cfg.ChunkSize < 1 {
		return fmt.Errorf("%w: chunk size %d", ErrInvalidConfig, cfg.ChunkSize)
	}
	if cfg.BaudRate < 1 {
		return fmt.Errorf("%w: baud rate %d", ErrInvalidConfig, cfg.BaudRate)
	}
	for _, r := range cfg.BaudRateCandidates {
		if r < 1 {
			return fmt.Errorf("%w: baud rate candidate %d", ErrInvalidConfig, r)
		}
	}
	if cfg.ProbeTimeout < 0 || cfg.ReadyDebounce < 0 || cfg.WaitForDataTimeout < 0 {
		return fmt.Errorf("%w: negative timeout", ErrInvalidConfig)
	}
	return nil
}

// Profile is the connection setup for one kind of board.
type Profile struct {
	Backend  serial.Backend `yaml:"backend"`
	BaudRate int            `yaml:"baud_rate"`
	REPL     Config         `yaml:"repl"`

	// Interrupt asks the caller to interrupt the running program right
	// after the connection opens.
	Interrupt bool `yaml:"interrupt"`
}

// SerialConfig returns the channel configuration for device.
func (p Profile) SerialConfig(device string) serial.Config {
	cfg := serial.DefaultConfig(device)
	if p.Backend != "" {
		cfg.Backend = p.Backend
	}
	if p.BaudRate != 0 {
		cfg.BaudRate = p.BaudRate
	}
	return cfg
}

// DefaultProfiles returns the built-in board profiles.
func DefaultProfiles() map[string]Profile {
	micropython := Profile{
		BaudRate:  115200,
		REPL:      Config{Variant: Direct},
		Interrupt: true,
	}
	return map[string]Profile{
		"snek": {
			BaudRate:  115200,
			REPL:      Config{Variant: FlowControlled, FlowControl: true, ChunkSize: DefaultChunkSize},
			Interrupt: true,
		},
		"micropython":   micropython,
		"circuitpython": micropython,
		"pyboard":       micropython,
		"esp": {
			BaudRate:  115200,
			REPL:      Config{Variant: FlowControlled, WaitForIncomingData: true},
			Interrupt: true,
		},
	}
}

type profileFile struct {
	Profiles map[string]Profile `yaml:"profiles"`
}

// LoadProfiles reads board profiles from YAML:
//
//	profiles:
//	  snek:
//	    baud_rate: 115200
//	    repl:
//	      variant: flow_controlled
//	      flow_control: true
//	      chunk_size: 16
//	      probe_timeout: 100ms
//
// The result contains the built-in profiles overlaid with the file's.
func LoadProfiles(r io.Reader) (map[string]Profile, error) {
	var f profileFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("repl: decode profiles: %w", err)
	}
	profiles := DefaultProfiles()
	for name, p := range f.Profiles {
		if err := p.REPL.WithDefaults().Validate(); err != nil {
			return nil, fmt.Errorf("profile %s: %w", name, err)
		}
		profiles[name] = p
	}
	return profiles, nil
}
