package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	Host string = "0.0.0.0"
	Port int    = 7000

	DefaultMessageSize = 1024
	MaximumClients     = 100

	// IdleTimeout closes a client that sent nothing for this long.
	IdleTimeout = 30 * time.Second
	// TickCeiling bounds every reactor wait.
	TickCeiling = time.Second
	MaxEvents   = 128

	MetricsAddr = "127.0.0.1:9100"
	LogLevel    = "info"
)

// File mirrors the variables above. Keys left out of the YAML keep their
// current value.
type File struct {
	Host               *string        `yaml:"host"`
	Port               *int           `yaml:"port"`
	DefaultMessageSize *int           `yaml:"message_size"`
	MaximumClients     *int           `yaml:"max_clients"`
	IdleTimeout        *time.Duration `yaml:"idle_timeout"`
	TickCeiling        *time.Duration `yaml:"tick_ceiling"`
	MaxEvents          *int           `yaml:"max_events"`
	MetricsAddr        *string        `yaml:"metrics_addr"`
	LogLevel           *string        `yaml:"log_level"`
}

// Load overlays the YAML file at path onto the package variables.
func Load(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}

	var file File
	decoder := yaml.NewDecoder(bytes.NewReader(raw))
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parsing config %s: %w", path, err)
	}
	return file.apply()
}

func (file *File) apply() error {
	if file.Port != nil && (*file.Port < 0 || *file.Port > 65535) {
		return fmt.Errorf("invalid port %d", *file.Port)
	}
	if err := positive("max_events", file.MaxEvents); err != nil {
		return err
	}
	if err := positive("message_size", file.DefaultMessageSize); err != nil {
		return err
	}
	if err := positive("max_clients", file.MaximumClients); err != nil {
		return err
	}
	if err := positive("idle_timeout", file.IdleTimeout); err != nil {
		return err
	}
	if err := positive("tick_ceiling", file.TickCeiling); err != nil {
		return err
	}

	set(&Host, file.Host)
	set(&Port, file.Port)
	set(&DefaultMessageSize, file.DefaultMessageSize)
	set(&MaximumClients, file.MaximumClients)
	set(&IdleTimeout, file.IdleTimeout)
	set(&TickCeiling, file.TickCeiling)
	set(&MaxEvents, file.MaxEvents)
	set(&MetricsAddr, file.MetricsAddr)
	set(&LogLevel, file.LogLevel)
	return nil
}

func set[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

func positive[T int | time.Duration](key string, v *T) error {
	if v != nil && *v <= 0 {
		return fmt.Errorf("invalid %s %v", key, *v)
	}
	return nil
}
