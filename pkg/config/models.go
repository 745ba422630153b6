package config

import (
	"fmt"
	"time"

	"github.com/a-essam23/go-roomsync/pkg/message"
	"github.com/a-essam23/go-roomsync/pkg/pipeline"
)

type Config struct {
	Server    ServerConfig
	Transport TransportConfig
	Client    ClientConfig
	Events    map[string]EventConfig `mapstructure:"events"`
	// Colors is the palette handed out to participants in join order.
	Colors [][]float64 `mapstructure:"colors"`

	Pipelines map[message.Tag]pipeline.Pipeline `mapstructure:"-"`
}

type ServerConfig struct {
	Address         string
	APIVersion      string        `mapstructure:"apiVersion"`
	RoomKind        string        `mapstructure:"roomKind"`
	RoomCapacity    int           `mapstructure:"roomCapacity"`
	ShutdownTimeout time.Duration `mapstructure:"shutdownTimeout"`
	Auth            AuthConfig
}

type AuthConfig struct {
	TicketSecret string        `mapstructure:"ticketSecret"`
	TicketTTL    time.Duration `mapstructure:"ticketTTL"`
}

type TransportConfig struct {
	ReadTimeout  time.Duration `mapstructure:"readTimeout"`
	WriteTimeout time.Duration `mapstructure:"writeTimeout"`
	SendBuffer   int           `mapstructure:"sendBuffer"`
}

type ClientConfig struct {
	Endpoint           string        `mapstructure:"endpoint"`
	APIVersion         string        `mapstructure:"apiVersion"`
	RoomKind           string        `mapstructure:"roomKind"`
	KeepAliveInterval  time.Duration `mapstructure:"keepAliveInterval"`
	TickInterval       time.Duration `mapstructure:"tickInterval"`
	RestoreConcurrency int           `mapstructure:"restoreConcurrency"`
	DeviceID           string        `mapstructure:"deviceId"`
	HighlightColor     []float64     `mapstructure:"highlightColor"`
}

type EventConfig struct {
	Modifiers []ActionConfig `mapstructure:"modifiers"`
	Actions   []ActionConfig `mapstructure:"actions"`
}

type ActionConfig struct {
	Name   string   `mapstructure:"name"`
	Params []string `mapstructure:"params"`
}

// Palette converts the configured colors.
func (c *Config) Palette() ([]message.Color, error) {
	palette := make([]message.Color, 0, len(c.Colors))
	for i, raw := range c.Colors {
		color, err := toColor(raw)
		if err != nil {
			return nil, fmt.Errorf("colors[%d]: %w", i, err)
		}
		palette = append(palette, color)
	}
	return palette, nil
}

// Highlight returns the configured highlight color, or the zero color when
// none is set.
func (c ClientConfig) Highlight() (message.Color, error) {
	if len(c.HighlightColor) == 0 {
		return message.Color{}, nil
	}
	return toColor(c.HighlightColor)
}

func toColor(raw []float64) (message.Color, error) {
	if len(raw) != 3 {
		return message.Color{}, fmt.Errorf("color needs 3 components, got %d", len(raw))
	}
	for _, v := range raw {
		if v < 0 || v > 1 {
			return message.Color{}, fmt.Errorf("color component %v out of [0,1]", v)
		}
	}
	return message.Color{raw[0], raw[1], raw[2]}, nil
}
