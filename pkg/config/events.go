package config

import "github.com/a-essam23/go-roomsync/pkg/message"

// DefaultEvents is the relay behaviour used when the config file declares no
// events: every relayed message is recorded into the room mirror and
// forwarded to the other participants.
func DefaultEvents() map[string]EventConfig {
	record := ActionConfig{Name: "_record"}
	forward := ActionConfig{Name: "_forward"}

	events := make(map[string]EventConfig)
	for _, tag := range message.RelayedTags() {
		events[string(tag)] = EventConfig{Actions: []ActionConfig{record, forward}}
	}

	// requests carrying a nonce are answered, and only forwarded when they
	// took effect
	for _, tag := range []message.Tag{message.TagAppClosed, message.TagDetachedMenuClosed} {
		events[string(tag)] = EventConfig{Actions: []ActionConfig{
			record,
			{Name: "_respond"},
			{Name: "_forward", Params: []string{"recorded"}},
		}}
	}
	events[string(message.TagMenuDetached)] = EventConfig{Actions: []ActionConfig{{Name: "_detach"}}}

	for _, tag := range []message.Tag{message.TagPingUpdate, message.TagMousePingUpdate} {
		events[string(tag)] = EventConfig{
			Modifiers: []ActionConfig{{Name: "rate_limit", Params: []string{"10/s"}}},
			Actions:   []ActionConfig{forward},
		}
	}
	return events
}

// DefaultPalette is handed out when no colors are configured.
var DefaultPalette = [][]float64{
	{0.898, 0.325, 0.329},
	{0.329, 0.616, 0.898},
	{0.424, 0.788, 0.424},
	{0.949, 0.769, 0.294},
	{0.686, 0.435, 0.867},
	{0.294, 0.812, 0.796},
}
