package layout

import (
	"fmt"
	"strings"
)

// Channel is a microscope colour channel. It partitions directories at every stage boundary.
type Channel string

const (
	ChannelBlue   Channel = "blue"   // nucleus
	ChannelGreen  Channel = "green"  // target protein
	ChannelRed    Channel = "red"    // microtubule
	ChannelYellow Channel = "yellow" // endoplasmic reticulum
)

// Channels returns the closed channel set in canonical processing order.
func Channels() []Channel {
	return []Channel{ChannelBlue, ChannelGreen, ChannelRed, ChannelYellow}
}

// ParseChannel validates a channel name.
func ParseChannel(s string) (Channel, error) {
	c := Channel(strings.TrimSpace(s))
	if err := c.Validate(); err != nil {
		return "", err
	}
	return c, nil
}

// Validate ensures the channel is part of the closed set.
func (c Channel) Validate() error {
	for _, known := range Channels() {
		if c == known {
			return nil
		}
	}
	return fmt.Errorf("invalid channel: %q (must be 'blue', 'green', 'red', or 'yellow')", string(c))
}

func (c Channel) String() string { return string(c) }
