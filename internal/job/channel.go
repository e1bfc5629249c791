package job

import (
	"errors"
	"fmt"
)

// ChannelType identifies a delivery channel implementation.
type ChannelType string

// Built-in delivery channel types. Custom routes to whatever module
// registered under the descriptor's Name.
const (
	ChannelStdout  ChannelType = "stdout"
	ChannelLogFile ChannelType = "logfile"
	ChannelWebhook ChannelType = "webhook"
	ChannelSlack   ChannelType = "slack"
	ChannelEmail   ChannelType = "email"
	ChannelCustom  ChannelType = "custom"
)

// ChannelDescriptor configures one delivery target for a job's output.
// The set of fields that apply depends on Type; unrelated fields are left
// empty. Kept flat so descriptors round-trip through YAML and the store
// without per-type codecs.
type ChannelDescriptor struct {
	Type ChannelType `yaml:"type" json:"type"`

	// URL is the target for webhook channels and the webhook URL for
	// slack channels.
	URL string `yaml:"url,omitempty" json:"url,omitempty"`

	// Headers are sent with webhook requests.
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`

	// Channel is the slack channel override.
	Channel string `yaml:"channel,omitempty" json:"channel,omitempty"`

	// Recipients is the email recipient list.
	Recipients []string `yaml:"recipients,omitempty" json:"recipients,omitempty"`

	// Path is the destination file for logfile channels.
	Path string `yaml:"path,omitempty" json:"path,omitempty"`

	// Name selects the registered implementation for custom channels.
	Name string `yaml:"name,omitempty" json:"name,omitempty"`

	// Params carries opaque settings for custom channels.
	Params map[string]string `yaml:"params,omitempty" json:"params,omitempty"`
}

// ErrInvalidChannel reports a malformed channel descriptor.
var ErrInvalidChannel = errors.New("job: invalid delivery channel")

// Validate checks the descriptor carries the fields its type requires.
func (c ChannelDescriptor) Validate() error {
	switch c.Type {
	case ChannelStdout:
		return nil
	case ChannelLogFile:
		if c.Path == "" {
			return fmt.Errorf("%w: logfile requires path", ErrInvalidChannel)
		}
	case ChannelWebhook, ChannelSlack:
		if c.URL == "" {
			return fmt.Errorf("%w: %s requires url", ErrInvalidChannel, c.Type)
		}
	case ChannelEmail:
		if len(c.Recipients) == 0 {
			return fmt.Errorf("%w: email requires recipients", ErrInvalidChannel)
		}
	case ChannelCustom:
		if c.Name == "" {
			return fmt.Errorf("%w: custom requires name", ErrInvalidChannel)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidChannel, c.Type)
	}
	return nil
}

// Key returns the registry key the delivery router resolves this
// descriptor against: the type name, or the custom implementation name.
func (c ChannelDescriptor) Key() string {
	if c.Type == ChannelCustom {
		return c.Name
	}
	return string(c.Type)
}
