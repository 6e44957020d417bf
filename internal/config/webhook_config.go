package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"
)

// WebhookSeed represents the webhook registrations file
type WebhookSeed struct {
	Webhooks []WebhookEntry `yaml:"webhooks" validate:"dive"`
}

// WebhookEntry represents a single per-subscriber token
type WebhookEntry struct {
	SubscriberID string `yaml:"subscriber_id" validate:"required"`
	Token        string `yaml:"token" validate:"required,min=8"`
	Name         string `yaml:"name"`
	Active       bool   `yaml:"active" default:"true"`
}

// UnmarshalYAML applies field defaults before decoding
func (e *WebhookEntry) UnmarshalYAML(value *yaml.Node) error {
	type plain WebhookEntry
	var p plain
	if err := defaults.Set(&p); err != nil {
		return err
	}
	if err := value.Decode(&p); err != nil {
		return err
	}
	*e = WebhookEntry(p)
	return nil
}

// LoadWebhookSeed loads webhook registrations from a YAML file.
// A missing file yields an empty seed.
func LoadWebhookSeed(filename string) (*WebhookSeed, error) {
	var seed WebhookSeed

	data, err := os.ReadFile(filename)
	if errors.Is(err, os.ErrNotExist) {
		return &seed, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read webhook seed file: %w", err)
	}

	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse webhook seed file: %w", err)
	}
	if err := validate.Struct(&seed); err != nil {
		return nil, fmt.Errorf("invalid webhook seed: %w", err)
	}
	for i := range seed.Webhooks {
		if first := seed.FindByToken(seed.Webhooks[i].Token); first != &seed.Webhooks[i] {
			return nil, fmt.Errorf("invalid webhook seed: duplicate token for %s", seed.Webhooks[i].SubscriberID)
		}
	}

	return &seed, nil
}

// SaveWebhookSeed saves webhook registrations to a YAML file
func SaveWebhookSeed(seed *WebhookSeed, filename string) error {
	data, err := yaml.Marshal(seed)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook seed: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write webhook seed file: %w", err)
	}

	return nil
}

// FindByToken finds a seed entry by token
func (s *WebhookSeed) FindByToken(token string) *WebhookEntry {
	for i := range s.Webhooks {
		if s.Webhooks[i].Token == token {
			return &s.Webhooks[i]
		}
	}
	return nil
}
