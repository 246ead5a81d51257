package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/switchboard-io/switchboard/pkg/profile"
	"github.com/switchboard-io/switchboard/pkg/rules"
)

// validate checks the loaded configuration for structural problems
// before the process wires anything up. The first error wins.
func validate(cfg *Config) error {
	if err := validateAgent(cfg); err != nil {
		return err
	}
	if err := validateEndpoints(cfg); err != nil {
		return err
	}
	if err := validateAssistants(cfg); err != nil {
		return err
	}
	if err := validateRuleSets(cfg); err != nil {
		return err
	}
	if err := validateAliases(cfg); err != nil {
		return err
	}
	return nil
}

func validateAgent(cfg *Config) error {
	if cfg.Agent.Key == "" {
		return NewValidationError("agent", "", "key", ErrMissingRequiredField)
	}
	if strings.Contains(cfg.Agent.Key, ":") {
		return NewValidationError("agent", cfg.Agent.Key, "key",
			fmt.Errorf("%w: must not contain ':'", ErrInvalidValue))
	}
	return nil
}

func validateEndpoints(cfg *Config) error {
	endpoints := map[string]string{
		"identity_url":     cfg.Endpoints.IdentityURL,
		"messaging_url":    cfg.Endpoints.MessagingURL,
		"integrations_url": cfg.Endpoints.IntegrationsURL,
	}
	for field, value := range endpoints {
		if value == "" {
			return NewValidationError("endpoints", "", field, ErrMissingRequiredField)
		}
		if err := validateURL(value); err != nil {
			return NewValidationError("endpoints", "", field, err)
		}
	}
	// catalog is optional; the assistant registry can be config-only
	if cfg.Endpoints.CatalogURL != "" {
		if err := validateURL(cfg.Endpoints.CatalogURL); err != nil {
			return NewValidationError("endpoints", "", "catalog_url", err)
		}
	}
	return nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: %q is not an absolute URL", ErrInvalidValue, raw)
	}
	return nil
}

func validateAssistants(cfg *Config) error {
	seen := make(map[string]struct{}, len(cfg.Assistants))
	for _, def := range cfg.Assistants {
		key := strings.ToLower(strings.TrimSpace(def.Key))
		if key == "" {
			return NewValidationError("assistant", "", "key", ErrMissingRequiredField)
		}
		if _, dup := seen[key]; dup {
			return NewValidationError("assistant", key, "",
				fmt.Errorf("%w: duplicate key", ErrInvalidValue))
		}
		seen[key] = struct{}{}
		if def.Profile.Preset != "" && !validPreset(def.Profile.Preset) {
			return NewValidationError("assistant", key, "profile.preset",
				fmt.Errorf("%w: unknown preset %q", ErrInvalidValue, def.Profile.Preset))
		}
		if def.WebhookURL != "" {
			if err := validateURL(def.WebhookURL); err != nil {
				return NewValidationError("assistant", key, "webhook_url", err)
			}
		}
	}
	if !validPreset(cfg.Engine.DefaultPreset) {
		return NewValidationError("engine", "", "default_preset",
			fmt.Errorf("%w: unknown preset %q", ErrInvalidValue, cfg.Engine.DefaultPreset))
	}
	return nil
}

func validPreset(name string) bool {
	if name == profile.PresetCustom {
		return true
	}
	for _, known := range profile.PresetNames() {
		if name == known {
			return true
		}
	}
	return false
}

func validateRuleSets(cfg *Config) error {
	for key, rs := range cfg.RuleSets {
		if err := rules.ValidateRuleSet(rs); err != nil {
			return NewValidationError("rule_set", key, "", err)
		}
	}
	return nil
}

func validateAliases(cfg *Config) error {
	for alias, target := range cfg.Routing.Aliases {
		if strings.TrimSpace(alias) == "" || strings.TrimSpace(target) == "" {
			return NewValidationError("routing", alias, "aliases",
				fmt.Errorf("%w: empty alias or target", ErrInvalidValue))
		}
	}
	return nil
}
