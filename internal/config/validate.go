package config

import (
	"errors"
	"fmt"
	"net"
	"slices"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateEngine(); err != nil {
		return err
	}
	if err := c.validateConversion(); err != nil {
		return err
	}
	if err := c.validateImages(); err != nil {
		return err
	}
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateTracing(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if _, _, err := net.SplitHostPort(c.Paths.APIBind); err != nil {
		return fmt.Errorf("paths.api_bind must be host:port (%v)", err)
	}
	if c.Paths.APITokenHash != "" && !strings.HasPrefix(c.Paths.APITokenHash, "$2") {
		return errors.New("paths.api_token_hash must be a bcrypt hash (create with 'toolbox config hash-token')")
	}
	return nil
}

func (c *Config) validateEngine() error {
	if c.Engine.LoadTimeoutSeconds <= 0 {
		return errors.New("engine.load_timeout_seconds must be positive")
	}
	if c.Engine.StaleEntryMinutes <= 0 {
		return errors.New("engine.stale_entry_minutes must be positive")
	}
	return nil
}

func (c *Config) validateConversion() error {
	if c.Conversion.MaxInputMiB <= 0 {
		return errors.New("conversion.max_input_mib must be positive")
	}
	if !slices.Contains(SupportedFormats, c.Conversion.DefaultFormat) {
		return fmt.Errorf("conversion.default_format must be one of %s", strings.Join(SupportedFormats, ", "))
	}
	if c.Conversion.DefaultQuality < 0 {
		return errors.New("conversion.default_quality must not be negative")
	}
	return nil
}

func (c *Config) validateImages() error {
	if err := ensurePositiveMap(map[string]int{
		"images.max_input_mib": c.Images.MaxInputMiB,
		"images.max_dimension": c.Images.MaxDimension,
	}); err != nil {
		return err
	}
	if c.Images.DefaultQuality < 1 || c.Images.DefaultQuality > 100 {
		return errors.New("images.default_quality must be between 1 and 100")
	}
	switch c.Images.DefaultFormat {
	case "jpeg", "png", "webp":
	default:
		return errors.New("images.default_format must be jpeg, png, or webp")
	}
	return nil
}

func (c *Config) validateServer() error {
	if err := ensurePositiveMap(map[string]int{
		"server.download_ttl_minutes":   c.Server.DownloadTTLMinutes,
		"server.sweep_interval_seconds": c.Server.SweepIntervalSeconds,
	}); err != nil {
		return err
	}
	if c.Server.RateLimitPerMinute < 0 {
		return errors.New("server.rate_limit_per_minute must not be negative")
	}
	if c.Server.RateLimitPerMinute > 0 && c.Server.RateLimitBurst <= 0 {
		return errors.New("server.rate_limit_burst must be positive when rate limiting is enabled")
	}
	return nil
}

func (c *Config) validateTracing() error {
	if !c.Tracing.Enabled {
		return nil
	}
	if c.Tracing.Endpoint == "" {
		return errors.New("tracing.endpoint must be set when tracing.enabled is true")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return errors.New("tracing.sample_ratio must be between 0 and 1")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
