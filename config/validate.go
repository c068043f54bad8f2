package config

import (
	"fmt"
	"strings"

	"dataspace/native/common"
	"dataspace/storage"
)

var knownModules = map[string]struct{}{
	common.ModuleOrderbook: {},
	common.ModuleRegistry:  {},
	common.ModuleEscrow:    {},
}

// Validate rejects configurations the daemon cannot start with.
func (c *Config) Validate() error {
	switch c.Backend {
	case storage.BackendMemory, storage.BackendLevelDB, storage.BackendBolt, storage.BackendPebble:
	default:
		return fmt.Errorf("storage: unknown backend %q", c.Backend)
	}
	if c.Escrow.LockBlocks == 0 {
		return fmt.Errorf("escrow: LockBlocks must be positive")
	}
	if c.Escrow.PunitiveLockBlocks == 0 {
		return fmt.Errorf("escrow: PunitiveLockBlocks must be positive")
	}
	for _, module := range c.Escrow.PausedModules {
		if _, ok := knownModules[strings.ToLower(strings.TrimSpace(module))]; !ok {
			return fmt.Errorf("escrow: unknown paused module %q", module)
		}
	}
	if c.Limits.MaxPayloadBytes < 0 {
		return fmt.Errorf("limits: MaxPayloadBytes < 0")
	}
	if (c.Limits.UploadsPerEpoch > 0 || c.Limits.UploadBytesPerEpoch > 0) && c.Limits.QuotaEpochBlocks == 0 {
		return fmt.Errorf("limits: QuotaEpochBlocks must be positive when upload quotas are set")
	}
	if c.RateLimit.RequestsPerSecond < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit: values must not be negative")
	}
	if c.RateLimit.RequestsPerSecond > 0 && c.RateLimit.Burst == 0 {
		return fmt.Errorf("rate_limit: Burst must be positive when RequestsPerSecond is set")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry: SampleRatio must be within [0, 1]")
	}
	if c.Kafka.Enabled() && strings.TrimSpace(c.Kafka.Topic) == "" {
		return fmt.Errorf("kafka: Topic required when Brokers are set")
	}
	if c.Webhook.Enabled() && c.Webhook.ResolveSecret() == "" {
		return fmt.Errorf("webhook: Secret or SecretEnv required when Endpoint is set")
	}
	return nil
}

// UploadQuota converts the limits section into the runtime quota.
func (c *Config) UploadQuota() common.Quota {
	return common.Quota{
		MaxRequestsPerEpoch: c.Limits.UploadsPerEpoch,
		MaxBytesPerEpoch:    c.Limits.UploadBytesPerEpoch,
		EpochBlocks:         c.Limits.QuotaEpochBlocks,
	}
}
