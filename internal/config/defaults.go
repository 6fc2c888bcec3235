package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
		},
		Router: RouterConfig{
			ExecutionMode:        "local",
			ActionTimeoutSeconds: 30,
			FrameMaxAgeMs:        2000,
		},
		Gateway: GatewayConfig{
			Host: "127.0.0.1",
			Port: 8090,
			Path: "/ws/desktop",
		},
		Cache: CacheConfig{
			Path: "~/.deskpilot/element_cache.json",
		},
		Audit: AuditConfig{
			Enabled: true,
			DBPath:  "~/.deskpilot/audit.db",
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
		},
	}
}
