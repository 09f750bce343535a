package config

import "path/filepath"

func Defaults() *Config {
	dir := DefaultConfigDir()
	return &Config{
		General: GeneralConfig{
			Workspace: ".",
			LogLevel:  "info",
		},
		Model: ModelConfig{
			ChatPath:                "/api/ai/chat-with-tools",
			ReviewPath:              "/api/ai/comprehensive-review",
			TimeoutMs:               30000,
			ComprehensiveMultiplier: 2,
			MaxRetries:              2,
		},
		Orchestrator: OrchestratorConfig{
			MaxParallelTools:   5,
			ToolTimeoutSeconds: 30,
			MaxFollowUpCalls:   10,
			StageDelayMs:       100,
			NotifyChannel:      "console",
			PipelinesDir:       filepath.Join(dir, "pipelines"),
		},
		Tools: ToolsConfig{
			Git: GitToolConfig{Enabled: true},
			Filesystem: FilesystemToolConfig{
				Enabled:      true,
				MaxFileBytes: 1 << 20,
			},
			Database: DatabaseToolConfig{
				Enabled: true,
				DBPath:  filepath.Join(dir, "reviews.db"),
			},
			Notification: NotificationToolConfig{
				Enabled: true,
				SMTP:    SMTPConfig{Port: 587},
			},
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Listen:  "127.0.0.1:9464",
			Path:    "/metrics",
		},
	}
}
