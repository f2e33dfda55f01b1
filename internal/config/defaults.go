package config

// Provider variants accepted by the llm, images, and narration sections.
const (
	LLMProviderOpenRouter    = "openrouter"
	LLMProviderOpenAI        = "openai"
	ImageProviderHTTP        = "http"
	ImageProviderPlaceholder = "placeholder"
	NarrationProviderRemote  = "remote"
	NarrationProviderLocal   = "local"
)

const (
	defaultConfigPath          = "~/.config/storyreel/config.toml"
	defaultStateDir            = "~/.local/share/storyreel"
	defaultWorkDir             = "~/.local/share/storyreel/work"
	defaultOutputDir           = "~/.local/share/storyreel/output"
	defaultInboxDir            = "~/.local/share/storyreel/inbox"
	defaultLogDir              = "~/.local/share/storyreel/logs"
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
	defaultOpenRouterBaseURL   = "https://openrouter.ai/api/v1/chat/completions"
	defaultOpenRouterModel     = "google/gemini-2.5-flash"
	defaultOpenAIModel         = "gpt-4o-mini"
	defaultLLMReferer          = "storyreel"
	defaultLLMTitle            = "storyreel"
	defaultLocalNarrationURL   = "http://127.0.0.1:8880"
	defaultRedisAddr           = "127.0.0.1:6379"
	defaultRedisQueue          = "storyreel:stories"
	defaultMaintenanceCron     = "@every 15m"
	defaultAspectRatio         = "16:9"
	defaultAudioFormat         = "mp3"
	defaultWordsPerMinute      = 150
	defaultHeartbeatInterval   = 15
	defaultHeartbeatTimeout    = 120
	defaultNotifyTimeout       = 10
	defaultLLMTimeoutSeconds   = 120
	defaultMediaTimeoutSeconds = 180
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			WorkDir:   defaultWorkDir,
			OutputDir: defaultOutputDir,
			StateDir:  defaultStateDir,
		},
		LLM: LLM{
			Provider:       LLMProviderOpenRouter,
			Referer:        defaultLLMReferer,
			Title:          defaultLLMTitle,
			Temperature:    0.3,
			TimeoutSeconds: defaultLLMTimeoutSeconds,
		},
		Images: Images{
			Provider:       ImageProviderHTTP,
			AspectRatio:    defaultAspectRatio,
			Concurrency:    3,
			CooldownMillis: 1000,
			TimeoutSeconds: defaultMediaTimeoutSeconds,
		},
		Narration: Narration{
			Provider:       NarrationProviderRemote,
			AudioFormat:    defaultAudioFormat,
			Concurrency:    5,
			CooldownMillis: 1000,
			WordsPerMinute: defaultWordsPerMinute,
			TimeoutSeconds: defaultMediaTimeoutSeconds,
		},
		Chunking: Chunking{
			ModelTokenLimit:  8000,
			ReservedTokens:   2000,
			BatchTokenBudget: 3000,
			CharsPerToken:    4,
		},
		LengthGuard: LengthGuard{
			MinRatio:    0.75,
			MaxAttempts: 3,
		},
		Segmentation: Segmentation{
			EarlyWindowSeconds:   180,
			EarlySceneTarget:     6,
			RemainderSceneTarget: 24,
			EarlyImageTarget:     6,
			RemainderImageTarget: 10,
			MinSceneSeconds:      3,
			MaxSceneSeconds:      15,
			MarginFloorSeconds:   2,
			TailSeconds:          5,
		},
		Retry: Retry{
			MaxAttempts:           5,
			InitialDelayMillis:    2000,
			MaxDelayMillis:        60000,
			Multiplier:            2,
			JitterFraction:        0.2,
			AttemptTimeoutSeconds: 120,
		},
		Workflow: Workflow{
			QueuePollInterval:    5,
			ErrorRetryInterval:   10,
			HeartbeatInterval:    defaultHeartbeatInterval,
			HeartbeatTimeout:     defaultHeartbeatTimeout,
			MaxConcurrentStories: 2,
			MaintenanceSchedule:  defaultMaintenanceCron,
			WorkRetentionDays:    14,
		},
		Inbox: Inbox{
			Dir: defaultInboxDir,
		},
		Redis: Redis{
			Addr:  defaultRedisAddr,
			Queue: defaultRedisQueue,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
			Completed:      true,
			Failed:         true,
		},
		Logging: Logging{
			Format:     defaultLogFormat,
			Level:      defaultLogLevel,
			Dir:        defaultLogDir,
			MaxSizeMB:  50,
			MaxBackups: 5,
			MaxAgeDays: 30,
			Compress:   true,
		},
	}
}
