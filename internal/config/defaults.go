package config

const (
	defaultDataDir              = "~/.local/share/newscast"
	defaultLogDir               = "~/.local/share/newscast/logs"
	defaultArtifactDir          = "~/.local/share/newscast/artifacts"
	defaultArchiveDir           = "~/.local/share/newscast/archive"
	defaultReportsDir           = "~/.local/share/newscast/reports"
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
	defaultLogRetentionDays     = 30
	defaultNewsAPIBaseURL       = "https://newsapi.org/v2/everything"
	defaultRSSURLTemplate       = "https://news.google.com/rss/search?q={query}&hl=en-US&gl=US&ceid=US:en"
	defaultSourceLanguage       = "en"
	defaultUserAgent            = "newscast/0.1 (+https://github.com/newscast)"
	defaultSourceTimeout        = 20
	defaultMinBodyChars         = 120
	defaultScriptProvider       = "openrouter"
	defaultScriptTone           = "professional"
	defaultScriptTargetSeconds  = 30
	defaultScriptTopicChars     = 300
	defaultScriptTemperature    = 0.7
	defaultScriptMaxTokens      = 1024
	defaultLLMBaseURL           = "https://openrouter.ai/api/v1/chat/completions"
	defaultLLMModel             = "openai/gpt-4o-mini"
	defaultLLMReferer           = "https://github.com/newscast"
	defaultLLMTitle             = "newscast script writer"
	defaultLLMTimeoutSeconds    = 60
	defaultAnthropicModel       = "claude-sonnet-4-20250514"
	defaultGeminiModel          = "gemini-2.0-flash"
	defaultElevenLabsBaseURL    = "https://api.elevenlabs.io/v1"
	defaultVoiceID              = "21m00Tcm4TlvDq8ikWAM"
	defaultVoiceModel           = "eleven_turbo_v2"
	defaultVoiceFormat          = "mp3_44100_128"
	defaultNarrationTimeout     = 60
	defaultWordsPerSegment      = 10
	defaultSecondsPerWord       = 0.4
	defaultMaxSegmentSeconds    = 4.0
	defaultSyncBaseURL          = "https://api.sync.so/v2"
	defaultSyncModel            = "lipsync-1.9.0-beta"
	defaultSyncOutputFormat     = "mp4"
	defaultSyncMode             = "bounce"
	defaultSyncFPS              = 25
	defaultSyncWidth            = 640
	defaultSyncHeight           = 1138
	defaultSyncTimeout          = 30
	defaultClaimTimeout         = 120
	defaultPollInitial          = 10
	defaultPollStep             = 10
	defaultPollMax              = 60
	defaultPollDeadline         = 20
	defaultPollRPS              = 2.0
	defaultPollBurst            = 2
	defaultPollInFlight         = 4
	defaultPollRequestTimeout   = 15
	defaultBaseDelaySeconds     = 2
	defaultMaxDelaySeconds      = 60
	defaultQuotaPauseSeconds    = 300
	defaultMaxConcurrency       = 3
	defaultArticleTimeout       = 45
	defaultBatchTimeout         = 120
	defaultStaleSchedule        = "@every 30m"
	defaultMaxStaleResumes      = 3
	defaultNotifyRequestTimeout = 10
)

// DefaultMaxRetries returns the per-stage attempt budgets keyed by target stage.
// Cheap idempotent stages get generous budgets; billable submission does not.
func DefaultMaxRetries() map[string]int {
	return map[string]int{
		"acquired":        5,
		"scripted":        4,
		"narrated":        3,
		"video_submitted": 2,
		"video_ready":     1,
		"archived":        4,
		"done":            3,
	}
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:     defaultDataDir,
			LogDir:      defaultLogDir,
			ArtifactDir: defaultArtifactDir,
			ArchiveDir:  defaultArchiveDir,
			ReportsDir:  defaultReportsDir,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
		Sources: Sources{
			Order:          []string{"newsapi", "rss", "scrape"},
			NewsAPIBaseURL: defaultNewsAPIBaseURL,
			Language:       defaultSourceLanguage,
			RSSURLTemplate: defaultRSSURLTemplate,
			UserAgent:      defaultUserAgent,
			TimeoutSeconds: defaultSourceTimeout,
			MinBodyChars:   defaultMinBodyChars,
		},
		Script: Script{
			Provider:      defaultScriptProvider,
			Tone:          defaultScriptTone,
			TargetSeconds: defaultScriptTargetSeconds,
			TopicChars:    defaultScriptTopicChars,
			Temperature:   defaultScriptTemperature,
			MaxTokens:     defaultScriptMaxTokens,
		},
		LLM: LLM{
			BaseURL:        defaultLLMBaseURL,
			Model:          defaultLLMModel,
			Referer:        defaultLLMReferer,
			Title:          defaultLLMTitle,
			TimeoutSeconds: defaultLLMTimeoutSeconds,
		},
		Anthropic: Anthropic{Model: defaultAnthropicModel},
		Gemini:    Gemini{Model: defaultGeminiModel},
		Narration: Narration{
			BaseURL:           defaultElevenLabsBaseURL,
			VoiceID:           defaultVoiceID,
			ModelID:           defaultVoiceModel,
			OutputFormat:      defaultVoiceFormat,
			Stability:         0.5,
			SimilarityBoost:   0.75,
			TimeoutSeconds:    defaultNarrationTimeout,
			Subtitles:         true,
			WordsPerSegment:   defaultWordsPerSegment,
			SecondsPerWord:    defaultSecondsPerWord,
			MaxSegmentSeconds: defaultMaxSegmentSeconds,
		},
		LipSync: LipSync{
			BaseURL:        defaultSyncBaseURL,
			Model:          defaultSyncModel,
			OutputFormat:   defaultSyncOutputFormat,
			SyncMode:       defaultSyncMode,
			FPS:            defaultSyncFPS,
			Width:          defaultSyncWidth,
			Height:         defaultSyncHeight,
			ActiveSpeaker:  true,
			TimeoutSeconds: defaultSyncTimeout,
			ClaimTimeout:   defaultClaimTimeout,
		},
		Poller: Poller{
			InitialIntervalSeconds: defaultPollInitial,
			StepSeconds:            defaultPollStep,
			MaxIntervalSeconds:     defaultPollMax,
			DeadlineMinutes:        defaultPollDeadline,
			RequestsPerSecond:      defaultPollRPS,
			Burst:                  defaultPollBurst,
			MaxInFlight:            defaultPollInFlight,
			RequestTimeoutSeconds:  defaultPollRequestTimeout,
		},
		Artifacts: Artifacts{
			PublicBackend:  "local",
			ArchiveBackend: "local",
		},
		Pipeline: Pipeline{
			MaxRetries:        DefaultMaxRetries(),
			BaseDelaySeconds:  defaultBaseDelaySeconds,
			MaxDelaySeconds:   defaultMaxDelaySeconds,
			QuotaPauseSeconds: defaultQuotaPauseSeconds,
		},
		Batch: Batch{
			MaxConcurrency:        defaultMaxConcurrency,
			ArticleTimeoutMinutes: defaultArticleTimeout,
			BatchTimeoutMinutes:   defaultBatchTimeout,
		},
		Daemon: Daemon{
			StaleSchedule:   defaultStaleSchedule,
			MaxStaleResumes: defaultMaxStaleResumes,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			BatchStarted:   true,
			BatchCompleted: true,
			ArticleFailed:  true,
			VideoStale:     true,
			QuotaExceeded:  true,
		},
	}
}
