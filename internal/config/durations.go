package config

import "time"

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// SourceTimeout bounds a single acquisition request.
func (c *Config) SourceTimeout() time.Duration { return seconds(c.Sources.TimeoutSeconds) }

// LLMTimeout bounds a single script generation request.
func (c *Config) LLMTimeout() time.Duration { return seconds(c.LLM.TimeoutSeconds) }

// ClaimTimeout is how long a submission claim without a job id is honored.
func (c *Config) ClaimTimeout() time.Duration { return seconds(c.LipSync.ClaimTimeout) }

// PollDeadline is the watch window measured from a job's watch start.
func (c *Config) PollDeadline() time.Duration {
	return time.Duration(c.Poller.DeadlineMinutes) * time.Minute
}

func (c *Config) PollInitialInterval() time.Duration { return seconds(c.Poller.InitialIntervalSeconds) }
func (c *Config) PollStep() time.Duration            { return seconds(c.Poller.StepSeconds) }
func (c *Config) PollMaxInterval() time.Duration     { return seconds(c.Poller.MaxIntervalSeconds) }
func (c *Config) PollRequestTimeout() time.Duration  { return seconds(c.Poller.RequestTimeoutSeconds) }

func (c *Config) RetryBaseDelay() time.Duration { return seconds(c.Pipeline.BaseDelaySeconds) }
func (c *Config) RetryMaxDelay() time.Duration  { return seconds(c.Pipeline.MaxDelaySeconds) }
func (c *Config) QuotaPause() time.Duration     { return seconds(c.Pipeline.QuotaPauseSeconds) }

// ArticleTimeout bounds one article within a batch.
func (c *Config) ArticleTimeout() time.Duration {
	return time.Duration(c.Batch.ArticleTimeoutMinutes) * time.Minute
}

// BatchTimeout bounds the whole batch.
func (c *Config) BatchTimeout() time.Duration {
	return time.Duration(c.Batch.BatchTimeoutMinutes) * time.Minute
}

func (c *Config) LaunchInterval() time.Duration { return seconds(c.Batch.LaunchIntervalSeconds) }

func (c *Config) NotifyTimeout() time.Duration { return seconds(c.Notifications.RequestTimeout) }
