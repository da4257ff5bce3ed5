// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// HTTPConfig holds shared HTTP settings used by components that make network requests.
type HTTPConfig struct {
	// Timeout is the HTTP request timeout.
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`

	// UserAgent is the User-Agent header sent with HTTP requests
	// (e.g. "novelty-engine/0.1").
	UserAgent string `json:"user_agent" yaml:"user_agent" mapstructure:"user_agent"`
}

// SearchConfig holds settings for the progressive search engine.
type SearchConfig struct {
	HTTPConfig `yaml:",inline" mapstructure:",squash"`

	// Target is the number of unique references progressive search stops at (default 5).
	Target int `json:"target" yaml:"target" mapstructure:"target"`

	// ProviderLimit caps the records each provider returns per call (default 50).
	ProviderLimit int `json:"provider_limit" yaml:"provider_limit" mapstructure:"provider_limit"`

	// EnableOpenAlex controls whether the OpenAlex provider is used.
	EnableOpenAlex bool `json:"enable_openalex" yaml:"enable_openalex" mapstructure:"enable_openalex"`

	// EnableSemanticScholar controls whether the Semantic Scholar provider is used.
	EnableSemanticScholar bool `json:"enable_semantic_scholar" yaml:"enable_semantic_scholar" mapstructure:"enable_semantic_scholar"`

	// EnablePatentsView controls whether the PatentsView provider is used.
	// The provider returns nothing without PatentsViewAPIKey.
	EnablePatentsView bool `json:"enable_patentsview" yaml:"enable_patentsview" mapstructure:"enable_patentsview"`

	// EnableArxiv controls whether the arXiv provider is used.
	EnableArxiv bool `json:"enable_arxiv" yaml:"enable_arxiv" mapstructure:"enable_arxiv"`

	// OpenAlexEmail is sent as the mailto parameter to join the OpenAlex polite pool.
	OpenAlexEmail string `json:"openalex_email,omitempty" yaml:"openalex_email,omitempty" mapstructure:"openalex_email"`

	// SemanticScholarAPIKey is an optional API key for Semantic Scholar.
	SemanticScholarAPIKey string `json:"semantic_scholar_api_key,omitempty" yaml:"semantic_scholar_api_key,omitempty" mapstructure:"semantic_scholar_api_key"`

	// PatentsViewAPIKey is required by the PatentsView provider.
	PatentsViewAPIKey string `json:"patentsview_api_key,omitempty" yaml:"patentsview_api_key,omitempty" mapstructure:"patentsview_api_key"`
}

// LedgerConfig holds settings for the job ledger, blob store and hand-off queue.
type LedgerConfig struct {
	// Path is the SQLite database file shared by the ledger and the queue.
	Path string `json:"path" yaml:"path" mapstructure:"path"`

	// Partition groups work items; the CLI uses a single partition.
	Partition string `json:"partition" yaml:"partition" mapstructure:"partition"`

	// BlobDir is the root directory for overflowed stage outputs.
	BlobDir string `json:"blob_dir" yaml:"blob_dir" mapstructure:"blob_dir"`
}

// OracleConfig holds settings for the language-model oracle.
type OracleConfig struct {
	HTTPConfig `yaml:",inline" mapstructure:",squash"`

	// Model is the Claude model identifier.
	Model string `json:"model" yaml:"model" mapstructure:"model"`

	// APIKey is the Anthropic API key.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty" mapstructure:"api_key"`

	// MaxTokens bounds each response.
	MaxTokens int `json:"max_tokens" yaml:"max_tokens" mapstructure:"max_tokens"`

	// MaxAttempts bounds retries of a single oracle step, including
	// responses that fail to parse (default 5).
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts" mapstructure:"max_attempts"`
}

// WorkerConfig holds settings for queue-driven stage workers.
type WorkerConfig struct {
	// PollInterval is the wait between empty queue polls.
	PollInterval time.Duration `json:"poll_interval" yaml:"poll_interval" mapstructure:"poll_interval"`

	// Lease is how long a received message stays invisible before redelivery.
	Lease time.Duration `json:"lease" yaml:"lease" mapstructure:"lease"`

	// RetryDelay hides a message after an infrastructure error.
	RetryDelay time.Duration `json:"retry_delay" yaml:"retry_delay" mapstructure:"retry_delay"`

	// MaxDeliveries drops a message after that many failed deliveries.
	MaxDeliveries int `json:"max_deliveries" yaml:"max_deliveries" mapstructure:"max_deliveries"`
}

// PipelineConfig is the top-level configuration for the novelty-engine.
type PipelineConfig struct {
	Search SearchConfig `json:"search" yaml:"search" mapstructure:"search"`
	Ledger LedgerConfig `json:"ledger" yaml:"ledger" mapstructure:"ledger"`
	Oracle OracleConfig `json:"oracle" yaml:"oracle" mapstructure:"oracle"`
	Worker WorkerConfig `json:"worker" yaml:"worker" mapstructure:"worker"`

	// ManuscriptDir holds the plain-text manuscripts named at ingestion.
	ManuscriptDir string `json:"manuscript_dir" yaml:"manuscript_dir" mapstructure:"manuscript_dir"`
}

// DefaultPipelineConfig returns the configuration used when no file or
// environment override is present.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		Search: SearchConfig{
			HTTPConfig: HTTPConfig{
				Timeout:   30 * time.Second,
				UserAgent: "novelty-engine/0.1",
			},
			Target:                5,
			ProviderLimit:         50,
			EnableOpenAlex:        true,
			EnableSemanticScholar: true,
			EnablePatentsView:     true,
			EnableArxiv:           false,
		},
		Ledger: LedgerConfig{
			Path:      "novelty.db",
			Partition: "manuscripts",
			BlobDir:   "blobs",
		},
		Oracle: OracleConfig{
			HTTPConfig: HTTPConfig{
				Timeout:   5 * time.Minute,
				UserAgent: "novelty-engine/0.1",
			},
			Model:       "claude-sonnet-4-5",
			MaxTokens:   8192,
			MaxAttempts: 5,
		},
		Worker: WorkerConfig{
			PollInterval:  2 * time.Second,
			Lease:         10 * time.Minute,
			RetryDelay:    30 * time.Second,
			MaxDeliveries: 10,
		},
		ManuscriptDir: "manuscripts",
	}
}
