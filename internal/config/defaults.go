// Package config provides configuration loading and defaults for chatlens.
package config

import (
	"time"

	"github.com/blackwell-systems/chatlens/internal/chats"
)

// DefaultConfigDir is the default location for chatlens configuration.
const DefaultConfigDir = "~/.config/chatlens"

// DefaultDBName is the filename for the run history database.
const DefaultDBName = "chatlens.db"

// DefaultConfigFile is the filename for the YAML config.
const DefaultConfigFile = "config.yaml"

// DefaultEnvFile is read from the working directory before anything else.
const DefaultEnvFile = ".env"

// DefaultDatabase holds the default store connection settings.
var DefaultDatabase = Database{
	Kind:    "postgres",
	Timeout: 30 * time.Second,
}

// DefaultTable describes the ai_chat table.
var DefaultTable = Table{
	Name:    "ai_chat",
	Columns: chats.DefaultColumns(),
}

// DefaultAnalyze holds the defaults for the analyze command.
var DefaultAnalyze = Analyze{
	SampleSize:        1000,
	IncludeEmptyChats: false,
}

// DefaultJudge holds the defaults for the judge command.
var DefaultJudge = Judge{
	Limit:             2,
	IncludeEmptyChats: false,
}

// DefaultLLM targets the OpenAI chat completions API. 120 requests per
// minute spaces sequential calls half a second apart.
var DefaultLLM = LLM{
	BaseURL:           "https://api.openai.com/v1",
	Model:             "gpt-5-nano",
	Timeout:           120 * time.Second,
	MaxRetries:        3,
	Concurrency:       1,
	RequestsPerMinute: 120,
}

// DefaultOutput holds the default output preferences.
var DefaultOutput = Output{
	Dir:   ".",
	Color: true,
}

// DefaultHistory enables the local run history.
var DefaultHistory = History{
	Enabled: true,
}
