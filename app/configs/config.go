package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

type Config struct {
	Agent     AgentConfig     `json:"agent"`
	Worker    WorkerConfig    `json:"worker"`
	Scheduler SchedulerConfig `json:"scheduler"`
	HTTP      HTTPConfig      `json:"http"`
}

type AgentConfig struct {
	Name      string `json:"name"`
	CLIUserID string `json:"cli_user_id"`
}

type WorkerConfig struct {
	OpenAIAPIKey      string `json:"openai_api_key"`
	OpenAIModel       string `json:"openai_model"`
	AnthropicAPIKey   string `json:"anthropic_api_key"`
	AnthropicModel    string `json:"anthropic_model"`
	ImageModel        string `json:"image_model"`
	ImageSize         string `json:"image_size"`
	MaxTokens         int    `json:"max_tokens"`
	RequestTimeoutSec int    `json:"request_timeout_sec"`
}

type SchedulerConfig struct {
	Workers            int `json:"workers"`
	QueueBuffer        int `json:"queue_buffer"`
	StaleRunningMin    int `json:"stale_running_min"`
	HistoryListLimit   int `json:"history_list_limit"`
	ShutdownTimeoutSec int `json:"shutdown_timeout_sec"`
}

type HTTPConfig struct {
	Port int `json:"port"`
}

type Manager struct {
	path string
	mu   sync.RWMutex
	cfg  Config
}

func DefaultPath() string {
	return filepath.Join("config", "config.json")
}

func NewManager(path string) (*Manager, error) {
	mgr := &Manager{
		path: path,
		cfg:  defaultConfig(),
	}
	if err := mgr.load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	}
	if err := mgr.save(); err != nil {
		return nil, err
	}
	return mgr, nil
}

func (m *Manager) Get() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *Manager) Update(apply func(*Config)) (Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	apply(&m.cfg)
	applyDefaults(&m.cfg)
	if err := m.saveLocked(); err != nil {
		return Config{}, err
	}
	return m.cfg, nil
}

func (m *Manager) load() error {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return err
	}
	var fileCfg Config
	if err := json.Unmarshal(data, &fileCfg); err != nil {
		return err
	}
	m.cfg = fileCfg
	applyDefaults(&m.cfg)
	return nil
}

func (m *Manager) save() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveLocked()
}

func (m *Manager) saveLocked() error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(m.cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(m.path, data, 0644)
}

func defaultConfig() Config {
	cfg := Config{
		Agent: AgentConfig{
			Name:      "SuperAgent",
			CLIUserID: "local_user",
		},
		Worker: WorkerConfig{
			OpenAIModel:       "gpt-4o",
			AnthropicModel:    "claude-sonnet-4-5-20250901",
			ImageModel:        "dall-e-3",
			ImageSize:         "1024x1024",
			MaxTokens:         2000,
			RequestTimeoutSec: 120,
		},
		Scheduler: SchedulerConfig{
			Workers:            4,
			QueueBuffer:        64,
			StaleRunningMin:    30,
			HistoryListLimit:   10,
			ShutdownTimeoutSec: 5,
		},
		HTTP: HTTPConfig{
			Port: 8080,
		},
	}
	applyDefaults(&cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Agent.Name) == "" {
		cfg.Agent.Name = "SuperAgent"
	}
	if strings.TrimSpace(cfg.Agent.CLIUserID) == "" {
		cfg.Agent.CLIUserID = "local_user"
	}
	// API keys come from the environment when the config file leaves them blank.
	if strings.TrimSpace(cfg.Worker.OpenAIAPIKey) == "" {
		cfg.Worker.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	}
	if strings.TrimSpace(cfg.Worker.AnthropicAPIKey) == "" {
		cfg.Worker.AnthropicAPIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if strings.TrimSpace(cfg.Worker.OpenAIModel) == "" {
		cfg.Worker.OpenAIModel = "gpt-4o"
	}
	if strings.TrimSpace(cfg.Worker.AnthropicModel) == "" {
		cfg.Worker.AnthropicModel = "claude-sonnet-4-5-20250901"
	}
	if strings.TrimSpace(cfg.Worker.ImageModel) == "" {
		cfg.Worker.ImageModel = "dall-e-3"
	}
	if strings.TrimSpace(cfg.Worker.ImageSize) == "" {
		cfg.Worker.ImageSize = "1024x1024"
	}
	if cfg.Worker.MaxTokens <= 0 {
		cfg.Worker.MaxTokens = 2000
	}
	if cfg.Worker.RequestTimeoutSec <= 0 {
		cfg.Worker.RequestTimeoutSec = 120
	}
	if cfg.Scheduler.Workers <= 0 {
		cfg.Scheduler.Workers = 4
	}
	if cfg.Scheduler.QueueBuffer <= 0 {
		cfg.Scheduler.QueueBuffer = 64
	}
	if cfg.Scheduler.StaleRunningMin <= 0 {
		cfg.Scheduler.StaleRunningMin = 30
	}
	if cfg.Scheduler.HistoryListLimit <= 0 {
		cfg.Scheduler.HistoryListLimit = 10
	}
	if cfg.Scheduler.ShutdownTimeoutSec <= 0 {
		cfg.Scheduler.ShutdownTimeoutSec = 5
	}
	if cfg.HTTP.Port <= 0 {
		cfg.HTTP.Port = 8080
	}
}
