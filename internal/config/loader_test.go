package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// validYAML is a minimal configuration that passes validation.
const validYAML = `
server:
  listen_addr: ":8080"
  log_level: info
providers:
  llm:
    name: openai
    api_key: sk-test
    model: gpt-4o-mini
  stt:
    name: whisper
    model: /models/ggml-base.bin
  tts:
    name: elevenlabs
    api_key: el-test
vad:
  silence_threshold: 200ms
  min_speech_duration: 50ms
session:
  language: de
  voice:
    provider: elevenlabs
    voice_id: v123
    name: anna
  max_segment: 30s
`

func TestLoadFromReader_Valid(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != LogInfo {
		t.Errorf("LogLevel = %q", cfg.Server.LogLevel)
	}
	if cfg.Providers.LLM.Name != "openai" || cfg.Providers.LLM.Model != "gpt-4o-mini" {
		t.Errorf("LLM entry = %+v", cfg.Providers.LLM)
	}
	if cfg.VAD.SilenceThreshold.Std() != 200*time.Millisecond {
		t.Errorf("SilenceThreshold = %s", cfg.VAD.SilenceThreshold)
	}
	if cfg.Session.Voice.VoiceID != "v123" {
		t.Errorf("VoiceID = %q", cfg.Session.Voice.VoiceID)
	}
	if cfg.Session.MaxSegment.Std() != 30*time.Second {
		t.Errorf("MaxSegment = %s", cfg.Session.MaxSegment)
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	yaml := validYAML + "\nunknown_top_level: true\n"
	if _, err := LoadFromReader(strings.NewReader(yaml)); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestLoadFromReader_BadDuration(t *testing.T) {
	yaml := strings.Replace(validYAML, "200ms", "schnell", 1)
	if _, err := LoadFromReader(strings.NewReader(yaml)); err == nil {
		t.Fatal("expected error for unparseable duration")
	}
}

func TestLoadFromReader_InvalidYAML(t *testing.T) {
	if _, err := LoadFromReader(strings.NewReader("server: [")); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(validYAML), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Providers.TTS.Name != "elevenlabs" {
		t.Errorf("TTS name = %q", cfg.Providers.TTS.Name)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Providers: ProvidersConfig{
				LLM: ProviderEntry{Name: "openai"},
				STT: ProviderEntry{Name: "whisper"},
				TTS: ProviderEntry{Name: "elevenlabs"},
			},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "minimal valid",
			mutate: func(*Config) {},
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Server.LogLevel = "verbose" },
			wantErr: "server.log_level",
		},
		{
			name:    "missing llm provider",
			mutate:  func(c *Config) { c.Providers.LLM.Name = "" },
			wantErr: "providers.llm.name",
		},
		{
			name:    "missing stt provider",
			mutate:  func(c *Config) { c.Providers.STT.Name = "" },
			wantErr: "providers.stt.name",
		},
		{
			name:    "missing tts provider",
			mutate:  func(c *Config) { c.Providers.TTS.Name = "" },
			wantErr: "providers.tts.name",
		},
		{
			name:    "tls without key",
			mutate:  func(c *Config) { c.Server.TLS = &TLSConfig{CertFile: "cert.pem"} },
			wantErr: "server.tls.key_file",
		},
		{
			name:    "negative vad frames",
			mutate:  func(c *Config) { c.VAD.MinVoiceFrames = -1 },
			wantErr: "vad.min_voice_frames",
		},
		{
			name:    "speed factor out of range",
			mutate:  func(c *Config) { c.Session.Voice.SpeedFactor = 3.5 },
			wantErr: "speed_factor",
		},
		{
			name:    "negative max history",
			mutate:  func(c *Config) { c.Session.MaxHistory = -2 },
			wantErr: "session.max_history",
		},
		{
			name: "fallback without name",
			mutate: func(c *Config) {
				c.Providers.TTS.Fallbacks = []ProviderEntry{{BaseURL: "http://localhost:5002"}}
			},
			wantErr: "providers.tts.fallbacks",
		},
		{
			name: "nested fallbacks",
			mutate: func(c *Config) {
				c.Providers.LLM.Fallbacks = []ProviderEntry{{
					Name:      "ollama",
					Fallbacks: []ProviderEntry{{Name: "mistral"}},
				}}
			},
			wantErr: "must not be nested",
		},
		{
			name: "embeddings fallbacks rejected",
			mutate: func(c *Config) {
				c.Providers.Embeddings.Fallbacks = []ProviderEntry{{Name: "ollama"}}
			},
			wantErr: "providers.embeddings",
		},
		{
			name: "dsn without embeddings provider",
			mutate: func(c *Config) {
				c.Database.PostgresDSN = "postgres://localhost/stimme"
			},
			wantErr: "providers.embeddings",
		},
		{
			name: "multiple errors are joined",
			mutate: func(c *Config) {
				c.Server.LogLevel = "loud"
				c.Providers.LLM.Name = ""
			},
			wantErr: "server.log_level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := Validate(cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}
