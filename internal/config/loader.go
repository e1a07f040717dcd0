package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt":        {"whisper", "whisper-native"},
	"tts":        {"elevenlabs", "coqui"},
	"embeddings": {"openai", "ollama"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" {
			errs = append(errs, errors.New("server.tls.cert_file is required when tls is set"))
		}
		if cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls.key_file is required when tls is set"))
		}
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)

	// Fallback entries share the primary's kind and must stay one level deep.
	for kind, entry := range map[string]ProviderEntry{
		"llm": cfg.Providers.LLM,
		"stt": cfg.Providers.STT,
		"tts": cfg.Providers.TTS,
	} {
		for _, fb := range entry.Fallbacks {
			validateProviderName(kind, fb.Name)
			if fb.Name == "" {
				errs = append(errs, fmt.Errorf("providers.%s.fallbacks entry is missing a name", kind))
			}
			if len(fb.Fallbacks) > 0 {
				errs = append(errs, fmt.Errorf("providers.%s.fallbacks must not be nested", kind))
			}
		}
	}
	if len(cfg.Providers.Embeddings.Fallbacks) > 0 {
		errs = append(errs, errors.New("providers.embeddings does not support fallbacks"))
	}

	// The turn pipeline cannot run without all three stages.
	if cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm.name is required"))
	}
	if cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt.name is required"))
	}
	if cfg.Providers.TTS.Name == "" {
		errs = append(errs, errors.New("providers.tts.name is required"))
	}

	// VAD thresholds
	if cfg.VAD.MinVoiceFrames < 0 {
		errs = append(errs, fmt.Errorf("vad.min_voice_frames %d must not be negative", cfg.VAD.MinVoiceFrames))
	}
	if cfg.VAD.MinSilenceFrames < 0 {
		errs = append(errs, fmt.Errorf("vad.min_silence_frames %d must not be negative", cfg.VAD.MinSilenceFrames))
	}
	if cfg.VAD.SilenceThreshold < 0 {
		errs = append(errs, fmt.Errorf("vad.silence_threshold %s must not be negative", cfg.VAD.SilenceThreshold))
	}
	if cfg.VAD.MinSpeechDuration < 0 {
		errs = append(errs, fmt.Errorf("vad.min_speech_duration %s must not be negative", cfg.VAD.MinSpeechDuration))
	}
	if cfg.VAD.PreRollFrames < 0 {
		errs = append(errs, fmt.Errorf("vad.pre_roll_frames %d must not be negative", cfg.VAD.PreRollFrames))
	}

	// Chunker
	if cfg.Chunker.MaxBuffered < 0 {
		errs = append(errs, fmt.Errorf("chunker.max_buffered %d must not be negative", cfg.Chunker.MaxBuffered))
	}

	// Session
	if cfg.Session.MaxHistory < 0 {
		errs = append(errs, fmt.Errorf("session.max_history %d must not be negative", cfg.Session.MaxHistory))
	}
	if cfg.Session.MaxSegment < 0 {
		errs = append(errs, fmt.Errorf("session.max_segment %s must not be negative", cfg.Session.MaxSegment))
	}
	if cfg.Session.ContextDocuments < 0 {
		errs = append(errs, fmt.Errorf("session.context_documents %d must not be negative", cfg.Session.ContextDocuments))
	}
	if sf := cfg.Session.Voice.SpeedFactor; sf != 0 && (sf < 0.5 || sf > 2.0) {
		errs = append(errs, fmt.Errorf("session.voice.speed_factor %.2f is out of range [0.5, 2.0]", sf))
	}

	// Voice provider ↔ TTS provider cross-validation
	if vp := cfg.Session.Voice.Provider; vp != "" && cfg.Providers.TTS.Name != "" && vp != cfg.Providers.TTS.Name {
		slog.Warn("session voice provider does not match configured TTS provider",
			"voice_provider", vp,
			"tts_provider", cfg.Providers.TTS.Name,
		)
	}

	// Retrieval availability warnings
	if cfg.Database.PostgresDSN == "" {
		slog.Warn("database.postgres_dsn is empty; context retrieval and exchange archiving are disabled")
	} else {
		if cfg.Providers.Embeddings.Name == "" {
			errs = append(errs, errors.New("database.postgres_dsn is set but providers.embeddings is not configured"))
		}
		if cfg.Database.EmbeddingDimensions <= 0 {
			slog.Warn("database.embedding_dimensions is not set; using the embedding provider's default")
		}
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
