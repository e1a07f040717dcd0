package tts

// VoiceProfile describes a TTS voice configuration.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider identifies which TTS backend this voice belongs to.
	Provider string

	// SpeedFactor adjusts speaking rate (0.5–2.0, 0 = provider default).
	SpeedFactor float64

	// Metadata holds provider-specific voice attributes (gender, language,
	// accent, etc.).
	Metadata map[string]string
}
