package app

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	HTTPAddr      string
	PublicBaseURL string
	DatabaseURL   string
	SentryDSN     string
	LogLevel      string

	// Telephony
	TwilioAuthTok string

	// Speech and language providers
	SarvamAPIKey string
	GroqAPIKey   string
	GroqModel    string

	// Voice settings
	SystemPrompt string
	GreetingText string
	TTSSpeaker   string
	TTSLanguage  string

	// Endpointing
	VADSpeechFrames    int
	VADSilenceFrames   int
	VADEnergyThreshold float64
	MinUtteranceBytes  int

	// Turn re-arm timing
	PostPlayDelay time.Duration
	RearmDelay    time.Duration
}

func LoadConfigFromEnv() Config {
	return Config{
		HTTPAddr:      getenv("HTTP_ADDR", ":8080"),
		PublicBaseURL: getenv("PUBLIC_BASE_URL", "http://localhost:8080"),
		DatabaseURL:   getenv("DATABASE_URL", ""),
		SentryDSN:     getenv("SENTRY_DSN", ""),
		LogLevel:      getenv("LOG_LEVEL", "info"),

		TwilioAuthTok: getenv("TWILIO_AUTH_TOKEN", ""),

		// Speech and language providers
		SarvamAPIKey: getenv("SARVAM_API_KEY", ""),
		GroqAPIKey:   getenv("GROQ_API_KEY", ""),
		GroqModel:    getenv("GROQ_MODEL", "llama-3.3-70b-versatile"),

		// Voice settings. Empty values fall back to the pipeline defaults.
		SystemPrompt: getenv("SYSTEM_PROMPT", ""),
		GreetingText: getenv("GREETING_TEXT", ""),
		TTSSpeaker:   getenv("TTS_SPEAKER", "ishita"),
		TTSLanguage:  getenv("TTS_LANGUAGE", "hi-IN"),

		// Endpointing. The frame counts are 20ms frames, so the defaults
		// mean 120ms to open a turn and 360ms of silence to close it.
		VADSpeechFrames:    getenvIntClamped("VAD_SPEECH_FRAMES", 6, 1, 50),
		VADSilenceFrames:   getenvIntClamped("VAD_SILENCE_FRAMES", 18, 1, 150),
		VADEnergyThreshold: getenvFloatClamped("VAD_ENERGY_THRESHOLD", 300, 1, 10000),
		MinUtteranceBytes:  getenvIntClamped("MIN_UTTERANCE_BYTES", 6400, 320, 1<<20),

		PostPlayDelay: getenvDuration("POST_PLAY_DELAY", time.Second),
		RearmDelay:    getenvDuration("REARM_DELAY", 300*time.Millisecond),
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// getenvIntClamped parses an int from the environment and clamps it to
// [min, max]. Unset or unparseable values yield the default.
func getenvIntClamped(k string, def, min, max int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}

func getenvFloatClamped(k string, def, min, max float64) float64 {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	if f < min {
		return min
	}
	if f > max {
		return max
	}
	return f
}

func getenvDuration(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return def
	}
	return d
}
