package trace

import (
	"go.opentelemetry.io/otel/attribute"
)

// Common attribute keys used throughout the application
const (
	// Request attributes
	AttrRequestID   = "request.id"
	AttrStage       = "pipeline.stage"
	AttrOutputFmt   = "output.format"
	AttrLanguage    = "workout.language"
	AttrInstrCount  = "workout.instructions"
	AttrTotalSecs   = "workout.total_seconds"
	AttrBackgrounds = "workout.backgrounds"

	// Audio attributes
	AttrAudioSampleRate = "audio.sample_rate"
	AttrAudioChannels   = "audio.channels"
	AttrAudioFrames     = "audio.frames"

	// Speech attributes
	AttrTTSProvider = "tts.provider"
	AttrTTSVoice    = "tts.voice"
	AttrInstrIndex  = "instruction.index"

	// Background attributes
	AttrStrategy = "background.strategy"
	AttrSource   = "background.source"
	AttrCacheHit = "background.cache_hit"

	// Loudness attributes
	AttrMeasuredLUFS = "loudness.measured_lufs"
	AttrGainDB       = "loudness.gain_db"

	// Error attributes
	AttrErrorType    = "error.type"
	AttrErrorMessage = "error.message"
)

// WorkoutAttrs describes the workout being rendered.
func WorkoutAttrs(instructions, totalSeconds, backgrounds int, language string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(AttrInstrCount, instructions),
		attribute.Int(AttrTotalSecs, totalSeconds),
		attribute.Int(AttrBackgrounds, backgrounds),
		attribute.String(AttrLanguage, language),
	}
}

// AudioAttrs creates attributes for a decoded segment
func AudioAttrs(sampleRate, channels, frames int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(AttrAudioSampleRate, sampleRate),
		attribute.Int(AttrAudioChannels, channels),
		attribute.Int(AttrAudioFrames, frames),
	}
}

// LoudnessAttrs records what the normalizer did.
func LoudnessAttrs(measured, gain float64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Float64(AttrMeasuredLUFS, measured),
		attribute.Float64(AttrGainDB, gain),
	}
}

// ErrorAttrs creates attributes for errors
func ErrorAttrs(errType, errMsg string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrErrorType, errType),
		attribute.String(AttrErrorMessage, errMsg),
	}
}
