package reservations

import (
	"strings"

	"voice-agent-platform/internal/config"
	"voice-agent-platform/internal/realtime"
	"voice-agent-platform/internal/records"
)

// ToolName is the only function the voice agent is offered.
const ToolName = "create_reservation"

const genericInstructions = "You are a helpful restaurant receptionist."

// Instructions builds the agent's system prompt from the restaurant profile.
// A nil profile yields the generic receptionist prompt.
func Instructions(cfg *records.AgentConfig) string {
	if cfg == nil {
		return genericInstructions
	}
	var b strings.Builder
	b.WriteString("You are a receptionist for " + cfg.RestaurantName + ".\n")
	b.WriteString("Hours: " + cfg.RestaurantHours + "\n")
	b.WriteString("Menu: " + cfg.Menu + "\n")
	b.WriteString(cfg.Instructions + "\n\n")
	b.WriteString("When a customer wants to make a reservation, collect the following information: " +
		"1. Their name 2. Their email address (important for confirmation) 3. The date 4. The time 5. Number of guests\n\n")
	b.WriteString("Once you have all information, use the " + ToolName + " function to book their table.")
	return b.String()
}

// Tool is the create_reservation function schema.
func Tool() realtime.Tool {
	return realtime.Tool{
		Type:        "function",
		Name:        ToolName,
		Description: "Create a restaurant reservation once the caller has given all details.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"name":   map[string]any{"type": "string", "description": "Customer name"},
				"email":  map[string]any{"type": "string", "description": "Customer email address for the confirmation"},
				"date":   map[string]any{"type": "string", "description": "Reservation date (YYYY-MM-DD)"},
				"time":   map[string]any{"type": "string", "description": "Reservation time (HH:MM)"},
				"guests": map[string]any{"type": "number", "description": "Number of guests"},
			},
			"required":             []string{"name", "email", "date", "time", "guests"},
			"additionalProperties": false,
		},
	}
}

// SessionConfig assembles the session.update payload for one call.
// audioFormat is the provider-side format for both directions.
func SessionConfig(rt config.RealtimeConfig, agent *records.AgentConfig, audioFormat string) realtime.SessionConfig {
	sc := realtime.SessionConfig{
		Modalities:        []string{"text", "audio"},
		Instructions:      Instructions(agent),
		Voice:             rt.Voice,
		InputAudioFormat:  audioFormat,
		OutputAudioFormat: audioFormat,
		TurnDetection:     realtime.ServerVAD(rt.VADThreshold, rt.VADPrefixPaddingMs, rt.VADSilenceDurationMs),
		Tools:             []realtime.Tool{Tool()},
		ToolChoice:        "auto",
		Temperature:       rt.Temperature,
	}
	if rt.TranscriptionModel != "" {
		sc.InputAudioTranscription = &realtime.Transcription{Model: rt.TranscriptionModel}
	}
	return sc
}
