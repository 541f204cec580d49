// Package agentproc spawns and speaks to the external agent lead
// process: one long-lived child per cycle, prompt delivered on stdin,
// stdout decoded line-by-line as stream-json. The line dispatcher is
// a tagged-union switch, mirroring the reference daemon's evidence-
// kind switch in internal/stateengine (kindFromStateSource) and its
// CLI subcommand switch in internal/cli.Runner.Run.
package agentproc

import "encoding/json"

type EventKind string

const (
	EventInit      EventKind = "init"
	EventAssistant EventKind = "assistant"
	EventResult    EventKind = "result"
	EventUnknown   EventKind = "unknown"
)

type InitPayload struct {
	SessionID string
	Model     string
}

type AssistantPayload struct {
	TextBlocks []string
	ToolUses   []string
}

type ResultPayload struct {
	NumTurns     *int
	TotalCostUSD *float64
	Subtype      string
}

// StreamEvent is the parsed form of one stdout line.
type StreamEvent struct {
	Kind      EventKind
	Raw       string
	Init      *InitPayload
	Assistant *AssistantPayload
	Result    *ResultPayload
}

type envelope struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype"`

	// system/init fields
	SessionID string `json:"session_id"`
	Model     string `json:"model"`

	// assistant fields
	Message struct {
		Content []contentBlock `json:"content"`
	} `json:"message"`

	// result fields
	NumTurns     *int     `json:"num_turns"`
	TotalCostUSD *float64 `json:"total_cost_usd"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
	Name string `json:"name"`
}

// ParseLine decodes one line of agent stdout. Unparseable lines are
// returned as EventUnknown with Raw populated, matching spec.md §4.E
// step 5 ("Unparseable lines are logged raw").
func ParseLine(line string) StreamEvent {
	var env envelope
	if err := json.Unmarshal([]byte(line), &env); err != nil {
		return StreamEvent{Kind: EventUnknown, Raw: line}
	}
	switch {
	case env.Type == "system" && env.Subtype == "init":
		return StreamEvent{
			Kind: EventInit,
			Raw:  line,
			Init: &InitPayload{SessionID: env.SessionID, Model: env.Model},
		}
	case env.Type == "assistant":
		payload := &AssistantPayload{}
		for _, block := range env.Message.Content {
			switch block.Type {
			case "text":
				payload.TextBlocks = append(payload.TextBlocks, block.Text)
			case "tool_use":
				payload.ToolUses = append(payload.ToolUses, block.Name)
			}
		}
		return StreamEvent{Kind: EventAssistant, Raw: line, Assistant: payload}
	case env.Type == "result":
		return StreamEvent{
			Kind: EventResult,
			Raw:  line,
			Result: &ResultPayload{
				NumTurns:     env.NumTurns,
				TotalCostUSD: env.TotalCostUSD,
				Subtype:      env.Subtype,
			},
		}
	default:
		return StreamEvent{Kind: EventUnknown, Raw: line}
	}
}
