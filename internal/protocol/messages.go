// File: internal/protocol/messages.go
package protocol

import (
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Message kinds sent by the client.
const (
	KindSessionConfig     = "session_config"
	KindDOMUpdate         = "dom_update"
	KindTextInput         = "text_input"
	KindSpeakerMute       = "speaker_mute"
	KindExecutionComplete = "execution_complete"
	KindPong              = "pong"
	KindRequestAsset      = "request_asset"
)

// Message kinds received from the agent backend. audio_chunk flows both
// ways: outbound as metadata pairing a binary mic frame, inbound carrying
// synthesized speech.
const (
	KindSessionCreated       = "session_created"
	KindMissionStarted       = "mission_started"
	KindPing                 = "ping"
	KindAgentResponse        = "agent_response"
	KindNavigate             = "navigate"
	KindTurboSpeech          = "turbo_speech"
	KindCommand              = "command"
	KindStateUpdate          = "state_update"
	KindSpeakerMuteConfirmed = "speaker_mute_confirmed"
	KindAssetData            = "asset_data"
	KindAudioChunk           = "audio_chunk"
)

// AgentState is the backend's conversational state announced via state_update.
type AgentState string

const (
	StateListening AgentState = "listening"
	StateThinking  AgentState = "thinking"
	StateSpeaking  AgentState = "speaking"
)

// Command actions the agent may request.
const (
	ActionClick     = "click"
	ActionTypeText  = "type_text"
	ActionScroll    = "scroll"
	ActionScrollTo  = "scroll_to"
	ActionHighlight = "highlight"
	ActionSpotlight = "spotlight"
	ActionClear     = "clear"
	ActionWait      = "wait"
	ActionNavigate  = "navigate"
)

// DecodeError describes a frame the decoder refused.
type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badFrame(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_frame", Message: message, Param: param}
}

func unsupported(message, param string) *DecodeError {
	return &DecodeError{Code: "unsupported", Message: message, Param: param}
}

// Message is implemented by every wire type in either direction.
type Message interface {
	Kind() string
}

// Element is one entry of the page blueprint as it travels on the wire.
type Element struct {
	ID          string `json:"id"`
	Tag         string `json:"tag"`
	Text        string `json:"text"`
	Role        string `json:"role,omitempty"`
	Href        string `json:"href,omitempty"`
	InputType   string `json:"input_type,omitempty"`
	State       string `json:"state,omitempty"`
	X           int    `json:"x"`
	Y           int    `json:"y"`
	W           int    `json:"w"`
	H           int    `json:"h"`
	Interactive bool   `json:"interactive"`
	IsNew       bool   `json:"is_new,omitempty"`
}

// DOMSnapshot is a full blueprint of the visible page.
type DOMSnapshot struct {
	URL       string    `json:"url"`
	Hash      string    `json:"dom_hash"`
	ScrollY   int       `json:"scroll_y"`
	Elements  []Element `json:"elements"`
	Timestamp int64     `json:"timestamp"`
}

// Outcome summarizes what a command did to the page.
type Outcome struct {
	Success         bool   `json:"success"`
	Error           string `json:"error,omitempty"`
	DOMChanged      bool   `json:"dom_changed"`
	URLChanged      bool   `json:"url_changed"`
	NewElementCount int    `json:"new_elements_count"`
	CurrentURL      string `json:"current_url"`
	HasModal        bool   `json:"has_modal"`
	SettleTimeMS    int64  `json:"settle_time_ms"`
	DOMHash         string `json:"dom_hash"`
	ScrollY         int    `json:"scroll_y"`
}

// AudioFormat describes the PCM shape of a stream.
type AudioFormat struct {
	Encoding     string `json:"encoding"`
	SampleRateHz int    `json:"sample_rate_hz"`
	Channels     int    `json:"channels"`
}

// --- Client -> agent ---

// SessionConfig opens or resumes a session; the first frame on a fresh
// control connection.
type SessionConfig struct {
	Type            string       `json:"type"`
	Mode            string       `json:"mode"`
	InteractionMode string       `json:"interaction_mode"`
	SessionID       string       `json:"session_id,omitempty"`
	PendingGoal     string       `json:"pending_goal,omitempty"`
	Turbo           bool         `json:"turbo,omitempty"`
	URL             string       `json:"url"`
	AudioIn         *AudioFormat `json:"audio_in,omitempty"`
	DOMContext      *DOMSnapshot `json:"dom_context,omitempty"`
}

func (SessionConfig) Kind() string { return KindSessionConfig }

// DOMUpdate ships a fresh blueprint when the page changed.
type DOMUpdate struct {
	Type     string `json:"type"`
	Snapshot DOMSnapshot
}

func (DOMUpdate) Kind() string { return KindDOMUpdate }

// domUpdate flattens the snapshot into the frame the agent expects.
type domUpdateWire struct {
	Type      string    `json:"type"`
	URL       string    `json:"url"`
	Hash      string    `json:"dom_hash"`
	ScrollY   int       `json:"scroll_y"`
	Elements  []Element `json:"elements"`
	Timestamp int64     `json:"timestamp"`
}

// MarshalJSON flattens the embedded snapshot.
func (m DOMUpdate) MarshalJSON() ([]byte, error) {
	return json.Marshal(domUpdateWire{
		Type:      KindDOMUpdate,
		URL:       m.Snapshot.URL,
		Hash:      m.Snapshot.Hash,
		ScrollY:   m.Snapshot.ScrollY,
		Elements:  m.Snapshot.Elements,
		Timestamp: m.Snapshot.Timestamp,
	})
}

// UnmarshalJSON rebuilds the snapshot from the flat frame.
func (m *DOMUpdate) UnmarshalJSON(data []byte) error {
	var w domUpdateWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	m.Type = w.Type
	m.Snapshot = DOMSnapshot{
		URL:       w.URL,
		Hash:      w.Hash,
		ScrollY:   w.ScrollY,
		Elements:  w.Elements,
		Timestamp: w.Timestamp,
	}
	return nil
}

// TextInput carries typed user text (turbo mode, or the text box).
type TextInput struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func (TextInput) Kind() string { return KindTextInput }

// SpeakerMute asks the agent to stop/resume sending audio.
type SpeakerMute struct {
	Type  string `json:"type"`
	Muted bool   `json:"muted"`
}

func (SpeakerMute) Kind() string { return KindSpeakerMute }

// ExecutionComplete reports a finished command with its outcome and a forced
// re-scan of the page.
type ExecutionComplete struct {
	Type       string       `json:"type"`
	CommandID  string       `json:"command_id,omitempty"`
	Outcome    Outcome      `json:"outcome"`
	DOMContext *DOMSnapshot `json:"dom_context,omitempty"`
	Timestamp  int64        `json:"timestamp"`
}

func (ExecutionComplete) Kind() string { return KindExecutionComplete }

// Pong answers a ping.
type Pong struct {
	Type string `json:"type"`
}

func (Pong) Kind() string { return KindPong }

// RequestAsset asks the agent to re-send a cacheable asset.
type RequestAsset struct {
	Type    string `json:"type"`
	AssetID string `json:"asset_id"`
}

func (RequestAsset) Kind() string { return KindRequestAsset }

// --- Agent -> client ---

// SessionCreated acknowledges session_config and names the session.
type SessionCreated struct {
	Type      string       `json:"type"`
	SessionID string       `json:"session_id"`
	Resumed   bool         `json:"resumed,omitempty"`
	AudioOut  *AudioFormat `json:"audio_out,omitempty"`
	StreamURL string       `json:"stream_url,omitempty"`
}

func (SessionCreated) Kind() string { return KindSessionCreated }

// MissionStarted announces a multi-step goal the agent is now driving.
type MissionStarted struct {
	Type      string `json:"type"`
	MissionID string `json:"mission_id,omitempty"`
	Goal      string `json:"goal"`
}

func (MissionStarted) Kind() string { return KindMissionStarted }

// Ping is a liveness probe; the client answers with Pong.
type Ping struct {
	Type string `json:"type"`
}

func (Ping) Kind() string { return KindPing }

// AgentResponse carries the agent's textual reply.
type AgentResponse struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func (AgentResponse) Kind() string { return KindAgentResponse }

// Navigate asks the client to move the page to a new URL.
type Navigate struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

func (Navigate) Kind() string { return KindNavigate }

// TurboSpeech is the text-only rendering of agent speech in turbo mode.
type TurboSpeech struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func (TurboSpeech) Kind() string { return KindTurboSpeech }

// Command requests a synthetic page interaction.
type Command struct {
	Type         string `json:"type"`
	ID           string `json:"id,omitempty"`
	Action       string `json:"action"`
	TargetID     string `json:"target_id,omitempty"`
	Text         string `json:"text,omitempty"`
	FallbackText string `json:"fallback_text,omitempty"`
	URL          string `json:"url,omitempty"`
	Direction    string `json:"direction,omitempty"`
}

func (Command) Kind() string { return KindCommand }

// StateUpdate announces the agent's conversational state.
type StateUpdate struct {
	Type  string     `json:"type"`
	State AgentState `json:"state"`
}

func (StateUpdate) Kind() string { return KindStateUpdate }

// SpeakerMuteConfirmed acknowledges a SpeakerMute request.
type SpeakerMuteConfirmed struct {
	Type  string `json:"type"`
	Muted bool   `json:"muted"`
}

func (SpeakerMuteConfirmed) Kind() string { return KindSpeakerMuteConfirmed }

// AssetData delivers a cacheable asset (the orb animation, sounds).
type AssetData struct {
	Type     string `json:"type"`
	AssetID  string `json:"asset_id"`
	MimeType string `json:"mime_type,omitempty"`
	DataB64  string `json:"data_b64"`
}

func (AssetData) Kind() string { return KindAssetData }

// AudioChunk carries synthesized speech on the control channel. When
// BinarySent is set the PCM travels as the next binary websocket frame and
// DataB64 is empty; otherwise the payload is embedded base64.
type AudioChunk struct {
	Type       string `json:"type"`
	Seq        int64  `json:"seq,omitempty"`
	BinarySent bool   `json:"binary_sent,omitempty"`
	DataB64    string `json:"data_b64,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
}

func (AudioChunk) Kind() string { return KindAudioChunk }

// Encode marshals any message for the wire.
func Encode(m Message) ([]byte, error) {
	return json.Marshal(m)
}

// Decode parses one inbound control frame into its typed message.
func Decode(data []byte) (Message, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badFrame("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badFrame("missing type", "type")
	}

	switch typ {
	case KindSessionCreated:
		var msg SessionCreated
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid session_created frame", "")
		}
		if strings.TrimSpace(msg.SessionID) == "" {
			return nil, badFrame("session_created.session_id is required", "session_id")
		}
		return msg, nil
	case KindMissionStarted:
		var msg MissionStarted
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid mission_started frame", "")
		}
		return msg, nil
	case KindPing:
		var msg Ping
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid ping frame", "")
		}
		return msg, nil
	case KindAgentResponse:
		var msg AgentResponse
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid agent_response frame", "")
		}
		return msg, nil
	case KindNavigate:
		var msg Navigate
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid navigate frame", "")
		}
		if strings.TrimSpace(msg.URL) == "" {
			return nil, badFrame("navigate.url is required", "url")
		}
		return msg, nil
	case KindTurboSpeech:
		var msg TurboSpeech
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid turbo_speech frame", "")
		}
		return msg, nil
	case KindCommand:
		var msg Command
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid command frame", "")
		}
		action := strings.TrimSpace(msg.Action)
		if action == "" {
			return nil, badFrame("command.action is required", "action")
		}
		switch action {
		case ActionClick, ActionTypeText, ActionScroll, ActionScrollTo,
			ActionHighlight, ActionSpotlight, ActionClear, ActionWait, ActionNavigate:
		default:
			return nil, unsupported("unsupported command action", "action")
		}
		msg.Action = action
		return msg, nil
	case KindStateUpdate:
		var msg StateUpdate
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid state_update frame", "")
		}
		switch msg.State {
		case StateListening, StateThinking, StateSpeaking:
		default:
			return nil, unsupported("unsupported agent state", "state")
		}
		return msg, nil
	case KindSpeakerMuteConfirmed:
		var msg SpeakerMuteConfirmed
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid speaker_mute_confirmed frame", "")
		}
		return msg, nil
	case KindAssetData:
		var msg AssetData
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid asset_data frame", "")
		}
		if strings.TrimSpace(msg.AssetID) == "" {
			return nil, badFrame("asset_data.asset_id is required", "asset_id")
		}
		return msg, nil
	case KindAudioChunk:
		var msg AudioChunk
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid audio_chunk frame", "")
		}
		if !msg.BinarySent && msg.DataB64 == "" {
			return nil, badFrame("audio_chunk needs data_b64 or binary_sent", "data_b64")
		}
		return msg, nil
	default:
		return nil, unsupported("unsupported message type", "type")
	}
}

// DecodeClient parses a client-originated control frame into its typed
// message: the mirror of Decode for the agent side of the wire. Agent
// implementations and test doubles use it to read what the client sends.
func DecodeClient(data []byte) (Message, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badFrame("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badFrame("missing type", "type")
	}

	switch typ {
	case KindSessionConfig:
		var msg SessionConfig
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid session_config frame", "")
		}
		if strings.TrimSpace(msg.InteractionMode) == "" {
			return nil, badFrame("session_config.interaction_mode is required", "interaction_mode")
		}
		return msg, nil
	case KindDOMUpdate:
		var msg DOMUpdate
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid dom_update frame", "")
		}
		return msg, nil
	case KindTextInput:
		var msg TextInput
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid text_input frame", "")
		}
		if strings.TrimSpace(msg.Text) == "" {
			return nil, badFrame("text_input.text is required", "text")
		}
		return msg, nil
	case KindSpeakerMute:
		var msg SpeakerMute
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid speaker_mute frame", "")
		}
		return msg, nil
	case KindExecutionComplete:
		var msg ExecutionComplete
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid execution_complete frame", "")
		}
		return msg, nil
	case KindPong:
		var msg Pong
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid pong frame", "")
		}
		return msg, nil
	case KindRequestAsset:
		var msg RequestAsset
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid request_asset frame", "")
		}
		if strings.TrimSpace(msg.AssetID) == "" {
			return nil, badFrame("request_asset.asset_id is required", "asset_id")
		}
		return msg, nil
	case KindAudioChunk:
		var msg AudioChunk
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid audio_chunk frame", "")
		}
		return msg, nil
	default:
		return nil, unsupported("unsupported message type", "type")
	}
}

// --- Outbound constructors ---

// NewSessionConfig builds the opening frame for a fresh session.
func NewSessionConfig(mode, url string, audioIn *AudioFormat, snapshot *DOMSnapshot) SessionConfig {
	return SessionConfig{
		Type:            KindSessionConfig,
		Mode:            "visual-copilot",
		InteractionMode: mode,
		URL:             url,
		AudioIn:         audioIn,
		DOMContext:      snapshot,
	}
}

// NewDOMUpdate wraps a snapshot for the wire.
func NewDOMUpdate(snap DOMSnapshot) DOMUpdate {
	return DOMUpdate{Type: KindDOMUpdate, Snapshot: snap}
}

// NewTextInput wraps typed user text.
func NewTextInput(text string) TextInput {
	return TextInput{Type: KindTextInput, Text: text}
}

// NewSpeakerMute wraps a mute toggle.
func NewSpeakerMute(muted bool) SpeakerMute {
	return SpeakerMute{Type: KindSpeakerMute, Muted: muted}
}

// NewExecutionComplete wraps a command outcome report.
func NewExecutionComplete(commandID string, outcome Outcome, snapshot *DOMSnapshot, ts int64) ExecutionComplete {
	return ExecutionComplete{
		Type:       KindExecutionComplete,
		CommandID:  commandID,
		Outcome:    outcome,
		DOMContext: snapshot,
		Timestamp:  ts,
	}
}

// NewPong answers a ping.
func NewPong() Pong { return Pong{Type: KindPong} }

// NewRequestAsset asks for a cacheable asset by id.
func NewRequestAsset(assetID string) RequestAsset {
	return RequestAsset{Type: KindRequestAsset, AssetID: assetID}
}

// NewAudioChunkMeta pairs the next binary frame on the control channel.
func NewAudioChunkMeta(seq int64, sampleRate int) AudioChunk {
	return AudioChunk{Type: KindAudioChunk, Seq: seq, BinarySent: true, SampleRate: sampleRate}
}
