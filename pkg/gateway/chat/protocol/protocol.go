package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Processing stage names carried by ServerProcessingStatus. The coordinator
// emits them in this order for a successful turn; "transcribing" only appears
// for audio input.
const (
	StatusTranscribing       = "transcribing"
	StatusGeneratingResponse = "generating_response"
	StatusGeneratingAudio    = "generating_audio"
	StatusComplete           = "complete"
)

// Error type tags carried by ServerError.
const (
	ErrTypeAudioProcessing = "audio_processing_error"
	ErrTypeTextProcessing  = "text_processing_error"
	ErrTypeConnection      = "connection_error"
	ErrTypeBusyRejected    = "busy_rejected"
)

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

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

// ClientAudioMessage submits a turn whose input is a complete encoded audio
// clip. Audio is the base64 encoding of the clip bytes; Format is the
// container name detected by the client (wav, webm, mp3, ogg).
type ClientAudioMessage struct {
	Type   string `json:"type"`
	Audio  string `json:"audio"`
	Format string `json:"format,omitempty"`
}

// ClientTextMessage submits a turn whose input is literal text.
type ClientTextMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ClientClearContext asks the server to empty the session history.
type ClientClearContext struct {
	Type string `json:"type"`
}

// DecodeClientMessage decodes one inbound text frame into its typed form.
// Unknown or malformed frames yield a *DecodeError.
func DecodeClientMessage(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badRequest("missing type", "type")
	}

	switch typ {
	case "audio_message":
		var msg ClientAudioMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid audio_message", "")
		}
		if strings.TrimSpace(msg.Audio) == "" {
			return nil, badRequest("audio_message.audio is required", "audio")
		}
		return msg, nil
	case "text_message":
		var msg ClientTextMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid text_message", "")
		}
		if strings.TrimSpace(msg.Text) == "" {
			return nil, badRequest("text_message.text is required", "text")
		}
		return msg, nil
	case "clear_context":
		var msg ClientClearContext
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid clear_context", "")
		}
		return msg, nil
	default:
		return nil, badRequest("unsupported message type", "type")
	}
}

// ServerProcessingStatus reports which turn stage is about to run, or that
// the turn finished.
type ServerProcessingStatus struct {
	Type   string `json:"type"`
	Status string `json:"status"`
}

// ServerUserMessage echoes the resolved user utterance (transcript for audio
// input, the literal text otherwise).
type ServerUserMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ServerAIResponse carries the generated reply text.
type ServerAIResponse struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ServerAudioResponse carries the synthesized reply audio, base64-encoded,
// with its encoding tag (mp3 in the default configuration).
type ServerAudioResponse struct {
	Type        string `json:"type"`
	AudioBuffer string `json:"audioBuffer"`
	Format      string `json:"format"`
}

// ServerError reports a failed turn or a rejected submission. Message is
// human-readable; ErrType is one of the ErrType* tags.
type ServerError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	ErrType string `json:"errorType"`
}

// ServerContextCleared acknowledges a clear_context request.
type ServerContextCleared struct {
	Type string `json:"type"`
}

func NewProcessingStatus(status string) ServerProcessingStatus {
	return ServerProcessingStatus{Type: "processing_status", Status: status}
}

func NewUserMessage(text string) ServerUserMessage {
	return ServerUserMessage{Type: "user_message", Text: text}
}

func NewAIResponse(text string) ServerAIResponse {
	return ServerAIResponse{Type: "ai_response", Text: text}
}

func NewAudioResponse(audioB64, format string) ServerAudioResponse {
	return ServerAudioResponse{Type: "audio_response", AudioBuffer: audioB64, Format: format}
}

func NewError(message, errType string) ServerError {
	return ServerError{Type: "error", Message: message, ErrType: errType}
}

func NewContextCleared() ServerContextCleared {
	return ServerContextCleared{Type: "context_cleared"}
}
