package api

import (
	"time"

	"github.com/skobkin/rigscope/internal/analysis"
	"github.com/skobkin/rigscope/internal/insights"
	"github.com/skobkin/rigscope/internal/metrics"
)

// Message types.
const (
	TypeHello    = "hello"
	TypeSamples  = "samples"
	TypeAnalysis = "analysis"
	TypeAnalyze  = "analyze"
	TypeError    = "error"
	TypePing     = "ping"
	TypePong     = "pong"
)

// HelloMessage is the initial payload sent on WebSocket connection.
type HelloMessage struct {
	Type           string          `json:"type"`
	IntervalMS     int64           `json:"interval_ms"`
	BufferCapacity int             `json:"buffer_capacity"`
	Providers      []string        `json:"providers"`
	Features       map[string]bool `json:"features"`
}

// NewHelloMessage constructs a hello payload.
func NewHelloMessage(interval time.Duration, capacity int, providers []string, features map[string]bool) HelloMessage {
	return HelloMessage{
		Type:           TypeHello,
		IntervalMS:     interval.Milliseconds(),
		BufferCapacity: capacity,
		Providers:      providers,
		Features:       features,
	}
}

// SamplesMessage carries one sampling tick.
type SamplesMessage struct {
	Type    string           `json:"type"`
	TS      time.Time        `json:"ts"`
	Samples []metrics.Sample `json:"samples"`
}

// NewSamplesMessage wraps a tick batch. The timestamp is taken from the
// first sample.
func NewSamplesMessage(batch []metrics.Sample) SamplesMessage {
	msg := SamplesMessage{Type: TypeSamples, Samples: batch}
	if len(batch) > 0 {
		msg.TS = batch[0].Timestamp
	}
	return msg
}

// AnalysisMessage answers an analyze request.
type AnalysisMessage struct {
	Type     string            `json:"type"`
	Result   analysis.Result   `json:"result"`
	Insights insights.Insights `json:"insights"`
}

func NewAnalysisMessage(result analysis.Result, in insights.Insights) AnalysisMessage {
	return AnalysisMessage{Type: TypeAnalysis, Result: result, Insights: in}
}

// ErrorMessage communicates an error condition to the client.
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func NewErrorMessage(message string) ErrorMessage {
	return ErrorMessage{Type: TypeError, Message: message}
}

// ClientMessage is a generic envelope used for decoding inbound client messages.
type ClientMessage struct {
	Type string `json:"type"`
}

// AnalyzeMessage requests an analysis of the live buffer.
type AnalyzeMessage struct {
	Type          string  `json:"type"`
	WindowSeconds float64 `json:"window_seconds"`
	ProfileID     string  `json:"profile_id"`
}

// Window converts WindowSeconds, returning 0 for non-positive values.
func (m AnalyzeMessage) Window() time.Duration {
	if m.WindowSeconds <= 0 {
		return 0
	}
	return time.Duration(m.WindowSeconds * float64(time.Second))
}

// PongMessage is the response to a ping.
type PongMessage struct {
	Type string `json:"type"`
}
