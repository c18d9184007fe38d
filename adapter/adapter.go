// Package adapter defines the notification boundary for finished archive runs.
//
// Adapters publish run completion notifications to downstream systems.
// The CLI owns adapter lifecycle; users provide configuration only.
package adapter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// EventVersion is the payload shape version carried by every event.
const EventVersion = "1"

// EventTypeRunCompleted is the only event type.
const EventTypeRunCompleted = "run_completed"

// RunCompletedEvent is the payload published when an archive run finishes.
type RunCompletedEvent struct {
	Version     string            `json:"version" msgpack:"version"`
	EventType   string            `json:"event_type" msgpack:"event_type"` // always "run_completed"
	RunID       string            `json:"run_id" msgpack:"run_id"`
	ParentRunID string            `json:"parent_run_id,omitempty" msgpack:"parent_run_id,omitempty"`
	Attempt     int               `json:"attempt" msgpack:"attempt"`
	Variant     string            `json:"variant" msgpack:"variant"`
	Month       string            `json:"month" msgpack:"month"`           // YYYY-MM
	URL         string            `json:"url" msgpack:"url"`
	Outcome     string            `json:"outcome" msgpack:"outcome"`       // success, transfer_error, etc.
	Stage       string            `json:"stage,omitempty" msgpack:"stage,omitempty"`
	StoragePath string            `json:"storage_path,omitempty" msgpack:"storage_path,omitempty"`
	Outputs     map[string]string `json:"outputs,omitempty" msgpack:"outputs,omitempty"`
	Timestamp   string            `json:"timestamp" msgpack:"timestamp"`   // RFC 3339
	BytesIn     int64             `json:"bytes_in" msgpack:"bytes_in"`
	Records     int64             `json:"records" msgpack:"records"`
	Kept        int64             `json:"kept" msgpack:"kept"`
	Sampled     int64             `json:"sampled" msgpack:"sampled"`
	DurationMs  int64             `json:"duration_ms" msgpack:"duration_ms"`
}

// Encoding selects the wire format of published payloads.
type Encoding string

const (
	EncodingJSON    Encoding = "json"
	EncodingMsgpack Encoding = "msgpack"
)

// ParseEncoding validates an encoding name. Empty means JSON.
func ParseEncoding(s string) (Encoding, error) {
	switch Encoding(s) {
	case "", EncodingJSON:
		return EncodingJSON, nil
	case EncodingMsgpack:
		return EncodingMsgpack, nil
	default:
		return "", fmt.Errorf("unknown encoding %q (want json or msgpack)", s)
	}
}

// ContentType returns the MIME type for the encoding.
func (e Encoding) ContentType() string {
	if e == EncodingMsgpack {
		return "application/msgpack"
	}
	return "application/json"
}

// Encode serializes event in the given encoding.
func Encode(event *RunCompletedEvent, enc Encoding) ([]byte, error) {
	if enc == EncodingMsgpack {
		return msgpack.Marshal(event)
	}
	return json.Marshal(event)
}

// Decode parses a payload produced by Encode.
func Decode(data []byte, enc Encoding) (*RunCompletedEvent, error) {
	var event RunCompletedEvent
	var err error
	if enc == EncodingMsgpack {
		err = msgpack.Unmarshal(data, &event)
	} else {
		err = json.Unmarshal(data, &event)
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}

// Adapter publishes run completion events to a downstream system.
// Implementations must be safe for single-use per run.
type Adapter interface {
	// Publish sends a run completion event to the downstream system.
	// Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *RunCompletedEvent) error

	// Close releases adapter resources.
	Close() error
}
