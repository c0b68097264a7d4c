package dto

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"worker-preview/constant"
)

var ErrMalformedEnvelope = errors.New("malformed envelope")

// Envelope is the typed, versioned wrapper carried on every topic.
type Envelope struct {
	EventType string          `json:"eventType"`
	Version   string          `json:"version"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Event is implemented by every payload the pipeline understands.
type Event interface {
	EventType() string
}

type VideoUploaded struct {
	VideoId  int64  `json:"videoId"`
	FileName string `json:"fileName"`
	FileSize int64  `json:"fileSize"`
}

func (VideoUploaded) EventType() string { return constant.EventTypeVideoUploaded }

type PreviewUpdateEvent struct {
	VideoId   int64               `json:"videoId"`
	Name      string              `json:"name,omitempty"`
	Size      int64               `json:"size,omitempty"`
	Status    constant.WireStatus `json:"status"`
	CreatedAt *time.Time          `json:"createdAt,omitempty"`
}

func (PreviewUpdateEvent) EventType() string { return constant.EventTypePreviewUpdateEvent }

// Ready reports whether the preview can be used as a thumbnail source.
func (e PreviewUpdateEvent) Ready() bool {
	return e.Status == constant.WireStatusReady
}

type ThumbnailUpdateEvent struct {
	VideoId   int64               `json:"videoId"`
	Name      string              `json:"name,omitempty"`
	Size      int64               `json:"size,omitempty"`
	Status    constant.WireStatus `json:"status"`
	CreatedAt *time.Time          `json:"createdAt,omitempty"`
}

func (ThumbnailUpdateEvent) EventType() string { return constant.EventTypeThumbnailUpdateEvent }

// Unknown carries an event type this worker does not handle.
type Unknown struct {
	Type string
}

func (u Unknown) EventType() string { return u.Type }

// Decode parses an envelope and resolves its payload to a concrete event.
// Unrecognised event types decode to Unknown without error.
func Decode(body []byte) (Envelope, Event, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, nil, errors.Join(ErrMalformedEnvelope, err)
	}
	if strings.TrimSpace(env.EventType) == "" {
		return env, nil, fmt.Errorf("%w: missing eventType", ErrMalformedEnvelope)
	}

	var event Event
	switch env.EventType {
	case constant.EventTypeVideoUploaded:
		var payload VideoUploaded
		if err := decodePayload(env, &payload); err != nil {
			return env, nil, err
		}
		if strings.TrimSpace(payload.FileName) == "" {
			return env, nil, fmt.Errorf("%w: VideoUploaded without fileName", ErrMalformedEnvelope)
		}
		event = payload
	case constant.EventTypePreviewUpdateEvent:
		var payload PreviewUpdateEvent
		if err := decodePayload(env, &payload); err != nil {
			return env, nil, err
		}
		event = payload
	case constant.EventTypeThumbnailUpdateEvent:
		var payload ThumbnailUpdateEvent
		if err := decodePayload(env, &payload); err != nil {
			return env, nil, err
		}
		event = payload
	default:
		event = Unknown{Type: env.EventType}
	}

	return env, event, nil
}

func decodePayload(env Envelope, target any) error {
	if len(env.Payload) == 0 || string(env.Payload) == "null" {
		return fmt.Errorf("%w: %s without payload", ErrMalformedEnvelope, env.EventType)
	}
	if err := json.Unmarshal(env.Payload, target); err != nil {
		return errors.Join(ErrMalformedEnvelope, fmt.Errorf("decode %s payload: %w", env.EventType, err))
	}
	return nil
}

// Encode wraps the event in a versioned envelope stamped with at.
func Encode(event Event, at time.Time) ([]byte, error) {
	if _, ok := event.(Unknown); ok {
		return nil, fmt.Errorf("cannot encode unknown event type %q", event.EventType())
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}

	return json.Marshal(Envelope{
		EventType: event.EventType(),
		Version:   constant.EventVersion,
		Timestamp: at.UTC(),
		Payload:   payload,
	})
}
