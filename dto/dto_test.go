package dto

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"worker-preview/constant"
)

func TestDecodeVideoUploaded(t *testing.T) {
	body := []byte(`{"eventType":"VideoUploaded","version":"1.0","timestamp":"2026-10-19T10:00:00Z",
		"payload":{"videoId":42,"fileName":"cat.mp4","fileSize":1024}}`)

	env, event, err := Decode(body)
	require.NoError(t, err)
	assert.Equal(t, "1.0", env.Version)
	assert.Equal(t, time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC), env.Timestamp)

	uploaded, ok := event.(VideoUploaded)
	require.True(t, ok, "expected VideoUploaded, got %T", event)
	assert.Equal(t, VideoUploaded{VideoId: 42, FileName: "cat.mp4", FileSize: 1024}, uploaded)
}

func TestDecodePreviewUpdateEvent(t *testing.T) {
	body := []byte(`{"eventType":"PreviewUpdateEvent","version":"1.0","timestamp":"2026-10-19T10:00:00Z",
		"payload":{"videoId":7,"name":"cat.mp4_preview_x","size":99,"status":"ready","createdAt":"2026-10-19T10:00:00Z"}}`)

	_, event, err := Decode(body)
	require.NoError(t, err)

	preview, ok := event.(PreviewUpdateEvent)
	require.True(t, ok)
	assert.True(t, preview.Ready())
	assert.Equal(t, "cat.mp4_preview_x", preview.Name)
	assert.EqualValues(t, 99, preview.Size)
	require.NotNil(t, preview.CreatedAt)
}

func TestDecodeUnknownTypeIsNotAnError(t *testing.T) {
	body := []byte(`{"eventType":"VideoDeleted","version":"2.0","payload":{"videoId":1}}`)

	_, event, err := Decode(body)
	require.NoError(t, err)
	assert.Equal(t, Unknown{Type: "VideoDeleted"}, event)
}

func TestDecodeMalformed(t *testing.T) {
	cases := map[string]string{
		"invalid json":      `{invalid json`,
		"missing type":      `{"version":"1.0","payload":{}}`,
		"missing payload":   `{"eventType":"VideoUploaded","version":"1.0"}`,
		"null payload":      `{"eventType":"PreviewUpdateEvent","payload":null}`,
		"wrong field type":  `{"eventType":"VideoUploaded","payload":{"videoId":"abc","fileName":"a"}}`,
		"missing file name": `{"eventType":"VideoUploaded","payload":{"videoId":1,"fileSize":3}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := Decode([]byte(body))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMalformedEnvelope)
		})
	}
}

func TestEncodeOmitsReadyOnlyFieldsWhileProcessing(t *testing.T) {
	at := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	body, err := Encode(ThumbnailUpdateEvent{VideoId: 3, Status: constant.WireStatusProcessing}, at)
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(body, &raw))
	assert.JSONEq(t, `"ThumbnailUpdateEvent"`, string(raw["eventType"]))
	assert.JSONEq(t, `"1.0"`, string(raw["version"]))
	assert.JSONEq(t, `{"videoId":3,"status":"processing"}`, string(raw["payload"]))
}

func TestEncodeThenDecodeReadySnapshot(t *testing.T) {
	at := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	body, err := Encode(PreviewUpdateEvent{VideoId: 9, Name: "n", Size: 10, Status: constant.WireStatusReady, CreatedAt: &at}, at)
	require.NoError(t, err)

	env, event, err := Decode(body)
	require.NoError(t, err)
	assert.Equal(t, constant.EventTypePreviewUpdateEvent, env.EventType)
	assert.Equal(t, at, env.Timestamp)
	assert.True(t, event.(PreviewUpdateEvent).Ready())
}

func TestEncodeRejectsUnknown(t *testing.T) {
	_, err := Encode(Unknown{Type: "Other"}, time.Now())
	require.Error(t, err)
}
