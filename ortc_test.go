package callsdk

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRtpCapabilities(t *testing.T) {
	caps, err := parseRtpCapabilities(testRtpCapabilities)
	require.NoError(t, err)

	require.Len(t, caps.Codecs, 3)
	assert.Equal(t, MediaKind_Audio, caps.Codecs[0].Kind)
	assert.Equal(t, 2, caps.Codecs[0].Channels)
	assert.EqualValues(t, 101, caps.Codecs[2].Parameters["apt"])

	require.Len(t, caps.HeaderExtensions, 1)
	assert.Equal(t, "sendrecv", caps.HeaderExtensions[0].Direction)

	assert.True(t, canProduce(caps, MediaKind_Audio))
	assert.True(t, canProduce(caps, MediaKind_Video))
}

func TestParseRtpCapabilities_Defaults(t *testing.T) {
	caps, err := parseRtpCapabilities(json.RawMessage(`{
		"codecs": [{"kind": "video", "mimeType": "audio/PCMU", "clockRate": 8000}]
	}`))
	require.NoError(t, err)

	// kind follows the mime type
	assert.Equal(t, MediaKind_Audio, caps.Codecs[0].Kind)
	assert.Equal(t, 1, caps.Codecs[0].Channels)
	assert.False(t, canProduce(caps, MediaKind_Video))
}

func TestParseRtpCapabilities_Invalid(t *testing.T) {
	cases := []string{
		``,
		`[]`,
		`{"codecs":[]}`,
		`{"codecs":[null]}`,
		`{"codecs":[{"mimeType":"opus","clockRate":48000}]}`,
		`{"codecs":[{"mimeType":"audio/opus"}]}`,
		`{"codecs":[{"mimeType":"audio/opus","clockRate":48000,"rtcpFeedback":[{"type":""}]}]}`,
		`{"codecs":[{"mimeType":"audio/opus","clockRate":48000}],"headerExtensions":[{"kind":"data","uri":"x","preferredId":1}]}`,
		`{"codecs":[{"mimeType":"audio/opus","clockRate":48000}],"headerExtensions":[{"preferredId":1}]}`,
		`{"codecs":[{"mimeType":"audio/opus","clockRate":48000}],"headerExtensions":[{"uri":"x"}]}`,
	}
	for _, data := range cases {
		_, err := parseRtpCapabilities(json.RawMessage(data))
		assert.IsType(t, TypeError{}, err, data)
	}
}

func TestCanProduce_RtxOnly(t *testing.T) {
	caps, err := parseRtpCapabilities(json.RawMessage(`{
		"codecs": [
			{"mimeType": "audio/opus", "clockRate": 48000, "channels": 2},
			{"mimeType": "video/rtx", "clockRate": 90000}
		]
	}`))
	require.NoError(t, err)

	assert.True(t, canProduce(caps, MediaKind_Audio))
	assert.False(t, canProduce(caps, MediaKind_Video))
}
