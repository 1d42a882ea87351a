package models

import (
	"encoding/json"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEnvelope(t *testing.T) {
	env, err := ParseEnvelope([]byte(`{"type":"ai-settings","settings":{"objectDetection":true}}`))
	require.NoError(t, err)
	assert.Equal(t, SignalTypeAISettings, env.Type)

	env, err = ParseEnvelope([]byte(`{"type":"custom-thing"}`))
	require.NoError(t, err)
	assert.False(t, env.Type.Known())

	_, err = ParseEnvelope([]byte(`not json`))
	require.Error(t, err)

	_, err = ParseEnvelope([]byte(`{"sdp":"x"}`))
	require.Error(t, err)
}

func TestOfferWireFormat(t *testing.T) {
	data, err := json.Marshal(NewOffer(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"offer","offer":{"type":"offer","sdp":"v=0"}}`, string(data))

	msg, err := ParseSignalMessage(data)
	require.NoError(t, err)
	assert.Equal(t, "v=0", msg.Offer.SDP)
}

func TestCandidateWireFormat(t *testing.T) {
	mid := "0"
	idx := uint16(0)
	raw := `{"type":"ice-candidate","candidate":{"candidate":"candidate:1 1 udp 2122260223 10.0.0.2 50000 typ host","sdpMid":"0","sdpMLineIndex":0}}`

	msg, err := ParseSignalMessage([]byte(raw))
	require.NoError(t, err)
	require.NotNil(t, msg.Candidate)
	assert.Equal(t, &mid, msg.Candidate.SDPMid)
	assert.Equal(t, &idx, msg.Candidate.SDPMLineIndex)
}

func TestParseSignalMessage_Invalid(t *testing.T) {
	cases := map[string]string{
		"missing type":          `{"peerId":"a"}`,
		"offer without sdp":     `{"type":"offer"}`,
		"offer with answer sdp": `{"type":"offer","offer":{"type":"answer","sdp":"v=0"}}`,
		"answer without sdp":    `{"type":"answer","answer":{"type":"answer","sdp":""}}`,
		"candidate missing":     `{"type":"ice-candidate"}`,
		"peer-joined no id":     `{"type":"peer-joined"}`,
		"settings missing":      `{"type":"ai-settings"}`,
		"results missing":       `{"type":"ai-results"}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseSignalMessage([]byte(raw))
			assert.Error(t, err)
		})
	}
}

func TestParseSignalMessage_UnknownTypeAccepted(t *testing.T) {
	msg, err := ParseSignalMessage([]byte(`{"type":"emoji-reaction","emoji":"wave"}`))
	require.NoError(t, err)
	assert.False(t, msg.Type.Known())
}

func TestNewAISettings(t *testing.T) {
	msg, err := NewAISettings(map[string]bool{"objectDetection": true})
	require.NoError(t, err)
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"ai-settings","settings":{"objectDetection":true}}`, string(data))

	_, err = NewAIResults(make(chan int))
	assert.Error(t, err)
}
