package speech

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/interview-sim/backend/internal/config"
	speechmodel "github.com/zhouzirui/interview-sim/backend/internal/model/speech"
)

type fakeVolcengine struct {
	t        *testing.T
	upgrader websocket.Upgrader

	mu        sync.Mutex
	resources []string
	requests  []volcengineTTSRequest

	// resources that answer with a speaker mismatch
	mismatch map[string]bool
}

func (f *fakeVolcengine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resource := r.Header.Get("X-Api-Resource-Id")
	if r.Header.Get("X-Api-App-Key") != "app" || r.Header.Get("X-Api-Access-Key") != "token" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.t.Errorf("upgrade: %v", err)
		return
	}
	defer conn.Close()

	f.mu.Lock()
	f.resources = append(f.resources, resource)
	f.mu.Unlock()

	_, data, err := conn.ReadMessage()
	if err != nil {
		return // probe connections close without a request
	}
	req, err := decodeFrame(data)
	if err != nil {
		f.t.Errorf("decode client frame: %v", err)
		return
	}
	var body volcengineTTSRequest
	if err := sonic.Unmarshal(req.Payload, &body); err != nil {
		f.t.Errorf("decode client payload: %v", err)
		return
	}
	f.mu.Lock()
	f.requests = append(f.requests, body)
	f.mu.Unlock()

	if f.mismatch[resource] {
		_ = conn.WriteMessage(websocket.BinaryMessage, encodeFrame(&frame{
			Type:      msgError,
			ErrorCode: 45000000,
			Payload:   []byte(`{"error":"resource ID is mismatched with speaker related resource"}`),
		}))
		return
	}

	gz, _ := gzipBytes([]byte{1, 0, 2, 0})
	frames := []*frame{
		{Type: msgAudioOnlyResponse, Flags: flagPositiveSequence, Sequence: 1, Payload: []byte{0, 0, 0, 0}},
		{Type: msgAudioOnlyResponse, Flags: flagPositiveSequence, Sequence: 2, Compression: compressionGzip, Payload: gz},
		{
			Type:          msgFullServerResponse,
			Flags:         flagWithEvent,
			Serialization: serializationJSON,
			Event:         eventSessionFinished,
			SessionID:     "s",
			Payload:       []byte(fmt.Sprintf(`{"code":0,"data":%q}`, base64.StdEncoding.EncodeToString([]byte{3, 0}))),
		},
	}
	for _, fr := range frames {
		if err := conn.WriteMessage(websocket.BinaryMessage, encodeFrame(fr)); err != nil {
			return
		}
	}
}

func (f *fakeVolcengine) seen() ([]string, []volcengineTTSRequest) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.resources...), append([]volcengineTTSRequest(nil), f.requests...)
}

func newVolcengineEngine(t *testing.T, fake *fakeVolcengine, resourceID string) (*VolcengineEngine, func()) {
	t.Helper()
	fake.t = t
	srv := httptest.NewServer(fake)
	engine := NewVolcengineEngine(config.SpeechConfig{
		Endpoint:    "ws" + strings.TrimPrefix(srv.URL, "http"),
		AppID:       "app",
		AccessToken: "token",
		ResourceID:  resourceID,
		SampleRate:  24000,
	}, nil)
	return engine, srv.Close
}

func TestVolcengineEngineSynthesizes(t *testing.T) {
	fake := &fakeVolcengine{}
	engine, closeSrv := newVolcengineEngine(t, fake, "seed-tts-1.0")
	defer closeSrv()

	pcm, err := collect(context.Background(), engine, speechmodel.TTSRequest{Text: "hello", Voice: "en_female_amy_jupiter_bigtts"})
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 0, 1, 0, 2, 0, 3, 0}, pcm)

	resources, requests := fake.seen()
	require.Len(t, requests, 1)
	got := requests[0]
	assert.Equal(t, "hello", got.ReqParams.Text)
	assert.Equal(t, "en_female_amy_jupiter_bigtts", got.ReqParams.Speaker)
	assert.Equal(t, "pcm", got.ReqParams.AudioParams.Format)
	assert.Equal(t, 24000, got.ReqParams.AudioParams.SampleRate)
	assert.Equal(t, []string{"seed-tts-1.0"}, resources)
}

func TestVolcengineEngineFallsBackOnResourceMismatch(t *testing.T) {
	fake := &fakeVolcengine{mismatch: map[string]bool{"seed-tts-1.0": true}}
	engine, closeSrv := newVolcengineEngine(t, fake, "seed-tts-1.0")
	defer closeSrv()

	pcm, err := collect(context.Background(), engine, speechmodel.TTSRequest{Text: "hello", Voice: "zh_female_vv_uranus_bigtts"})
	require.NoError(t, err)
	assert.Len(t, pcm, 10)
	resources, _ := fake.seen()
	assert.Equal(t, []string{"seed-tts-1.0", "seed-tts-2.0"}, resources)
}

func TestVolcengineEngineReportsServerError(t *testing.T) {
	fake := &fakeVolcengine{mismatch: map[string]bool{"volc.megatts.default": true}}
	engine, closeSrv := newVolcengineEngine(t, fake, "")
	defer closeSrv()

	_, err := collect(context.Background(), engine, speechmodel.TTSRequest{Text: "hello", Voice: "S_clone"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mismatched")
}

func TestVolcengineEngineRequiresCredentials(t *testing.T) {
	engine := NewVolcengineEngine(config.SpeechConfig{Endpoint: "ws://127.0.0.1:1"}, nil)

	_, err := engine.Stream(context.Background(), speechmodel.TTSRequest{Text: "hi", Voice: "v"})
	assert.Error(t, err)
	assert.Error(t, engine.Probe(context.Background()))
}

func TestVolcengineEngineProbe(t *testing.T) {
	fake := &fakeVolcengine{}
	engine, closeSrv := newVolcengineEngine(t, fake, "seed-tts-1.0")
	defer closeSrv()

	assert.NoError(t, engine.Probe(context.Background()))

	engine.token = "wrong"
	assert.Error(t, engine.Probe(context.Background()))
}

func TestFrameRoundTrip(t *testing.T) {
	cases := []*frame{
		{Type: msgFullClientRequest, Serialization: serializationJSON, Payload: []byte(`{"a":1}`)},
		{Type: msgAudioOnlyResponse, Flags: flagNegativeSequence, Sequence: -3, Payload: []byte{9, 9}},
		{Type: msgError, ErrorCode: 55000001, Payload: []byte("boom")},
		{Type: msgFullServerResponse, Flags: flagWithEvent, Event: eventConnectionStarted, ConnectID: "c-1"},
		{Type: msgFullServerResponse, Flags: flagWithEvent, Event: eventSessionFinished, SessionID: "s-1", Payload: []byte("{}")},
	}

	for _, want := range cases {
		got, err := decodeFrame(encodeFrame(want))
		require.NoError(t, err)
		assert.Equal(t, want.Type, got.Type)
		assert.Equal(t, want.Flags, got.Flags)
		assert.Equal(t, want.Sequence, got.Sequence)
		assert.Equal(t, want.Event, got.Event)
		assert.Equal(t, want.SessionID, got.SessionID)
		assert.Equal(t, want.ConnectID, got.ConnectID)
		assert.Equal(t, want.ErrorCode, got.ErrorCode)
		assert.Equal(t, string(want.Payload), string(got.Payload))
	}

	last, _ := decodeFrame(encodeFrame(cases[1]))
	assert.True(t, last.last())
}

func TestDecodeFrameRejectsGarbage(t *testing.T) {
	_, err := decodeFrame([]byte{0x21, 0x10, 0x10, 0x00})
	assert.ErrorIs(t, err, errUnsupportedVersion)

	_, err = decodeFrame([]byte{0x11})
	assert.Error(t, err)

	_, err = decodeFrame([]byte{0x11, 0x90, 0x10, 0x00, 0, 0, 0, 9, 1})
	assert.Error(t, err, "truncated payload")
}

func TestGzipPayload(t *testing.T) {
	req, err := newClientRequest([]byte(`{"text":"hi"}`), compressionGzip)
	require.NoError(t, err)

	got, err := decodeFrame(encodeFrame(req))
	require.NoError(t, err)
	body, err := got.payload()
	require.NoError(t, err)
	assert.Equal(t, `{"text":"hi"}`, string(body))
}

func TestResolveTTSResourceCandidates(t *testing.T) {
	tests := []struct {
		name  string
		voice string
		want  []string
	}{
		{name: "default voice", voice: "", want: []string{"volc.service_type.10029", "seed-tts-2.0"}},
		{name: "mega clone voice", voice: "S_clone_speaker", want: []string{"volc.megatts.default"}},
		{name: "bigtts voice", voice: "zh_female_vv_uranus_bigtts", want: []string{"seed-tts-2.0", "volc.service_type.10029"}},
		{name: "legacy 1.0 voice", voice: "zh_male_organizer", want: []string{"volc.service_type.10029", "seed-tts-2.0"}},
	}

	for _, tt := range tests {
		got := resolveTTSResourceCandidates(tt.voice)
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("%s: resolveTTSResourceCandidates(%q) = %v, want %v", tt.name, tt.voice, got, tt.want)
		}
	}
}

func TestIsResourceMismatchError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil error", err: nil, want: false},
		{name: "unrelated error", err: fmt.Errorf("some other error"), want: false},
		{name: "mismatch substring", err: fmt.Errorf("tts error: {\"error\":\"resource ID is mismatched with speaker related resource\"}"), want: true},
	}

	for _, tc := range cases {
		if got := isResourceMismatchError(tc.err); got != tc.want {
			t.Errorf("%s: isResourceMismatchError(%v) = %v, want %v", tc.name, tc.err, got, tc.want)
		}
	}
}
