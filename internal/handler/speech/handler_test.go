package speech

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	speechmodel "github.com/zhouzirui/interview-sim/backend/internal/model/speech"
	speechsvc "github.com/zhouzirui/interview-sim/backend/internal/service/speech"
)

type fakeSpeechService struct {
	enabled bool
	err     error
	audio   []byte
	lastReq speechmodel.TTSRequest
}

func (f *fakeSpeechService) EngineName() string { return "kokoro" }
func (f *fakeSpeechService) Enabled() bool { return f.enabled }
func (f *fakeSpeechService) Format() speechmodel.AudioFormat {
	return speechmodel.DefaultAudioFormat()
}

func (f *fakeSpeechService) SynthesizeRequest(_ context.Context, req speechmodel.TTSRequest) (*speechmodel.TTSResponse, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	frames := len(f.audio) / 2
	return &speechmodel.TTSResponse{Audio: f.audio, Frames: frames, Duration: float64(frames) / 24000}, nil
}

func setupRouter(svc *fakeSpeechService) *chi.Mux {
	r := chi.NewRouter()
	New(svc, nil).RegisterRoutes(r)
	return r
}

func postSynthesize(r http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/speech/synthesize", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestSynthesizeReturnsWAV(t *testing.T) {
	svc := &fakeSpeechService{enabled: true, audio: []byte("RIFF....WAVEdata")}
	rec := postSynthesize(setupRouter(svc), `{"text":"Olá","language":"pt-BR","voice":"pf_dora"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != "audio/wav" {
		t.Fatalf("unexpected content type %q", got)
	}
	if rec.Body.String() != "RIFF....WAVEdata" {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}
	if svc.lastReq.Voice != "pf_dora" || svc.lastReq.Language != "pt-BR" {
		t.Fatalf("request not forwarded: %+v", svc.lastReq)
	}
}

func TestSynthesizeRequiresText(t *testing.T) {
	rec := postSynthesize(setupRouter(&fakeSpeechService{enabled: true}), `{"text":"   "}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestSynthesizeDisabledEngine(t *testing.T) {
	svc := &fakeSpeechService{err: &speechsvc.SynthesisError{Engine: "none", Err: speechsvc.ErrEngineUnavailable}}
	rec := postSynthesize(setupRouter(svc), `{"text":"hi"}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestSynthesizeEngineFailure(t *testing.T) {
	svc := &fakeSpeechService{enabled: true, err: &speechsvc.SynthesisError{Engine: "kokoro", Err: errors.New("boom")}}
	rec := postSynthesize(setupRouter(svc), `{"text":"hi"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	setupRouter(&fakeSpeechService{enabled: true}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/speech/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"engine":"kokoro"`) || !strings.Contains(rec.Body.String(), `"enabled":true`) {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}
