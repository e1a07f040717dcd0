package whisper_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stimme-dev/stimme/pkg/audio"
	"github.com/stimme-dev/stimme/pkg/provider/stt/whisper"
)

func testSegment(bytes int) *audio.Segment {
	return &audio.Segment{
		Data:       make([]byte, bytes),
		SampleRate: 16000,
		FirstVoice: 0,
		LastVoice:  audio.PCMDuration(bytes, 16000, 1),
	}
}

func TestNew_RequiresServerURL(t *testing.T) {
	t.Parallel()

	if _, err := whisper.New(""); err == nil {
		t.Fatal("expected error for empty serverURL")
	}
}

func TestTranscribe(t *testing.T) {
	t.Parallel()

	var gotLanguage, gotModel string
	var gotWAV []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/inference" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		gotLanguage = r.FormValue("language")
		gotModel = r.FormValue("model")

		file, _, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		defer file.Close()
		gotWAV, _ = io.ReadAll(file)

		json.NewEncoder(w).Encode(map[string]string{"text": "  Hallo Welt \n"})
	}))
	defer srv.Close()

	p, err := whisper.New(srv.URL, whisper.WithLanguage("de"), whisper.WithModel("base"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	seg := testSegment(3200) // 100ms at 16kHz mono
	tr, err := p.Transcribe(context.Background(), seg, "")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}

	if tr.Text != "Hallo Welt" {
		t.Errorf("Text = %q, want trimmed %q", tr.Text, "Hallo Welt")
	}
	if tr.Language != "de" {
		t.Errorf("Language = %q, want provider default", tr.Language)
	}
	if tr.AudioDuration != 100*time.Millisecond {
		t.Errorf("AudioDuration = %v, want 100ms", tr.AudioDuration)
	}
	if gotLanguage != "de" {
		t.Errorf("language field = %q", gotLanguage)
	}
	if gotModel != "base" {
		t.Errorf("model field = %q", gotModel)
	}
	if len(gotWAV) != 44+3200 {
		t.Errorf("uploaded WAV length = %d, want %d", len(gotWAV), 44+3200)
	}
	if string(gotWAV[0:4]) != "RIFF" {
		t.Error("uploaded file is not a WAV container")
	}
}

func TestTranscribe_LanguageOverride(t *testing.T) {
	t.Parallel()

	var gotLanguage string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseMultipartForm(1 << 20)
		gotLanguage = r.FormValue("language")
		json.NewEncoder(w).Encode(map[string]string{"text": "ok"})
	}))
	defer srv.Close()

	p, _ := whisper.New(srv.URL, whisper.WithLanguage("de"))
	if _, err := p.Transcribe(context.Background(), testSegment(320), "en"); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if gotLanguage != "en" {
		t.Errorf("language field = %q, want caller override", gotLanguage)
	}
}

func TestTranscribe_ServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p, _ := whisper.New(srv.URL)
	if _, err := p.Transcribe(context.Background(), testSegment(320), ""); err == nil {
		t.Fatal("expected error for HTTP 503")
	}
}

func TestTranscribe_EmptySegment(t *testing.T) {
	t.Parallel()

	p, _ := whisper.New("http://localhost:1")
	if _, err := p.Transcribe(context.Background(), nil, ""); err == nil {
		t.Fatal("expected error for nil segment")
	}
	if _, err := p.Transcribe(context.Background(), &audio.Segment{}, ""); err == nil {
		t.Fatal("expected error for empty segment")
	}
}
