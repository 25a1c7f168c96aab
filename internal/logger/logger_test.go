package logger

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// capture swaps the global logger for a buffer-backed JSON logger for the
// duration of one test.
func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	orig := log.Logger
	origLevel := zerolog.GlobalLevel()
	log.Logger = zerolog.New(&buf)
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	t.Cleanup(func() {
		log.Logger = orig
		zerolog.SetGlobalLevel(origLevel)
	})
	return &buf
}

func TestWithBinderAddsField(t *testing.T) {
	buf := capture(t)

	l := WithBinder("/binders/Acme Binder.pdf")
	l.Info().Msg("opened")

	out := buf.String()
	if !strings.Contains(out, `"binder":"/binders/Acme Binder.pdf"`) {
		t.Errorf("binder field missing: %s", out)
	}
	if !strings.Contains(out, `"message":"opened"`) {
		t.Errorf("message missing: %s", out)
	}
}

func TestWithComponentAddsField(t *testing.T) {
	buf := capture(t)

	l := WithComponent("splitter")
	l.Debug().Msg("ready")

	if !strings.Contains(buf.String(), `"component":"splitter"`) {
		t.Errorf("component field missing: %s", buf.String())
	}
}
