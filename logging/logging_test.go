package logging_test

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediabot/logging"
)

func TestConfigure(t *testing.T) {
	tests := []struct {
		name    string
		config  logging.Config
		want    zerolog.Level
		wantErr bool
	}{
		{name: "given empty level when configured then use info", config: logging.Config{}, want: zerolog.InfoLevel},
		{name: "given debug level when configured then use debug", config: logging.Config{Level: "debug"}, want: zerolog.DebugLevel},
		{name: "given upper case level when configured then accept it", config: logging.Config{Level: "WARN"}, want: zerolog.WarnLevel},
		{name: "given unknown level when configured then return error", config: logging.Config{Level: "loud"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			err := logging.Configure(tt.config, &buf)
			if tt.wantErr {
				assert.ErrorIs(t, err, logging.ErrInvalidLevel)
				assert.ErrorIs(t, tt.config.Validate(), logging.ErrInvalidLevel)
				return
			}
			require.NoError(t, err)
			assert.NoError(t, tt.config.Validate())
			assert.Equal(t, tt.want, zerolog.GlobalLevel())
		})
	}
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

func TestPionFactory(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, logging.Configure(logging.Config{Level: "debug"}, &buf))
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	l := logging.NewPionFactory(log.Logger).NewLogger("ice")
	l.Infof("selected pair %d", 3)
	l.Trace("hidden")

	out := buf.String()
	assert.Contains(t, out, `"scope":"ice"`)
	assert.Contains(t, out, "selected pair 3")
	assert.NotContains(t, out, "hidden")
}
