// SPDX-License-Identifier: MIT

package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

var logBuf bytes.Buffer

func TestMain(m *testing.M) {
	Configure(Config{Level: "debug", Output: &logBuf, Service: "stemsync-test"})
	m.Run()
}

func lastEntry(t *testing.T) map[string]any {
	t.Helper()
	lines := bytes.Split(bytes.TrimSpace(logBuf.Bytes()), []byte("\n"))
	require.NotEmpty(t, lines)
	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[len(lines)-1], &entry))
	return entry
}

func TestBaseCarriesServiceField(t *testing.T) {
	logBuf.Reset()
	l := Base()
	l.Info().Msg("hello")

	entry := lastEntry(t)
	require.Equal(t, "stemsync-test", entry["service"])
	require.Equal(t, "hello", entry["message"])
}

func TestWithComponentAnnotates(t *testing.T) {
	logBuf.Reset()
	l := WithComponent("pipeline")
	l.Info().Msg("stage done")

	entry := lastEntry(t)
	require.Equal(t, "pipeline", entry[FieldComponent])
}

func TestDeriveAttachesFields(t *testing.T) {
	logBuf.Reset()
	l := Derive(func(c *zerolog.Context) {
		*c = c.Str(FieldTrackID, "12345")
	})
	l.Info().Msg("derived")

	entry := lastEntry(t)
	require.Equal(t, "12345", entry[FieldTrackID])
}

func TestConfigureIsIdempotent(t *testing.T) {
	var other bytes.Buffer
	Configure(Config{Output: &other, Service: "other"})

	logBuf.Reset()
	l := Base()
	l.Info().Msg("still first config")
	require.Zero(t, other.Len())
	require.Equal(t, "stemsync-test", lastEntry(t)["service"])
}
