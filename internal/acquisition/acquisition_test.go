package acquisition_test

import (
	"testing"

	"codeberg.org/mutker/pulsectl/internal/acquisition"
	"codeberg.org/mutker/pulsectl/internal/errors"
	"codeberg.org/mutker/pulsectl/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKind(t *testing.T) {
	k, err := acquisition.ParseKind(" OSC ")
	require.NoError(t, err)
	assert.Equal(t, acquisition.KindOSC, k)

	_, err = acquisition.ParseKind("bluetooth")
	assert.True(t, errors.HasCode(err, errors.ErrInvalidConfig))
}

func TestNewSelectsVariant(t *testing.T) {
	for _, kind := range []acquisition.Kind{
		acquisition.KindBoard,
		acquisition.KindSocket,
		acquisition.KindOSC,
		acquisition.KindMock,
	} {
		cfg := acquisition.DefaultConfig()
		cfg.Kind = kind
		b, err := acquisition.New(cfg, logger.Nop())
		require.NoError(t, err)
		assert.Equal(t, kind, b.Kind())
	}

	cfg := acquisition.DefaultConfig()
	cfg.Kind = "serial"
	_, err := acquisition.New(cfg, logger.Nop())
	assert.Error(t, err)
}
