package session

import (
	"errors"
	"testing"

	"github.com/srg/medlink/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_CreateUnknownType(t *testing.T) {
	r := NewRegistry()
	calls := 0
	r.Register("bpm", func(address string, profile *config.Profile, opts Options) Session {
		calls++
		return newEchoSession(opts)
	})

	s, err := r.Create("thermometer", "addr", nil, Options{})

	require.Error(t, err)
	assert.Nil(t, s)
	assert.True(t, errors.Is(err, ErrUnknownDeviceType))
	var typed *UnknownDeviceTypeError
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, "thermometer", typed.Type)
	assert.Zero(t, calls, "nothing MUST be constructed for an unknown type")
}

func TestRegistry_LastRegistrationWins(t *testing.T) {
	r := NewRegistry()
	var used string
	r.Register("bpm", func(address string, profile *config.Profile, opts Options) Session {
		used = "first"
		return newEchoSession(opts)
	})
	r.Register("bpm", func(address string, profile *config.Profile, opts Options) Session {
		used = "second"
		return newEchoSession(opts)
	})

	s, err := r.Create("bpm", "addr", nil, Options{})

	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, "second", used, "re-registration MUST replace the constructor")
	assert.Equal(t, []string{"bpm"}, r.Types())
}

func TestRegistry_PassesArguments(t *testing.T) {
	r := NewRegistry()
	profile := &config.Profile{Name: "bpm"}
	var gotAddress string
	var gotProfile *config.Profile
	r.Register("bpm", func(address string, p *config.Profile, opts Options) Session {
		gotAddress, gotProfile = address, p
		return newEchoSession(opts)
	})

	_, err := r.Create("bpm", "AA:BB", profile, Options{})

	require.NoError(t, err)
	assert.Equal(t, "AA:BB", gotAddress)
	assert.Same(t, profile, gotProfile, "the shared profile MUST be passed through, not copied")
}

func TestRegistry_Types(t *testing.T) {
	r := NewRegistry()
	assert.Empty(t, r.Types())

	ctor := func(address string, profile *config.Profile, opts Options) Session { return newEchoSession(opts) }
	r.Register("scale", ctor)
	r.Register("bpm", ctor)

	assert.Equal(t, []string{"bpm", "scale"}, r.Types())
}

func TestState_IsTerminal(t *testing.T) {
	assert.True(t, StateResultReceived.IsTerminal())
	assert.True(t, StateError.IsTerminal())
	for _, s := range []State{StateIdle, StateConnecting, StateConnected, "Handshaking"} {
		assert.False(t, s.IsTerminal(), "%s MUST NOT be terminal", s)
	}
}
