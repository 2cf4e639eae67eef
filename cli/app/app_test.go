package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeArgs(t *testing.T) {
	testCases := []struct {
		name string
		in   []string
		out  []string
	}{
		{"separate value", []string{"master", "-n", "Bla"}, []string{"master", "-n", "Bla"}},
		{"glued short value", []string{"master", "-nBla"}, []string{"master", "--mx-name=Bla"}},
		{"glued host", []string{"quit", "-hremote"}, []string{"quit", "--mx-host=remote"}},
		{"long with equals", []string{"master", "--mx-name=Bla"}, []string{"master", "--mx-name=Bla"}},
		{"long with space", []string{"master", "--mx-name", "Bla"}, []string{"master", "--mx-name", "Bla"}},
		{"bare verbose", []string{"list", "-v"}, []string{"list", "--verbose=1"}},
		{"leveled verbose", []string{"list", "-v2"}, []string{"list", "--verbose=2"}},
		{"long verbose", []string{"list", "--verbose"}, []string{"list", "--verbose=1"}},
		{"config file", []string{"master", "-c/tmp/mx.yml"}, []string{"master", "--config-file=/tmp/mx.yml"}},
		{"unknown stays", []string{"master", "-x5"}, []string{"master", "-x5"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.out, NormalizeArgs(tc.in))
		})
	}
}

func TestNewHasAllCommands(t *testing.T) {
	a := New()

	want := []string{"master", "name", "host", "port", "list", "quit", "version"}
	for _, name := range want {
		require.NotNil(t, a.Command(name), "command %s missing", name)
	}
}
