package remote

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShellQuote(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/tmp/conf.sh", "'/tmp/conf.sh'"},
		{"/tmp/with space", "'/tmp/with space'"},
		{"/tmp/it's", `'/tmp/it'\''s'`},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, shellQuote(tt.in))
	}
}

func TestSSHExecutor_Defaults(t *testing.T) {
	e := NewSSHExecutor()
	assert.Equal(t, 22, e.Port)
	assert.Equal(t, 30*time.Second, e.Timeout)
}

// The executor honors context cancellation during the dial, before any
// handshake happens.
func TestSSHExecutor_DialRespectsContext(t *testing.T) {
	e := NewSSHExecutor()
	e.Timeout = 5 * time.Second

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// 192.0.2.0/24 is reserved for documentation and never routes
	_, err := e.RunCommand(ctx, "192.0.2.1", "root", "pw", "true")
	require.Error(t, err)
}

func TestStubExecutor_Records(t *testing.T) {
	s := NewStubExecutor()
	s.Output = "ok\n"
	ctx := context.Background()

	require.NoError(t, s.PushFile(ctx, "10.0.0.5", "root", "pw", "#!/bin/sh\n", "/tmp/conf.sh"))
	out, err := s.RunCommand(ctx, "10.0.0.5", "root", "pw", "/tmp/conf.sh arg")
	require.NoError(t, err)
	assert.Equal(t, "ok\n", out)

	require.Len(t, s.Files, 1)
	assert.Equal(t, "/tmp/conf.sh", s.Files[0].Destination)
	require.Len(t, s.Commands, 1)
	assert.Equal(t, "/tmp/conf.sh arg", s.Commands[0].Command)
}
