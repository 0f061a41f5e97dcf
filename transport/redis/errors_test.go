package redis

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRedisErrorHelpers(t *testing.T) {
	oom := errors.New("OOM command not allowed when used memory > 'maxmemory'")

	tests := []struct {
		name     string
		err      error
		oom      bool
		busy     bool
		noGroup  bool
		wantType string
	}{
		{name: "nil", err: nil, wantType: "none"},
		{name: "oom", err: oom, oom: true, wantType: "oom"},
		{name: "wrapped oom", err: fmt.Errorf("journal write failed: %w", oom), oom: true, wantType: "oom"},
		{name: "busygroup", err: errors.New("BUSYGROUP Consumer Group name already exists"), busy: true, wantType: "redis"},
		{name: "nogroup", err: errors.New("NOGROUP No such key 'txrelay:journal' or consumer group"), noGroup: true, wantType: "no_group"},
		{name: "wrongtype", err: errors.New("WRONGTYPE Operation against a key holding the wrong kind of value"), wantType: "redis"},
		{name: "refused", err: errors.New("dial tcp: connection refused"), wantType: "redis"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.oom, IsOOMError(tt.err))
			require.Equal(t, tt.busy, IsBusyGroupError(tt.err))
			require.Equal(t, tt.noGroup, IsNoGroupError(tt.err))
			require.Equal(t, tt.wantType, errorType(tt.err))
		})
	}
}
