package netx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckLoopback(t *testing.T) {
	tests := []struct {
		name    string
		addr    string
		wantErr error
		invalid bool
	}{
		{name: "ipv4 loopback", addr: "127.0.0.1:50071"},
		{name: "other 127 address", addr: "127.0.0.2:80"},
		{name: "ipv6 loopback", addr: "[::1]:50071"},
		{name: "localhost", addr: "localhost:50071"},
		{name: "localhost upper case", addr: "LOCALHOST:1"},
		{name: "all interfaces", addr: ":50071", wantErr: ErrNotLoopback},
		{name: "unspecified", addr: "0.0.0.0:50071", wantErr: ErrNotLoopback},
		{name: "lan address", addr: "192.168.1.10:50071", wantErr: ErrNotLoopback},
		{name: "hostname", addr: "example.com:50071", wantErr: ErrNotLoopback},
		{name: "missing port", addr: "127.0.0.1", invalid: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckLoopback(tt.addr)
			switch {
			case tt.invalid:
				require.Error(t, err)
				assert.NotErrorIs(t, err, ErrNotLoopback)
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			default:
				assert.NoError(t, err)
			}
		})
	}
}
