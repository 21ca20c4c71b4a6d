package ratelimit

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClientIPExtractor_Extract(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		trusted    []string
		remoteAddr string
		xff        string
		want       string
	}{
		{
			name:       "no trusted proxies ignores header",
			remoteAddr: "203.0.113.7:5123",
			xff:        "1.2.3.4",
			want:       "203.0.113.7",
		},
		{
			name:       "untrusted peer ignores header",
			trusted:    []string{"10.0.0.0/8"},
			remoteAddr: "203.0.113.7:5123",
			xff:        "1.2.3.4",
			want:       "203.0.113.7",
		},
		{
			name:       "trusted peer uses rightmost untrusted hop",
			trusted:    []string{"10.0.0.0/8"},
			remoteAddr: "10.1.2.3:443",
			xff:        "198.51.100.1, 192.0.2.9, 10.0.0.5",
			want:       "192.0.2.9",
		},
		{
			name:       "single ip entry is trusted",
			trusted:    []string{"10.1.2.3", "not-an-ip"},
			remoteAddr: "10.1.2.3:443",
			xff:        "192.0.2.9",
			want:       "192.0.2.9",
		},
		{
			name:       "all hops trusted falls back to peer",
			trusted:    []string{"10.0.0.0/8"},
			remoteAddr: "10.1.2.3:443",
			xff:        "10.0.0.1, ,10.0.0.2",
			want:       "10.1.2.3",
		},
		{
			name:       "trusted peer without header",
			trusted:    []string{"10.0.0.0/8"},
			remoteAddr: "10.1.2.3:443",
			want:       "10.1.2.3",
		},
		{
			name:       "ipv6 remote",
			remoteAddr: "[::1]:8080",
			want:       "::1",
		},
		{
			name:       "remote without port",
			remoteAddr: "192.0.2.1",
			want:       "192.0.2.1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := httptest.NewRequest("GET", "/", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}

			e := NewClientIPExtractor(tt.trusted)
			assert.Equal(t, tt.want, e.Extract(r))
			assert.Equal(t, tt.want, e.KeyFunc()(r))
		})
	}
}
