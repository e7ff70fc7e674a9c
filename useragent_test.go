package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeviceName(t *testing.T) {
	tests := []struct {
		ua   string
		want string
	}{
		{ua: chromeMac, want: "Chrome on macOS"},
		{ua: firefoxLinux, want: "Firefox on Linux"},
		{ua: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36 Edg/122.0.2365.66", want: "Edge on Windows"},
		{ua: "Mozilla/5.0 (iPhone; CPU iPhone OS 17_3 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.3 Mobile/15E148 Safari/604.1", want: "Safari on iPhone"},
		{ua: "Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Mobile Safari/537.36", want: "Chrome on Android"},
		{ua: "curl/8.4.0", want: "curl"},
		{ua: "okhttp/4.12.0", want: "Android app"},
		{ua: "", want: "Unknown device"},
		{ua: "   ", want: "Unknown device"},
		{ua: "SomeBot/1.0", want: "Unknown device"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, DeviceName(tt.ua))
		})
	}
}
