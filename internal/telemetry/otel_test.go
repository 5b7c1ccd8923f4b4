package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGRPCEndpoint(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"collector.example.com:4318", "collector.example.com:4317"},
		{"collector.example.com", "collector.example.com:4317"},
		{"localhost:4318", "localhost:4317"},
		{"[::1]:4318", "[::1]:4317"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, grpcEndpoint(tc.in), "endpoint %q", tc.in)
	}
}
