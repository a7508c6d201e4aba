package telemetry

import (
	"context"
	"testing"

	"github.com/rockbotlabs/rockbot/internal/config"
)

func TestSetupDisabled(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.TelemetryConfig{Enabled: false})
	if err != nil {
		t.Fatal(err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("no-op shutdown returned %v", err)
	}
}

func TestProtocolDefault(t *testing.T) {
	if got := protocolOrDefault(""); got != "http" {
		t.Errorf("default protocol = %q", got)
	}
	if got := protocolOrDefault("grpc"); got != "grpc" {
		t.Errorf("grpc protocol = %q", got)
	}
}
