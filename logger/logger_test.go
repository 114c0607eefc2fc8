package logger

import (
	"testing"
)

func TestWithComponent(t *testing.T) {
	log := Logger()
	entry := log.WithComponent("test")
	if v, ok := entry.Entry.Data["component"]; !ok || v != "test" {
		t.Fatalf("component field missing: %v", entry.Entry.Data)
	}
}

func TestConfigureInvalidLevel(t *testing.T) {
	// Ensure environment variables do not override the provided level
	t.Setenv("LOG_LEVEL", "")

	log := Logger()
	if err := log.Configure("invalid", "json", "stdout", 0); err == nil {
		t.Fatalf("expected error for invalid level")
	}
}

func TestConfigureInvalidFormat(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")

	log := Logger()
	if err := log.Configure("info", "xml", "stdout", 0); err == nil {
		t.Fatalf("expected error for invalid format")
	}
}

func TestCountersAccumulate(t *testing.T) {
	IncrementStreamRead(128)
	IncrementDecodeSkip()
	IncrementReconnect()
	IncrementS3Write(1024)
	RecordChannelMessage("test_channel", 64)

	v, ok := channels.Load("test_channel")
	if !ok {
		t.Fatal("channel stat not recorded")
	}
	cs := v.(*channelStat)
	if cs.messages < 1 || cs.bytes < 64 {
		t.Fatalf("channel stat = %+v", cs)
	}
}
