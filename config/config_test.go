package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"PORT", "STORE", "ROOM_IDLE_TTL", "ALLOWED_ORIGINS", "ICE_SERVERS_JSON", "STUN_URLS", "REDIS_DB"} {
		t.Setenv(key, "")
	}

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "8080" {
		t.Fatalf("Port = %q", cfg.Port)
	}
	if cfg.Store != StoreMemory {
		t.Fatalf("Store = %q", cfg.Store)
	}
	if cfg.RoomIdleTTL != 5*time.Minute {
		t.Fatalf("RoomIdleTTL = %v", cfg.RoomIdleTTL)
	}
	if len(cfg.ICEServers) != 1 || cfg.ICEServers[0].URLs[0] != DefaultStunURL {
		t.Fatalf("ICEServers = %#v", cfg.ICEServers)
	}
}

func TestLoad_FlagsOverrideEnv(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("STORE", "memory")
	t.Setenv("ROOM_IDLE_TTL", "")

	cfg, err := Load([]string{"--port", "9100", "--store", "redis", "--room-idle-ttl", "30s", "--origins", "https://a.example,https://b.example"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "9100" {
		t.Fatalf("Port = %q", cfg.Port)
	}
	if cfg.Store != StoreRedis {
		t.Fatalf("Store = %q", cfg.Store)
	}
	if cfg.RoomIdleTTL != 30*time.Second {
		t.Fatalf("RoomIdleTTL = %v", cfg.RoomIdleTTL)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example" {
		t.Fatalf("AllowedOrigins = %#v", cfg.AllowedOrigins)
	}
}

func TestLoad_RejectsUnknownStore(t *testing.T) {
	t.Setenv("STORE", "etcd")

	if _, err := Load(nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestLoad_RejectsBadDuration(t *testing.T) {
	t.Setenv("STORE", "")
	t.Setenv("ROOM_IDLE_TTL", "soon")

	if _, err := Load(nil); err == nil {
		t.Fatal("expected error")
	}
}
