package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func TestParseMethod(t *testing.T) {
	tests := []struct {
		input   string
		want    Method
		wantErr bool
	}{
		{"disabled", MethodDisabled, false},
		{"off", MethodDisabled, false},
		{"filesystem", MethodFilesystem, false},
		{" FS ", MethodFilesystem, false},
		{"external", MethodExternal, false},
		{"redis", MethodExternal, false},
		{"memcached", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseMethod(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseMethod(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, ErrUnknownBackend) {
				t.Errorf("ParseMethod(%q) error = %v, want ErrUnknownBackend", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ParseMethod(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestNewStore(t *testing.T) {
	redisClient := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer redisClient.Close()

	tests := []struct {
		name        string
		config      StoreConfig
		wantBackend string
		wantErr     error
	}{
		{
			name:        "disabled",
			config:      StoreConfig{Method: MethodDisabled},
			wantBackend: "disabled",
		},
		{
			name:        "filesystem",
			config:      StoreConfig{Method: MethodFilesystem, Root: t.TempDir(), Logger: zerolog.Nop()},
			wantBackend: "filesystem",
		},
		{
			name:        "external",
			config:      StoreConfig{Method: MethodExternal, Redis: redisClient},
			wantBackend: "external",
		},
		{
			name:    "unknown method",
			config:  StoreConfig{Method: "memcached"},
			wantErr: ErrUnknownBackend,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := NewStore(tt.config)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("NewStore() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewStore() error = %v", err)
			}
			if got := BackendName(store); got != tt.wantBackend {
				t.Errorf("BackendName() = %v, want %v", got, tt.wantBackend)
			}
		})
	}
}

func TestNewStore_ExternalWithoutClient(t *testing.T) {
	if _, err := NewStore(StoreConfig{Method: MethodExternal}); err == nil {
		t.Error("NewStore(external) without Redis client should return error")
	}
}

func TestNewStore_FilesystemWithoutRoot(t *testing.T) {
	if _, err := NewStore(StoreConfig{Method: MethodFilesystem}); err == nil {
		t.Error("NewStore(filesystem) without root should return error")
	}
}

func TestDisabled_PassThrough(t *testing.T) {
	var store Disabled
	ctx := context.Background()

	got, err := store.Put(ctx, []byte("value"), "k", "demo", time.Minute)
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if string(got) != "value" {
		t.Errorf("Put returned %q, want %q", got, "value")
	}

	if _, err := store.Get(ctx, "k", "demo", time.Minute); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Expected ErrCacheMiss, got %v", err)
	}

	if err := store.Clear(ctx, "", ""); err != nil {
		t.Errorf("Clear failed: %v", err)
	}
	if n, _ := store.Size(ctx, ""); n != 0 {
		t.Errorf("Size = %d, want 0", n)
	}
	if n, _ := store.Count(ctx, ""); n != 0 {
		t.Errorf("Count = %d, want 0", n)
	}
}
