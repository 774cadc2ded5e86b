package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleYAML = `
app:
  name: scheduling-queue
  log_level: debug
redis:
  addr: 127.0.0.1:6390
queue:
  visibility_timeout: 10s
  backoff_base: 200ms
  topics:
    - name: orders
      kind: fifo
      concurrency: 2
      handler: log
    - name: goldcard
      kind: priority
      max_attempts: 5
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "worker.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesFileAndDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.App.Name != "scheduling-queue" || cfg.Redis.Addr != "127.0.0.1:6390" {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	q := cfg.Queue
	if q.VisibilityTimeout != 10*time.Second || q.BackoffBase != 200*time.Millisecond {
		t.Fatalf("durations: %+v", q)
	}
	if q.TickInterval != time.Second || q.DefaultMaxAttempts != 3 || !q.DeadLetter {
		t.Fatalf("defaults not applied: %+v", q)
	}
	if len(q.Topics) != 2 || q.Topics[1].Kind != "priority" || q.Topics[1].MaxAttempts != 5 {
		t.Fatalf("topics: %+v", q.Topics)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("MQ_REDIS_ADDR", "redis.internal:6379")
	cfg, err := Load(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Redis.Addr != "redis.internal:6379" {
		t.Fatalf("env override ignored: %s", cfg.Redis.Addr)
	}
}

func TestValidateRejectsBadTopics(t *testing.T) {
	cases := map[string]QueueConfig{
		"duplicate": func() QueueConfig {
			q := Defaults()
			q.Topics = []TopicConfig{{Name: "a"}, {Name: "a"}}
			return q
		}(),
		"kind": func() QueueConfig {
			q := Defaults()
			q.Topics = []TopicConfig{{Name: "a", Kind: "lifo"}}
			return q
		}(),
		"backoff": func() QueueConfig {
			q := Defaults()
			q.BackoffCap = q.BackoffBase / 2
			return q
		}(),
	}
	for name, q := range cases {
		if err := q.Validate(); err == nil {
			t.Errorf("%s: want error", name)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("want error for missing file")
	}
}
