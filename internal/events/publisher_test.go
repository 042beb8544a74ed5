package events

import (
	"context"
	"testing"

	"lifeops-voice-agent/internal/activity"
	"lifeops-voice-agent/internal/models"
	"lifeops-voice-agent/internal/service/pipeline"
)

// compile-time checks for the sinks this publisher is wired into
var (
	_ activity.Sink       = (*Publisher)(nil)
	_ pipeline.ResultSink = (*Publisher)(nil)
)

func TestNew_DisabledMode(t *testing.T) {
	tests := []struct {
		name string
		cfg  *Config
	}{
		{"nil config", nil},
		{"disabled", &Config{Enabled: false, Brokers: []string{"localhost:9092"}}},
		{"no brokers", &Config{Enabled: true, Brokers: []string{}}},
		{"empty brokers", &Config{Enabled: true, Brokers: nil}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(tt.cfg)
			if p == nil {
				t.Fatal("expected non-nil publisher")
			}
			if p.enabled {
				t.Error("expected publisher to be disabled")
			}
			if p.writerActivity != nil {
				t.Error("expected nil activity writer when disabled")
			}
			if p.writerResults != nil {
				t.Error("expected nil results writer when disabled")
			}
			if err := p.Close(); err != nil {
				t.Errorf("expected clean close, got %v", err)
			}
		})
	}
}

func TestNew_ConfigValues(t *testing.T) {
	cfg := &Config{
		Enabled:       false,
		Brokers:       []string{"localhost:9092"},
		TopicActivity: "test.activity",
		TopicResults:  "test.results",
		Principal:     "test-principal",
	}

	p := New(cfg)

	if p.principal != "test-principal" {
		t.Errorf("expected principal 'test-principal', got %s", p.principal)
	}
	if p.topicActivity != "test.activity" {
		t.Errorf("expected topic activity 'test.activity', got %s", p.topicActivity)
	}
	if p.topicResults != "test.results" {
		t.Errorf("expected topic results 'test.results', got %s", p.topicResults)
	}
}

func TestNew_EnabledMode(t *testing.T) {
	p := New(&Config{
		Enabled:       true,
		Brokers:       []string{"localhost:9092"},
		TopicActivity: "a",
		TopicResults:  "r",
	})
	defer p.Close()

	if !p.enabled {
		t.Fatal("expected publisher to be enabled")
	}
	if !p.writerActivity.Async {
		t.Error("expected activity writer to be async")
	}
	if p.writerResults.Async {
		t.Error("expected results writer to be synchronous")
	}
	if p.writerActivity.Topic != "a" || p.writerResults.Topic != "r" {
		t.Error("unexpected writer topics")
	}
}

func TestPublisher_OnLogEntry_Disabled(t *testing.T) {
	p := New(&Config{Enabled: false})
	calls := 0
	p.SetSessionSource(func() string {
		calls++
		return "s-1"
	})

	p.OnLogEntry(models.LogEntry{Time: "10:00:00", Message: "Started listening securely.", Type: models.LogSystem})

	if calls != 1 {
		t.Errorf("expected session source consulted once, got %d", calls)
	}
}

func TestPublisher_PublishResult_Disabled(t *testing.T) {
	p := New(&Config{Enabled: false})

	err := p.PublishResult(context.Background(), models.ResultEvent{SessionID: "s-1", Transcript: "hello"})
	if err != nil {
		t.Errorf("expected no error when disabled, got %v", err)
	}
}

func TestPublisher_ActivityLogIntegration(t *testing.T) {
	p := New(nil)
	log := activity.New()
	log.AddSink(p)

	// must not block or panic without a broker
	log.Append("Waiting for you to speak...", models.LogSystem)

	if log.Len() != 1 {
		t.Errorf("expected entry committed, got %d", log.Len())
	}
}
