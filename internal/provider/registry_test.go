package provider

import "testing"

func TestRegistryForModel(t *testing.T) {
	r := NewRegistry(NewOpenAI("k1"), NewAnthropic("k2"), NewGroq("k3"))

	tests := []struct {
		model string
		want  string
	}{
		{"gpt-4.1", "openai"},
		{"claude-sonnet-4-20250514", "anthropic"},
		{"claude-sonnet-4", "anthropic"}, // alias
		{"llama-3.3-70b-versatile", "groq"},
		{"claude-unlisted-model", "anthropic"}, // prefix routing past the catalog
	}
	for _, tt := range tests {
		p, ok := r.ForModel(tt.model)
		if !ok {
			t.Errorf("ForModel(%q) found nothing", tt.model)
			continue
		}
		if p.Name() != tt.want {
			t.Errorf("ForModel(%q) = %s, want %s", tt.model, p.Name(), tt.want)
		}
	}

	if _, ok := r.ForModel("totally-unknown"); ok {
		t.Fatal("unknown model should not resolve")
	}
}

func TestRegistryCatalogProviderUnregistered(t *testing.T) {
	// Catalog says gemini, but only anthropic is configured; the model has
	// no claiming adapter so resolution fails rather than misroutes.
	r := NewRegistry(NewAnthropic("k"))
	if _, ok := r.ForModel("gemini-2.5-pro"); ok {
		t.Fatal("gemini model resolved without a gemini adapter")
	}
}

func TestRegistryDedupesByName(t *testing.T) {
	r := NewRegistry(NewOpenAI("first"), NewOpenAI("second"))
	if len(r.Names()) != 1 {
		t.Fatalf("Names = %v", r.Names())
	}
	p, _ := r.Get("openai")
	if p.(*OpenAI).apiKey != "first" {
		t.Fatal("first registration must win")
	}
}
