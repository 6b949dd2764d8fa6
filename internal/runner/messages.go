package runner

import (
	"encoding/json"
	"fmt"

	"github.com/anotherai-dev/anotherai/internal/templates"
	"github.com/anotherai-dev/anotherai/pkg/models"
)

// buildMessages assembles the conversation sent to the provider: the version
// prompt rendered against the input variables, followed by the input
// messages. Input message text is rendered too; prompts sometimes template
// user turns.
func buildMessages(version *models.Version, input *models.AgentInput) ([]models.Message, error) {
	var variables map[string]any
	if len(input.Variables) > 0 {
		if err := json.Unmarshal(input.Variables, &variables); err != nil {
			return nil, fmt.Errorf("decoding input variables: %w", err)
		}
	}
	out := make([]models.Message, 0, len(version.Prompt)+len(input.Messages))
	for i := range version.Prompt {
		rendered, err := renderMessage(&version.Prompt[i], variables)
		if err != nil {
			return nil, err
		}
		out = append(out, *rendered)
	}
	for i := range input.Messages {
		rendered, err := renderMessage(&input.Messages[i], variables)
		if err != nil {
			return nil, err
		}
		out = append(out, *rendered)
	}
	return out, nil
}

func renderMessage(m *models.Message, variables map[string]any) (*models.Message, error) {
	out := models.Message{Role: m.Role, RunID: m.RunID}
	out.Content = make([]models.ContentPart, len(m.Content))
	copy(out.Content, m.Content)
	for i := range out.Content {
		part := &out.Content[i]
		if part.Text == "" || !templates.IsTemplate(part.Text) {
			continue
		}
		rendered, err := templates.Render(part.Text, variables)
		if err != nil {
			return nil, err
		}
		part.Text = rendered
	}
	return &out, nil
}
