package provider

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/anotherai-dev/anotherai/internal/modelcatalog"
	"github.com/anotherai-dev/anotherai/pkg/models"
)

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
	encodingErr  error
)

// openAITokenCount counts prompt tokens with the o200k_base encoding plus
// the per-message framing overhead of the chat format.
func openAITokenCount(messages []models.Message, providerName, model string) (float64, error) {
	encodingOnce.Do(func() {
		encoding, encodingErr = tiktoken.GetEncoding("o200k_base")
	})
	if encodingErr != nil {
		return 0, WrapErr(KindUnpriceableRun, providerName, model, encodingErr)
	}

	// Every message costs ~4 framing tokens; the reply is primed with 3.
	const perMessage, primer = 4, 3
	total := primer
	for i := range messages {
		total += perMessage
		for j := range messages[i].Content {
			part := &messages[i].Content[j]
			if part.Text != "" {
				total += len(encoding.Encode(part.Text, nil, nil))
			}
			if len(part.Object) > 0 {
				total += len(encoding.Encode(string(part.Object), nil, nil))
			}
		}
	}
	return float64(total), nil
}

// promptTokenCount dispatches to the real tokenizer for OpenAI-family
// models and falls back to the chars/4 heuristic for everything else the
// catalog knows. Unknown models are unpriceable.
func promptTokenCount(messages []models.Message, providerName, model string) (float64, error) {
	if modelcatalog.IsOpenAIFamily(model) {
		return openAITokenCount(messages, providerName, model)
	}
	if _, ok := modelcatalog.Get(model); !ok {
		return 0, NewError(KindUnpriceableRun, providerName, model, "model is not in the pricing catalog")
	}
	return heuristicTokenCount(messages), nil
}
