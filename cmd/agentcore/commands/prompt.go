package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/agentcore-ai/agentcore/internal/bootstrap"
	"github.com/agentcore-ai/agentcore/internal/logging"
	"github.com/agentcore-ai/agentcore/internal/stream"
	"github.com/agentcore-ai/agentcore/pkg/types"
)

// runPrompt implements the positional-prompt non-interactive mode: build an
// App in-process (no HTTP hop), trigger one turn, and print the assistant's
// text deltas as they stream in, returning once the turn reaches a terminal
// event. Grounded on cmd/opencode/commands/run.go's one-shot invocation
// shape, re-pointed at internal/stream.Engine instead of the teacher's
// session.Processor.
func runPrompt(args []string) error {
	message := strings.Join(args, " ")
	if message == "" {
		return fmt.Errorf("message required: agentcore \"your message\"")
	}

	workDir, err := GetWorkDir()
	if err != nil {
		return err
	}

	ctx := context.Background()
	app, err := bootstrap.Build(ctx, workDir, logging.Logger)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer app.Close()

	providerID, modelID := splitModel(firstNonEmpty(GetGlobalModel(), app.Config.Model))

	result, err := app.Engine.TriggerStream(ctx, stream.TriggerRequest{
		Provider: providerID,
		Model:    modelID,
		Content:  []types.Part{types.TextPart{Content: message, Status: types.PartCompleted}},
	})
	if err != nil {
		return fmt.Errorf("trigger stream: %w", err)
	}

	sub, _, err := app.Engine.Subscribe(ctx, result.SessionID, 0)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	defer sub.Close()

	for ev := range sub.Events {
		var tagged struct {
			Type  string `json:"type"`
			Text  string `json:"text"`
			Error string `json:"error"`
		}
		if err := json.Unmarshal(ev.Payload, &tagged); err != nil {
			continue
		}
		switch tagged.Type {
		case "text-delta":
			fmt.Print(tagged.Text)
		case "complete":
			fmt.Println()
			return nil
		case "error":
			fmt.Println()
			return fmt.Errorf("stream error: %s", tagged.Error)
		case "abort":
			fmt.Println()
			return fmt.Errorf("stream aborted")
		}
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func splitModel(s string) (providerID, modelID string) {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return "", s
}
