package provider

import (
	"context"
	"fmt"
)

// MockProvider implements Protocol without any network calls. Used in dev
// environments and tests. By default it returns a well-formed improvement
// response so the full generate -> review -> apply path works offline.
type MockProvider struct {
	// Response overrides the canned output when set.
	Response string
	// Err makes every call fail when set.
	Err error

	Calls []*CompletionRequest
}

func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

func (p *MockProvider) Complete(_ context.Context, req *CompletionRequest) (string, error) {
	p.Calls = append(p.Calls, req)
	if p.Err != nil {
		return "", p.Err
	}
	if p.Response != "" {
		return p.Response, nil
	}
	return fmt.Sprintf(`<system_instruction>
[mock improvement] Respond precisely to the user's request. Verify facts before stating them, address every input field, structure the answer with headers and bullet points, give concrete next steps, and keep a professional tone.
</system_instruction>

<user_prompt_template>
[mock improvement] {{input}}
</user_prompt_template>

<rationale>
Mock provider response generated from a %d-character prompt; no live model was called.
</rationale>`, len(req.User)), nil
}
