package improve

import (
	"context"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/promptops/whetstone/internal/provider"
	"github.com/promptops/whetstone/internal/store"
	"github.com/promptops/whetstone/pkg/models"
)

// GeneratorOptions bound the model call and shape the returned preview.
type GeneratorOptions struct {
	MaxTokens         int
	Timeout           time.Duration
	FeedbackSampleCap int
	PreviewLength     int
}

// ProposalResult is returned to the caller after a successful generation.
// Previews are truncated; the full text is persisted on the request.
type ProposalResult struct {
	RequestID                 string `json:"request_id"`
	SkillID                   string `json:"skill_id"`
	SystemInstructionPreview  string `json:"system_instruction_preview"`
	UserPromptTemplatePreview string `json:"user_prompt_template_preview"`
	Rationale                 string `json:"rationale"`
}

// Generator builds rewrite requests, invokes the model provider and persists
// the parsed proposal via a pending -> generated status swap.
type Generator struct {
	store    store.Store
	provider provider.Protocol
	opts     GeneratorOptions
}

func NewGenerator(s store.Store, p provider.Protocol, opts GeneratorOptions) *Generator {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 8192
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 90 * time.Second
	}
	if opts.PreviewLength <= 0 {
		opts.PreviewLength = 500
	}
	return &Generator{store: s, provider: p, opts: opts}
}

// Generate produces a rewrite proposal for a pending improvement request.
// On any failure the request stays pending so the caller may retry; success
// is reported only after the generated status has been durably committed.
func (g *Generator) Generate(ctx context.Context, requestID string) (*ProposalResult, error) {
	req, err := g.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, storeError(err, "failed to load request")
	}
	if req.Status != models.RequestStatusPending {
		return nil, newError(KindInvalidState, "request is not pending (status: %s)", req.Status)
	}

	skill, err := g.store.GetSkill(ctx, req.SkillID)
	if err != nil {
		return nil, storeError(err, "failed to load skill")
	}

	userPrompt := buildImprovementPrompt(skill, req, g.opts.FeedbackSampleCap)

	log.Printf("[Generator] Generating improvement for skill %s (request %s)", skill.ID, req.ID)

	callCtx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
	defer cancel()

	raw, err := g.provider.Complete(callCtx, &provider.CompletionRequest{
		System:    improvementSystemPrompt,
		User:      userPrompt,
		MaxTokens: g.opts.MaxTokens,
	})
	if err != nil {
		return nil, wrapError(KindUpstreamError, err, "model provider call failed")
	}

	proposal, err := ParseProposal(raw)
	if err != nil {
		return nil, wrapError(KindMalformedGeneration, err, "failed to parse improvement response")
	}

	if missing := MissingPlaceholders(skill.UserPromptTemplate, proposal.UserPromptTemplate); len(missing) > 0 {
		log.Printf("[Generator] Warning: proposal for request %s dropped placeholders: %s",
			req.ID, strings.Join(missing, ", "))
	}

	_, err = g.store.TransitionRequest(ctx, req.ID,
		[]models.RequestStatus{models.RequestStatusPending},
		store.RequestUpdate{
			Status: models.RequestStatusGenerated,
			Proposal: &store.Proposal{
				SystemInstruction:  proposal.SystemInstruction,
				UserPromptTemplate: proposal.UserPromptTemplate,
				Rationale:          proposal.Rationale,
			},
		})
	if err != nil {
		// The update did not commit; from the caller's perspective the
		// request is still pending and the call may be retried.
		return nil, storeError(err, "failed to save improvement")
	}

	return &ProposalResult{
		RequestID:                 req.ID,
		SkillID:                   req.SkillID,
		SystemInstructionPreview:  truncate(proposal.SystemInstruction, g.opts.PreviewLength),
		UserPromptTemplatePreview: truncate(proposal.UserPromptTemplate, g.opts.PreviewLength),
		Rationale:                 proposal.Rationale,
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	// Back the cut off to a rune boundary so the preview stays valid UTF-8.
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
