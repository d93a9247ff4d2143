package improve

import (
	"fmt"
	"strings"

	"github.com/promptops/whetstone/pkg/models"
)

// improvementSystemPrompt is the fixed system role for the rewrite call. The
// output contract (three XML-tagged sections, placeholders preserved) is what
// the parser enforces on the way back.
const improvementSystemPrompt = `You are an expert prompt engineer specializing in improving AI skill prompts based on user feedback data.

Your task is to analyze a skill's current prompt, its performance scores across 6 quality dimensions, and user feedback to generate an improved version that addresses the identified weaknesses.

QUALITY DIMENSIONS:
1. Relevance (1-5): Output matches what the user asked for
2. Accuracy (1-5): Information is correct and reliable
3. Completeness (1-5): All aspects of the request are addressed
4. Clarity (1-5): Output is clear and well-organized
5. Actionability (1-5): Output provides actionable guidance
6. Professionalism (1-5): Tone and format are appropriate

IMPROVEMENT GUIDELINES:
1. Preserve the core intent and structure of the original prompt
2. Make targeted improvements based on the specific weak dimensions
3. Add explicit instructions to address common complaints from feedback
4. Keep improvements focused and minimal - don't over-engineer
5. Maintain the same output format expectations
6. Preserve all {{placeholders}} exactly as they appear in the original

DIMENSION-SPECIFIC IMPROVEMENTS:
- Low Relevance: Add explicit intent-matching instructions, require output to reference user's specific inputs
- Low Accuracy: Add verification requirements, source citation guidelines, confidence indicators
- Low Completeness: Add checklists, require addressing all input fields, add "before submitting" verification
- Low Clarity: Add formatting requirements (headers, bullets, bold), structure guidelines, length constraints
- Low Actionability: Require specific steps, concrete examples, implementation guidance for each recommendation
- Low Professionalism: Add tone guidelines, formatting standards, audience-appropriate language requirements

OUTPUT FORMAT:
Return your response in this exact XML structure:

<system_instruction>
[The complete improved system instruction - include ALL original content plus your improvements]
</system_instruction>

<user_prompt_template>
[The improved user prompt template with {{placeholders}} preserved exactly]
</user_prompt_template>

<rationale>
[2-3 sentences explaining what was changed and why, referencing specific scores/feedback]
</rationale>`

const sectionRule = "═══════════════════════════════════════════════════════════════════════════"

// buildImprovementPrompt assembles the rewrite instruction from the skill's
// current content verbatim, the immutable score snapshot, the bounded feedback
// sample and the weakest-dimension list.
func buildImprovementPrompt(skill *models.Skill, req *models.ImprovementRequest, feedbackCap int) string {
	scores := req.ScoreSnapshot
	feedback := req.SampleFeedback
	if feedbackCap > 0 && len(feedback) > feedbackCap {
		feedback = feedback[:feedbackCap]
	}

	weak := WeakDimensions(scores)
	weakLabels := make([]string, 0, len(weak))
	for _, w := range weak {
		weakLabels = append(weakLabels, fmt.Sprintf("%s (%.1f)", w.Dimension, w.Score))
	}
	weakLine := strings.Join(weakLabels, ", ")
	if weakLine == "" {
		weakLine = "None identified"
	}

	focus := weakLabels
	if len(focus) > 3 {
		focus = focus[:3]
	}
	focusLine := strings.Join(focus, ", ")
	if focusLine == "" {
		focusLine = string(req.TriggerReason)
	}

	var feedbackBlock string
	if len(feedback) > 0 {
		lines := make([]string, 0, len(feedback))
		for i, f := range feedback {
			lines = append(lines, fmt.Sprintf("%d. %q", i+1, f))
		}
		feedbackBlock = strings.Join(lines, "\n")
	} else {
		feedbackBlock = "No written feedback provided - rely on dimension scores for guidance"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "SKILL: %s\nID: %s\nTYPE: %s\nCURRENT VERSION: %d\nTOTAL GRADES: %d\n\n",
		skill.Name, skill.ID, skill.SkillType, skill.CurrentVersion, scores.TotalGrades)

	fmt.Fprintf(&sb, "%s\nCURRENT SYSTEM INSTRUCTION:\n%s\n%s\n\n", sectionRule, sectionRule, skill.SystemInstruction)
	fmt.Fprintf(&sb, "%s\nCURRENT USER PROMPT TEMPLATE:\n%s\n%s\n\n", sectionRule, sectionRule, skill.UserPromptTemplate)

	fmt.Fprintf(&sb, "%s\nPERFORMANCE SCORES (out of 5.0):\n%s\n", sectionRule, sectionRule)
	fmt.Fprintf(&sb, "Overall:        %s\n", formatScore(scores.Overall))
	fmt.Fprintf(&sb, "Relevance:      %s\n", formatScore(scores.Relevance))
	fmt.Fprintf(&sb, "Accuracy:       %s\n", formatScore(scores.Accuracy))
	fmt.Fprintf(&sb, "Completeness:   %s\n", formatScore(scores.Completeness))
	fmt.Fprintf(&sb, "Clarity:        %s\n", formatScore(scores.Clarity))
	fmt.Fprintf(&sb, "Actionability:  %s\n", formatScore(scores.Actionability))
	fmt.Fprintf(&sb, "Professionalism: %s\n\n", formatScore(scores.Professionalism))

	fmt.Fprintf(&sb, "TRIGGER REASON: %s\nWEAK DIMENSIONS: %s\n\n", req.TriggerReason, weakLine)

	fmt.Fprintf(&sb, "%s\nUSER FEEDBACK SAMPLES (anonymized):\n%s\n%s\n\n", sectionRule, sectionRule, feedbackBlock)

	fmt.Fprintf(&sb, "%s\nYOUR TASK:\n%s\n", sectionRule, sectionRule)
	fmt.Fprintf(&sb, "Improve this skill's prompts to address the weak scores and user feedback.\n")
	fmt.Fprintf(&sb, "Focus especially on improving: %s\n\n", focusLine)
	sb.WriteString("Remember:\n")
	sb.WriteString("- Preserve all {{placeholder}} syntax exactly\n")
	sb.WriteString("- Keep the core structure and intent\n")
	sb.WriteString("- Add targeted improvements, don't rewrite everything\n")
	sb.WriteString("- The improved prompt should help future outputs score higher on the weak dimensions\n")

	return sb.String()
}

func formatScore(v *float64) string {
	if v == nil {
		return "N/A"
	}
	return fmt.Sprintf("%.2f", *v)
}
