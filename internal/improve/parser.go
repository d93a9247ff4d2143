package improve

import (
	"fmt"
	"regexp"
	"strings"
)

// Proposal is the parsed result of a well-formed model response.
type Proposal struct {
	SystemInstruction  string
	UserPromptTemplate string
	Rationale          string
}

// ParseError reports which required section of the model output was missing
// or empty. The raw response travels with it for diagnostics.
type ParseError struct {
	Missing []string
	Raw     string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("model output missing required sections: %s", strings.Join(e.Missing, ", "))
}

var (
	systemInstructionRe  = regexp.MustCompile(`(?s)<system_instruction>(.*?)</system_instruction>`)
	userPromptTemplateRe = regexp.MustCompile(`(?s)<user_prompt_template>(.*?)</user_prompt_template>`)
	rationaleRe          = regexp.MustCompile(`(?s)<rationale>(.*?)</rationale>`)
	placeholderRe        = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_.-]+)\s*\}\}`)
)

// ParseProposal extracts the three delimited sections from a model response.
// Never assumes well-formedness: a missing or empty system instruction or
// user prompt template yields a *ParseError. A missing rationale is tolerated
// (the original pipeline defaulted it) but the two content sections are not.
func ParseProposal(response string) (*Proposal, error) {
	p := &Proposal{
		SystemInstruction:  extractSection(systemInstructionRe, response),
		UserPromptTemplate: extractSection(userPromptTemplateRe, response),
		Rationale:          extractSection(rationaleRe, response),
	}

	var missing []string
	if p.SystemInstruction == "" {
		missing = append(missing, "system_instruction")
	}
	if p.UserPromptTemplate == "" {
		missing = append(missing, "user_prompt_template")
	}
	if len(missing) > 0 {
		return nil, &ParseError{Missing: missing, Raw: response}
	}

	if p.Rationale == "" {
		p.Rationale = "No rationale provided"
	}
	return p, nil
}

func extractSection(re *regexp.Regexp, response string) string {
	m := re.FindStringSubmatch(response)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// Placeholders returns the unique {{placeholder}} tokens in a template, in
// first-appearance order.
func Placeholders(template string) []string {
	seen := make(map[string]bool)
	var names []string
	for _, m := range placeholderRe.FindAllStringSubmatch(template, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}

// MissingPlaceholders lists placeholders present in the original template but
// absent from the proposed one. The output contract says the model must
// preserve them verbatim; a dropped token is worth flagging to the reviewer.
func MissingPlaceholders(original, proposed string) []string {
	proposedSet := make(map[string]bool)
	for _, name := range Placeholders(proposed) {
		proposedSet[name] = true
	}
	var missing []string
	for _, name := range Placeholders(original) {
		if !proposedSet[name] {
			missing = append(missing, name)
		}
	}
	return missing
}
