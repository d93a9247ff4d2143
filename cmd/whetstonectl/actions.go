package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// --- Skill commands ---

func newSkillCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "skill",
		Short: "Manage skills and their versions",
	}
	cmd.AddCommand(newSkillListCommand())
	cmd.AddCommand(newSkillCreateCommand())
	cmd.AddCommand(newSkillStatusCommand())
	cmd.AddCommand(newSkillScoresCommand())
	cmd.AddCommand(newSkillTriggerCommand())
	cmd.AddCommand(newSkillRollbackCommand())
	return cmd
}

func newSkillListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered skills",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newClient().get("/api/v1/skills")
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
}

func newSkillCreateCommand() *cobra.Command {
	var (
		id                 string
		skillType          string
		systemInstruction  string
		userPromptTemplate string
		minGrades          int
		threshold          float64
	)
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Register a new skill",
		Args:  cobra.ExactArgs(1),
		Example: `  whetstonectl skill create market-analysis \
    --system "You are an analyst..." --template "Analyze {{company}}"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]interface{}{
				"name":                 args[0],
				"system_instruction":   systemInstruction,
				"user_prompt_template": userPromptTemplate,
			}
			if id != "" {
				body["id"] = id
			}
			if skillType != "" {
				body["skill_type"] = skillType
			}
			if minGrades > 0 {
				body["min_grades_for_improvement"] = minGrades
			}
			if threshold > 0 {
				body["improvement_threshold"] = threshold
			}
			data, err := newClient().post("/api/v1/skills", body)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Explicit skill id (generated if omitted)")
	cmd.Flags().StringVar(&skillType, "type", "", "Skill type")
	cmd.Flags().StringVar(&systemInstruction, "system", "", "System instruction (required)")
	cmd.Flags().StringVar(&userPromptTemplate, "template", "", "User prompt template (required)")
	cmd.Flags().IntVar(&minGrades, "min-grades", 0, "Minimum grades before improvement is considered")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "Overall score threshold that triggers improvement")
	cmd.MarkFlagRequired("system")
	cmd.MarkFlagRequired("template")
	return cmd
}

func newSkillStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status <skill-id>",
		Short: "Show skill summary, scores, active request and recent history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newClient().action(map[string]interface{}{
				"action":  "status",
				"skillId": args[0],
			})
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
}

func newSkillScoresCommand() *cobra.Command {
	var (
		totalGrades int
		overall     float64
		dims        map[string]string
		feedback    []string
	)
	cmd := &cobra.Command{
		Use:   "scores <skill-id>",
		Short: "Push an aggregate score snapshot from the grading pipeline",
		Args:  cobra.ExactArgs(1),
		Example: `  whetstonectl skill scores skill-abc123 \
    --grades 60 --overall 3.1 --dim accuracy=2.8 --dim clarity=3.4 \
    --feedback "numbers were wrong"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]interface{}{
				"total_grades": totalGrades,
			}
			if overall > 0 {
				body["overall"] = overall
			}
			for name, val := range dims {
				var f float64
				if _, err := fmt.Sscanf(val, "%g", &f); err != nil {
					return fmt.Errorf("invalid score for %s: %s", name, val)
				}
				body[name] = f
			}
			if len(feedback) > 0 {
				body["feedback"] = feedback
			}
			data, err := newClient().put("/api/v1/skills/"+args[0]+"/scores", body)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
	cmd.Flags().IntVar(&totalGrades, "grades", 0, "Total number of grades received")
	cmd.Flags().Float64Var(&overall, "overall", 0, "Overall average score")
	cmd.Flags().StringToStringVar(&dims, "dim", nil, "Per-dimension average, e.g. --dim accuracy=2.8")
	cmd.Flags().StringArrayVar(&feedback, "feedback", nil, "Raw feedback string, repeatable")
	cmd.MarkFlagRequired("grades")
	return cmd
}

func newSkillTriggerCommand() *cobra.Command {
	var manual bool
	cmd := &cobra.Command{
		Use:   "trigger <skill-id>",
		Short: "Evaluate eligibility and open an improvement request if eligible",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fields := map[string]interface{}{
				"action":  "trigger",
				"skillId": args[0],
			}
			if manual {
				fields["reason"] = "manual"
			}
			data, err := newClient().action(fields)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
	cmd.Flags().BoolVar(&manual, "manual", false, "Bypass the eligibility predicate (pending-flag guard still applies)")
	return cmd
}

func newSkillRollbackCommand() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "rollback <skill-id>",
		Short: "Restore the previous version's content",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newClient().action(map[string]interface{}{
				"action":  "rollback",
				"skillId": args[0],
				"reason":  reason,
			})
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "Why the rollback is happening")
	return cmd
}

// --- Request commands ---

func newRequestCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "request",
		Short: "Drive improvement requests through the review gate",
	}
	cmd.AddCommand(newRequestGenerateCommand())
	cmd.AddCommand(newRequestApproveCommand())
	cmd.AddCommand(newRequestRejectCommand())
	cmd.AddCommand(newRequestApplyCommand())
	return cmd
}

func newRequestGenerateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "generate <request-id>",
		Short: "Generate a rewrite proposal for a pending request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newClient().action(map[string]interface{}{
				"action":    "generate",
				"requestId": args[0],
			})
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
}

func newRequestApproveCommand() *cobra.Command {
	var reviewer string
	cmd := &cobra.Command{
		Use:   "approve <request-id>",
		Short: "Approve a generated proposal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newClient().action(map[string]interface{}{
				"action":     "approve",
				"requestId":  args[0],
				"reviewerId": reviewer,
			})
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
	cmd.Flags().StringVar(&reviewer, "reviewer", "", "Reviewer id (a bearer token overrides this)")
	return cmd
}

func newRequestRejectCommand() *cobra.Command {
	var (
		reviewer string
		reason   string
	)
	cmd := &cobra.Command{
		Use:   "reject <request-id>",
		Short: "Reject a pending or generated request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newClient().action(map[string]interface{}{
				"action":     "reject",
				"requestId":  args[0],
				"reason":     reason,
				"reviewerId": reviewer,
			})
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
	cmd.Flags().StringVar(&reviewer, "reviewer", "", "Reviewer id (a bearer token overrides this)")
	cmd.Flags().StringVar(&reason, "reason", "", "Why the proposal is rejected")
	return cmd
}

func newRequestApplyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "apply <request-id>",
		Short: "Promote an approved proposal to the skill's next version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newClient().action(map[string]interface{}{
				"action":    "apply",
				"requestId": args[0],
			})
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
}

// --- Pending list ---

func newPendingCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List all open improvement requests across skills",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newClient().action(map[string]interface{}{
				"action": "pending-list",
			})
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
}
