// Package prompt turns captured text plus a target audience into the user
// message sent to the model.
package prompt

import (
	"errors"
	"fmt"
	"strings"
)

// Role is who the reply is addressed to.
type Role string

const (
	RoleBoss        Role = "boss"
	RoleClient      Role = "client"
	RoleGreenTea    Role = "greenTea"
	RolePigTeammate Role = "pigTeammate"
	RoleCustom      Role = "custom"
)

var (
	ErrEmptyText       = errors.New("source text must not be empty")
	ErrUnknownRole     = errors.New("unknown target role")
	ErrEmptyCustomRole = errors.New("custom role requires a description")
)

var roleInstruction = map[Role]string{
	RoleBoss: "The reader is your manager: be steady, short and precise. Align on the goal first, " +
		"then give concrete actions and a timeline so they feel things are under control.",
	RoleClient: "The reader is a client: be courteous and professional and stress collaboration. " +
		"Avoid confrontational wording; highlight risk awareness, the path forward and delivery commitments.",
	RoleGreenTea: "The reader is someone who blurs personal boundaries: stay natural and restrained, " +
		"polite but clear about limits. Avoid ambiguity and emotional language.",
	RolePigTeammate: "The reader is an unreliable teammate: be firm and direct without sarcasm. " +
		"State the facts, the impact and the next action needed to unblock the work.",
}

// Input is what the UI collected for one generation.
type Input struct {
	Text       string `json:"text"`
	Role       Role   `json:"role"`
	Context    string `json:"context,omitempty"`
	CustomRole string `json:"customRole,omitempty"`
}

// Build renders the prompt. An empty role means RoleBoss.
func Build(in Input) (string, error) {
	raw := strings.TrimSpace(in.Text)
	if raw == "" {
		return "", ErrEmptyText
	}

	strategy, err := strategyFor(in)
	if err != nil {
		return "", err
	}

	background := strings.TrimSpace(in.Context)
	if background == "" {
		background = "(none)"
	}

	return strings.Join([]string{
		"You rewrite emotionally charged messages into replies that are tactful, actionable and ready to send.",
		"",
		"Goals:",
		"1) Remove every aggressive, profane, complaining or emotional phrase.",
		"2) Distill what the writer actually needs: align goals, clarify boundaries, secure resources, move work forward, keep the relationship.",
		"3) Output a single reply that can be sent as is. No explanation, no preamble, no sign-off.",
		"4) Sound like a real person, not a template or a press release.",
		"",
		"Style:",
		"- Tone: composed, restrained, natural; polite but not submissive.",
		"- Structure: acknowledge the other side, propose the action, end with a time or an expected result.",
		"- Length: at most two sentences.",
		"- Never lecture, threaten, overpromise or use emoji.",
		"",
		"Audience: " + strategy,
		"",
		"Material:",
		"- Writer's original text: " + raw,
		"- Other party's words or background: " + background,
		"",
		"Write the final reply now.",
	}, "\n"), nil
}

func strategyFor(in Input) (string, error) {
	role := in.Role
	if role == "" {
		role = RoleBoss
	}
	if role == RoleCustom {
		custom := strings.TrimSpace(in.CustomRole)
		if custom == "" {
			return "", ErrEmptyCustomRole
		}
		return fmt.Sprintf("The reader is %s: adapt tone and wording to that relationship while keeping the reply professional.", custom), nil
	}
	instruction, ok := roleInstruction[role]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
	return instruction, nil
}
