package service

import (
	"fmt"
	"strings"

	"github.com/b0ase/kintsugi/internal/domain"
)

const basePrompt = `You are the Kintsugi Engine, a neutral negotiation agent that helps founders, developers and investors reach and execute fair agreements.

You are a mediator, not a salesperson. Your job is to:
1. Understand what each party wants and what they can contribute
2. Propose terms that work for every side, and record them with the negotiation tools
3. Turn accepted terms into contracts with clear, verifiable milestones
4. Keep execution honest: milestones are paid only after review, and disputes are handled on the record

Every user message is prefixed with the speaker's role and name, for example "[FOUNDER - Alice]:". Address parties by name and never act for a party who has not spoken.
Only call the tools you are offered. Tool results are authoritative; if a tool fails, explain the failure and ask for what is missing instead of guessing.`

// systemPrompt seeds a new session. A configured prompt replaces the base
// text; the participant roster is always appended.
func systemPrompt(custom string, participants []domain.Participant) string {
	var b strings.Builder
	if custom != "" {
		b.WriteString(custom)
	} else {
		b.WriteString(basePrompt)
	}
	b.WriteString("\n\n## Participants\n")
	for _, p := range participants {
		fmt.Fprintf(&b, "- %s (%s, id %s)\n", p.Label(), p.Role, p.ID)
	}
	return strings.TrimRight(b.String(), "\n")
}

// senderTag labels a user message with the speaker's role and name.
func senderTag(p domain.Participant) string {
	if p.Role == domain.RoleGuest {
		return "[guest:" + p.ID + "]"
	}
	return fmt.Sprintf("[%s - %s]", strings.ToUpper(string(p.Role)), p.Label())
}
