package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jesspig/micro-agent/internal/skills"
)

// Persona files read from the workspace root, in injection order.
var personaFiles = []string{"IDENTITY.md", "USER.md", "BEHAVIOR.md"}

const maxPersonaChars = 20000

// reactTemplate drives the text-only ReAct protocol. The tool catalog is
// substituted per turn so MCP tools joining late are still visible.
const reactTemplate = `You are a personal assistant that reasons step by step.

On every turn reply with exactly one JSON object, nothing else:
{"thought": "<your reasoning>", "action": "<tool name or finish>", "action_input": <tool input or final answer>}

Available tools:
%s- finish: return action_input to the user as the final answer

Rules:
- One action per reply.
- After a tool runs you receive "Observation: <result>" and may act again.
- When you have the answer, use action "finish".
- If a tool fails, read the error and try another approach.`

// PromptBuilder assembles the system block: persona, always-on skills,
// skill catalog, and the ReAct instructions.
type PromptBuilder struct {
	workspace string
	skills    *skills.Loader
}

func NewPromptBuilder(workspace string, loader *skills.Loader) *PromptBuilder {
	return &PromptBuilder{workspace: workspace, skills: loader}
}

// SystemPrompt renders the full system block for one turn.
func (b *PromptBuilder) SystemPrompt(toolCatalog string) string {
	var parts []string

	if persona := b.loadPersona(); persona != "" {
		parts = append(parts, persona)
	}

	if b.skills != nil {
		for _, s := range b.skills.Always() {
			parts = append(parts, fmt.Sprintf("## Skill: %s\n%s", s.Name, s.Content))
		}
		if catalog := b.skills.Catalog(); catalog != "" {
			parts = append(parts, "## Available skills\nRead a skill file with read_file when relevant:\n"+catalog)
		}
	}

	parts = append(parts, fmt.Sprintf(reactTemplate, toolCatalog))
	return strings.Join(parts, "\n\n")
}

// loadPersona concatenates the persona files that exist, capped so a huge
// USER.md cannot crowd out the instructions.
func (b *PromptBuilder) loadPersona() string {
	var sb strings.Builder
	for _, name := range personaFiles {
		data, err := os.ReadFile(filepath.Join(b.workspace, name))
		if err != nil {
			continue
		}
		content := strings.TrimSpace(string(data))
		if content == "" {
			continue
		}
		if sb.Len()+len(content) > maxPersonaChars {
			remain := maxPersonaChars - sb.Len()
			if remain <= 0 {
				break
			}
			content = content[:remain] + "\n... (truncated)"
		}
		sb.WriteString(content)
		sb.WriteString("\n\n")
	}
	return strings.TrimSpace(sb.String())
}
