package session

import (
	"strings"
	"text/template"
)

// DefaultAgent is the agent binary launched in the terminal host.
const DefaultAgent = "claude"

// AgentContext describes the session to the agent.
type AgentContext struct {
	Binary      string
	Model       string
	Instruction string
	Dir         string
	ModelPath   string
	OutputDir   string
	PreviewURL  string
}

var systemPrompt = template.Must(template.New("system").Parse(`You are in an interactive 3D modeling session.

SESSION CONTEXT:
- Working directory: {{.Dir}}
- Model file: {{.ModelPath}}
- Preview: {{.PreviewURL}} (the browser shows a live preview)
- Output folder: {{.OutputDir}}

HOW THIS WORKS:
The browser shows a live 3D preview of the model file. Every time you save it,
the viewer reloads and shows the updated model.

WORKFLOW:
1. Read the current model file to understand the starting point
2. Modify it based on the user's request
3. The browser shows the updated model automatically
4. Ask the user for feedback and iterate

WHEN FINISHED:
Export the final STL with: mcc export {{.ModelPath}} -o {{.OutputDir}}/model.stl --quality high

Start by creating the 3D model the user described, then iterate based on their feedback.`))

// AgentCommand builds the agent argv:
// <binary> [--model M] --append-system-prompt <context> -p <instruction>.
func AgentCommand(agent AgentContext) []string {
	binary := strings.TrimSpace(agent.Binary)
	if binary == "" {
		binary = DefaultAgent
	}
	argv := []string{binary}
	if model := strings.TrimSpace(agent.Model); model != "" {
		argv = append(argv, "--model", model)
	}
	var prompt strings.Builder
	_ = systemPrompt.Execute(&prompt, agent)
	argv = append(argv, "--append-system-prompt", prompt.String())
	argv = append(argv, "-p", agent.Instruction)
	return argv
}
