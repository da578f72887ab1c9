package orchestrator

import "github.com/clawinfra/codeclaw/internal/gateway"

// chatSystemPrompt is the routing prompt: the orchestrator's only job on the
// first call of a turn is to pick a spawn tool or answer directly.
const chatSystemPrompt = `You are CodeClaw, an AI coding assistant that routes tasks to specialized agents.

## YOUR ONLY JOB IS TO ROUTE REQUESTS

You MUST respond with a JSON tool call for ANY request involving:
- Files (create, write, read, edit, find, search)
- Code (write, run, test, build, install)
- Research (documentation, how-to, tutorials)

## TOOL CALL FORMAT (YOU MUST USE THIS)

For file/code operations:
{"name": "spawn_executor", "arguments": {"task": "the full user request"}}

For reading/searching:
{"name": "spawn_explorer", "arguments": {"task": "the full user request"}}

For research/docs:
{"name": "spawn_researcher", "arguments": {"task": "the full user request"}}

For complex multi-step work:
{"name": "spawn_planner", "arguments": {"task": "the full user request"}}

## EXAMPLES

User: "Create a python script hello.py"
You: {"name": "spawn_executor", "arguments": {"task": "Create a python script hello.py"}}

User: "What's in config.yaml?"
You: {"name": "spawn_explorer", "arguments": {"task": "Read and show config.yaml"}}

User: "How do I use pandas?"
You: {"name": "spawn_researcher", "arguments": {"task": "How to use pandas library"}}

User: "Hello"
You: Hello! I'm CodeClaw. How can I help you with your code today?

## RULES

1. ANY request mentioning files, code, scripts, apps, programs: spawn_executor
2. ANY request to read, find, search, show: spawn_explorer
3. ANY request about how-to, documentation, tutorials: spawn_researcher
4. ONLY greetings and general chat get direct text responses
5. NEVER say "I will create..." - just output the JSON tool call

Project directory: %s
`

// reviewPrompt asks the orchestrator to judge a worker's output.
const reviewPrompt = `You are reviewing work done by a specialized agent.

Original user request: %s

Agent type: %s
Agent output:
---
%s
---

As the foreman, evaluate this work:

1. Did the agent complete the task successfully?
2. Are there any errors or issues that need fixing?
3. Is any follow-up work needed?

Respond with one of:
- If work is complete and good: summarize the results for the user
- If work has issues: call spawn_executor or spawn_explorer to fix the problem
- If more exploration is needed: call spawn_explorer for additional information

Be concise but thorough in your assessment.
`

// escalationPrompt solicits a recovery route after a worker got stuck.
const escalationPrompt = `An agent got stuck and needs your help to reformulate the task.

## Original User Request
%s

## What the Agent Tried
%s

## Your Job
Analyze what went wrong and either:

1. Break down the task: if it is too complex, use spawn_planner to create a step-by-step plan
2. Fix prerequisites first: if something is missing (file, directory, dependency), spawn_executor with a specific task to create it first
3. Reformulate the task: provide clearer, more specific instructions for spawn_executor
4. Use a different approach: maybe spawn_explorer first to gather information

Think step by step about the root cause of the failure, then call the appropriate agent with a better task description.
`

// routingToolNames is the closed set of spawn tools. Routing honors only the
// first call in a response (single-dispatch contract).
var routingToolNames = map[string]bool{
	"spawn_explorer":   true,
	"spawn_executor":   true,
	"spawn_researcher": true,
	"spawn_planner":    true,
}

func routingTools() []gateway.ToolSchema {
	taskParam := func(desc string) map[string]any {
		return map[string]any{
			"type": "object",
			"properties": map[string]any{
				"task": map[string]any{"type": "string", "description": desc},
			},
			"required": []string{"task"},
		}
	}
	return []gateway.ToolSchema{
		{
			Name:        "spawn_explorer",
			Description: "Delegate to the explorer agent for reading files, searching code, or understanding the codebase.",
			Parameters:  taskParam("Detailed task for the explorer"),
		},
		{
			Name:        "spawn_executor",
			Description: "Delegate to the executor agent for creating files, editing code, or running commands.",
			Parameters:  taskParam("Detailed task for the executor"),
		},
		{
			Name:        "spawn_researcher",
			Description: "Delegate to the researcher agent for web searches, documentation lookup, and information gathering.",
			Parameters:  taskParam("The research task or question to investigate"),
		},
		{
			Name:        "spawn_planner",
			Description: "Delegate to the planner agent to break down a complex task into steps. Use for multi-step tasks, refactoring, or features requiring design.",
			Parameters:  taskParam("The complex task to plan"),
		},
	}
}
