package orchestrator

import "testing"

func TestDetectUserIntent(t *testing.T) {
	cases := []struct {
		msg  string
		want string
	}{
		{"Hello", ""},
		{"thanks!", ""},
		{"Create a python script hello.py that prints hello", "spawn_executor"},
		{"write a file that counts 1 to 100", "spawn_executor"},
		{"run the test suite", "spawn_executor"},
		{"fix the bug in parser.go", "spawn_executor"},
		{"What's in config.yaml?", "spawn_explorer"},
		{"show me the main function", "spawn_explorer"},
		{"where is the session registry defined", "spawn_explorer"},
		{"How do I use pandas?", "spawn_researcher"},
		{"documentation for pytest", "spawn_researcher"},
		{"look up the websocket RFC", "spawn_researcher"},
		{"Refactor the authentication across the codebase", "spawn_planner"},
		{"implement a caching system", "spawn_planner"},
	}
	for _, tc := range cases {
		if got := detectUserIntent(tc.msg); got != tc.want {
			t.Errorf("detectUserIntent(%q) = %q, want %q", tc.msg, got, tc.want)
		}
	}
}

func TestResearchBeatsExecutorKeywords(t *testing.T) {
	// "pytest" alone routes to the executor, but asking for docs about it
	// must route to the researcher.
	if got := detectUserIntent("documentation for pytest"); got != "spawn_researcher" {
		t.Errorf("got %q", got)
	}
	if got := detectUserIntent("pytest the project"); got != "spawn_executor" {
		t.Errorf("got %q", got)
	}
}

func TestEstimateComplexity(t *testing.T) {
	cases := []struct {
		task string
		want string
	}{
		{"read config.yaml", "simple"},
		{"just add a comment", "simple"},
		{"fix typo in readme", "simple"},
		{"refactor the auth module", "complex"},
		{"migrate to the new API across the codebase", "complex"},
		{"add a retry to the fetcher", "moderate"},
		{"create hello.py", "moderate"},
	}
	for _, tc := range cases {
		if got := estimateComplexity(tc.task); got != tc.want {
			t.Errorf("estimateComplexity(%q) = %q, want %q", tc.task, got, tc.want)
		}
	}
}

func TestDetectSpawnMention(t *testing.T) {
	cases := []struct {
		text string
		want string
	}{
		{"I'll use the planner agent for this.", "spawn_planner"},
		{"Let me create the file for you.", "spawn_executor"},
		{"Let me search the codebase.", "spawn_explorer"},
		{"I'll look up the documentation online.", "spawn_researcher"},
		{"The answer is 42.", ""},
	}
	for _, tc := range cases {
		if got := detectSpawnMention(tc.text); got != tc.want {
			t.Errorf("detectSpawnMention(%q) = %q, want %q", tc.text, got, tc.want)
		}
	}
}
