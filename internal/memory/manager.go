package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/clawinfra/codeclaw/internal/gateway"
)

// extractPromptTemplate asks the model for durable facts worth keeping.
const extractPromptTemplate = `Extract any important facts, decisions, or preferences from this exchange that should be remembered for future conversations.

User: %s
Assistant: %s

If there are important facts (e.g., user preferences, project decisions, file locations mentioned), list them briefly. If nothing important, respond with "None".`

// Manager binds a store to one session and runs fact extraction through a
// dedicated no-tools gateway call. It satisfies the orchestrator's Memory
// interface; every operation is best-effort.
type Manager struct {
	store     Store
	gw        gateway.Streamer
	model     string
	sessionID string
	logger    *slog.Logger
}

// NewManager creates a memory manager for one session.
func NewManager(store Store, gw gateway.Streamer, model, sessionID string, logger *slog.Logger) *Manager {
	return &Manager{
		store:     store,
		gw:        gw,
		model:     model,
		sessionID: sessionID,
		logger:    logger.With("component", "memory"),
	}
}

// Search returns up to limit memories relevant to the query.
func (m *Manager) Search(ctx context.Context, query string, limit int) ([]string, error) {
	return m.store.Search(ctx, m.sessionID, query, limit)
}

// Add stores one memory directly (e.g. from an explicit user request).
func (m *Manager) Add(ctx context.Context, content string, metadata map[string]string) error {
	return m.store.Add(ctx, m.sessionID, content, metadata)
}

// ExtractAndStore distills durable facts from an exchange and stores them.
// Failures are logged, never surfaced: memory is an augmentation, not a
// dependency of the turn.
func (m *Manager) ExtractAndStore(ctx context.Context, userMsg, reply string) {
	if len(reply) < 50 {
		return // nothing durable in trivial exchanges
	}

	prompt := fmt.Sprintf(extractPromptTemplate, clip(userMsg, 500), clip(reply, 500))

	stream, err := m.gw.Chat(ctx, gateway.ChatRequest{
		Model:    m.model,
		Messages: []gateway.Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		m.logger.Debug("memory extraction call failed", "error", err)
		return
	}
	resp, err := gateway.Collect(stream)
	if err != nil {
		m.logger.Debug("memory extraction stream failed", "error", err)
		return
	}

	text := strings.TrimSpace(resp.Content)
	if text == "" || strings.HasPrefix(strings.ToLower(text), "none") {
		return
	}

	if err := m.store.Add(ctx, m.sessionID, text, map[string]string{"type": "extracted"}); err != nil {
		m.logger.Debug("memory store failed", "error", err)
		return
	}
	m.logger.Debug("memory stored", "length", len(text))
}

func clip(s string, max int) string {
	if len(s) > max {
		return s[:max]
	}
	return s
}
