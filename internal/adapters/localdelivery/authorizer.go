package localdelivery

import (
	"context"
	"io"
	"os"
	"strings"

	"levelup-reminder/internal/infra/logger"
	"levelup-reminder/internal/infra/pr"

	"golang.org/x/term"
)

// AutoAuthorizer отвечает без вопросов (NOTIFY_AUTO_AUTHORIZE или неинтерактивный режим).
type AutoAuthorizer bool

func (a AutoAuthorizer) Authorize(context.Context) (bool, error) { return bool(a), nil }

const authorizePrompt = "알림을 허용할까요? [y/N] "

// PromptAuthorizer спрашивает пользователя в консоли. Если stdin не терминал
// или readline не инициализирован, используется Fallback.
type PromptAuthorizer struct {
	Fallback Authorizer
	// isTerminal подменяется в тестах.
	isTerminal func() bool
}

// NewPromptAuthorizer - вопрос в терминале, иначе fallback.
func NewPromptAuthorizer(fallback Authorizer) *PromptAuthorizer {
	if fallback == nil {
		fallback = AutoAuthorizer(false)
	}
	return &PromptAuthorizer{
		Fallback:   fallback,
		isTerminal: func() bool { return term.IsTerminal(int(os.Stdin.Fd())) }, // #nosec G115
	}
}

func (p *PromptAuthorizer) Authorize(ctx context.Context) (bool, error) {
	rl := pr.Rl()
	if rl == nil || !p.isTerminal() {
		return p.Fallback.Authorize(ctx)
	}

	prev := rl.Config.Prompt
	rl.SetPrompt(authorizePrompt)
	defer rl.SetPrompt(prev)

	line, err := rl.Readline()
	if err != nil {
		if err == io.EOF {
			logger.Debug("authorization prompt interrupted")
			return false, nil
		}
		return false, err
	}
	return parseAnswer(line), nil
}

// parseAnswer - «да» только при явном согласии.
func parseAnswer(line string) bool {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes", "네", "예", "응":
		return true
	default:
		return false
	}
}
