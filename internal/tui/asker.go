package tui

import (
	"context"
	"strings"
	"sync"
)

// Question is a name or yes/no request raised by a workbench action while
// the terminal UI owns the keyboard.
type Question struct {
	Text    string
	Confirm bool

	reply chan answer
	once  sync.Once
}

type answer struct {
	value    string
	declined bool
}

// Answer supplies value. Later calls are ignored.
func (q *Question) Answer(value string) {
	q.once.Do(func() { q.reply <- answer{value: value} })
}

// Decline dismisses the question. Later calls are ignored.
func (q *Question) Decline() {
	q.once.Do(func() { q.reply <- answer{declined: true} })
}

// Asker implements workbench.NamePrompter and workbench.Confirmer by
// handing questions to the running UI.
type Asker struct {
	questions chan *Question
}

// NewAsker creates an Asker. Questions block until a UI answers them.
func NewAsker() *Asker {
	return &Asker{questions: make(chan *Question)}
}

// PromptName asks for a document name. A dismissed question yields "".
func (a *Asker) PromptName(ctx context.Context) (string, error) {
	ans, err := a.ask(ctx, &Question{Text: "Name:"})
	if err != nil || ans.declined {
		return "", err
	}
	return ans.value, nil
}

// Confirm asks msg as a yes/no question.
func (a *Asker) Confirm(ctx context.Context, msg string) (bool, error) {
	ans, err := a.ask(ctx, &Question{Text: msg + " [y/N]", Confirm: true})
	if err != nil || ans.declined {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(ans.value)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}

func (a *Asker) ask(ctx context.Context, q *Question) (answer, error) {
	q.reply = make(chan answer, 1)
	select {
	case a.questions <- q:
	case <-ctx.Done():
		return answer{}, ctx.Err()
	}
	select {
	case ans := <-q.reply:
		return ans, nil
	case <-ctx.Done():
		return answer{}, ctx.Err()
	}
}
