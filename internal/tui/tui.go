// Package tui is a terminal front end for the workbench: a document list,
// the selected document, and the output panel, driven by the workbench
// key bindings.
package tui

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/starford/runebook/internal/keymap"
	"github.com/starford/runebook/internal/models"
	"github.com/starford/runebook/internal/session"
	"github.com/starford/runebook/internal/workbench"
)

const (
	listWidth   = 28
	outputLines = 10
	helpText    = "ctrl+r run · alt+1..9 select · ctrl+n new · e edit · d delete · alt+j output · esc close · q quit"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	activeStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	paneStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	outputStyle = lipgloss.NewStyle().Border(lipgloss.NormalBorder()).BorderForeground(lipgloss.Color("240")).Padding(0, 1)
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
)

// --- Messages ---

type changedMsg struct{}

type promptMsg struct{ req *session.PromptRequest }

type questionMsg struct{ q *Question }

type statusMsg struct {
	text string
	err  error
}

type editedMsg struct {
	id   string
	path string
	err  error
}

// pending is an open request for a line of text: program input or a
// question from a workbench action.
type pending struct {
	prompt   *session.PromptRequest
	question *Question
}

func (p pending) label() string {
	if p.question != nil {
		return p.question.Text + " "
	}
	return "input> "
}

// Model is the bubbletea model over a workbench.
type Model struct {
	ctx    context.Context
	wb     *workbench.Workbench
	asker  *Asker
	editor string

	input  textinput.Model
	queue  []pending
	status string
	width  int
	height int
}

// New creates the model. asker must be the workbench's NamePrompter and
// Confirmer so that its questions reach the UI.
func New(ctx context.Context, wb *workbench.Workbench, asker *Asker) Model {
	ti := textinput.New()
	ti.CharLimit = 256

	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = "vi"
	}
	return Model{ctx: ctx, wb: wb, asker: asker, editor: editor, input: ti}
}

// Run shows the UI until the user quits or ctx ends.
func Run(ctx context.Context, wb *workbench.Workbench, asker *Asker, opts ...tea.ProgramOption) error {
	opts = append([]tea.ProgramOption{tea.WithAltScreen(), tea.WithContext(ctx)}, opts...)
	p := tea.NewProgram(New(ctx, wb, asker), opts...)

	// Mutations also happen inside Update; never block the event loop.
	cancel := wb.Store().OnChange(func(models.Snapshot) {
		go p.Send(changedMsg{})
	})
	defer cancel()

	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

// --- Tea commands ---

func waitPrompt(prompts <-chan *session.PromptRequest) tea.Cmd {
	return func() tea.Msg {
		return promptMsg{req: <-prompts}
	}
}

func waitQuestion(a *Asker) tea.Cmd {
	return func() tea.Msg {
		return questionMsg{q: <-a.questions}
	}
}

// handleKeyCmd runs a bound action off the event loop; it may block on a
// prompt or a question.
func handleKeyCmd(ctx context.Context, wb *workbench.Workbench, ev keymap.Event) tea.Cmd {
	return func() tea.Msg {
		res, err := wb.HandleKey(ctx, ev)
		if err != nil {
			return statusMsg{err: err}
		}
		return statusMsg{text: res.Action.String()}
	}
}

func closeActiveCmd(ctx context.Context, wb *workbench.Workbench) tea.Cmd {
	return func() tea.Msg {
		d, ok := wb.Store().Active()
		if !ok {
			return statusMsg{}
		}
		if err := wb.CloseDocument(ctx, d.ID); err != nil {
			return statusMsg{err: err}
		}
		if _, still := wb.Store().Get(d.ID); still {
			return statusMsg{text: "kept " + d.Name}
		}
		return statusMsg{text: "deleted " + d.Name}
	}
}

// --- Bubble Tea interface ---

// Init starts listening for program input requests and questions.
func (m Model) Init() tea.Cmd {
	return tea.Batch(waitPrompt(m.wb.Session().Prompts()), waitQuestion(m.asker))
}

// Update handles messages for the workbench view.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case changedMsg:
		return m, nil

	case promptMsg:
		cmd := m.enqueue(pending{prompt: msg.req})
		return m, tea.Batch(cmd, waitPrompt(m.wb.Session().Prompts()))

	case questionMsg:
		cmd := m.enqueue(pending{question: msg.q})
		return m, tea.Batch(cmd, waitQuestion(m.asker))

	case statusMsg:
		if msg.err != nil {
			m.status = msg.err.Error()
		} else {
			m.status = msg.text
		}
		return m, nil

	case editedMsg:
		m.status = m.finishEdit(msg)
		return m, nil

	case tea.KeyMsg:
		if len(m.queue) > 0 {
			return m.updateInput(msg)
		}
		return m.updateBrowse(msg)
	}
	return m, nil
}

func (m Model) updateBrowse(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		return m, tea.Quit
	case "e":
		return m, m.edit()
	case "d":
		return m, closeActiveCmd(m.ctx, m.wb)
	}

	ev, ok := translateKey(msg.String())
	if !ok {
		return m, nil
	}
	if action, _ := keymap.Resolve(ev); action == keymap.ActionNone {
		return m, nil
	}
	return m, handleKeyCmd(m.ctx, m.wb, ev)
}

func (m Model) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		m.answer(m.input.Value(), true)
		return m, m.next()
	case "esc":
		m.answer("", false)
		return m, m.next()
	case "ctrl+c":
		for len(m.queue) > 0 {
			m.answer("", false)
		}
		return m, tea.Quit
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) enqueue(p pending) tea.Cmd {
	m.queue = append(m.queue, p)
	if len(m.queue) > 1 {
		return nil
	}
	return m.next()
}

// next focuses the input on the head of the queue.
func (m *Model) next() tea.Cmd {
	m.input.Reset()
	if len(m.queue) == 0 {
		m.input.Blur()
		return nil
	}
	m.input.Prompt = m.queue[0].label()
	return m.input.Focus()
}

// answer resolves the head of the queue.
func (m *Model) answer(value string, ok bool) {
	head := m.queue[0]
	m.queue = m.queue[1:]
	switch {
	case head.prompt != nil && ok:
		head.prompt.Respond(value)
	case head.prompt != nil:
		head.prompt.Cancel()
	case ok:
		head.question.Answer(value)
	default:
		head.question.Decline()
	}
}

// edit opens the selected document in $EDITOR.
func (m Model) edit() tea.Cmd {
	d, ok := m.wb.Store().Active()
	if !ok {
		return nil
	}
	f, err := os.CreateTemp("", "runebook-*-"+filepath.Base(d.Name))
	if err != nil {
		return func() tea.Msg { return statusMsg{err: err} }
	}
	_, werr := f.WriteString(d.Content)
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		os.Remove(f.Name())
		return func() tea.Msg { return statusMsg{err: werr} }
	}

	path := f.Name()
	return tea.ExecProcess(exec.Command(m.editor, path), func(err error) tea.Msg {
		return editedMsg{id: d.ID, path: path, err: err}
	})
}

func (m Model) finishEdit(msg editedMsg) string {
	defer os.Remove(msg.path)
	if msg.err != nil {
		return fmt.Sprintf("edit: %v", msg.err)
	}
	data, err := os.ReadFile(msg.path)
	if err != nil {
		return fmt.Sprintf("edit: %v", err)
	}
	d, ok := m.wb.Store().Get(msg.id)
	if !ok {
		return "edit: document was removed"
	}
	if d.Content == string(data) {
		return "unchanged"
	}
	m.wb.Store().Update(msg.id, string(data))
	return "saved " + d.Name
}

// View renders the list, the selected document and the output panel.
func (m Model) View() string {
	snap := m.wb.Store().Snapshot()

	var list strings.Builder
	for i, d := range snap.Documents {
		line := fmt.Sprintf("%d %s", i+1, d.Name)
		if d.ID == snap.ActiveID {
			line = activeStyle.Render("> " + line)
		} else {
			line = "  " + line
		}
		list.WriteString(line + "\n")
	}

	content := ""
	if i := snap.Index(snap.ActiveID); i >= 0 {
		content = snap.Documents[i].Content
	}

	title := "runebook"
	if id := m.wb.Identity(); id != "" {
		title += " · " + id
	}

	parts := []string{
		titleStyle.Render(title),
		lipgloss.JoinHorizontal(lipgloss.Top,
			paneStyle.Width(listWidth).Render(strings.TrimRight(list.String(), "\n")),
			paneStyle.Width(m.contentWidth()).Render(clip(content, m.contentHeight())),
		),
	}
	if m.wb.OutputVisible() {
		parts = append(parts, outputStyle.Width(listWidth+m.contentWidth()+4).Render(clip(m.wb.Output(), outputLines)))
	}
	if len(m.queue) > 0 {
		parts = append(parts, m.input.View())
	} else {
		parts = append(parts, helpStyle.Render(helpText))
	}
	if m.status != "" {
		parts = append(parts, statusStyle.Render(m.status))
	}
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (m Model) contentWidth() int {
	if w := m.width - listWidth - 8; w > 20 {
		return w
	}
	return 60
}

func (m Model) contentHeight() int {
	h := m.height - 6
	if m.wb.OutputVisible() {
		h -= outputLines + 2
	}
	if h < 5 {
		return 20
	}
	return h
}

// translateKey maps a terminal key name to a keymap event. Terminals cannot
// send ctrl+digit and report the meta key as alt, so alt+digit selects and
// other alt chords become meta chords.
func translateKey(s string) (keymap.Event, bool) {
	if rest, ok := strings.CutPrefix(s, "alt+"); ok && rest != "" {
		if len(rest) == 1 && rest[0] >= '1' && rest[0] <= '9' {
			s = "ctrl+" + rest
		} else {
			s = "meta+" + rest
		}
	}
	ev, err := keymap.ParseChord(s)
	if err != nil {
		return keymap.Event{}, false
	}
	return ev, true
}

func clip(s string, lines int) string {
	parts := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(parts) > lines {
		parts = append(parts[:lines-1], fmt.Sprintf("… %d more lines", len(parts)-lines+1))
	}
	return strings.Join(parts, "\n")
}
