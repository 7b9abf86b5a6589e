// Package repl implements the Read-Eval-Print Loop for the Lox
// programming language.
//
// The REPL provides an interactive interface for users to enter Lox
// code, have it scanned, parsed, resolved, and evaluated, and see the
// results immediately. It uses the Charm libraries (Bubbletea, Bubbles,
// and Lipgloss) to create a modern terminal interface with syntax
// highlighting and command history.
//
// Key features:
//   - Interactive command input and execution against either execution
//     backend (tree-walk evaluator or bytecode VM), selected by Options
//   - Command history tracking
//   - Styled output with different colors for results and errors
//   - A persistent global environment across inputs, so a `var` or `fun`
//     declared on one line is visible to the next
//
// The main entry point is Start, which runs the bubbletea program;
// linerepl.go provides a chzyer/readline-based fallback for non-tty
// input.
package repl

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/dr8co/klox/compiler"
	"github.com/dr8co/klox/diag"
	"github.com/dr8co/klox/evaluator"
	"github.com/dr8co/klox/lexer"
	"github.com/dr8co/klox/parser"
	"github.com/dr8co/klox/resolver"
	"github.com/dr8co/klox/token"
	"github.com/dr8co/klox/vm"
)

const (
	// Prompt is the default prompt for the REPL.
	Prompt = "lox> "

	// ContPrompt is the continuation prompt used in multiline input mode.
	ContPrompt = " ... "
)

// Backend selects which execution engine the REPL evaluates input with.
type Backend int

const (
	BackendTreeWalk Backend = iota
	BackendVM
)

// Options contains configuration options for the REPL; all but Debug are
// persisted to ~/.klox/repl.yaml between sessions (see Config in config.go).
type Options struct {
	NoColor   bool // Disable syntax highlighting and colored output
	Debug     bool // Enable debug mode with more verbose output
	Backtrace bool // Append a backtrace to runtime errors
	Backend   Backend
}

// Start initializes and runs the bubbletea REPL program with the given
// username and options.
func Start(username string, options Options) {
	p := tea.NewProgram(initialModel(username, options))
	if _, err := p.Run(); err != nil {
		fmt.Println("Error running program:", err)
	}
}

// Styling.
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#7D56F4")).
			Bold(true)

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#04B575"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF5F87"))

	historyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#767676"))

	keywordStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF79C6")).
			Bold(true)

	identifierStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F8F8F2"))

	literalStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F1FA8C"))

	operatorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF5555"))

	delimiterStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#BD93F9"))

	stringStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#50FA7B"))
)

// evalResultMsg carries the outcome of one background evaluation back
// into the bubbletea update loop.
type evalResultMsg struct {
	output  string
	isError bool
	elapsed time.Duration
}

type historyEntry struct {
	input          string
	output         string
	isError        bool
	evaluationTime time.Duration
}

// model is the bubbletea model backing the REPL: persistent backend
// state (so globals survive across inputs), the scrollback, and the
// live text input.
type model struct {
	textInput       textinput.Model
	history         []historyEntry
	username        string
	evaluating      bool
	currentInput    string
	multilineBuffer string
	isMultiline     bool
	spinner         spinner.Model
	options         Options

	tree *evaluator.Evaluator
	vm   *vm.VM
}

func (m model) applyStyle(style lipgloss.Style, text string) string {
	if m.options.NoColor {
		return text
	}
	return style.Render(text)
}

func initialModel(username string, options Options) model {
	ti := textinput.New()
	ti.Placeholder = "print \"hello\";"
	ti.Focus()
	ti.Width = 80
	ti.Prompt = promptStyle.Render(Prompt)

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF79C6"))

	return model{
		textInput: ti,
		username:  username,
		spinner:   s,
		options:   options,
		tree:      evaluator.New(map[int]int{}),
		vm:        vm.New(),
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick)
}

// isBalanced reports whether input's brackets are balanced, the
// heuristic the REPL uses to decide whether to keep buffering a
// multiline statement or submit it for evaluation.
func isBalanced(input string) bool {
	var stack []rune
	for _, char := range input {
		switch char {
		case '(', '{':
			stack = append(stack, char)
		case ')':
			if len(stack) == 0 || stack[len(stack)-1] != '(' {
				return false
			}
			stack = stack[:len(stack)-1]
		case '}':
			if len(stack) == 0 || stack[len(stack)-1] != '{' {
				return false
			}
			stack = stack[:len(stack)-1]
		}
	}
	return len(stack) == 0
}

// evalCmd runs input through the scan/parse/resolve pipeline and then
// the selected backend, asynchronously, returning its outcome as a
// tea.Msg. The resolver's depth map is rebuilt and rewired into the
// persistent tree-walk evaluator on every call, since the depth map is
// keyed by *this* input's expression ids, which are meaningless for any
// other input's AST nodes — only the global environment itself persists.
func evalCmd(m *model, input string) tea.Cmd {
	return func() tea.Msg {
		start := time.Now()
		diag.SetSource(input)

		l := lexer.New(input)
		p := parser.New(l)
		program, perrs := p.ParseProgram()
		compileErrs := diag.FromScanErrors(l.Errors())
		compileErrs = append(compileErrs, diag.FromParseErrors(perrs)...)
		if len(compileErrs) != 0 {
			return evalResultMsg{
				output:  diag.RenderAll(input, "", compileErrs),
				isError: true,
				elapsed: time.Since(start),
			}
		}

		res := resolver.Resolve(program)
		if len(res.Errors) != 0 {
			return evalResultMsg{
				output:  diag.RenderAll(input, "", diag.FromResolveErrors(res.Errors)),
				isError: true,
				elapsed: time.Since(start),
			}
		}

		var output string
		var runErr error
		switch m.options.Backend {
		case BackendVM:
			proto, cerrs := compiler.Compile(input, program)
			if len(cerrs) != 0 {
				msgs := make([]string, len(cerrs))
				for i, e := range cerrs {
					msgs[i] = e.Message
				}
				return evalResultMsg{output: strings.Join(msgs, "\n"), isError: true, elapsed: time.Since(start)}
			}
			runErr = m.vm.Run(proto)
		default:
			m.tree.SetDepths(res.Depths)
			runErr = m.tree.Run(program)
		}

		if runErr != nil {
			output = diag.RenderRuntimeError(runErr)
			return evalResultMsg{output: output, isError: true, elapsed: time.Since(start)}
		}
		return evalResultMsg{output: "", isError: false, elapsed: time.Since(start)}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case spinner.TickMsg:
		if m.evaluating {
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}

	case evalResultMsg:
		m.evaluating = false
		m.history = append(m.history, historyEntry{
			input:          m.currentInput,
			output:         msg.output,
			isError:        msg.isError,
			evaluationTime: msg.elapsed,
		})
		m.currentInput = ""
		return m, nil

	case tea.KeyMsg:
		if m.evaluating && msg.Type != tea.KeyCtrlC {
			return m, m.spinner.Tick
		}

		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc, tea.KeyCtrlD:
			return m, tea.Quit
		case tea.KeyEnter:
			input := m.textInput.Value()
			if input == "" {
				if m.isMultiline {
					if m.multilineBuffer == "" {
						m.isMultiline = false
						return m, nil
					}
					buffer := m.multilineBuffer
					m.evaluating = true
					m.currentInput = buffer
					m.textInput.SetValue("")
					m.isMultiline = false
					m.multilineBuffer = ""
					return m, evalCmd(&m, buffer)
				}
				return m, nil
			}

			if m.isMultiline {
				m.multilineBuffer += "\n" + input
				m.textInput.SetValue("")
				if isBalanced(m.multilineBuffer) {
					buffer := m.multilineBuffer
					m.evaluating = true
					m.currentInput = buffer
					m.isMultiline = false
					m.multilineBuffer = ""
					return m, evalCmd(&m, buffer)
				}
				return m, nil
			}

			if !isBalanced(input) {
				m.isMultiline = true
				m.multilineBuffer = input
				m.textInput.SetValue("")
				return m, nil
			}

			m.evaluating = true
			m.currentInput = input
			m.textInput.SetValue("")
			return m, evalCmd(&m, input)
		}
	}

	if !m.evaluating {
		m.textInput, cmd = m.textInput.Update(msg)
	}
	if m.evaluating {
		return m, m.spinner.Tick
	}
	return m, cmd
}

func (m model) View() string {
	var s strings.Builder

	s.WriteString(m.applyStyle(titleStyle, " klox REPL "))
	s.WriteString("\n")
	if m.username != "" {
		fmt.Fprintf(&s, "\nHello %s! Type Lox statements, terminated by ';'.\n", m.username)
	}
	s.WriteString("\n")

	for _, entry := range m.history {
		lines := strings.Split(entry.input, "\n")
		for i, line := range lines {
			if i == 0 {
				s.WriteString(m.applyStyle(promptStyle, Prompt))
			} else {
				s.WriteString(m.applyStyle(promptStyle, ContPrompt))
			}
			s.WriteString(m.highlightCode(line))
			s.WriteString("\n")
		}

		if entry.isError {
			s.WriteString(m.applyStyle(errorStyle, entry.output))
		} else if entry.output != "" {
			s.WriteString(m.applyStyle(resultStyle, entry.output))
		}

		if entry.evaluationTime > 10*time.Millisecond {
			s.WriteString(m.applyStyle(historyStyle, fmt.Sprintf(" (%.2fs)", entry.evaluationTime.Seconds())))
		}
		s.WriteString("\n\n")
	}

	if m.evaluating {
		s.WriteString(m.applyStyle(promptStyle, Prompt))
		s.WriteString(m.highlightCode(m.currentInput))
		s.WriteString("\n")
		s.WriteString(m.spinner.View())
		s.WriteString(" Evaluating...\n\n")
	}

	if m.isMultiline && !m.evaluating {
		s.WriteString(m.applyStyle(historyStyle, "Current multiline input:\n"))
		s.WriteString(m.highlightCode(m.multilineBuffer))
		s.WriteString("\n")
	}

	if !m.evaluating {
		if m.isMultiline {
			m.textInput.Prompt = m.applyStyle(promptStyle, ContPrompt)
		} else {
			m.textInput.Prompt = m.applyStyle(promptStyle, Prompt)
		}
		s.WriteString(m.textInput.View())
		s.WriteString("\n")
	}

	help := "\nPress Esc or Ctrl+C/D to exit"
	if m.isMultiline {
		help += " | Multiline mode: empty line to evaluate"
	} else {
		help += " | Unbalanced brackets continue onto the next line"
	}
	s.WriteString(m.applyStyle(historyStyle, help))

	return s.String()
}

// highlightCode tokenizes code with the scanner and re-renders it with
// per-kind styling, joined by single spaces and a newline after each
// statement-ending `;` or block-opening `{`. Lox statement syntax
// carries few spacing conventions worth preserving, so no further
// reformatting is attempted.
func (m model) highlightCode(code string) string {
	l := lexer.New(code)
	var s strings.Builder

	for {
		tok := l.NextToken()
		if tok.Kind == token.EOF {
			break
		}
		s.WriteString(m.styleToken(tok))
		switch tok.Kind {
		case token.SEMICOLON, token.LBRACE:
			s.WriteString("\n")
		default:
			s.WriteString(" ")
		}
	}
	return strings.TrimRight(s.String(), " \n")
}

func (m model) styleToken(tok token.Token) string {
	if m.options.NoColor {
		return tok.Lexeme
	}
	switch tok.Kind {
	case token.AND, token.CLASS, token.ELSE, token.FALSE, token.FOR, token.FUN,
		token.IF, token.NIL, token.OR, token.PRINT, token.RETURN, token.SUPER,
		token.THIS, token.TRUE, token.VAR, token.WHILE:
		return keywordStyle.Render(tok.Lexeme)
	case token.IDENT:
		return identifierStyle.Render(tok.Lexeme)
	case token.NUMBER:
		return literalStyle.Render(tok.Lexeme)
	case token.STRING:
		return stringStyle.Render(tok.Lexeme)
	case token.PLUS, token.MINUS, token.STAR, token.SLASH, token.BANG, token.EQUAL,
		token.LESS, token.GREATER, token.BANG_EQUAL, token.EQUAL_EQUAL,
		token.LESS_EQUAL, token.GREATER_EQUAL:
		return operatorStyle.Render(tok.Lexeme)
	case token.COMMA, token.DOT, token.SEMICOLON, token.LPAREN, token.RPAREN,
		token.LBRACE, token.RBRACE:
		return delimiterStyle.Render(tok.Lexeme)
	default:
		return tok.Lexeme
	}
}
