package main

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wasmkit/singlepass/compiler"
	"github.com/wasmkit/singlepass/wasm"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	funcStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	typeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	trapStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	codeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type inspectorModel struct {
	err         error
	filename    string
	staticBound uint64

	mod   *wasm.Module
	cfg   compiler.Config
	funcs []funcEntry

	filter   textinput.Model
	selected int
	state    modelState

	compiledName string
	compiled     *compiler.CompiledFunction
}

type funcEntry struct {
	name  string
	local int
	sig   string
}

type modelState int

const (
	stateSelectFunc modelState = iota
	stateShowCode
)

func newInspectorModel(filename string, staticBound uint64) *inspectorModel {
	ti := textinput.New()
	ti.Placeholder = "filter"
	ti.Prompt = "/ "
	ti.Width = 30
	return &inspectorModel{
		filename:    filename,
		staticBound: staticBound,
		filter:      ti,
		state:       stateSelectFunc,
	}
}

type loadedMsg struct {
	err   error
	mod   *wasm.Module
	cfg   compiler.Config
	funcs []funcEntry
}

type compiledMsg struct {
	err  error
	name string
	out  *compiler.CompiledFunction
}

func (m *inspectorModel) Init() tea.Cmd {
	return m.loadModule
}

func (m *inspectorModel) loadModule() tea.Msg {
	data, err := os.ReadFile(m.filename)
	if err != nil {
		return loadedMsg{err: err}
	}

	mod, err := wasm.ParseModule(data)
	if err != nil {
		return loadedMsg{err: err}
	}

	names := exportNames(mod)
	var funcs []funcEntry
	for i := range mod.Code {
		funcIdx := uint32(mod.NumImportedFuncs() + i)
		name := names[funcIdx]
		if name == "" {
			name = fmt.Sprintf("func[%d]", funcIdx)
		}
		funcs = append(funcs, funcEntry{
			name:  name,
			local: i,
			sig:   sigString(mod.Types[mod.Funcs[i]]),
		})
	}
	sort.Slice(funcs, func(i, j int) bool { return funcs[i].name < funcs[j].name })

	return loadedMsg{mod: mod, cfg: moduleConfig(mod, m.staticBound), funcs: funcs}
}

func (m *inspectorModel) compileSelected() tea.Msg {
	visible := m.visibleFuncs()
	if m.selected >= len(visible) {
		return compiledMsg{err: fmt.Errorf("no function selected")}
	}
	f := visible[m.selected]
	out, err := compileFunc(m.mod, f.local, m.cfg)
	return compiledMsg{err: err, name: f.name, out: out}
}

// visibleFuncs applies the filter input to the function list.
func (m *inspectorModel) visibleFuncs() []funcEntry {
	needle := strings.TrimSpace(m.filter.Value())
	if needle == "" {
		return m.funcs
	}
	var out []funcEntry
	for _, f := range m.funcs {
		if strings.Contains(f.name, needle) {
			out = append(out, f)
		}
	}
	return out
}

func (m *inspectorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.filter.Focused() {
			switch msg.String() {
			case "enter", "esc":
				m.filter.Blur()
				m.selected = 0
			case "ctrl+c":
				return m, tea.Quit
			default:
				var cmd tea.Cmd
				m.filter, cmd = m.filter.Update(msg)
				if m.selected >= len(m.visibleFuncs()) {
					m.selected = 0
				}
				return m, cmd
			}
			return m, nil
		}

		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit

		case "/":
			if m.state == stateSelectFunc {
				m.filter.Focus()
				return m, textinput.Blink
			}

		case "up", "k":
			if m.state == stateSelectFunc && m.selected > 0 {
				m.selected--
			}

		case "down", "j":
			if m.state == stateSelectFunc && m.selected < len(m.visibleFuncs())-1 {
				m.selected++
			}

		case "enter":
			if m.state == stateSelectFunc && len(m.visibleFuncs()) > 0 {
				return m, m.compileSelected
			}

		case "esc":
			if m.state == stateShowCode {
				m.state = stateSelectFunc
				m.compiled = nil
				m.err = nil
			}
		}

	case loadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.mod = msg.mod
		m.cfg = msg.cfg
		m.funcs = msg.funcs

	case compiledMsg:
		m.err = msg.err
		m.compiledName = msg.name
		m.compiled = msg.out
		m.state = stateShowCode
	}

	return m, nil
}

func (m *inspectorModel) View() string {
	if m.err != nil && m.state != stateShowCode {
		return trapStyle.Render(fmt.Sprintf("Error: %v\n\nPress q to quit.", m.err))
	}

	if m.mod == nil {
		return "Loading module..."
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render("Singlepass Inspector"))
	b.WriteString(" ")
	b.WriteString(m.filename)
	b.WriteString("\n\n")

	switch m.state {
	case stateSelectFunc:
		b.WriteString("Select a function to compile:\n")
		b.WriteString(m.filter.View())
		b.WriteString("\n\n")
		for i, f := range m.visibleFuncs() {
			line := funcStyle.Render(f.name) + " " + typeStyle.Render(f.sig)
			if i == m.selected && !m.filter.Focused() {
				b.WriteString(selectedStyle.Render("> " + f.name + " " + f.sig))
			} else {
				b.WriteString("  " + line)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("↑/↓ select • / filter • enter compile • q quit"))

	case stateShowCode:
		b.WriteString(fmt.Sprintf("Compiled %s\n\n", funcStyle.Render(m.compiledName)))
		if m.err != nil {
			b.WriteString(trapStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		} else {
			out := m.compiled
			b.WriteString(fmt.Sprintf("%d bytes, %d trap range(s), %d call site(s), %d state diff(s)\n\n",
				len(out.Code), len(out.Exceptions.Ranges),
				len(out.StateMap.CallOffsets), len(out.StateMap.Diffs)))
			for _, r := range out.Exceptions.Ranges {
				b.WriteString(trapStyle.Render(
					fmt.Sprintf("  [%#06x, %#06x) %s", r.Start, r.End, trapString(r.Code))))
				b.WriteString("\n")
			}
			if len(out.Exceptions.Ranges) > 0 {
				b.WriteString("\n")
			}
			b.WriteString(codeStyle.Render(hexPreview(out.Code, 16)))
		}
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("esc back • q quit"))
	}

	return b.String()
}

// hexPreview renders up to maxRows rows of 16 bytes.
func hexPreview(code []byte, maxRows int) string {
	var b strings.Builder
	rows := 0
	for off := 0; off < len(code) && rows < maxRows; off += 16 {
		end := off + 16
		if end > len(code) {
			end = len(code)
		}
		var row []string
		for _, c := range code[off:end] {
			row = append(row, fmt.Sprintf("%02x", c))
		}
		b.WriteString(fmt.Sprintf("%06x: %s\n", off, strings.Join(row, " ")))
		rows++
	}
	if len(code) > maxRows*16 {
		b.WriteString(fmt.Sprintf("... %d more bytes", len(code)-maxRows*16))
	}
	return strings.TrimRight(b.String(), "\n")
}

func runInteractive(filename string, staticBound uint64) error {
	p := tea.NewProgram(newInspectorModel(filename, staticBound), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
