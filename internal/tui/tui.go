// Package tui provides a Bubble Tea terminal user interface for m2m-downloader.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/handiism/m2m-downloader/internal/config"
	"github.com/handiism/m2m-downloader/internal/download"
	"github.com/handiism/m2m-downloader/internal/m2m"
	"github.com/handiism/m2m-downloader/internal/model"
	"github.com/rs/zerolog"
)

// Styles for the TUI
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#4ECDC4")).
			MarginBottom(1)

	subtitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#4ECDC4"))

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#95E1A3"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFE66D"))

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#A8DADC"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6C757D"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#4ECDC4")).
			Padding(1, 2)

	sceneStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F8B500"))
)

// State represents the current UI state.
type State int

const (
	StateInput State = iota
	StateSearching
	StateDownloading
	StateComplete
	StateError
)

// Input fields, in focus order.
const (
	fieldDataset = iota
	fieldBBox
	fieldStart
	fieldEnd
	fieldCount
)

var fieldLabels = [fieldCount]string{"Dataset", "Bounding box", "From", "To"}

// maxSceneLines caps the scene list shown while downloading.
const maxSceneLines = 8

// Catalog is what the UI needs from the catalog client.
// *m2m.Client implements it.
type Catalog interface {
	download.Catalog
	SearchScenes(ctx context.Context, dataset string, q m2m.SceneSearch) (*m2m.SceneSearchResult, error)
}

// Options holds the collaborators of the UI.
type Options struct {
	Settings  *config.Settings
	Catalog   Catalog
	Publisher download.Publisher
	Logger    zerolog.Logger
}

// LogEntry represents a log message in the UI.
type LogEntry struct {
	Message string
	Level   download.ProgressLevel
}

// eventFeed collects progress events from download workers until the
// next tick picks them up.
type eventFeed struct {
	mu     sync.Mutex
	events []download.ProgressEvent
}

func (f *eventFeed) push(e download.ProgressEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
}

func (f *eventFeed) drain() []download.ProgressEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.events
	f.events = nil
	return out
}

// Model is the Bubble Tea model for the TUI.
type Model struct {
	state    State
	inputs   []textinput.Model
	focus    int
	spinner  spinner.Model
	progress progress.Model
	opts     Options
	feed     *eventFeed
	logs     []LogEntry
	scenes   []model.Scene
	err      error

	// Search outcome
	totalHits int
	truncated bool

	// Download context
	ctx    context.Context
	cancel context.CancelFunc

	// Download manager reference
	manager *download.Manager
	result  *download.Result

	// Download progress
	totalFiles      int32
	downloadedFiles int32
	totalBytes      int64
	receivedBytes   int64

	// Options
	browse  bool
	verbose bool

	width  int
	height int
}

// NewModel creates a new TUI model.
func NewModel(opts Options) Model {
	if opts.Settings == nil {
		opts.Settings = config.DefaultSettings()
	}

	inputs := make([]textinput.Model, fieldCount)
	for i := range inputs {
		ti := textinput.New()
		ti.CharLimit = 100
		ti.Width = 40
		ti.Prompt = fmt.Sprintf("%-13s ", fieldLabels[i]+":")
		inputs[i] = ti
	}
	inputs[fieldDataset].Placeholder = "landsat_tm_c2_l1"
	inputs[fieldDataset].SetValue(opts.Settings.Dataset)
	inputs[fieldBBox].Placeholder = "minLon,minLat,maxLon,maxLat"
	inputs[fieldStart].Placeholder = m2m.DateLayout
	inputs[fieldEnd].Placeholder = m2m.DateLayout
	inputs[fieldDataset].Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#4ECDC4"))

	prog := progress.New(progress.WithDefaultGradient())
	prog.Width = 50

	ctx, cancel := context.WithCancel(context.Background())

	return Model{
		state:    StateInput,
		inputs:   inputs,
		spinner:  sp,
		progress: prog,
		opts:     opts,
		feed:     &eventFeed{},
		logs:     make([]LogEntry, 0),
		ctx:      ctx,
		cancel:   cancel,
		browse:   opts.Settings.SaveBrowse,
	}
}

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick)
}

// Message types
type (
	// ProgressMsg is sent when download progress updates.
	ProgressMsg struct {
		Event download.ProgressEvent
	}

	// SearchDoneMsg is sent when the scene search completes.
	SearchDoneMsg struct {
		Scenes    []model.Scene
		TotalHits int
		Truncated bool
		Err       error
	}

	// DownloadDoneMsg is sent when the retrieval run completes.
	DownloadDoneMsg struct {
		Result *download.Result
		Err    error
	}

	// TickMsg is for periodic progress updates.
	TickMsg struct{}
)

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.progress.Width = msg.Width - 20
		if m.progress.Width > 80 {
			m.progress.Width = 80
		}
		if m.progress.Width < 20 {
			m.progress.Width = 20
		}
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			m.cancel()
			return m, tea.Quit

		case "esc":
			if m.state == StateInput {
				return m, tea.Quit
			}
			if m.state == StateDownloading || m.state == StateSearching {
				// Cleanup of the order still runs; DownloadDoneMsg follows.
				m.cancel()
			}

		case "enter":
			if m.state == StateInput {
				return m.submit()
			}

		case "tab", "down":
			if m.state == StateInput {
				m.setFocus(m.focus + 1)
				return m, nil
			}

		case "shift+tab", "up":
			if m.state == StateInput {
				m.setFocus(m.focus - 1)
				return m, nil
			}

		case "ctrl+b":
			if m.state == StateInput {
				m.browse = !m.browse
				return m, nil
			}

		case "ctrl+l":
			if m.state == StateInput {
				m.verbose = !m.verbose
				return m, nil
			}

		case "q":
			if m.state == StateComplete || m.state == StateError {
				return m, tea.Quit
			}

		case "r":
			if m.state == StateComplete || m.state == StateError {
				m.reset()
				return m, textinput.Blink
			}
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case ProgressMsg:
		m.appendLog(msg.Event)

	case SearchDoneMsg:
		if msg.Err != nil {
			m.state = StateError
			m.err = msg.Err
			break
		}
		if m.ctx.Err() != nil {
			m.state = StateError
			m.err = errors.New("cancelled by user")
			break
		}
		m.scenes = msg.Scenes
		m.totalHits = msg.TotalHits
		m.truncated = msg.Truncated
		if len(m.scenes) == 0 {
			m.state = StateComplete
			break
		}
		m.manager = m.newManager()
		m.state = StateDownloading
		cmds = append(cmds, m.startDownload(), m.tickProgress())

	case DownloadDoneMsg:
		m.drainFeed()
		m.result = msg.Result
		if m.manager != nil {
			m.receivedBytes, m.totalBytes, m.downloadedFiles, m.totalFiles = m.manager.GetProgress()
		}
		switch {
		case m.ctx.Err() != nil:
			m.state = StateError
			m.err = errors.New("cancelled by user")
		case msg.Err != nil:
			m.state = StateError
			m.err = msg.Err
		default:
			m.state = StateComplete
		}

	case TickMsg:
		// Update progress from manager
		if m.manager != nil && m.state == StateDownloading {
			m.drainFeed()
			received, total, files, totalFiles := m.manager.GetProgress()
			m.receivedBytes = received
			m.totalBytes = total
			m.downloadedFiles = files
			m.totalFiles = totalFiles

			progressCmd := m.progress.SetPercent(m.percent())
			cmds = append(cmds, progressCmd, m.tickProgress())
		}

	case progress.FrameMsg:
		progressModel, cmd := m.progress.Update(msg)
		m.progress = progressModel.(progress.Model)
		cmds = append(cmds, cmd)
	}

	// Update text inputs
	if m.state == StateInput {
		var cmd tea.Cmd
		m.inputs[m.focus], cmd = m.inputs[m.focus].Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m *Model) setFocus(i int) {
	m.inputs[m.focus].Blur()
	m.focus = (i + fieldCount) % fieldCount
	m.inputs[m.focus].Focus()
}

// submit validates the form and starts the search.
func (m Model) submit() (tea.Model, tea.Cmd) {
	dataset, query, err := m.buildSearch()
	if err != nil {
		m.err = err
		return m, nil
	}
	m.err = nil
	m.state = StateSearching
	return m, tea.Batch(m.search(dataset, query), m.spinner.Tick)
}

// buildSearch turns the form into a scene search.
func (m Model) buildSearch() (string, m2m.SceneSearch, error) {
	dataset := strings.TrimSpace(m.inputs[fieldDataset].Value())
	if dataset == "" {
		return "", m2m.SceneSearch{}, &m2m.ValidationError{Field: "dataset"}
	}

	box, err := m2m.ParseBoundingBox(m.inputs[fieldBBox].Value())
	if err != nil {
		return "", m2m.SceneSearch{}, err
	}
	dates, err := m2m.ParseDateRange(m.inputs[fieldStart].Value(), m.inputs[fieldEnd].Value())
	if err != nil {
		return "", m2m.SceneSearch{}, err
	}

	return dataset, m2m.SceneSearch{
		Spatial:     box,
		Acquisition: dates,
		CloudCover:  m.opts.Settings.CloudCover(),
		MaxResults:  m.opts.Settings.MaxResults,
	}, nil
}

func (m *Model) reset() {
	m.state = StateInput
	m.logs = nil
	m.scenes = nil
	m.err = nil
	m.result = nil
	m.totalHits = 0
	m.truncated = false
	m.downloadedFiles = 0
	m.totalFiles = 0
	m.receivedBytes = 0
	m.totalBytes = 0
	m.manager = nil
	m.feed = &eventFeed{}
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.setFocus(fieldDataset)
}

func (m *Model) appendLog(e download.ProgressEvent) {
	// Filter verbose messages if not in verbose mode
	if e.Level == download.LevelVerbose && !m.verbose {
		return
	}
	m.logs = append(m.logs, LogEntry{Message: e.Message, Level: e.Level})
	// Keep only last 10 logs
	if len(m.logs) > 10 {
		m.logs = m.logs[len(m.logs)-10:]
	}
}

func (m *Model) drainFeed() {
	for _, e := range m.feed.drain() {
		m.appendLog(e)
	}
}

func (m Model) percent() float64 {
	if m.totalBytes > 0 {
		return float64(m.receivedBytes) / float64(m.totalBytes)
	}
	if m.totalFiles > 0 {
		return float64(m.downloadedFiles) / float64(m.totalFiles)
	}
	return 0
}

// tickProgress returns a command to tick progress updates.
func (m Model) tickProgress() tea.Cmd {
	return tea.Tick(200*time.Millisecond, func(_ time.Time) tea.Msg {
		return TickMsg{}
	})
}

// View renders the UI.
func (m Model) View() string {
	var b strings.Builder

	// Header
	b.WriteString(titleStyle.Render("M2M Scene Downloader"))
	b.WriteString("\n")
	b.WriteString(dimStyle.Render("Search, order and download satellite scenes"))
	b.WriteString("\n\n")

	switch m.state {
	case StateInput:
		b.WriteString(m.viewInput())
	case StateSearching:
		b.WriteString(m.viewSearching())
	case StateDownloading:
		b.WriteString(m.viewDownloading())
	case StateComplete:
		b.WriteString(m.viewComplete())
	case StateError:
		b.WriteString(m.viewError())
	}

	// Footer
	b.WriteString("\n")
	b.WriteString(dimStyle.Render(m.getHelpText()))

	return b.String()
}

func (m Model) viewInput() string {
	var b strings.Builder

	b.WriteString(subtitleStyle.Render("Scene search:"))
	b.WriteString("\n\n")
	for _, in := range m.inputs {
		b.WriteString(in.View())
		b.WriteString("\n")
	}
	b.WriteString("\n")

	// Options
	browseCheck := "[ ]"
	if m.browse {
		browseCheck = "[x]"
	}
	verboseCheck := "[ ]"
	if m.verbose {
		verboseCheck = "[x]"
	}

	b.WriteString(infoStyle.Render("Options:"))
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("  %s Save browse previews (ctrl+b)\n", browseCheck))
	b.WriteString(fmt.Sprintf("  %s Verbose output (ctrl+l)\n", verboseCheck))
	b.WriteString("\n")
	b.WriteString(dimStyle.Render(fmt.Sprintf("Download path: %s", m.opts.Settings.DownloadsPath)))
	b.WriteString("\n")

	if m.err != nil {
		b.WriteString("\n")
		b.WriteString(errorStyle.Render(m.err.Error()))
		b.WriteString("\n")
	}

	return b.String()
}

func (m Model) viewSearching() string {
	var b strings.Builder

	b.WriteString(m.spinner.View())
	b.WriteString(" ")
	b.WriteString(subtitleStyle.Render("Searching scenes..."))
	b.WriteString("\n\n")

	return b.String()
}

func (m Model) viewDownloading() string {
	var b strings.Builder

	// Scenes found
	b.WriteString(successStyle.Render(fmt.Sprintf("Found %d scene(s):", len(m.scenes))))
	b.WriteString("\n")
	for i, s := range m.scenes {
		if i == maxSceneLines {
			b.WriteString(dimStyle.Render(fmt.Sprintf("  ... and %d more", len(m.scenes)-maxSceneLines)))
			b.WriteString("\n")
			break
		}
		b.WriteString(sceneStyle.Render("  " + s.DisplayID))
		b.WriteString("\n")
	}
	if m.truncated {
		b.WriteString(warningStyle.Render(fmt.Sprintf("  %d scenes matched; raise max_results to get them all", m.totalHits)))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	b.WriteString(m.spinner.View())
	b.WriteString(" ")
	b.WriteString(m.progress.ViewAs(m.percent()))
	b.WriteString("\n")

	b.WriteString(infoStyle.Render(fmt.Sprintf(
		"Files: %d/%d | Downloaded: %.2f MB",
		m.downloadedFiles,
		m.totalFiles,
		float64(m.receivedBytes)/1024/1024,
	)))
	b.WriteString("\n\n")

	// Logs
	b.WriteString(m.renderLogs())

	return b.String()
}

func (m Model) viewComplete() string {
	var b strings.Builder

	if len(m.scenes) == 0 {
		b.WriteString(boxStyle.Render("No scenes matched the search."))
		return b.String()
	}

	var failed, skipped int
	if m.result != nil {
		failed = len(m.result.Failed)
		skipped = len(m.result.Skipped)
	}
	box := boxStyle.Render(fmt.Sprintf(
		"Download Complete!\n\n"+
			"Scenes: %d\n"+
			"Files: %d (%d already local)\n"+
			"Failed: %d\n"+
			"Size: %.2f MB",
		len(m.scenes),
		m.downloadedFiles,
		skipped,
		failed,
		float64(m.receivedBytes)/1024/1024,
	))
	b.WriteString(box)
	b.WriteString("\n")
	b.WriteString(m.renderLogs())

	return b.String()
}

func (m Model) viewError() string {
	var b strings.Builder

	b.WriteString(errorStyle.Render("Error occurred:"))
	b.WriteString("\n\n")
	if m.err != nil {
		b.WriteString(fmt.Sprintf("  %s", m.err.Error()))
		b.WriteString("\n\n")
	}
	b.WriteString(m.renderLogs())

	return b.String()
}

func (m Model) renderLogs() string {
	var b strings.Builder

	for _, log := range m.logs {
		var style lipgloss.Style
		prefix := "•"
		switch log.Level {
		case download.LevelError:
			style = errorStyle
			prefix = "✗"
		case download.LevelWarning:
			style = warningStyle
			prefix = "!"
		case download.LevelSuccess:
			style = successStyle
			prefix = "✓"
		case download.LevelInfo:
			style = infoStyle
			prefix = "›"
		default:
			style = dimStyle
		}
		b.WriteString(style.Render(prefix + " " + log.Message))
		b.WriteString("\n")
	}

	return b.String()
}

func (m Model) getHelpText() string {
	switch m.state {
	case StateInput:
		return "enter: search and download • tab: next field • ctrl+b: previews • ctrl+l: verbose • esc: quit"
	case StateSearching, StateDownloading:
		return "esc: cancel"
	case StateComplete, StateError:
		return "r: new search • q: quit"
	}
	return ""
}

func (m Model) newManager() *download.Manager {
	settings := *m.opts.Settings
	settings.SaveBrowse = m.browse

	return download.NewManager(&settings, m.opts.Catalog, download.ManagerOptions{
		Publisher:  m.opts.Publisher,
		Logger:     m.opts.Logger,
		OnProgress: m.feed.push,
	})
}

// search runs the scene search in background.
func (m Model) search(dataset string, query m2m.SceneSearch) tea.Cmd {
	ctx, catalog := m.ctx, m.opts.Catalog
	return func() tea.Msg {
		res, err := catalog.SearchScenes(ctx, dataset, query)
		if err != nil {
			return SearchDoneMsg{Err: err}
		}
		return SearchDoneMsg{
			Scenes:    res.Scenes,
			TotalHits: res.TotalHits,
			Truncated: res.Truncated(),
		}
	}
}

// startDownload starts the retrieval run in background.
func (m Model) startDownload() tea.Cmd {
	ctx, manager, scenes := m.ctx, m.manager, m.scenes
	dataset := strings.TrimSpace(m.inputs[fieldDataset].Value())
	return func() tea.Msg {
		res, err := manager.RetrieveScenes(ctx, dataset, scenes, download.RetrieveOptions{})
		return DownloadDoneMsg{Result: res, Err: err}
	}
}

// Run starts the TUI application.
func Run(opts Options) error {
	p := tea.NewProgram(NewModel(opts), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
