package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/lmorel/substream/internal/catalog"
	"github.com/lmorel/substream/internal/config"
	"github.com/lmorel/substream/internal/downloads"
	"github.com/lmorel/substream/internal/errmsg"
	"github.com/lmorel/substream/internal/mpris"
	"github.com/lmorel/substream/internal/playback"
	"github.com/lmorel/substream/internal/player"
	"github.com/lmorel/substream/internal/queue"
	"github.com/lmorel/substream/internal/reachability"
	"github.com/lmorel/substream/internal/resolve"
	"github.com/lmorel/substream/internal/scrobble"
	"github.com/lmorel/substream/internal/state"
)

var (
	playerBarStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240"))

	cursorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	currentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("78")).Bold(true)
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
)

type tickMsg time.Time

type statusMsg string

type downloadMsg downloads.Event

// queueLoadedMsg carries tracks assembled from the download index.
type queueLoadedMsg []catalog.Track

type model struct {
	cfg      *config.Config
	client   *catalog.Client // nil when no server is configured
	monitor  *reachability.Monitor
	store    *downloads.Store
	engine   *playback.Engine
	stateMgr *state.Manager
	bridge   *mpris.Adapter

	stopScrobbler context.CancelFunc

	bar    progress.Model
	cursor int
	status string
	width  int
	height int
}

func initialModel() (model, error) {
	cfg, err := config.Load()
	if err != nil {
		return model{}, fmt.Errorf("%s: %w", errmsg.OpInitialize, err)
	}

	var client *catalog.Client
	if cfg.HasServerConfig() {
		client = catalog.NewClient(cfg.Server.URL, cfg.Server.Username, cfg.Server.Password)
	}

	// A nil *Client must not end up inside an interface value, the
	// consumers treat a nil interface as "no server".
	var pinger reachability.Pinger
	var fetcher downloads.Fetcher
	var cat resolve.Catalog
	if client != nil {
		pinger = client
		fetcher = client
		cat = client
	}
	monitor := reachability.New(pinger, cfg.ForceOffline)

	downloadsDir := cfg.DownloadsDir
	if downloadsDir == "" {
		downloadsDir = filepath.Join(xdg.DataHome, "substream", "downloads")
	}
	// A damaged index leaves a usable empty store behind, so only a nil
	// store is fatal here.
	store, storeErr := downloads.Open(downloadsDir, fetcher)
	if store == nil {
		return model{}, fmt.Errorf("%s: %w", errmsg.OpInitialize, storeErr)
	}

	stateMgr, err := state.Open()
	if err != nil {
		return model{}, fmt.Errorf("%s: %w", errmsg.OpInitialize, err)
	}
	sess, err := stateMgr.Session()
	if err != nil {
		sess = &state.Session{Volume: 1.0, CurrentIndex: -1}
	}

	// Restore the saved queue before the engine exists so nothing starts
	// playing on launch.
	q := queue.New()
	if len(sess.Tracks) > 0 {
		q.SetPlaylist(sess.Tracks, sess.CurrentIndex)
	}
	q.SetRepeatMode(queue.RepeatMode(sess.RepeatMode))
	if sess.Shuffle {
		q.SetShuffle(true)
	}

	resolver := resolve.New(cat, store, monitor, cfg.Bitrate())
	engine := playback.New(player.New(), resolver, q)
	engine.SetVolume(sess.Volume)

	// Best effort: no session bus just means no remote control.
	bridge, _ := mpris.New(engine, filepath.Join(xdg.CacheHome, "substream", "art"))

	var stopScrobbler context.CancelFunc
	if client != nil {
		ctx, cancel := context.WithCancel(context.Background())
		stopScrobbler = cancel
		go scrobble.New(client, cfg.Lastfm).Run(ctx, engine.Subscribe())
	}

	// Persist the session when it actually changes; the state manager
	// debounces bursts. Volume-only changes are flushed on the volume
	// keys and at shutdown.
	go sessionSaver(engine, stateMgr)

	m := model{
		cfg:           cfg,
		client:        client,
		monitor:       monitor,
		store:         store,
		engine:        engine,
		stateMgr:      stateMgr,
		bridge:        bridge,
		stopScrobbler: stopScrobbler,
		bar:           progress.New(progress.WithDefaultGradient()),
		cursor:        sess.CurrentIndex,
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
	if storeErr != nil {
		m.status = errmsg.Format(errmsg.OpIndexLoad, storeErr)
	}
	return m, nil
}

func (m model) Init() tea.Cmd {
	return tea.Batch(tickCmd(), waitForDownload(m.store.Events()))
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func waitForDownload(events <-chan downloads.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return nil
		}
		return downloadMsg(ev)
	}
}

func downloadAlbumCmd(client *catalog.Client, store *downloads.Store, albumID string) tea.Cmd {
	return func() tea.Msg {
		ctx := context.Background()
		album, err := client.GetAlbum(ctx, albumID)
		if err == nil {
			err = store.DownloadAlbum(ctx, album)
		}
		if err != nil {
			return statusMsg(errmsg.Format(errmsg.OpDownloadAlbum, err))
		}
		return nil
	}
}

// loadDownloadsCmd assembles a playable queue from the download index so the
// library works with no server at all.
func loadDownloadsCmd(client *catalog.Client, store *downloads.Store) tea.Cmd {
	return func() tea.Msg {
		tracks := store.QueueTracks()
		if len(tracks) == 0 {
			return statusMsg("Nothing downloaded")
		}
		refreshSynthesized(client, tracks)
		return queueLoadedMsg(tracks)
	}
}

// refreshSynthesized upgrades index-synthesized entries with real metadata
// when a server is there to ask. Failures keep the synthesized fields.
func refreshSynthesized(client *catalog.Client, tracks []catalog.Track) {
	if client == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i, t := range tracks {
		if t.Origin != catalog.MetadataSynthesized {
			continue
		}
		full, err := client.GetTrack(ctx, t.ID)
		if err != nil {
			return
		}
		tracks[i] = *full
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.bar.Width = msg.Width - 4

	case tickMsg:
		return m, tickCmd()

	case statusMsg:
		m.status = string(msg)
		return m, nil

	case queueLoadedMsg:
		m.engine.SetPlaylist([]catalog.Track(msg), 0)
		m.cursor = 0
		m.status = fmt.Sprintf("Playing %d downloaded tracks", len(msg))
		return m, nil

	case downloadMsg:
		if msg.Err != nil {
			m.status = errmsg.Format(errmsg.OpDownloadAlbum, msg.Err)
		} else if rec, ok := m.store.Album(msg.AlbumID); ok {
			m.status = fmt.Sprintf("Downloaded %s - %s (%s)", rec.ArtistName, rec.AlbumName, rec.SizeLabel())
		}
		return m, waitForDownload(m.store.Events())

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, m.shutdown()

	case " ":
		m.engine.Toggle()
	case "n":
		m.engine.Next()
	case "p":
		m.engine.Previous()
	case "s":
		if m.engine.ToggleShuffle() {
			m.status = "Shuffle on"
		} else {
			m.status = "Shuffle off"
		}
	case "r":
		m.status = "Repeat: " + repeatLabel(m.engine.CycleRepeatMode())
	case "left":
		m.engine.Seek(-5 * time.Second)
	case "right":
		m.engine.Seek(5 * time.Second)
	case "-":
		m.engine.SetVolume(m.engine.Volume() - 0.05)
		m.saveSession()
	case "+", "=":
		m.engine.SetVolume(m.engine.Volume() + 0.05)
		m.saveSession()

	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < m.engine.QueueLen()-1 {
			m.cursor++
		}
	case "enter":
		if err := m.engine.JumpTo(m.cursor); err != nil {
			m.status = err.Error()
		}
	case "x":
		if err := m.engine.RemoveAt(m.cursor); err == nil {
			if n := m.engine.QueueLen(); m.cursor >= n && n > 0 {
				m.cursor = n - 1
			}
		}
	case "c":
		m.engine.ClearQueue()
		m.cursor = 0

	case "o":
		offline := !m.monitor.ForceOffline()
		m.monitor.SetForceOffline(offline)
		if offline {
			m.status = "Offline mode forced"
		} else {
			m.status = "Offline mode off"
		}

	case "u":
		m.status = "Loading downloads..."
		return m, loadDownloadsCmd(m.client, m.store)

	case "d":
		tracks := m.engine.Queue()
		if m.cursor >= len(tracks) {
			break
		}
		t := tracks[m.cursor]
		switch {
		case t.AlbumID == "":
			m.status = "No album to download"
		case m.client == nil:
			m.status = "No server configured"
		case m.store.IsDownloaded(t.AlbumID):
			m.status = "Already downloaded"
		default:
			m.status = fmt.Sprintf("Downloading %s...", t.Album)
			return m, downloadAlbumCmd(m.client, m.store, t.AlbumID)
		}
	case "X":
		tracks := m.engine.Queue()
		if m.cursor < len(tracks) && tracks[m.cursor].AlbumID != "" {
			if err := m.store.DeleteAlbum(tracks[m.cursor].AlbumID); err != nil {
				m.status = errmsg.Format(errmsg.OpDownloadDelete, err)
			} else {
				m.status = "Download removed"
			}
		}
	}
	return m, nil
}

// shutdown flushes state and tears everything down before quitting.
func (m model) shutdown() tea.Cmd {
	m.saveSession()
	if m.stopScrobbler != nil {
		m.stopScrobbler()
	}
	if m.bridge != nil {
		_ = m.bridge.Close()
	}
	_ = m.engine.Close()
	_ = m.stateMgr.Close()
	return tea.Quit
}

func (m model) saveSession() {
	m.stateMgr.SaveSession(sessionSnapshot(m.engine))
}

func sessionSnapshot(engine *playback.Engine) state.Session {
	return state.Session{
		Volume:       engine.Volume(),
		RepeatMode:   int(engine.RepeatMode()),
		Shuffle:      engine.Shuffle(),
		CurrentIndex: engine.QueueIndex(),
		Tracks:       engine.Queue(),
	}
}

// sessionSaver writes a session snapshot whenever the queue, the current
// track or a playback mode changes. Position ticks deliberately do not
// trigger a save.
func sessionSaver(engine *playback.Engine, mgr *state.Manager) {
	sub := engine.Subscribe()
	for {
		select {
		case <-sub.Done:
			return
		case <-sub.QueueChanged:
		case <-sub.TrackChanged:
		case <-sub.ModeChanged:
		}
		mgr.SaveSession(sessionSnapshot(engine))
	}
}

func (m model) View() string {
	var b strings.Builder

	tracks := m.engine.Queue()
	current := m.engine.QueueIndex()

	header := "Queue"
	if m.monitor.ForceOffline() {
		header += dimStyle.Render("  [offline]")
	}
	b.WriteString(header + "\n\n")

	if len(tracks) == 0 {
		b.WriteString(dimStyle.Render("  queue is empty") + "\n")
	}
	visible := m.height - 8
	if visible < 1 {
		visible = 1
	}
	start := 0
	if m.cursor >= visible {
		start = m.cursor - visible + 1
	}
	for i := start; i < len(tracks) && i < start+visible; i++ {
		t := tracks[i]
		line := fmt.Sprintf("%s - %s", t.Artist, t.Title)
		if t.DurationSeconds > 0 {
			line += dimStyle.Render(fmt.Sprintf("  %s", formatDuration(time.Duration(t.DurationSeconds)*time.Second)))
		}
		if m.store.IsDownloaded(t.AlbumID) {
			line += dimStyle.Render("  ↓")
		}

		prefix := "  "
		if i == current {
			prefix = currentStyle.Render("▶ ")
			line = currentStyle.Render(line)
		}
		if i == m.cursor {
			prefix = cursorStyle.Render("> ")
		}
		b.WriteString(prefix + line + "\n")
	}

	for _, albumID := range m.store.ActiveAlbums() {
		if prog, ok := m.store.Progress(albumID); ok {
			label := albumID
			if rec, found := m.store.Album(albumID); found {
				label = rec.AlbumName
			}
			b.WriteString("\n" + dimStyle.Render(fmt.Sprintf("downloading %s (%d/%d)", label, prog.Completed, prog.Total)) + "\n")
			b.WriteString(m.bar.ViewAs(prog.Fraction()) + "\n")
		}
	}

	if m.status != "" {
		b.WriteString("\n" + errorStyle.Render(m.status) + "\n")
	}

	b.WriteString(m.playerBar())
	return b.String()
}

// playerBar renders the bottom status bar when something is loaded.
func (m model) playerBar() string {
	st := m.engine.Status()
	if st.Track == nil {
		return ""
	}

	icon := "▶"
	switch st.State {
	case playback.StatePaused:
		icon = "⏸"
	case playback.StateResolving, playback.StateValidating:
		icon = "…"
	case playback.StateIdle, playback.StatePlaying:
	}

	left := fmt.Sprintf(" %s  %s - %s", icon, st.Track.Artist, st.Track.Title)
	if st.Source == resolve.KindLocal {
		left += dimStyle.Render("  ↓")
	}
	right := fmt.Sprintf("%s / %s  vol %s ",
		formatDuration(st.Position),
		formatDuration(st.Duration),
		humanize.FtoaWithDigits(st.Volume*100, 0)+"%")

	innerWidth := m.width - 2
	if innerWidth < 0 {
		innerWidth = 0
	}
	padding := innerWidth - lipgloss.Width(left) - lipgloss.Width(right)
	if padding < 0 {
		padding = 0
	}
	content := left + strings.Repeat(" ", padding) + right
	return "\n" + playerBarStyle.Width(innerWidth).Render(content)
}

func repeatLabel(mode playback.RepeatMode) string {
	switch mode {
	case playback.RepeatAll:
		return "all"
	case playback.RepeatOne:
		return "one"
	default:
		return "off"
	}
}

func formatDuration(d time.Duration) string {
	mins := int(d.Minutes())
	secs := int(d.Seconds()) % 60
	return fmt.Sprintf("%d:%02d", mins, secs)
}

func main() {
	m, err := initialModel()
	if err != nil {
		fmt.Printf("Error initializing: %v\n", err)
		os.Exit(1)
	}

	p := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Printf("Error running program: %v\n", err)
		os.Exit(1)
	}
}
