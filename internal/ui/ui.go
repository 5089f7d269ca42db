// Package ui is a minimal terminal transport for a single streamcore
// Streamer: play/pause/seek/volume/quit, laid out and driven the way the
// teacher's internal/ui package drives its station browser, but scoped
// down to the one stream spec.md's UI Non-goal leaves room for (a
// transport, not a browser).
package ui

import (
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/glebovdev/streamcore/internal/audioqueue"
	"github.com/glebovdev/streamcore/internal/cache"
	"github.com/glebovdev/streamcore/internal/config"
	"github.com/glebovdev/streamcore/internal/formatmp3"
	"github.com/glebovdev/streamcore/internal/streamer"
	"github.com/rivo/tview"
	"github.com/rs/zerolog/log"
)

const (
	VolumeStep  = 5
	SeekStep    = 10 // seconds
	TickPeriod  = 250 * time.Millisecond
	HeaderLines = 3
)

// UI drives a single Streamer through its public API.
type UI struct {
	app         *tview.Application
	stream      *streamer.Streamer
	config      *config.Config
	url         string
	resumeCache *cache.Cache

	pages       *tview.Pages
	statusView  *tview.TextView
	trackView   *tview.TextView
	progressBar *tview.TextView
	volumeView  *tview.TextView
	helpView    *tview.TextView

	unsubscribe func()
	stopTicker  chan struct{}

	currentVolume int
	isMuted       bool

	colors struct {
		background tcell.Color
		foreground tcell.Color
		borders    tcell.Color
		highlight  tcell.Color
		muted      tcell.Color
	}
}

// NewUI builds a UI around a freshly constructed Streamer for url,
// tuned from cfg's persisted streaming defaults. resumeCache, if
// non-nil, supplies spec §13's resume metadata: a fresh cached entry
// for url seeds the Streamer so it can skip §4.8's bisection, and the
// entry is refreshed from what this session learns once playback
// stops.
func NewUI(url string, cfg *config.Config, resumeCache *cache.Cache) *UI {
	s := streamer.New(url, formatmp3.New, audioqueue.New)
	s.SetBufferCount(cfg.Streaming.BufferCount)
	s.SetBufferSize(cfg.Streaming.BufferSize)
	s.SetTimeoutInterval(time.Duration(cfg.Streaming.TimeoutInterval) * time.Second)
	s.SetPlaybackRate(cfg.Streaming.PlaybackRate)
	s.SetBufferInfinite(cfg.Streaming.BufferInfinite)

	if resumeCache != nil {
		if entry := resumeCache.Get(url); entry != nil {
			s.SetResumeHint(streamer.ResumeHint{
				DataOffset:        entry.DataOffset,
				FileLength:        entry.FileLength,
				TotalAudioPackets: entry.TotalAudioPackets,
				BitsPerSecond:     entry.BitsPerSecond,
			})
		}
	}

	ui := &UI{
		app:           tview.NewApplication(),
		stream:        s,
		config:        cfg,
		url:           url,
		resumeCache:   resumeCache,
		stopTicker:    make(chan struct{}),
		currentVolume: cfg.Volume,
	}

	ui.colors.background = config.GetColor(cfg.Theme.Background)
	ui.colors.foreground = config.GetColor(cfg.Theme.Foreground)
	ui.colors.borders = config.GetColor(cfg.Theme.Borders)
	ui.colors.highlight = config.GetColor(cfg.Theme.Highlight)
	ui.colors.muted = config.GetColor(cfg.Theme.MutedVolume)

	s.SetVolume(float64(cfg.Volume) / 100)

	return ui
}

// SaveConfig persists the current volume and URL to disk.
func (ui *UI) SaveConfig() {
	if !ui.isMuted {
		ui.config.Volume = ui.currentVolume
	}
	ui.config.LastURL = ui.url
	ui.config.AddToHistory(ui.url)
	if err := ui.config.Save(); err != nil {
		log.Error().Err(err).Msg("Failed to save config")
	}
}

// saveResume persists this session's resume metadata (spec §13) so a
// later start() against the same URL can skip §4.8's bisection.
func (ui *UI) saveResume() {
	if ui.resumeCache == nil {
		return
	}
	hint, ok := ui.stream.ResumeSnapshot()
	if !ok {
		return
	}
	entry := cache.Entry{
		DataOffset:        hint.DataOffset,
		FileLength:        hint.FileLength,
		TotalAudioPackets: hint.TotalAudioPackets,
		BitsPerSecond:     hint.BitsPerSecond,
	}
	if err := ui.resumeCache.Save(ui.url, entry); err != nil {
		log.Error().Err(err).Msg("Failed to save resume cache entry")
	}
}

// Shutdown stops playback and the UI event loop from an external caller
// (e.g. a signal handler).
func (ui *UI) Shutdown() {
	ui.app.QueueUpdateDraw(func() {
		ui.stop()
	})
}

func (ui *UI) stop() {
	ui.stream.Stop()
	ui.saveResume()
	if ui.unsubscribe != nil {
		ui.unsubscribe()
	}
	close(ui.stopTicker)
	ui.SaveConfig()
	ui.app.Stop()
}

// Run builds the layout, starts the Streamer, and blocks until the UI
// exits.
func (ui *UI) Run() error {
	ui.setupUI()

	ui.unsubscribe = ui.stream.Subscribe(ui.onNotification)

	if !ui.stream.Start() {
		return fmt.Errorf("failed to start stream: %v", ui.stream.LastError())
	}

	go ui.tick()

	return ui.app.Run()
}

func (ui *UI) setupUI() {
	header := ui.createHeader()

	ui.statusView = tview.NewTextView().SetDynamicColors(true)
	ui.statusView.SetBackgroundColor(ui.colors.background)

	ui.trackView = tview.NewTextView().SetDynamicColors(true)
	ui.trackView.SetBackgroundColor(ui.colors.background)

	ui.progressBar = tview.NewTextView().SetDynamicColors(true)
	ui.progressBar.SetBackgroundColor(ui.colors.background)

	ui.volumeView = tview.NewTextView().SetDynamicColors(true)
	ui.volumeView.SetBackgroundColor(ui.colors.background)

	ui.helpView = ui.createHelp()

	body := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(header, HeaderLines, 0, false).
		AddItem(nil, 1, 0, false).
		AddItem(ui.statusView, 1, 0, false).
		AddItem(ui.trackView, 1, 0, false).
		AddItem(ui.progressBar, 1, 0, false).
		AddItem(ui.volumeView, 1, 0, false).
		AddItem(nil, 0, 1, false).
		AddItem(ui.helpView, 2, 0, false)
	body.SetBackgroundColor(ui.colors.background)

	wrapper := tview.NewFlex().SetDirection(tview.FlexColumn).
		AddItem(nil, 2, 0, false).
		AddItem(body, 0, 1, true).
		AddItem(nil, 2, 0, false)
	wrapper.SetBackgroundColor(ui.colors.background)

	ui.pages = tview.NewPages().AddPage("main", wrapper, true, true)
	ui.pages.SetBackgroundColor(ui.colors.background)

	ui.app.SetInputCapture(ui.globalInputHandler)
	ui.app.SetRoot(ui.pages, true)
	ui.refreshAll()
}

func (ui *UI) createHeader() tview.Primitive {
	title := tview.NewTextView().SetText(" " + config.AppName + " v" + config.AppVersion)
	title.SetTextColor(ui.colors.foreground).SetBackgroundColor(ui.colors.background)
	return title
}

func (ui *UI) createHelp() *tview.TextView {
	help := tview.NewTextView().SetDynamicColors(true)
	help.SetBackgroundColor(ui.colors.background)
	help.SetTextColor(ui.colors.foreground)
	help.SetText("[space] pause/resume  [<] [>] seek  [+] [-] volume  [m] mute  [q] quit")
	return help
}

func (ui *UI) tick() {
	ticker := time.NewTicker(TickPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ui.stopTicker:
			return
		case <-ticker.C:
			ui.app.QueueUpdateDraw(ui.refreshAll)
		}
	}
}

func (ui *UI) refreshAll() {
	ui.updateStatus()
	ui.updateTrack()
	ui.updateProgress()
	ui.updateVolume()
}

func (ui *UI) updateStatus() {
	state := ui.stream.State()
	color := ui.colors.foreground.String()
	switch state {
	case streamer.StatePlaying:
		color = ui.colors.highlight.String()
	case streamer.StateReconnecting:
		color = ui.colors.muted.String()
	case streamer.StateDone:
		color = ui.colors.muted.String()
	}
	text := fmt.Sprintf(" [%s]%s[-]", color, state)
	if state == streamer.StateDone {
		if reason := ui.stream.DoneReason(); reason == streamer.DoneReasonError {
			if err := ui.stream.LastError(); err != nil {
				text += fmt.Sprintf(" — %v", err)
			}
		}
	}
	ui.statusView.SetText(text)
}

func (ui *UI) updateTrack() {
	title := ui.stream.CurrentTrackTitle()
	if title == "" {
		ui.trackView.SetText("")
		return
	}
	ui.trackView.SetText(fmt.Sprintf(" [%s]%s[-]", ui.colors.highlight.String(), title))
}

func (ui *UI) updateProgress() {
	const width = 40
	progress, ok := ui.stream.Progress()
	duration, durationOK := ui.stream.Duration()
	if !ok || !durationOK || duration <= 0 {
		ui.progressBar.SetText(" [unknown duration]")
		return
	}
	fraction := progress / duration
	filled := int(fraction * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	bar := ""
	for i := 0; i < width; i++ {
		if i < filled {
			bar += "█"
		} else {
			bar += "░"
		}
	}
	ui.progressBar.SetText(fmt.Sprintf(" [%s]%s[-] %3.0f%%", ui.colors.highlight.String(), bar, fraction*100))
}

func (ui *UI) updateVolume() {
	label := fmt.Sprintf("%d%%", ui.currentVolume)
	color := ui.colors.foreground.String()
	if ui.isMuted {
		label = "muted"
		color = ui.colors.muted.String()
	}
	ui.volumeView.SetText(fmt.Sprintf(" Volume: [%s]%s[-]", color, label))
}

func (ui *UI) onNotification(n streamer.Notification) {
	ui.app.QueueUpdateDraw(func() {
		switch n.Kind {
		case streamer.NotifyStatusChanged, streamer.NotifyBitrateReady:
			ui.refreshAll()
		case streamer.NotifyTrackTitleChanged:
			ui.updateTrack()
		}
	})
}

func (ui *UI) togglePause() {
	if ui.stream.IsPaused() {
		ui.stream.Resume()
	} else {
		ui.stream.Pause()
	}
}

func (ui *UI) adjustVolume(delta int) {
	ui.isMuted = false
	ui.currentVolume = config.ClampVolume(ui.currentVolume + delta)
	ui.stream.SetVolume(float64(ui.currentVolume) / 100)
	ui.app.QueueUpdateDraw(ui.updateVolume)
}

func (ui *UI) toggleMute() {
	ui.isMuted = !ui.isMuted
	if ui.isMuted {
		ui.stream.SetVolume(0)
	} else {
		ui.stream.SetVolume(float64(ui.currentVolume) / 100)
	}
	ui.app.QueueUpdateDraw(ui.updateVolume)
}

func (ui *UI) seek(deltaSeconds float64) {
	ui.stream.SeekByDelta(deltaSeconds)
}

func (ui *UI) globalInputHandler(event *tcell.EventKey) *tcell.EventKey {
	switch event.Key() {
	case tcell.KeyRune:
		switch event.Rune() {
		case 'q', 'Q':
			ui.stop()
			return nil
		case ' ':
			ui.togglePause()
			return nil
		case '>':
			ui.seek(SeekStep)
			return nil
		case '<':
			ui.seek(-SeekStep)
			return nil
		case '+', '=':
			ui.adjustVolume(VolumeStep)
			return nil
		case '-', '_':
			ui.adjustVolume(-VolumeStep)
			return nil
		case 'm', 'M':
			ui.toggleMute()
			return nil
		}
	case tcell.KeyRight:
		ui.seek(SeekStep)
		return nil
	case tcell.KeyLeft:
		ui.seek(-SeekStep)
		return nil
	case tcell.KeyEscape:
		ui.stop()
		return nil
	}
	return event
}
