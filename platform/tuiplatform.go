package platform

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"syscall"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"golang.org/x/exp/maps"

	"lautenbacher.net/gomeasure/config"
	"lautenbacher.net/gomeasure/logging"
	"lautenbacher.net/gomeasure/util"
)

const maxSerialLines = 200

// simInput is one raw input the user can adjust in the TUI.
type simInput struct {
	key    string
	label  string
	source string
	index  int
	step   float64
}

// TUIPlatform is the simulated platform with a terminal UI. The selected
// input is adjusted with the arrow keys, configured keys act as buttons and
// the panes show LEDs, outputs, display, serial lines and logs.
type TUIPlatform struct {
	*SimPlatform
	tviewapp     *tview.Application
	intro        *tview.TextView
	statePane    *tview.TextView
	inputPane    *tview.TextView
	serialPane   *tview.TextView
	logView      *tview.TextView
	ossignalChan chan os.Signal
	inputs       []simInput
	selected     int
	history      *readingHistory
	redraw       *util.Wake
	stopRedraw   chan struct{}
	redrawDone   chan struct{}
	queueDraw    func(func())
	linesMutex   sync.Mutex
	lines        []string
	logFlushOnce sync.Once
}

func NewTUIPlatform(conf *config.Config, ossignalchan chan os.Signal) *TUIPlatform {
	inst := &TUIPlatform{
		SimPlatform:  NewSimPlatform(conf),
		ossignalChan: ossignalchan,
		history:      newReadingHistory(),
		redraw:       util.NewWake("tui-redraw"),
		stopRedraw:   make(chan struct{}),
		redrawDone:   make(chan struct{}),
	}
	inst.inputs = simInputs(conf.Channels)
	inst.onRead = inst.history.add
	inst.onChange = func() { inst.redraw.TrySend() }
	return inst
}

func simInputs(channels []config.ChannelCfg) []simInput {
	var inputs []simInput
	seen := make(map[string]bool)
	for _, ch := range channels {
		var in simInput
		switch ch.Source {
		case config.SourceDistance:
			in = simInput{key: "distance", source: ch.Source, step: 5}
		case config.SourceAnalog:
			in = simInput{key: analogKey(ch.Input), source: ch.Source, index: ch.Input, step: 25}
		case config.SourceDigital:
			in = simInput{key: digitalKey(ch.Input), source: ch.Source, index: ch.Input, step: 1}
		default:
			continue
		}
		if seen[in.key] {
			continue
		}
		seen[in.key] = true
		in.label = ch.Label
		inputs = append(inputs, in)
	}
	return inputs
}

func (s *TUIPlatform) Start() error {
	s.initSimulationTUI()
	go s.redrawLoop()
	return nil
}

func (s *TUIPlatform) Stop() {
	if s.inShutdown() {
		return
	}
	s.setInShutdown()
	close(s.stopRedraw)
	if s.tviewapp != nil {
		s.tviewapp.Stop()
	}
}

// SendLine shows a reporter line in the serial pane.
func (s *TUIPlatform) SendLine(text string) error {
	s.linesMutex.Lock()
	s.lines = append(s.lines, text)
	if len(s.lines) > maxSerialLines {
		s.lines = s.lines[len(s.lines)-maxSerialLines:]
	}
	s.linesMutex.Unlock()
	s.redraw.TrySend()
	return nil
}

// redrawLoop turns redraw wakes into queued draws. Nothing drains the tview
// update queue once the application is stopped, so no draw is queued after
// Stop.
func (s *TUIPlatform) redrawLoop() {
	defer close(s.redrawDone)
	for {
		select {
		case <-s.stopRedraw:
			return
		case <-s.redraw.C():
			select {
			case <-s.stopRedraw:
				return
			default:
			}
			s.queueDraw(s.draw)
		}
	}
}

func (s *TUIPlatform) getIntroText() string {
	keys := s.config.Inputs.Keys
	names := maps.Keys(keys)
	var buttons []string
	for name := range names {
		buttons = append(buttons, fmt.Sprintf("[blue]%s[-] %s", name, keys[name]))
	}
	sort.Strings(buttons)

	line1 := "Buttons: " + strings.Join(buttons, ", ")
	line2 := "[#ff0000]Tab[-] select input, [#ff0000]Left/Right[-] or [#ff0000]+/-[-] change it"
	line3 := "Hit [#ff0000]q[-] to exit, [#ff0000]r[-] to reload, [#ff0000]Up/Down[-] to scroll logs"
	return fmt.Sprintf("%s\n%s\n%s", line1, line2, line3)
}

func (s *TUIPlatform) initSimulationTUI() {
	s.tviewapp = tview.NewApplication()
	s.queueDraw = func(f func()) { s.tviewapp.QueueUpdateDraw(f) }

	s.intro = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)
	s.intro.SetText(s.getIntroText())
	s.intro.SetBorder(true).SetTitle(fmt.Sprintf(" GOMEASURE %s ", s.config.Name)).SetTitleColor(tcell.ColorLightBlue)
	s.intro.SetBackgroundColor(tcell.NewRGBColor(20, 20, 20))

	s.statePane = tview.NewTextView().SetDynamicColors(true)
	s.statePane.SetBorder(true).SetTitle(" Outputs ")
	s.statePane.SetBackgroundColor(tcell.NewRGBColor(30, 30, 30))

	s.inputPane = tview.NewTextView().SetDynamicColors(true)
	s.inputPane.SetBorder(true).SetTitle(" Inputs ")
	s.inputPane.SetBackgroundColor(tcell.NewRGBColor(30, 30, 30))

	s.serialPane = tview.NewTextView().SetDynamicColors(true).SetScrollable(true)
	s.serialPane.SetBorder(true).SetTitle(" Serial ")
	s.serialPane.SetBackgroundColor(tcell.NewRGBColor(30, 30, 30))

	s.logView = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetChangedFunc(func() {
			s.logView.ScrollToEnd()
			s.tviewapp.Draw()
		})
	s.logView.SetBorder(true).SetTitle(" Logs ").SetTitleColor(tcell.ColorLightBlue)
	s.logView.SetBackgroundColor(tcell.NewRGBColor(40, 40, 40))

	middle := tview.NewFlex().
		AddItem(s.statePane, 0, 1, false).
		AddItem(s.inputPane, 0, 2, false).
		AddItem(s.serialPane, 0, 2, false)

	layout := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(s.intro, 5, 0, false).
		AddItem(middle, 12, 0, false).
		AddItem(s.logView, 0, 1, true)

	s.tviewapp.SetAfterDrawFunc(func(screen tcell.Screen) {
		s.logFlushOnce.Do(func() {
			if err := logging.SetOutput(tview.ANSIWriter(s.logView)); err != nil {
				slog.Error("Failed to redirect logs to TUI", "error", err)
			}
			close(s.readyChan)
		})
	})

	s.tviewapp.SetInputCapture(s.handleKey)
	s.draw()

	go func() {
		if err := s.tviewapp.SetRoot(layout, true).Run(); err != nil {
			slog.Error("Error running TUI", "error", err)
			s.ossignalChan <- os.Interrupt
		}
	}()
}

func (s *TUIPlatform) handleKey(event *tcell.EventKey) *tcell.EventKey {
	switch event.Key() {
	case tcell.KeyCtrlC:
		s.ossignalChan <- os.Interrupt
		return nil
	case tcell.KeyTab:
		s.selectInput(1)
		return nil
	case tcell.KeyBacktab:
		s.selectInput(-1)
		return nil
	case tcell.KeyRight:
		s.adjust(1)
		return nil
	case tcell.KeyLeft:
		s.adjust(-1)
		return nil
	case tcell.KeyUp:
		row, col := s.logView.GetScrollOffset()
		s.logView.ScrollTo(row-1, col)
		return nil
	case tcell.KeyDown:
		row, col := s.logView.GetScrollOffset()
		s.logView.ScrollTo(row+1, col)
		return nil
	case tcell.KeyRune:
		key := string(event.Rune())
		if _, ok := s.config.Inputs.Keys[key]; ok {
			slog.Debug("Button pressed", "key", key)
			s.Press(key)
			return nil
		}
		switch key {
		case "q", "Q":
			s.ossignalChan <- os.Interrupt
			return nil
		case "r", "R":
			s.ossignalChan <- syscall.SIGHUP
			return nil
		case "+":
			s.adjust(1)
			return nil
		case "-":
			s.adjust(-1)
			return nil
		}
	}
	return event
}

func (s *TUIPlatform) selectInput(delta int) {
	if len(s.inputs) == 0 {
		return
	}
	s.selected = (s.selected + delta + len(s.inputs)) % len(s.inputs)
	s.drawInputs()
}

// adjust changes the selected input by one step in the given direction.
// Digital inputs toggle.
func (s *TUIPlatform) adjust(dir int) {
	if len(s.inputs) == 0 {
		return
	}
	in := s.inputs[s.selected]
	switch in.source {
	case config.SourceDistance:
		s.SetDistance(s.current(in) + float64(dir)*in.step)
	case config.SourceAnalog:
		s.SetAnalog(in.index, s.current(in)+float64(dir)*in.step)
	case config.SourceDigital:
		s.SetDigital(in.index, s.current(in) == 0)
	}
	s.drawInputs()
}

func (s *TUIPlatform) current(in simInput) float64 {
	s.inputMutex.RLock()
	defer s.inputMutex.RUnlock()
	switch in.source {
	case config.SourceDistance:
		return s.distance
	case config.SourceAnalog:
		return s.analog[in.index]
	case config.SourceDigital:
		if s.digital[in.index] {
			return 1
		}
	}
	return 0
}

// draw refreshes all panes. Must run on the TUI goroutine.
func (s *TUIPlatform) draw() {
	s.drawState()
	s.drawInputs()
	s.drawSerial()
}

func (s *TUIPlatform) drawState() {
	out := s.Outputs()
	var buf strings.Builder

	buf.WriteString(" LEDs  ")
	for i, led := range s.config.Leds {
		if out.Pins[led.Pin] != led.ActiveLow {
			buf.WriteString(fmt.Sprintf("[#ff3030]●[-]%d ", i+1))
		} else {
			buf.WriteString(fmt.Sprintf("[#606060]○[-]%d ", i+1))
		}
	}
	buf.WriteString("\n")

	names := make([]string, 0, len(s.config.Outputs))
	for name := range s.config.Outputs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		cfg := s.config.Outputs[name]
		if out.Pins[cfg.Pin] != cfg.ActiveLow {
			buf.WriteString(fmt.Sprintf(" [#30ff30]ON [-] %s\n", name))
		} else {
			buf.WriteString(fmt.Sprintf(" [#606060]OFF[-] %s\n", name))
		}
	}

	if s.config.Reporter.Display != "" {
		rows := renderDigits(digits(out.Display, max(3, len(s.config.Hardware.Display.SelectPins))), out.DisplayOn)
		for _, r := range rows {
			buf.WriteString(" [#ffff00]" + r + "[-]\n")
		}
	}
	if s.config.Waveform.Enabled {
		buf.WriteString(fmt.Sprintf(" analog out %3d\n", out.Analog))
	}
	s.statePane.SetText(buf.String())
}

func (s *TUIPlatform) drawInputs() {
	var buf strings.Builder
	buf.WriteString(fmt.Sprintf("[yellow]   %-12s %8s  %-27s %6s[-]\n", "input", "value", "[min|median|mean|max]", "stddev"))
	for i, in := range s.inputs {
		marker := "  "
		if i == s.selected {
			marker = "[#ff0000]>[-] "
		}
		st := s.history.stats(in.key)
		buf.WriteString(fmt.Sprintf("%s%-12s %8.1f  [%5.0f|%5.0f|%5.0f|%5.0f]  %6.1f  [blue]%s[-]\n",
			marker, in.key, s.current(in), st.min, st.median, st.mean, st.max, st.stdDev, in.label))
	}
	s.inputPane.SetText(buf.String())
}

func (s *TUIPlatform) drawSerial() {
	s.linesMutex.Lock()
	text := strings.Join(s.lines, "\n")
	s.linesMutex.Unlock()
	s.serialPane.SetText(text)
	s.serialPane.ScrollToEnd()
}
