package main

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"fyne.io/systray"
	"github.com/rs/zerolog"

	"github.com/nedpals/davi-tag-agent/buildinfo"
	"github.com/nedpals/davi-tag-agent/logging"
	"github.com/nedpals/davi-tag-agent/pipeline"
)

const statusRefreshInterval = 2 * time.Second

// getLocalIPs returns a list of local IP addresses (excluding loopback)
func getLocalIPs() []string {
	var ips []string
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ips
	}

	for _, addr := range addrs {
		if ipNet, ok := addr.(*net.IPNet); ok && !ipNet.IP.IsLoopback() {
			if ipNet.IP.To4() != nil {
				ips = append(ips, ipNet.IP.String())
			}
		}
	}
	return ips
}

// SystrayApp shows the agent state in the system tray. It is a pipeline
// sink, so reads and submissions update the menu as they happen.
type SystrayApp struct {
	agent  *Agent
	logger zerolog.Logger

	mStatus   *systray.MenuItem
	mHardware *systray.MenuItem
	mSerial   *systray.MenuItem
	mResult   *systray.MenuItem
	mConsumer *systray.MenuItem
	mCopyURL  *systray.MenuItem
	mListen   *systray.MenuItem
	mScan     *systray.MenuItem
	mRetry    *systray.MenuItem
	mSearch   *systray.MenuItem
	mStart    *systray.MenuItem
	mStop     *systray.MenuItem
	mQuit     *systray.MenuItem

	mu         sync.Mutex
	lastSerial string
}

var _ pipeline.Sink = (*SystrayApp)(nil)

// NewSystrayApp creates the tray UI for agent.
func NewSystrayApp(agent *Agent) *SystrayApp {
	s := &SystrayApp{
		agent:  agent,
		logger: logging.Component("systray"),
	}
	agent.Pipeline.AddSink(s)
	return s
}

// Run blocks until the tray exits.
func (s *SystrayApp) Run() {
	systray.Run(s.onReady, s.onExit)
}

func quitSystray() {
	systray.Quit()
}

func (s *SystrayApp) onReady() {
	s.setupUI()
	go s.handleMenuEvents()
	go s.refreshLoop()
	go s.handleStartAgent()
}

func (s *SystrayApp) onExit() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.agent.Stop(ctx)
	s.agent.Close()
}

func (s *SystrayApp) setupUI() {
	systray.SetIcon(iconIdle)
	systray.SetTitle("")
	systray.SetTooltip(buildinfo.DisplayName)

	s.mStatus = systray.AddMenuItem("Starting...", "Agent status")
	s.mStatus.Disable()
	s.mHardware = systray.AddMenuItem("NFC: checking", "Reader availability")
	s.mHardware.Disable()

	systray.AddSeparator()

	s.mSerial = systray.AddMenuItem("Last serial: None", "Most recently read serial")
	s.mSerial.Disable()
	s.mResult = systray.AddMenuItem("Last result: None", "Outcome of the most recent submission")
	s.mResult.Disable()
	s.mRetry = systray.AddMenuItem("Submit Again", "Submit the last serial again")
	s.mRetry.Disable()
	s.mSearch = systray.AddMenuItem("Search Last Serial", "Look the last serial up")
	s.mSearch.Disable()

	systray.AddSeparator()

	s.mListen = systray.AddMenuItemCheckbox("Listening", "Deliver tag reads", false)
	s.mListen.Disable()
	s.mScan = systray.AddMenuItem("Scan Now", "Ask on-demand readers to start a scan")
	s.mScan.Disable()

	systray.AddSeparator()

	s.mConsumer = systray.AddMenuItem("Consumer: Not running", "Consumer websocket URL")
	s.mConsumer.Disable()
	s.mCopyURL = systray.AddMenuItem("Copy Consumer URL", "Copy the websocket URL to the clipboard")

	systray.AddSeparator()

	s.mStart = systray.AddMenuItem("Start Agent", "Start the agent")
	s.mStop = systray.AddMenuItem("Stop Agent", "Stop the agent")
	s.mStart.Disable()
	s.mStop.Disable()

	systray.AddSeparator()
	s.mQuit = systray.AddMenuItem("Quit", "Quit the application")
}

func (s *SystrayApp) handleMenuEvents() {
	for {
		select {
		case <-s.mStart.ClickedCh:
			s.handleStartAgent()
		case <-s.mStop.ClickedCh:
			s.handleStopAgent()
		case <-s.mListen.ClickedCh:
			s.handleListenToggle()
		case <-s.mScan.ClickedCh:
			if err := s.agent.Pipeline.StartScan(context.Background()); err != nil {
				s.logger.Warn().Err(err).Msg("scan request failed")
			}
		case <-s.mRetry.ClickedCh:
			s.rerun(s.agent.Pipeline.Retry)
		case <-s.mSearch.ClickedCh:
			s.rerun(s.agent.Pipeline.Search)
		case <-s.mCopyURL.ClickedCh:
			if err := copyToClipboard(s.consumerURL()); err != nil {
				s.logger.Warn().Err(err).Msg("failed to copy to clipboard")
			}
		case <-s.mQuit.ClickedCh:
			systray.Quit()
			return
		}
	}
}

func (s *SystrayApp) handleStartAgent() {
	if err := s.agent.Start(context.Background()); err != nil {
		s.logger.Error().Err(err).Msg("failed to start agent")
		s.updateStatus("Failed to Start")
		s.mStart.Enable()
		return
	}
	s.updateStatus("Running")
	s.mConsumer.SetTitle("Consumer: " + s.consumerURL())
	s.mStart.Disable()
	s.mStop.Enable()
	s.mListen.Enable()
	s.refresh()
}

func (s *SystrayApp) handleStopAgent() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.agent.Stop(ctx)

	s.updateStatus("Stopped")
	s.mConsumer.SetTitle("Consumer: Not running")
	s.mListen.Uncheck()
	s.mListen.Disable()
	s.mScan.Disable()
	s.mStop.Disable()
	s.mStart.Enable()
}

func (s *SystrayApp) handleListenToggle() {
	on := !s.agent.Listening()
	if err := s.agent.SetListening(context.Background(), on); err != nil {
		s.logger.Warn().Err(err).Bool("listen", on).Msg("failed to toggle listening")
	}
	s.refresh()
}

func (s *SystrayApp) rerun(run func(string) error) {
	s.mu.Lock()
	serial := s.lastSerial
	s.mu.Unlock()
	if serial == "" {
		return
	}
	if err := run(serial); err != nil {
		s.logger.Warn().Err(err).Str("serial", serial).Msg("request failed")
	}
}

func (s *SystrayApp) refreshLoop() {
	ticker := time.NewTicker(statusRefreshInterval)
	defer ticker.Stop()
	for range ticker.C {
		s.refresh()
	}
}

// refresh syncs the menu with the pipeline status.
func (s *SystrayApp) refresh() {
	ctx, cancel := context.WithTimeout(context.Background(), statusRefreshInterval)
	defer cancel()
	st := s.agent.Pipeline.Status(ctx)

	switch {
	case st.Supported && s.agent.Devices != nil:
		s.mHardware.SetTitle(fmt.Sprintf("NFC: ready (%d phone(s))", s.agent.Devices.GetActiveDeviceCount()))
	case st.Supported:
		s.mHardware.SetTitle("NFC: ready")
	default:
		s.mHardware.SetTitle("NFC: no reader available")
	}

	if st.Listening {
		s.mListen.Check()
	} else {
		s.mListen.Uncheck()
	}
	if st.Listening && st.ScanOnDemand {
		s.mScan.Enable()
	} else {
		s.mScan.Disable()
	}
}

func (s *SystrayApp) updateStatus(status string) {
	s.mStatus.SetTitle(status)

	switch status {
	case "Running":
		systray.SetIcon(iconRunning)
	case "Failed to Start":
		systray.SetIcon(iconError)
	case "Stopped":
		systray.SetIcon(iconStopped)
	default:
		systray.SetIcon(iconIdle)
	}
}

// TagRead implements pipeline.Sink.
func (s *SystrayApp) TagRead(serial string) {
	s.mu.Lock()
	s.lastSerial = serial
	s.mu.Unlock()

	s.mSerial.SetTitle("Last serial: " + serial)
	s.mResult.SetTitle("Last result: submitting...")
	s.mRetry.Enable()
	s.mSearch.Enable()
}

// ReadError implements pipeline.Sink.
func (s *SystrayApp) ReadError(message string) {
	s.mResult.SetTitle("Last result: " + message)
}

// Submitted implements pipeline.Sink.
func (s *SystrayApp) Submitted(sub pipeline.Submission) {
	s.mResult.SetTitle("Last result: " + resultSummary(sub))
	if sub.Result.OK() {
		systray.SetIcon(iconRunning)
	} else {
		systray.SetIcon(iconError)
	}
}

// resultSummary renders a submission for a one-line menu item.
func resultSummary(sub pipeline.Submission) string {
	if sub.Result.OK() {
		return fmt.Sprintf("%s %s ok", sub.Op, sub.Serial)
	}
	return fmt.Sprintf("%s %s failed: %s", sub.Op, sub.Serial, sub.Result.Message)
}

func (s *SystrayApp) consumerURL() string {
	ip := "localhost"
	if ips := getLocalIPs(); len(ips) > 0 {
		ip = ips[0]
	}
	return fmt.Sprintf("ws://%s:%d/ws", ip, s.agent.Config.Server.Port)
}

// copyToClipboard copies text to the system clipboard
func copyToClipboard(text string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("pbcopy")
	case "linux":
		cmd = exec.Command("xclip", "-selection", "clipboard")
	case "windows":
		cmd = exec.Command("clip")
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}
	if _, err := stdin.Write([]byte(text)); err != nil {
		return err
	}
	stdin.Close()
	return cmd.Wait()
}
