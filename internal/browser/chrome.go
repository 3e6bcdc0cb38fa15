package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

// BrowserKind identifies the type of Chromium-based browser.
type BrowserKind string

const (
	BrowserChrome   BrowserKind = "chrome"
	BrowserBrave    BrowserKind = "brave"
	BrowserEdge     BrowserKind = "edge"
	BrowserChromium BrowserKind = "chromium"
	BrowserCustom   BrowserKind = "custom"
)

// BrowserExecutable represents a found browser binary.
type BrowserExecutable struct {
	Kind BrowserKind
	Path string
}

// RunningChrome represents a launched browser instance.
type RunningChrome struct {
	PID         int
	Executable  *BrowserExecutable
	UserDataDir string
	CDPPort     int
	StartedAt   time.Time
	cmd         *exec.Cmd
}

// FindChromeExecutable finds a Chromium-based browser on the system.
func FindChromeExecutable(customPath string) (*BrowserExecutable, error) {
	if customPath != "" {
		if !fileExists(customPath) {
			return nil, fmt.Errorf("browser executable not found: %s", customPath)
		}
		return &BrowserExecutable{Kind: BrowserCustom, Path: customPath}, nil
	}

	var exe *BrowserExecutable
	switch runtime.GOOS {
	case "darwin":
		exe = findChromeMac()
	case "linux":
		exe = findChromeLinux()
	case "windows":
		exe = findChromeWindows()
	default:
		return nil, fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}
	if exe == nil {
		return nil, fmt.Errorf("no supported browser found (Chrome/Brave/Edge/Chromium)")
	}
	return exe, nil
}

// IsChromeReachable checks whether the debugging endpoint responds.
func IsChromeReachable(cdpURL string, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	versionURL := strings.TrimSuffix(cdpURL, "/") + "/json/version"
	req, err := http.NewRequestWithContext(ctx, "GET", versionURL, nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// GetChromeWebSocketURL resolves the browser-level WebSocket debugger
// URL from the HTTP endpoint.
func GetChromeWebSocketURL(cdpURL string, timeout time.Duration) (string, error) {
	if strings.HasPrefix(cdpURL, "ws://") || strings.HasPrefix(cdpURL, "wss://") {
		return cdpURL, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	versionURL := strings.TrimSuffix(cdpURL, "/") + "/json/version"
	req, err := http.NewRequestWithContext(ctx, "GET", versionURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var version struct {
		WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&version); err != nil {
		return "", err
	}
	if version.WebSocketDebuggerURL == "" {
		return "", fmt.Errorf("no webSocketDebuggerUrl in response")
	}
	return version.WebSocketDebuggerURL, nil
}

// LaunchChrome launches a browser instance with remote debugging
// enabled and waits for the endpoint to come up.
func LaunchChrome(config *ResolvedConfig) (*RunningChrome, error) {
	exe, err := FindChromeExecutable(config.ExecutablePath)
	if err != nil {
		return nil, err
	}

	userDataDir := config.UserDataDir
	if userDataDir == "" {
		userDataDir, err = os.MkdirTemp("", "spotter-profile-")
		if err != nil {
			return nil, fmt.Errorf("create user data dir: %w", err)
		}
	} else if err := os.MkdirAll(userDataDir, 0755); err != nil {
		return nil, fmt.Errorf("create user data dir: %w", err)
	}

	args := buildChromeArgs(userDataDir, config)
	cmd := exec.Command(exe.Path, args...)
	cmd.Env = append(os.Environ(), "HOME="+os.Getenv("HOME"))
	setChromeProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start browser: %w", err)
	}

	running := &RunningChrome{
		PID:         cmd.Process.Pid,
		Executable:  exe,
		UserDataDir: userDataDir,
		CDPPort:     config.CDPPort,
		StartedAt:   time.Now(),
		cmd:         cmd,
	}

	cdpURL := fmt.Sprintf("http://127.0.0.1:%d", config.CDPPort)
	deadline := time.Now().Add(chromeStartupTimeout)
	for time.Now().Before(deadline) {
		if IsChromeReachable(cdpURL, 500*time.Millisecond) {
			return running, nil
		}
		time.Sleep(200 * time.Millisecond)
	}

	killChromeProcessGroup(cmd, true)
	return nil, fmt.Errorf("browser debugging endpoint did not start on port %d within %s",
		config.CDPPort, chromeStartupTimeout)
}

// StopChrome stops a running browser, gracefully first.
func StopChrome(running *RunningChrome, timeout time.Duration) error {
	if running == nil || running.cmd == nil || running.cmd.Process == nil {
		return nil
	}

	killChromeProcessGroup(running.cmd, false)

	done := make(chan error, 1)
	go func() {
		done <- running.cmd.Wait()
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		killChromeProcessGroup(running.cmd, true)
		return nil
	}
}

func buildChromeArgs(userDataDir string, config *ResolvedConfig) []string {
	args := []string{
		fmt.Sprintf("--remote-debugging-port=%d", config.CDPPort),
		fmt.Sprintf("--user-data-dir=%s", userDataDir),
		"--no-first-run",
		"--no-default-browser-check",
		"--disable-sync",
		"--disable-background-networking",
		"--disable-component-update",
		"--disable-features=Translate,MediaRouter",
		"--disable-session-crashed-bubble",
		"--hide-crash-restore-bubble",
		"--password-store=basic",
	}
	if config.Headless {
		args = append(args, "--headless=new", "--disable-gpu")
	}
	if config.NoSandbox {
		args = append(args, "--no-sandbox", "--disable-setuid-sandbox")
	}
	if runtime.GOOS == "linux" {
		args = append(args, "--disable-dev-shm-usage")
	}
	// Always open a blank tab so a target exists.
	args = append(args, "about:blank")
	return args
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func findChromeMac() *BrowserExecutable {
	home := os.Getenv("HOME")
	candidates := []struct {
		kind BrowserKind
		path string
	}{
		{BrowserChrome, "/Applications/Google Chrome.app/Contents/MacOS/Google Chrome"},
		{BrowserChrome, filepath.Join(home, "Applications/Google Chrome.app/Contents/MacOS/Google Chrome")},
		{BrowserBrave, "/Applications/Brave Browser.app/Contents/MacOS/Brave Browser"},
		{BrowserEdge, "/Applications/Microsoft Edge.app/Contents/MacOS/Microsoft Edge"},
		{BrowserChromium, "/Applications/Chromium.app/Contents/MacOS/Chromium"},
	}
	for _, c := range candidates {
		if fileExists(c.path) {
			return &BrowserExecutable{Kind: c.kind, Path: c.path}
		}
	}
	return nil
}

func findChromeLinux() *BrowserExecutable {
	candidates := []struct {
		kind BrowserKind
		path string
	}{
		{BrowserChrome, "/usr/bin/google-chrome"},
		{BrowserChrome, "/usr/bin/google-chrome-stable"},
		{BrowserBrave, "/usr/bin/brave-browser"},
		{BrowserEdge, "/usr/bin/microsoft-edge"},
		{BrowserChromium, "/usr/bin/chromium"},
		{BrowserChromium, "/usr/bin/chromium-browser"},
		{BrowserChromium, "/snap/bin/chromium"},
	}
	for _, c := range candidates {
		if fileExists(c.path) {
			return &BrowserExecutable{Kind: c.kind, Path: c.path}
		}
	}
	return nil
}

func findChromeWindows() *BrowserExecutable {
	localAppData := os.Getenv("LOCALAPPDATA")
	programFiles := os.Getenv("ProgramFiles")
	if programFiles == "" {
		programFiles = `C:\Program Files`
	}

	type candidate struct {
		kind BrowserKind
		path string
	}
	var candidates []candidate
	if localAppData != "" {
		candidates = append(candidates,
			candidate{BrowserChrome, filepath.Join(localAppData, "Google", "Chrome", "Application", "chrome.exe")},
			candidate{BrowserBrave, filepath.Join(localAppData, "BraveSoftware", "Brave-Browser", "Application", "brave.exe")},
			candidate{BrowserEdge, filepath.Join(localAppData, "Microsoft", "Edge", "Application", "msedge.exe")},
		)
	}
	candidates = append(candidates,
		candidate{BrowserChrome, filepath.Join(programFiles, "Google", "Chrome", "Application", "chrome.exe")},
		candidate{BrowserEdge, filepath.Join(programFiles, "Microsoft", "Edge", "Application", "msedge.exe")},
	)
	for _, c := range candidates {
		if fileExists(c.path) {
			return &BrowserExecutable{Kind: c.kind, Path: c.path}
		}
	}
	return nil
}
