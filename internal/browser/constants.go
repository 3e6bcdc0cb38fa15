// Package browser drives Chromium-based browsers over the remote
// debugging protocol: isolated browsing contexts, pages attached as
// flat protocol sessions, navigation, input dispatch, and tagging
// passes that number the interactive elements of the active page.
package browser

import "time"

const (
	// DefaultCDPPort is the default remote-debugging port.
	DefaultCDPPort = 9222

	// DefaultNavigationTimeout bounds the wait for a page load event.
	DefaultNavigationTimeout = 30 * time.Second

	// DefaultCommandTimeout bounds individual protocol commands.
	DefaultCommandTimeout = 30 * time.Second

	// chromeStartupTimeout bounds the wait for a launched browser's
	// debugging endpoint to come up.
	chromeStartupTimeout = 15 * time.Second
)
