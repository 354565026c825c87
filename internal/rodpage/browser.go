package rodpage

import (
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// LaunchBrowser starts a headless Chrome process and connects to it.
// The launcher flags keep automation markers out of the page's
// navigator object. proxy is optional.
func LaunchBrowser(proxy string) (*rod.Browser, error) {
	l := launcher.New().Headless(true).NoSandbox(true)
	if proxy != "" {
		l = l.Proxy(proxy)
	}

	l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	l.Delete(flags.Flag("enable-automation"))
	l.Set(flags.Flag("disable-features"), "AudioServiceOutOfProcess,TranslateUI")
	l.Set(flags.Flag("disable-ipc-flooding-protection"))
	l.Set(flags.Flag("disable-popup-blocking"))
	l.Set(flags.Flag("disable-prompt-on-repost"))
	l.Set(flags.Flag("disable-renderer-backgrounding"))
	l.Set(flags.Flag("disable-background-timer-throttling"))
	l.Set(flags.Flag("disable-backgrounding-occluded-windows"))
	l.Set(flags.Flag("disable-dev-shm-usage"))
	l.Set(flags.Flag("no-first-run"))

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("rodpage: launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("rodpage: connect to browser: %w", err)
	}
	return browser, nil
}

// NewPage opens a fresh page on browser. When useStealth is set, the
// page is created through go-rod/stealth so its fingerprint matches a
// normal Chrome tab instead of an automated one.
func NewPage(browser *rod.Browser, useStealth bool) (*rod.Page, error) {
	if useStealth {
		page, err := stealth.Page(browser)
		if err != nil {
			return nil, fmt.Errorf("rodpage: open stealth page: %w", err)
		}
		return page, nil
	}
	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("rodpage: open page: %w", err)
	}
	return page, nil
}
