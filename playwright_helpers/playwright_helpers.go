// Copyright 2024
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package playwright_helpers

import (
	"errors"
	"slices"
	"strings"

	"github.com/go-rod/stealth"
	"github.com/playwright-community/playwright-go"
	"github.com/rs/zerolog/log"
)

var (
	ErrBrowserStart = errors.New("could not start browser")
)

// blockedHosts contain trackers and ads that slow down page loads
var blockedHosts = []string{
	"google.com",
	"googletagservices.com",
	"googlesyndication.com",
	"facebook.com",
	"moatpixel.com",
	"moatads.com",
	"adsystem.com",
	"connatix.com",
	"prebid",
	"sodar",
	"auction",
	"rubiconproject.com",
	"pubmatic.com",
	"adnxs.com",
	"lijit.com",
	"3lift.com",
	"doubleclick.net",
	"bidswitch.net",
	"casalemedia.com",
	"yahoo.com",
	"sitescout.com",
	"ipredictive.com",
	"investingchannel.com",
	"eyeota.net",
}

// Options control how the browser session is launched
type Options struct {
	Headless bool

	// UserAgent overrides the computed user agent when set
	UserAgent string
}

// Session bundles the playwright objects needed to drive a single page
type Session struct {
	Page    playwright.Page
	context playwright.BrowserContext
	browser playwright.Browser
	pw      *playwright.Playwright
}

// Start launches chromium and opens a stealth page with trackers blocked
func Start(opts Options) (*Session, error) {
	pw, err := playwright.Run()
	if err != nil {
		log.Error().Err(err).Msg("could not launch playwright")
		return nil, errors.Join(ErrBrowserStart, err)
	}

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
	})
	if err != nil {
		log.Error().Err(err).Msg("could not launch Chromium")
		_ = pw.Stop()
		return nil, errors.Join(ErrBrowserStart, err)
	}

	log.Info().Bool("Headless", opts.Headless).Str("ExecutablePath", pw.Chromium.ExecutablePath()).Str("BrowserVersion", browser.Version()).Msg("starting playwright")

	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = buildUserAgent(browser)
	}
	log.Info().Str("UserAgent", userAgent).Msg("using user-agent")

	context, err := browser.NewContext(playwright.BrowserNewContextOptions{
		UserAgent: playwright.String(userAgent),
	})
	if err != nil {
		log.Error().Err(err).Msg("could not create browser context")
		_ = browser.Close()
		_ = pw.Stop()
		return nil, errors.Join(ErrBrowserStart, err)
	}

	session := &Session{
		context: context,
		browser: browser,
		pw:      pw,
	}

	if session.Page, err = stealthPage(context); err != nil {
		session.Close()
		return nil, errors.Join(ErrBrowserStart, err)
	}

	blockTrackers(session.Page)

	return session, nil
}

// Close shuts down the browser and the playwright driver
func (session *Session) Close() {
	log.Info().Msg("closing browser")
	if err := session.browser.Close(); err != nil {
		log.Error().Err(err).Msg("error encountered when closing browser")
	}

	log.Info().Msg("stopping playwright")
	if err := session.pw.Stop(); err != nil {
		log.Error().Err(err).Msg("error encountered when stopping playwright")
	}
}

// stealthPage creates a new page with stealth js loaded to prevent bot detection
func stealthPage(context playwright.BrowserContext) (playwright.Page, error) {
	page, err := context.NewPage()
	if err != nil {
		log.Error().Err(err).Msg("could not create page")
		return nil, err
	}

	if err = page.AddInitScript(playwright.Script{
		Content: playwright.String(stealth.JS),
	}); err != nil {
		log.Error().Err(err).Msg("could not load stealth mode")
	}

	return page, nil
}

// buildUserAgent determines the browser user agent and removes the headless identifier
func buildUserAgent(browser playwright.Browser) string {
	context, err := browser.NewContext()
	if err != nil {
		log.Error().Err(err).Msg("could not create context for building user agent")
		return ""
	}
	defer context.Close()

	page, err := context.NewPage()
	if err != nil {
		log.Error().Err(err).Msg("could not create page for building user agent")
		return ""
	}

	resp, err := page.Goto("https://playwright.dev", playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateNetworkidle,
	})
	if err != nil {
		log.Error().Err(err).Str("Url", "https://playwright.dev").Msg("could not load page")
		return ""
	}

	headers, err := resp.Request().AllHeaders()
	if err != nil {
		log.Error().Err(err).Msg("could not load request headers")
		return ""
	}

	return strings.ReplaceAll(headers["user-agent"], "Headless", "")
}

// Blocked reports whether requests to url are aborted
func Blocked(url string) bool {
	return slices.ContainsFunc(blockedHosts, func(host string) bool {
		return strings.Contains(url, host)
	})
}

func blockTrackers(page playwright.Page) {
	err := page.Route("**/*", func(route playwright.Route) {
		if Blocked(route.Request().URL()) {
			if err := route.Abort("failed"); err != nil {
				log.Error().Err(err).Msg("failed blocking route")
			}
			return
		}

		if err := route.Continue(); err != nil {
			log.Error().Err(err).Msg("failed continuing route")
		}
	})

	if err != nil {
		log.Error().Err(err).Msg("page route errored")
	}
}
