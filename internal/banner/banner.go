/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

/*
Package banner provides the startup banner display for smlistener.

USAGE:
======

	banner.Print()                 // Print to stdout
	banner.PrintTo(writer)         // Print to custom writer
	banner.PrintWithConfig(cfg)    // Print banner with configuration

The banner text is embedded at compile time from banner.txt.
*/
package banner

import (
	_ "embed"
	"fmt"
	"io"
	"os"
	"strings"

	"smlistener/internal/config"
)

//go:embed banner.txt
var bannerText string

// ANSI escape codes for terminal text formatting.
const (
	AnsiRed    = "\033[31m"
	AnsiGreen  = "\033[32m"
	AnsiYellow = "\033[33m"
	AnsiCyan   = "\033[36m"
	AnsiReset  = "\033[0m"
	AnsiBold   = "\033[1m"
	AnsiDim    = "\033[2m"
)

// Version information
const (
	Version   = "1.0.0"
	Copyright = "Copyright (c) 2026 Firefly Software Solutions Inc."
	License   = "Licensed under Apache License 2.0"
)

const (
	productName = "smlistener"
	tagline     = "Security Manager Interception Listener"
	lineWidth   = 78
)

// GetBanner returns the raw ASCII banner text.
func GetBanner() string {
	return bannerText
}

// GetBannerLines returns the banner as individual lines.
func GetBannerLines() []string {
	return strings.Split(strings.TrimRight(bannerText, "\n"), "\n")
}

// Print displays the startup banner with version and copyright information.
func Print() {
	PrintTo(os.Stdout)
}

// PrintTo writes the banner to the specified writer.
func PrintTo(w io.Writer) {
	printHeader(w)
	fmt.Fprintln(w, AnsiDim+"  "+Copyright+AnsiReset)
	fmt.Fprintln(w)
}

func printHeader(w io.Writer) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, AnsiCyan+AnsiBold)
	for _, line := range GetBannerLines() {
		fmt.Fprintln(w, "  "+line)
	}
	fmt.Fprintln(w, AnsiReset)
	fmt.Fprintln(w, AnsiGreen+AnsiBold+"  "+productName+AnsiReset+" "+AnsiDim+"v"+Version+AnsiReset)
	fmt.Fprintln(w, AnsiDim+"  "+tagline+AnsiReset)
	fmt.Fprintln(w)
}

// PrintWithConfig prints the banner followed by a configuration overview.
func PrintWithConfig(cfg *config.Config) {
	PrintWithConfigTo(os.Stdout, cfg)
}

// PrintWithConfigTo writes the banner with configuration to the specified writer.
func PrintWithConfigTo(w io.Writer, cfg *config.Config) {
	printHeader(w)
	printConfigSource(w, cfg)

	printSectionHeader(w, "Listener")
	printRow3(w,
		fmtKV("Log", cfg.LogLevel),
		fmtKV("Retry", cfg.RetryInterval().String()),
		fmtKV("Pause", cfg.ErrorPause().String()))
	fmt.Fprintln(w)

	printSectionHeader(w, "Applications")
	printApplications(w, cfg)
	fmt.Fprintln(w)

	printSectionHeader(w, "Delivery")
	printDelivery(w, cfg)
	fmt.Fprintln(w)

	printSectionHeader(w, "Endpoints")
	printEndpoints(w, cfg)
	fmt.Fprintln(w)

	fmt.Fprintln(w, AnsiDim+"  "+Copyright+AnsiReset)
	fmt.Fprintln(w)
	printLogSeparator(w)
}

// PrintLogSeparator prints a visual separator before logs start.
func PrintLogSeparator() {
	printLogSeparator(os.Stdout)
}

func printLogSeparator(w io.Writer) {
	arrow := "v"
	text := " LOGS START HERE "
	padding := (lineWidth - len(text) - 4) / 2
	if padding < 0 {
		padding = 0
	}
	line := strings.Repeat("-", padding)
	fmt.Fprintf(w, "  %s%s %s%s%s %s%s\n",
		AnsiYellow, arrow+arrow+line,
		AnsiBold, text, AnsiReset+AnsiYellow,
		line+arrow+arrow, AnsiReset)
	fmt.Fprintln(w)
}

func printConfigSource(w io.Writer, cfg *config.Config) {
	fmt.Fprint(w, "  "+AnsiDim+"Config: "+AnsiReset)
	if cfg.ConfigFile != "" {
		fmt.Fprintln(w, AnsiYellow+cfg.ConfigFile+AnsiReset)
	} else {
		fmt.Fprintln(w, AnsiDim+"defaults + environment"+AnsiReset)
	}
	fmt.Fprintln(w)
}

func printApplications(w io.Writer, cfg *config.Config) {
	apps := cfg.InterceptingApplications()
	if len(apps) == 0 {
		fmt.Fprintln(w, "  "+AnsiYellow+"no intercepting applications"+AnsiReset)
		return
	}
	for _, app := range apps {
		var tls string
		if app.TLS.Enabled {
			tls = fmtEnabled("TLS", true)
		} else {
			tls = fmtKV("TLS", AnsiYellow+"off"+AnsiReset)
		}
		printRow3(w,
			AnsiGreen+app.Name+AnsiReset,
			fmtKV("Gateway", app.Addr()),
			tls)
		printRow3(w,
			"  "+fmtKV("MSCS", app.MSCSType+"/"+app.MSCSName),
			fmtKV("Cluster", orDash(app.Cluster)),
			fmtKV("Charset", orDash(app.CharacterSet)))
	}
}

func printDelivery(w io.Writer, cfg *config.Config) {
	var dest string
	switch cfg.Sink.Type {
	case config.SinkRedis:
		dest = fmtKV("Queue", cfg.Sink.Redis.EventQueue)
	case config.SinkKafka:
		dest = fmtKV("Topic", cfg.Sink.Kafka.EventTopic)
	default:
		dest = fmtKV("Output", "log")
	}

	spool := fmtDisabled("Spool")
	if cfg.Spool.Enabled {
		spool = fmtKV("Spool", cfg.Spool.Dir)
	}
	printRow3(w, fmtKV("Sink", AnsiGreen+orDash(cfg.Sink.Type)+AnsiReset), dest, spool)
}

func printEndpoints(w io.Writer, cfg *config.Config) {
	items := []string{
		endpoint("Metrics", cfg.Metrics.Enabled, cfg.Metrics.Addr),
		endpoint("Health", cfg.Health.Enabled, cfg.Health.Addr),
		endpoint("Tap", cfg.Tap.Enabled, cfg.Tap.Addr),
	}
	printRow3(w, items[0], items[1], items[2])
}

func endpoint(name string, enabled bool, addr string) string {
	if !enabled {
		return fmtDisabled(name)
	}
	return fmtKV(name, AnsiGreen+addr+AnsiReset)
}

func printSectionHeader(w io.Writer, title string) {
	titleLen := len(title) + 4 // "[ title ]"
	leftPad := 2
	rightPad := lineWidth - leftPad - titleLen
	if rightPad < 0 {
		rightPad = 0
	}
	fmt.Fprintf(w, "  %s[ %s%s%s ]%s%s\n",
		AnsiDim+strings.Repeat("-", leftPad),
		AnsiReset+AnsiCyan+AnsiBold, title, AnsiReset+AnsiDim,
		strings.Repeat("-", rightPad),
		AnsiReset)
}

func fmtKV(key, value string) string {
	return fmt.Sprintf("%s%s:%s %s", AnsiDim, key, AnsiReset, value)
}

func fmtEnabled(name string, enabled bool) string {
	if enabled {
		return AnsiGreen + name + AnsiReset
	}
	return AnsiDim + name + AnsiReset
}

func fmtDisabled(name string) string {
	return AnsiDim + name + AnsiReset
}

func printRow3(w io.Writer, col1, col2, col3 string) {
	fmt.Fprintf(w, "  %-32s %-26s %s\n", col1, col2, col3)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
