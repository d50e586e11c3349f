package notify

import (
	"encoding/json"
	"fmt"
	"strings"

	"bmkg_alert/internal/model"
)

var severityEmoji = map[model.Severity]string{
	model.SeverityMinor:    "🔵",
	model.SeverityModerate: "🟡",
	model.SeveritySevere:   "🔴",
	model.SeverityExtreme:  "⚫",
}

func emojiFor(s model.Severity) string {
	if e, ok := severityEmoji[s]; ok {
		return e
	}
	return "⚠️"
}

var divider = strings.Repeat("─", 30)

// telegramText renders a message as Telegram HTML.
func telegramText(m Message) string {
	switch m.Kind {
	case KindAllClear:
		return fmt.Sprintf(
			"✅ <b>Peringatan Berakhir</b>\n\nPeringatan <b>%s</b> untuk <b>%s</b> telah berakhir.\n\nKondisi sudah aman. Tetap waspada.\n\n📡 Sumber: BMKG (bmkg.go.id)",
			m.Event, m.Location.DisplayName(),
		)
	case KindTest:
		return "🧪 <b>Test Notifikasi BMKG Alert</b>\n\n" +
			"Ini adalah pesan test. Jika Anda melihat pesan ini, konfigurasi Telegram berhasil!\n\n" +
			"📡 BMKG Alert System v1.0"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s <b>Peringatan Cuaca — %s</b>\n\n", emojiFor(m.Severity), m.Event)
	fmt.Fprintf(&b, "📍 <b>Lokasi Terpantau:</b> %s\n", m.Location.DisplayName())
	fmt.Fprintf(&b, "   %s, %s, %s\n\n", m.Location.SubdistrictName, m.Location.DistrictName, m.Location.ProvinceName)
	fmt.Fprintf(&b, "⚡ <b>Tingkat:</b> %s\n", m.Severity.Display())
	fmt.Fprintf(&b, "🕐 <b>Berlaku:</b> %s\n", formatTime(m.Effective))
	fmt.Fprintf(&b, "⏰ <b>Hingga:</b> %s", formatTime(m.Expires))
	if m.Description != "" {
		fmt.Fprintf(&b, "\n\n📝 %s", truncate(m.Description, 500))
	}
	fmt.Fprintf(&b, "\n\n🔍 <i>Cocok: %s — %s</i>", m.MatchType, m.MatchedText)
	if m.InfographicURL != "" {
		fmt.Fprintf(&b, "\n\n🗺️ <a href=\"%s\">Lihat Infografis BMKG</a>", m.InfographicURL)
	}
	b.WriteString("\n\n" + divider + "\n📡 Sumber: BMKG (bmkg.go.id)\n🤖 BMKG Alert System v1.0")
	return b.String()
}

// plainText renders the all-clear and test variants without markup, for
// transports whose alert rendering is structured (embeds, blocks, HTML).
func plainText(m Message) string {
	switch m.Kind {
	case KindAllClear:
		return fmt.Sprintf(
			"✅ Peringatan Berakhir\n\nPeringatan %s untuk %s telah berakhir.\n\nKondisi sudah aman. Tetap waspada.\n\nSumber: BMKG (bmkg.go.id)",
			m.Event, m.Location.DisplayName(),
		)
	case KindTest:
		return "Test Notifikasi BMKG Alert\n\n" +
			"Ini adalah pesan test. Jika Anda melihat pesan ini, konfigurasi berhasil!\n\n" +
			"BMKG Alert System v1.0"
	}
	return telegramText(m)
}

// shortDescription is the embed/block body: description, falling back to
// the headline, capped at 300 characters.
func shortDescription(m Message) string {
	desc := m.Description
	if desc == "" {
		desc = m.Headline
	}
	return truncate(desc, 300)
}

// formatTime reduces a BMKG ISO timestamp ("2026-02-17T19:55:00+07:00") to
// a short Indonesian display form ("2026-02-17 19:55 WIB"). Unparseable
// values pass through unchanged; empty becomes "-".
func formatTime(iso string) string {
	if iso == "" {
		return "-"
	}
	datePart, timePart, ok := strings.Cut(iso, "T")
	if !ok || len(timePart) < 5 {
		return iso
	}
	label := "WIB"
	switch {
	case strings.Contains(timePart, "+08"):
		label = "WITA"
	case strings.Contains(timePart, "+09"):
		label = "WIT"
	}
	return fmt.Sprintf("%s %s %s", datePart, timePart[:5], label)
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}

// AreaNames extracts the affected area names from an alert's stored
// polygon blob.
func AreaNames(polygonData string) []string {
	if polygonData == "" {
		return nil
	}
	var areas []struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal([]byte(polygonData), &areas); err != nil {
		return nil
	}
	names := make([]string, 0, len(areas))
	for _, a := range areas {
		if a.Name != "" {
			names = append(names, a.Name)
		}
	}
	return names
}
