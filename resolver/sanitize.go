package resolver

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

var titleReplacer = strings.NewReplacer(
	`\`, "_", "/", "_", ":", "_", "*", "_", "?", "_",
	`"`, "_", "<", "_", ">", "_", "|", "_",
	"\r", " ", "\n", " ", "\t", " ",
)

// cleanTitle normalises a caption into something usable as a file name.
func cleanTitle(desc, fallback string) string {
	title := strings.TrimSpace(norm.NFC.String(desc))
	if title == "" {
		return fallback
	}
	return strings.TrimSpace(titleReplacer.Replace(title))
}
