package transcription

import (
	"strings"
	"unicode/utf8"
)

const (
	paragraphSilenceMs  = 1500
	paragraphSoftLimit  = 250
	paragraphHardLimit  = 375
	sentenceTerminators = "。？！?!.…"
)

// Sentence is one recognised sentence with its offsets in milliseconds.
type Sentence struct {
	Text      string `json:"Text"`
	BeginTime int64  `json:"BeginTime"`
	EndTime   int64  `json:"EndTime"`
}

// FormatParagraphs groups sentences into paragraphs. A new paragraph starts
// after a long silence, once a paragraph passes the soft limit at a sentence
// end, or unconditionally at the hard limit.
func FormatParagraphs(sentences []Sentence) string {
	var (
		paragraphs []string
		current    strings.Builder
		lastEnd    int64
	)

	flush := func() {
		if p := strings.TrimSpace(current.String()); p != "" {
			paragraphs = append(paragraphs, p)
		}
		current.Reset()
	}

	for _, s := range sentences {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		if current.Len() > 0 {
			length := utf8.RuneCountInString(current.String())
			switch {
			case s.BeginTime-lastEnd >= paragraphSilenceMs:
				flush()
			case length >= paragraphSoftLimit && endsSentence(current.String()):
				flush()
			case length >= paragraphHardLimit:
				flush()
			}
		}
		current.WriteString(text)
		lastEnd = s.EndTime
	}
	flush()

	return strings.Join(paragraphs, "\n\n")
}

func endsSentence(s string) bool {
	r, _ := utf8.DecodeLastRuneInString(strings.TrimSpace(s))
	return r != utf8.RuneError && strings.ContainsRune(sentenceTerminators, r)
}
