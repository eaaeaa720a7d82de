package narration

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"newscast/internal/textutil"
)

// Timing controls subtitle segmentation.
type Timing struct {
	WordsPerSegment   int
	SecondsPerWord    float64
	MaxSegmentSeconds float64
}

// Cue is one subtitle entry.
type Cue struct {
	Index int
	Start float64
	End   float64
	Text  string
}

// Segment splits text into cues of WordsPerSegment words. Each cue lasts
// SecondsPerWord per word, capped at MaxSegmentSeconds, and cues follow one
// another without gaps.
func Segment(text string, timing Timing) []Cue {
	words := textutil.Words(text)
	per := timing.WordsPerSegment
	if per <= 0 {
		per = 10
	}
	var cues []Cue
	var start float64
	for i := 0; i < len(words); i += per {
		end := min(i+per, len(words))
		length := float64(end-i) * timing.SecondsPerWord
		if timing.MaxSegmentSeconds > 0 {
			length = math.Min(length, timing.MaxSegmentSeconds)
		}
		cues = append(cues, Cue{
			Index: len(cues) + 1,
			Start: start,
			End:   start + length,
			Text:  strings.Join(words[i:end], " "),
		})
		start += length
	}
	return cues
}

// EstimatedDuration is the end of the last cue.
func EstimatedDuration(cues []Cue) float64 {
	if len(cues) == 0 {
		return 0
	}
	return cues[len(cues)-1].End
}

// FormatSRT renders cues as an SRT document.
func FormatSRT(cues []Cue) string {
	var b strings.Builder
	for _, cue := range cues {
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n", cue.Index, formatTimestamp(cue.Start), formatTimestamp(cue.End), cue.Text)
	}
	return b.String()
}

// ParseSRT reads cues back from an SRT document. Malformed blocks are skipped.
func ParseSRT(content string) []Cue {
	content = strings.ReplaceAll(strings.TrimSpace(content), "\r\n", "\n")
	if content == "" {
		return nil
	}
	var cues []Cue
	for _, block := range strings.Split(content, "\n\n") {
		lines := strings.Split(strings.TrimSpace(block), "\n")
		if len(lines) < 3 {
			continue
		}
		index, err := strconv.Atoi(strings.TrimSpace(lines[0]))
		if err != nil {
			continue
		}
		startText, endText, ok := strings.Cut(lines[1], "-->")
		if !ok {
			continue
		}
		start, errS := parseTimestamp(startText)
		end, errE := parseTimestamp(endText)
		if errS != nil || errE != nil {
			continue
		}
		cues = append(cues, Cue{Index: index, Start: start, End: end, Text: strings.Join(lines[2:], "\n")})
	}
	return cues
}

func formatTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	msTotal := int(seconds*1000 + 0.5)
	hours := msTotal / 3_600_000
	msTotal %= 3_600_000
	minutes := msTotal / 60_000
	msTotal %= 60_000
	secs := msTotal / 1_000
	millis := msTotal % 1_000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", hours, minutes, secs, millis)
}

func parseTimestamp(value string) (float64, error) {
	value = strings.ReplaceAll(strings.TrimSpace(value), ".", ",")
	clock, msText, ok := strings.Cut(value, ",")
	if !ok {
		return 0, fmt.Errorf("invalid timestamp %q", value)
	}
	hms := strings.Split(clock, ":")
	if len(hms) != 3 {
		return 0, fmt.Errorf("invalid timestamp %q", value)
	}
	hours, errH := strconv.Atoi(hms[0])
	minutes, errM := strconv.Atoi(hms[1])
	secs, errS := strconv.Atoi(hms[2])
	millis, errMS := strconv.Atoi(msText)
	if errH != nil || errM != nil || errS != nil || errMS != nil {
		return 0, fmt.Errorf("invalid timestamp %q", value)
	}
	return float64(hours*3600+minutes*60+secs) + float64(millis)/1000, nil
}
