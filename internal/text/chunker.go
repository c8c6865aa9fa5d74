package text

import (
	"errors"
	"strings"
	"unicode/utf8"
)

// ErrInvalidWindow is returned when the window size or overlap cannot make progress.
var ErrInvalidWindow = errors.New("invalid chunk window")

// Segment is a run of text with its 1-based page number.
type Segment struct {
	Page int
	Text string
}

// Piece is one chunk of a segment along with where it came from.
type Piece struct {
	Text string
	// Page is the 1-based page the piece was cut from.
	Page int
	// Offset is the rune offset of the piece within its page.
	Offset int
	// Index is the ordinal of the piece within the whole document.
	Index int
}

func validWindow(max, overlap int) error {
	if max <= 0 || overlap < 0 || overlap >= max {
		return ErrInvalidWindow
	}
	return nil
}

// Split cuts text into windows of max runes, each starting max-overlap runes
// after the previous one. The final window may be shorter.
func Split(text string, max, overlap int) ([]string, error) {
	if err := validWindow(max, overlap); err != nil {
		return nil, err
	}
	var out []string
	for _, w := range windows(text, max, overlap) {
		out = append(out, w.text)
	}
	return out, nil
}

// SplitSegments splits every segment independently and numbers the resulting
// pieces in document order.
func SplitSegments(segments []Segment, max, overlap int) ([]Piece, error) {
	if err := validWindow(max, overlap); err != nil {
		return nil, err
	}
	var pieces []Piece
	for _, seg := range segments {
		for _, w := range windows(seg.Text, max, overlap) {
			pieces = append(pieces, Piece{
				Text:   w.text,
				Page:   seg.Page,
				Offset: w.offset,
				Index:  len(pieces),
			})
		}
	}
	return pieces, nil
}

type window struct {
	text   string
	offset int
}

func windows(text string, max, overlap int) []window {
	if text == "" {
		return nil
	}
	runes := []rune(text)
	n := len(runes)
	step := max - overlap

	var out []window
	for start := 0; ; start += step {
		end := start + max
		if end > n {
			end = n
		}
		out = append(out, window{text: string(runes[start:end]), offset: start})
		if end == n {
			break
		}
	}
	return out
}

// IsBlank reports whether content has nothing worth embedding.
func IsBlank(content string) bool {
	return strings.TrimSpace(content) == ""
}

// Truncate trims surrounding whitespace and keeps at most max runes.
func Truncate(content string, max int) string {
	content = strings.TrimSpace(content)
	if max <= 0 || utf8.RuneCountInString(content) <= max {
		return content
	}
	return string([]rune(content)[:max])
}
