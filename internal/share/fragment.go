package share

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/AtharvRG/fractal/pkg/protocol"
)

// Kind is what a link fragment points at.
type Kind int

const (
	KindPayload   Kind = iota // #h: and #hN: carry the payload itself
	KindShortLink             // #sb: id in the short-link store
	KindEphemeral             // #s: id in the ephemeral share store
	KindGist                  // #g: GitHub gist id
	KindPaste                 // #o: id in the server paste store
)

func (k Kind) String() string {
	switch k {
	case KindPayload:
		return "payload"
	case KindShortLink:
		return "short-link"
	case KindEphemeral:
		return "ephemeral"
	case KindGist:
		return "gist"
	case KindPaste:
		return "paste"
	default:
		return "unknown"
	}
}

// Prefix returns the fragment prefix for k, including '#' and ':'.
func (k Kind) Prefix() string {
	switch k {
	case KindShortLink:
		return "#sb:"
	case KindEphemeral:
		return "#s:"
	case KindGist:
		return "#g:"
	case KindPaste:
		return "#o:"
	default:
		return "#h:"
	}
}

// Fragment is a parsed link.
type Fragment struct {
	Kind  Kind
	Value string // payload for KindPayload, otherwise an id
	Parts int    // number of parts a multi-part payload was split into
}

// String renders f in canonical single-part form.
func (f Fragment) String() string {
	return f.Kind.Prefix() + f.Value
}

var (
	multiPart = regexp.MustCompile(`^(?i)h(\d+):`)
	editorDir = "/editor/"
)

// ParseLink accepts a full URL, a bare fragment with or without '#', or the
// path form /editor/<prefix>:... and returns what it points at. Prefixes
// are matched case-insensitively.
func ParseLink(link string) (Fragment, error) {
	s := strings.TrimSpace(link)
	switch {
	case strings.Contains(s, "#"):
		s = s[strings.Index(s, "#")+1:]
	case strings.Contains(s, editorDir):
		s = s[strings.LastIndex(s, editorDir)+len(editorDir):]
	}
	if s == "" {
		return Fragment{}, fmt.Errorf("%w: no fragment", protocol.ErrMalformedLink)
	}

	if m := multiPart.FindStringSubmatch(s); m != nil {
		return parseMultiPart(m[1], s[len(m[0]):])
	}

	lower := strings.ToLower(s)
	for _, k := range []Kind{KindShortLink, KindEphemeral, KindGist, KindPaste, KindPayload} {
		p := k.Prefix()[1:]
		if !strings.HasPrefix(lower, p) {
			continue
		}
		value := unescape(s[len(p):])
		if value == "" {
			return Fragment{}, fmt.Errorf("%w: empty %s link", protocol.ErrMalformedLink, k)
		}
		if k != KindPayload {
			value = strings.TrimSpace(value)
		}
		return Fragment{Kind: k, Value: value, Parts: 1}, nil
	}
	return Fragment{}, fmt.Errorf("%w: unknown link prefix", protocol.ErrMalformedLink)
}

func parseMultiPart(count, rest string) (Fragment, error) {
	n, err := strconv.Atoi(count)
	if err != nil || n < 1 {
		return Fragment{}, fmt.Errorf("%w: bad part count %q", protocol.ErrMalformedLink, count)
	}
	parts := strings.Split(rest, ".")
	if len(parts) != n {
		return Fragment{}, fmt.Errorf("%w: expected %d parts, got %d", protocol.ErrMalformedLink, n, len(parts))
	}
	var b strings.Builder
	for i, p := range parts {
		dec, err := url.PathUnescape(p)
		if err != nil {
			return Fragment{}, fmt.Errorf("%w: part %d: %v", protocol.ErrMalformedLink, i+1, err)
		}
		b.WriteString(dec)
	}
	if b.Len() == 0 {
		return Fragment{}, fmt.Errorf("%w: empty multi-part link", protocol.ErrMalformedLink)
	}
	return Fragment{Kind: KindPayload, Value: b.String(), Parts: n}, nil
}

// unescape percent-decodes s once. Malformed escapes are left for the
// payload repair step.
func unescape(s string) string {
	if dec, err := url.PathUnescape(s); err == nil {
		return dec
	}
	return s
}
