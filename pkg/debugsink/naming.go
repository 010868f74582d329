package debugsink

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// MaxNameBytes is the filename length limit of common filesystems.
	MaxNameBytes = 255

	stampLayout = "20060102_150405"
	seqWidth    = 6

	// stampSlots bounds the names numbered within one second; the
	// widest timestamp suffix is _YYYYMMDD_HHMMSS_999.
	stampSlots     = 1000
	maxStampSuffix = len("_20060102_150405_999")
)

var (
	stampSuffix = regexp.MustCompile(`_\d{8}_\d{6}(?:_\d{3})?$`)
	seqSuffix   = regexp.MustCompile(`_\d{6,}$`)
)

// FileState tracks the active file of one mirror. It is only mutated by
// rotation.
type FileState struct {
	// BaseName is the name every file shares before its suffix.
	BaseName string
	// CurrentPath is the file most recently opened, empty before the first.
	CurrentPath string
	// Sequence is the last sequence number used in sequence mode.
	Sequence int
	// SequenceMode is set once timestamp names no longer fit.
	SequenceMode bool
	// LastStamp is the last timestamp used in a name.
	LastStamp time.Time
	// StampSeq numbers names sharing LastStamp, zero for the first.
	StampSeq int
}

// newFileState returns the initial state for base. Bases too long for a
// timestamped name start in sequence mode, already shortened to fit, so
// the name a restart scans for matches the one rotation writes.
func newFileState(base, ext string) FileState {
	if fitsStamp(base, ext) {
		return FileState{BaseName: base}
	}
	return FileState{BaseName: fitBase(base, 1+seqWidth, ext), SequenceMode: true}
}

func fitsStamp(base, ext string) bool {
	return len(base)+maxStampSuffix+len(ext) <= MaxNameBytes
}

// fitBase shortens base so base, a suffix of suffixLen bytes and ext fit
// in MaxNameBytes.
func fitBase(base string, suffixLen int, ext string) string {
	if over := len(base) + suffixLen + len(ext) - MaxNameBytes; over > 0 {
		return truncateBytes(base, len(base)-over)
	}
	return base
}

// StripSuffix removes the ordering suffix from a file stem, recovering the
// base name. Stacked timestamp suffixes are all removed; in sequence mode a
// single sequence suffix is.
func StripSuffix(stem string, sequenceMode bool) string {
	if sequenceMode {
		if loc := seqSuffix.FindStringIndex(stem); loc != nil && loc[0] > 0 {
			return stem[:loc[0]]
		}
		return stem
	}
	for {
		loc := stampSuffix.FindStringIndex(stem)
		if loc == nil || loc[0] == 0 {
			return stem
		}
		stem = stem[:loc[0]]
	}
}

// next advances the state to a fresh file name with exactly one suffix and
// returns it. Names never repeat or go backwards. A name generated in the
// second of the previous one, or after the clock stepped back, keeps the
// previous stamp and takes the next number within it, so names do not run
// ahead of the clock until stampSlots names share one second.
func (st *FileState) next(ext string, now time.Time) string {
	base := st.BaseName
	if st.CurrentPath != "" {
		base = StripSuffix(strings.TrimSuffix(filepath.Base(st.CurrentPath), ext), st.SequenceMode)
	}

	if !st.SequenceMode {
		if fitsStamp(base, ext) {
			stamp, seq := now.UTC().Truncate(time.Second), 0
			if !stamp.After(st.LastStamp) {
				stamp, seq = st.LastStamp, st.StampSeq+1
				if seq >= stampSlots {
					stamp, seq = stamp.Add(time.Second), 0
				}
			}
			st.LastStamp, st.StampSeq = stamp, seq
			return base + stampName(stamp, seq) + ext
		}
		st.SequenceMode = true
	}

	st.Sequence++
	suffix := fmt.Sprintf("_%0*d", seqWidth, st.Sequence)
	if fitted := fitBase(base, len(suffix), ext); fitted != base {
		base = fitted
		st.BaseName = base
	}
	return base + suffix + ext
}

func stampName(stamp time.Time, seq int) string {
	if seq == 0 {
		return "_" + stamp.Format(stampLayout)
	}
	return fmt.Sprintf("_%s_%03d", stamp.Format(stampLayout), seq)
}

// orderKey parses the ordering key from a file name produced for base and
// ext. ok is false for unrelated files.
func orderKey(name, base, ext string) (key int64, ok bool) {
	key, _, ok = parseOrder(name, base, ext)
	return key, ok
}

// parseOrder is orderKey that also reports whether the suffix is a
// timestamp. Timestamp keys are unix seconds * stampSlots + number.
func parseOrder(name, base, ext string) (key int64, stamped, ok bool) {
	if !strings.HasPrefix(name, base+"_") || !strings.HasSuffix(name, ext) || len(name) < len(base)+1+len(ext) {
		return 0, false, false
	}
	mid := name[len(base)+1 : len(name)-len(ext)]
	if len(mid) >= len(stampLayout) {
		if t, err := time.Parse(stampLayout, mid[:len(stampLayout)]); err == nil {
			switch rest := mid[len(stampLayout):]; {
			case rest == "":
				return t.Unix() * stampSlots, true, true
			case len(rest) == 4 && rest[0] == '_' && isDigits(rest[1:]):
				n, _ := strconv.Atoi(rest[1:])
				return t.Unix()*stampSlots + int64(n), true, true
			}
		}
	}
	if len(mid) >= seqWidth && isDigits(mid) {
		n, err := strconv.ParseInt(mid, 10, 64)
		if err == nil {
			return n, false, true
		}
	}
	return 0, false, false
}

func isDigits(s string) bool {
	return s != "" && strings.Trim(s, "0123456789") == ""
}

// truncateBytes cuts s to at most n bytes without splitting a rune.
func truncateBytes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	s = s[:n]
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}
