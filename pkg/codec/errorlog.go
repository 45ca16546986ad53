package codec

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// ErrorLogHeader opens an error log transfer.
type ErrorLogHeader struct {
	Session    int
	EntryCount int
	FirstError uint32
	LastError  uint32
}

// ErrorLogEntry is one logged firmware error.
type ErrorLogEntry struct {
	Code    uint32
	TimeMs  uint32
	Session uint16
	More    bool
}

// ErrorLog is the belt internal error log. Only development firmwares
// answer the request.
type ErrorLog struct {
	Header  ErrorLogHeader
	Entries []ErrorLogEntry
}

// Complete reports whether every entry announced by the header arrived.
func (l *ErrorLog) Complete() bool {
	return len(l.Entries) >= l.Header.EntryCount
}

func (l *ErrorLog) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Current session: %d\n", l.Header.Session)
	fmt.Fprintf(&b, "Entry count: %d\n", l.Header.EntryCount)
	fmt.Fprintf(&b, "First error in session: 0x%08X\n", l.Header.FirstError)
	fmt.Fprintf(&b, "Last error in session: 0x%08X\n", l.Header.LastError)
	b.WriteString("Code\tTime\tSession\tMore\n")
	for _, e := range l.Entries {
		fmt.Fprintf(&b, "0x%08X\t%d\t%d\t%t\n", e.Code, e.TimeMs, e.Session, e.More)
	}
	return b.String()
}

// DecodeErrorLogHeader decodes
// [0x0B, sessionL, sessionM, entryCount, firstErr(4 LE), lastErr(4 LE)].
func DecodeErrorLogHeader(data []byte) (ErrorLogHeader, bool) {
	if len(data) < minErrorLogLen || data[0] != ErrorLogHeaderTag {
		return ErrorLogHeader{}, false
	}
	return ErrorLogHeader{
		Session:    int(binary.LittleEndian.Uint16(data[1:3])),
		EntryCount: int(data[3]),
		FirstError: binary.LittleEndian.Uint32(data[4:8]),
		LastError:  binary.LittleEndian.Uint32(data[8:12]),
	}, true
}

// DecodeErrorLogEntry decodes [0x0C, code(4 LE), time(4 LE), session(2 LE), more].
func DecodeErrorLogEntry(data []byte) (ErrorLogEntry, bool) {
	if len(data) < minErrorLogLen || data[0] != ErrorLogEntryTag {
		return ErrorLogEntry{}, false
	}
	return ErrorLogEntry{
		Code:    binary.LittleEndian.Uint32(data[1:5]),
		TimeMs:  binary.LittleEndian.Uint32(data[5:9]),
		Session: binary.LittleEndian.Uint16(data[9:11]),
		More:    data[11] != 0,
	}, true
}

// IsErrorLogPacket reports whether a debug output packet belongs to an
// error log transfer.
func IsErrorLogPacket(data []byte) bool {
	return len(data) > 0 && (data[0] == ErrorLogHeaderTag || data[0] == ErrorLogEntryTag)
}
