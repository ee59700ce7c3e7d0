package codec

import "fmt"

// RecordType identifies what a record carries. The numeric values are part of
// the wire format.
type RecordType int32

const (
	TypeEvent        RecordType = 0
	TypeBeginRun     RecordType = 1
	TypeEndRun       RecordType = 2
	TypeTerminate    RecordType = 3
	TypeNoRecord     RecordType = 4
	TypeStreamerInfo RecordType = 5
)

func (t RecordType) String() string {
	switch t {
	case TypeEvent:
		return "EVENT"
	case TypeBeginRun:
		return "BEGIN_RUN"
	case TypeEndRun:
		return "END_RUN"
	case TypeTerminate:
		return "TERMINATE"
	case TypeNoRecord:
		return "NORECORD"
	case TypeStreamerInfo:
		return "STREAMERINFO"
	default:
		return fmt.Sprintf("RecordType(%d)", int32(t))
	}
}

// ParseRecordType maps a type name as printed by String back to its value.
func ParseRecordType(s string) (RecordType, error) {
	for t := TypeEvent; t <= TypeStreamerInfo; t++ {
		if t.String() == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown record type %q", s)
}

// Errors
var (
	ErrTruncated        = &CodecError{"record truncated"}
	ErrInvalidSize      = &CodecError{"record size smaller than header"}
	ErrRecordTooLarge   = &CodecError{"record exceeds maximum size"}
	ErrMalformedPayload = &CodecError{"malformed object payload"}
)

// CodecError represents a record format error
type CodecError struct {
	Message string
}

func (e *CodecError) Error() string {
	return e.Message
}
