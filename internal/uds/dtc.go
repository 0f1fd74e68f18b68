package uds

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// ReadDTCInformation subfunctions seen in captures.
const (
	DTCReportByStatusMask   byte = 0x02
	DTCReportSnapshotIDs    byte = 0x03
	DTCReportSnapshotRecord byte = 0x04
	DTCReportExtendedData   byte = 0x06
	DTCReportSupported      byte = 0x0A
)

// Candidate per-record lengths for replies that do not announce a record
// size, tried in this order. The first length that divides the remaining
// bytes into a plausible count wins; when several divide, the choice is
// deterministic but flagged ambiguous.
var dtcCandidateLengths = []int{2, 3, 4}

const (
	minPlausibleRecords = 1
	maxPlausibleRecords = 20
)

// ParseDTCReport decodes a ReadDTCInformation response payload (service byte
// included). Subfunctions 0x02/0x0A carry a status-availability mask and then
// records of an inferred length; 0x03 carries fixed 4-byte records; 0x04/0x06
// annotate an already-known DTC and are not record sources. Records whose
// code bytes are all 0x00 or all 0xFF are "no DTC" sentinels and dropped.
func ParseDTCReport(payload []byte) *DTCReportInfo {
	if len(payload) < 2 || payload[0] != ResponseReadDTCInformation {
		return nil
	}

	info := &DTCReportInfo{Subfunction: payload[1]}

	switch info.Subfunction {
	case DTCReportByStatusMask, DTCReportSupported:
		if len(payload) < 3 {
			return info
		}
		mask := payload[2]
		info.StatusMask = &mask
		rest := payload[3:]
		if len(rest) == 0 {
			return info
		}
		choice := chooseRecordLength(len(rest))
		if choice == nil {
			return info
		}
		info.Layout = choice
		info.Records = splitRecords(rest, choice.RecordLength)

	case DTCReportSnapshotIDs:
		rest := payload[2:]
		if len(rest) < 4 {
			return info
		}
		info.Layout = &LayoutChoice{
			RecordLength: 4,
			RecordCount:  len(rest) / 4,
			Candidates:   []int{4},
		}
		info.Records = splitRecords(rest, 4)

	case DTCReportSnapshotRecord, DTCReportExtendedData:
		// Annotations on a known DTC, not new records.
	}

	return info
}

// chooseRecordLength picks the record length for n remaining bytes, or nil
// when no candidate yields a plausible record count.
func chooseRecordLength(n int) *LayoutChoice {
	var fits []int
	for _, c := range dtcCandidateLengths {
		if n%c != 0 {
			continue
		}
		count := n / c
		if count >= minPlausibleRecords && count <= maxPlausibleRecords {
			fits = append(fits, c)
		}
	}
	if len(fits) == 0 {
		return nil
	}
	return &LayoutChoice{
		RecordLength: fits[0],
		RecordCount:  n / fits[0],
		Ambiguous:    len(fits) > 1,
		Candidates:   fits,
	}
}

// splitRecords cuts data into size-byte records. The last byte of each record
// is the status byte; the rest is the code. Sentinel codes are dropped.
// Trailing bytes that do not fill a whole record are ignored.
func splitRecords(data []byte, size int) []DTCRecord {
	var recs []DTCRecord
	for i := 0; i+size <= len(data); i += size {
		chunk := data[i : i+size]
		code := chunk[:size-1]
		if allBytes(code, 0x00) || allBytes(code, 0xFF) {
			continue
		}
		recs = append(recs, DTCRecord{
			Code:      FormatDTC(code),
			CodeBytes: append([]byte(nil), code...),
			Status:    chunk[size-1],
		})
	}
	return recs
}

func allBytes(b []byte, v byte) bool {
	for _, c := range b {
		if c != v {
			return false
		}
	}
	return len(b) > 0
}

var dtcSystems = [4]string{"P", "C", "B", "U"}

// FormatDTC renders code bytes in standard text form: two bytes as the
// five-character SAE J2012 code ("P0300"), three bytes with the FMI byte
// suffixed ("P05FF-00"), anything else as plain hex.
func FormatDTC(code []byte) string {
	switch len(code) {
	case 2:
		return formatDTCBase(code[0], code[1])
	case 3:
		return fmt.Sprintf("%s-%02X", formatDTCBase(code[0], code[1]), code[2])
	default:
		return strings.ToUpper(hex.EncodeToString(code))
	}
}

func formatDTCBase(a, b byte) string {
	return fmt.Sprintf("%s%d%01X%02X", dtcSystems[(a>>6)&0x03], (a>>4)&0x03, a&0x0F, b)
}

// ParseDTCText converts the text form back to code bytes: "P0300" to two
// bytes, "P05FF-00" to three. The inverse of FormatDTC for those shapes.
func ParseDTCText(s string) ([]byte, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	base, fmi, hasFMI := strings.Cut(s, "-")
	if len(base) != 5 {
		return nil, fmt.Errorf("dtc %q: want letter plus four hex digits", s)
	}

	sys := -1
	for i, l := range dtcSystems {
		if l == base[:1] {
			sys = i
		}
	}
	if sys < 0 {
		return nil, fmt.Errorf("dtc %q: unknown system letter %q", s, base[:1])
	}

	d2 := int(base[1] - '0')
	if d2 < 0 || d2 > 3 {
		return nil, fmt.Errorf("dtc %q: second character must be 0-3", s)
	}
	rest, err := strconv.ParseUint(base[2:], 16, 16)
	if err != nil {
		return nil, fmt.Errorf("dtc %q: %w", s, err)
	}

	code := []byte{
		byte(sys<<6) | byte(d2<<4) | byte(rest>>8),
		byte(rest & 0xFF),
	}
	if !hasFMI {
		return code, nil
	}

	f, err := strconv.ParseUint(fmi, 16, 8)
	if err != nil {
		return nil, fmt.Errorf("dtc %q fmi: %w", s, err)
	}
	return append(code, byte(f)), nil
}

// fmiMeanings maps the failure mode indicator byte (third DTC byte, rendered
// as two hex digits) to its conventional description.
var fmiMeanings = map[string]string{
	"00": "General failure / no sub-type",
	"11": "Circuit short to ground",
	"12": "Circuit short to battery/positive",
	"13": "Circuit open",
	"14": "Circuit short to ground or open",
	"15": "Circuit short to battery or open",
	"16": "Circuit voltage below threshold",
	"17": "Circuit voltage above threshold",
	"18": "Circuit current below threshold",
	"19": "Circuit current above threshold",
	"21": "Signal stuck low",
	"22": "Signal stuck high",
	"23": "Signal intermittent/erratic",
	"28": "Signal implausible",
	"29": "Signal invalid",
	"62": "Actuator stuck",
	"63": "Actuator stuck open",
	"64": "Actuator stuck closed",
	"71": "Mechanical failure",
	"72": "Calibration/parameter not learned",
	"73": "Performance/range issue",
	"7A": "Module not configured / software incompatible",
	"7F": "Security/component protection fault",
}

// FMIMeaning returns the description for a failure mode indicator byte, or
// the empty string when the value has no conventional meaning.
func FMIMeaning(fmi byte) string {
	return fmiMeanings[fmt.Sprintf("%02X", fmi)]
}

// FMIFromCode returns the failure mode description for a formatted DTC code,
// or the empty string when the code has no FMI suffix.
func FMIFromCode(code string) string {
	_, fmi, ok := strings.Cut(code, "-")
	if !ok {
		return ""
	}
	v, err := strconv.ParseUint(fmi, 16, 8)
	if err != nil {
		return ""
	}
	return FMIMeaning(byte(v))
}
