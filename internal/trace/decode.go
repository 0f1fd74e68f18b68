package trace

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
)

// The capture format emits both raw and HTML-escaped separators depending on
// which tool exported the session, so escapes are decoded before matching.
var htmlEscapes = strings.NewReplacer("&gt;", ">", "&lt;", "<", "&amp;", "&")

// recordRe matches the fixed record grammar:
//
//	<timestamp> | [Local]->[Remote] ... mod[...] [PROTO] cmd[...] args[...] data[...]
var recordRe = regexp.MustCompile(`^\s*(\S+)\s*\|\s*\[([^\]]*)\]->\[([^\]]*)\].*?\bmod\[[^\]]*\]\s+\[([^\]]*)\]\s+cmd\[[^\]]*\]\s+args\[([^\]]*)\]\s+data\[([^\]]*)\]`)

// extendedIDRe matches a 29-bit extended addressing identifier 18DA<TT><SS>
// embedded anywhere in the args field.
var extendedIDRe = regexp.MustCompile(`(?i)18DA([0-9A-F]{2})([0-9A-F]{2})`)

// DecodeLine decodes a single trace line. Lines that do not match the record
// grammar (blank lines, headers, unrelated log noise) return nil; decoding
// never fails.
func DecodeLine(line string, lineNo int) *WireMessage {
	if !strings.Contains(line, "data[") {
		return nil
	}
	m := recordRe.FindStringSubmatch(htmlEscapes.Replace(line))
	if m == nil {
		return nil
	}

	payload, ok := parseHexBytes(m[6])
	if !ok {
		return nil
	}

	dir := DirectionResponse
	if strings.EqualFold(m[2], "Local") {
		dir = DirectionRequest
	}

	msg := &WireMessage{
		Timestamp: m[1],
		Direction: dir,
		Protocol:  m[4],
		Payload:   unwrapSingleFrame(payload),
		Line:      lineNo,
	}

	// 18DA<TT><SS>: TT is the wire target field, SS the wire source field,
	// written from the tester's point of view. A response logged with the
	// same identifier flows the other way, so the halves swap.
	if id := extendedIDRe.FindStringSubmatch(m[5]); id != nil {
		t, s := strings.ToUpper(id[1]), strings.ToUpper(id[2])
		if dir == DirectionRequest {
			msg.Source, msg.Target = s, t
		} else {
			msg.Source, msg.Target = t, s
		}
	}

	return msg
}

// DecodeAll decodes every line from r in order. Malformed lines are counted
// and skipped; the only error returned is a read failure.
func DecodeAll(r io.Reader) ([]WireMessage, Stats, error) {
	var (
		msgs  []WireMessage
		stats Stats
	)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024*1024), 10*1024*1024)
	for scanner.Scan() {
		stats.Lines++
		msg := DecodeLine(scanner.Text(), stats.Lines)
		if msg == nil {
			stats.Skipped++
			continue
		}
		stats.Decoded++
		msgs = append(msgs, *msg)
	}
	if err := scanner.Err(); err != nil {
		return nil, stats, fmt.Errorf("scan trace: %w", err)
	}

	return msgs, stats, nil
}

// DecodeString decodes a full trace held in memory.
func DecodeString(text string) ([]WireMessage, Stats) {
	msgs, stats, _ := DecodeAll(strings.NewReader(text))
	return msgs, stats
}

// EncodeLine renders a message back into the canonical record form.
func EncodeLine(msg WireMessage) string {
	left, right := "Remote", "Local"
	if msg.Direction == DirectionRequest {
		left, right = "Local", "Remote"
	}

	var args string
	if msg.Source != "" && msg.Target != "" {
		if msg.Direction == DirectionRequest {
			args = "18DA" + msg.Target + msg.Source
		} else {
			args = "18DA" + msg.Source + msg.Target
		}
	}

	data := make([]string, len(msg.Payload))
	for i, b := range msg.Payload {
		data[i] = fmt.Sprintf("%02X", b)
	}

	return fmt.Sprintf("%s | [%s]->[%s] DATA => mod[diag] [%s] cmd[data] args[%s] data[%s]",
		msg.Timestamp, left, right, msg.Protocol, args, strings.Join(data, ","))
}

// unwrapSingleFrame strips a single-frame ISO-TP header. A leading byte in
// 0x01..0x07 is a length prefix; the payload is the next length bytes.
// Multi-frame reassembly is not handled, matching the capture format.
func unwrapSingleFrame(payload []byte) []byte {
	if len(payload) < 2 {
		return payload
	}
	n := int(payload[0])
	if n < 0x01 || n > 0x07 {
		return payload
	}
	rest := payload[1:]
	if n > len(rest) {
		n = len(rest)
	}
	return rest[:n]
}

// parseHexBytes parses a data[...] field: hex byte tokens separated by
// commas or spaces, with an optional 0x prefix per token.
func parseHexBytes(s string) ([]byte, bool) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})

	out := make([]byte, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimPrefix(strings.TrimPrefix(f, "0x"), "0X")
		if len(f) == 0 || len(f) > 2 {
			return nil, false
		}
		v, err := strconv.ParseUint(f, 16, 8)
		if err != nil {
			return nil, false
		}
		out = append(out, byte(v))
	}
	return out, true
}
