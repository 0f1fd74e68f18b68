package discovery

import (
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"github.com/apittopti/diagflow/internal/knownids"
	"github.com/apittopti/diagflow/internal/trace"
	"github.com/apittopti/diagflow/internal/uds"
)

// Session folds interpreted messages into per-ECU knowledge. Feed it one
// trace in order via Observe, then call Result once. A session is not safe
// for concurrent use.
type Session struct {
	names  *knownids.Table
	logger *slog.Logger

	ecus       map[string]*ECU
	order      []string
	patterns   []*Pattern
	patternIdx map[string]*Pattern
	protocols  []string
	testers    []string

	messages     int
	unattributed int
}

// NewSession returns an empty session. names may be nil when no identifier
// dictionary is loaded.
func NewSession(names *knownids.Table, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		names:      names,
		logger:     logger,
		ecus:       make(map[string]*ECU),
		patternIdx: make(map[string]*Pattern),
	}
}

// Run folds a whole interpreted trace through a fresh session.
func Run(msgs []uds.Message, names *knownids.Table, logger *slog.Logger) *Result {
	s := NewSession(names, logger)
	for _, m := range msgs {
		s.Observe(m)
	}
	return s.Result()
}

// Observe folds one message into the session. Requests are attributed to the
// target address and responses to the source: both name the ECU the message
// is about.
func (s *Session) Observe(m uds.Message) {
	s.messages++
	s.protocols = appendDistinct(s.protocols, m.Wire.Protocol)
	s.testers = appendDistinct(s.testers, testerAddress(m.Wire))

	addr := subjectAddress(m.Wire)
	if addr == "" {
		s.unattributed++
		return
	}

	e := s.ecu(addr)
	e.Messages++
	if e.FirstSeen == "" {
		e.FirstSeen = m.Wire.Timestamp
	}
	e.LastSeen = m.Wire.Timestamp
	e.Confidence = ECUConfidence(e.Messages)

	stats, ok := e.Services[m.ServiceID]
	if !ok {
		stats = &ServiceStats{ID: m.ServiceID, Name: uds.ServiceLabel(m.ServiceID)}
		e.Services[m.ServiceID] = stats
	}
	stats.Count++
	stats.Confidence = ServiceConfidence(stats.Count)

	switch {
	case m.DataID != nil:
		s.observeDID(e, m)
	case m.DTCReport != nil:
		s.observeDTCs(e, m)
	case m.Routine != nil:
		s.observeRoutine(e, m)
	}
}

// Result finalizes the session. The session must not be observed into after.
func (s *Session) Result() *Result {
	patterns := make([]Pattern, len(s.patterns))
	for i, p := range s.patterns {
		patterns[i] = *p
	}
	return &Result{
		ECUs:         s.ecus,
		Addresses:    append([]string(nil), s.order...),
		Patterns:     patterns,
		Protocols:    s.protocols,
		Testers:      s.testers,
		Messages:     s.messages,
		Unattributed: s.unattributed,
	}
}

// subjectAddress names the ECU a message is about: the target for requests,
// the source for responses.
func subjectAddress(w trace.WireMessage) string {
	if w.Direction == trace.DirectionRequest {
		return w.Target
	}
	return w.Source
}

// testerAddress names the diagnostic tester side of a message.
func testerAddress(w trace.WireMessage) string {
	if w.Direction == trace.DirectionRequest {
		return w.Source
	}
	return w.Target
}

func appendDistinct(list []string, v string) []string {
	if v == "" || slices.Contains(list, v) {
		return list
	}
	return append(list, v)
}

func (s *Session) ecu(addr string) *ECU {
	e, ok := s.ecus[addr]
	if !ok {
		e = &ECU{
			Address:  addr,
			Services: make(map[byte]*ServiceStats),
			DIDs:     make(map[uint16]*DIDInfo),
			DTCs:     make(map[string]*DTCInfo),
			Routines: make(map[uint16]*RoutineInfo),
		}
		s.ecus[addr] = e
		s.order = append(s.order, addr)
	}
	return e
}

func (s *Session) observeDID(e *ECU, m uds.Message) {
	info, ok := e.DIDs[m.DataID.DID]
	if !ok {
		info = &DIDInfo{ID: m.DataID.DID}
		if s.names != nil {
			if name, known := s.names.DIDName(m.DataID.DID); known {
				info.Name = name
			}
		}
		e.DIDs[m.DataID.DID] = info
	}
	info.Occurrences++
	info.Confidence = OccurrenceConfidence(info.Occurrences)

	value := m.DataID.Value
	if len(value) == 0 {
		return
	}
	if info.DataLength == 0 {
		info.DataLength = len(value)
		info.DataType = inferDataType(value)
	}
	sample := fmt.Sprintf("%X", value)
	if len(info.SampleValues) < maxSampleValues && !slices.Contains(info.SampleValues, sample) {
		info.SampleValues = append(info.SampleValues, sample)
	}
}

func (s *Session) observeDTCs(e *ECU, m uds.Message) {
	report := m.DTCReport

	if report.Subfunction == uds.DTCReportByStatusMask || report.Subfunction == uds.DTCReportSupported {
		switch {
		case report.Layout != nil:
			s.recordLayoutPattern(e.Address, m)
		case report.StatusMask != nil && len(m.Wire.Payload) > 3:
			s.logger.Debug("no plausible dtc record layout",
				"ecu", e.Address,
				"subfunction", fmt.Sprintf("0x%02X", report.Subfunction),
				"line", m.Wire.Line)
			s.recordLayoutPattern(e.Address, m)
		}
	}

	for _, rec := range report.Records {
		info, ok := e.DTCs[rec.Code]
		if !ok {
			info = &DTCInfo{Code: rec.Code}
			e.DTCs[rec.Code] = info
		}
		info.StatusMask = rec.Status
		info.Occurrences++
		info.Confidence = OccurrenceConfidence(info.Occurrences)
		if len(info.Contexts) < maxDTCContexts {
			info.Contexts = append(info.Contexts, m.Wire.Timestamp)
		}
	}
}

// recordLayoutPattern audits one layout choice. A zero record length marks a
// miss: record bytes were present but no candidate length fit them.
func (s *Session) recordLayoutPattern(addr string, m uds.Message) {
	layout := m.DTCReport.Layout
	length := 0
	if layout != nil {
		length = layout.RecordLength
	}
	key := fmt.Sprintf("dtc_record_layout|%s|%02X|%d", addr, m.DTCReport.Subfunction, length)

	p, ok := s.patternIdx[key]
	if !ok {
		meta := map[string]string{
			"subfunction":  fmt.Sprintf("0x%02X", m.DTCReport.Subfunction),
			"recordLength": strconv.Itoa(length),
		}
		if layout != nil {
			meta["ambiguous"] = strconv.FormatBool(layout.Ambiguous)
			meta["candidates"] = intsLabel(layout.Candidates)
		}
		p = &Pattern{
			Type:       "dtc_record_layout",
			ECUAddress: addr,
			Metadata:   meta,
		}
		s.patternIdx[key] = p
		s.patterns = append(s.patterns, p)
	}
	if layout != nil && layout.Ambiguous {
		p.Metadata["ambiguous"] = "true"
	}
	p.Occurrences++
	p.Confidence = OccurrenceConfidence(p.Occurrences)
	if len(p.Examples) < maxPatternExamples {
		p.Examples = append(p.Examples, fmt.Sprintf("%X", m.Wire.Payload))
	}
}

func (s *Session) observeRoutine(e *ECU, m uds.Message) {
	info, ok := e.Routines[m.Routine.ID]
	if !ok {
		info = &RoutineInfo{ID: m.Routine.ID, Actions: make(map[byte]bool)}
		if s.names != nil {
			if name, known := s.names.RoutineName(m.Routine.ID); known {
				info.Name = name
			}
		}
		e.Routines[m.Routine.ID] = info
	}
	info.Actions[m.Routine.Control] = true
	info.Occurrences++
	info.Confidence = OccurrenceConfidence(info.Occurrences)
}

// inferDataType classifies a response value: all bytes printable is "ascii",
// all nibbles 0..9 is "bcd", anything else "binary".
func inferDataType(value []byte) string {
	printable, bcd := true, true
	for _, b := range value {
		if b < 0x20 || b > 0x7E {
			printable = false
		}
		if b>>4 > 9 || b&0x0F > 9 {
			bcd = false
		}
	}
	switch {
	case printable:
		return "ascii"
	case bcd:
		return "bcd"
	default:
		return "binary"
	}
}

func intsLabel(ns []int) string {
	parts := make([]string, len(ns))
	for i, n := range ns {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ",")
}
