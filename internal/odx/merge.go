package odx

import "slices"

// Merge folds next into base, entity by entity. Entities are matched by
// natural key (ECU address, service id, DTC code, DID id, routine id):
// entities already in base keep their first-seen values, entities only in
// next are appended. Neither input is modified.
func Merge(base, next *DocumentSet) *DocumentSet {
	if base == nil {
		return cloneSet(next)
	}
	if next == nil {
		return cloneSet(base)
	}

	out := cloneSet(base)

	for _, addr := range next.Vehicle.ECUAddresses {
		out.Vehicle.ECUAddresses = appendMissing(out.Vehicle.ECUAddresses, addr)
	}
	for _, p := range next.Protocol.Protocols {
		out.Protocol.Protocols = appendMissing(out.Protocol.Protocols, p)
	}
	for _, tester := range next.CommParams.TesterAddresses {
		out.CommParams.TesterAddresses = appendMissing(out.CommParams.TesterAddresses, tester)
	}
	if out.CommParams.AddressingMode == "" {
		out.CommParams.AddressingMode = next.CommParams.AddressingMode
	}

	byAddr := make(map[string]*ECUDocument, len(out.ECUs))
	for _, doc := range out.ECUs {
		byAddr[doc.Address] = doc
	}
	for _, doc := range next.ECUs {
		existing, ok := byAddr[doc.Address]
		if !ok {
			clone := cloneECU(doc)
			out.ECUs = append(out.ECUs, clone)
			byAddr[doc.Address] = clone
			continue
		}
		mergeECU(existing, doc)
	}

	return out
}

func mergeECU(dst, src *ECUDocument) {
	for _, s := range src.Services {
		id := s.ID
		if !slices.ContainsFunc(dst.Services, func(e ServiceEntry) bool { return e.ID == id }) {
			dst.Services = append(dst.Services, s)
		}
	}
	for _, d := range src.DTCs {
		code := d.Code
		if !slices.ContainsFunc(dst.DTCs, func(e DTCEntry) bool { return e.Code == code }) {
			dst.DTCs = append(dst.DTCs, d)
		}
	}
	for _, d := range src.DIDs {
		id := d.ID
		if !slices.ContainsFunc(dst.DIDs, func(e DIDEntry) bool { return e.ID == id }) {
			dst.DIDs = append(dst.DIDs, d)
		}
	}
	for _, r := range src.Routines {
		id := r.ID
		if !slices.ContainsFunc(dst.Routines, func(e RoutineEntry) bool { return e.ID == id }) {
			dst.Routines = append(dst.Routines, r)
		}
	}
}

func cloneSet(set *DocumentSet) *DocumentSet {
	if set == nil {
		return nil
	}
	out := &DocumentSet{
		Vehicle:    set.Vehicle,
		Protocol:   set.Protocol,
		CommParams: set.CommParams,
	}
	out.Vehicle.ECUAddresses = append([]string(nil), set.Vehicle.ECUAddresses...)
	out.Protocol.Protocols = append([]string(nil), set.Protocol.Protocols...)
	out.CommParams.TesterAddresses = append([]string(nil), set.CommParams.TesterAddresses...)
	out.ECUs = make([]*ECUDocument, len(set.ECUs))
	for i, doc := range set.ECUs {
		out.ECUs[i] = cloneECU(doc)
	}
	return out
}

func cloneECU(doc *ECUDocument) *ECUDocument {
	return &ECUDocument{
		ShortName: doc.ShortName,
		Address:   doc.Address,
		Services:  append([]ServiceEntry(nil), doc.Services...),
		DTCs:      append([]DTCEntry(nil), doc.DTCs...),
		DIDs:      append([]DIDEntry(nil), doc.DIDs...),
		Routines:  append([]RoutineEntry(nil), doc.Routines...),
	}
}

func appendMissing(list []string, v string) []string {
	if v == "" || slices.Contains(list, v) {
		return list
	}
	return append(list, v)
}
