package dialogue

// Disease-coverage tracking. A disease counts as covered only when the
// conversation moves on from it, not when it is first mentioned.

// AdvanceFocus applies the oracle's disease_to_ask_on_the_next_question
// proposal: when the focus changes, the previous focus joins the
// already-asked set and the queue of open candidates is recomputed.
func (s *State) AdvanceFocus(next string) {
	if next == s.DiseaseToAsk {
		return
	}
	if s.DiseaseToAsk != "" && !containsString(s.DiseasesAlreadyAsked, s.DiseaseToAsk) {
		s.DiseasesAlreadyAsked = append(s.DiseasesAlreadyAsked, s.DiseaseToAsk)
	}
	s.DiseaseToAsk = next
	s.DiseasesToAsk = s.Uncovered()
}

// Uncovered lists every disease name in the current reasoning snapshot that
// has not been asked about yet. Diagnosis may not start while this is
// non-empty.
func (s State) Uncovered() []string {
	if s.Reasoning == nil {
		return nil
	}
	asked := make(map[string]bool, len(s.DiseasesAlreadyAsked))
	for _, name := range s.DiseasesAlreadyAsked {
		asked[name] = true
	}
	var open []string
	for _, name := range s.Reasoning.DiseaseNames() {
		if !asked[name] {
			open = append(open, name)
		}
	}
	return open
}

func containsString(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
