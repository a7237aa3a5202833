package game

// NextPhase returns the phase that follows p. round-results loops back to
// meme-selection until MaxRounds is played, then lands on final-results;
// final-results only exits via PlayAgain.
func NextPhase(p Phase, round, maxRounds int) Phase {
	switch p {
	case PhaseLobby:
		return PhaseMemeSelection
	case PhaseMemeSelection:
		return PhaseMemeVoting
	case PhaseMemeVoting:
		return PhaseCaptionEntry
	case PhaseCaptionEntry:
		return PhaseCaptionVoting
	case PhaseCaptionVoting:
		return PhaseRoundResults
	case PhaseRoundResults:
		if round >= maxRounds {
			return PhaseFinalResults
		}
		return PhaseMemeSelection
	default:
		return PhaseFinalResults
	}
}

// PhaseComplete reports whether every active player has satisfied the current
// phase's completion predicate. Timer-driven phases (round-results) never
// complete by predicate.
func PhaseComplete(s State) bool {
	n := len(s.Players)
	if n == 0 {
		return false
	}

	switch s.Phase {
	case PhaseLobby:
		if n < s.Rules.MinPlayers {
			return false
		}
		for _, p := range s.Players {
			if !p.Ready {
				return false
			}
		}
		return true
	case PhaseMemeSelection:
		return countByPlayer(s, s.Proposals) == n
	case PhaseMemeVoting:
		return len(s.MemeVotes) == n
	case PhaseCaptionEntry:
		return len(s.Captions) == n
	case PhaseCaptionVoting:
		return len(s.CaptionVotes) == n
	default:
		return false
	}
}

func countByPlayer(s State, m map[string]Proposal) int {
	count := 0
	for id := range m {
		if _, ok := s.Players[id]; ok {
			count++
		}
	}
	return count
}

// CountdownSec returns the countdown for a phase, or 0 when the phase has no
// timer (lobby and final-results wait on players, not the clock).
func CountdownSec(p Phase, r Rules) int {
	switch p {
	case PhaseMemeSelection:
		return r.MemeSelectSec
	case PhaseMemeVoting:
		return r.MemeVoteSec
	case PhaseCaptionEntry:
		return r.CaptionEntrySec
	case PhaseCaptionVoting:
		return r.CaptionVoteSec
	case PhaseRoundResults:
		return r.RoundResultsSec
	default:
		return 0
	}
}

func advance(s State) State {
	next := NextPhase(s.Phase, s.Round, s.Rules.MaxRounds)
	s.Phase = next

	switch next {
	case PhaseMemeSelection:
		s.Round++
		s.Proposals = map[string]Proposal{}
		s.MemeVotes = map[string]string{}
		s.Captions = map[string]string{}
		s.CaptionVotes = map[string]string{}
	}
	return s
}

func resetForReplay(s State) State {
	s.Phase = PhaseLobby
	s.Round = 0
	s.Proposals = map[string]Proposal{}
	s.MemeVotes = map[string]string{}
	s.Captions = map[string]string{}
	s.CaptionVotes = map[string]string{}
	for id, p := range s.Players {
		p.Score = 0
		p.Ready = false
		s.Players[id] = p
	}
	return s
}
