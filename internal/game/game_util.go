package game

import "sort"

func DefaultRules() Rules {
	return Rules{
		MinPlayers:      3,
		MaxRounds:       3,
		MemeSelectSec:   45,
		MemeVoteSec:     30,
		CaptionEntrySec: 60,
		CaptionVoteSec:  30,
		RoundResultsSec: 10,
		WinnerPoints:    100,
	}
}

func NewState(rules Rules) State {
	return State{
		Phase:        PhaseLobby,
		Round:        0,
		Players:      map[string]PlayerState{},
		Proposals:    map[string]Proposal{},
		MemeVotes:    map[string]string{},
		Captions:     map[string]string{},
		CaptionVotes: map[string]string{},
		Rules:        rules,
	}
}

// AddPlayer registers a player without touching the phase: a joiner mid-round
// simply participates from the next predicate check onward, and an
// already-dispatched transition is never reverted.
func AddPlayer(s State, id, name, avatarSrc string) State {
	s.Players[id] = PlayerState{Name: name, AvatarSrc: avatarSrc}
	return s
}

func RemovePlayer(s State, id string) State {
	delete(s.Players, id)
	delete(s.Proposals, id)
	delete(s.MemeVotes, id)
	delete(s.Captions, id)
	delete(s.CaptionVotes, id)
	return s
}

func AwardPoints(s State, id string, points int) State {
	p, ok := s.Players[id]
	if !ok {
		return s
	}
	p.Score += points
	s.Players[id] = p
	return s
}

// CaptionWinner picks the caption author with the most votes. Ties break on
// the lowest player id so every node computes the same winner.
func CaptionWinner(s State) (string, int, bool) {
	if len(s.CaptionVotes) == 0 {
		return "", 0, false
	}
	counts := map[string]int{}
	for _, author := range s.CaptionVotes {
		counts[author]++
	}

	authors := make([]string, 0, len(counts))
	for author := range counts {
		authors = append(authors, author)
	}
	sort.Strings(authors)

	winner, best := "", -1
	for _, author := range authors {
		if counts[author] > best {
			winner, best = author, counts[author]
		}
	}
	return winner, best, true
}

// Adopt moves local state to a phase observed at the authoritative store,
// used when a phase-changed event was missed and polling caught it. Entering
// a later round clears the per-round collections.
func Adopt(s State, p Phase, round int) State {
	if round != s.Round {
		s.Proposals = map[string]Proposal{}
		s.MemeVotes = map[string]string{}
		s.Captions = map[string]string{}
		s.CaptionVotes = map[string]string{}
	}
	s.Phase = p
	s.Round = round
	return s
}

func ContainsEvent(events []Event, eventType EventType) bool {
	for _, event := range events {
		if event.Type == eventType {
			return true
		}
	}
	return false
}
