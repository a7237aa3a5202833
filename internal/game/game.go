package game

import "errors"

var ErrWrongPhase = errors.New("command not valid in current phase")
var ErrUnknownPlayer = errors.New("player not in room")
var ErrSelfVote = errors.New("cannot vote for yourself")
var ErrUnknownCandidate = errors.New("candidate not in this round")
var ErrDuplicateAction = errors.New("already done this round")
var ErrUnsupportedCommand = errors.New("unsupported command")

type Phase string

const (
	PhaseLobby         Phase = "lobby"
	PhaseMemeSelection Phase = "meme-selection"
	PhaseMemeVoting    Phase = "meme-voting"
	PhaseCaptionEntry  Phase = "caption-entry"
	PhaseCaptionVoting Phase = "caption-voting"
	PhaseRoundResults  Phase = "round-results"
	PhaseFinalResults  Phase = "final-results"
)

type PlayerState struct {
	Name      string
	AvatarSrc string
	Ready     bool
	Score     int
}

type Rules struct {
	MinPlayers      int
	MaxRounds       int
	MemeSelectSec   int
	MemeVoteSec     int
	CaptionEntrySec int
	CaptionVoteSec  int
	RoundResultsSec int
	WinnerPoints    int
}

type Proposal struct {
	CandidateID string
	MediaURL    string
}

type State struct {
	Phase        Phase
	Round        int
	Players      map[string]PlayerState
	Proposals    map[string]Proposal // proposer -> meme candidate
	MemeVotes    map[string]string   // voter -> candidate id
	Captions     map[string]string   // author -> text
	CaptionVotes map[string]string   // voter -> caption author id
	Rules        Rules
}

type CommandType string

const (
	CmdToggleReady     CommandType = "ToggleReady"
	CmdSetAvatar       CommandType = "SetAvatar"
	CmdSetName         CommandType = "SetName"
	CmdProposeMeme     CommandType = "ProposeMeme"
	CmdCastMemeVote    CommandType = "CastMemeVote"
	CmdSubmitCaption   CommandType = "SubmitCaption"
	CmdCastCaptionVote CommandType = "CastCaptionVote"
	CmdTimeoutAdvance  CommandType = "TimeoutAdvance"
	CmdPlayAgain       CommandType = "PlayAgain"
)

type Command struct {
	Type        CommandType
	PlayerID    string
	IsReady     bool
	Name        string
	AvatarSrc   string
	CandidateID string
	MediaURL    string
	Text        string
}

type EventType string

const (
	EvtReadyChanged     EventType = "ReadyChanged"
	EvtAvatarChanged    EventType = "AvatarChanged"
	EvtNameChanged      EventType = "NameChanged"
	EvtMemeProposed     EventType = "MemeProposed"
	EvtMemeVoteCast     EventType = "MemeVoteCast"
	EvtCaptionSubmitted EventType = "CaptionSubmitted"
	EvtCaptionVoteCast  EventType = "CaptionVoteCast"
	EvtPhaseAdvanced    EventType = "PhaseAdvanced"
	EvtGameReset        EventType = "GameReset"
)

type Event struct {
	Type        EventType
	PlayerID    string
	CandidateID string
	MediaURL    string
	IsReady     bool
	Name        string
	AvatarSrc   string
	Phase       Phase
	Round       int
}

// Apply runs one command against the state and returns the events it produced
// plus the successor state. On error the input state is returned unchanged.
// The state is owned by a single room actor, so successor states may share map
// storage with their predecessor.
func Apply(s State, cmd Command) ([]Event, State, error) {
	if cmd.Type != CmdTimeoutAdvance {
		if _, ok := s.Players[cmd.PlayerID]; !ok {
			return nil, s, ErrUnknownPlayer
		}
	}

	newState := s

	switch cmd.Type {
	case CmdToggleReady:
		if s.Phase != PhaseLobby {
			return nil, s, ErrWrongPhase
		}
		p := newState.Players[cmd.PlayerID]
		p.Ready = cmd.IsReady
		newState.Players[cmd.PlayerID] = p

		events := []Event{{Type: EvtReadyChanged, PlayerID: cmd.PlayerID, IsReady: cmd.IsReady}}
		return maybeAdvance(newState, events)

	case CmdSetAvatar:
		p := newState.Players[cmd.PlayerID]
		p.AvatarSrc = cmd.AvatarSrc
		newState.Players[cmd.PlayerID] = p
		return []Event{{Type: EvtAvatarChanged, PlayerID: cmd.PlayerID, AvatarSrc: cmd.AvatarSrc}}, newState, nil

	case CmdSetName:
		p := newState.Players[cmd.PlayerID]
		p.Name = cmd.Name
		newState.Players[cmd.PlayerID] = p
		return []Event{{Type: EvtNameChanged, PlayerID: cmd.PlayerID, Name: cmd.Name}}, newState, nil

	case CmdProposeMeme:
		if s.Phase != PhaseMemeSelection {
			return nil, s, ErrWrongPhase
		}
		if _, done := s.Proposals[cmd.PlayerID]; done {
			return nil, s, ErrDuplicateAction
		}
		newState.Proposals[cmd.PlayerID] = Proposal{CandidateID: cmd.CandidateID, MediaURL: cmd.MediaURL}

		events := []Event{{Type: EvtMemeProposed, PlayerID: cmd.PlayerID, CandidateID: cmd.CandidateID, MediaURL: cmd.MediaURL}}
		return maybeAdvance(newState, events)

	case CmdCastMemeVote:
		if s.Phase != PhaseMemeVoting {
			return nil, s, ErrWrongPhase
		}
		if _, done := s.MemeVotes[cmd.PlayerID]; done {
			return nil, s, ErrDuplicateAction
		}
		owner, ok := proposalOwner(s, cmd.CandidateID)
		if !ok {
			return nil, s, ErrUnknownCandidate
		}
		if owner == cmd.PlayerID {
			return nil, s, ErrSelfVote
		}
		newState.MemeVotes[cmd.PlayerID] = cmd.CandidateID

		events := []Event{{Type: EvtMemeVoteCast, PlayerID: cmd.PlayerID, CandidateID: cmd.CandidateID}}
		return maybeAdvance(newState, events)

	case CmdSubmitCaption:
		if s.Phase != PhaseCaptionEntry {
			return nil, s, ErrWrongPhase
		}
		if _, done := s.Captions[cmd.PlayerID]; done {
			return nil, s, ErrDuplicateAction
		}
		newState.Captions[cmd.PlayerID] = cmd.Text

		events := []Event{{Type: EvtCaptionSubmitted, PlayerID: cmd.PlayerID}}
		return maybeAdvance(newState, events)

	case CmdCastCaptionVote:
		if s.Phase != PhaseCaptionVoting {
			return nil, s, ErrWrongPhase
		}
		if _, done := s.CaptionVotes[cmd.PlayerID]; done {
			return nil, s, ErrDuplicateAction
		}
		if _, ok := s.Captions[cmd.CandidateID]; !ok {
			return nil, s, ErrUnknownCandidate
		}
		if cmd.CandidateID == cmd.PlayerID {
			return nil, s, ErrSelfVote
		}
		newState.CaptionVotes[cmd.PlayerID] = cmd.CandidateID

		events := []Event{{Type: EvtCaptionVoteCast, PlayerID: cmd.PlayerID, CandidateID: cmd.CandidateID}}
		return maybeAdvance(newState, events)

	case CmdTimeoutAdvance:
		// The lobby never advances on a timer; everything else does. A timer
		// racing a just-completed transition is handled upstream by the timer
		// generation counter, so reaching here means the countdown genuinely
		// elapsed in this phase.
		if s.Phase == PhaseLobby || s.Phase == PhaseFinalResults {
			return nil, s, nil
		}
		newState = advance(newState)
		return []Event{{Type: EvtPhaseAdvanced, Phase: newState.Phase, Round: newState.Round}}, newState, nil

	case CmdPlayAgain:
		if s.Phase != PhaseFinalResults {
			return nil, s, ErrWrongPhase
		}
		newState = resetForReplay(newState)
		return []Event{
			{Type: EvtGameReset},
			{Type: EvtPhaseAdvanced, Phase: PhaseLobby, Round: 0},
		}, newState, nil

	default:
		return nil, s, ErrUnsupportedCommand
	}
}

func maybeAdvance(s State, events []Event) ([]Event, State, error) {
	if !PhaseComplete(s) {
		return events, s, nil
	}
	s = advance(s)
	events = append(events, Event{Type: EvtPhaseAdvanced, Phase: s.Phase, Round: s.Round})
	return events, s, nil
}

func proposalOwner(s State, candidateID string) (string, bool) {
	for owner, prop := range s.Proposals {
		if prop.CandidateID == candidateID {
			return owner, true
		}
	}
	return "", false
}
