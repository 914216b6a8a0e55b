package core

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"
)

const (
	// MaxQuestions is the fixed capacity of every secret answer array.
	MaxQuestions = 100

	// AnswerBlank marks an unused slot of an answer array. Key positions
	// holding it are never scored.
	AnswerBlank int8 = 0
)

// GameStatus is the linear lifecycle Pending → InProgress → Complete → Published.
type GameStatus uint8

const (
	StatusPending GameStatus = iota + 1
	StatusInProgress
	StatusComplete
	StatusPublished
)

var statusNames = map[GameStatus]string{
	StatusPending:    "pending",
	StatusInProgress: "in_progress",
	StatusComplete:   "complete",
	StatusPublished:  "published",
}

func (s GameStatus) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

func (s GameStatus) MarshalJSON() ([]byte, error) {
	if _, ok := statusNames[s]; !ok {
		return nil, fmt.Errorf("unknown game status %d", uint8(s))
	}
	return json.Marshal(s.String())
}

func (s *GameStatus) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for st, n := range statusNames {
		if n == name {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown game status %q", name)
}

// Public description limits, in characters.
const (
	MinNameLen        = 3
	MaxNameLen        = 50
	MinDescriptionLen = 10
	MaxDescriptionLen = 200
	MaxCategoryLen    = 50
	MaxQuestionLen    = 300
	MaxChoices        = 10
)

// Question is the public text of one question. Which choice is correct is
// only known to the answer key.
type Question struct {
	Text    string   `json:"text"`
	Choices []string `json:"choices,omitempty"`
}

// GameInfo is the optional public description a creator attaches to a game.
type GameInfo struct {
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Category    string     `json:"category"`
	Questions   []Question `json:"questions,omitempty"`
}

func checkLen(field, s string, lo, hi int) error {
	if n := utf8.RuneCountInString(s); n < lo || n > hi {
		return ErrInvalidRequest.Wrapf("%s must be %d-%d characters, got %d", field, lo, hi, n)
	}
	return nil
}

// Validate checks the description against a game of questionCount
// questions. Questions are either omitted or given for every slot.
func (info *GameInfo) Validate(questionCount uint8) error {
	if err := checkLen("name", strings.TrimSpace(info.Name), MinNameLen, MaxNameLen); err != nil {
		return err
	}
	if info.Description != "" {
		if err := checkLen("description", info.Description, MinDescriptionLen, MaxDescriptionLen); err != nil {
			return err
		}
	}
	if err := checkLen("category", strings.TrimSpace(info.Category), 1, MaxCategoryLen); err != nil {
		return err
	}
	if len(info.Questions) == 0 {
		return nil
	}
	if len(info.Questions) != int(questionCount) {
		return ErrInvalidRequest.Wrapf("%d questions for question_count %d", len(info.Questions), questionCount)
	}
	for i, q := range info.Questions {
		if err := checkLen(fmt.Sprintf("question %d", i+1), strings.TrimSpace(q.Text), 1, MaxQuestionLen); err != nil {
			return err
		}
		if len(q.Choices) > MaxChoices {
			return ErrInvalidRequest.Wrapf("question %d has %d choices, max %d", i+1, len(q.Choices), MaxChoices)
		}
	}
	return nil
}

// Game is the full state of one trivia game.
type Game struct {
	ID            uint32      `json:"game_id"`
	Creator       string      `json:"creator"` // pubkey hex
	Status        GameStatus  `json:"status"`
	Deadline      int64       `json:"deadline"` // ms since epoch
	QuestionCount uint8       `json:"question_count"`
	Info          *GameInfo   `json:"info,omitempty"`
	Players       []string    `json:"players"` // sorted, unique
	AnswerKeyVar  *VarID      `json:"answer_key_var,omitempty"`
	EntryVars     []VarID     `json:"entry_vars"`  // append-only
	ResultVars    []VarID     `json:"result_vars"` // append-only
	Leaderboard   Leaderboard `json:"leaderboard"`
	CreatedAt     int64       `json:"created_at"`
}

// NewGame returns a Pending game.
func NewGame(id uint32, creator string, deadline int64, questionCount uint8, now int64) *Game {
	return &Game{
		ID:            id,
		Creator:       creator,
		Status:        StatusPending,
		Deadline:      deadline,
		QuestionCount: questionCount,
		Players:       []string{},
		EntryVars:     []VarID{},
		ResultVars:    []VarID{},
		Leaderboard:   Leaderboard{},
		CreatedAt:     now,
	}
}

func (g *Game) requireStatus(want GameStatus) error {
	if g.Status != want {
		return ErrInvalidStatus.Wrapf("game %d is %s, want %s", g.ID, g.Status, want)
	}
	return nil
}

// DeadlinePassed reports whether now is at or after the deadline.
func (g *Game) DeadlinePassed(now int64) bool {
	return now >= g.Deadline
}

// HasPlayer reports whether player already submitted.
func (g *Game) HasPlayer(player string) bool {
	_, found := slices.BinarySearch(g.Players, player)
	return found
}

// Start records the committed answer key and moves Pending → InProgress.
func (g *Game) Start(answerKey VarID) error {
	if g.AnswerKeyVar != nil {
		return ErrDuplicateVariable.Wrapf("game %d already has answer key %d", g.ID, *g.AnswerKeyVar)
	}
	if err := g.requireStatus(StatusPending); err != nil {
		return err
	}
	v := answerKey
	g.AnswerKeyVar = &v
	g.Status = StatusInProgress
	return nil
}

// AddPlayer adds player to the roster. Submissions close at the deadline.
func (g *Game) AddPlayer(player string, now int64) error {
	if err := g.requireStatus(StatusInProgress); err != nil {
		return err
	}
	if g.DeadlinePassed(now) {
		return ErrDeadlinePassed.Wrapf("game %d closed at %d (now %d)", g.ID, g.Deadline, now)
	}
	i, found := slices.BinarySearch(g.Players, player)
	if found {
		return ErrAlreadySubmitted.Wrapf("player %s in game %d", player, g.ID)
	}
	g.Players = slices.Insert(g.Players, i, player)
	return nil
}

// RecordEntry appends a committed entry handle.
func (g *Game) RecordEntry(v VarID) error {
	if err := g.requireStatus(StatusInProgress); err != nil {
		return err
	}
	if slices.Contains(g.EntryVars, v) {
		return ErrDuplicateVariable.Wrapf("entry %d in game %d", v, g.ID)
	}
	g.EntryVars = append(g.EntryVars, v)
	return nil
}

// RecordResult appends the handle of a finished score computation.
func (g *Game) RecordResult(v VarID) error {
	if g.Status != StatusInProgress && g.Status != StatusComplete {
		return ErrInvalidStatus.Wrapf("game %d is %s, cannot record results", g.ID, g.Status)
	}
	if slices.Contains(g.ResultVars, v) {
		return ErrDuplicateVariable.Wrapf("result %d in game %d", v, g.ID)
	}
	g.ResultVars = append(g.ResultVars, v)
	return nil
}

// PendingComputations is the number of recorded entries still waiting for
// their score computation to report back.
func (g *Game) PendingComputations() int {
	return len(g.EntryVars) - len(g.ResultVars)
}

// Complete moves InProgress → Complete once the deadline has passed.
func (g *Game) Complete(now int64) error {
	if err := g.requireStatus(StatusInProgress); err != nil {
		return err
	}
	if !g.DeadlinePassed(now) {
		return ErrDeadlineNotReached.Wrapf("game %d ends at %d (now %d)", g.ID, g.Deadline, now)
	}
	if n := g.PendingComputations(); n > 0 {
		return ErrComputationPending.Wrapf("game %d has %d unscored entries", g.ID, n)
	}
	g.Status = StatusComplete
	return nil
}

// AddLeaderboardEntry appends an opened score. One position per player.
func (g *Game) AddLeaderboardEntry(pos LeaderboardPosition) error {
	if err := g.requireStatus(StatusComplete); err != nil {
		return err
	}
	if g.Leaderboard.Contains(pos.Player) {
		return ErrDuplicateVariable.Wrapf("player %s already ranked in game %d", pos.Player, g.ID)
	}
	g.Leaderboard = append(g.Leaderboard, pos)
	return nil
}

// Publish sorts the leaderboard and moves Complete → Published (terminal).
func (g *Game) Publish() error {
	if err := g.requireStatus(StatusComplete); err != nil {
		return err
	}
	g.Leaderboard.Sort()
	g.Status = StatusPublished
	return nil
}
