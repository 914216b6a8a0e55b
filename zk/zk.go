// Package zk describes the contract between the trivia core and the
// secret-sharing computation engine. The engine owns every secret value;
// the core only ever holds VarID handles and asks for work through
// Requests that are applied once the requesting action has succeeded.
package zk

import (
	"fmt"

	"github.com/tolelom/zktrivia/core"
)

// Lookup resolves a handle to its metadata. It is synchronous and
// read-only, so handlers may call it while processing an event.
type Lookup interface {
	Variable(id core.VarID) (*core.Variable, error)
}

// Request is work an action asks the engine to perform.
type Request interface {
	isRequest()
}

// InputRequest asks Owner to commit a secret value of Size bytes. Once the
// value arrives the engine delivers Callback{var_id}.
type InputRequest struct {
	Owner    string
	Kind     core.VariableKind
	Size     int
	Callback core.TxType
}

// ComputeRequest starts the scoring circuit over Inputs. The output
// variable is tagged Output and delivered as Callback{var_ids}.
type ComputeRequest struct {
	Inputs   []core.VarID
	Output   core.VariableKind
	Callback core.TxType
}

// OpenRequest reveals Vars in the clear; delivered as Callback{var_ids}.
type OpenRequest struct {
	Vars     []core.VarID
	Callback core.TxType
}

func (InputRequest) isRequest()   {}
func (ComputeRequest) isRequest() {}
func (OpenRequest) isRequest()    {}

// Engine is the collaborator seen by the executor.
type Engine interface {
	Lookup
	// Apply queues the requests made by tx, executed in block. It is only
	// called for actions that succeeded.
	Apply(block *core.Block, tx *core.Transaction, reqs []Request) error
}

// AnswerSize is the byte length of a secret answer array.
const AnswerSize = core.MaxQuestions

// DecodeAnswers reinterprets a secret answer array as signed bytes.
func DecodeAnswers(b []byte) ([core.MaxQuestions]int8, error) {
	var out [core.MaxQuestions]int8
	if len(b) != AnswerSize {
		return out, fmt.Errorf("answer array must be %d bytes, got %d", AnswerSize, len(b))
	}
	for i, v := range b {
		out[i] = int8(v)
	}
	return out, nil
}

// EncodeAnswers packs answers into a fixed-capacity array padded with
// core.AnswerBlank.
func EncodeAnswers(answers []int8) ([]byte, error) {
	if len(answers) > core.MaxQuestions {
		return nil, fmt.Errorf("%d answers exceed capacity %d", len(answers), core.MaxQuestions)
	}
	out := make([]byte, AnswerSize)
	for i := range out {
		out[i] = byte(core.AnswerBlank)
	}
	for i, a := range answers {
		out[i] = byte(a)
	}
	return out, nil
}

// Score is the scoring circuit: count positions where the entry equals the
// key, skipping key positions that hold core.AnswerBlank. The whole
// capacity is scanned; the sentinel, not the game's question count, decides
// which positions are meaningful.
func Score(key, entry [core.MaxQuestions]int8) int8 {
	var score int8
	for i := range key {
		if key[i] == core.AnswerBlank {
			continue
		}
		if entry[i] == key[i] {
			score++
		}
	}
	return score
}

// EncodeScore is the opened representation of a result: one byte,
// little-endian int8.
func EncodeScore(score int8) []byte {
	return []byte{byte(score)}
}

// DecodeScore reads an opened result.
func DecodeScore(b []byte) (int8, error) {
	if len(b) != 1 {
		return 0, fmt.Errorf("score must be 1 byte, got %d", len(b))
	}
	return int8(b[0]), nil
}
