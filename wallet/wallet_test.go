package wallet

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tolelom/zktrivia/core"
	"github.com/tolelom/zktrivia/crypto"
	"github.com/tolelom/zktrivia/zk"
	"github.com/tolelom/zktrivia/zk/local"
)

func TestKeystoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "node.key")
	priv, created, err := LoadOrCreateKey(path, "hunter2")
	require.NoError(t, err)
	require.True(t, created)

	again, created, err := LoadOrCreateKey(path, "hunter2")
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, priv.Hex(), again.Hex())

	_, err = LoadKey(path, "wrong")
	require.ErrorIs(t, err, ErrWrongPassword)
}

func TestActionBuilders(t *testing.T) {
	w, err := Generate()
	require.NoError(t, err)

	tx, err := w.CreateGame("c", 0, 5, 3, 12345)
	require.NoError(t, err)
	require.NoError(t, tx.Verify())
	require.Equal(t, core.TxCreateGame, tx.Type)
	require.Equal(t, w.PubKey(), tx.From)
	var p core.CreateGamePayload
	require.NoError(t, core.DecodePayload(tx.Payload, &p))
	require.Equal(t, core.CreateGamePayload{GameID: 5, QuestionCount: 3, Deadline: 12345}, p)

	tx, err = w.SubmitAnswers("c", 1, 5)
	require.NoError(t, err)
	require.Equal(t, uint64(1), tx.Nonce)
	require.NoError(t, tx.Verify())

	tx, err = w.FinishGame("c", 2, 5)
	require.NoError(t, err)
	require.Equal(t, core.TxFinishGame, tx.Type)
}

func TestSealAnswers(t *testing.T) {
	w, err := Generate()
	require.NoError(t, err)
	data, sig, err := w.SealAnswers("origin", []int8{1, 2, 3})
	require.NoError(t, err)
	require.Len(t, data, zk.AnswerSize)
	require.NoError(t, crypto.VerifyHex(w.PubKey(), local.InputDigest("origin", data), sig))

	_, _, err = w.SealAnswers("origin", make([]int8, 101))
	require.Error(t, err)
}
