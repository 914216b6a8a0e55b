package core

import (
	"errors"
	"testing"
	"time"

	"github.com/tolelom/zktrivia/crypto"
)

func signedTx(t *testing.T, priv crypto.PrivateKey, nonce uint64, ts int64) *Transaction {
	t.Helper()
	tx, err := NewTransaction("test-chain", TxFinishGame, priv.Public().Hex(), nonce, GamePayload{GameID: 1})
	if err != nil {
		t.Fatal(err)
	}
	tx.Timestamp = ts
	tx.Sign(priv)
	return tx
}

func TestMempool(t *testing.T) {
	priv, _, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	mp := NewMempool()
	now := time.Now().UnixNano()

	var ids []string
	for i := range 3 {
		tx := signedTx(t, priv, uint64(i), now)
		if err := mp.Add(tx); err != nil {
			t.Fatalf("Add %d: %v", i, err)
		}
		ids = append(ids, tx.ID)
	}
	if err := mp.Add(signedTx(t, priv, 0, now)); !errors.Is(err, ErrTxKnown) {
		t.Fatalf("duplicate: got %v", err)
	}

	pending := mp.Pending(2)
	if len(pending) != 2 || pending[0].ID != ids[0] || pending[1].ID != ids[1] {
		t.Fatalf("pending not in insertion order")
	}

	mp.Remove(ids[:1])
	if mp.Size() != 2 {
		t.Fatalf("size: got %d want 2", mp.Size())
	}
	if got := mp.Pending(10); got[0].ID != ids[1] {
		t.Fatalf("order after remove: got %s", got[0].ID)
	}
	if _, ok := mp.Get(ids[0]); ok {
		t.Fatal("removed tx still retrievable")
	}
}

func TestMempoolRejects(t *testing.T) {
	priv, _, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	mp := NewMempool()
	now := int64(10 * time.Hour)
	mp.now = func() int64 { return now }

	if err := mp.Add(signedTx(t, priv, 0, now-maxTxAge-1)); !errors.Is(err, ErrTxExpired) {
		t.Errorf("old tx: got %v", err)
	}
	if err := mp.Add(signedTx(t, priv, 1, now+maxTxFuture+1)); !errors.Is(err, ErrTxFromFuture) {
		t.Errorf("future tx: got %v", err)
	}

	tampered := signedTx(t, priv, 2, now)
	tampered.Nonce = 3
	if err := mp.Add(tampered); err == nil {
		t.Error("tampered tx accepted")
	}
	if mp.Size() != 0 {
		t.Fatalf("size: got %d want 0", mp.Size())
	}
}

func TestMempoolFullAdmitsExemptSender(t *testing.T) {
	user, _, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	engine, _, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	mp := NewMempool()
	mp.limit = 1
	mp.Exempt(engine.Public().Hex())
	now := time.Now().UnixNano()

	if err := mp.Add(signedTx(t, user, 0, now)); err != nil {
		t.Fatal(err)
	}
	if err := mp.Add(signedTx(t, user, 1, now)); !errors.Is(err, ErrMempoolFull) {
		t.Fatalf("user tx past limit: got %v", err)
	}
	for i := range 2 {
		if err := mp.Add(signedTx(t, engine, uint64(i), now)); err != nil {
			t.Fatalf("engine tx %d: %v", i, err)
		}
	}
	if mp.Size() != 3 {
		t.Fatalf("size: got %d want 3", mp.Size())
	}
}
