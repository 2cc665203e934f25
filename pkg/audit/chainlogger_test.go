package audit

import (
	"testing"
)

func TestChainLogger(t *testing.T) {
	logger := NewChainLogger()

	e1 := logger.Append("meter-operator", "price_updated per_unit=0.75")
	e2 := logger.Append("casa123.aguapay.eth", "payment bill=1 amount=37.50")
	e3 := logger.Append("casa123.aguapay.eth", "loan_requested amount=200")

	chain := []*LogEntry{e1, e2, e3}
	if !VerifyChain(chain) {
		t.Error("VerifyChain failed for valid chain")
	}

	// Tampered payload must break verification.
	originalPayload := e2.Payload
	e2.Payload = "payment bill=1 amount=9999"
	if VerifyChain(chain) {
		t.Error("VerifyChain succeeded for tampered payload")
	}

	// Tampered actor, too.
	e2.Payload = originalPayload
	originalActor := e2.Actor
	e2.Actor = "someone-else"
	if VerifyChain(chain) {
		t.Error("VerifyChain succeeded for tampered actor")
	}

	// Tampered hash.
	e2.Actor = originalActor
	originalHash := e2.Hash
	e2.Hash = bogusHash
	if VerifyChain(chain) {
		t.Error("VerifyChain succeeded for tampered hash")
	}

	// Broken link between entries.
	e2.Hash = originalHash
	e3.PreviousHash = bogusHash
	if VerifyChain(chain) {
		t.Error("VerifyChain succeeded for broken link")
	}
}

const bogusHash = "deadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef"
