package oracle

import (
	"strings"
	"testing"

	"github.com/gocityvibes/emini/internal/prefilter"
)

func parseCandidate() *prefilter.Candidate {
	return &prefilter.Candidate{
		ID:        "cand-parse",
		Setup:     prefilter.SetupEMAPullback,
		Direction: prefilter.DirectionLong,
	}
}

func TestParseDecisionCleanJSON(t *testing.T) {
	raw := `{"action":"trade","direction":"long","confidence":88,"stop_loss":0.75,"take_profit":1.25,"reasoning":"strong confluence"}`
	dec, err := parseDecision(raw, parseCandidate(), "openai")
	if err != nil {
		t.Fatalf("parseDecision: %v", err)
	}
	if dec.Action != ActionTrade || dec.Confidence != 88 {
		t.Fatalf("decision = %+v", dec)
	}
	if dec.StopLoss != 0.75 || dec.TakeProfit != 1.25 {
		t.Fatalf("brackets = %.2f/%.2f", dec.StopLoss, dec.TakeProfit)
	}
	if dec.CandidateID != "cand-parse" || dec.Source != "openai" {
		t.Fatalf("identity fields = %s/%s", dec.CandidateID, dec.Source)
	}
}

func TestParseDecisionToleratesProseAndFences(t *testing.T) {
	raw := "Here is my analysis.\n```json\n" +
		`{"action":"skip","direction":"long","confidence":40,"reasoning":"chop"}` +
		"\n```\nLet me know if you need more."
	dec, err := parseDecision(raw, parseCandidate(), "claude")
	if err != nil {
		t.Fatalf("parseDecision: %v", err)
	}
	if dec.Action != ActionSkip || dec.Confidence != 40 {
		t.Fatalf("decision = %+v", dec)
	}
}

func TestParseDecisionRejectsMissingJSON(t *testing.T) {
	if _, err := parseDecision("I would skip this one.", parseCandidate(), "openai"); err == nil {
		t.Fatal("accepted completion without a JSON object")
	}
}

func TestParseDecisionRejectsInvalidAction(t *testing.T) {
	raw := `{"action":"hold","confidence":50}`
	if _, err := parseDecision(raw, parseCandidate(), "openai"); err == nil {
		t.Fatal("accepted unknown action")
	}
}

func TestParseDecisionRejectsConfidenceOutOfRange(t *testing.T) {
	raw := `{"action":"trade","confidence":140,"stop_loss":0.75,"take_profit":1.25}`
	if _, err := parseDecision(raw, parseCandidate(), "openai"); err == nil {
		t.Fatal("accepted confidence above 100")
	}
}

func TestParseDecisionDefaultsDirectionToCandidate(t *testing.T) {
	raw := `{"action":"trade","direction":"sideways","confidence":85,"stop_loss":0.75,"take_profit":1.25}`
	dec, err := parseDecision(raw, parseCandidate(), "openai")
	if err != nil {
		t.Fatalf("parseDecision: %v", err)
	}
	if dec.Direction != prefilter.DirectionLong {
		t.Fatalf("direction = %s, want candidate's long", dec.Direction)
	}
}

func TestParseDecisionDowngradesTradeWithoutBrackets(t *testing.T) {
	raw := `{"action":"trade","direction":"long","confidence":90}`
	dec, err := parseDecision(raw, parseCandidate(), "openai")
	if err != nil {
		t.Fatalf("parseDecision: %v", err)
	}
	if dec.Action != ActionSkip {
		t.Fatalf("action = %s, want downgraded skip", dec.Action)
	}
}

func TestParseDecisionNormalizesCase(t *testing.T) {
	raw := `{"action":"TRADE","direction":"Short","confidence":85,"stop_loss":1.0,"take_profit":1.5}`
	dec, err := parseDecision(raw, parseCandidate(), "deepseek")
	if err != nil {
		t.Fatalf("parseDecision: %v", err)
	}
	if dec.Action != ActionTrade || dec.Direction != prefilter.DirectionShort {
		t.Fatalf("decision = %+v", dec)
	}
}

func TestSkipDecisionShape(t *testing.T) {
	dec := SkipDecision(parseCandidate(), "oracle_unavailable")
	if dec.Action != ActionSkip || dec.Confidence != 0 {
		t.Fatalf("decision = %+v", dec)
	}
	if dec.Source != "fallback" || !strings.Contains(dec.Reasoning, "oracle_unavailable") {
		t.Fatalf("source/reasoning = %s/%s", dec.Source, dec.Reasoning)
	}
}
