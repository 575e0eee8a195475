package history

import (
	"strings"
	"testing"
	"time"
)

func TestStoreAppendAndRead(t *testing.T) {
	s := NewStore()
	if err := s.Append(Turn{Kind: KindRequest, Parts: []Part{UserPromptPart{Content: "find the capital"}}}); err != nil {
		t.Fatalf("append request: %v", err)
	}
	if err := s.Append(Turn{Kind: KindResponse, Parts: []Part{
		ToolCallPart{ToolName: "lookup", CallID: "c1", Args: map[string]interface{}{"key": "capital"}},
	}}); err != nil {
		t.Fatalf("append response: %v", err)
	}
	if err := s.Append(Turn{Kind: KindRequest, Parts: []Part{
		ToolReturnPart{ToolName: "lookup", CallID: "c1", Content: "Paris"},
	}}); err != nil {
		t.Fatalf("append return: %v", err)
	}
	if s.Len() != 3 {
		t.Fatalf("expected 3 turns, got %d", s.Len())
	}
}

func TestStoreRejectsEmptyTurn(t *testing.T) {
	s := NewStore()
	if err := s.Append(Turn{Kind: KindRequest}); err == nil {
		t.Fatal("expected error for empty turn")
	}
}

func TestStoreRejectsOrphanReturn(t *testing.T) {
	s := NewStore()
	err := s.Append(Turn{Kind: KindRequest, Parts: []Part{
		ToolReturnPart{ToolName: "lookup", CallID: "missing", Content: "x"},
	}})
	if err == nil || !strings.Contains(err.Error(), "no matching call") {
		t.Fatalf("expected orphan return error, got %v", err)
	}
}

func TestStoreAcceptsReturnInSameTurn(t *testing.T) {
	s := NewStore()
	err := s.Append(Turn{Kind: KindResponse, Parts: []Part{
		ToolCallPart{ToolName: "clock", CallID: "c1"},
		ToolReturnPart{ToolName: "clock", CallID: "c1", Content: "noon"},
	}})
	if err != nil {
		t.Fatalf("same-turn call/return pair should be valid: %v", err)
	}
}

func TestTurnsReturnsIsolatedCopy(t *testing.T) {
	s := NewStore()
	if err := s.Append(Turn{Kind: KindResponse, Parts: []Part{
		ToolCallPart{ToolName: "lookup", CallID: "c1", Args: map[string]interface{}{"key": "v"}},
	}}); err != nil {
		t.Fatalf("append: %v", err)
	}
	got := s.Turns()
	got[0].Parts[0] = TextPart{Content: "mutated"}
	again := s.Turns()
	if _, ok := again[0].Parts[0].(ToolCallPart); !ok {
		t.Fatal("mutating a returned copy must not affect the store")
	}
}

func TestCodecRoundTrip(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	turns := []Turn{
		{Kind: KindRequest, Parts: []Part{UserPromptPart{Content: "hello", Timestamp: ts}}, Instructions: "be brief"},
		{Kind: KindResponse, Parts: []Part{
			TextPart{Content: "looking it up"},
			ToolCallPart{ToolName: "lookup", CallID: "c1", Args: map[string]interface{}{"key": "capital"}},
		}},
		{Kind: KindRequest, Parts: []Part{ToolReturnPart{ToolName: "lookup", CallID: "c1", Content: "Paris", Timestamp: ts}}},
	}

	data, err := MarshalLog(turns)
	if err != nil {
		t.Fatalf("MarshalLog: %v", err)
	}
	back, err := UnmarshalLog(data)
	if err != nil {
		t.Fatalf("UnmarshalLog: %v", err)
	}
	if len(back) != len(turns) {
		t.Fatalf("expected %d turns, got %d", len(turns), len(back))
	}
	call, ok := back[1].Parts[1].(ToolCallPart)
	if !ok {
		t.Fatalf("expected tool call part, got %T", back[1].Parts[1])
	}
	if call.CallID != "c1" || call.Args["key"] != "capital" {
		t.Fatalf("tool call did not round trip: %+v", call)
	}
	ret, ok := back[2].Parts[0].(ToolReturnPart)
	if !ok || ret.Content != "Paris" || !ret.Timestamp.Equal(ts) {
		t.Fatalf("tool return did not round trip: %+v", back[2].Parts[0])
	}
	if back[0].Instructions != "be brief" {
		t.Fatalf("instructions lost: %+v", back[0])
	}
}

func TestCodecDiscriminators(t *testing.T) {
	data, err := MarshalLog([]Turn{
		{Kind: KindResponse, Parts: []Part{
			ToolCallPart{ToolName: "lookup", CallID: "c1"},
			ToolReturnPart{ToolName: "lookup", CallID: "c1", Content: "v"},
		}},
	})
	if err != nil {
		t.Fatalf("MarshalLog: %v", err)
	}
	for _, want := range []string{`"kind":"response"`, `"part_kind":"tool-call"`, `"part_kind":"tool-return"`} {
		if !strings.Contains(string(data), want) {
			t.Fatalf("encoded history missing %s: %s", want, data)
		}
	}
}

func TestCodecRejectsUnknownPartKind(t *testing.T) {
	if _, err := UnmarshalLog([]byte(`[{"kind":"request","parts":[{"part_kind":"bogus"}]}]`)); err == nil {
		t.Fatal("expected error for unknown part_kind")
	}
	if _, err := UnmarshalLog([]byte(`[{"kind":"bogus","parts":[{"part_kind":"text","content":"x"}]}]`)); err == nil {
		t.Fatal("expected error for unknown turn kind")
	}
}
