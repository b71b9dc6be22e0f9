package services

import (
	"context"
	"testing"

	domain "github.com/homefit-remodel/api/internal/domain"
)

func TestHashIgnoresKeyOrder(t *testing.T) {
	type reordered struct {
		B int            `json:"b"`
		A map[string]int `json:"a"`
	}
	left, err := Hash(map[string]any{"a": map[string]int{"y": 2, "x": 1}, "b": 1})
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	right, err := Hash(reordered{B: 1, A: map[string]int{"x": 1, "y": 2}})
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	if left != right {
		t.Fatalf("expected identical hashes, got %s and %s", left, right)
	}
	if len(left) != 64 {
		t.Fatalf("expected hex sha256, got %q", left)
	}
}

func TestHashKeepsArrayOrder(t *testing.T) {
	first, _ := Hash([]string{"a", "b"})
	second, _ := Hash([]string{"b", "a"})
	if first == second {
		t.Fatalf("array order must change the hash")
	}
}

func TestCanonicalJSONPreservesNumbers(t *testing.T) {
	out, err := CanonicalJSON(map[string]any{"big": int64(9007199254740993), "frac": 1.25})
	if err != nil {
		t.Fatalf("CanonicalJSON error: %v", err)
	}
	if string(out) != `{"big":9007199254740993,"frac":1.25}` {
		t.Fatalf("unexpected canonical form %s", out)
	}
}

func TestOutputHashIgnoresPresentationFields(t *testing.T) {
	base := domain.EstimateResult{
		Grade: domain.GradeStandard,
		Blocks: []domain.ProcessBlock{{
			ProcessID:   "cleanup",
			ProcessName: "Cleanup",
			Items: []domain.LineItem{{
				Code: "CLEANING", Name: "Move-in cleaning", Kind: domain.ItemKindLabor,
				Quantity: 2, UnitPrice: 400_000, Amount: 800_000,
			}},
			LaborTotal: 800_000,
		}},
		LaborTotal:   800_000,
		GrandTotal:   800_000,
		VAT:          80_000,
		TotalWithVAT: 880_000,
	}
	renamed := base
	renamed.GradeName = "Standard (renamed)"
	renamed.Warnings = []string{"note"}
	renamed.Blocks = []domain.ProcessBlock{base.Blocks[0]}
	renamed.Blocks[0].ProcessName = "Final cleaning"

	first, err := OutputHash(base)
	if err != nil {
		t.Fatalf("OutputHash error: %v", err)
	}
	second, err := OutputHash(renamed)
	if err != nil {
		t.Fatalf("OutputHash error: %v", err)
	}
	if first != second {
		t.Fatalf("presentation changes must not alter the output hash")
	}

	repriced := base
	repriced.TotalWithVAT++
	third, _ := OutputHash(repriced)
	if third == first {
		t.Fatalf("a total change must alter the output hash")
	}
}

func TestInputHashIgnoresSessionID(t *testing.T) {
	cmd := sampleCommand()
	first, err := InputHash(cmd)
	if err != nil {
		t.Fatalf("InputHash error: %v", err)
	}
	cmd.SessionID = "session-42"
	second, _ := InputHash(cmd)
	if first != second {
		t.Fatalf("session identifier must not take part in the input hash")
	}
	cmd.House.Area = 33
	third, _ := InputHash(cmd)
	if third == first {
		t.Fatalf("house changes must alter the input hash")
	}
}

func TestEngineIsDeterministicAcrossRuns(t *testing.T) {
	c := mustDefaultCatalog(t)
	var hashes []string
	for _, concurrency := range []int{1, 3, 16} {
		engine, err := NewEstimateEngine(EstimateEngineDeps{
			Catalog:     c,
			Prices:      seededPriceLookup(t, c),
			Concurrency: concurrency,
		})
		if err != nil {
			t.Fatalf("NewEstimateEngine error: %v", err)
		}
		outcome, err := engine.Calculate(context.Background(), sampleCommand())
		if err != nil {
			t.Fatalf("Calculate error: %v", err)
		}
		hash, err := OutputHash(outcome.Result)
		if err != nil {
			t.Fatalf("OutputHash error: %v", err)
		}
		hashes = append(hashes, hash)
	}
	for _, hash := range hashes[1:] {
		if hash != hashes[0] {
			t.Fatalf("expected identical output hashes, got %v", hashes)
		}
	}
}
