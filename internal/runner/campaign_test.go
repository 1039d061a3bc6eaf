package runner

import "testing"

func TestNormalizeSharesEvenSplit(t *testing.T) {
	mix := []MixEntry{{SharePct: 0}, {SharePct: 0}, {SharePct: 0}}
	shares := normalizeShares(mix)
	sum := 0.0
	for _, s := range shares {
		sum += s
	}
	if sum != 100 {
		t.Fatalf("shares sum to %v, want 100", sum)
	}
	if shares[0] != shares[1] {
		t.Fatalf("all-zero mix should split evenly, got %v", shares)
	}
}

func TestNormalizeSharesRescalesToOneHundred(t *testing.T) {
	mix := []MixEntry{{SharePct: 30}, {SharePct: 30}, {SharePct: 30}}
	shares := normalizeShares(mix)
	sum := 0.0
	for _, s := range shares {
		sum += s
	}
	if sum != 100 {
		t.Fatalf("shares sum to %v, want 100 (input summed to 90)", sum)
	}
}

func TestNormalizeSharesEmptyMix(t *testing.T) {
	if got := normalizeShares(nil); got != nil {
		t.Fatalf("normalizeShares(nil) = %v, want nil", got)
	}
}

func TestScenarioRatesSumsToTotal(t *testing.T) {
	shares := []float64{33, 33, 34}
	rates := scenarioRates(100, shares)
	var sum uint64
	for _, r := range rates {
		sum += r
	}
	if sum != 100 {
		t.Fatalf("rates sum to %d, want 100", sum)
	}
}

func TestScenarioRatesSingleEntryGetsWholeRate(t *testing.T) {
	rates := scenarioRates(50, []float64{100})
	if len(rates) != 1 || rates[0] != 50 {
		t.Fatalf("rates = %v, want [50]", rates)
	}
}

func TestScenarioRatesEmptyShares(t *testing.T) {
	if got := scenarioRates(100, nil); got != nil {
		t.Fatalf("scenarioRates(100, nil) = %v, want nil", got)
	}
}

func TestRunIDGeneratorNeverRepeats(t *testing.T) {
	g := NewRunIDGenerator(5)
	first := g.Next()
	if first != 5 {
		t.Fatalf("first Next() = %d, want 5", first)
	}
	seen := map[uint64]bool{first: true}
	for i := 0; i < 10; i++ {
		id := g.Next()
		if seen[id] {
			t.Fatalf("RunIDGenerator produced duplicate id %d", id)
		}
		seen[id] = true
		if id <= first {
			t.Fatalf("id %d did not increase past first %d", id, first)
		}
		first = id
	}
}

func TestRunIDGeneratorConcurrentNextIsUnique(t *testing.T) {
	g := NewRunIDGenerator(1)
	const n = 200
	ids := make(chan uint64, n)
	for i := 0; i < n; i++ {
		go func() { ids <- g.Next() }()
	}
	seen := make(map[uint64]bool, n)
	for i := 0; i < n; i++ {
		id := <-ids
		if seen[id] {
			t.Fatalf("duplicate run id %d under concurrent Next()", id)
		}
		seen[id] = true
	}
}
