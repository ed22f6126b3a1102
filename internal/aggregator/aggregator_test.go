package aggregator

import (
	"math"
	"testing"

	"ecobridge/internal/model"
)

func resetHistory(t *testing.T) {
	t.Cleanup(Reset)
	Reset()
}

func TestNeffThreeRecordsDecaySum(t *testing.T) {
	resetHistory(t)
	tNow := int64(10 * msPerDay)
	Append(model.HistoryRecord{Timestamp: tNow, Amount: 100})
	Append(model.HistoryRecord{Timestamp: tNow - int64(msPerDay), Amount: 100})
	Append(model.HistoryRecord{Timestamp: tNow - int64(2*msPerDay), Amount: 100})

	got := Neff(tNow, 1.0)
	want := 100 * (1 + math.Exp(-1) + math.Exp(-2))
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("Neff = %v, want %v", got, want)
	}
}

func TestNeffIgnoresFarFutureRecord(t *testing.T) {
	resetHistory(t)
	tNow := int64(10 * msPerDay)
	Append(model.HistoryRecord{Timestamp: tNow, Amount: 100})
	Append(model.HistoryRecord{Timestamp: tNow + int64(1e12), Amount: 500})

	got := Neff(tNow, 1.0)
	want := 100.0
	if math.Abs(got-want) > 1e-5 {
		t.Fatalf("Neff = %v, want %v (future record should be ignored)", got, want)
	}
}

func TestNeffEmptyOrNonPositiveTau(t *testing.T) {
	resetHistory(t)
	if got := Neff(1000, 1.0); got != 0 {
		t.Fatalf("Neff on empty history = %v, want 0", got)
	}
	Append(model.HistoryRecord{Timestamp: 1000, Amount: 50})
	if got := Neff(1000, 0); got != 0 {
		t.Fatalf("Neff with tau=0 = %v, want 0", got)
	}
	if got := Neff(1000, -1); got != 0 {
		t.Fatalf("Neff with tau<0 = %v, want 0", got)
	}
}

func TestNeffFiniteForValidInput(t *testing.T) {
	resetHistory(t)
	for i := int64(0); i < 50; i++ {
		Append(model.HistoryRecord{Timestamp: i * 1000, Amount: float64(i)})
	}
	got := Neff(50000, 7)
	if math.IsNaN(got) || math.IsInf(got, 0) {
		t.Fatalf("Neff = %v, want finite", got)
	}
}

func TestAppendPrunesAtHardCap(t *testing.T) {
	resetHistory(t)
	for i := 0; i < hardCap+1; i++ {
		Append(model.HistoryRecord{Timestamp: int64(i), Amount: 1})
	}
	if got := Len(); got != pruneTo {
		t.Fatalf("Len() after crossing hard cap = %d, want %d", got, pruneTo)
	}
}

func TestHydrateSortsAscending(t *testing.T) {
	resetHistory(t)
	Hydrate([]model.HistoryRecord{
		{Timestamp: 300, Amount: 3},
		{Timestamp: 100, Amount: 1},
		{Timestamp: 200, Amount: 2},
	})
	if Len() != 3 {
		t.Fatalf("Len() = %d, want 3", Len())
	}
	for i := 1; i < len(history); i++ {
		if history[i-1].Timestamp > history[i].Timestamp {
			t.Fatalf("history not ascending at index %d: %v", i, history)
		}
	}
	got := Neff(300, 1000)
	if got <= 0 {
		t.Fatalf("Neff after hydrate = %v, want > 0", got)
	}
}

func TestScalarAndVectorizedAgree(t *testing.T) {
	records := make([]model.HistoryRecord, 23)
	for i := range records {
		records[i] = model.HistoryRecord{Timestamp: int64(i * 1000), Amount: float64(i + 1)}
	}
	scalar := sumScalar(records, 0, len(records), 0, 0.0001)
	vector := sumVectorized(records, 0, 0.0001)
	if math.Abs(scalar-vector) > 1e-9 {
		t.Fatalf("scalar=%v vector=%v, want equal to within 1e-9", scalar, vector)
	}
}

func TestParallelAndScalarAgree(t *testing.T) {
	records := make([]model.HistoryRecord, 2000)
	for i := range records {
		records[i] = model.HistoryRecord{Timestamp: int64(i * 1000), Amount: float64(i%7 + 1)}
	}
	scalar := sumScalar(records, 0, len(records), 0, 0.00001)
	parallel := sumParallel(records, 0, 0.00001)
	if math.Abs(scalar-parallel) > 1e-6 {
		t.Fatalf("scalar=%v parallel=%v, want equal to within 1e-6", scalar, parallel)
	}
}
