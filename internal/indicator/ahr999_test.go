package indicator

import (
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"
)

func dailyHistory(start time.Time, prices ...float64) []PricePoint {
	out := make([]PricePoint, len(prices))
	for i, p := range prices {
		out[i] = PricePoint{Day: start.AddDate(0, 0, i), Price: p}
	}
	return out
}

func flatHistory(start time.Time, days int, price float64) []PricePoint {
	prices := make([]float64, days)
	for i := range prices {
		prices[i] = price
	}
	return dailyHistory(start, prices...)
}

func almostEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func TestValueScenarios(t *testing.T) {
	cases := []struct {
		name              string
		price, ma, fitted float64
		want              float64
	}{
		{"overvalued", 30000, 25000, 20000, 1.8},
		{"dca zone", 16000, 20000, 25000, 0.512},
		{"bottom zone", 8000, 20000, 30000, 0.10666666},
	}
	for _, tc := range cases {
		got := Value(tc.price, tc.ma, tc.fitted)
		if !almostEqual(got, tc.want, 1e-6) {
			t.Fatalf("%s: 期望 %.6f, 实际 %.6f", tc.name, tc.want, got)
		}
	}
}

func TestComputeFlatHistory(t *testing.T) {
	at := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	history := flatHistory(at.AddDate(0, 0, -199), 200, 50000)
	model := DefaultModel()

	snap, err := Compute("BTC/USDT", history, 60000, 200, model, at)
	if err != nil {
		t.Fatalf("计算不应失败: %v", err)
	}
	if snap.MovingAverage != 50000 {
		t.Fatalf("均价应为 50000, 实际 %v", snap.MovingAverage)
	}

	age := model.AgeDays(at)
	wantFitted := math.Pow(10, 5.84*math.Log10(float64(age))-17.01)
	if !almostEqual(snap.FittedPrice, wantFitted, 1e-6) {
		t.Fatalf("拟合价格不正确: %v vs %v", snap.FittedPrice, wantFitted)
	}
	want := (60000.0 / 50000.0) * (60000.0 / wantFitted)
	if !almostEqual(snap.Value, want, 1e-9) {
		t.Fatalf("指标值不正确: %v vs %v", snap.Value, want)
	}
	if snap.AgeDays != age || snap.WindowDays != 200 || !snap.ComputedAt.Equal(at) {
		t.Fatalf("快照字段不完整: %+v", snap)
	}
}

func TestComputeUsesWindowEndingAtAsOf(t *testing.T) {
	at := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	// 3 days up to at, then a future day that must be ignored.
	history := dailyHistory(at.AddDate(0, 0, -3), 10, 20, 30, 40, 1000)

	snap, err := Compute("X/Y", history, 30, 3, DefaultModel(), at)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.MovingAverage != 30 {
		t.Fatalf("window should be the last 3 closes up to as-of day, got MA %v", snap.MovingAverage)
	}
}

func TestComputeInsufficientData(t *testing.T) {
	at := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	history := flatHistory(at.AddDate(0, 0, -198), 199, 100)

	_, err := Compute("BTC/USDT", history, 100, 200, DefaultModel(), at)
	if !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("期望 ErrInsufficientData, 实际 %v", err)
	}
}

func TestComputeInvalidPrice(t *testing.T) {
	at := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	history := flatHistory(at.AddDate(0, 0, -4), 5, 100)

	if _, err := Compute("BTC/USDT", history, 0, 5, DefaultModel(), at); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("零价格应返回 ErrInvalidPrice, 实际 %v", err)
	}
	if _, err := Compute("BTC/USDT", history, -1, 5, DefaultModel(), at); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("负价格应返回 ErrInvalidPrice, 实际 %v", err)
	}

	history[2].Price = 0
	if _, err := Compute("BTC/USDT", history, 100, 5, DefaultModel(), at); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("历史中的零价格应返回 ErrInvalidPrice, 实际 %v", err)
	}
}

func TestComputeRejectsBadCloseOutsideWindow(t *testing.T) {
	at := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	history := flatHistory(at.AddDate(0, 0, -9), 10, 100)
	history[1].Price = -5

	if _, err := Compute("BTC/USDT", history, 100, 5, DefaultModel(), at); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("窗口之前的负价格也应返回 ErrInvalidPrice, 实际 %v", err)
	}

	// closes after the as-of day are not inputs
	future := append(flatHistory(at.AddDate(0, 0, -4), 5, 100), PricePoint{Day: at.AddDate(0, 0, 1), Price: 0})
	if _, err := Compute("BTC/USDT", future, 100, 5, DefaultModel(), at); err != nil {
		t.Fatalf("as-of 之后的数据不应参与校验: %v", err)
	}
}

func TestAgeDaysUsesLocalCalendarDate(t *testing.T) {
	model := DefaultModel()
	cst := time.FixedZone("CST", 8*3600)

	// 00:30 in Shanghai is still the previous day in UTC
	local := time.Date(2024, 6, 10, 0, 30, 0, 0, cst)
	want := model.AgeDays(time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC))
	if got := model.AgeDays(local); got != want {
		t.Fatalf("应按本地日期计算天数, 期望 %d, 实际 %d", want, got)
	}
	if got := model.AgeDays(local.UTC()); got != want-1 {
		t.Fatalf("UTC 时间应落在前一天, 期望 %d, 实际 %d", want-1, got)
	}
	if got := model.AgeDays(time.Date(2009, 1, 4, 1, 0, 0, 0, cst)); got != 1 {
		t.Fatalf("创世次日应为 1 天, 实际 %d", got)
	}
}

func TestFittedPriceFallbackBeforeGenesis(t *testing.T) {
	model := DefaultModel()
	if got := model.FittedPrice(0); got != 1 {
		t.Fatalf("age 0 should fall back to 1, got %v", got)
	}
	if got := model.FittedPrice(model.AgeDays(model.Genesis.AddDate(0, 0, -3))); got != 1 {
		t.Fatalf("negative age should fall back to 1, got %v", got)
	}
}

func TestComputeAlwaysFinitePositive(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	at := time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 200; i++ {
		window := 1 + rng.Intn(60)
		days := window + rng.Intn(30)
		prices := make([]float64, days)
		for j := range prices {
			prices[j] = 0.01 + rng.Float64()*100000
		}
		history := dailyHistory(at.AddDate(0, 0, -(days - 1)), prices...)
		current := 0.01 + rng.Float64()*100000

		snap, err := Compute("BTC/USDT", history, current, window, DefaultModel(), at)
		if err != nil {
			t.Fatalf("iteration %d: %v", i, err)
		}
		if math.IsNaN(snap.Value) || math.IsInf(snap.Value, 0) || snap.Value <= 0 {
			t.Fatalf("iteration %d: value must be finite and positive, got %v", i, snap.Value)
		}
	}
}

func TestNormalizeSortsAndDeduplicates(t *testing.T) {
	d := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	points := []PricePoint{
		{Day: d.AddDate(0, 0, 2), Price: 3},
		{Day: d, Price: 1},
		{Day: d.Add(5 * time.Hour), Price: 1.5},
		{Day: d.AddDate(0, 0, 1), Price: 2},
	}

	got := Normalize(points)
	if len(got) != 3 {
		t.Fatalf("expected 3 unique days, got %d", len(got))
	}
	if got[0].Price != 1.5 || got[1].Price != 2 || got[2].Price != 3 {
		t.Fatalf("unexpected order or dedupe result: %+v", got)
	}
}

func TestSeriesMatchesCompute(t *testing.T) {
	start := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	history := dailyHistory(start, 10, 12, 14, 16, 18, 20)
	model := DefaultModel()

	series, err := Series("BTC/USDT", history, 3, model)
	if err != nil {
		t.Fatalf("series failed: %v", err)
	}
	if len(series) != 4 {
		t.Fatalf("expected 4 snapshots, got %d", len(series))
	}

	last := history[len(history)-1]
	snap, err := Compute("BTC/USDT", history, last.Price, 3, model, last.Day)
	if err != nil {
		t.Fatalf("compute failed: %v", err)
	}
	if !almostEqual(series[3].Value, snap.Value, 1e-12) || series[3].MovingAverage != 18 {
		t.Fatalf("series tail should equal compute: %+v vs %+v", series[3], snap)
	}
}
