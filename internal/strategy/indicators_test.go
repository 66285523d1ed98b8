package strategy

import (
	"math"
	"testing"
)

// TestSMAWarmup verifies alignment and warmup NaNs
func TestSMAWarmup(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5}
	out := SMA(values, 3)

	if len(out) != len(values) {
		t.Fatalf("Expected aligned output, got len %d", len(out))
	}
	if !math.IsNaN(out[0]) || !math.IsNaN(out[1]) {
		t.Error("Expected NaN before warmup completes")
	}

	want := []float64{2, 3, 4}
	for i, w := range want {
		if got := out[i+2]; math.Abs(got-w) > 1e-9 {
			t.Errorf("SMA[%d] = %f, want %f", i+2, got, w)
		}
	}
}

// TestEMAConstantSeries verifies the EMA of a flat series stays flat
func TestEMAConstantSeries(t *testing.T) {
	values := make([]float64, 30)
	for i := range values {
		values[i] = 50.0
	}

	out := EMA(values, 9)
	for i := 8; i < len(out); i++ {
		if math.Abs(out[i]-50.0) > 1e-9 {
			t.Fatalf("EMA[%d] = %f, want 50", i, out[i])
		}
	}
}

// TestEMASeededWithFirstValue verifies the series starts at values[0] and
// recurses from there
func TestEMASeededWithFirstValue(t *testing.T) {
	values := []float64{10, 20, 20}
	out := EMA(values, 9)

	if out[0] != 10 {
		t.Fatalf("EMA[0] = %f, want the first value 10", out[0])
	}
	// multiplier 0.2: 20*0.2 + 10*0.8
	if math.Abs(out[1]-12.0) > 1e-9 {
		t.Errorf("EMA[1] = %f, want 12", out[1])
	}
	if math.Abs(out[2]-13.6) > 1e-9 {
		t.Errorf("EMA[2] = %f, want 13.6", out[2])
	}
}

// TestRSIBounds verifies RSI stays within [0, 100] on a choppy series
func TestRSIBounds(t *testing.T) {
	values := make([]float64, 60)
	price := 100.0
	for i := range values {
		if i%3 == 0 {
			price += 2.5
		} else {
			price -= 1.0
		}
		values[i] = price
	}

	out := RSI(values, 14)
	for i, v := range out {
		if math.IsNaN(v) {
			if i >= 14 {
				t.Errorf("RSI[%d] undefined after warmup", i)
			}
			continue
		}
		if v < 0 || v > 100 {
			t.Errorf("RSI[%d] = %f out of bounds", i, v)
		}
	}
}

// TestRSIAllGains verifies zero average loss produces exactly 100
func TestRSIAllGains(t *testing.T) {
	values := make([]float64, 20)
	for i := range values {
		values[i] = 100.0 + float64(i)
	}

	out := RSI(values, 14)
	if got := out[len(out)-1]; got != 100.0 {
		t.Errorf("RSI of rising-only series = %f, want exactly 100", got)
	}
}

// TestRSIAllLosses verifies a falling-only series approaches zero
func TestRSIAllLosses(t *testing.T) {
	values := make([]float64, 20)
	for i := range values {
		values[i] = 100.0 - float64(i)
	}

	out := RSI(values, 14)
	if got := out[len(out)-1]; got > 1e-9 {
		t.Errorf("RSI of falling-only series = %f, want 0", got)
	}
}

// TestRSIRecoversAfterLossLeavesWindow verifies one sharp loss stops
// weighing on the RSI once it falls out of the trailing window
func TestRSIRecoversAfterLossLeavesWindow(t *testing.T) {
	values := make([]float64, 32)
	values[0] = 100.0
	values[1] = 90.0 // the only loss in the series
	for i := 2; i < len(values); i++ {
		values[i] = values[i-1] + 0.1
	}

	out := RSI(values, 14)

	// The drop at index 1 stays in the window through index 14
	if out[14] >= 100.0 {
		t.Fatalf("RSI[14] = %f, expected the loss to hold it below 100", out[14])
	}
	// From index 15 the window holds gains only
	for i := 15; i < len(out); i++ {
		if out[i] != 100.0 {
			t.Errorf("RSI[%d] = %f, want exactly 100 once the loss ages out", i, out[i])
		}
	}
}

// TestBollingerOrdering verifies lower <= middle <= upper everywhere defined
func TestBollingerOrdering(t *testing.T) {
	values := make([]float64, 50)
	price := 100.0
	for i := range values {
		if i%2 == 0 {
			price += 1.5
		} else {
			price -= 1.0
		}
		values[i] = price
	}

	upper, middle, lower := BollingerBands(values, 20, 2.0)
	for i := 19; i < len(values); i++ {
		if lower[i] > middle[i] || middle[i] > upper[i] {
			t.Errorf("Band ordering violated at %d: %f / %f / %f", i, lower[i], middle[i], upper[i])
		}
	}
}

// TestBollingerFlatSeries verifies bands collapse onto a flat series
func TestBollingerFlatSeries(t *testing.T) {
	values := make([]float64, 25)
	for i := range values {
		values[i] = 80.0
	}

	upper, middle, lower := BollingerBands(values, 20, 2.0)
	last := len(values) - 1
	if upper[last] != 80.0 || middle[last] != 80.0 || lower[last] != 80.0 {
		t.Errorf("Expected collapsed bands, got %f / %f / %f", upper[last], middle[last], lower[last])
	}
}

// TestMACDAlignment verifies all three MACD series stay aligned with input
// and are defined from the first bar
func TestMACDAlignment(t *testing.T) {
	values := make([]float64, 60)
	for i := range values {
		values[i] = 100.0 + float64(i%7)
	}

	macd, signal, histogram := MACD(values, 12, 26, 9)
	if len(macd) != 60 || len(signal) != 60 || len(histogram) != 60 {
		t.Fatal("MACD series not aligned with input")
	}

	for i := range values {
		if math.IsNaN(macd[i]) || math.IsNaN(signal[i]) || math.IsNaN(histogram[i]) {
			t.Fatalf("MACD series undefined at %d", i)
		}
		if math.Abs(histogram[i]-(macd[i]-signal[i])) > 1e-9 {
			t.Fatalf("Histogram at %d does not equal MACD minus signal", i)
		}
	}
	// Both EMAs start at values[0], so the line starts at zero
	if macd[0] != 0 {
		t.Errorf("MACD[0] = %f, want 0", macd[0])
	}
}

// TestBollingerSampleStd verifies the band width on a hand-computed window
func TestBollingerSampleStd(t *testing.T) {
	values := []float64{2, 4, 4, 4, 5, 5, 7, 9}

	upper, middle, lower := BollingerBands(values, 8, 2.0)
	last := len(values) - 1
	if math.Abs(middle[last]-5.0) > 1e-9 {
		t.Fatalf("Middle band = %f, want 5", middle[last])
	}

	// Squared deviations sum to 32, so the sample std is sqrt(32/7)
	std := math.Sqrt(32.0 / 7.0)
	if math.Abs(upper[last]-(5.0+2.0*std)) > 1e-9 {
		t.Errorf("Upper band = %f, want %f", upper[last], 5.0+2.0*std)
	}
	if math.Abs(lower[last]-(5.0-2.0*std)) > 1e-9 {
		t.Errorf("Lower band = %f, want %f", lower[last], 5.0-2.0*std)
	}
}
