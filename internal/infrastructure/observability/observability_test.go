package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Zhima-Mochi/stockledger/internal/infrastructure/observability/prometrics"
	"github.com/Zhima-Mochi/stockledger/internal/observability"
)

func TestProviderRoutesToRegisteredInstruments(t *testing.T) {
	reg := prometheus.NewRegistry()
	counters, histograms := prometrics.Instruments(prometrics.New("", "", reg))
	tel := New(nil, nil, counters, histograms)

	tel.Metrics().Counter(observability.MStockDeductions).Add(1, observability.L("outcome", "OK"))
	tel.Metrics().Counter(observability.MStockDeductions).Add(1, observability.L("outcome", "OK"))

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var total float64
	for _, mf := range families {
		if mf.GetName() != string(observability.MStockDeductions) {
			continue
		}
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	if total != 2 {
		t.Fatalf("expected 2 deductions recorded, got %v", total)
	}

	// unknown keys must not panic
	tel.Metrics().Counter("not_registered").Add(1)
	tel.Metrics().Histogram("not_registered").Observe(1)
	tel.Logger().Info("nop")
	if tel.Tracer() == nil {
		t.Fatalf("expected a nop tracer")
	}
}

func TestProviderWithoutInstruments(t *testing.T) {
	tel := New(nil, nil, nil, nil)
	tel.Metrics().Counter(observability.MUsecaseRequests).Add(1, observability.L("use_case", "x"))
}
