package anneal

import (
	"context"
	"encoding/json"
	"math"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HatiCode/gapfill/pkg/errs"
	"github.com/HatiCode/gapfill/pkg/prior"
	"github.com/HatiCode/gapfill/pkg/qubo"
	"github.com/HatiCode/gapfill/pkg/series"
)

// rampModel encodes three slots on the trend 10 -> 14 whose optimum is
// 11, 12, 13.
func rampModel(t *testing.T) (*qubo.Model, *qubo.Layout) {
	t.Helper()
	expected := []float64{11, 12, 13}
	in := qubo.Input{
		Expected: expected,
		Trend:    prior.NewTrend(10, 14, 3),
		Min:      10,
		Max:      14,
	}
	for _, e := range expected {
		in.Candidates = append(in.Candidates, qubo.Candidates(e))
	}
	m, l, err := qubo.NewEncoder().Encode(in)
	require.NoError(t, err)
	return m, l
}

func minEnergy(m *qubo.Model) float64 {
	n := m.NumVars()
	best := math.Inf(1)
	for mask := 0; mask < 1<<n; mask++ {
		a := make(qubo.Assignment, n)
		for v := 0; v < n; v++ {
			if mask&(1<<v) != 0 {
				a[v] = 1
			}
		}
		best = math.Min(best, m.Energy(a))
	}
	return best
}

func decode(l *qubo.Layout, a qubo.Assignment) []int {
	var out []int
	for id := range a {
		if a.Active(id) {
			out = append(out, l.Var(id).Value)
		}
	}
	return out
}

func TestAnnealer_FindsOptimum(t *testing.T) {
	m, l := rampModel(t)
	want := minEnergy(m)

	for _, init := range []Init{InitRandom, InitGreedy} {
		t.Run(init.String(), func(t *testing.T) {
			a := NewAnnealer()
			a.Init = init

			got, err := a.Solve(context.Background(), m, 7)
			require.NoError(t, err)
			require.Len(t, got, m.NumVars())
			assert.InDelta(t, want, m.Energy(got), 1e-6)
			assert.Equal(t, []int{11, 12, 13}, decode(l, got))
		})
	}
}

// dailyModel encodes a week-long hourly gap in 70 days of a noisy daily
// cycle.
func dailyModel(t *testing.T) (*qubo.Model, *qubo.Layout) {
	t.Helper()
	t0 := time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC)
	at := func(h int) time.Time { return t0.Add(time.Duration(h) * time.Hour) }

	noise := rand.New(rand.NewPCG(11, 3))
	from, to := 40*24, 40*24+169
	s := series.New("load")
	for h := 0; h < 70*24; h++ {
		v := 200 + 80*math.Sin(2*math.Pi*float64(h%24)/24) + noise.NormFloat64()*5
		if h > from && h < to {
			continue
		}
		require.NoError(t, s.Add(at(h), v))
	}

	gap, err := series.NewGap(at(from), at(to), time.Hour)
	require.NoError(t, err)
	require.Equal(t, 168, gap.Len())

	p, err := prior.NewBuilder().Build(s, gap, 0, rand.NewPCG(42, 0))
	require.NoError(t, err)
	m, l, err := qubo.NewEncoder().Encode(qubo.InputFromPrior(p))
	require.NoError(t, err)
	return m, l
}

func TestAnnealer_LongGapIsLocalMinimum(t *testing.T) {
	m, l := dailyModel(t)

	for _, init := range []Init{InitRandom, InitGreedy} {
		t.Run(init.String(), func(t *testing.T) {
			a := NewAnnealer()
			a.Init = init
			got, err := a.Solve(context.Background(), m, 7)
			require.NoError(t, err)

			p := newProblem(m)
			improving := 0
			for i, f := range p.fields(got) {
				delta := f
				if got[i] == 1 {
					delta = -f
				}
				if delta < 0 {
					improving++
				}
			}
			assert.Zero(t, improving, "single flips that lower the energy")

			// Dropping one bit of a two-hot slot always pays, so only
			// empty slots may reach the extractor.
			for slot := 0; slot < l.NumSlots(); slot++ {
				active := 0
				for _, id := range l.Slot(slot) {
					if got.Active(id) {
						active++
					}
				}
				assert.LessOrEqual(t, active, 1, "slot %d", slot)
			}
		})
	}
}

func TestProblem_Descend(t *testing.T) {
	m, l := rampModel(t)
	p := newProblem(m)

	x := make(qubo.Assignment, m.NumVars())
	for _, id := range l.Slot(1) {
		x[id] = 1
	}
	before := m.Energy(x)
	p.descend(x)
	assert.Less(t, m.Energy(x), before)

	for i, f := range p.fields(x) {
		if x[i] == 1 {
			f = -f
		}
		assert.GreaterOrEqual(t, f, 0.0, "variable %d", i)
	}
}

func TestAnnealer_Deterministic(t *testing.T) {
	m, _ := rampModel(t)
	a := &Annealer{Sweeps: 50, Reads: 3, TStart: 1e7, TEnd: 1e3}

	first, err := a.Solve(context.Background(), m, 99)
	require.NoError(t, err)
	second, err := a.Solve(context.Background(), m, 99)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestAnnealer_Patience(t *testing.T) {
	m, _ := rampModel(t)
	a := &Annealer{Sweeps: 1_000_000, Reads: 1, Patience: 20, Init: InitGreedy}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := a.Solve(context.Background(), m, 1)
		assert.NoError(t, err)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("patience did not stop the read")
	}
}

func TestAnnealer_MaxDuration(t *testing.T) {
	m, _ := rampModel(t)
	a := &Annealer{Sweeps: math.MaxInt32, Reads: 1, MaxDuration: 50 * time.Millisecond}

	start := time.Now()
	got, err := a.Solve(context.Background(), m, 1)
	require.NoError(t, err)
	assert.Len(t, got, m.NumVars())
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestAnnealer_ContextCancelled(t *testing.T) {
	m, _ := rampModel(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewAnnealer().Solve(ctx, m, 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAnnealer_EmptyModel(t *testing.T) {
	got, err := NewAnnealer().Solve(context.Background(), qubo.NewModel(0), 1)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestAnnealer_Validate(t *testing.T) {
	tests := []struct {
		name string
		a    Annealer
	}{
		{"zero sweeps", Annealer{Reads: 1}},
		{"zero reads", Annealer{Sweeps: 1}},
		{"negative patience", Annealer{Sweeps: 1, Reads: 1, Patience: -1}},
		{"one temperature", Annealer{Sweeps: 1, Reads: 1, TStart: 10}},
		{"inverted temperatures", Annealer{Sweeps: 1, Reads: 1, TStart: 1, TEnd: 10}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.a.Validate()
			require.Error(t, err)
			assert.True(t, errs.IsConfig(err))
		})
	}
	assert.NoError(t, NewAnnealer().Validate())
}

func TestParseInit(t *testing.T) {
	got, err := ParseInit("greedy")
	require.NoError(t, err)
	assert.Equal(t, InitGreedy, got)

	got, err = ParseInit("")
	require.NoError(t, err)
	assert.Equal(t, InitRandom, got)

	_, err = ParseInit("quantum")
	assert.True(t, errs.IsConfig(err))
}

func TestCooling(t *testing.T) {
	r := cooling(100, 1, 3)
	assert.InDelta(t, 0.1, r, 1e-12)
	assert.InDelta(t, 1.0, 100*r*r, 1e-9)

	assert.Equal(t, 1.0, cooling(50, 5, 1))
}

func TestAutoTemperatures(t *testing.T) {
	m := qubo.NewModel(2)
	m.Add(0, 0, -4)
	m.Add(1, 1, 2)
	m.Add(0, 1, 1)

	hot, cold := newProblem(m).autoTemperatures()
	assert.InDelta(t, 5/math.Ln2, hot, 1e-9)
	assert.InDelta(t, 1/math.Log(100), cold, 1e-9)

	hot, cold = newProblem(qubo.NewModel(3)).autoTemperatures()
	assert.Equal(t, 1.0, hot)
	assert.Equal(t, 1.0, cold)
}

func TestAutoTemperatures_CappedByGroupCoupling(t *testing.T) {
	m := qubo.NewModel(3)
	m.Add(0, 0, -2)
	m.Add(1, 1, 1e9)
	m.Add(0, 1, 4)
	m.Add(1, 2, 1)
	m.SetGroups([][]int{{0, 1}, {2}})

	hot, cold := newProblem(m).autoTemperatures()
	assert.InDelta(t, 4/math.Ln2, hot, 1e-9)
	assert.InDelta(t, 1/math.Log(100), cold, 1e-9)
}

func TestProblem_Fields(t *testing.T) {
	m := qubo.NewModel(3)
	m.Add(0, 0, 1)
	m.Add(1, 1, -2)
	m.Add(0, 1, 4)
	m.Add(1, 2, 8)
	p := newProblem(m)

	x := qubo.Assignment{1, 0, 1}
	field := p.fields(x)
	assert.Equal(t, []float64{1, 10, 0}, field)

	// Flipping variable 1 on changes the energy by its field.
	before := m.Energy(x)
	x[1] = 1
	assert.Equal(t, field[1], m.Energy(x)-before)
}

func TestProblem_InitialIsOneHot(t *testing.T) {
	m, l := rampModel(t)
	p := newProblem(m)

	oneHot := func(x qubo.Assignment) {
		t.Helper()
		for s := 0; s < l.NumSlots(); s++ {
			active := 0
			for _, id := range l.Slot(s) {
				if x.Active(id) {
					active++
				}
			}
			assert.Equal(t, 1, active, "slot %d", s)
		}
	}

	rng := rand.New(rand.NewPCG(5, 5))
	for range 10 {
		oneHot(p.initial(InitRandom, rng))
	}

	greedy := p.initial(InitGreedy, rng)
	oneHot(greedy)
	// The lowest linear bias of each slot is its expected value.
	assert.Equal(t, []int{11, 12, 13}, decode(l, greedy))
}

func TestHTTPSampler_PicksLowestEnergy(t *testing.T) {
	m := qubo.NewModel(2)
	m.Add(0, 0, -1)
	m.Add(1, 1, -3)
	m.Add(0, 1, 5)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req sampleRequest
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		assert.Equal(t, []float64{-1, -3}, req.Linear)
		assert.Equal(t, [][3]float64{{0, 1, 5}}, req.Quadratic)
		assert.Equal(t, 4, req.NumReads)
		assert.Equal(t, uint64(9), req.Seed)

		w.Header().Set("Content-Type", "application/json")
		// Reported energies are deliberately wrong; they must be ignored.
		_, _ = w.Write([]byte(`{"samples":[[1,0],[1,1],[0,1],[false,true]],"energies":[-100,0,0,0]}`))
	}))
	defer server.Close()

	solver := &SamplerSolver{Sampler: NewHTTPSampler(server.URL, nil), NumReads: 4}
	got, err := solver.Solve(context.Background(), m, 9)
	require.NoError(t, err)
	assert.Equal(t, qubo.Assignment{0, 1}, got)
	assert.Equal(t, "sampler", solver.Name())
}

func TestHTTPSampler_CustomPath(t *testing.T) {
	m := qubo.NewModel(1)
	m.Add(0, 0, -1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"result":{"reads":[[0],[1]]}}`))
	}))
	defer server.Close()

	s := NewHTTPSampler(server.URL, server.Client())
	s.SamplesPath = "result.reads"
	got, err := s.Sample(context.Background(), m, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, qubo.Assignment{1}, got)
}

func TestHTTPSampler_Errors(t *testing.T) {
	m := qubo.NewModel(2)
	m.Add(0, 0, 1)

	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusInternalServerError, `{"error":"boom"}`},
		{"invalid json", http.StatusOK, `{"samples":[`},
		{"missing samples", http.StatusOK, `{"other":[]}`},
		{"empty samples", http.StatusOK, `{"samples":[]}`},
		{"wrong width", http.StatusOK, `{"samples":[[1]]}`},
		{"bad bit", http.StatusOK, `{"samples":[[1,2]]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := NewHTTPSampler(server.URL, nil).Sample(context.Background(), m, 1, 1)
			assert.Error(t, err)
		})
	}
}

func TestSamplerSolver_Config(t *testing.T) {
	_, err := (&SamplerSolver{NumReads: 1}).Solve(context.Background(), qubo.NewModel(1), 1)
	assert.True(t, errs.IsConfig(err))

	_, err = (&SamplerSolver{Sampler: NewHTTPSampler("http://127.0.0.1:0", nil)}).Solve(context.Background(), qubo.NewModel(1), 1)
	assert.True(t, errs.IsConfig(err))

	got, err := NewSamplerSolver(NewHTTPSampler("http://127.0.0.1:0", nil)).Solve(context.Background(), qubo.NewModel(0), 1)
	require.NoError(t, err)
	assert.Empty(t, got)
}
