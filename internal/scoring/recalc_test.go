package scoring

import (
	"context"
	"testing"
)

// fakeStore backs the recalculator with in-memory maps and records the score
// writes so tests can assert on them.
type fakeStore struct {
	sectionsByPage  map[int64][]int64
	agentsBySection map[int64][]int64
	outputs         map[int64]string
	teamsByUser     map[int64][]int64
	pagesByTeams    []int64

	sectionWrites map[int64]*Pair
	pageWrites    map[int64]*Pair
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sectionsByPage:  map[int64][]int64{},
		agentsBySection: map[int64][]int64{},
		outputs:         map[int64]string{},
		teamsByUser:     map[int64][]int64{},
		sectionWrites:   map[int64]*Pair{},
		pageWrites:      map[int64]*Pair{},
	}
}

func (f *fakeStore) ListSectionIDs(_ context.Context, pageID int64) ([]int64, error) {
	return f.sectionsByPage[pageID], nil
}

func (f *fakeStore) ListSectionAgentIDs(_ context.Context, sectionID int64) ([]int64, error) {
	return f.agentsBySection[sectionID], nil
}

func (f *fakeStore) LatestSucceededOutput(_ context.Context, sectionAgentID int64) (string, bool, error) {
	out, ok := f.outputs[sectionAgentID]
	return out, ok, nil
}

func (f *fakeStore) UpdateSectionScores(_ context.Context, sectionID int64, p *Pair) error {
	f.sectionWrites[sectionID] = p
	return nil
}

func (f *fakeStore) ListSectionScorePairs(_ context.Context, pageID int64) ([]*Pair, error) {
	var out []*Pair
	for _, sid := range f.sectionsByPage[pageID] {
		out = append(out, f.sectionWrites[sid])
	}
	return out, nil
}

func (f *fakeStore) UpdatePageScores(_ context.Context, pageID int64, p *Pair) error {
	f.pageWrites[pageID] = p
	return nil
}

func (f *fakeStore) ListActivePageIDsForTeams(_ context.Context, _ []int64) ([]int64, error) {
	return f.pagesByTeams, nil
}

func (f *fakeStore) ListTeamIDsForUser(_ context.Context, userID int64) ([]int64, error) {
	return f.teamsByUser[userID], nil
}

func TestRecalculateSectionAveragesAgentScores(t *testing.T) {
	st := newFakeStore()
	st.agentsBySection[10] = []int64{1, 2, 3}
	st.outputs[1] = "analysis\n{FundamentalScore: 1, ConvictionScore: 2}"
	st.outputs[2] = "{FundamentalScore: 3, ConvictionScore: 4}"
	st.outputs[3] = "no score in this one"

	r := &Recalculator{Store: st}
	got, err := r.RecalculateSection(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || *got != (Pair{2, 3}) {
		t.Fatalf("section pair = %+v, want {2 3}", got)
	}
	if w := st.sectionWrites[10]; w == nil || *w != (Pair{2, 3}) {
		t.Fatalf("stored pair = %+v, want {2 3}", w)
	}
}

func TestRecalculateSectionWithoutScoresWritesNull(t *testing.T) {
	st := newFakeStore()
	st.agentsBySection[10] = []int64{1}
	st.outputs[1] = "nothing parseable here"

	r := &Recalculator{Store: st}
	got, err := r.RecalculateSection(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatalf("section pair = %+v, want nil", got)
	}
	if _, wrote := st.sectionWrites[10]; !wrote {
		t.Fatal("expected a null score write for the section")
	}
}

func TestRecalculatePagePropagatesSectionMeans(t *testing.T) {
	st := newFakeStore()
	st.sectionsByPage[100] = []int64{10, 11, 12}
	st.agentsBySection[10] = []int64{1}
	st.agentsBySection[11] = []int64{2}
	// section 12 has no agents; it contributes nothing to the page mean.
	st.outputs[1] = "{FundamentalScore: -1, ConvictionScore: 2}"
	st.outputs[2] = "{FundamentalScore: 2, ConvictionScore: 5}"

	r := &Recalculator{Store: st}
	if err := r.RecalculatePage(context.Background(), 100); err != nil {
		t.Fatal(err)
	}
	// fundamental (-1+2)/2 = 0.5 rounds to 1, conviction (2+5)/2 = 3.5 rounds to 4
	if w := st.pageWrites[100]; w == nil || *w != (Pair{1, 4}) {
		t.Fatalf("page pair = %+v, want {1 4}", w)
	}
	if st.sectionWrites[12] != nil {
		t.Fatal("section without agents should carry a null score")
	}
}

func TestRecalculatePageIsIdempotent(t *testing.T) {
	st := newFakeStore()
	st.sectionsByPage[100] = []int64{10}
	st.agentsBySection[10] = []int64{1}
	st.outputs[1] = "{FundamentalScore: 2, ConvictionScore: 2}"

	r := &Recalculator{Store: st}
	for i := 0; i < 3; i++ {
		if err := r.RecalculatePage(context.Background(), 100); err != nil {
			t.Fatal(err)
		}
		if w := st.pageWrites[100]; w == nil || *w != (Pair{2, 2}) {
			t.Fatalf("pass %d: page pair = %+v, want {2 2}", i, w)
		}
	}
}

func TestRecalculateAllForUser(t *testing.T) {
	st := newFakeStore()
	st.teamsByUser[7] = []int64{1}
	st.pagesByTeams = []int64{100, 101}
	st.sectionsByPage[100] = []int64{10}
	st.agentsBySection[10] = []int64{1}
	st.outputs[1] = "{FundamentalScore: 3, ConvictionScore: 5}"

	r := &Recalculator{Store: st}
	n, err := r.RecalculateAllForUser(context.Background(), 7)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("pages updated = %d, want 2", n)
	}
	if w := st.pageWrites[100]; w == nil || *w != (Pair{3, 5}) {
		t.Fatalf("page 100 pair = %+v, want {3 5}", w)
	}
	if w, wrote := st.pageWrites[101]; !wrote || w != nil {
		t.Fatalf("page 101 pair = %+v (wrote=%v), want null write", w, wrote)
	}
}

func TestRecalculateAllForUserNoTeams(t *testing.T) {
	st := newFakeStore()
	r := &Recalculator{Store: st}
	n, err := r.RecalculateAllForUser(context.Background(), 7)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("pages updated = %d, want 0", n)
	}
}
