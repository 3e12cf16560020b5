package match

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/costwise/pricematch/internal/embedding"
	"github.com/costwise/pricematch/internal/models"
	"github.com/costwise/pricematch/internal/normalize"
)

// stubEmbedder returns hand-set vectors per normalized text, defaulting to
// the zero vector for unknown texts.
type stubEmbedder struct {
	vectors map[string][]float32
	dims    int
}

func (s *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if v, ok := s.vectors[text]; ok {
			out[i] = v
		} else {
			out[i] = make([]float32, s.dims)
		}
	}
	return out, nil
}

func (s *stubEmbedder) Dimensions() int { return s.dims }
func (s *stubEmbedder) Close() error    { return nil }

func inquiries(descs ...string) []models.InquiryItem {
	items := make([]models.InquiryItem, len(descs))
	for i, d := range descs {
		items[i] = models.InquiryItem{Description: d}
	}
	return items
}

func TestMatchEmptyInquiries(t *testing.T) {
	m := NewMatcher(embedding.NewMockEmbedder(16))
	got, err := m.Match(context.Background(), nil, []models.PriceListEntry{{Description: "x", Rate: 1}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty result, got %d", len(got))
	}
}

func TestMatchEmptyCatalog(t *testing.T) {
	m := NewMatcher(embedding.NewMockEmbedder(16))
	_, err := m.Match(context.Background(), inquiries("anything"), nil, nil)
	if !errors.Is(err, models.ErrNoReferenceData) {
		t.Fatalf("expected ErrNoReferenceData, got %v", err)
	}
}

func TestMatchOrderPreservationAndDeterminism(t *testing.T) {
	m := NewMatcher(embedding.NewMockEmbedder(64))
	catalog := []models.PriceListEntry{
		{Description: "Bulk excavation in ordinary soil", Rate: 25.5},
		{Description: "C35/45 Concrete Mix", Rate: 180.0},
		{Description: "Brickwork in cement mortar", Rate: 92.0},
	}
	in := inquiries("concrete mix for slab", "excavation in soil", "brickwork walls")

	first, err := m.Match(context.Background(), in, catalog, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != len(in) {
		t.Fatalf("got %d results for %d inquiries", len(first), len(in))
	}
	for i, r := range first {
		if r.SourceDescription != in[i].Description {
			t.Errorf("result %d out of order: %q", i, r.SourceDescription)
		}
		if r.Confidence < 0 || r.Confidence > 1 {
			t.Errorf("confidence out of bounds: %v", r.Confidence)
		}
	}

	second, err := m.Match(context.Background(), in, catalog, nil)
	if err != nil {
		t.Fatal(err)
	}
	for i := range first {
		if first[i].MatchedDescription != second[i].MatchedDescription ||
			math.Abs(first[i].Confidence-second[i].Confidence) > 1e-12 {
			t.Errorf("result %d not deterministic", i)
		}
	}
}

func TestMatchExcavationScenario(t *testing.T) {
	catalog := []models.PriceListEntry{
		{Description: "Bulk excavation in ordinary soil", Rate: 25.5},
		{Description: "C35/45 Concrete Mix", Rate: 180.0},
	}
	// Vectors chosen so the inquiry is semantically close to the excavation
	// entry and far from the concrete one.
	stub := &stubEmbedder{dims: 3, vectors: map[string][]float32{
		normalize.Normalize("Excavation for foundations"):          {0.98, 0.2, 0},
		normalize.Normalize("Bulk excavation in ordinary soil"):    {1, 0, 0},
		normalize.Normalize("C35/45 Concrete Mix"):                 {0, 1, 0},
	}}
	m := NewMatcher(stub)

	got, err := m.Match(context.Background(), inquiries("Excavation for foundations"), catalog, nil)
	if err != nil {
		t.Fatal(err)
	}
	r := got[0]
	if r.MatchedDescription != "Bulk excavation in ordinary soil" {
		t.Errorf("best match = %q", r.MatchedDescription)
	}
	if r.MatchedRate != 25.5 {
		t.Errorf("best rate = %v", r.MatchedRate)
	}
	if r.Confidence <= 0.7 {
		t.Errorf("expected high confidence, got %v", r.Confidence)
	}
}

func TestMatchUnrelatedInquiryStillPicksArgmax(t *testing.T) {
	catalog := []models.PriceListEntry{
		{Description: "Bulk excavation in ordinary soil", Rate: 25.5},
		{Description: "C35/45 Concrete Mix", Rate: 180.0},
	}
	stub := &stubEmbedder{dims: 3, vectors: map[string][]float32{
		normalize.Normalize("Quarterly fire alarm inspection"):  {0, 0, 1},
		normalize.Normalize("Bulk excavation in ordinary soil"): {1, 0, 0},
		normalize.Normalize("C35/45 Concrete Mix"):              {0.95, 0.31, 0},
	}}
	m := NewMatcher(stub)

	got, err := m.Match(context.Background(), inquiries("Quarterly fire alarm inspection"), catalog, nil)
	if err != nil {
		t.Fatal(err)
	}
	r := got[0]
	if r.MatchedDescription == "" {
		t.Fatal("matcher must always pick some best match")
	}
	if r.Confidence >= 0.4 {
		t.Errorf("expected low confidence, got %v", r.Confidence)
	}
}

func TestMatchTieBreakPrefersHigherCosineThenOrder(t *testing.T) {
	// Lexical weight zero makes blended scores equal when cosines are equal.
	stub := &stubEmbedder{dims: 2, vectors: map[string][]float32{
		"query":   {1, 0},
		"alpha":   {1, 0},
		"beta":    {1, 0},
		"gamma":   {0, 1},
	}}
	m := NewMatcher(stub, WithWeights(1, 0))

	catalog := []models.PriceListEntry{
		{Description: "gamma", Rate: 3},
		{Description: "alpha", Rate: 1},
		{Description: "beta", Rate: 2},
	}
	got, err := m.Match(context.Background(), inquiries("query"), catalog, nil)
	if err != nil {
		t.Fatal(err)
	}
	// alpha and beta tie on cosine; the earlier catalog entry wins.
	if got[0].MatchedDescription != "alpha" {
		t.Errorf("tie-break picked %q, want alpha", got[0].MatchedDescription)
	}
}

func TestMatchZeroVectorsSafe(t *testing.T) {
	stub := &stubEmbedder{dims: 4} // everything embeds to the zero vector
	m := NewMatcher(stub)
	got, err := m.Match(context.Background(), inquiries("anything at all"),
		[]models.PriceListEntry{{Description: "entry", Rate: 9}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if math.IsNaN(got[0].Confidence) {
		t.Fatal("confidence is NaN")
	}
	if got[0].Confidence < 0 || got[0].Confidence > 1 {
		t.Errorf("confidence out of bounds: %v", got[0].Confidence)
	}
}

func TestMatchProgressMonotonic(t *testing.T) {
	m := NewMatcher(embedding.NewMockEmbedder(32))
	catalog := []models.PriceListEntry{
		{Description: "one", Rate: 1},
		{Description: "two", Rate: 2},
	}
	var percents []int
	_, err := m.Match(context.Background(), inquiries("a thing", "another thing", "third thing"),
		catalog, func(p int, msg string) {
			if msg == "" {
				t.Error("empty progress message")
			}
			percents = append(percents, p)
		})
	if err != nil {
		t.Fatal(err)
	}
	if len(percents) < 3 {
		t.Fatalf("expected progress for catalog, inquiries, and results; got %v", percents)
	}
	for i := 1; i < len(percents); i++ {
		if percents[i] < percents[i-1] {
			t.Fatalf("progress decreased: %v", percents)
		}
	}
	if percents[len(percents)-1] != 100 {
		t.Errorf("final progress = %d, want 100", percents[len(percents)-1])
	}
}

func TestMatchCancelledContext(t *testing.T) {
	m := NewMatcher(embedding.NewMockEmbedder(16))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.Match(ctx, inquiries("x"), []models.PriceListEntry{{Description: "y", Rate: 1}}, nil)
	if err == nil {
		t.Fatal("expected error from cancelled context")
	}
}

func TestOverlap(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want float64
	}{
		{"identical", "bulk excavation", "bulk excavation", 1},
		{"disjoint", "bulk excavation", "concrete mix", 0},
		{"empty side", "", "concrete mix", 0},
		{"both empty", "", "", 0},
		{"partial", "bulk excavation soil", "bulk excavation rock", 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Overlap(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Overlap(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
			if sym := Overlap(tt.b, tt.a); sym != got {
				t.Errorf("Overlap not symmetric: %v vs %v", got, sym)
			}
		})
	}
}
