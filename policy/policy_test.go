package policy

import (
	"errors"
	"testing"

	"github.com/hazyhaar/feedveil/classify"
)

func TestDecide(t *testing.T) {
	cases := []struct {
		name   string
		score  classify.Score
		cutoff float64
		want   Kind
	}{
		{"above", classify.Score{Probability: 85}, 60, Reveal},
		{"below", classify.Score{Probability: 20}, 60, Obscure},
		{"equal obscures", classify.Score{Probability: 60}, 60, Obscure},
		{"just above", classify.Score{Probability: 60.5}, 60, Reveal},
		{"zero cutoff keeps zero hidden", classify.Score{Probability: 0}, 0, Obscure},
		{"full cutoff hides everything", classify.Score{Probability: 100}, 100, Obscure},
		{"transport", classify.Fail("x", classify.TransportFailure, errors.New("timeout")), 60, ShowWithLabel},
		{"schema", classify.Fail("x", classify.SchemaFailure, errors.New("bad")), 60, ShowWithLabel},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := Decide(c.score, c.cutoff)
			if got.Kind != c.want {
				t.Fatalf("Decide = %s, want %s", got.Kind, c.want)
			}
			if c.want == ShowWithLabel && got.Label != FailedLabel {
				t.Fatalf("label = %q", got.Label)
			}
		})
	}
}

func TestUnscored(t *testing.T) {
	if Unscored().Kind != Reveal {
		t.Fatal("unclassifiable items are revealed")
	}
}
