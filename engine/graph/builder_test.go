package graph

import (
	"testing"

	"github.com/discoursekg/discoursekg/engine/domain"
)

func TestFoldCanonical(t *testing.T) {
	if got := foldCanonical("  Department of Energy  "); got != "department of energy" {
		t.Errorf("foldCanonical = %q", got)
	}
}

func TestAggregateSentimentEmpty(t *testing.T) {
	agg := aggregateSentiment(nil)
	if len(agg) != 0 {
		t.Errorf("expected empty map for zero subjects, got %v", agg)
	}
}

func TestAggregateSentimentDistribution(t *testing.T) {
	subjects := []domain.Subject{
		{Sentiment: domain.SentimentPositive},
		{Sentiment: domain.SentimentPositive},
		{Sentiment: domain.SentimentNegative},
	}
	agg := aggregateSentiment(subjects)

	pos, ok := agg[string(domain.SentimentPositive)]
	if !ok || pos.Count != 2 {
		t.Fatalf("expected 2 positive, got %+v", agg)
	}
	neg, ok := agg[string(domain.SentimentNegative)]
	if !ok || neg.Count != 1 {
		t.Fatalf("expected 1 negative, got %+v", agg)
	}

	sum := 0.0
	for _, v := range agg {
		sum += v.Prop
	}
	if sum < 0.999 || sum > 1.001 {
		t.Errorf("sum of props = %v, want ~1.0", sum)
	}
}

func TestMentionKeyStability(t *testing.T) {
	a := Mention{CommunicationID: "c1", EntityName: "nasa", Topic: domain.TopicEnergy}
	b := Mention{CommunicationID: "c1", EntityName: "nasa", Topic: domain.TopicEnergy}
	if a.Key() != b.Key() {
		t.Error("identical mentions should produce identical keys")
	}
	c := Mention{CommunicationID: "c1", EntityName: "nasa", Topic: domain.TopicDefense}
	if a.Key() == c.Key() {
		t.Error("differing topic should produce a different key")
	}
}

func TestEdgeEndpointClosedSet(t *testing.T) {
	cases := []struct {
		t               EdgeType
		fromL, fromK    string
		toL, toK        string
	}{
		{EdgeDelivered, "Speaker", "name", "Communication", "id"},
		{EdgeHasMention, "Communication", "id", "Mention", "key"},
		{EdgeRefersTo, "Mention", "key", "Entity", "canonical_name"},
		{EdgeHasSubject, "Mention", "key", "Subject", "key"},
	}
	for _, c := range cases {
		fl, fk := edgeEndpoint(c.t, true)
		tl, tk := edgeEndpoint(c.t, false)
		if fl != c.fromL || fk != c.fromK || tl != c.toL || tk != c.toK {
			t.Errorf("%s: got from=(%s,%s) to=(%s,%s)", c.t, fl, fk, tl, tk)
		}
	}
}

func TestFilterEdges(t *testing.T) {
	edges := []Edge{{Type: EdgeRefersTo, From: ""}, {Type: EdgeRefersTo, From: "x"}}
	out := filterEdges(edges, func(e Edge) bool { return e.From != "" })
	if len(out) != 1 || out[0].From != "x" {
		t.Errorf("unexpected filter result: %+v", out)
	}
}
