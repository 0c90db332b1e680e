package search

import (
	"reflect"
	"sort"
	"testing"
)

// loose indexes bare paragraphs with no minimum length.
func loose(paras []string, opts ...Option) Index {
	docs := make([]Document, len(paras))
	for i, p := range paras {
		docs[i] = Document{Body: p}
	}
	return New(docs, append([]Option{WithMinParagraphRunes(0)}, opts...)...)
}

func snippets(rs []Result) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.Snippet
	}
	return out
}

func keys(s tokenSet) []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func TestOptions(t *testing.T) {
	var c config
	WithMinParagraphRunes(10)(&c)
	WithMinParagraphRunes(-5)(&c)
	WithMaxDocs(2)(&c)
	WithMaxDocs(0)(&c)
	if c.minRunes != 10 || c.maxParas != 2 {
		t.Fatalf("config = %+v", c)
	}

	WithStopwords([]string{"  Dan ", "", "YANG"})(&c)
	if got := keys(c.stop); !reflect.DeepEqual(got, []string{"dan", "yang"}) {
		t.Fatalf("stopwords = %v", got)
	}
	var empty config
	WithStopwords([]string{" ", ""})(&empty)
	if empty.stop != nil {
		t.Fatalf("blank stopword list should leave the set nil")
	}
}

func TestNew_Paragraphs(t *testing.T) {
	idx := New([]Document{
		{Ref: "s1", Title: "Late pickup", Body: "Call the hub lead first.\n\nIf unreachable, escalate to the area manager."},
		{Ref: "s2", Title: "Damaged parcel", Body: "Photograph the parcel before opening it."},
	})
	if idx.Len() != 3 {
		t.Fatalf("Len = %d; want 3", idx.Len())
	}
	res := idx.TopK("escalate area manager", 1)
	if len(res) != 1 || res[0].Ref != "s1" || res[0].Title != "Late pickup" {
		t.Fatalf("TopK = %+v", res)
	}
}

func TestNew_TitleReachesEveryParagraph(t *testing.T) {
	idx := New([]Document{
		{Ref: "s1", Title: "Late pickup", Body: "Call the hub lead.\n\nLog the delay in the tracker."},
		{Ref: "s2", Title: "Returns", Body: "Scan the label and weigh the parcel."},
	}, WithMinParagraphRunes(0))

	res := idx.TopK("pickup", 5)
	if len(res) != 2 || res[0].Ref != "s1" || res[1].Ref != "s1" {
		t.Fatalf("TopK(pickup) = %+v", res)
	}
}

func TestNew_TableRowsBecomeParagraphs(t *testing.T) {
	body := "Escalation matrix:\n\n| Delay | Action |\n|---|---|\n| 2h | Call hub |\n| 6h | Notify manager |"
	idx := New([]Document{{Ref: "s1", Title: "Escalation", Body: body}}, WithMinParagraphRunes(0))

	res := idx.TopK("6h notify", 1)
	if len(res) != 1 || res[0].Snippet != "6h Notify manager" {
		t.Fatalf("TopK = %+v", res)
	}
}

func TestNew_IgnoresLaterEditsToInput(t *testing.T) {
	docs := []Document{{Ref: "s1", Title: "Returns", Body: "Scan the return label."}}
	idx := New(docs, WithMinParagraphRunes(0))
	docs[0].Ref = "changed"
	if res := idx.TopK("return label", 1); len(res) != 1 || res[0].Ref != "s1" {
		t.Fatalf("TopK after edit = %+v", res)
	}
}

func TestNew_FiltersAndCap(t *testing.T) {
	paras := []string{
		" \t \r  ",
		"short",
		"dan yang",
		"Keep this paragraph",
		"Another paragraph here with words",
	}
	idx := New([]Document{{Body: joinParas(paras)}}, WithMinParagraphRunes(6), WithStopwords([]string{"dan", "yang"}))
	if idx.Len() != 2 {
		t.Fatalf("Len = %d; want 2", idx.Len())
	}
	if n := loose(paras, WithMaxDocs(1)).Len(); n != 1 {
		t.Fatalf("capped Len = %d", n)
	}
}

func joinParas(ps []string) string {
	out := ""
	for i, p := range ps {
		if i > 0 {
			out += "\n\n"
		}
		out += p
	}
	return out
}

func TestTopK_EmptyInputs(t *testing.T) {
	if res := New(nil).TopK("x", 3); res != nil {
		t.Fatalf("empty index = %+v", res)
	}
	idx := loose([]string{"alpha beta gamma"}, WithStopwords([]string{"alpha", "beta"}))
	for _, q := range []string{"", "   ", "?!", "alpha beta"} {
		if res := idx.TopK(q, 2); res != nil {
			t.Fatalf("TopK(%q) = %+v", q, res)
		}
	}
	if res := loose([]string{"delta epsilon"}).TopK("alpha", 5); res != nil {
		t.Fatalf("no shared tokens = %+v", res)
	}
}

func TestTopK_Ordering(t *testing.T) {
	idx := loose([]string{
		"alpha beta gamma",
		"beta alpha",
		"alpha beta",
		"alpha beta!!",
		"delta epsilon",
	})

	got := idx.TopK("alpha beta", 0)
	if want := []string{"alpha beta", "beta alpha", "alpha beta!!"}; !reflect.DeepEqual(snippets(got), want) {
		t.Fatalf("default k order = %v; want %v", snippets(got), want)
	}
	all := idx.TopK("alpha beta", 10)
	if len(all) != 4 || all[3].Snippet != "alpha beta gamma" {
		t.Fatalf("k > hits = %v", snippets(all))
	}
	if all[0].Score != 1 || all[3].Score != 2.0/3.0 {
		t.Fatalf("scores = %v, %v", all[0].Score, all[3].Score)
	}
}

func TestTokenize(t *testing.T) {
	got := keys(tokenize("Kérusakan KERUSAKAN 123 paket abc123 -- naïve", nil))
	if want := []string{"123", "abc123", "kerusakan", "naive", "paket"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("tokenize = %v; want %v", got, want)
	}
	if got := keys(tokenize("Paket dan kurir", tokenSet{"dan": {}})); !reflect.DeepEqual(got, []string{"kurir", "paket"}) {
		t.Fatalf("tokenize with stopwords = %v", got)
	}
	if tokenize("$$$ !!!", nil) != nil {
		t.Fatalf("punctuation-only input should yield nil")
	}
}

func TestTokenSet(t *testing.T) {
	a := tokenSet{"a": {}, "b": {}, "c": {}}
	b := tokenSet{"a": {}, "z": {}}
	if a.shared(b) != 1 || b.shared(a) != 1 || a.shared(nil) != 0 {
		t.Fatalf("shared is not symmetric")
	}
	b.add(a)
	if got := keys(b); !reflect.DeepEqual(got, []string{"a", "b", "c", "z"}) {
		t.Fatalf("add = %v", got)
	}
}

func TestParagraphs(t *testing.T) {
	got := paragraphs("p1\n\n\n  \n p2  extra\tspace \n\np3\r\n")
	if want := []string{"p1", "p2 extra space", "p3"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("paragraphs = %#v", got)
	}
}
