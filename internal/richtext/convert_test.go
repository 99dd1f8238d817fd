package richtext

import (
	"errors"
	"reflect"
	"testing"

	"docsync/api/internal/crdt"
)

func TestSeedEmptyContent(t *testing.T) {
	for _, src := range []string{"", "  \n\t "} {
		doc := crdt.NewDoc(1)
		res := Seed(doc, src)
		if res.Mode != SeedEmpty || res.Err != nil {
			t.Fatalf("Seed(%q) mode = %s err = %v", src, res.Mode, res.Err)
		}

		root := doc.Root()
		if len(root) != 1 || root[0].Name != TypeParagraph || len(root[0].Children) != 0 {
			t.Fatalf("Seed(%q) root = %+v, want one empty paragraph", src, root)
		}
	}
}

func TestSeedMalformedFallsBackToPlainText(t *testing.T) {
	src := `<p>Hello <b>world</p><script>alert("x")</script>`
	doc := crdt.NewDoc(1)

	res := Seed(doc, src)
	if res.Mode != SeedPlainText {
		t.Errorf("mode = %s, want %s", res.Mode, SeedPlainText)
	}
	if !errors.Is(res.Err, ErrMalformed) {
		t.Errorf("err = %v, want ErrMalformed", res.Err)
	}

	root := doc.Root()
	if len(root) != 1 || root[0].Name != TypeParagraph || len(root[0].Children) != 1 {
		t.Fatalf("root = %+v, want one paragraph with one run", root)
	}
	got := root[0].Children[0].Text
	if got != `Hello world alert("x")` || got != PlainText(src) {
		t.Errorf("text = %q", got)
	}
}

func TestSeedMarkupOnlyFallbackIsEmptyParagraph(t *testing.T) {
	doc := crdt.NewDoc(1)
	res := Seed(doc, "<div><span></div>")
	if res.Mode != SeedPlainText {
		t.Errorf("mode = %s, want %s", res.Mode, SeedPlainText)
	}

	root := doc.Root()
	if len(root) != 1 || len(root[0].Children) != 0 {
		t.Fatalf("root = %+v, want one empty paragraph", root)
	}
}

func TestSeedStructuredMatchesParse(t *testing.T) {
	src := `<h2>Plan</h2><p>Ship <a href="https://x.test"><b>it</b></a> for ` +
		`<span data-task-mention data-task-id="T1" data-task-title="Fix bug" data-task-issue-key="ABC-1">#Fix bug</span></p>` +
		`<ul><li>one</li><li>two</li></ul><img src="a.png" width="20">`
	doc := crdt.NewDoc(1)

	res := Seed(doc, src)
	if res.Err != nil {
		t.Fatalf("seed: %v", res.Err)
	}
	if res.Mode != SeedStructured || res.Cleared != 0 {
		t.Errorf("mode = %s cleared = %d", res.Mode, res.Cleared)
	}

	want, err := Parse(src)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := FromDoc(doc); !reflect.DeepEqual(want, got) {
		t.Errorf("FromDoc =\n%+v\nwant\n%+v", got, want)
	}

	replica := crdt.NewDoc(2)
	if err := replica.Apply(res.Update); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if DocHTML(doc) != DocHTML(replica) {
		t.Errorf("replica html = %q, want %q", DocHTML(replica), DocHTML(doc))
	}
}

func TestSeedReloadOverwritesPriorContent(t *testing.T) {
	server := crdt.NewDoc(1)
	Seed(server, "<p>old</p><ul><li>a</li></ul>")

	client := crdt.NewDoc(2)
	if err := client.Apply(server.Diff(nil)); err != nil {
		t.Fatalf("client sync: %v", err)
	}
	edit, err := client.Transact(func(tx *crdt.Txn) {
		tx.Append(crdt.Root(), crdt.Element(TypeParagraph, nil, crdt.Text("client edit", nil)))
	})
	if err != nil {
		t.Fatalf("client edit: %v", err)
	}
	if err := server.Apply(edit); err != nil {
		t.Fatalf("server apply: %v", err)
	}
	if n := len(server.Root()); n != 3 {
		t.Fatalf("server blocks = %d, want 3", n)
	}

	res := Seed(server, "<p>X</p>")
	if res.Err != nil {
		t.Fatalf("reseed: %v", res.Err)
	}
	if res.Cleared != 3 {
		t.Errorf("cleared = %d, want 3", res.Cleared)
	}
	want := Node{Type: TypeDoc, Content: []Node{para(text("X"))}}
	if got := FromDoc(server); !reflect.DeepEqual(want, got) {
		t.Errorf("FromDoc = %+v", got)
	}
	if got := DocHTML(server); got != "<p>X</p>\n" {
		t.Errorf("server html = %q", got)
	}

	if err := client.Apply(res.Update); err != nil {
		t.Fatalf("client apply: %v", err)
	}
	if got := DocHTML(client); got != "<p>X</p>\n" {
		t.Errorf("client html = %q", got)
	}
}

func TestSeedRestoresParagraphAfterFailedTransaction(t *testing.T) {
	doc := crdt.NewDoc(1)
	Seed(doc, "<p>a</p><p>b</p>")
	peer := crdt.NewDoc(2)
	if err := peer.Apply(doc.Diff(nil)); err != nil {
		t.Fatalf("peer sync: %v", err)
	}

	res := seedBlocks(doc, SeedResult{Mode: SeedStructured}, []crdt.Content{crdt.Element("", nil)})
	if !errors.Is(res.Err, crdt.ErrInvalidOp) {
		t.Fatalf("err = %v, want the transaction failure", res.Err)
	}
	if res.Mode != SeedEmpty || res.Cleared != 2 {
		t.Errorf("mode = %s cleared = %d", res.Mode, res.Cleared)
	}
	if got := DocHTML(doc); got != "<p></p>\n" {
		t.Errorf("html = %q, want one empty paragraph", got)
	}

	if err := peer.Apply(res.Update); err != nil {
		t.Fatalf("peer apply: %v", err)
	}
	if DocHTML(peer) != DocHTML(doc) {
		t.Errorf("peer html = %q, want %q", DocHTML(peer), DocHTML(doc))
	}
}

func TestFromNodesJoinsTextRuns(t *testing.T) {
	doc := crdt.NewDoc(1)
	_, err := doc.Transact(func(tx *crdt.Txn) {
		p := tx.Append(crdt.Root(), crdt.Element(TypeParagraph, nil,
			crdt.Text("ab", map[string]string{"mark:bold": "true"}),
			crdt.Text("cd", map[string]string{"mark:bold": "true"}),
			crdt.Text("ef", map[string]string{"mark:link": `{"href":"/x"}`, "mark:unknown": "true"}),
		))
		tx.SetAttr(p, "textAlign", "right")
	})
	if err != nil {
		t.Fatalf("transact: %v", err)
	}

	got := FromDoc(doc)
	if len(got.Content) != 1 {
		t.Fatalf("blocks = %d, want 1", len(got.Content))
	}
	if want := map[string]string{"textAlign": "right"}; !reflect.DeepEqual(want, got.Content[0].Attrs) {
		t.Errorf("attrs = %v", got.Content[0].Attrs)
	}
	want := []Node{
		text("abcd", Mark{Type: MarkBold}),
		text("ef", Mark{Type: MarkLink, Attrs: map[string]string{"href": "/x"}}),
	}
	if !reflect.DeepEqual(want, got.Content[0].Content) {
		t.Errorf("runs = %+v, want %+v", got.Content[0].Content, want)
	}
}
