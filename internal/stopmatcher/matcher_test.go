package stopmatcher

import "testing"

func TestNewMatcherBuildsTrie(t *testing.T) {
	m := New([]string{"stop", "halt"})
	if _, ok := m.root.children['s']; !ok {
		t.Fatal("expected root to have a child for 's'")
	}
	if _, ok := m.root.children['h']; !ok {
		t.Fatal("expected root to have a child for 'h'")
	}
}

func TestSimpleMatch(t *testing.T) {
	m := New([]string{"stop"})
	out, matched, found := m.Process("This should stop here")
	if out != "This should " {
		t.Errorf("out = %q, want %q", out, "This should ")
	}
	if !found || matched != "stop" {
		t.Errorf("matched = (%q, %v), want (\"stop\", true)", matched, found)
	}
}

func TestNoMatch(t *testing.T) {
	m := New([]string{"stop"})
	out, _, found := m.Process("This text will be output directly")
	if out != "This text will be output directly" {
		t.Errorf("out = %q", out)
	}
	if found {
		t.Error("expected no match")
	}
}

func TestPartialMatchAcrossChunks(t *testing.T) {
	m := New([]string{"stop"})

	out1, _, found1 := m.Process("This is st")
	if out1 != "This is " || found1 {
		t.Fatalf("chunk 1: out=%q found=%v", out1, found1)
	}

	out2, matched2, found2 := m.Process("op now")
	if out2 != "" {
		t.Errorf("chunk 2: out=%q, want empty", out2)
	}
	if !found2 || matched2 != "stop" {
		t.Errorf("chunk 2: matched=(%q,%v)", matched2, found2)
	}
}

func TestMultipleStopSequences(t *testing.T) {
	m := New([]string{"stop", "halt", "end"})
	out, matched, found := m.Process("Please halt processing")
	if out != "Please " {
		t.Errorf("out = %q", out)
	}
	if !found || matched != "halt" {
		t.Errorf("matched = (%q, %v)", matched, found)
	}

	m2 := New([]string{"stop", "halt", "end"})
	out2, matched2, found2 := m2.Process("This is the end of the text")
	if out2 != "This is the " {
		t.Errorf("out2 = %q", out2)
	}
	if !found2 || matched2 != "end" {
		t.Errorf("matched2 = (%q, %v)", matched2, found2)
	}
}

func TestOverlappingSequencesMatchesShorterFirst(t *testing.T) {
	m := New([]string{"stop", "stopping"})
	out, matched, found := m.Process("We are stopping now")
	if out != "We are " {
		t.Errorf("out = %q", out)
	}
	if !found || matched != "stop" {
		t.Errorf("matched = (%q, %v), want (\"stop\", true)", matched, found)
	}
}

func TestEmptyInput(t *testing.T) {
	m := New([]string{"stop"})
	out, _, found := m.Process("")
	if out != "" || found {
		t.Errorf("out=%q found=%v, want empty/false", out, found)
	}
}

func TestEmptyStopSequencesPassesEverythingThrough(t *testing.T) {
	m := New(nil)
	out, _, found := m.Process("This text should pass through")
	if out != "This text should pass through" || found {
		t.Errorf("out=%q found=%v", out, found)
	}
}

func TestIncrementalCharByCharProcessing(t *testing.T) {
	m := New([]string{"stop"})

	out1, _, f1 := m.Process("T")
	if out1 != "T" || f1 {
		t.Fatalf("step1: out=%q found=%v", out1, f1)
	}
	out2, _, f2 := m.Process("h")
	if out2 != "h" || f2 {
		t.Fatalf("step2: out=%q found=%v", out2, f2)
	}
	out3, _, f3 := m.Process("is is s")
	if out3 != "is is " || f3 {
		t.Fatalf("step3: out=%q found=%v", out3, f3)
	}
	out4, _, f4 := m.Process("t")
	if out4 != "" || f4 {
		t.Fatalf("step4: out=%q found=%v", out4, f4)
	}
	out5, matched5, f5 := m.Process("op")
	if out5 != "" {
		t.Fatalf("step5: out=%q, want empty", out5)
	}
	if !f5 || matched5 != "stop" {
		t.Fatalf("step5: matched=(%q,%v)", matched5, f5)
	}
}

func TestFlushReturnsUnresolvedBuffer(t *testing.T) {
	m := New([]string{"stopping"})
	out, _, found := m.Process("almost st")
	if out != "almost " || found {
		t.Fatalf("out=%q found=%v", out, found)
	}
	if rest := m.Flush(); rest != "st" {
		t.Errorf("Flush() = %q, want \"st\"", rest)
	}

	out2, matched2, found2 := m.Process("stopping")
	if !found2 || matched2 != "stopping" {
		t.Fatalf("expected a fresh match after Flush, got (%q, %v)", matched2, found2)
	}
	if out2 != "" {
		t.Errorf("out2 = %q, want empty since the whole chunk is consumed by the match", out2)
	}
}

func TestMultibyteCharactersBufferAsRunes(t *testing.T) {
	m := New([]string{"停止"})
	out, matched, found := m.Process("准备好了停止运行")
	if !found || matched != "停止" {
		t.Fatalf("matched = (%q, %v)", matched, found)
	}
	if out != "准备好了" {
		t.Errorf("out = %q, want %q", out, "准备好了")
	}
}
