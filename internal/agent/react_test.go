package agent

import (
	"strings"
	"testing"
)

func TestParseReActPlain(t *testing.T) {
	step := ParseReAct(`{"thought":"check disk","action":"shell_exec","action_input":"df -h"}`)
	if step == nil {
		t.Fatal("expected a step")
	}
	if step.Action != "shell_exec" || step.InputString() != "df -h" {
		t.Errorf("got %+v", step)
	}
}

func TestParseReActFencedEqualsInner(t *testing.T) {
	inner := `{"thought":"t","action":"finish","action_input":"done"}`
	fenced := "```json\n" + inner + "\n```"

	a := ParseReAct(inner)
	b := ParseReAct(fenced)
	if a == nil || b == nil {
		t.Fatal("both forms should parse")
	}
	if a.Thought != b.Thought || a.Action != b.Action || a.InputString() != b.InputString() {
		t.Errorf("fenced parse diverged: %+v vs %+v", a, b)
	}
}

func TestParseReActWithProse(t *testing.T) {
	step := ParseReAct(`Let me think about this.
{"thought":"list files","action":"ls","action_input":{"path":"."}}
That should work.`)
	if step == nil {
		t.Fatal("expected a step")
	}
	if step.Action != "ls" {
		t.Errorf("action = %q", step.Action)
	}
	args := step.InputArgs()
	if args["path"] != "." {
		t.Errorf("args = %v", args)
	}
}

func TestParseReActMalformed(t *testing.T) {
	for _, in := range []string{
		"just a plain sentence",
		`{"thought":"no action here"}`,
		`{"broken": `,
		"",
	} {
		if step := ParseReAct(in); step != nil {
			t.Errorf("ParseReAct(%q) = %+v, want nil", in, step)
		}
	}
}

func TestIsFinishCaseInsensitive(t *testing.T) {
	for _, action := range []string{"finish", "FINISH", " Finish "} {
		s := &ReActStep{Action: action}
		if !s.IsFinish() {
			t.Errorf("IsFinish(%q) = false", action)
		}
	}
	if (&ReActStep{Action: "shell_exec"}).IsFinish() {
		t.Error("shell_exec should not be finish")
	}
}

func TestInputStringStringifiesObjects(t *testing.T) {
	s := &ReActStep{ActionInput: map[string]interface{}{"answer": 42}}
	if got := s.InputString(); got != `{"answer":42}` {
		t.Errorf("InputString = %q", got)
	}

	s = &ReActStep{ActionInput: "plain"}
	if s.InputString() != "plain" {
		t.Errorf("string input should pass through")
	}
}

func TestInputArgsCoercion(t *testing.T) {
	s := &ReActStep{ActionInput: "ls -la"}
	if args := s.InputArgs(); args["input"] != "ls -la" {
		t.Errorf("bare string args = %v", args)
	}

	s = &ReActStep{ActionInput: `{"command":"pwd"}`}
	if args := s.InputArgs(); args["command"] != "pwd" {
		t.Errorf("json string args = %v", args)
	}
}

func TestRedact(t *testing.T) {
	tests := []struct {
		in       string
		keep     []string
		drop     []string
	}{
		{
			in:   "open /home/alice/.config/secrets.json failed",
			keep: []string{"open", "failed", "[path]"},
			drop: []string{"/home/alice"},
		},
		{
			in:   "auth failed with key sk-abc123def456ghi789jkl012",
			keep: []string{"auth failed", "[redacted]"},
			drop: []string{"sk-abc123def456ghi789jkl012"},
		},
		{
			in:   "a perfectly ordinary sentence",
			keep: []string{"a perfectly ordinary sentence"},
		},
	}
	for _, tt := range tests {
		got := Redact(tt.in)
		for _, k := range tt.keep {
			if !strings.Contains(got, k) {
				t.Errorf("Redact(%q) = %q, should keep %q", tt.in, got, k)
			}
		}
		for _, d := range tt.drop {
			if strings.Contains(got, d) {
				t.Errorf("Redact(%q) = %q, should drop %q", tt.in, got, d)
			}
		}
	}
}

func TestFoldMedia(t *testing.T) {
	dataURI := "data:image/png;base64,iVBORw0KGgo="

	images, placeholder := FoldMedia([]string{dataURI}, true)
	if len(images) != 1 || images[0].MimeType != "image/png" {
		t.Fatalf("vision fold got %+v", images)
	}
	if placeholder != "" {
		t.Errorf("no placeholder expected, got %q", placeholder)
	}

	images, placeholder = FoldMedia([]string{dataURI}, false)
	if len(images) != 0 {
		t.Error("non-vision should not produce image parts")
	}
	if !strings.Contains(placeholder, "image/png") {
		t.Errorf("placeholder = %q", placeholder)
	}
}

func TestHasImages(t *testing.T) {
	if !HasImages([]string{"data:image/jpeg;base64,xx"}) {
		t.Error("data uri should count")
	}
	if !HasImages([]string{"/tmp/photo.PNG"}) {
		t.Error("image extension should count")
	}
	if HasImages([]string{"https://example.com/doc.pdf"}) {
		t.Error("pdf should not count")
	}
}
