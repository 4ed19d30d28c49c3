package adhoc

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"testing"

	"toaster/internal/config"
)

func TestGroup(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		text    string
		perLine int
		want    []string
	}{
		{"sorted and grouped", "pear apple fig\nbanana kiwi", 2, []string{"apple, banana", "fig, kiwi", "pear"}},
		{"exact rows", "b a d c", 2, []string{"a, b", "c, d"}},
		{"default row length", "e d c b a", 0, []string{"a, b, c, d", "e"}},
		{"blank", " \n\t", 3, []string{}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Group(tt.text, tt.perLine); !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("Group(%q, %d) = %q, want %q", tt.text, tt.perLine, got, tt.want)
			}
		})
	}
}

func fakeExec(outputs map[string][2]string) ExecFunc {
	return func(_ context.Context, _, command string) ([]byte, []byte, error) {
		o, ok := outputs[command]
		if !ok {
			return nil, nil, errors.New("no such shell")
		}
		return []byte(o[0]), []byte(o[1]), nil
	}
}

func TestRunPrintsStages(t *testing.T) {
	t.Parallel()
	var out, errOut bytes.Buffer
	r := &Runner{
		Out:     &out,
		Err:     &errOut,
		NoColor: true,
		Exec: fakeExec(map[string][2]string{
			"ls":    {"c.txt b.txt a.txt\n", ""},
			"uname": {"Linux\n", "warning\n"},
		}),
	}
	cmd := config.Command{
		Name:  "listing",
		Shell: "sh",
		Stages: []config.CommandStage{
			{ID: 1, Command: "ls", Color: "cyan", Sort: &config.SortRules{Sorting: true, ItemsPerLine: 2}},
			{ID: 2, Command: "uname", Color: "green"},
		},
	}
	if err := r.Run(context.Background(), cmd); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if got, want := out.String(), "a.txt, b.txt\nc.txt\nLinux\n"; got != want {
		t.Fatalf("stdout = %q, want %q", got, want)
	}
	if got := errOut.String(); got != "warning\n" {
		t.Fatalf("stderr = %q", got)
	}
}

func TestRunUnsortedKeepsOutput(t *testing.T) {
	t.Parallel()
	var out bytes.Buffer
	r := &Runner{Out: &out, Err: &bytes.Buffer{}, NoColor: true, Exec: fakeExec(map[string][2]string{"ls": {"b a\n", ""}})}
	cmd := config.Command{Name: "x", Stages: []config.CommandStage{
		{ID: 1, Command: "ls", Sort: &config.SortRules{Sorting: false, ItemsPerLine: 1}},
	}}
	if err := r.Run(context.Background(), cmd); err != nil {
		t.Fatal(err)
	}
	if out.String() != "b a\n" {
		t.Fatalf("stdout = %q", out.String())
	}
}

func TestRunStopsOnSpawnError(t *testing.T) {
	t.Parallel()
	var out bytes.Buffer
	r := &Runner{Out: &out, Err: &bytes.Buffer{}, NoColor: true, Exec: fakeExec(map[string][2]string{"late": {"never\n", ""}})}
	cmd := config.Command{Name: "broken", Stages: []config.CommandStage{
		{ID: 1, Command: "missing"},
		{ID: 2, Command: "late"},
	}}
	if err := r.Run(context.Background(), cmd); err == nil {
		t.Fatal("expected error")
	}
	if out.Len() != 0 {
		t.Fatalf("later stage ran: %q", out.String())
	}
}

func TestLookup(t *testing.T) {
	t.Parallel()
	m := &config.Model{Commands: []config.Command{{Name: "listing"}}}
	if _, err := Lookup(m, "LISTING"); err != nil {
		t.Fatalf("Lookup error: %v", err)
	}
	if _, err := Lookup(m, "nope"); !errors.Is(err, ErrUnknownCommand) {
		t.Fatalf("err = %v", err)
	}
}

func TestShellExec(t *testing.T) {
	t.Parallel()
	stdout, stderr, err := shellExec(context.Background(), "sh", "echo out; echo err >&2; exit 3")
	if err != nil {
		t.Fatalf("shellExec error: %v", err)
	}
	if string(stdout) != "out\n" || string(stderr) != "err\n" {
		t.Fatalf("stdout=%q stderr=%q", stdout, stderr)
	}
	if _, _, err := shellExec(context.Background(), "/nonexistent/shell", "true"); err == nil {
		t.Fatal("expected spawn error")
	}
}
