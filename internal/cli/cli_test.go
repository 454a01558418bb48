package cli

import (
	"bytes"
	"strings"
	"testing"
)

func TestNew_RegistersCommands(t *testing.T) {
	app := New()

	want := map[string]bool{"serve": false, "status": false, "version": false}
	for _, cmd := range app.Root().Commands() {
		if _, ok := want[cmd.Name()]; ok {
			want[cmd.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("command %q not registered", name)
		}
	}
}

func TestRoot_ConfigFlag(t *testing.T) {
	app := New()
	if app.Root().PersistentFlags().Lookup("config") == nil {
		t.Fatal("root command should carry a --config persistent flag")
	}
}

func TestVersionCmd_Output(t *testing.T) {
	app := New()
	app.SetVersion("1.2.3", "abc1234", "2026-08-26T10:30:00Z")

	cmd := NewVersionCmd(app)
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)

	if err := cmd.Execute(); err != nil {
		t.Fatalf("version command failed: %v", err)
	}

	output := buf.String()
	for _, want := range []string{"1.2.3", "abc1234", "2026-08-26T10:30:00Z"} {
		if !strings.Contains(output, want) {
			t.Errorf("output should contain %q, got:\n%s", want, output)
		}
	}
	if !strings.HasPrefix(output, "imq version ") {
		t.Errorf("output should start with 'imq version ', got: %s", output)
	}
}

func TestVersionCmd_Defaults(t *testing.T) {
	app := New()

	cmd := NewVersionCmd(app)
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)

	if err := cmd.Execute(); err != nil {
		t.Fatalf("version command failed: %v", err)
	}

	output := buf.String()
	if !strings.Contains(output, "dev") {
		t.Errorf("unset version should print 'dev', got:\n%s", output)
	}
	if !strings.Contains(output, "unknown") {
		t.Errorf("unset commit should print 'unknown', got:\n%s", output)
	}
}
