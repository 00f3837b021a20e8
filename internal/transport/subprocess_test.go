package transport

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"
	"time"
)

func TestNewSubprocessTransport(t *testing.T) {
	// デフォルト設定
	tr := NewSubprocessTransport(Config{})
	if tr.config.Path != DefaultPath {
		t.Errorf("Path = %q, want %q", tr.config.Path, DefaultPath)
	}
	if tr.config.MaxBufferSize != DefaultMaxBufferSize {
		t.Errorf("MaxBufferSize = %d, want %d", tr.config.MaxBufferSize, DefaultMaxBufferSize)
	}

	// カスタム設定
	tr = NewSubprocessTransport(Config{
		Path:          "/custom/agda",
		MaxBufferSize: 1024,
	})
	if tr.config.Path != "/custom/agda" {
		t.Errorf("Path = %q, want %q", tr.config.Path, "/custom/agda")
	}
	if tr.config.MaxBufferSize != 1024 {
		t.Errorf("MaxBufferSize = %d, want %d", tr.config.MaxBufferSize, 1024)
	}
}

func TestScanFrames(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{
			name:  "plain lines",
			input: "(a)\n(b)\n",
			want:  []string{"(a)", "(b)"},
		},
		{
			name:  "prompt without newline",
			input: "Agda2> ",
			want:  []string{"Agda2> "},
		},
		{
			name:  "prompt prefixing a response",
			input: "Agda2> (agda2-status-action \"\")\nAgda2> ",
			want:  []string{"Agda2> ", `(agda2-status-action "")`, "Agda2> "},
		},
		{
			name:  "trailing line without newline",
			input: "(a)\n(b)",
			want:  []string{"(a)", "(b)"},
		},
		{
			name:  "prompt-like text inside a line",
			input: "(x \"Agda2> \")\n",
			want:  []string{`(x "Agda2> ")`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scanner := bufio.NewScanner(strings.NewReader(tt.input))
			scanner.Split(ScanFrames)

			var got []string
			for scanner.Scan() {
				got = append(got, scanner.Text())
			}
			if err := scanner.Err(); err != nil {
				t.Fatalf("scan: %v", err)
			}

			if len(got) != len(tt.want) {
				t.Fatalf("frames = %q, want %q", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("frame[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestSubprocessTransport_buildEnv(t *testing.T) {
	tr := NewSubprocessTransport(Config{
		Env: map[string]string{
			"CUSTOM_VAR": "custom_value",
		},
	})

	env := tr.buildEnv()

	found := false
	for _, e := range env {
		if e == "CUSTOM_VAR=custom_value" {
			found = true
		}
	}
	if !found {
		t.Error("env should contain CUSTOM_VAR=custom_value")
	}
}

func TestSubprocessTransport_InterfaceCompliance(t *testing.T) {
	var _ Transport = &SubprocessTransport{}
}

// writeScript は偽のバックエンドとなるシェルスクリプトを作成する
func writeScript(t *testing.T, content string) string {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "fake-agda-*.sh")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	t.Cleanup(func() { os.Remove(tmpFile.Name()) })

	if _, err := tmpFile.WriteString(content); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}
	tmpFile.Close()

	if err := os.Chmod(tmpFile.Name(), 0755); err != nil {
		t.Fatalf("failed to chmod: %v", err)
	}
	return tmpFile.Name()
}

func TestSubprocessTransport_ConnectWithFakeAgda(t *testing.T) {
	script := writeScript(t, `#!/bin/sh
printf 'Agda2> '
read line
echo '(agda2-status-action "")'
printf 'Agda2> '
read line
`)

	tr := NewSubprocessTransport(Config{Path: script})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := tr.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer tr.Close()

	if !tr.IsConnected() {
		t.Error("IsConnected() should return true after Connect")
	}

	next := func() RawMessage {
		t.Helper()
		select {
		case msg := <-tr.Messages():
			return msg
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for message")
		}
		return RawMessage{}
	}

	if msg := next(); !msg.Prompt {
		t.Errorf("first frame should be the prompt, got %q", msg.Raw)
	}

	if err := tr.Write([]byte("IOTCM \"A.agda\" None Direct (Cmd_show_version)")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	msg := next()
	if msg.Prompt || string(msg.Raw) != `(agda2-status-action "")` {
		t.Errorf("frame = %q (prompt=%v), want status action", msg.Raw, msg.Prompt)
	}
	if msg := next(); !msg.Prompt {
		t.Errorf("frame = %q, want prompt", msg.Raw)
	}
}

func TestSubprocessTransport_StderrAndExit(t *testing.T) {
	script := writeScript(t, `#!/bin/sh
echo 'boom' >&2
exit 3
`)

	tr := NewSubprocessTransport(Config{Path: script})
	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer tr.Close()

	select {
	case line := <-tr.Stderr():
		if line != "boom" {
			t.Errorf("stderr = %q, want %q", line, "boom")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for stderr")
	}

	select {
	case err := <-tr.Errors():
		var exitErr *ExitError
		if !errors.As(err, &exitErr) {
			t.Fatalf("err = %v, want *ExitError", err)
		}
		if exitErr.Code != 3 {
			t.Errorf("Code = %d, want 3", exitErr.Code)
		}
		if !strings.Contains(exitErr.Stderr, "boom") {
			t.Errorf("Stderr = %q, should contain boom", exitErr.Stderr)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for exit")
	}

	if status := tr.ExitStatus(); status == nil || status.Code != 3 {
		t.Errorf("ExitStatus() = %v, want code 3", status)
	}
}

func TestSubprocessTransport_OversizedFrameEndsProcess(t *testing.T) {
	script := writeScript(t, `#!/bin/sh
head -c 200 /dev/zero | tr '\0' 'x'
echo
while read line; do :; done
`)

	tr := NewSubprocessTransport(Config{Path: script, MaxBufferSize: 64})
	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer tr.Close()

	select {
	case err := <-tr.Errors():
		var ioErr *IOError
		if !errors.As(err, &ioErr) {
			t.Fatalf("err = %v, want *IOError", err)
		}
		if !errors.Is(err, bufio.ErrTooLong) {
			t.Errorf("err = %v, want bufio.ErrTooLong", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for the read error")
	}

	// プロセスが終了してチャネルが閉じる
	deadline := time.After(5 * time.Second)
	for open := true; open; {
		select {
		case _, open = <-tr.Errors():
		case <-deadline:
			t.Fatal("Errors() was not closed after the read error")
		}
	}
	select {
	case _, ok := <-tr.Messages():
		if ok {
			t.Error("Messages() should not deliver the oversized frame")
		}
	case <-deadline:
		t.Fatal("Messages() was not closed after the read error")
	}
	if tr.IsConnected() {
		t.Error("IsConnected() should return false after the read error")
	}
}

func TestSubprocessTransport_ConnectMissingExecutable(t *testing.T) {
	tr := NewSubprocessTransport(Config{Path: "/nonexistent/agda-binary"})

	err := tr.Connect(context.Background())
	var ioErr *IOError
	if !errors.As(err, &ioErr) {
		t.Fatalf("err = %v, want *IOError", err)
	}
}

func TestSubprocessTransport_WriteBeforeConnect(t *testing.T) {
	tr := NewSubprocessTransport(Config{})

	if err := tr.Write([]byte("IOTCM")); err == nil {
		t.Error("Write should fail before Connect")
	}
}

func TestSubprocessTransport_CloseIdempotent(t *testing.T) {
	tr := NewSubprocessTransport(Config{
		Path: "cat",
	})

	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	// 複数回Closeしてもエラーにならない
	if err := tr.Close(); err != nil {
		t.Errorf("first Close failed: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
	if tr.IsConnected() {
		t.Error("IsConnected() should return false after Close")
	}

	// 自分で閉じた場合はExitErrorを通知しない
	select {
	case err, ok := <-tr.Errors():
		if ok {
			t.Errorf("unexpected error after Close: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("error channel should be closed after Close")
	}
}

func TestSubprocessTransport_EndInput(t *testing.T) {
	tr := NewSubprocessTransport(Config{
		Path: "cat",
	})

	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer tr.Close()

	if err := tr.EndInput(); err != nil {
		t.Errorf("EndInput failed: %v", err)
	}

	_ = tr.EndInput()
}

func TestStdioTransport_Stream(t *testing.T) {
	tr := NewStdioTransport(Config{Path: "cat"})

	if _, err := tr.Stream(); err == nil {
		t.Error("Stream should fail before Connect")
	}

	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer tr.Close()

	stream, err := tr.Stream()
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}

	if _, err := stream.Write([]byte("ping\n")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	line, err := bufio.NewReader(stream).ReadString('\n')
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if line != "ping\n" {
		t.Errorf("echo = %q, want %q", line, "ping\n")
	}
}

func TestStdioTransport_ReadsOutputWrittenBeforeExit(t *testing.T) {
	script := writeScript(t, `#!/bin/sh
seq 1 2000
exit 4
`)

	tr := NewStdioTransport(Config{Path: script})
	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer tr.Close()

	stream, err := tr.Stream()
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}

	// 読み始める前にプロセスが終了していても出力は失われない
	time.Sleep(100 * time.Millisecond)
	if tr.ExitStatus() != nil {
		t.Fatal("process was reaped before stdout was read")
	}

	out, err := io.ReadAll(stream)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	if len(lines) != 2000 || lines[1999] != "2000" {
		t.Fatalf("read %d lines, want 2000", len(lines))
	}

	select {
	case err := <-tr.Errors():
		var exitErr *ExitError
		if !errors.As(err, &exitErr) || exitErr.Code != 4 {
			t.Errorf("err = %v, want *ExitError code 4", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for exit")
	}
}

func TestStdioTransport_CloseWithoutReading(t *testing.T) {
	tr := NewStdioTransport(Config{Path: "cat"})
	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// ストリームを読まなくてもプロセスは回収される
	select {
	case _, ok := <-tr.Errors():
		if ok {
			t.Error("Errors() should close without an exit error after Close")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("process was not reaped after Close")
	}
}

func TestErrors_TitleBody(t *testing.T) {
	timeout := &TimeoutError{Duration: time.Second}
	if timeout.Title() != "Timeout" {
		t.Errorf("Title() = %q", timeout.Title())
	}
	if timeout.Body() != "Expected to connect within 1000ms" {
		t.Errorf("Body() = %q", timeout.Body())
	}

	cause := errors.New("connection refused")
	ioErr := &IOError{Op: "dial", Err: cause}
	if !errors.Is(ioErr, cause) {
		t.Error("IOError should unwrap to its cause")
	}

	exitErr := &ExitError{Code: 1, Stderr: "oops\n"}
	if exitErr.Error() != "process exited with code 1: oops" {
		t.Errorf("Error() = %q", exitErr.Error())
	}
}
