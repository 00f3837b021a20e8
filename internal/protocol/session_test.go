package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"go.lsp.dev/jsonrpc2"
	lsp "go.lsp.dev/protocol"
	"go.uber.org/zap/zaptest"

	"github.com/y-oga-819/go-agda-connection/internal/transport"
)

// mockTransport はテスト用のモックトランスポート
// 行が書き込まれたら respond が返すフレームを stdout として流す
type mockTransport struct {
	mu      sync.Mutex
	closed  bool
	lines   []string
	respond func(line string) []string

	written chan string
	msgs    chan transport.RawMessage
	stderr  chan string
	errs    chan error
	once    sync.Once
}

func newMockTransport(respond func(line string) []string) *mockTransport {
	return &mockTransport{
		respond: respond,
		written: make(chan string, 16),
		msgs:    make(chan transport.RawMessage, 100),
		stderr:  make(chan string, 10),
		errs:    make(chan error, 1),
	}
}

func (m *mockTransport) Connect(ctx context.Context) error { return nil }

func (m *mockTransport) Write(data []byte) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return &transport.IOError{Op: "write", Err: errors.New("closed")}
	}
	line := string(data)
	m.lines = append(m.lines, line)
	m.mu.Unlock()

	m.written <- line
	m.push(m.respond(line)...)
	return nil
}

func (m *mockTransport) push(frames ...string) {
	for _, f := range frames {
		m.msgs <- transport.RawMessage{Raw: []byte(f), Prompt: f == transport.Prompt}
	}
}

// exit はプロセスの終了を再現する
func (m *mockTransport) exit(err error) {
	if err != nil {
		m.errs <- err
	}
	m.Close()
}

func (m *mockTransport) Messages() <-chan transport.RawMessage { return m.msgs }
func (m *mockTransport) Stderr() <-chan string                 { return m.stderr }
func (m *mockTransport) Errors() <-chan error                  { return m.errs }
func (m *mockTransport) EndInput() error                       { return nil }

func (m *mockTransport) Close() error {
	m.once.Do(func() {
		m.mu.Lock()
		m.closed = true
		m.mu.Unlock()
		close(m.msgs)
		close(m.stderr)
		close(m.errs)
	})
	return nil
}

func (m *mockTransport) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.closed
}

var (
	loadRequest        = Request{Context: Context{File: "/A.agda"}, Command: Load{}}
	constraintsRequest = Request{Context: Context{File: "/A.agda"}, Command: Constraints{}}
)

func TestEmacsSession_Handshake(t *testing.T) {
	m := newMockTransport(func(line string) []string {
		if !strings.Contains(line, "Cmd_show_version") {
			return nil
		}
		return []string{
			`(agda2-status-action "")`,
			`(agda2-info-action "*Agda Version*" "Agda version 2.6.4" nil)`,
			transport.Prompt,
		}
	})
	// 起動時のプロンプト
	m.push(transport.Prompt)

	s := NewEmacsSession(m, zaptest.NewLogger(t))
	defer s.Close()

	version, err := s.Handshake(context.Background())
	if err != nil {
		t.Fatalf("Handshake() error = %v", err)
	}
	if version != "2.6.4" {
		t.Errorf("version = %q, want %q", version, "2.6.4")
	}
	if !strings.Contains(m.lines[0], "None Direct (Cmd_show_version)") {
		t.Errorf("handshake line = %q", m.lines[0])
	}
}

func TestEmacsSession_HandshakeRejected(t *testing.T) {
	m := newMockTransport(func(string) []string {
		return []string{`(agda2-info-action "*Error*" "unknown command" nil)`, transport.Prompt}
	})
	s := NewEmacsSession(m, zaptest.NewLogger(t))
	defer s.Close()

	_, err := s.Handshake(context.Background())
	var perr *ProtocolError
	if !errors.As(err, &perr) || perr.Kind != Initialize {
		t.Fatalf("Handshake() error = %v, want Initialize *ProtocolError", err)
	}
}

func TestEmacsSession_SendUntilEnd(t *testing.T) {
	m := newMockTransport(func(string) []string {
		return []string{
			`(agda2-status-action "")`,
			`(agda2-foo-bar 1)`,
			`((last . 1) . (agda2-goals-action '(0)))`,
			transport.Prompt,
		}
	})
	s := NewEmacsSession(m, zaptest.NewLogger(t))
	defer s.Close()

	var got []Prioritized
	if err := s.Send(context.Background(), loadRequest, func(p Prioritized) { got = append(got, p) }); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	wantKinds := []Kind{NonLast, ParseError, Last, End}
	if len(got) != len(wantKinds) {
		t.Fatalf("got %d responses, want %d: %v", len(got), len(wantKinds), got)
	}
	for i, k := range wantKinds {
		if got[i].Kind != k {
			t.Errorf("response %d kind = %v, want %v", i, got[i].Kind, k)
		}
	}
}

func TestEmacsSession_CancelKeepsStreamAligned(t *testing.T) {
	m := newMockTransport(func(line string) []string {
		if strings.Contains(line, "Cmd_load") {
			return nil
		}
		return []string{`(agda2-info-action "*Constraints*" "" nil)`, transport.Prompt}
	})
	s := NewEmacsSession(m, zaptest.NewLogger(t))
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	var stale []Prioritized
	go func() {
		errCh <- s.Send(ctx, loadRequest, func(p Prioritized) { stale = append(stale, p) })
	}()

	<-m.written
	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Fatalf("Send() error = %v, want context.Canceled", err)
	}

	// 取り消した要求への遅れた応答
	m.push(`(agda2-status-action "Checked")`, transport.Prompt)

	var got []Prioritized
	if err := s.Send(context.Background(), constraintsRequest, func(p Prioritized) { got = append(got, p) }); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %v, want the constraints info and End", got)
	}
	if _, ok := got[0].Response.(DisplayInfo); !ok {
		t.Errorf("first response = %v, want DisplayInfo", got[0])
	}
	if got[1].Kind != End {
		t.Errorf("second response = %v, want End", got[1])
	}
	if len(stale) != 0 {
		t.Errorf("cancelled sink received %v", stale)
	}
}

func TestEmacsSession_ProcessExit(t *testing.T) {
	m := newMockTransport(func(string) []string { return nil })
	s := NewEmacsSession(m, zaptest.NewLogger(t))

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Send(context.Background(), loadRequest, func(Prioritized) {})
	}()
	<-m.written
	m.exit(&transport.ExitError{Code: 1, Stderr: "segfault"})

	var exitErr *transport.ExitError
	select {
	case err := <-errCh:
		if !errors.As(err, &exitErr) || exitErr.Code != 1 {
			t.Errorf("Send() error = %v, want *ExitError code 1", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Send() did not return after the process exited")
	}

	<-s.Done()
	if !errors.As(s.Err(), &exitErr) {
		t.Errorf("Err() = %v, want *ExitError", s.Err())
	}
	if err := s.Send(context.Background(), loadRequest, func(Prioritized) {}); err == nil {
		t.Error("Send() after exit should fail")
	}
}

func TestEmacsSession_ReadErrorClosesTransport(t *testing.T) {
	m := newMockTransport(func(string) []string { return nil })
	s := NewEmacsSession(m, nil)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Send(context.Background(), loadRequest, func(Prioritized) {})
	}()
	<-m.written
	m.errs <- &transport.IOError{Op: "stdout read", Err: errors.New("token too long")}

	select {
	case err := <-errCh:
		var ioErr *transport.IOError
		if !errors.As(err, &ioErr) {
			t.Errorf("Send() error = %v, want *IOError", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Send() did not return after a read error")
	}
	if m.IsConnected() {
		t.Error("transport should be closed after a read error")
	}
}

func TestEmacsSession_OversizedFrame(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "fake-agda-*.sh")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	t.Cleanup(func() { os.Remove(tmpFile.Name()) })
	// 起動時のプロンプトは出さない。出すとEndとして送信に割り込むことがある
	if _, err := tmpFile.WriteString(`#!/bin/sh
read line
head -c 200 /dev/zero | tr '\0' 'x'
echo
while read line; do :; done
`); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}
	tmpFile.Close()
	if err := os.Chmod(tmpFile.Name(), 0755); err != nil {
		t.Fatalf("failed to chmod: %v", err)
	}

	tr := transport.NewSubprocessTransport(transport.Config{Path: tmpFile.Name(), MaxBufferSize: 64})
	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	s := NewEmacsSession(tr, nil)
	defer s.Close()

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Send(context.Background(), loadRequest, func(Prioritized) {})
	}()

	select {
	case err := <-errCh:
		var ioErr *transport.IOError
		if !errors.As(err, &ioErr) {
			t.Errorf("Send() error = %v, want *IOError", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Send() did not return after stdout became unreadable")
	}

	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session did not end after stdout became unreadable")
	}
}

// fakeALS はテスト用のAgda Language Server
type fakeALS struct {
	conn    jsonrpc2.Conn
	codec   ALSCodec
	version string
	respond func(line string) (CommandResult, []Prioritized)
}

func (f *fakeALS) handle(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	switch req.Method() {
	case lsp.MethodInitialize:
		return reply(ctx, &lsp.InitializeResult{ServerInfo: &lsp.ServerInfo{Name: "agda-language-server"}}, nil)
	case alsRequestMethod:
	default:
		return reply(ctx, nil, nil)
	}

	cmd, err := f.codec.DecodeCommandRequest(req.Params())
	if err != nil {
		return reply(ctx, nil, err)
	}
	if cmd.SYN {
		ack, _ := f.codec.EncodeCommandResult(CommandResult{ACK: true, Version: f.version})
		return reply(ctx, json.RawMessage(ack), nil)
	}

	res, responses := f.respond(cmd.IOTCM)
	encoded, _ := f.codec.EncodeCommandResult(res)
	if err := reply(ctx, json.RawMessage(encoded), nil); err != nil {
		return err
	}

	// ハンドラは読み取りループ上で動くので、応答は別goroutineから送る
	go func() {
		for _, p := range responses {
			frame, err := f.codec.EncodeResponse(p)
			if err != nil {
				return
			}
			var ack json.RawMessage
			if _, err := f.conn.Call(context.Background(), alsRequestMethod, json.RawMessage(frame), &ack); err != nil {
				return
			}
		}
	}()
	return nil
}

func newALSPair(t *testing.T, respond func(line string) (CommandResult, []Prioritized)) (*ALSSession, *fakeALS) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	client, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	server := <-accepted

	f := &fakeALS{version: "Agda v2.6.4 Language Server v5", respond: respond}
	f.conn = jsonrpc2.NewConn(jsonrpc2.NewStream(server))
	f.conn.Go(context.Background(), f.handle)

	s := NewALSSession(client, zaptest.NewLogger(t))
	t.Cleanup(func() {
		s.Close()
		f.conn.Close()
		ln.Close()
	})
	return s, f
}

func TestALSSession_HandshakeAndSend(t *testing.T) {
	s, _ := newALSPair(t, func(line string) (CommandResult, []Prioritized) {
		return CommandResult{}, []Prioritized{
			Classify(RunningInfo{Verbosity: 1, Message: "Checking A"}),
			Classify(InteractionPoints{Goals: []int{0}}),
			Classify(Status{Checked: true}),
			EndOfResponses(),
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	version, err := s.Handshake(ctx)
	if err != nil {
		t.Fatalf("Handshake() error = %v", err)
	}
	if version != "Agda v2.6.4 Language Server v5" {
		t.Errorf("version = %q", version)
	}

	var got []Prioritized
	if err := s.Send(ctx, loadRequest, func(p Prioritized) { got = append(got, p) }); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	wantKinds := []Kind{NonLast, Last, NonLast, End}
	if len(got) != len(wantKinds) {
		t.Fatalf("got %v", got)
	}
	for i, k := range wantKinds {
		if got[i].Kind != k {
			t.Errorf("response %d kind = %v, want %v", i, got[i].Kind, k)
		}
	}
}

func TestALSSession_CommandRejected(t *testing.T) {
	s, _ := newALSPair(t, func(line string) (CommandResult, []Prioritized) {
		if strings.Contains(line, "Cmd_load") {
			return CommandResult{Err: &CommandErr{Kind: "CmdErrCannotParseCommand", Detail: "bad"}}, nil
		}
		return CommandResult{}, []Prioritized{EndOfResponses()}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := s.Handshake(ctx); err != nil {
		t.Fatalf("Handshake() error = %v", err)
	}

	err := s.Send(ctx, loadRequest, func(Prioritized) {})
	var perr *ProtocolError
	if !errors.As(err, &perr) || perr.Kind != SendCommand {
		t.Fatalf("Send() error = %v, want SendCommand *ProtocolError", err)
	}
	var cmdErr *CommandErr
	if !errors.As(err, &cmdErr) || cmdErr.Kind != "CmdErrCannotParseCommand" {
		t.Errorf("Send() error = %v, want *CommandErr inside", err)
	}

	// 拒否された後もセッションは使える
	var got []Prioritized
	if err := s.Send(ctx, constraintsRequest, func(p Prioritized) { got = append(got, p) }); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if len(got) != 1 || got[0].Kind != End {
		t.Errorf("got %v, want only End", got)
	}
}

func TestALSSession_ClosedConnection(t *testing.T) {
	s, f := newALSPair(t, func(string) (CommandResult, []Prioritized) { return CommandResult{}, nil })
	f.conn.Close()

	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session did not notice the closed connection")
	}
	if err := s.Send(context.Background(), loadRequest, func(Prioritized) {}); err == nil {
		t.Error("Send() on a closed connection should fail")
	}
}
