package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
)

const (
	DefaultMaxBufferSize = 10 * 1024 * 1024 // 10MB
	DefaultPath          = "agda"
)

// process はサブプロセスの起動・stderr監視・終了監視を担う
// SubprocessTransportとStdioTransportで共有する
type process struct {
	config Config

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser

	stderrChan chan string
	errChan    chan error
	closeChan  chan struct{}

	// stdoutとstderrの読み取りが終わるまでWaitを呼ばない
	readers sync.WaitGroup

	mu         sync.RWMutex
	connected  bool
	closed     bool
	exitStatus *ExitError
	stderrBuf  strings.Builder
}

func newProcess(config Config) *process {
	if config.Path == "" {
		config.Path = DefaultPath
	}
	if config.MaxBufferSize == 0 {
		config.MaxBufferSize = DefaultMaxBufferSize
	}

	return &process{
		config:     config,
		stderrChan: make(chan string, 100),
		errChan:    make(chan error, 10),
		closeChan:  make(chan struct{}),
	}
}

// start はプロセスを起動する。呼び出し側でmuを保持していること
func (p *process) start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// プロセスの寿命は接続時のctxではなくCloseで決まる
	p.cmd = exec.Command(p.config.Path, p.config.Args...)
	p.cmd.Env = p.buildEnv()
	p.cmd.Dir = p.config.CWD

	var err error
	p.stdin, err = p.cmd.StdinPipe()
	if err != nil {
		return &IOError{Op: "stdin pipe", Err: err}
	}

	p.stdout, err = p.cmd.StdoutPipe()
	if err != nil {
		return &IOError{Op: "stdout pipe", Err: err}
	}

	p.stderr, err = p.cmd.StderrPipe()
	if err != nil {
		return &IOError{Op: "stderr pipe", Err: err}
	}

	if err := p.cmd.Start(); err != nil {
		return &IOError{Op: "start " + p.config.Path, Err: err}
	}

	p.connected = true

	p.readers.Add(1)
	go p.readStderr()

	return nil
}

func (p *process) buildEnv() []string {
	env := os.Environ()
	for k, v := range p.config.Env {
		env = append(env, k+"="+v)
	}
	return env
}

func (p *process) readStderr() {
	defer p.readers.Done()

	scanner := bufio.NewScanner(p.stderr)
	for scanner.Scan() {
		line := scanner.Text()
		p.mu.Lock()
		p.stderrBuf.WriteString(line)
		p.stderrBuf.WriteString("\n")
		p.mu.Unlock()

		// 誰も読んでいなければ捨てる。全文はstderrBufに残る
		select {
		case p.stderrChan <- line:
		default:
		}
	}
	close(p.stderrChan)
}

func (p *process) waitProcess() {
	p.readers.Wait()
	err := p.cmd.Wait()

	p.mu.Lock()
	p.connected = false
	status := &ExitError{Stderr: p.stderrBuf.String()}
	if p.cmd.ProcessState != nil {
		status.Code = p.cmd.ProcessState.ExitCode()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		status.Code = exitErr.ExitCode()
	}
	p.exitStatus = status
	closed := p.closed
	p.mu.Unlock()

	// 自分で閉じた場合は終了をエラーとして通知しない
	if !closed {
		p.errChan <- status
	}
	close(p.errChan)
}

func (p *process) write(data []byte) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.connected || p.closed || p.stdin == nil {
		return fmt.Errorf("not connected")
	}

	if len(data) == 0 || data[len(data)-1] != '\n' {
		data = append(data, '\n')
	}

	if _, err := p.stdin.Write(data); err != nil {
		return &IOError{Op: "write", Err: err}
	}
	return nil
}

func (p *process) endInput() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stdin != nil {
		return p.stdin.Close()
	}
	return nil
}

func (p *process) close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	close(p.closeChan)

	if p.stdin != nil {
		p.stdin.Close()
	}

	if p.cmd != nil && p.cmd.Process != nil {
		p.cmd.Process.Kill()
	}

	return nil
}

func (p *process) isConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.connected && !p.closed
}

// ExitStatus はプロセスの終了状態を返す。終了前はnil
func (p *process) ExitStatus() *ExitError {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.exitStatus
}
