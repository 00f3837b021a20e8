package transport

import (
	"bufio"
	"bytes"
	"context"
)

// Prompt はagda --interaction が入力待ちで出力するプロンプト
const Prompt = "Agda2> "

// SubprocessTransport はagda --interaction をサブプロセスとして起動するTransport実装
type SubprocessTransport struct {
	*process

	msgChan chan RawMessage
}

// NewSubprocessTransport は新しいSubprocessTransportを作成する
func NewSubprocessTransport(config Config) *SubprocessTransport {
	return &SubprocessTransport{
		process: newProcess(config),
		msgChan: make(chan RawMessage, 100),
	}
}

// Connect はプロセスを起動して接続する
func (t *SubprocessTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.connected {
		return nil
	}

	if err := t.start(ctx); err != nil {
		return err
	}

	t.readers.Add(1)
	go t.readLoop()
	go t.waitProcess()

	return nil
}

func (t *SubprocessTransport) readLoop() {
	defer t.readers.Done()
	defer close(t.msgChan)

	scanner := bufio.NewScanner(t.stdout)
	// 初期容量が上限を超えると上限が効かない
	buf := make([]byte, 0, min(bufio.MaxScanTokenSize, t.config.MaxBufferSize))
	scanner.Buffer(buf, t.config.MaxBufferSize)
	scanner.Split(ScanFrames)

	for scanner.Scan() {
		frame := scanner.Bytes()
		msg := RawMessage{Prompt: string(frame) == Prompt}
		if !msg.Prompt {
			frame = bytes.TrimRight(frame, "\r")
			if len(bytes.TrimSpace(frame)) == 0 {
				continue
			}
		}
		// scannerのバッファは再利用されるのでコピーする
		msg.Raw = append([]byte(nil), frame...)

		select {
		case t.msgChan <- msg:
		case <-t.closeChan:
			return
		}
	}

	if err := scanner.Err(); err != nil {
		select {
		case <-t.closeChan:
			return
		default:
		}
		select {
		case t.errChan <- &IOError{Op: "stdout read", Err: err}:
		default:
		}
		// stdoutを読めなくなったら接続を続けられないのでプロセスを終了する
		t.close()
	}
}

// ScanFrames はstdoutを行に分割するbufio.SplitFunc
// 改行を伴わずに出力されるプロンプトは単独のフレームとして切り出す
func ScanFrames(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	if bytes.HasPrefix(data, []byte(Prompt)) {
		return len(Prompt), data[:len(Prompt)], nil
	}

	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		return i + 1, data[:i], nil
	}

	if atEOF {
		return len(data), data, nil
	}

	return 0, nil, nil
}

// Write はプロセスのstdinに1行書き込む
func (t *SubprocessTransport) Write(data []byte) error {
	return t.write(data)
}

// Messages はstdoutのフレームのチャネルを返す
func (t *SubprocessTransport) Messages() <-chan RawMessage {
	return t.msgChan
}

// Stderr はstderrの行のチャネルを返す
func (t *SubprocessTransport) Stderr() <-chan string {
	return t.stderrChan
}

// Errors は読み取りエラーとプロセス終了のチャネルを返す
func (t *SubprocessTransport) Errors() <-chan error {
	return t.errChan
}

// EndInput はstdinをクローズする
func (t *SubprocessTransport) EndInput() error {
	return t.endInput()
}

// Close はプロセスを終了する
func (t *SubprocessTransport) Close() error {
	return t.close()
}

// IsConnected は接続状態を返す
func (t *SubprocessTransport) IsConnected() bool {
	return t.isConnected()
}
