package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// sumValue は {"tag": T, "contents": P} 形式の直和型の値
type sumValue struct {
	Tag      string          `json:"tag"`
	Contents json.RawMessage `json:"contents,omitempty"`
}

// Decoders はタグごとのペイロードデコーダ
type Decoders[T any] map[string]func(contents json.RawMessage) (T, error)

// DecodeSum は直和型の値をデコードし、タグに応じたデコーダに振り分ける
// 未知のタグは UnknownTag、ペイロードの不正は MalformedPayload の *DecodeError になる
func DecodeSum[T any](typeName string, data []byte, decoders Decoders[T]) (T, error) {
	var zero T

	var v sumValue
	if err := json.Unmarshal(data, &v); err != nil {
		return zero, malformed(typeName, "", "%v", err)
	}
	if v.Tag == "" {
		return zero, malformed(typeName, "", "missing tag")
	}

	decode, ok := decoders[v.Tag]
	if !ok {
		return zero, unknownTag(typeName, v.Tag)
	}

	result, err := decode(v.Contents)
	if err != nil {
		var decodeErr *DecodeError
		if errors.As(err, &decodeErr) {
			return zero, err
		}
		return zero, malformed(typeName, v.Tag, "%v", err)
	}
	return result, nil
}

// EncodeSum は直和型の値をエンコードする。payloadがnilならcontentsを省略する
func EncodeSum(tag string, payload any) ([]byte, error) {
	v := sumValue{Tag: tag}
	if payload != nil {
		contents, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		v.Contents = contents
	}
	return json.Marshal(v)
}

// tagOnly はcontentsを持たないコンストラクタのデコーダ
func tagOnly[T any](v T) func(json.RawMessage) (T, error) {
	return func(json.RawMessage) (T, error) { return v, nil }
}

// decodeTuple はJSON配列を要素ごとにデコードする
func decodeTuple(contents json.RawMessage, targets ...any) error {
	var elems []json.RawMessage
	if err := strictUnmarshal(contents, &elems); err != nil {
		return err
	}
	if len(elems) != len(targets) {
		return fmt.Errorf("expected tuple of %d elements, got %d", len(targets), len(elems))
	}
	for i, target := range targets {
		if err := strictUnmarshal(elems[i], target); err != nil {
			return err
		}
	}
	return nil
}

// strictUnmarshal はnullや欠落をエラーにする
func strictUnmarshal(data json.RawMessage, target any) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return errMissingContents
	}
	return json.Unmarshal(trimmed, target)
}

var errMissingContents = errors.New("missing contents")
