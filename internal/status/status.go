// Package status はネイティブ層とやり取りするステータスコードとエラー分類を定義する
//
// # 責務
// - 0 を成功とするプラットフォーム形式の整数コード
// - 呼び出し側が「未対応（想定内）」と「内部エラー（想定外）」を区別するための分類
//
// # 仕様
// - 定常運用中の失敗（resume, present, suspend）はコードで返す
// - 生成時の失敗は ErrCreationFailure としてエラーで返す
// - 解放処理の失敗はログに記録して処理を継続する
package status

import (
	"errors"
	"fmt"
)

// Code はネイティブ呼び出しの結果を表す整数コード
type Code int32

// POSIX 互換のコード
const (
	OK           Code = 0
	NotPermitted Code = 1  // EPERM
	IO           Code = 5  // EIO
	Busy         Code = 16 // EBUSY
	NoDevice     Code = 19 // ENODEV
	Invalid      Code = 22 // EINVAL
	NotSupported Code = 95 // ENOTSUP
	Failure      Code = -1 // 不明な失敗
)

// EGL 互換のコード
const (
	NotInitialized Code = 0x3001
	BadAccess      Code = 0x3002
	BadAlloc       Code = 0x3003
	BadConfig      Code = 0x3005
	BadContext     Code = 0x3006
	BadDisplay     Code = 0x3008
	BadSurface     Code = 0x300D
	ContextLost    Code = 0x300E
)

var names = map[Code]string{
	OK:             "ok",
	NotPermitted:   "not_permitted",
	IO:             "io",
	Busy:           "busy",
	NoDevice:       "no_device",
	Invalid:        "invalid",
	NotSupported:   "not_supported",
	Failure:        "failure",
	NotInitialized: "egl_not_initialized",
	BadAccess:      "egl_bad_access",
	BadAlloc:       "egl_bad_alloc",
	BadConfig:      "egl_bad_config",
	BadContext:     "egl_bad_context",
	BadDisplay:     "egl_bad_display",
	BadSurface:     "egl_bad_surface",
	ContextLost:    "egl_context_lost",
}

// String はコードの短い名前を返す。未知のコードは数値で表す
func (c Code) String() string {
	if name, ok := names[c]; ok {
		return name
	}
	return fmt.Sprintf("code(%#x)", int32(c))
}

// OK は成功を示すかどうかを返す
func (c Code) OK() bool { return c == OK }

// Expected はハードウェアやフォーマットの制約による想定内の失敗かどうかを返す
func (c Code) Expected() bool {
	return c == NotSupported
}

// Err はコードを error に変換する。OK の場合は nil
func (c Code) Err() error {
	if c == OK {
		return nil
	}
	return &Error{Code: c, Err: sentinelFor(c)}
}

// エラー分類
var (
	ErrResourceUnavailable = errors.New("resource unavailable")
	ErrDeviceNotFound      = fmt.Errorf("device not found: %w", ErrResourceUnavailable)
	ErrUnsupportedFormat   = errors.New("unsupported format")
	ErrInvalidSurface      = fmt.Errorf("invalid surface: %w", ErrUnsupportedFormat)
	ErrCreationFailure     = errors.New("creation failure")
	ErrDoubleRelease       = errors.New("double release")
	ErrNotFound            = errors.New("handle not found")
	ErrClosed              = errors.New("closed")
)

// Error はコードと原因を保持するエラー
type Error struct {
	Code Code
	Op   string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Code.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// New は操作名付きのエラーを作成する
func New(op string, code Code, err error) *Error {
	if err == nil {
		err = sentinelFor(code)
	}
	return &Error{Code: code, Op: op, Err: err}
}

// Of はエラーからコードを取り出す。分類できない場合は Failure
func Of(err error) Code {
	if err == nil {
		return OK
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	switch {
	case errors.Is(err, ErrUnsupportedFormat):
		return NotSupported
	case errors.Is(err, ErrDeviceNotFound):
		return NoDevice
	case errors.Is(err, ErrResourceUnavailable):
		return Busy
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrDoubleRelease):
		return Invalid
	}
	return Failure
}

// IsExpected は想定内の失敗（未対応フォーマットなど）かどうかを返す
func IsExpected(err error) bool {
	return err != nil && Of(err).Expected()
}

func sentinelFor(c Code) error {
	switch c {
	case NotSupported:
		return ErrUnsupportedFormat
	case Busy:
		return ErrResourceUnavailable
	case NoDevice:
		return ErrDeviceNotFound
	}
	return nil
}
