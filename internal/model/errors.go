// Package model はゲートウェイが扱うドメインモデルとエラー分類を定義する。
package model

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind はゲートウェイ内部のエラー分類を表す。
// どのアップストリーム（gRPC / HTTP）で発生したかに関係なく同じ分類を使う。
type Kind string

// 定義済みエラー分類
const (
	KindValidation      Kind = "VALIDATION_ERROR"
	KindUnauthenticated Kind = "UNAUTHENTICATED"
	KindNotFound        Kind = "NOT_FOUND"
	KindUpstream        Kind = "UPSTREAM_ERROR"
	KindUpstreamAuth    Kind = "UPSTREAM_AUTH_ERROR"
	KindNetwork         Kind = "NETWORK_ERROR"
	KindUnavailable     Kind = "UNAVAILABLE"
	KindInternal        Kind = "INTERNAL_ERROR"
)

// genericFailureMessage はバックエンドに到達できない場合にクライアントへ返す固定メッセージ。
const genericFailureMessage = "upstream service is unavailable"

// Error はゲートウェイ全体で共通のエラー型。
// クライアント層の境界で分類され、ハンドラーはこの型だけを扱う。
type Error struct {
	Kind Kind
	// Status はKindUpstreamの場合のみ使用するアップストリームのHTTPステータス。
	Status int
	// Message はクライアントに返す説明。
	Message string
	// Body はアップストリームが返した生のレスポンスボディ。ログ専用。
	Body string
	// Err は根本原因。ログ専用。
	Err error
}

// Error はerrorインターフェースを実装する。
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap は根本原因を返す。
func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatus はエラー分類に対応するHTTPステータスコードを返す。
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindUnauthenticated, KindUpstreamAuth:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindUpstream:
		if e.Status >= 400 && e.Status <= 599 {
			return e.Status
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage はクライアントに返してよいメッセージを返す。
// 到達不能系のエラーは原因を隠して固定文言にする。
func (e *Error) PublicMessage() string {
	switch e.Kind {
	case KindNetwork, KindUnavailable:
		return genericFailureMessage
	case KindInternal:
		if e.Message == "" {
			return "internal server error"
		}
	}
	return e.Message
}

// NewValidationError は入力不正エラーを生成する。
func NewValidationError(message string) *Error {
	return &Error{Kind: KindValidation, Message: message}
}

// NewUnauthenticatedError は未認証エラーを生成する。
func NewUnauthenticatedError(message string) *Error {
	return &Error{Kind: KindUnauthenticated, Message: message}
}

// NewNotFoundError はリソース未検出エラーを生成する。
func NewNotFoundError(message string) *Error {
	return &Error{Kind: KindNotFound, Message: message}
}

// NewUpstreamError はアップストリームが非2xxを返した場合のエラーを生成する。
// statusとbodyは加工せずにそのまま保持する。
func NewUpstreamError(status int, message, body string) *Error {
	return &Error{Kind: KindUpstream, Status: status, Message: message, Body: body}
}

// NewUpstreamAuthError はIdPが認可コードやトークンを拒否した場合のエラーを生成する。
func NewUpstreamAuthError(message string, err error) *Error {
	return &Error{Kind: KindUpstreamAuth, Message: message, Err: err}
}

// NewNetworkError は通信失敗エラーを生成する。
func NewNetworkError(message string, err error) *Error {
	return &Error{Kind: KindNetwork, Message: message, Err: err}
}

// NewUnavailableError は接続不能エラーを生成する。
func NewUnavailableError(message string, err error) *Error {
	return &Error{Kind: KindUnavailable, Message: message, Err: err}
}

// NewInternalError は内部エラーを生成する。
func NewInternalError(message string, err error) *Error {
	return &Error{Kind: KindInternal, Message: message, Err: err}
}

// AsError は任意のエラーを*Errorに変換する。
// 分類されていないエラーはKindInternalとして扱う。
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return NewInternalError("internal server error", err)
}

// IsKind はerrが指定した分類のエラーかどうかを返す。
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
