// Package response はすべてのハンドラーが使う統一レスポンスエンベロープを提供する。
//
// 成功は {"status":200,"data":...}、失敗は {"status":N,"message":"..."} として書き込む。
// ステータスの決定はmodel.Errorの分類表に一本化する。
package response

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/bookpanda/openexam/internal/model"
)

// Result は成功ペイロードかエラーのどちらか一方を持つハンドラーの戻り値。
type Result[T any] struct {
	status  int
	data    T
	message string
	ok      bool
	// cause はログ専用の根本原因。
	cause error
}

// OK は200の成功結果を返す。
func OK[T any](data T) Result[T] {
	return Result[T]{status: http.StatusOK, data: data, ok: true}
}

// Error は任意のステータスのエラー結果を返す。
// 4xx/5xx以外のステータスは500に丸める。
func Error[T any](status int, message string) Result[T] {
	if status < 400 || status > 599 {
		status = http.StatusInternalServerError
	}
	return Result[T]{status: status, message: message}
}

// BadRequest は400のエラー結果を返す。
func BadRequest[T any](message string) Result[T] {
	return Error[T](http.StatusBadRequest, message)
}

// NotFound は404のエラー結果を返す。
func NotFound[T any](message string) Result[T] {
	return Error[T](http.StatusNotFound, message)
}

// InternalError は500のエラー結果を返す。
func InternalError[T any](message string) Result[T] {
	return Error[T](http.StatusInternalServerError, message)
}

// FromError は分類済みエラーをエラー結果に変換する。
// ステータスとメッセージはmodel.Errorの分類に従う。
func FromError[T any](err error) Result[T] {
	e := model.AsError(err)
	if e == nil {
		return InternalError[T]("internal server error")
	}
	r := Error[T](e.HTTPStatus(), e.PublicMessage())
	r.cause = err
	return r
}

// Status はHTTPステータスを返す。
func (r Result[T]) Status() int {
	return r.status
}

// IsSuccess は成功結果かどうかを返す。
func (r Result[T]) IsSuccess() bool {
	return r.ok
}

// Data は成功ペイロードを返す。
func (r Result[T]) Data() T {
	return r.data
}

// Message はエラーメッセージを返す。
func (r Result[T]) Message() string {
	return r.message
}

// Write はエンベロープをJSONで書き込む。
func (r Result[T]) Write(w http.ResponseWriter) {
	if r.ok {
		WriteJSON(w, r.status, successBody{Status: r.status, Data: r.data})
		return
	}
	status := r.status
	if status == 0 {
		status = http.StatusInternalServerError
	}
	WriteJSON(w, status, errorBody{Status: status, Message: r.message})
}

type successBody struct {
	Status int `json:"status"`
	Data   any `json:"data"`
}

type errorBody struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

// Envelope はレスポンスのデコード用の形。テストやクライアントが使う。
type Envelope[T any] struct {
	Status  int    `json:"status"`
	Data    T      `json:"data"`
	Message string `json:"message"`
}

// WriteJSON はvをJSONで書き込む。
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write response", slog.String("error", err.Error()))
	}
}

// WriteError はerrを分類してエラーエンベロープを書き込む。
// ミドルウェアなどResultを経由しない箇所で使う。
func WriteError(w http.ResponseWriter, err error) {
	FromError[struct{}](err).Write(w)
}

// WriteMessage は指定したステータスとメッセージでエラーエンベロープを書き込む。
func WriteMessage(w http.ResponseWriter, status int, message string) {
	Error[struct{}](status, message).Write(w)
}

// HandlerFunc はResultを返すハンドラー。
type HandlerFunc[T any] func(r *http.Request) Result[T]

// Handle はHandlerFuncをhttp.HandlerFuncに変換する。
// 5xxの結果は根本原因とともにエラーログに記録する。
func Handle[T any](fn HandlerFunc[T]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result := fn(r)
		if !result.ok && result.status >= 500 {
			attrs := []any{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", result.status),
			}
			if result.cause != nil {
				attrs = append(attrs, slog.String("error", result.cause.Error()))
			}
			slog.ErrorContext(r.Context(), "request failed", attrs...)
		}
		result.Write(w)
	}
}
