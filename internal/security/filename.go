// Package security はゲートウェイのセキュリティ機能を提供する。
//
// FilenameSanitizer はアップロード用の署名付きURLを発行する前にファイル名を正規化し、
// ファイルサービスのストレージキーにマークアップやパス区切りが混入しないようにする。
package security

import (
	"errors"
	"html"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// maxFilenameBytes はファイル名の最大バイト数。
const maxFilenameBytes = 255

// ErrEmptyFilename はサニタイズ後にファイル名が空になった場合のエラー。
var ErrEmptyFilename = errors.New("filename is empty after sanitization")

// FilenameSanitizer はファイル名のサニタイズ機能を提供する。
// bluemondayのポリシーを保持し、並行に呼び出してよい。
type FilenameSanitizer struct {
	policy *bluemonday.Policy
}

// NewFilenameSanitizer はFilenameSanitizerを生成する。
// すべてのタグを除去するStrictPolicyを使う。
func NewFilenameSanitizer() *FilenameSanitizer {
	return &FilenameSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize はファイル名を正規化して返す。
//   - HTMLタグを除去する
//   - パス区切り（/ と \）は _ に置き換える
//   - 制御文字を除去し、前後の空白と先頭のドットを取り除く
//   - 255バイトを超える場合は拡張子を残して切り詰める
func (s *FilenameSanitizer) Sanitize(name string) (string, error) {
	// StrictPolicyは&などをエスケープするため元に戻す
	cleaned := html.UnescapeString(s.policy.Sanitize(name))

	cleaned = strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\':
			return '_'
		case unicode.IsControl(r):
			return -1
		}
		return r
	}, cleaned)

	cleaned = strings.TrimSpace(cleaned)
	cleaned = strings.TrimLeft(cleaned, ".")
	cleaned = strings.TrimSpace(cleaned)

	if cleaned == "" {
		return "", ErrEmptyFilename
	}

	return truncate(cleaned, maxFilenameBytes), nil
}

// truncate は拡張子を保ったままUTF-8の境界でmaxBytes以内に切り詰める。
func truncate(name string, maxBytes int) string {
	if len(name) <= maxBytes {
		return name
	}

	ext := ""
	if i := strings.LastIndex(name, "."); i > 0 && len(name)-i <= 16 {
		ext = name[i:]
		name = name[:i]
	}

	limit := maxBytes - len(ext)
	for limit > 0 && !utf8.RuneStart(name[limit]) {
		limit--
	}
	return name[:limit] + ext
}
