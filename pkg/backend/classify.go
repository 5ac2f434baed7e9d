package backend

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/shouni/go-manga-studio/pkg/domain"

	"google.golang.org/genai"
)

// Classify は生成サービスのエラーを分類付きの GenerationError に変換します。
// 分類は HTTP ステータスと gRPC ステータス名だけから決まり、メッセージ文字列は見ません。
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var ge *domain.GenerationError
	if errors.As(err, &ge) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.NewGenerationError(domain.KindTransient5xx, op, err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return domain.NewGenerationError(domain.KindTransient5xx, op, err)
	}
	code, status, ok := apiError(err)
	if !ok {
		return domain.NewGenerationError(domain.KindUnknown, op, err)
	}
	return domain.NewGenerationError(KindFromStatus(code, status), op, err)
}

func apiError(err error) (int, string, bool) {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code, apiErr.Status, true
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return apiErrPtr.Code, apiErrPtr.Status, true
	}
	return 0, "", false
}

// KindFromStatus は HTTP コードとステータス名から分類を決める全域関数なのだ。
func KindFromStatus(code int, status string) domain.ErrorKind {
	switch {
	case code == http.StatusUnauthorized, code == http.StatusForbidden,
		status == "PERMISSION_DENIED", status == "UNAUTHENTICATED":
		return domain.KindAccessDenied
	case code == http.StatusNotFound, status == "NOT_FOUND":
		return domain.KindModelUnavailable
	case code == http.StatusTooManyRequests, status == "RESOURCE_EXHAUSTED":
		return domain.KindRateLimited
	case code == http.StatusServiceUnavailable, status == "UNAVAILABLE":
		return domain.KindOverloaded
	case code == http.StatusBadRequest, code == http.StatusUnprocessableEntity,
		status == "INVALID_ARGUMENT", status == "FAILED_PRECONDITION":
		return domain.KindInvalidRequest
	case code >= 500, status == "INTERNAL", status == "DEADLINE_EXCEEDED":
		return domain.KindTransient5xx
	default:
		return domain.KindUnknown
	}
}
