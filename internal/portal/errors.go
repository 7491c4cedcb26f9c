package portal

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Стабильный набор кодов логических ошибок портала. Всё, что не
// распозналось, сводится к CodeProvider.
const (
	CodeNotFound        = "NOT_FOUND"
	CodePlanLimit       = "PLAN_LIMIT_EXCEEDED"
	CodeValidation      = "VALIDATION"
	CodeUnauthenticated = "UNAUTHENTICATED"
	CodeRateLimited     = "RATE_LIMITED"
	CodeProvider        = "PROVIDER_ERROR"
)

// Kind уточняет природу транзиентного сбоя — от неё зависит расписание
// повторов (connection повторяется медленнее).
type Kind int

const (
	KindServer Kind = iota // 5xx / null result
	KindConnection
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindTimeout:
		return "timeout"
	default:
		return "server"
	}
}

// TransientError — таймаут/обрыв/5xx. Повторяется с ограниченным
// backoff на месте вызова.
type TransientError struct {
	Op   string
	Kind Kind
	Err  error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("portal %s: transient (%s): %v", e.Op, e.Kind, e.Err)
}
func (e *TransientError) Unwrap() error { return e.Err }

// RateLimitedError — портал просит притормозить; один отложенный
// повтор, без эскалации.
type RateLimitedError struct {
	Op         string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("portal %s: rate limited (retry after %s)", e.Op, e.RetryAfter)
}

// AuthError — отказ аутентификации. Не повторяется, учётка уходит в
// invalid.
type AuthError struct {
	Op     string
	Reason string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("portal %s: authentication failed: %s", e.Op, e.Reason)
}

// NotFoundError — портал не знает такой записи. Для update это
// протухший указатель, для delete — идемпотентный no-op; в обоих
// случаях это не сбой.
type NotFoundError struct {
	Op  string
	Ref string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("portal %s: %q not found", e.Op, e.Ref)
}

type FieldError struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// BusinessRuleError — структурная бизнес-ошибка (лимит тарифа,
// валидация). Терминальна для задачи, наружу уходит как есть.
type BusinessRuleError struct {
	Op      string
	Code    string
	Message string
	Fields  []FieldError
}

func (e *BusinessRuleError) Error() string {
	return fmt.Sprintf("portal %s: %s: %s", e.Op, e.Code, e.Message)
}

// ConsistencyError — удалённая и локальная стороны разъехались
// (remote delete прошёл, локальный — нет, или наоборот). Требует
// ручной сверки, автоматикой не чинится.
type ConsistencyError struct {
	Op     string
	Detail string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("consistency: %s: %s", e.Op, e.Detail)
}

func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

func IsConnection(err error) bool {
	var t *TransientError
	return errors.As(err, &t) && t.Kind == KindConnection
}

func IsTimeout(err error) bool {
	var t *TransientError
	return errors.As(err, &t) && t.Kind == KindTimeout
}

func IsNotFound(err error) bool {
	var t *NotFoundError
	return errors.As(err, &t)
}

func IsRateLimited(err error) bool {
	var t *RateLimitedError
	return errors.As(err, &t)
}

func IsAuth(err error) bool {
	var t *AuthError
	return errors.As(err, &t)
}

func IsBusinessRule(err error) bool {
	var t *BusinessRuleError
	return errors.As(err, &t)
}

// Classification — строковый класс для ответов API и логов.
func Classification(err error) string {
	switch {
	case err == nil:
		return ""
	case IsNotFound(err):
		return "not_found"
	case IsRateLimited(err):
		return "rate_limited"
	case IsAuth(err):
		return "authentication"
	case IsBusinessRule(err):
		return "business_rule"
	case IsTransient(err):
		return "transient"
	default:
		var c *ConsistencyError
		if errors.As(err, &c) {
			return "consistency"
		}
		return "unknown"
	}
}

// classifyAPIError переводит логическую ошибку портала (errors[] при
// транспортном 200) в типизированную. Ветвимся по структурному коду;
// sniffCode — последний изолированный fallback по тексту.
func classifyAPIError(op string, e apiError) error {
	code := strings.ToUpper(strings.TrimSpace(e.Code))
	if code == "" {
		code = sniffCode(e.Message)
	}
	switch code {
	case CodeNotFound:
		return &NotFoundError{Op: op, Ref: e.Ref}
	case CodeUnauthenticated:
		return &AuthError{Op: op, Reason: e.Message}
	case CodeRateLimited:
		return &RateLimitedError{Op: op, RetryAfter: 30 * time.Minute}
	case CodePlanLimit, CodeValidation:
		return &BusinessRuleError{Op: op, Code: code, Message: e.Message, Fields: e.Fields}
	default:
		return &BusinessRuleError{Op: op, Code: CodeProvider, Message: e.Message, Fields: e.Fields}
	}
}

// sniffCode угадывает код по тексту провайдера. Хрупко, поэтому живёт
// в одном месте и используется только когда структурного кода нет.
func sniffCode(msg string) string {
	m := strings.ToLower(msg)
	switch {
	case strings.Contains(m, "not found"), strings.Contains(m, "does not exist"):
		return CodeNotFound
	case strings.Contains(m, "unauthorized"), strings.Contains(m, "invalid credentials"),
		strings.Contains(m, "invalid token"):
		return CodeUnauthenticated
	case strings.Contains(m, "rate limit"), strings.Contains(m, "too many requests"):
		return CodeRateLimited
	case strings.Contains(m, "limit exceeded"), strings.Contains(m, "plan"):
		return CodePlanLimit
	default:
		return ""
	}
}
