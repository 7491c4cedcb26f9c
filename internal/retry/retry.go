// Package retry — единая retry-политика для всех внешних вызовов
// (update/create/delete/login), чтобы не плодить ad hoc backoff по
// call-site'ам.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy описывает ограниченный повтор: число попыток, расписание пауз
// и предикат «этот сбой вообще стоит повторять».
type Policy struct {
	Attempts  int                                        // всего попыток, включая первую
	Delay     func(err error, attempt int) time.Duration // пауза после attempt-й неудачи (attempt с нуля)
	Retryable func(err error) bool                       // nil — повторяем всё
}

// Steps — фиксированное расписание пауз (2s, 4s, ...).
func Steps(delays ...time.Duration) func(error, int) time.Duration {
	return func(_ error, attempt int) time.Duration {
		if attempt < len(delays) {
			return delays[attempt]
		}
		if len(delays) == 0 {
			return 0
		}
		return delays[len(delays)-1]
	}
}

// Do выполняет op по политике p. Неповторяемая ошибка возвращается
// сразу, отмена контекста прерывает ожидание между попытками.
func Do(ctx context.Context, p Policy, op func() error) error {
	if p.Attempts <= 0 {
		p.Attempts = 1
	}

	var last error
	attempt := 0
	wrapped := func() error {
		err := op()
		if err == nil {
			return nil
		}
		last = err
		if p.Retryable != nil && !p.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	bo := backoff.WithContext(&policyBackOff{p: p, attempt: &attempt, last: &last}, ctx)
	return backoff.Retry(wrapped, bo)
}

// policyBackOff адаптирует Policy под backoff.BackOff: паузу выбирает
// по последней ошибке, после Attempts-й попытки останавливается.
type policyBackOff struct {
	p       Policy
	attempt *int
	last    *error
}

func (b *policyBackOff) NextBackOff() time.Duration {
	if *b.attempt >= b.p.Attempts-1 {
		return backoff.Stop
	}
	d := time.Duration(0)
	if b.p.Delay != nil {
		d = b.p.Delay(*b.last, *b.attempt)
	}
	*b.attempt++
	return d
}

func (b *policyBackOff) Reset() { *b.attempt = 0 }
