package retry

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
)

// Request 一次逻辑调用的描述，Body 在每次尝试时重放
type Request struct {
	Provider string // 指标与日志标签，如 "deepseek"、"baidu"
	Method   string
	URL      string
	Header   http.Header
	Body     []byte
}

// Response 成功调用的结果，Body 已读取并解压
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Attempts   []AttemptRecord
	Elapsed    time.Duration
}

// Recorder receives one event per attempt and per finished call.
type Recorder interface {
	RecordAttempt(provider string, rec AttemptRecord)
	RecordCall(provider string, outcome Outcome, attempts int, elapsed time.Duration)
}

// Doer is the subset of *http.Client the executor needs.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Executor runs requests with per-attempt timeouts and capped exponential
// backoff. It holds no per-call state; concurrent Execute calls are
// independent.
type Executor struct {
	client   Doer
	clock    clock.Clock
	recorder Recorder
	logger   *slog.Logger
}

type Option func(*Executor)

func WithClock(c clock.Clock) Option {
	return func(e *Executor) { e.clock = c }
}

func WithRecorder(r Recorder) Option {
	return func(e *Executor) { e.recorder = r }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

func NewExecutor(client Doer, opts ...Option) *Executor {
	if client == nil {
		client = &http.Client{}
	}
	e := &Executor{
		client: client,
		clock:  clock.New(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute performs req under policy p. Attempts are strictly sequential and
// never exceed p.MaxAttempts. The error, when non-nil, is one of
// *TerminalError, *RetryExhaustedError or *CancelledError, or wraps
// ErrInvalidPolicy.
func (e *Executor) Execute(ctx context.Context, req Request, p Policy) (*Response, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if req.Method == "" {
		req.Method = http.MethodGet
	}

	start := e.clock.Now()
	records := make([]AttemptRecord, 0, p.MaxAttempts)
	var lastErr error

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, e.finishCancelled(req, records, start, err)
		}

		resp, rec, err := e.attempt(ctx, req, p, attempt)
		records = append(records, rec)
		e.recordAttempt(req.Provider, rec)

		decision := RetryDecision{Outcome: rec.Outcome, Type: rec.ErrorType}
		if err != nil {
			decision.Reason = err.Error()
		}

		switch rec.Outcome {
		case OutcomeSuccess:
			logDecision(e.logger, req.Provider, attempt, decision)
			resp.Attempts = records
			resp.Elapsed = e.clock.Since(start)
			e.recordCall(req.Provider, OutcomeSuccess, len(records), resp.Elapsed)
			return resp, nil

		case OutcomeTerminal:
			logDecision(e.logger, req.Provider, attempt, decision)
			e.recordCall(req.Provider, OutcomeTerminal, len(records), e.clock.Since(start))
			var te *TerminalError
			if errors.As(err, &te) {
				te.Attempts = records
				return nil, te
			}
			return nil, &TerminalError{URL: req.URL, Type: rec.ErrorType, Attempts: records, Err: err}

		case OutcomeCancelled:
			logDecision(e.logger, req.Provider, attempt, decision)
			return nil, e.finishCancelled(req, records, start, ctx.Err())
		}

		lastErr = err
		if attempt == p.MaxAttempts {
			break
		}

		decision.Delay = p.Backoff(attempt)
		logDecision(e.logger, req.Provider, attempt, decision)
		if err := e.wait(ctx, decision.Delay); err != nil {
			return nil, e.finishCancelled(req, records, start, err)
		}
	}

	elapsed := e.clock.Since(start)
	e.recordCall(req.Provider, OutcomeRetryable, len(records), elapsed)
	e.logger.Warn("⚠️ [重试耗尽] 所有尝试均失败",
		"provider", req.Provider,
		"url", req.URL,
		"attempts", len(records),
		"elapsed", elapsed,
		"last_error", lastErr)
	return nil, &RetryExhaustedError{URL: req.URL, Attempts: records, Last: lastErr}
}

// attempt runs one HTTP exchange, body read included, under p.Timeout.
func (e *Executor) attempt(ctx context.Context, req Request, p Policy, n int) (*Response, AttemptRecord, error) {
	start := e.clock.Now()
	rec := AttemptRecord{Attempt: n}
	finish := func(o Outcome, t ErrorType, err error) AttemptRecord {
		rec.Outcome = o
		rec.OutcomeStr = o.String()
		rec.ErrorType = t
		rec.Err = err
		rec.Elapsed = e.clock.Since(start)
		return rec
	}

	attemptCtx, cancel := e.clock.WithTimeout(ctx, p.Timeout)
	defer cancel()

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(attemptCtx, req.Method, req.URL, body)
	if err != nil {
		err = &TerminalError{URL: req.URL, Type: ErrorTypeRequest, Err: err}
		return nil, finish(OutcomeTerminal, ErrorTypeRequest, err), err
	}
	for key, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	if httpReq.Header.Get("Accept-Encoding") == "" {
		httpReq.Header.Set("Accept-Encoding", acceptEncoding)
	}

	resp, err := e.client.Do(httpReq)
	if err != nil {
		outcome, errType := ClassifyError(ctx, err)
		return nil, finish(outcome, errType, err), fmt.Errorf("attempt %d: %w", n, err)
	}

	rec.StatusCode = resp.StatusCode
	outcome, errType := ClassifyStatus(resp.StatusCode)
	data, err := readBody(resp, maxBodyBytes)
	if err != nil {
		if errors.Is(err, ErrResponseTooLarge) {
			err := &TerminalError{
				URL:        req.URL,
				StatusCode: resp.StatusCode,
				Type:       ErrorTypeParsing,
				Detail:     ErrResponseTooLarge.Error(),
				Err:        err,
			}
			return nil, finish(OutcomeTerminal, ErrorTypeParsing, err), err
		}
		// 状态码已决定终止时，响应体读取失败不改变结果，只丢失错误详情
		if outcome == OutcomeTerminal && ctx.Err() == nil {
			err := &TerminalError{
				URL:        req.URL,
				StatusCode: resp.StatusCode,
				Type:       errType,
				Err:        &StatusError{StatusCode: resp.StatusCode},
			}
			return nil, finish(OutcomeTerminal, errType, err), err
		}
		readOutcome, readType := ClassifyError(ctx, err)
		if readOutcome == OutcomeRetryable && attemptCtx.Err() == nil && readType == ErrorTypeNetwork {
			// 连接正常但内容无法解码
			readType = ErrorTypeParsing
		}
		return nil, finish(readOutcome, readType, err), fmt.Errorf("attempt %d: %w", n, err)
	}

	switch outcome {
	case OutcomeSuccess:
		out := &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}
		return out, finish(OutcomeSuccess, ErrorTypeUnknown, nil), nil
	case OutcomeTerminal:
		detail := extractDetail(data)
		err := &TerminalError{
			URL:        req.URL,
			StatusCode: resp.StatusCode,
			Type:       errType,
			Detail:     detail,
			Err:        &StatusError{StatusCode: resp.StatusCode, Detail: detail},
		}
		return nil, finish(OutcomeTerminal, errType, err), err
	default:
		err := &StatusError{StatusCode: resp.StatusCode, Detail: extractDetail(data)}
		return nil, finish(OutcomeRetryable, errType, err), fmt.Errorf("attempt %d: %w", n, err)
	}
}

func (e *Executor) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := e.clock.Timer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (e *Executor) finishCancelled(req Request, records []AttemptRecord, start time.Time, cause error) error {
	if cause == nil {
		cause = context.Canceled
	}
	e.recordCall(req.Provider, OutcomeCancelled, len(records), e.clock.Since(start))
	return &CancelledError{URL: req.URL, Attempts: records, Err: cause}
}

func (e *Executor) recordAttempt(provider string, rec AttemptRecord) {
	if e.recorder != nil {
		e.recorder.RecordAttempt(provider, rec)
	}
}

func (e *Executor) recordCall(provider string, outcome Outcome, attempts int, elapsed time.Duration) {
	if e.recorder != nil {
		e.recorder.RecordCall(provider, outcome, attempts, elapsed)
	}
}
