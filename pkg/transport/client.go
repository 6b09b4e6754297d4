// Package transport implements the protocol interfaces against a ServiceNow instance.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dukex/flowpatch/pkg/flowerrors"
	"github.com/dukex/flowpatch/pkg/otelhelper"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"resty.dev/v3"
)

const (
	graphqlPath = "/api/now/graphql"
	tablePath   = "/api/now/table/"
)

var errServerSide = errors.New("server side failure")

// Config holds the instance connection settings.
type Config struct {
	BaseURL  string
	Username string
	Password string
	Token    string
	Timeout  time.Duration

	// Consecutive server side failures before the breaker opens. Zero means 5.
	BreakerThreshold uint32
	// How long the breaker stays open. Zero means 30s.
	BreakerTimeout time.Duration
}

// Client talks to one platform instance over its REST and GraphQL APIs.
type Client struct {
	http    *resty.Client
	breaker *gobreaker.CircuitBreaker[*resty.Response]
	logger  *slog.Logger
	tracer  trace.Tracer
}

func New(cfg Config, logger *slog.Logger, tracer trace.Tracer) *Client {
	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetHeader("Accept", "application/json").
		SetHeader("Content-Type", "application/json")

	if cfg.Token != "" {
		httpClient.SetAuthToken(cfg.Token)
	} else if cfg.Username != "" {
		httpClient.SetBasicAuth(cfg.Username, cfg.Password)
	}

	if cfg.Timeout > 0 {
		httpClient.SetTimeout(cfg.Timeout)
	}

	threshold := cfg.BreakerThreshold
	if threshold == 0 {
		threshold = 5
	}

	openFor := cfg.BreakerTimeout
	if openFor == 0 {
		openFor = 30 * time.Second
	}

	logger = logger.With("module", "transport")

	breaker := gobreaker.NewCircuitBreaker[*resty.Response](gobreaker.Settings{
		Name:        "instance",
		MaxRequests: 1,
		Timeout:     openFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return &Client{
		http:    httpClient,
		breaker: breaker,
		logger:  logger,
		tracer:  otelhelper.OrNoop(tracer),
	}
}

// Close releases idle connections.
func (c *Client) Close() {
	c.http.Close()
}

type call struct {
	op     string
	method string
	path   string
	body   any
	params map[string]string
}

// do executes a call through the breaker and returns the raw body of a 2xx response.
func (c *Client) do(ctx context.Context, cl call) ([]byte, error) {
	ctx, span := otelhelper.StartSpan(ctx, c.tracer, "transport "+cl.op,
		attribute.String(otelhelper.OperationKey, cl.op),
		attribute.String(otelhelper.EndpointKey, cl.path),
	)
	defer span.End()

	res, err := c.breaker.Execute(func() (*resty.Response, error) {
		req := c.http.R().SetContext(ctx)
		if cl.body != nil {
			req.SetBody(cl.body)
		}

		if len(cl.params) > 0 {
			req.SetQueryParams(cl.params)
		}

		var (
			res *resty.Response
			err error
		)

		switch cl.method {
		case http.MethodGet:
			res, err = req.Get(cl.path)
		case http.MethodPatch:
			res, err = req.Patch(cl.path)
		case http.MethodDelete:
			res, err = req.Delete(cl.path)
		default:
			res, err = req.Post(cl.path)
		}

		if err != nil {
			return res, err
		}

		if res.StatusCode() >= http.StatusInternalServerError {
			return res, errServerSide
		}

		return res, nil
	})

	if err != nil && !errors.Is(err, errServerSide) {
		remote := &flowerrors.RemoteError{Op: cl.op, Message: err.Error(), Err: flowerrors.ErrRemoteMutationFailed}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			remote.Message = "circuit open: " + err.Error()
		}

		otelhelper.SetError(span, remote)
		c.logger.ErrorContext(ctx, "remote call failed", "op", cl.op, "path", cl.path, "error", err)

		return nil, remote
	}

	body := []byte(res.String())
	span.SetAttributes(attribute.Int(otelhelper.HTTPStatusKey, res.StatusCode()))

	if res.StatusCode() >= http.StatusBadRequest {
		message, detail := errorText(body)
		if message == "" {
			message = http.StatusText(res.StatusCode())
		}

		remote := flowerrors.NewRemoteError(cl.op, res.StatusCode(), message, detail)
		otelhelper.SetError(span, remote)
		c.logger.WarnContext(ctx, "remote call rejected", "op", cl.op, "path", cl.path, "status", res.StatusCode(), "message", message)

		return nil, remote
	}

	c.logger.DebugContext(ctx, "remote call", "op", cl.op, "path", cl.path, "status", res.StatusCode())

	return body, nil
}

// errorText extracts the platform's error message from a failed response body.
func errorText(body []byte) (string, string) {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
			Detail  string `json:"detail"`
		} `json:"error"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}

	if err := json.Unmarshal(body, &envelope); err != nil {
		return strings.TrimSpace(string(body)), ""
	}

	if envelope.Error.Message != "" {
		return envelope.Error.Message, envelope.Error.Detail
	}

	if len(envelope.Errors) > 0 {
		return envelope.Errors[0].Message, ""
	}

	return "", ""
}

// result unwraps the {"result": ...} envelope used by the table and scripted REST APIs.
func result(op string, body []byte) (json.RawMessage, error) {
	var envelope struct {
		Result json.RawMessage `json:"result"`
	}

	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, &flowerrors.RemoteError{
			Op:      op,
			Message: fmt.Sprintf("decoding response: %v", err),
			Err:     flowerrors.ErrRemoteMutationFailed,
		}
	}

	return envelope.Result, nil
}

func limitParam(limit int) string {
	return strconv.Itoa(limit)
}
