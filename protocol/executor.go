package protocol

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/lattice-iot/meridian/errs"
	"github.com/lattice-iot/meridian/hlc"
	"github.com/lattice-iot/meridian/session"
	"github.com/lattice-iot/meridian/topic"
	"github.com/lattice-iot/meridian/transport"
)

// CommandHandler is user code executing a single command. It is treated
// as blocking; the executor bounds its concurrency. It must be safe for
// concurrent invocation.
type CommandHandler[Req, Res any] func(context.Context, Req, RequestMetadata) (Res, error)

// CommandExecutorOptions configures a CommandExecutor.
type CommandExecutorOptions struct {
	Idempotent  bool
	CacheTTL    time.Duration
	Concurrency int
	Timeout     time.Duration
	ShareName   string
	Logger      *slog.Logger
}

// CommandExecutor subscribes to a request topic pattern, dispatches
// received requests to user code with bounded concurrency, and publishes
// correlated responses.
type CommandExecutor[Req, Res any] struct {
	client       *session.Client
	requestTopic string
	requestEnc   Encoding[Req]
	responseEnc  Encoding[Res]
	handler      CommandHandler[Req, Res]
	clock        *hlc.Clock
	clientID     string

	timeout time.Duration
	disp    *dispatcher
	cache   *ResponseCache
	log     *slog.Logger
}

// NewCommandExecutor builds an executor bound to requestTopicPattern.
func NewCommandExecutor[Req, Res any](
	client *session.Client,
	clock *hlc.Clock,
	clientID string,
	requestEncoding Encoding[Req],
	responseEncoding Encoding[Res],
	requestTopicPattern string,
	handler CommandHandler[Req, Res],
	opts CommandExecutorOptions,
) (*CommandExecutor[Req, Res], error) {
	if !opts.Idempotent && opts.CacheTTL != 0 {
		return nil, &errs.Error{Kind: errs.ConfigurationInvalid, IsShallow: true, PropertyName: "CacheTTL", Message: "CacheTTL must be zero for non-idempotent commands"}
	}
	if opts.CacheTTL < 0 {
		return nil, &errs.Error{Kind: errs.ConfigurationInvalid, IsShallow: true, PropertyName: "CacheTTL", Message: "CacheTTL must not be negative"}
	}
	if _, outcome := topic.Parse(requestTopicPattern); outcome != topic.Valid {
		return nil, &errs.Error{Kind: errs.ConfigurationInvalid, IsShallow: true, Message: "invalid request topic pattern: " + outcome.String()}
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &CommandExecutor[Req, Res]{
		client:       client,
		requestTopic: requestTopicPattern,
		requestEnc:   requestEncoding,
		responseEnc:  responseEncoding,
		handler:      handler,
		clock:        clock,
		clientID:     clientID,
		timeout:      timeout,
		disp:         dispatcherFor(clientID, opts.Concurrency),
		cache:        NewResponseCache(opts.CacheTTL),
		log:          logger.With("component", "executor"),
	}, nil
}

// Start subscribes to the resolved request topic, optionally behind a
// shared-subscription service group.
func (ce *CommandExecutor[Req, Res]) Start(ctx context.Context, shareName string) error {
	filter, outcome := topic.Resolve(ce.requestTopic, nil, nil)
	if outcome != topic.Valid {
		return &errs.Error{Kind: errs.ConfigurationInvalid, IsShallow: true, Message: "unresolved request topic filter: " + outcome.String()}
	}
	if shareName != "" {
		filter = "$share/" + shareName + "/" + filter
	}
	return ce.client.Subscribe(ctx, filter, 1, ce.onRequest)
}

// Stop unsubscribes from the request topic and stops the response cache's
// eviction sweep.
func (ce *CommandExecutor[Req, Res]) Stop(ctx context.Context) error {
	ce.cache.Close()
	filter, outcome := topic.Resolve(ce.requestTopic, nil, nil)
	if outcome != topic.Valid {
		return nil
	}
	return ce.client.Unsubscribe(ctx, filter)
}

func (ce *CommandExecutor[Req, Res]) onRequest(c *session.Client, m session.Message) {
	ack := func() error {
		if m.Ack == nil {
			return nil
		}
		return c.Acknowledge(m.Ack)
	}

	ce.disp.submit(context.Background(), ce.log, func() error {
		return ce.process(m)
	}, ack)
}

func (ce *CommandExecutor[Req, Res]) process(m session.Message) error {
	ctx, cancel := context.WithTimeout(context.Background(), ce.timeout)
	defer cancel()

	if m.Properties == nil || m.Properties.ResponseTopic == "" {
		ce.log.Warn("ignoring request with no response topic")
		return fmt.Errorf("missing response topic")
	}

	correlationID := string(m.Properties.CorrelationData)
	if !isValidCorrelationID(correlationID) {
		return ce.respondError(ctx, m, StatusBadRequest, "Correlation data bytes do not conform to a GUID", correlationID)
	}

	ctx, span := startExecuteSpan(ctx, ce.requestTopic, correlationID)
	var spanErr error
	var spanStatus Status
	defer func() { endSpan(span, spanStatus, spanErr) }()

	invokerID := m.Properties.UserProperties[KeySourceID]
	if invokerID == "" {
		invokerID = m.Properties.UserProperties[KeyInvokerID]
	}

	key := CacheKey{CommandName: ce.requestTopic, CorrelationID: correlationID, InvokerID: invokerID}
	start := time.Now()
	rpub, hit, err := ce.cache.Exec(key, func() (*CachedResponse, error) {
		return ce.execute(ctx, m, invokerID)
	})
	cacheLabel := "miss"
	if hit {
		cacheLabel = "hit"
	}
	commandDuration.WithLabelValues(cacheLabel).Observe(float64(time.Since(start).Milliseconds()))
	if err != nil {
		commandsExecuted.WithLabelValues("error").Inc()
		spanErr = err
		return err
	}
	if rpub == nil {
		commandsExecuted.WithLabelValues("error").Inc()
		return nil
	}
	status := "ok"
	if !rpub.Metadata.Status.Success() {
		status = "application_error"
	}
	commandsExecuted.WithLabelValues(status).Inc()
	spanStatus = rpub.Metadata.Status
	spanErr = ce.publish(ctx, m, rpub)
	return spanErr
}

// execute runs the user handler exactly once for a given cache key. The
// returned CachedResponse is what gets replayed on an idempotent-cache hit.
func (ce *CommandExecutor[Req, Res]) execute(ctx context.Context, m session.Message, invokerID string) (*CachedResponse, error) {
	req, err := ce.requestEnc.Decode(m.Payload)
	if err != nil {
		return ce.errorResponse(StatusBadRequest, err.Error()), nil
	}

	meta := RequestMetadata{
		CorrelationID:   string(m.Properties.CorrelationData),
		InvokerClientID: invokerID,
	}
	if ts, ok := m.Properties.UserProperties[KeyTimestamp]; ok {
		if v, err := hlc.Decode(KeyTimestamp, ts); err == nil {
			meta.Timestamp = v
		}
	}
	if ft, ok := m.Properties.UserProperties[KeyFencingToken]; ok {
		if v, err := hlc.Decode(KeyFencingToken, ft); err == nil {
			meta.FencingToken = &v
		}
	}

	res, herr := ce.runHandler(ctx, req, meta)
	if herr != nil {
		if kind, ok := errs.Of(herr); ok && kind == errs.Timeout {
			return ce.errorResponse(StatusRequestTimeout, herr.Error()), nil
		}
		return ce.errorResponse(StatusInternalServerError, herr.Error()), nil
	}

	payload, err := ce.responseEnc.Encode(res)
	if err != nil {
		return ce.errorResponse(StatusInternalServerError, err.Error()), nil
	}
	return &CachedResponse{
		Payload: payload,
		Metadata: ResponseMetadata{
			CorrelationID: meta.CorrelationID,
			Timestamp:     ce.stampResponseTime(meta.Timestamp),
			Status:        StatusOK,
		},
	}, nil
}

// stampResponseTime advances the executor's clock for the outgoing
// response, merging the invoker's request-side HLC value (the causal
// merge the reserved __ts header exists to carry) when the request
// carried one, falling back to a local tick otherwise.
func (ce *CommandExecutor[Req, Res]) stampResponseTime(requestTimestamp hlc.Value) hlc.Value {
	if requestTimestamp != (hlc.Value{}) {
		v, err := ce.clock.Update(requestTimestamp)
		if err == nil {
			return v
		}
		ce.log.Warn("rejected HLC update from request timestamp", "error", err)
	}
	if v, err := ce.clock.UpdateNow(); err == nil {
		return v
	}
	return ce.clock.Now()
}

// runHandler races the user handler against ctx, converting panics and
// returned errors into the runtime's tagged error kinds.
func (ce *CommandExecutor[Req, Res]) runHandler(ctx context.Context, req Req, meta RequestMetadata) (res Res, err error) {
	type result struct {
		res Res
		err error
	}
	rchan := make(chan result, 1)

	go func() {
		var r result
		defer func() {
			if p := recover(); p != nil {
				r.err = &errs.Error{Kind: errs.ExecutionException, InApplication: true, Message: fmt.Sprint(p)}
			}
			rchan <- r
		}()
		r.res, r.err = ce.handler(ctx, req, meta)
	}()

	select {
	case r := <-rchan:
		return r.res, r.err
	case <-ctx.Done():
		var zero Res
		return zero, &errs.Error{Kind: errs.Timeout, TimeoutName: "ExecutionTimeout"}
	}
}

func (ce *CommandExecutor[Req, Res]) errorResponse(status Status, message string) *CachedResponse {
	return &CachedResponse{
		Metadata: ResponseMetadata{
			Status:             status,
			StatusMessage:      message,
			IsApplicationError: status == StatusInternalServerError,
		},
	}
}

// respondError publishes an immediate error response for a request that
// never reaches the response cache (a malformed envelope, not a handler
// failure), tagging the offending property name and value in the response.
func (ce *CommandExecutor[Req, Res]) respondError(ctx context.Context, m session.Message, status Status, message, propertyValue string) error {
	opts := []transport.PublishOption{
		transport.WithQoS(1),
		transport.WithCorrelationData(m.Properties.CorrelationData),
		transport.WithUserProperty(KeyTimestamp, ce.clock.Now().Encode()),
		transport.WithUserProperty(KeyStatus, strconv.Itoa(int(status))),
		transport.WithUserProperty(KeyStatusMessage, message),
		transport.WithUserProperty(KeyPropertyName, "Correlation Data"),
		transport.WithUserProperty(KeyPropertyValue, propertyValue),
		transport.WithUserProperty(KeySenderID, ce.clientID),
	}
	return ce.client.Publish(ctx, m.Properties.ResponseTopic, nil, opts...)
}

func (ce *CommandExecutor[Req, Res]) publish(ctx context.Context, m session.Message, rpub *CachedResponse) error {
	opts := []transport.PublishOption{
		transport.WithQoS(1),
		transport.WithCorrelationData(m.Properties.CorrelationData),
		transport.WithUserProperty(KeyTimestamp, rpub.Metadata.Timestamp.Encode()),
		transport.WithUserProperty(KeyStatus, strconv.Itoa(int(rpub.Metadata.Status))),
		transport.WithUserProperty(KeySenderID, ce.clientID),
	}
	if rpub.Metadata.StatusMessage != "" {
		opts = append(opts, transport.WithUserProperty(KeyStatusMessage, rpub.Metadata.StatusMessage))
	}
	if rpub.Metadata.IsApplicationError {
		opts = append(opts, transport.WithUserProperty(KeyIsApplicationError, "true"))
	}
	for k, v := range rpub.Metadata.UserData {
		opts = append(opts, transport.WithUserProperty(k, v))
	}
	return ce.client.Publish(ctx, m.Properties.ResponseTopic, rpub.Payload, opts...)
}

// isValidCorrelationID reports whether s is a UUID in either its raw
// 16-byte binary form or its 36-character canonical string form, the two
// encodings an invoker may place in the MQTT correlation data property.
func isValidCorrelationID(s string) bool {
	switch len(s) {
	case 16:
		_, err := uuid.FromBytes([]byte(s))
		return err == nil
	case 36:
		_, err := uuid.Parse(s)
		return err == nil
	default:
		return false
	}
}
