package protocol

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lattice-iot/meridian/errs"
	"github.com/lattice-iot/meridian/hlc"
	"github.com/lattice-iot/meridian/session"
	"github.com/lattice-iot/meridian/topic"
	"github.com/lattice-iot/meridian/transport"
)

// DefaultTimeout is used when an invocation does not specify one.
const DefaultTimeout = 10 * time.Second

// pendingInvocation is the channel pair an in-flight Invoke call awaits.
type pendingInvocation struct {
	ret  chan invocationResult
	done chan struct{}
}

type invocationResult struct {
	payload  []byte
	metadata ResponseMetadata
	err      error
}

// CommandInvokerOptions configures a CommandInvoker.
type CommandInvokerOptions struct {
	ResponseTopicPattern string
	ResidentTokens       map[string]string
	Timeout              time.Duration
	Logger               *slog.Logger
}

// CommandInvoker sends typed requests to an identified executor and
// awaits the typed, correlated response.
type CommandInvoker[Req, Res any] struct {
	client         *session.Client
	requestTopic   string
	responseTopic  string
	residentTokens map[string]string
	requestEnc     Encoding[Req]
	responseEnc    Encoding[Res]
	clock          *hlc.Clock
	timeout        time.Duration
	log            *slog.Logger

	mu      sync.Mutex
	pending map[string]pendingInvocation

	subscribeOnce sync.Once
	subscribeErr  error
}

// NewCommandInvoker builds an invoker bound to requestTopicPattern. The
// response topic defaults to the request pattern under "clients/<id>/…"
// unless opts.ResponseTopicPattern overrides it.
func NewCommandInvoker[Req, Res any](
	client *session.Client,
	clock *hlc.Clock,
	clientID string,
	requestEncoding Encoding[Req],
	responseEncoding Encoding[Res],
	requestTopicPattern string,
	opts CommandInvokerOptions,
) (*CommandInvoker[Req, Res], error) {
	if _, outcome := topic.Parse(requestTopicPattern); outcome != topic.Valid {
		return nil, &errs.Error{Kind: errs.ConfigurationInvalid, IsShallow: true, Message: "invalid request topic pattern: " + outcome.String()}
	}

	responsePattern := opts.ResponseTopicPattern
	if responsePattern == "" {
		responsePattern = "clients/" + clientID + "/" + requestTopicPattern
	}
	if _, outcome := topic.Parse(responsePattern); outcome != topic.Valid {
		return nil, &errs.Error{Kind: errs.ConfigurationInvalid, IsShallow: true, Message: "invalid response topic pattern: " + outcome.String()}
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &CommandInvoker[Req, Res]{
		client:         client,
		requestTopic:   requestTopicPattern,
		responseTopic:  responsePattern,
		residentTokens: opts.ResidentTokens,
		requestEnc:     requestEncoding,
		responseEnc:    responseEncoding,
		clock:          clock,
		timeout:        timeout,
		log:            logger.With("component", "invoker"),
		pending:        make(map[string]pendingInvocation),
	}, nil
}

// Invoke sends req to the executor and blocks until the correlated
// response arrives, the timeout fires, or ctx is cancelled.
func (ci *CommandInvoker[Req, Res]) Invoke(ctx context.Context, req Req, meta *RequestMetadata) (res Res, respMeta ResponseMetadata, err error) {
	var zero Res

	if meta == nil {
		meta = &RequestMetadata{}
	}
	if meta.correlationSet {
		return zero, ResponseMetadata{}, &errs.Error{Kind: errs.InvocationException, Message: "duplicate request with same correlationId"}
	}
	if err := validateUserData(meta.UserData); err != nil {
		return zero, ResponseMetadata{}, err
	}

	if err := ci.ensureSubscribed(ctx); err != nil {
		return zero, ResponseMetadata{}, err
	}

	meta.CorrelationID = uuid.NewString()
	meta.correlationSet = true
	if v, err := ci.clock.UpdateNow(); err == nil {
		meta.Timestamp = v
	} else {
		meta.Timestamp = ci.clock.Now()
	}

	ctx, span := startInvokeSpan(ctx, ci.requestTopic, meta.CorrelationID)
	defer func() { endSpan(span, respMeta.Status, err) }()

	responseFilter, outcome := topic.Resolve(ci.responseTopic, ci.residentTokens, meta.TopicTokens)
	if outcome != topic.Valid {
		return zero, ResponseMetadata{}, &errs.Error{Kind: errs.ArgumentInvalid, IsShallow: true, Message: "unresolved response topic tokens: " + outcome.String()}
	}
	requestTopic, outcome := topic.Resolve(ci.requestTopic, ci.residentTokens, meta.TopicTokens)
	if outcome != topic.Valid {
		return zero, ResponseMetadata{}, &errs.Error{Kind: errs.ArgumentInvalid, IsShallow: true, Message: "unresolved request topic tokens: " + outcome.String()}
	}

	payload, err := ci.requestEnc.Encode(req)
	if err != nil {
		return zero, ResponseMetadata{}, &errs.Error{Kind: errs.PayloadInvalid, IsShallow: true, Message: err.Error()}
	}

	ret, done := ci.initPending(meta.CorrelationID)
	defer func() {
		ci.mu.Lock()
		delete(ci.pending, meta.CorrelationID)
		ci.mu.Unlock()
		close(done)
	}()

	opts := []transport.PublishOption{
		transport.WithQoS(1),
		transport.WithResponseTopic(responseFilter),
		transport.WithCorrelationData([]byte(meta.CorrelationID)),
		transport.WithUserProperty(KeyTimestamp, meta.Timestamp.Encode()),
		transport.WithUserProperty(KeySourceID, meta.InvokerClientID),
		transport.WithUserProperty(KeyInvokerID, meta.InvokerClientID),
		transport.WithMessageExpiry(uint32(ci.timeout.Seconds())),
	}
	if meta.FencingToken != nil {
		opts = append(opts, transport.WithUserProperty(KeyFencingToken, meta.FencingToken.Encode()))
	}
	for k, v := range meta.UserData {
		opts = append(opts, transport.WithUserProperty(k, v))
	}

	if err := ci.client.Publish(ctx, requestTopic, payload, opts...); err != nil {
		invocationsSent.WithLabelValues("publish_error").Inc()
		return zero, ResponseMetadata{}, err
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, ci.timeout)
	defer cancel()

	select {
	case result := <-ret:
		if result.err != nil {
			invocationsSent.WithLabelValues("remote_error").Inc()
			return zero, result.metadata, result.err
		}
		res, err := ci.responseEnc.Decode(result.payload)
		if err != nil {
			invocationsSent.WithLabelValues("decode_error").Inc()
			return zero, result.metadata, &errs.Error{Kind: errs.PayloadInvalid, Message: err.Error()}
		}
		invocationsSent.WithLabelValues("ok").Inc()
		return res, result.metadata, nil
	case <-timeoutCtx.Done():
		if ctx.Err() != nil {
			invocationsSent.WithLabelValues("cancelled").Inc()
			return zero, ResponseMetadata{}, &errs.Error{Kind: errs.Cancellation, Message: "invocation cancelled by caller"}
		}
		invocationsSent.WithLabelValues("timeout").Inc()
		return zero, ResponseMetadata{}, &errs.Error{Kind: errs.Timeout, TimeoutName: "InvocationTimeout", TimeoutValue: ci.timeout.String()}
	}
}

func (ci *CommandInvoker[Req, Res]) initPending(correlationID string) (<-chan invocationResult, chan struct{}) {
	ret := make(chan invocationResult, 1)
	done := make(chan struct{})
	ci.mu.Lock()
	ci.pending[correlationID] = pendingInvocation{ret: ret, done: done}
	ci.mu.Unlock()
	return ret, done
}

// ensureSubscribed lazily subscribes to the response topic filter exactly
// once, on the first Invoke call.
func (ci *CommandInvoker[Req, Res]) ensureSubscribed(ctx context.Context) error {
	ci.subscribeOnce.Do(func() {
		filter, outcome := topic.Resolve(ci.responseTopic, ci.residentTokens, nil)
		if outcome != topic.Valid {
			ci.subscribeErr = &errs.Error{Kind: errs.ConfigurationInvalid, IsShallow: true, Message: "unresolved response topic filter: " + outcome.String()}
			return
		}
		ci.subscribeErr = ci.client.Subscribe(ctx, filter, 1, ci.onResponse)
	})
	return ci.subscribeErr
}

func (ci *CommandInvoker[Req, Res]) onResponse(c *session.Client, m session.Message) {
	defer func() {
		if m.Ack != nil {
			if err := c.Acknowledge(m.Ack); err != nil {
				ci.log.Warn("failed to acknowledge response", "error", err)
			}
		}
	}()

	correlationID := ""
	var meta ResponseMetadata
	if m.Properties != nil {
		correlationID = string(m.Properties.CorrelationData)
		meta = metadataFromProperties(m.Properties)
		if meta.Timestamp != (hlc.Value{}) {
			if _, err := ci.clock.Update(meta.Timestamp); err != nil {
				ci.log.Warn("rejected HLC update from response timestamp", "error", err)
			}
		}
	}

	ci.mu.Lock()
	pending, ok := ci.pending[correlationID]
	ci.mu.Unlock()
	if !ok {
		ci.log.Debug("response not for this invoker", "correlation_id", correlationID)
		return
	}

	result := invocationResult{payload: m.Payload, metadata: meta}
	if !meta.Status.Success() {
		result.err = statusToError(meta)
	}

	select {
	case pending.ret <- result:
	case <-pending.done:
	}
}

// metadataFromProperties reconstructs ResponseMetadata from the reserved
// user properties carried on a response publish.
func metadataFromProperties(p *transport.Properties) ResponseMetadata {
	meta := ResponseMetadata{
		CorrelationID: string(p.CorrelationData),
		Status:        StatusOK,
		UserData:      make(map[string]string),
	}
	for k, v := range p.UserProperties {
		switch k {
		case KeyTimestamp:
			if ts, err := hlc.Decode(KeyTimestamp, v); err == nil {
				meta.Timestamp = ts
			}
		case KeyStatus:
			if code, err := strconv.Atoi(v); err == nil {
				meta.Status = Status(code)
			}
		case KeyStatusMessage:
			meta.StatusMessage = v
		case KeyIsApplicationError:
			meta.IsApplicationError = v == "true"
		case KeyProtocolVersion:
			meta.ProtocolVersion = v
		case KeySupportedMajorVersions:
			meta.SupportedVersions = v
		default:
			if !IsReservedKey(k) {
				meta.UserData[k] = v
			}
		}
	}
	return meta
}

func statusToError(meta ResponseMetadata) error {
	if meta.ProtocolVersion != "" || meta.SupportedVersions != "" {
		return &errs.Error{
			Kind:              errs.UnsupportedVersion,
			IsRemote:          true,
			ProtocolVersion:   meta.ProtocolVersion,
			SupportedVersions: meta.SupportedVersions,
			Message:           meta.StatusMessage,
		}
	}
	return &errs.Error{
		Kind:          errs.InvocationException,
		IsRemote:      true,
		InApplication: meta.IsApplicationError,
		HTTPStatus:    int(meta.Status),
		Message:       meta.StatusMessage,
	}
}
