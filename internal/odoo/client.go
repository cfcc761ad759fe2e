// Package odoo provides an authenticated XML-RPC client for the Odoo external API.
package odoo

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/jarrod-lowe/jmap-service-libs/tracing"
	"github.com/kolo/xmlrpc"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jarrod-lowe/odoo-mailgate/internal/secret"
)

// Model and method used to hand inbound mail to Odoo's mail gateway.
const (
	ModelMailThread      = "mail.thread"
	MethodMessageProcess = "message_process"
)

const (
	serviceCommon = "common"
	serviceObject = "object"
)

// Binary marks a payload that must be sent as an XML-RPC base64 value.
// Raw messages are not guaranteed to be valid text.
type Binary []byte

// Config holds the connection parameters for an Odoo server.
type Config struct {
	Host     string `env:"ODOO_HOST,required"`
	Database string `env:"ODOO_DATABASE,required"`
	User     string `env:"ODOO_USER,required"`
	// Password is either the literal password or a secret reference
	// (an SSM parameter name or an SSM/Secrets Manager ARN).
	Password string `env:"ODOO_PASSWORD,required"`
	// InsecureSkipVerify disables TLS certificate verification.
	InsecureSkipVerify bool `env:"SSL_NO_VERIFY"`
}

// HTTPDoer abstracts HTTP client operations for dependency inversion.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// SecretResolver resolves a secret reference to its value.
type SecretResolver interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

// Client calls the Odoo external API. It authenticates lazily on first use
// and keeps the resolved password and session uid for its whole lifetime.
// Construct one per process and share it between invocations.
type Client struct {
	cfg        Config
	httpClient HTTPDoer
	secrets    SecretResolver

	mu            sync.Mutex
	password      string
	passwordReady bool
	uid           int64
	authenticated bool
}

// NewClient creates a new Client. secrets may be nil when the configured
// password is a literal.
func NewClient(cfg Config, httpClient HTTPDoer, secrets SecretResolver) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		secrets:    secrets,
	}
}

// NewHTTPClient returns an instrumented HTTP client for XML-RPC calls.
func NewHTTPClient(insecureSkipVerify bool) *http.Client {
	base := http.DefaultTransport.(*http.Transport).Clone()
	if insecureSkipVerify {
		base.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // explicit operator opt-out
	}
	return &http.Client{Transport: otelhttp.NewTransport(base)}
}

// Execute calls execute_kw on the object endpoint and returns the decoded result.
// Faults and protocol errors are returned as *Fault and *ProtocolError.
func (c *Client) Execute(ctx context.Context, model, method string, args []any, kwargs map[string]any) (any, error) {
	password, uid, err := c.session(ctx)
	if err != nil {
		return nil, err
	}

	if args == nil {
		args = []any{}
	}
	if kwargs == nil {
		kwargs = map[string]any{}
	}

	var result any
	err = c.call(ctx, serviceObject, "execute_kw",
		[]any{c.cfg.Database, uid, password, model, method, args, kwargs},
		&result,
		attribute.String("odoo.model", model),
		attribute.String("odoo.method", method),
	)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// MessageProcess hands a raw message to mail.thread/message_process.
// content is a string or Binary.
func (c *Client) MessageProcess(ctx context.Context, content any) (any, error) {
	return c.Execute(ctx, ModelMailThread, MethodMessageProcess, []any{false, content}, map[string]any{})
}

// session returns the password and uid, resolving and authenticating on first use.
func (c *Client) session(ctx context.Context) (string, int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.passwordReady {
		password, err := c.resolvePassword(ctx)
		if err != nil {
			return "", 0, err
		}
		c.password = password
		c.passwordReady = true
	}

	if !c.authenticated {
		uid, err := c.authenticate(ctx, c.password)
		if err != nil {
			return "", 0, err
		}
		c.uid = uid
		c.authenticated = true
	}

	return c.password, c.uid, nil
}

func (c *Client) resolvePassword(ctx context.Context) (string, error) {
	if !secret.IsReference(c.cfg.Password) {
		return c.cfg.Password, nil
	}
	if c.secrets == nil {
		return "", errors.New("odoo password is a secret reference but no resolver is configured")
	}
	password, err := c.secrets.Resolve(ctx, c.cfg.Password)
	if err != nil {
		return "", fmt.Errorf("resolve odoo password: %w", err)
	}
	return password, nil
}

func (c *Client) authenticate(ctx context.Context, password string) (int64, error) {
	var reply any
	err := c.call(ctx, serviceCommon, "authenticate",
		[]any{c.cfg.Database, c.cfg.User, password, map[string]any{}},
		&reply,
	)
	if err != nil {
		return 0, err
	}

	switch uid := reply.(type) {
	case int64:
		return uid, nil
	case int:
		return int64(uid), nil
	case bool:
		// Odoo answers false for bad credentials.
		return 0, &Fault{Code: FaultAccessDenied, Message: fmt.Sprintf("authentication failed for user %q on database %q", c.cfg.User, c.cfg.Database)}
	default:
		return 0, fmt.Errorf("unexpected authenticate result of type %T", reply)
	}
}

// endpoint returns the XML-RPC URL of a service.
func (c *Client) endpoint(service string) string {
	return strings.TrimRight(c.cfg.Host, "/") + "/xmlrpc/2/" + service
}

// call performs one XML-RPC method call and decodes the reply into reply.
func (c *Client) call(ctx context.Context, service, method string, params []any, reply any, attrs ...attribute.KeyValue) error {
	tracer := tracing.Tracer("odoo-xmlrpc")
	attrs = append([]attribute.KeyValue{
		attribute.String("rpc.service", service),
		attribute.String("rpc.method", method),
	}, attrs...)
	ctx, span := tracer.Start(ctx, "odoo.Call", trace.WithAttributes(attrs...))
	defer span.End()

	err := c.roundTrip(ctx, service, method, params, reply)
	if err != nil {
		tracing.RecordError(span, err)
	}
	return err
}

func (c *Client) roundTrip(ctx context.Context, service, method string, params []any, reply any) error {
	wire := make([]any, len(params))
	for i, p := range params {
		wire[i] = wireValue(p)
	}
	body, err := xmlrpc.EncodeMethodCall(method, wire...)
	if err != nil {
		return fmt.Errorf("encode %s call: %w", method, err)
	}

	url := c.endpoint(service)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "text/xml")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call %s on %s: %w", method, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &ProtocolError{
			URL:     url,
			Code:    resp.StatusCode,
			Message: statusMessage(resp),
		}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s response: %w", method, err)
	}

	response := xmlrpc.Response(data)
	if err := response.Err(); err != nil {
		var fault xmlrpc.FaultError
		if errors.As(err, &fault) {
			return &Fault{Code: FaultCode(fault.Code), Message: fault.String}
		}
		return fmt.Errorf("decode %s fault: %w", method, err)
	}
	if err := response.Unmarshal(reply); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	return nil
}

// wireValue replaces Binary values, including those nested in arrays and
// structs, with the base64 form the encoder emits as <base64>.
func wireValue(v any) any {
	switch v := v.(type) {
	case Binary:
		return xmlrpc.Base64(base64.StdEncoding.EncodeToString(v))
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = wireValue(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, e := range v {
			out[k] = wireValue(e)
		}
		return out
	default:
		return v
	}
}

// statusMessage returns the reason phrase of an HTTP response.
func statusMessage(resp *http.Response) string {
	if _, reason, ok := strings.Cut(resp.Status, " "); ok && reason != "" {
		return reason
	}
	return http.StatusText(resp.StatusCode)
}
