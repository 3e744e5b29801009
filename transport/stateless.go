package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/surrealgo/surreal/codec"
	"github.com/surrealgo/surreal/errs"
	"github.com/surrealgo/surreal/internal/debug"
	"github.com/surrealgo/surreal/rpc"
)

// StatelessTransport is a one-shot request/response transport: every
// call opens (or reuses, via the pooled http.Client) an HTTP exchange,
// carrying namespace, database, and bearer token as request metadata.
// Grounded on the health-check-gated client construction pattern used
// for the daemon's HTTP client, generalized from a bead-daemon RPC
// surface to the select/create/update/query RPC surface this spec names.
type StatelessTransport struct {
	baseURL string
	codec   codec.Codec
	client  *http.Client
	cfg     Config

	mu        sync.RWMutex
	token     string
	namespace string
	database  string
	closed    atomic.Bool

	ids rpc.IDAllocator
}

// Dial opens a StatelessTransport against cfg.URL. No network round
// trip happens here beyond what http.Client performs lazily on first
// use; callers that want to fail fast should issue a Ping.
func Dial(cfg Config) (*StatelessTransport, error) {
	c, err := codec.New(protocolOrDefault(cfg.Protocol))
	if err != nil {
		return nil, err
	}

	base := normalizeBaseURL(cfg.URL)
	if _, err := url.Parse(base); err != nil {
		return nil, errs.Wrap(errs.KindConnection, "parsing connection url", err)
	}

	httpClient := &http.Client{
		Timeout: cfg.requestTimeout(),
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: os.Getenv("SURREAL_INSECURE_SKIP_VERIFY") == "1",
			},
		},
	}

	return &StatelessTransport{
		baseURL:   base,
		codec:     c,
		client:    httpClient,
		cfg:       cfg,
		namespace: cfg.Namespace,
		database:  cfg.Database,
	}, nil
}

func normalizeBaseURL(raw string) string {
	return strings.TrimRight(raw, "/")
}

func protocolOrDefault(p codec.Protocol) codec.Protocol {
	if p == "" {
		return codec.ProtocolBinary
	}
	return p
}

func (t *StatelessTransport) Protocol() codec.Protocol { return t.codec.Protocol() }

func (t *StatelessTransport) Closed() bool { return t.closed.Load() }

func (t *StatelessTransport) Healthy() bool {
	if t.Closed() {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), t.cfg.requestTimeout())
	defer cancel()
	_, err := t.Send(ctx, "ping", nil)
	return err == nil
}

func (t *StatelessTransport) Close() error {
	t.closed.Store(true)
	t.client.CloseIdleConnections()
	return nil
}

// Send encodes one RPC request, POSTs it to the /rpc endpoint, and
// decodes the response. Each call is independent; request ids are
// allocated but not retained across calls.
func (t *StatelessTransport) Send(ctx context.Context, method string, params interface{}) (interface{}, error) {
	if t.Closed() {
		return nil, errs.ErrConnectionClosed
	}

	req := &rpc.Request{ID: t.ids.Next(), Method: method, Params: params}
	body, err := t.codec.Encode(req)
	if err != nil {
		return nil, errs.Wrap(errs.KindConnection, "encoding rpc request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/rpc", bytes.NewReader(body))
	if err != nil {
		return nil, errs.Wrap(errs.KindConnection, "building http request", err)
	}
	t.applyHeaders(httpReq)

	debug.Logf("stateless: -> %s id=%d\n", method, req.ID)

	resp, err := t.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errs.Wrap(errs.KindTimeout, "rpc call timed out", ctx.Err())
		}
		return nil, errs.Wrap(errs.KindConnection, "rpc call failed", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.Wrap(errs.KindConnection, "reading rpc response", err)
	}

	var out rpc.Response
	if err := t.codec.Decode(data, &out); err != nil {
		return nil, errs.Wrap(errs.KindConnection, "decoding rpc response", err)
	}
	if out.IsError() {
		return nil, errs.Newf(errs.KindQuery, "%s", out.Error.Message).WithCode(out.Error.Code)
	}
	return out.Result, nil
}

func (t *StatelessTransport) applyHeaders(req *http.Request) {
	req.Header.Set("Content-Type", contentTypeFor(t.codec.Protocol()))
	req.Header.Set("Accept", contentTypeFor(t.codec.Protocol()))

	t.mu.RLock()
	ns, db, token := t.namespace, t.database, t.token
	t.mu.RUnlock()

	if ns != "" {
		req.Header.Set("Surreal-NS", ns)
	}
	if db != "" {
		req.Header.Set("Surreal-DB", db)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

func contentTypeFor(p codec.Protocol) string {
	switch p {
	case codec.ProtocolText:
		return "application/json"
	default:
		return "application/cbor"
	}
}

// Authenticate signs in using user/password or an access method plus
// extra credentials, and stores the returned token for subsequent
// calls. A later call replaces the effective identity entirely —
// callers that need the earlier identity must authenticate again under
// a different transport.
func (t *StatelessTransport) Authenticate(ctx context.Context, creds Credentials) (string, error) {
	params := signinParams(creds)
	result, err := t.Send(ctx, "signin", params)
	if err != nil {
		return "", errs.Wrap(errs.KindAuthentication, "signin", err)
	}
	token, ok := result.(string)
	if !ok {
		return "", errs.New(errs.KindAuthentication, "signin did not return a token")
	}
	t.mu.Lock()
	t.token = token
	t.mu.Unlock()
	return token, nil
}

func signinParams(creds Credentials) map[string]interface{} {
	m := map[string]interface{}{}
	if creds.User != "" {
		m["user"] = creds.User
	}
	if creds.Password != "" {
		if creds.Access != "" {
			m["password"] = creds.Password
		} else {
			m["pass"] = creds.Password
		}
	}
	if creds.Namespace != "" {
		m["ns"] = creds.Namespace
	}
	if creds.Database != "" {
		m["db"] = creds.Database
	}
	if creds.Access != "" {
		m["access"] = creds.Access
	}
	for k, v := range creds.Extra {
		m[k] = v
	}
	return m
}

func (t *StatelessTransport) Use(ctx context.Context, namespace, database string) error {
	_, err := t.Send(ctx, "use", []interface{}{namespace, database})
	if err != nil {
		return errs.Wrap(errs.KindConnection, "use", err)
	}
	t.mu.Lock()
	t.namespace, t.database = namespace, database
	t.mu.Unlock()
	return nil
}

// --- document operations (each maps to exactly one RPC call) ---

func (t *StatelessTransport) Select(ctx context.Context, thing string) (interface{}, error) {
	return t.Send(ctx, "select", []interface{}{thing})
}

func (t *StatelessTransport) Create(ctx context.Context, thing string, data interface{}) (interface{}, error) {
	return t.Send(ctx, "create", []interface{}{thing, data})
}

func (t *StatelessTransport) Insert(ctx context.Context, table string, data interface{}) (interface{}, error) {
	return t.Send(ctx, "insert", []interface{}{table, data})
}

func (t *StatelessTransport) Update(ctx context.Context, thing string, data interface{}) (interface{}, error) {
	return t.Send(ctx, "update", []interface{}{thing, data})
}

func (t *StatelessTransport) Upsert(ctx context.Context, thing string, data interface{}) (interface{}, error) {
	return t.Send(ctx, "upsert", []interface{}{thing, data})
}

func (t *StatelessTransport) Merge(ctx context.Context, thing string, data interface{}) (interface{}, error) {
	return t.Send(ctx, "merge", []interface{}{thing, data})
}

func (t *StatelessTransport) Patch(ctx context.Context, thing string, patches interface{}) (interface{}, error) {
	return t.Send(ctx, "patch", []interface{}{thing, patches})
}

func (t *StatelessTransport) Delete(ctx context.Context, thing string) (interface{}, error) {
	return t.Send(ctx, "delete", []interface{}{thing})
}

func (t *StatelessTransport) Relate(ctx context.Context, from, relation, to string, data interface{}) (interface{}, error) {
	return t.Send(ctx, "relate", []interface{}{from, relation, to, data})
}

func (t *StatelessTransport) Query(ctx context.Context, sql string, vars map[string]interface{}) (interface{}, error) {
	return t.Send(ctx, "query", []interface{}{sql, vars})
}

func (t *StatelessTransport) Ping(ctx context.Context) error {
	_, err := t.Send(ctx, "ping", nil)
	return err
}

func (t *StatelessTransport) Version(ctx context.Context) (interface{}, error) {
	return t.Send(ctx, "version", nil)
}

func (t *StatelessTransport) Info(ctx context.Context) (interface{}, error) {
	return t.Send(ctx, "info", nil)
}

// --- REST fallback surface ---
// Mirrors the equivalent RPC for callers that cannot speak the RPC
// envelope: GET/POST/PUT/PATCH/DELETE on /key/:table[/:id].

func (t *StatelessTransport) RESTKeyPath(table, id string) string {
	if id == "" {
		return fmt.Sprintf("%s/key/%s", t.baseURL, table)
	}
	return fmt.Sprintf("%s/key/%s/%s", t.baseURL, table, id)
}

func (t *StatelessTransport) restDo(ctx context.Context, method, path string, body interface{}) (interface{}, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := t.codec.Encode(body)
		if err != nil {
			return nil, errs.Wrap(errs.KindConnection, "encoding rest body", err)
		}
		reader = bytes.NewReader(encoded)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, path, reader)
	if err != nil {
		return nil, errs.Wrap(errs.KindConnection, "building rest request", err)
	}
	t.applyHeaders(httpReq)

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, errs.Wrap(errs.KindConnection, "rest call failed", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.Wrap(errs.KindConnection, "reading rest response", err)
	}
	if resp.StatusCode >= 400 {
		return nil, errs.Newf(errs.KindQuery, "rest %s %s: status %d: %s", method, path, resp.StatusCode, string(data))
	}
	if len(data) == 0 {
		return nil, nil
	}
	var out interface{}
	if err := t.codec.Decode(data, &out); err != nil {
		return nil, errs.Wrap(errs.KindConnection, "decoding rest response", err)
	}
	return out, nil
}

func (t *StatelessTransport) RESTGet(ctx context.Context, table, id string) (interface{}, error) {
	return t.restDo(ctx, http.MethodGet, t.RESTKeyPath(table, id), nil)
}

func (t *StatelessTransport) RESTPost(ctx context.Context, table string, data interface{}) (interface{}, error) {
	return t.restDo(ctx, http.MethodPost, t.RESTKeyPath(table, ""), data)
}

func (t *StatelessTransport) RESTPut(ctx context.Context, table, id string, data interface{}) (interface{}, error) {
	return t.restDo(ctx, http.MethodPut, t.RESTKeyPath(table, id), data)
}

func (t *StatelessTransport) RESTPatch(ctx context.Context, table, id string, data interface{}) (interface{}, error) {
	return t.restDo(ctx, http.MethodPatch, t.RESTKeyPath(table, id), data)
}

func (t *StatelessTransport) RESTDelete(ctx context.Context, table, id string) (interface{}, error) {
	return t.restDo(ctx, http.MethodDelete, t.RESTKeyPath(table, id), nil)
}
