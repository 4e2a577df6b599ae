package service

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptrace"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	PathLogin    = "/api/v1/auth/login"
	PathRegister = "/api/v1/auth/register"
	PathRefresh  = "/api/v1/auth/refresh"
	PathLogout   = "/api/v1/auth/logout"
	PathMe       = "/api/v1/users/me"
)

type verdict int

const (
	verdictDone verdict = iota
	verdictRefresh
	verdictTerminal
)

// attempt is the per-call state threaded through the pipeline stages.
type attempt struct {
	req       Request
	body      []byte
	requestID string
	token     string
	retried   bool
	grant     *FreshCredential
}

// Pipeline wraps every upstream call. Stages run in a fixed order:
// attach, dispatch, classify, and at most one refresh-and-retry.
type Pipeline struct {
	transport   *transport
	store       *SessionStore
	coordinator *RefreshCoordinator
	public      map[string]struct{}
	log         *zap.SugaredLogger
}

func NewPipeline(baseURL string, client Doer, store *SessionStore, coordinator *RefreshCoordinator, log *zap.SugaredLogger) *Pipeline {
	return &Pipeline{
		transport:   newTransport(baseURL, client),
		store:       store,
		coordinator: coordinator,
		public: map[string]struct{}{
			PathLogin:    {},
			PathRegister: {},
			PathRefresh:  {},
		},
		log: log,
	}
}

// Do sends req with the current credential. An expired credential is
// refreshed and the call replayed once; every other outcome is returned as is.
func (p *Pipeline) Do(ctx context.Context, req Request) (*Response, error) {
	body, err := encodeBody(req.Body)
	if err != nil {
		return nil, err
	}
	a := &attempt{req: req, body: body, requestID: uuid.NewString()}

	for {
		p.attach(a)
		resp, err := p.dispatch(ctx, a)

		switch p.classify(a, err) {
		case verdictDone:
			return resp, err
		case verdictTerminal:
			p.log.Warnw("Refresh endpoint rejected credentials", "request_id", a.requestID)
			if clearErr := p.store.clear(ctx, ReasonRefreshRejected); clearErr != nil {
				p.log.Warnw("Session clear incomplete", "error", clearErr)
			}
			return nil, &RefreshError{Err: err}
		}

		a.retried = true
		grant, err := p.coordinator.ObtainFreshCredential(ctx, a.token)
		if err != nil {
			return nil, err
		}
		a.grant = grant
		p.log.Debugw("Replaying request with fresh credential", "request_id", a.requestID, "method", a.req.Method, "path", a.req.Path)
	}
}

func (p *Pipeline) isPublic(path string) bool {
	_, ok := p.public[path]
	return ok
}

// attach picks the credential for this attempt: the granted one on a replay,
// otherwise whatever the session holds now.
func (p *Pipeline) attach(a *attempt) {
	switch {
	case p.isPublic(a.req.Path):
		a.token = ""
	case a.grant != nil:
		a.token = a.grant.AccessToken
	default:
		a.token = p.store.Read().AccessToken()
	}
}

func (p *Pipeline) dispatch(ctx context.Context, a *attempt) (*Response, error) {
	header := a.req.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Del(HeaderAuthorization)
	if a.token != "" {
		header.Set(HeaderAuthorization, bearerPrefix+a.token)
	}
	header.Set(HeaderRequestID, a.requestID)

	if a.grant != nil {
		if err := a.grant.AwaitTurn(ctx); err != nil {
			return nil, err
		}
		defer a.grant.Dispatched()
		ctx = httptrace.WithClientTrace(ctx, &httptrace.ClientTrace{
			WroteRequest: func(httptrace.WroteRequestInfo) { a.grant.Dispatched() },
		})
	}

	resp, err := p.transport.roundTrip(ctx, a.req.Method, a.req.Path, a.req.Query, header, a.body)
	if err != nil {
		return nil, err
	}
	if !successful(resp.StatusCode) {
		return nil, &APIError{
			Method:       a.req.Method,
			Path:         a.req.Path,
			StatusCode:   resp.StatusCode,
			Detail:       apiDetail(resp.Body),
			Body:         resp.Body,
			credentialed: a.token != "",
		}
	}
	return resp, nil
}

func (p *Pipeline) classify(a *attempt, err error) verdict {
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		return verdictDone
	}
	switch {
	case a.req.Path == PathRefresh:
		return verdictTerminal
	case !apiErr.IsExpiry(), a.retried:
		return verdictDone
	default:
		return verdictRefresh
	}
}
