// Package authzproxy rewrites authorization queries arriving from the
// event, conference and storage collaborators into canonical
// classroom-rooted form before forwarding them to the authz decision
// service. Callers keep their own object vocabulary: the proxy maps room
// and set identifiers onto the classroom identity, asks the decision
// service about the canonical object, and translates the permitted-action
// list back into the caller's original action before returning.
package authzproxy

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/foxford/dispatchd/internal/apperr"
	"github.com/foxford/dispatchd/internal/clients"
	"github.com/foxford/dispatchd/internal/models"
)

// Subject identifies the agent the query is about. Its value shape differs
// between authz protocol generations, so it is carried opaquely.
type Subject struct {
	Namespace string          `json:"namespace"`
	Value     json.RawMessage `json:"value"`
}

// Object names the thing access is requested to, as a namespaced path.
type Object struct {
	Namespace string   `json:"namespace"`
	Value     []string `json:"value"`
}

// Request is one authz query as received from a collaborator and as
// forwarded to the decision service.
type Request struct {
	Subject Subject `json:"subject"`
	Object  Object  `json:"object"`
	Action  string  `json:"action"`
}

// Caller identifies the collaborator submitting the query, parsed from the
// bearer subject "<label>.<audience>".
type Caller struct {
	Label    string
	Audience string
}

// ParseCaller splits an account id into its service label and audience.
func ParseCaller(account string) Caller {
	label, audience, _ := strings.Cut(account, ".")
	return Caller{Label: label, Audience: audience}
}

// ClassFinder is the identity-resolution slice of the persistence model.
type ClassFinder interface {
	FindByAnyRoom(ctx context.Context, roomID string) (*models.Class, error)
	FindByEventRoom(ctx context.Context, roomID string) (*models.Class, error)
	FindByScope(ctx context.Context, audience, scope string) (*models.Class, error)
	FindRecordingByRtc(ctx context.Context, rtcID uuid.UUID) (*models.Recording, error)
}

// Decider forwards a (rewritten) query to the authz decision service and
// returns the list of permitted actions on the object.
type Decider interface {
	Authorize(ctx context.Context, audience string, req Request) ([]string, error)
}

// Proxy implements the rewrite/substitute/forward/restore flow.
type Proxy struct {
	finder     ClassFinder
	decider    Decider
	audience   string // trusted audience collaborators must belong to
	accountID  string // the dispatcher's own account id, used as the canonical namespace
	retryDelay time.Duration
	logger     *zap.Logger
}

// New builds a Proxy.
func New(finder ClassFinder, decider Decider, trustedAudience, accountID string, retryDelay time.Duration, logger *zap.Logger) *Proxy {
	return &Proxy{
		finder:     finder,
		decider:    decider,
		audience:   trustedAudience,
		accountID:  accountID,
		retryDelay: retryDelay,
		logger:     logger,
	}
}

// storage set ids that are proxied onto the classroom identity
var mediaBucketPrefixes = []string{"hls.", "origin.", "ms.", "meta."}

// Authorize validates the caller, rewrites the query, substitutes the
// classroom identity and forwards it. The returned slice contains the
// caller's original action when the decision service permits the canonical
// one, and is empty otherwise.
func (p *Proxy) Authorize(ctx context.Context, caller Caller, requestAudience string, req Request) ([]string, error) {
	if !p.trusted(caller) {
		return nil, apperr.Newf(apperr.KindAccessDenied, "caller %s.%s is not a trusted collaborator", caller.Label, caller.Audience)
	}

	originalAction := req.Action
	p.rewrite(caller.Label, &req)

	if err := p.substituteClass(ctx, caller.Label, &req); err != nil {
		return nil, err
	}

	permitted, err := clients.SingleRetry(ctx, p.retryDelay, func(ctx context.Context) ([]string, error) {
		return p.decider.Authorize(ctx, requestAudience, req)
	})
	if err != nil {
		return nil, apperr.New(apperr.KindAuthorizationFailed, err)
	}

	for _, action := range permitted {
		if action == req.Action {
			return []string{originalAction}, nil
		}
	}
	return []string{}, nil
}

func (p *Proxy) trusted(caller Caller) bool {
	switch caller.Label {
	case "event", "conference", "storage":
	default:
		return false
	}
	audience, _, _ := strings.Cut(caller.Audience, ":")
	return audience == p.audience
}

func (p *Proxy) rewrite(label string, req *Request) {
	switch label {
	case "event":
		rewriteEvent(req)
	case "conference":
		rewriteConference(req)
	case "storage":
		rewriteStorage(req)
	}
}

// rewriteEvent:
//
//	[rooms, RID, agents] list      => [rooms, RID] read
//	[rooms, RID, events] list      => [rooms, RID] read
//	[rooms, RID, events] subscribe => [rooms, RID] read
func rewriteEvent(req *Request) {
	v := req.Object.Value
	if len(v) == 0 || v[0] != "rooms" {
		return
	}
	if len(v) == 3 {
		switch {
		case req.Action == "list" && v[2] == "agents",
			req.Action == "list" && v[2] == "events",
			req.Action == "subscribe" && v[2] == "events":
			req.Action = "read"
			req.Object.Value = v[:2]
		}
	}
}

// rewriteConference:
//
//	[rooms, RID, agents] list      => [rooms, RID] read
//	[rooms, RID, rtcs] list        => [rooms, RID] read
//	[rooms, RID, rtcs, _] read     => [rooms, RID] read
//	[rooms, RID, events] subscribe => [rooms, RID] read
func rewriteConference(req *Request) {
	v := req.Object.Value
	if len(v) == 0 || v[0] != "rooms" {
		return
	}
	switch {
	case len(v) == 3 && req.Action == "list" && (v[2] == "agents" || v[2] == "rtcs"):
		req.Action = "read"
		req.Object.Value = v[:2]
	case len(v) == 4 && req.Action == "read" && v[2] == "rtcs":
		req.Object.Value = v[:2]
	case len(v) == 3 && req.Action == "subscribe" && v[2] == "events":
		req.Action = "read"
		req.Object.Value = v[:2]
	}
}

// rewriteStorage:
//
//	[sets, origin.*]           any                   => [sets, SID] upload
//	[sets, ms.*]               any                   => [sets, SID] download
//	[sets, (meta|hls|content).*, _] read             => [sets, SID] read
//	[sets, content.*]          create|delete|update  => [sets, SID, content] update
func rewriteStorage(req *Request) {
	v := req.Object.Value
	if len(v) == 0 || v[0] != "sets" {
		return
	}
	switch {
	case len(v) == 2 && strings.HasPrefix(v[1], "origin."):
		req.Action = "upload"
	case len(v) == 2 && strings.HasPrefix(v[1], "ms."):
		req.Action = "download"
	case len(v) == 3 && req.Action == "read" &&
		(strings.HasPrefix(v[1], "meta.") || strings.HasPrefix(v[1], "hls.") || strings.HasPrefix(v[1], "content.")):
		req.Object.Value = v[:2]
	case len(v) == 2 && strings.HasPrefix(v[1], "content.") &&
		(req.Action == "create" || req.Action == "delete" || req.Action == "update"):
		req.Action = "update"
		req.Object.Value = append(v[:2:2], "content")
	}
}

// substituteClass replaces a rooms/RID or sets/SID object with
// [classrooms, CLASS_ID] under the dispatcher's namespace when the
// identifier resolves to a known class. An identifier that fails to parse
// or does not resolve leaves the (already rewritten) object as is.
func (p *Proxy) substituteClass(ctx context.Context, label string, req *Request) error {
	v := req.Object.Value
	if len(v) < 2 {
		return nil
	}
	switch v[0] {
	case "rooms":
		if label != "event" && label != "conference" {
			return nil
		}
		cls, err := p.finder.FindByAnyRoom(ctx, v[1])
		if err != nil {
			if notFound(err) {
				return nil
			}
			return err
		}
		p.canonicalize(req, cls.ID.String())
	case "sets":
		if label != "storage" {
			return nil
		}
		classID, err := p.resolveSet(ctx, v[1])
		if err != nil {
			if notFound(err) {
				return nil
			}
			return err
		}
		if classID == "" {
			return nil
		}
		p.canonicalize(req, classID)
	case "classrooms":
		req.Object.Namespace = p.accountID
	}
	return nil
}

func (p *Proxy) canonicalize(req *Request, classID string) {
	rest := req.Object.Value[2:]
	value := append([]string{"classrooms", classID}, rest...)
	req.Object.Value = value
	req.Object.Namespace = p.accountID
}

// resolveSet maps a storage set id onto a class id, or returns "" when the
// set id shape is not one the proxy knows how to resolve.
func (p *Proxy) resolveSet(ctx context.Context, setID string) (string, error) {
	switch {
	case strings.HasPrefix(setID, "content."):
		audience, scope, ok := extractAudienceAndScope(setID)
		if !ok {
			return "", nil
		}
		cls, err := p.finder.FindByScope(ctx, audience, scope)
		if err != nil {
			return "", err
		}
		return cls.ID.String(), nil

	case strings.HasPrefix(setID, "eventsdump."):
		roomID, ok := afterSeparator(setID)
		if !ok {
			return "", nil
		}
		cls, err := p.finder.FindByEventRoom(ctx, roomID)
		if err != nil {
			return "", err
		}
		return cls.ID.String(), nil

	case hasMediaBucketPrefix(setID):
		if strings.Contains(setID, "minigroup") {
			audience, scope, ok := extractAudienceAndScope(setID)
			if !ok {
				return "", nil
			}
			cls, err := p.finder.FindByScope(ctx, audience, scope)
			if err != nil {
				return "", err
			}
			return cls.ID.String(), nil
		}
		raw, ok := afterSeparator(setID)
		if !ok {
			return "", nil
		}
		rtcID, err := uuid.Parse(raw)
		if err != nil {
			return "", nil
		}
		rec, err := p.finder.FindRecordingByRtc(ctx, rtcID)
		if err != nil {
			return "", err
		}
		return rec.ClassID.String(), nil
	}
	return "", nil
}

func hasMediaBucketPrefix(setID string) bool {
	for _, prefix := range mediaBucketPrefixes {
		if strings.HasPrefix(setID, prefix) {
			return true
		}
	}
	return false
}

// extractAudienceAndScope parses set ids of the form
// "<kind>.<class_type>.<audience...>::<scope>", e.g.
// "content.webinar.testing01.example.org::p2p_48wmpa".
func extractAudienceAndScope(setID string) (audience, scope string, ok bool) {
	bucket, rest, found := strings.Cut(setID, "::")
	if !found {
		return "", "", false
	}
	parts := strings.Split(bucket, ".")
	if len(parts) < 3 {
		return "", "", false
	}
	return strings.Join(parts[2:], "."), rest, true
}

func afterSeparator(setID string) (string, bool) {
	_, rest, found := strings.Cut(setID, "::")
	if !found || rest == "" {
		return "", false
	}
	return rest, true
}

func notFound(err error) bool {
	ae := apperr.As(err)
	return ae != nil && (ae.Kind == apperr.KindClassNotFound || ae.Kind == apperr.KindRecordingNotFound)
}
