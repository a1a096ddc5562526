// Package propagation carries verified identity across the internal
// service boundary. The public entry point is the only place a token
// signature or credential is checked; past it, identity travels as a
// per-call gRPC metadata attribute that internal services accept as
// authoritative.
//
// Two policies exist. PolicyPlain forwards the raw user id and holds only
// if the internal network is unreachable by untrusted parties. PolicySigned
// re-mints a short-lived signed assertion at the boundary and re-verifies
// it at each consumer, for deployments that cannot isolate that network.
package propagation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// MetadataKey is the per-call attribute carrying the resolved identity.
const MetadataKey = "x-user-id"

const assertionIssuer = "taskstream-boundary"

var (
	// ErrMissingIdentity is returned by consumers when a call arrives
	// without the identity attribute.
	ErrMissingIdentity = errors.New("propagation: missing identity metadata")
	// ErrBadAssertion is returned under PolicySigned when the attribute
	// fails verification.
	ErrBadAssertion = errors.New("propagation: invalid identity assertion")
)

// Policy selects how the identity attribute is encoded on the wire.
type Policy string

const (
	// PolicyPlain forwards the raw user id.
	PolicyPlain Policy = "plain"
	// PolicySigned forwards a short-lived HS256 assertion re-minted at
	// the boundary and re-verified at each consumer.
	PolicySigned Policy = "signed"
)

// ParsePolicy maps a configuration string to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.TrimSpace(strings.ToLower(s))) {
	case PolicyPlain, "":
		return PolicyPlain, nil
	case PolicySigned:
		return PolicySigned, nil
	default:
		return "", fmt.Errorf("propagation: unknown policy %q", s)
	}
}

type userIDContextKey struct{}

// ContextWithUser stores the resolved user id in the context.
func ContextWithUser(ctx context.Context, userID string) context.Context {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ctx
	}
	return context.WithValue(ctx, userIDContextKey{}, userID)
}

// UserIDFromContext extracts the resolved user id from the context.
func UserIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(userIDContextKey{}).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// Propagator encodes identity on outgoing internal calls and decodes it
// on incoming ones according to the configured policy.
type Propagator struct {
	policy Policy
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewPropagator constructs a Propagator. PolicySigned requires a secret;
// ttl bounds assertion lifetime and defaults to 30 seconds.
func NewPropagator(policy Policy, secret string, ttl time.Duration) (*Propagator, error) {
	if policy == PolicySigned && strings.TrimSpace(secret) == "" {
		return nil, errors.New("propagation: signed policy requires a secret")
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Propagator{
		policy: policy,
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

// Attribute encodes the user id for the wire.
func (p *Propagator) Attribute(userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", ErrMissingIdentity
	}
	if p.policy == PolicyPlain {
		return userID, nil
	}
	now := p.now().UTC()
	claims := jwt.RegisteredClaims{
		Issuer:    assertionIssuer,
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(p.ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
	if err != nil {
		return "", fmt.Errorf("sign assertion: %w", err)
	}
	return signed, nil
}

// Resolve decodes a wire attribute back into a user id.
func (p *Propagator) Resolve(value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", ErrMissingIdentity
	}
	if p.policy == PolicyPlain {
		return value, nil
	}
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(value, claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrBadAssertion
		}
		return p.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(assertionIssuer),
		jwt.WithTimeFunc(p.now))
	if err != nil || !parsed.Valid {
		return "", ErrBadAssertion
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", ErrBadAssertion
	}
	return claims.Subject, nil
}

// UnaryClientInterceptor copies the identity resolved at the boundary
// from the context into outgoing call metadata.
func (p *Propagator) UnaryClientInterceptor() grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		if userID, ok := UserIDFromContext(ctx); ok {
			attr, err := p.Attribute(userID)
			if err != nil {
				return status.Error(codes.Internal, "encode identity attribute")
			}
			ctx = metadata.AppendToOutgoingContext(ctx, MetadataKey, attr)
		}
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// UnaryServerInterceptor is the trusting-consumer side: it requires the
// identity attribute and places the user id in the handler context. It
// performs no signature check of its own under PolicyPlain.
func (p *Propagator) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		userID, err := p.userIDFromIncoming(ctx)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}
		return handler(ContextWithUser(ctx, userID), req)
	}
}

func (p *Propagator) userIDFromIncoming(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", ErrMissingIdentity
	}
	values := md.Get(MetadataKey)
	if len(values) == 0 || strings.TrimSpace(values[0]) == "" {
		return "", ErrMissingIdentity
	}
	return p.Resolve(values[0])
}
