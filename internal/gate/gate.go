// Package gate decides whether a signed-in user may enter the members area.
// Every failure to obtain an answer denies entry.
package gate

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/smallbiznis/devhub/internal/domain"
)

// State is what the caller should render.
type State int

const (
	StateLoading State = iota
	StateRedirectAuth
	StateNoAccess
	StateAdmitted
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateRedirectAuth:
		return "redirect_auth"
	case StateNoAccess:
		return "no_access"
	case StateAdmitted:
		return "admitted"
	default:
		return "unknown"
	}
}

// Session is the identity-provider session of the visitor.
type Session struct {
	UserID      string
	AccessToken string
}

// Checker resolves access for a bearer token.
type Checker interface {
	CheckAccess(ctx context.Context, token string) (Access, error)
}

// Fallback reads the purchase flag directly from the store. It is only
// consulted in development when the API is unreachable.
type Fallback interface {
	DirectAccess(ctx context.Context, session Session) (bool, error)
}

// Decision is the outcome of one admission check.
type Decision struct {
	State  State
	Access Access
	// Degraded is set when the answer came from the development fallback and
	// the caller must show a warning banner.
	Degraded    bool
	PurchaseURL string
	// CanRecheck is set on denials; Recheck simply asks again.
	CanRecheck bool
	Err        error
}

// Admitted reports whether the visitor may enter.
func (d Decision) Admitted() bool {
	return d.State == StateAdmitted
}

// Gate runs admission checks.
type Gate struct {
	checker     Checker
	fallback    Fallback
	purchaseURL string
	logger      *zap.Logger
}

// Option configures a Gate.
type Option func(*Gate)

// WithDevFallback installs f only when environment is "development".
func WithDevFallback(environment string, f Fallback) Option {
	return func(g *Gate) {
		if environment != "development" {
			g.log().Warn("direct store fallback ignored outside development", zap.String("environment", environment))
			return
		}
		g.fallback = f
	}
}

// WithPurchaseURL sets the checkout link offered on denial.
func WithPurchaseURL(url string) Option {
	return func(g *Gate) { g.purchaseURL = url }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(g *Gate) { g.logger = logger }
}

func New(checker Checker, opts ...Option) *Gate {
	g := &Gate{checker: checker}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Enter evaluates session. observe, when non-nil, receives StateLoading before
// the check starts and the final state once it is known.
func (g *Gate) Enter(ctx context.Context, session *Session, observe func(State)) Decision {
	emit := func(s State) {
		if observe != nil {
			observe(s)
		}
	}

	if session == nil || session.AccessToken == "" {
		emit(StateRedirectAuth)
		return Decision{State: StateRedirectAuth}
	}

	emit(StateLoading)
	decision := g.decide(ctx, *session)
	if decision.State == StateNoAccess {
		decision.PurchaseURL = g.purchaseURL
		decision.CanRecheck = true
	}
	emit(decision.State)
	return decision
}

// Recheck re-runs the admission check, e.g. after the visitor completed a purchase.
func (g *Gate) Recheck(ctx context.Context, session *Session, observe func(State)) Decision {
	return g.Enter(ctx, session, observe)
}

func (g *Gate) decide(ctx context.Context, session Session) (decision Decision) {
	defer func() {
		if r := recover(); r != nil {
			g.log().Error("access check panicked", zap.Any("panic", r))
			decision = Decision{State: StateNoAccess, Err: errors.New("gate: access check panicked")}
		}
	}()

	access, err := g.checker.CheckAccess(ctx, session.AccessToken)
	if err == nil {
		if access.HasAccess {
			return Decision{State: StateAdmitted, Access: access}
		}
		return Decision{State: StateNoAccess, Access: access}
	}

	if errors.Is(err, ErrBackendUnavailable) && g.fallback != nil {
		return g.fallbackDecision(ctx, session, err)
	}

	if errors.Is(err, domain.ErrUnauthenticated) {
		g.log().Info("access check rejected session", zap.Error(err))
	} else {
		g.log().Error("access check failed; denying", zap.Error(err))
	}
	return Decision{State: StateNoAccess, Err: err}
}

func (g *Gate) fallbackDecision(ctx context.Context, session Session, cause error) Decision {
	g.log().Warn("backend unavailable; using direct store fallback", zap.Error(cause))
	purchased, err := g.fallback.DirectAccess(ctx, session)
	if err != nil {
		g.log().Error("direct store fallback failed; denying", zap.Error(err))
		return Decision{State: StateNoAccess, Degraded: true, Err: errors.Join(cause, err)}
	}
	access := Access{HasAccess: purchased, HasPurchased: purchased}
	if purchased {
		return Decision{State: StateAdmitted, Access: access, Degraded: true}
	}
	return Decision{State: StateNoAccess, Access: access, Degraded: true}
}

func (g *Gate) log() *zap.Logger {
	if g != nil && g.logger != nil {
		return g.logger
	}
	return zap.L()
}

// RecordReader reads an entitlement row with the user's own credentials.
type RecordReader interface {
	GetAsUser(ctx context.Context, token, id string) (domain.UserRecord, error)
}

// StoreFallback implements Fallback over a RecordReader.
type StoreFallback struct {
	Reader RecordReader
}

// DirectAccess reports the stored purchase flag for the session's user.
func (f StoreFallback) DirectAccess(ctx context.Context, session Session) (bool, error) {
	if session.UserID == "" {
		return false, errors.New("gate: fallback needs the session user id")
	}
	rec, err := f.Reader.GetAsUser(ctx, session.AccessToken, session.UserID)
	if err != nil {
		return false, err
	}
	return rec.HasPurchased, nil
}
