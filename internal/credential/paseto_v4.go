package credential

import (
	"strings"
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

// Claims is the verified content of a session credential.
type Claims struct {
	SessionID string
	TenantID  string
	JobID     string
	Subject   string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Issuer    string
}

// IssueInput describes who a credential is minted for.
type IssueInput struct {
	SessionID string
	TenantID  string
	JobID     string
	Subject   string
}

// Manager issues and verifies short-lived session credentials.
// Credentials are stateless: verification is signature + claims only,
// nothing is persisted server-side.
type Manager interface {
	Issue(in IssueInput, now time.Time) (token string, exp time.Time, err error)
	Verify(token string, now time.Time) (Claims, error)
	PublicKeyHex() string
}

type pasetoV4PublicManager struct {
	issuer    string
	ttl       time.Duration
	clockSkew time.Duration

	secret paseto.V4AsymmetricSecretKey
	public paseto.V4AsymmetricPublicKey
}

// NewPasetoV4PublicManager builds a Manager based on PASETO v4.public.
//
// It uses an Ed25519 asymmetric keypair and enforces issuer and expiration
// rules. Expiry is checked explicitly so callers can distinguish an expired
// credential from a forged one.
func NewPasetoV4PublicManager(cfg Config) (Manager, error) {
	secret, err := paseto.NewV4AsymmetricSecretKeyFromHex(cfg.PasetoV4SecretKeyHex)
	if err != nil {
		return nil, ErrConfig
	}

	ttl := cfg.TTL
	if ttl < minTTL {
		ttl = minTTL
	}
	if ttl > maxTTL {
		ttl = maxTTL
	}

	return &pasetoV4PublicManager{
		issuer:    cfg.Issuer,
		ttl:       ttl,
		clockSkew: cfg.ClockSkew,
		secret:    secret,
		public:    secret.Public(),
	}, nil
}

func (m *pasetoV4PublicManager) PublicKeyHex() string {
	return m.public.ExportHex()
}

func (m *pasetoV4PublicManager) Issue(in IssueInput, now time.Time) (string, time.Time, error) {
	if strings.TrimSpace(in.SessionID) == "" || strings.TrimSpace(in.Subject) == "" {
		return "", time.Time{}, ErrInvalid
	}

	exp := now.Add(m.ttl)

	tok := paseto.NewToken()
	tok.SetIssuer(m.issuer)
	tok.SetIssuedAt(now)
	tok.SetNotBefore(now)
	tok.SetExpiration(exp)

	_ = tok.Set("sid", in.SessionID)
	_ = tok.Set("tid", in.TenantID)
	_ = tok.Set("jid", in.JobID)
	_ = tok.Set("sub", in.Subject)

	return tok.V4Sign(m.secret, nil), exp, nil
}

func (m *pasetoV4PublicManager) Verify(token string, now time.Time) (Claims, error) {
	// Expiry is validated manually below; the parser only checks signature
	// and issuer so an expired-but-genuine credential maps to ErrExpired.
	// NewParser's default rule set would reject expired tokens against the
	// real clock before the check below could run.
	p := paseto.NewParserWithoutExpiryCheck()
	p.AddRule(paseto.IssuedBy(m.issuer))

	parsed, err := p.ParseV4Public(m.public, token, nil)
	if err != nil {
		return Claims{}, ErrInvalid
	}

	exp, err := parsed.GetExpiration()
	if err != nil {
		return Claims{}, ErrInvalid
	}
	iat, _ := parsed.GetIssuedAt()
	iss, _ := parsed.GetIssuer()

	sid, err := parsed.GetString("sid")
	if err != nil || sid == "" {
		return Claims{}, ErrInvalid
	}
	sub, err := parsed.GetString("sub")
	if err != nil || sub == "" {
		return Claims{}, ErrInvalid
	}
	tid, _ := parsed.GetString("tid")
	jid, _ := parsed.GetString("jid")

	// Skew is subtracted so a slightly slow client clock doesn't reject a
	// freshly-minted credential; expiry itself remains non-negotiable.
	if !exp.After(now.Add(-m.clockSkew)) {
		return Claims{}, ErrExpired
	}

	return Claims{
		SessionID: sid,
		TenantID:  tid,
		JobID:     jid,
		Subject:   sub,
		IssuedAt:  iat,
		ExpiresAt: exp,
		Issuer:    iss,
	}, nil
}
