package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/dmehra2102/course-payments/internal/payment/domain"
	"github.com/dmehra2102/course-payments/pkg/config"
)

func Sign(secret, msg []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(msg)
	return hex.EncodeToString(mac.Sum(nil))
}

// Valid recomputes the HMAC and compares it in constant time. A received value
// that is not a full-length hex digest is never valid.
func Valid(secret, msg []byte, received string) bool {
	got, err := hex.DecodeString(strings.TrimSpace(received))
	if err != nil || len(got) != sha256.Size {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(msg)
	return hmac.Equal(mac.Sum(nil), got)
}

type Config struct {
	Secret      []byte
	Format      Format
	Environment string
	// SkipVerification accepts every delivery unverified. Refused in production.
	SkipVerification bool
	// MaxSkew rejects timestamps further than this from now. Zero disables the check.
	MaxSkew time.Duration
}

type Verifier struct {
	log     *slog.Logger
	gateway string
	secret  []byte
	format  Format
	skip    bool
	maxSkew time.Duration
	now     func() time.Time
}

func NewVerifier(log *slog.Logger, gateway string, cfg Config) (*Verifier, error) {
	format, err := ParseFormat(string(cfg.Format))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfiguration, err)
	}
	if cfg.SkipVerification && config.IsProduction(cfg.Environment) {
		return nil, fmt.Errorf("%w: signature verification cannot be skipped in production (gateway %s)", domain.ErrConfiguration, gateway)
	}

	v := &Verifier{
		log:     log,
		gateway: gateway,
		secret:  cfg.Secret,
		format:  format,
		skip:    cfg.SkipVerification,
		maxSkew: cfg.MaxSkew,
		now:     time.Now,
	}
	switch {
	case v.skip:
		log.Warn("webhook signature verification DISABLED", "gateway", gateway, "env", cfg.Environment)
	case len(v.secret) == 0:
		log.Error("webhook secret not configured, every delivery will be rejected", "gateway", gateway)
	}
	return v, nil
}

func (v *Verifier) Format() Format { return v.format }

// CoversBody reports whether a valid signature also vouches for the body.
// When it does not, only the values that went into the manifest can be trusted.
func (v *Verifier) CoversBody() bool { return v.format.CoversBody() }

func (v *Verifier) Verify(m Message, signatures ...string) error {
	if v.skip {
		v.log.Warn("webhook signature NOT verified (skip mode)", "gateway", v.gateway, "ts", m.Timestamp, "request_id", m.RequestID)
		return nil
	}
	if len(v.secret) == 0 {
		return fmt.Errorf("%w: no secret for gateway %s", domain.ErrConfiguration, v.gateway)
	}
	if len(signatures) == 0 {
		return fmt.Errorf("%w: missing signature", domain.ErrInvalidSignature)
	}
	if err := v.checkSkew(m.Timestamp); err != nil {
		return err
	}

	msg, err := Canonical(v.format, m)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrConfiguration, err)
	}
	ok := false
	for _, s := range signatures {
		// every candidate is checked, a match does not end the loop early
		if Valid(v.secret, msg, s) {
			ok = true
		}
	}
	if !ok {
		return domain.ErrInvalidSignature
	}
	return nil
}

func (v *Verifier) checkSkew(ts string) error {
	if v.maxSkew <= 0 {
		return nil
	}
	n, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: unparseable timestamp %q", domain.ErrInvalidSignature, ts)
	}
	var at time.Time
	if n > 1e12 {
		at = time.UnixMilli(n)
	} else {
		at = time.Unix(n, 0)
	}
	d := v.now().Sub(at)
	if d < 0 {
		d = -d
	}
	if d > v.maxSkew {
		return fmt.Errorf("%w: timestamp outside allowed skew", domain.ErrInvalidSignature)
	}
	return nil
}
