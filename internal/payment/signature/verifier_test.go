package signature

import (
	"bytes"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmehra2102/course-payments/internal/payment/domain"
)

const exampleBody = `{"action":"payment.updated","data":{"id":"123456"},"type":"payment"}`

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestValidRoundTrip(t *testing.T) {
	cases := []struct {
		secret string
		msg    string
	}{
		{"s3cret", "hello"},
		{"s3cret", ""},
		{"", "no secret still hashes"},
		{"k", exampleBody},
		{"a much longer secret value with spaces", "1704908010POST/webhooks/mercadopago" + exampleBody},
	}
	for _, tc := range cases {
		sig := Sign([]byte(tc.secret), []byte(tc.msg))
		assert.True(t, Valid([]byte(tc.secret), []byte(tc.msg), sig), "secret=%q msg=%q", tc.secret, tc.msg)
	}
}

func TestValidRejectsTampering(t *testing.T) {
	secret := []byte("s3cret")
	msg := []byte(exampleBody)
	good := Sign(secret, msg)

	flipped := []byte(good)
	if flipped[0] == 'a' {
		flipped[0] = 'b'
	} else {
		flipped[0] = 'a'
	}

	for name, sig := range map[string]string{
		"deadbeef":      "deadbeef",
		"flipped digit": string(flipped),
		"not hex":       "zz" + good[2:],
		"empty":         "",
		"truncated":     good[:len(good)-2],
		"other secret":  Sign([]byte("other"), msg),
		"other message": Sign(secret, []byte(exampleBody+" ")),
	} {
		assert.False(t, Valid(secret, msg, sig), name)
	}
}

func TestValidAcceptsUppercaseHex(t *testing.T) {
	secret := []byte("s3cret")
	sig := Sign(secret, []byte("x"))
	assert.True(t, Valid(secret, []byte("x"), strings.ToUpper(sig)))
	assert.True(t, Valid(secret, []byte("x"), " "+sig+" "))
}

func TestCanonicalFormats(t *testing.T) {
	m := Message{
		Timestamp: "1704908010",
		Method:    "POST",
		Path:      "/webhooks/mercadopago",
		RequestID: "bb56a2f1-6aae-46ac-982e-9dcd3581d08e",
		DataID:    "ABC123",
		Body:      []byte(exampleBody),
	}

	got, err := Canonical(FormatManifest, m)
	require.NoError(t, err)
	assert.Equal(t, "id:abc123;request-id:bb56a2f1-6aae-46ac-982e-9dcd3581d08e;ts:1704908010;", string(got))

	got, err = Canonical(FormatTimestampMethodPathBody, m)
	require.NoError(t, err)
	assert.Equal(t, "1704908010POST/webhooks/mercadopago"+exampleBody, string(got))

	got, err = Canonical(FormatTimestampBody, m)
	require.NoError(t, err)
	assert.Equal(t, "1704908010"+exampleBody, string(got))

	got, err = Canonical(FormatTimestampDotBody, m)
	require.NoError(t, err)
	assert.Equal(t, "1704908010."+exampleBody, string(got))

	_, err = Canonical("bogus", m)
	assert.Error(t, err)
}

func TestCanonicalManifestOmitsMissingParts(t *testing.T) {
	got, err := Canonical(FormatManifest, Message{DataID: "42", Timestamp: "1"})
	require.NoError(t, err)
	assert.Equal(t, "id:42;ts:1;", string(got))
}

func TestCanonicalEmptyBodyIsSigned(t *testing.T) {
	got, err := Canonical(FormatTimestampBody, Message{Timestamp: "7"})
	require.NoError(t, err)
	assert.Equal(t, "7", string(got))

	got, err = Canonical(FormatTimestampDotBody, Message{Timestamp: "7", Body: []byte{}})
	require.NoError(t, err)
	assert.Equal(t, "7.", string(got))
}

func TestParseHeader(t *testing.T) {
	ts, sigs := ParseHeader("ts=1704908010,v1=618c85345248dd820d5fd456117c2ab2ef8eda45a0282ff693eac24131a5e839")
	assert.Equal(t, "1704908010", ts)
	assert.Equal(t, []string{"618c85345248dd820d5fd456117c2ab2ef8eda45a0282ff693eac24131a5e839"}, sigs)

	ts, sigs = ParseHeader("t=1492774577, v1=aaa, v0=old, v1=bbb")
	assert.Equal(t, "1492774577", ts)
	assert.Equal(t, []string{"aaa", "bbb"}, sigs)

	ts, sigs = ParseHeader("garbage")
	assert.Empty(t, ts)
	assert.Empty(t, sigs)
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat(" Manifest ")
	require.NoError(t, err)
	assert.Equal(t, FormatManifest, f)

	_, err = ParseFormat("timestamp+body")
	assert.Error(t, err)
}

func newVerifier(t *testing.T, cfg Config) *Verifier {
	t.Helper()
	v, err := NewVerifier(discard(), "mercadopago", cfg)
	require.NoError(t, err)
	return v
}

func TestVerifierExample(t *testing.T) {
	secret := []byte("whsec")
	v := newVerifier(t, Config{Secret: secret, Format: FormatTimestampMethodPathBody})
	m := Message{Timestamp: "1704908010", Method: "POST", Path: "/webhooks/mercadopago", Body: []byte(exampleBody)}
	msg, err := Canonical(FormatTimestampMethodPathBody, m)
	require.NoError(t, err)

	assert.NoError(t, v.Verify(m, Sign(secret, msg)))
	assert.ErrorIs(t, v.Verify(m, "deadbeef"), domain.ErrInvalidSignature)
}

func TestVerifierAnyCandidateMatches(t *testing.T) {
	secret := []byte("whsec")
	v := newVerifier(t, Config{Secret: secret, Format: FormatTimestampDotBody})
	m := Message{Timestamp: "1", Body: []byte("{}")}
	msg, _ := Canonical(FormatTimestampDotBody, m)

	assert.NoError(t, v.Verify(m, "deadbeef", Sign(secret, msg)))
}

func TestVerifierMissingSignature(t *testing.T) {
	v := newVerifier(t, Config{Secret: []byte("x"), Format: FormatManifest})
	assert.ErrorIs(t, v.Verify(Message{DataID: "1"}), domain.ErrInvalidSignature)
}

func TestVerifierFailsClosedWithoutSecret(t *testing.T) {
	v := newVerifier(t, Config{Format: FormatManifest})
	m := Message{DataID: "1", Timestamp: "1"}
	msg, _ := Canonical(FormatManifest, m)

	err := v.Verify(m, Sign(nil, msg))
	assert.ErrorIs(t, err, domain.ErrConfiguration)
	assert.NotErrorIs(t, err, domain.ErrInvalidSignature)
}

func TestVerifierSkipMode(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))

	v, err := NewVerifier(log, "mercadopago", Config{Format: FormatManifest, SkipVerification: true, Environment: "development"})
	require.NoError(t, err)
	require.NoError(t, v.Verify(Message{DataID: "1"}, "deadbeef"))

	out := buf.String()
	assert.Contains(t, out, "DISABLED")
	assert.Contains(t, out, "NOT verified")
}

func TestVerifierSkipRefusedInProduction(t *testing.T) {
	for _, env := range []string{"production", "PROD"} {
		_, err := NewVerifier(discard(), "mercadopago", Config{Secret: []byte("x"), Format: FormatManifest, SkipVerification: true, Environment: env})
		assert.ErrorIs(t, err, domain.ErrConfiguration, env)
	}
}

func TestFormatCoversBody(t *testing.T) {
	assert.False(t, FormatManifest.CoversBody())
	assert.True(t, FormatTimestampMethodPathBody.CoversBody())
	assert.True(t, FormatTimestampBody.CoversBody())
	assert.True(t, FormatTimestampDotBody.CoversBody())

	v := newVerifier(t, Config{Secret: []byte("x"), Format: FormatManifest})
	assert.False(t, v.CoversBody())
}

func TestVerifierRejectsUnknownFormat(t *testing.T) {
	_, err := NewVerifier(discard(), "mercadopago", Config{Secret: []byte("x"), Format: "ts+body"})
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestVerifierSkew(t *testing.T) {
	secret := []byte("whsec")
	now := time.Unix(1_700_000_000, 0)
	v := newVerifier(t, Config{Secret: secret, Format: FormatTimestampBody, MaxSkew: 5 * time.Minute})
	v.now = func() time.Time { return now }

	sign := func(ts string) (Message, string) {
		m := Message{Timestamp: ts, Body: []byte("{}")}
		msg, _ := Canonical(FormatTimestampBody, m)
		return m, Sign(secret, msg)
	}

	m, sig := sign(strconv.FormatInt(now.Add(-time.Minute).Unix(), 10))
	assert.NoError(t, v.Verify(m, sig))

	m, sig = sign(strconv.FormatInt(now.Add(time.Minute).UnixMilli(), 10))
	assert.NoError(t, v.Verify(m, sig))

	m, sig = sign(strconv.FormatInt(now.Add(-time.Hour).Unix(), 10))
	assert.ErrorIs(t, v.Verify(m, sig), domain.ErrInvalidSignature)

	m, sig = sign("yesterday")
	assert.ErrorIs(t, v.Verify(m, sig), domain.ErrInvalidSignature)
}
