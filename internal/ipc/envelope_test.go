package ipc

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stringPayload string

func (stringPayload) Kind() Kind { return "TestPayload" }
func (stringPayload) Topic() Topic { return TopicConsensus }

func newTestValidator(t *testing.T, ourID SubsystemID) (*Validator, *MasterKeyProvider, *clock.Mock) {
	t.Helper()
	clk := clock.NewMock()
	clk.Set(time.Unix(1_700_000_000, 0))
	keys, err := NewMasterKeyProvider([]byte("test-master-secret"))
	require.NoError(t, err)
	nonces := NewNonceCache(clk, 1024, MaxClockSkewPast)
	return NewValidator(ourID, keys, nonces, clk, ValidatorConfig{}), keys, clk
}

func sealTest(t *testing.T, clk clock.Clock, keys KeyProvider, sender, recipient SubsystemID) Envelope[EventPayload] {
	t.Helper()
	env, err := Seal(clk, keys, sender, recipient, nil, EventPayload(stringPayload("hello")))
	require.NoError(t, err)
	return env
}

func TestValidate_Accepts(t *testing.T) {
	v, keys, clk := newTestValidator(t, SubsystemBlockStorage)
	env := sealTest(t, clk, keys, SubsystemConsensus, SubsystemBlockStorage)
	assert.NoError(t, v.Validate(env.Header))
}

func TestValidate_UnsupportedVersion(t *testing.T) {
	v, keys, clk := newTestValidator(t, SubsystemBlockStorage)
	env := sealTest(t, clk, keys, SubsystemConsensus, SubsystemBlockStorage)
	env.Version = MaxSupportedVersion + 1
	assert.ErrorIs(t, v.Validate(env.Header), ErrUnsupportedVersion)
}

func TestValidate_WrongRecipient(t *testing.T) {
	v, keys, clk := newTestValidator(t, SubsystemBlockStorage)
	env := sealTest(t, clk, keys, SubsystemConsensus, SubsystemMempool)
	assert.ErrorIs(t, v.Validate(env.Header), ErrWrongRecipient)
}

func TestValidate_TimestampWindowBoundaries(t *testing.T) {
	cases := []struct {
		name   string
		offset time.Duration
		want   error
	}{
		{"sixty seconds old is accepted", -60 * time.Second, nil},
		{"sixty-one seconds old is expired", -61 * time.Second, ErrMessageExpired},
		{"ten seconds ahead is accepted", 10 * time.Second, nil},
		{"eleven seconds ahead is from the future", 11 * time.Second, ErrMessageFromFuture},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v, keys, clk := newTestValidator(t, SubsystemBlockStorage)
			env := sealTest(t, clk, keys, SubsystemConsensus, SubsystemBlockStorage)
			env.Timestamp = clk.Now().Add(tc.offset).Unix()
			key, err := keys.SenderKey(SubsystemConsensus)
			require.NoError(t, err)
			env.MAC = ComputeMAC(key, env.Header)
			if tc.want == nil {
				assert.NoError(t, v.Validate(env.Header))
			} else {
				assert.ErrorIs(t, v.Validate(env.Header), tc.want)
			}
		})
	}
}

func TestValidate_NonceReused(t *testing.T) {
	v, keys, clk := newTestValidator(t, SubsystemBlockStorage)
	env := sealTest(t, clk, keys, SubsystemConsensus, SubsystemBlockStorage)
	require.NoError(t, v.Validate(env.Header))
	assert.ErrorIs(t, v.Validate(env.Header), ErrNonceReused)
}

func TestValidate_InvalidSignature(t *testing.T) {
	v, keys, clk := newTestValidator(t, SubsystemBlockStorage)
	env := sealTest(t, clk, keys, SubsystemConsensus, SubsystemBlockStorage)
	env.MAC[0] ^= 0xFF
	assert.ErrorIs(t, v.Validate(env.Header), ErrInvalidSignature)
}

func TestValidate_TamperedFieldBreaksMAC(t *testing.T) {
	v, keys, clk := newTestValidator(t, SubsystemBlockStorage)
	env := sealTest(t, clk, keys, SubsystemConsensus, SubsystemBlockStorage)
	// Claiming a different sender invalidates the MAC twice over: the
	// canonical bytes change and the key lookup resolves a different key.
	env.SenderID = SubsystemFinality
	assert.ErrorIs(t, v.Validate(env.Header), ErrInvalidSignature)
}

func TestValidate_ReplyToMismatch(t *testing.T) {
	v, keys, clk := newTestValidator(t, SubsystemBlockStorage)
	replyTo := &ReplyTo{Subsystem: SubsystemFinality, Topic: "replies"}
	env, err := Seal(clk, keys, SubsystemConsensus, SubsystemBlockStorage, replyTo, EventPayload(stringPayload("x")))
	require.NoError(t, err)
	assert.ErrorIs(t, v.Validate(env.Header), ErrReplyToMismatch)
}

func TestValidate_ReplyToMatchingSender(t *testing.T) {
	v, keys, clk := newTestValidator(t, SubsystemBlockStorage)
	replyTo := &ReplyTo{Subsystem: SubsystemConsensus, Topic: "replies"}
	env, err := Seal(clk, keys, SubsystemConsensus, SubsystemBlockStorage, replyTo, EventPayload(stringPayload("x")))
	require.NoError(t, err)
	assert.NoError(t, v.Validate(env.Header))
}

func TestValidate_ZeroMACOnlyInTestMode(t *testing.T) {
	clk := clock.NewMock()
	clk.Set(time.Unix(1_700_000_000, 0))
	keys, err := NewMasterKeyProvider([]byte("test-master-secret"))
	require.NoError(t, err)

	env := sealTest(t, clk, keys, SubsystemConsensus, SubsystemBlockStorage)
	env.MAC = [MACSize]byte{}

	strict := NewValidator(SubsystemBlockStorage, keys, NewNonceCache(clk, 1024, MaxClockSkewPast), clk, ValidatorConfig{})
	assert.ErrorIs(t, strict.Validate(env.Header), ErrInvalidSignature)

	permissive := NewValidator(SubsystemBlockStorage, keys, NewNonceCache(clk, 1024, MaxClockSkewPast), clk, ValidatorConfig{AllowZeroMAC: true})
	assert.NoError(t, permissive.Validate(env.Header))
}

func TestValidateInbound_AcceptsBroadcast(t *testing.T) {
	v, keys, clk := newTestValidator(t, SubsystemBlockStorage)
	env := sealTest(t, clk, keys, SubsystemConsensus, BroadcastRecipient)
	assert.ErrorIs(t, v.Validate(env.Header), ErrWrongRecipient)

	env = sealTest(t, clk, keys, SubsystemConsensus, BroadcastRecipient)
	assert.NoError(t, v.ValidateInbound(env.Header))
}

func TestValidateSender(t *testing.T) {
	allowed := []SubsystemID{SubsystemConsensus, SubsystemBlockStorage}
	assert.NoError(t, ValidateSender(SubsystemConsensus, allowed))
	assert.ErrorIs(t, ValidateSender(SubsystemFinality, allowed), ErrUnauthorizedSender)
	assert.ErrorIs(t, ValidateSender(SubsystemFinality, nil), ErrUnauthorizedSender)
}

func TestAuthorizationMatrix(t *testing.T) {
	RegisterAuthorization("matrix-test-kind", SubsystemConsensus)
	assert.NoError(t, Authorize(SubsystemConsensus, "matrix-test-kind"))
	assert.ErrorIs(t, Authorize(SubsystemMempool, "matrix-test-kind"), ErrUnauthorizedSender)
	assert.ErrorIs(t, Authorize(SubsystemMempool, "never-registered"), ErrUnauthorizedSender)
}

func TestMasterKeyProvider_PerSenderKeys(t *testing.T) {
	keys, err := NewMasterKeyProvider([]byte("secret"))
	require.NoError(t, err)
	k1, err := keys.SenderKey(SubsystemConsensus)
	require.NoError(t, err)
	k2, err := keys.SenderKey(SubsystemMempool)
	require.NoError(t, err)
	assert.NotEqual(t, k1, k2)

	again, err := keys.SenderKey(SubsystemConsensus)
	require.NoError(t, err)
	assert.Equal(t, k1, again)

	_, err = NewMasterKeyProvider(nil)
	assert.ErrorIs(t, err, ErrEmptyMasterSecret)
}
